package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"prepflow-go/internal/backup"
	"prepflow-go/internal/cloud"
	"prepflow-go/internal/lock"
	"prepflow-go/internal/logging"
	"prepflow-go/internal/metrics"
	"prepflow-go/internal/storage"
)

// Runtime is everything a PrepFlow process needs once configuration is loaded:
// the database, the backup service and the stores behind it.
type Runtime struct {
	Config   Config
	DB       *sql.DB
	Rows     *storage.RowStore
	Metadata *storage.MetadataStore
	Service  *backup.Service

	Traffic    *metrics.Registry
	Prometheus *prometheus.Registry

	redis *redis.Client
}

// Open connects every dependency named by cfg and migrates the database.
// Close releases them.
func Open(ctx context.Context, cfg Config) (*Runtime, error) {
	db, err := storage.OpenDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, DB: db}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	if err := storage.Migrate(db); err != nil {
		return nil, err
	}
	rt.Rows = storage.NewRowStore(db)
	rt.Metadata = storage.NewMetadataStore(db)

	var secrets backup.SecretStore = storage.NewStaticSecret(cfg.BackupSecret)
	var locker backup.Locker = lock.NewLocal()
	if cfg.RedisAddr != "" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rt.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		locker = lock.NewRedis(rt.redis, cfg.LockTTL)
		if strings.TrimSpace(cfg.BackupSecret) == "" {
			secrets = storage.NewRedisSecret(rt.redis, storage.RedisBackupSecretKey)
		}
	}

	uploader, err := openUploader(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rt.Traffic = metrics.NewRegistry()
	rt.Prometheus = prometheus.NewRegistry()
	rt.Prometheus.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		rt.Traffic,
	)

	rt.Service = backup.NewService(backup.Deps{
		Source:   rt.Rows,
		Sink:     rt.Rows,
		Secrets:  secrets,
		Uploader: uploader,
		Metadata: rt.Metadata,
		Locker:   locker,
		Observer: metrics.NewBackups(rt.Prometheus),
		KDF:      cfg.KDF,
	})

	ok = true
	return rt, nil
}

func openUploader(ctx context.Context, cfg Config) (cloud.Store, error) {
	switch cfg.Storage {
	case StorageS3:
		s3, err := cloud.NewS3(cfg.S3)
		if err != nil {
			return nil, err
		}
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s3.Check(checkCtx); err != nil {
			return nil, err
		}
		return s3, nil
	case StorageGDrive:
		return cloud.NewDrive(context.WithoutCancel(ctx), cfg.Drive)
	default:
		return cloud.NewLocalDir(cfg.StorageDir)
	}
}

// Health pings the database.
func (rt *Runtime) Health(ctx context.Context) error {
	return rt.DB.PingContext(ctx)
}

func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			logging.Warn().Err(err).Msg("redis close failed")
		}
	}
	if rt.DB != nil {
		return rt.DB.Close()
	}
	return nil
}
