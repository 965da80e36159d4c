package app

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"prepflow-go/internal/backup"
	"prepflow-go/internal/cloud"
	"prepflow-go/internal/lock"
)

const (
	StorageLocal  = "local"
	StorageS3     = "s3"
	StorageGDrive = "gdrive"
)

type Config struct {
	DBPath       string
	ListenAddr   string
	BackupSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	Storage    string
	StorageDir string
	S3         cloud.S3Config
	Drive      cloud.DriveConfig

	KDF backup.KDFParams

	MetadataKeep       int
	VacuumEvery        time.Duration
	VacuumMinFreeBytes int64
	VacuumMinFreeRatio float64

	LogLevel  string
	LogFormat string
}

// LoadConfig reads PREPFLOW_* variables through getenv. Unset variables take
// their defaults; malformed ones are an error naming the variable.
func LoadConfig(getenv func(string) string) (Config, error) {
	p := envParser{getenv: getenv}

	cfg := Config{
		DBPath:        p.str("PREPFLOW_DB_PATH", filepath.Join("data", "prepflow.db")),
		ListenAddr:    p.str("PREPFLOW_LISTEN_ADDR", "0.0.0.0:3300"),
		BackupSecret:  getenv("PREPFLOW_BACKUP_SECRET"),
		RedisAddr:     p.str("PREPFLOW_REDIS_ADDR", ""),
		RedisPassword: getenv("PREPFLOW_REDIS_PASSWORD"),
		RedisDB:       p.num("PREPFLOW_REDIS_DB", 0),
		LockTTL:       time.Duration(p.num("PREPFLOW_LOCK_TTL_SECONDS", int(lock.DefaultLeaseTTL/time.Second))) * time.Second,

		Storage:    strings.ToLower(p.str("PREPFLOW_STORAGE", StorageLocal)),
		StorageDir: p.str("PREPFLOW_STORAGE_DIR", filepath.Join("data", "backups")),
		S3: cloud.S3Config{
			Endpoint:  p.str("PREPFLOW_S3_ENDPOINT", ""),
			Bucket:    p.str("PREPFLOW_S3_BUCKET", ""),
			AccessKey: p.str("PREPFLOW_S3_ACCESS_KEY", ""),
			SecretKey: getenv("PREPFLOW_S3_SECRET_KEY"),
			UseSSL:    p.flag("PREPFLOW_S3_USE_SSL", true),
		},
		Drive: cloud.DriveConfig{
			AccessToken: getenv("PREPFLOW_GDRIVE_TOKEN"),
			FolderID:    p.str("PREPFLOW_GDRIVE_FOLDER_ID", ""),
		},

		KDF: backup.KDFParams{
			Time:     uint32(p.num("PREPFLOW_ARGON2_TIME", int(backup.DefaultKDFParams.Time))),
			MemoryKB: uint32(p.num("PREPFLOW_ARGON2_MEMORY_KB", int(backup.DefaultKDFParams.MemoryKB))),
			Threads:  uint8(p.num("PREPFLOW_ARGON2_THREADS", int(backup.DefaultKDFParams.Threads))),
		},

		MetadataKeep:       p.num("PREPFLOW_BACKUP_METADATA_KEEP", 100),
		VacuumEvery:        time.Duration(p.num("PREPFLOW_DB_VACUUM_INTERVAL_HOURS", 24)) * time.Hour,
		VacuumMinFreeBytes: int64(p.num("PREPFLOW_DB_VACUUM_MIN_FREE_MB", 16)) * 1024 * 1024,
		VacuumMinFreeRatio: p.ratio("PREPFLOW_DB_VACUUM_MIN_FREE_RATIO", 0.20),

		LogLevel:  p.str("PREPFLOW_LOG_LEVEL", "info"),
		LogFormat: p.str("PREPFLOW_LOG_FORMAT", "json"),
	}
	if p.err != nil {
		return Config{}, p.err
	}

	switch cfg.Storage {
	case StorageLocal:
	case StorageS3:
		if cfg.S3.Endpoint == "" || cfg.S3.Bucket == "" {
			return Config{}, fmt.Errorf("PREPFLOW_STORAGE=s3 requires PREPFLOW_S3_ENDPOINT and PREPFLOW_S3_BUCKET")
		}
	case StorageGDrive:
		if strings.TrimSpace(cfg.Drive.AccessToken) == "" {
			return Config{}, fmt.Errorf("PREPFLOW_STORAGE=gdrive requires PREPFLOW_GDRIVE_TOKEN")
		}
	default:
		return Config{}, fmt.Errorf("PREPFLOW_STORAGE: unknown backend %q", cfg.Storage)
	}

	if err := cfg.KDF.Validate(); err != nil {
		return Config{}, fmt.Errorf("PREPFLOW_ARGON2_*: %w", err)
	}
	if cfg.LockTTL <= 0 {
		return Config{}, fmt.Errorf("PREPFLOW_LOCK_TTL_SECONDS must be positive")
	}
	if cfg.MetadataKeep < 0 {
		cfg.MetadataKeep = 0
	}
	if cfg.VacuumEvery < 0 {
		cfg.VacuumEvery = 0
	}
	if cfg.VacuumMinFreeBytes < 0 {
		cfg.VacuumMinFreeBytes = 0
	}
	if cfg.VacuumMinFreeRatio < 0 {
		cfg.VacuumMinFreeRatio = 0
	}
	if cfg.VacuumMinFreeRatio > 0.95 {
		cfg.VacuumMinFreeRatio = 0.95
	}
	return cfg, nil
}

// envParser keeps the first parse error so LoadConfig can read every variable
// in one struct literal.
type envParser struct {
	getenv func(string) string
	err    error
}

func (p *envParser) raw(key string) string {
	return strings.TrimSpace(p.getenv(key))
}

func (p *envParser) fail(key, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s=%q: %w", key, raw, err)
	}
}

func (p *envParser) str(key, fallback string) string {
	if v := p.raw(key); v != "" {
		return v
	}
	return fallback
}

func (p *envParser) num(key string, fallback int) int {
	raw := p.raw(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return n
}

func (p *envParser) ratio(key string, fallback float64) float64 {
	raw := p.raw(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return n
}

func (p *envParser) flag(key string, fallback bool) bool {
	raw := p.raw(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return b
}
