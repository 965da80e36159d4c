package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"prepflow-go/internal/logging"
	"prepflow-go/internal/storage"
)

const (
	maintenanceStartupDelay = 30 * time.Second
	metadataPruneEvery      = 6 * time.Hour
)

type dbMaintenanceModule struct{}

func (dbMaintenanceModule) Name() string { return "db_maintenance" }

func (dbMaintenanceModule) Start(ctx context.Context, rt *Runtime, _ chan<- error) (*runningModule, error) {
	if rt == nil || rt.DB == nil {
		return &runningModule{name: "db_maintenance", started: false}, nil
	}

	m := &maintenance{
		db:           rt.DB,
		keep:         rt.Config.MetadataKeep,
		vacuumEvery:  rt.Config.VacuumEvery,
		minFreeBytes: rt.Config.VacuumMinFreeBytes,
		minFreeRatio: rt.Config.VacuumMinFreeRatio,
		log:          logging.Component("db_maintenance"),
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)

		// Stagger the first pass so it doesn't compete with startup.
		startupTimer := time.NewTimer(maintenanceStartupDelay)
		defer startupTimer.Stop()

		var vacuumC <-chan time.Time
		if m.vacuumEvery > 0 {
			vacuumTicker := time.NewTicker(m.vacuumEvery)
			defer vacuumTicker.Stop()
			vacuumC = vacuumTicker.C
		}
		pruneTicker := time.NewTicker(metadataPruneEvery)
		defer pruneTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-startupTimer.C:
				m.prune(ctx)
				m.maybeVacuum(ctx)
			case <-pruneTicker.C:
				m.prune(ctx)
			case <-vacuumC:
				// VACUUM needs an exclusive lock; a busy database just waits for the next tick.
				m.maybeVacuum(ctx)
			}
		}
	}()

	return &runningModule{
		name:    "db_maintenance",
		started: true,
		shutdown: func(context.Context) error {
			close(stopCh)
			<-doneCh
			return nil
		},
	}, nil
}

type maintenance struct {
	db           *sql.DB
	keep         int
	vacuumEvery  time.Duration
	minFreeBytes int64
	minFreeRatio float64
	log          zerolog.Logger
}

func (m *maintenance) prune(ctx context.Context) int64 {
	if m.keep <= 0 {
		return 0
	}
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	n, err := storage.PruneBackupMetadata(ctx2, m.db, m.keep)
	if err != nil {
		m.log.Error().Err(err).Msg("prune backup metadata failed")
		return 0
	}
	if n > 0 {
		m.log.Info().Int64("deleted", n).Int("keep", m.keep).Msg("pruned old backup metadata")
	}
	return n
}

func (m *maintenance) maybeVacuum(ctx context.Context) bool {
	if m.vacuumEvery <= 0 {
		return false
	}
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	ran, st, err := storage.VacuumIfFragmented(ctx2, m.db, m.minFreeBytes, m.minFreeRatio)
	if err != nil {
		m.log.Warn().Err(err).Msg("VACUUM failed")
		return false
	}
	if ran {
		m.log.Info().
			Float64("free_pct", st.FreeRatio()*100).
			Str("free", humanize.IBytes(uint64(st.FreeBytes()))).
			Str("total", humanize.IBytes(uint64(st.TotalBytes()))).
			Msg("VACUUM completed")
	}
	return ran
}
