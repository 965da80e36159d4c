package app

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"

	"prepflow-go/internal/logging"
)

// LoadEnv reads an optional .env in the working directory, then the process
// environment, and configures logging from the result.
func LoadEnv() (Config, error) {
	_ = godotenv.Load(".env")

	cfg, err := LoadConfig(os.Getenv)
	if err != nil {
		return Config{}, err
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return cfg, nil
}

// Run serves the backup API and background maintenance until ctx is done or a
// required module fails.
func Run(ctx context.Context, cfg Config) error {
	rt, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	fatalErrCh := make(chan error, 1)
	modules := []module{
		apiModule{},
		dbMaintenanceModule{},
	}

	started := make([]*runningModule, 0, len(modules))
	for _, m := range modules {
		rm, err := m.Start(ctx, rt, fatalErrCh)
		if err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for _, prev := range started {
				prev.Stop(shutdownCtx)
			}
			return err
		}
		started = append(started, rm)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-fatalErrCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(started) - 1; i >= 0; i-- {
		started[i].Stop(shutdownCtx)
	}
	return runErr
}
