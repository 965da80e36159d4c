package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"prepflow-go/internal/api"
)

type apiModule struct{}

func (apiModule) Name() string { return "api" }

func (apiModule) Start(_ context.Context, rt *Runtime, fatalErrCh chan<- error) (*runningModule, error) {
	handler := api.NewHandler(api.Config{
		Backups:  rt.Service,
		Lister:   rt.Metadata,
		Traffic:  rt.Traffic,
		Gatherer: rt.Prometheus,
		Health:   rt.Health,
	})

	server := &http.Server{
		Addr:              rt.Config.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	started, err := listenAndServe("api", server, true, fatalErrCh)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, fmt.Errorf("api: failed to start")
	}

	return &runningModule{
		name:    "api",
		started: true,
		shutdown: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	}, nil
}
