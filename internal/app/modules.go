package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"prepflow-go/internal/logging"
)

type module interface {
	Name() string
	Start(ctx context.Context, rt *Runtime, fatalErrCh chan<- error) (*runningModule, error)
}

type runningModule struct {
	name     string
	started  bool
	shutdown func(context.Context) error
	close    func() error
}

func (m *runningModule) Stop(ctx context.Context) {
	if m == nil {
		return
	}
	if m.shutdown != nil {
		if err := m.shutdown(ctx); err != nil {
			logging.Warn().Str("module", m.name).Err(err).Msg("shutdown failed")
		}
	}
	if m.close != nil {
		_ = m.close()
	}
}

func listenAndServe(name string, server *http.Server, required bool, fatalErrCh chan<- error) (started bool, err error) {
	log := logging.Component(name)

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		if required {
			return false, fmt.Errorf("%s listen %s: %w", name, server.Addr, err)
		}
		log.Warn().Str("addr", server.Addr).Err(err).Msg("listen failed; module disabled")
		return false, nil
	}

	go func() {
		log.Info().Str("addr", "http://"+ln.Addr().String()).Msg("listening")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if required && fatalErrCh != nil {
				fatalErrCh <- err
				return
			}
			log.Error().Err(err).Msg("server stopped")
		}
	}()

	return true, nil
}
