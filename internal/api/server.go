package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"prepflow-go/internal/backup"
	"prepflow-go/internal/logging"
	"prepflow-go/internal/metrics"
	"prepflow-go/internal/model"
	"prepflow-go/internal/storage"
)

// UserHeader carries the caller's identity, set by the authenticating layer.
const UserHeader = "X-User-ID"

const (
	maxRequestBytes = 256 << 20
	defaultListSize = 50
	maxListSize     = 500
)

type BackupService interface {
	ExportAndUpload(ctx context.Context, req backup.ExportRequest) (*backup.ExportResult, error)
	Export(ctx context.Context, userID string, mode backup.Mode) ([]byte, *model.Payload, error)
	Restore(ctx context.Context, req backup.RestoreRequest) (*model.RestoreResult, error)
}

type BackupLister interface {
	ListBackups(ctx context.Context, userID string, limit int) ([]storage.BackupMetadata, error)
}

type Config struct {
	Backups  BackupService
	Lister   BackupLister
	Traffic  *metrics.Registry
	Gatherer prometheus.Gatherer
	// Health reports dependency readiness for /healthz. Nil means always healthy.
	Health func(ctx context.Context) error
}

type server struct {
	backups BackupService
	lister  BackupLister
	health  func(ctx context.Context) error
	log     zerolog.Logger
}

func NewHandler(cfg Config) http.Handler {
	s := &server{
		backups: cfg.Backups,
		lister:  cfg.Lister,
		health:  cfg.Health,
		log:     logging.Component("api"),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.healthz)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/backups", func(r chi.Router) {
		r.Use(requireUser)
		r.With(cfg.Traffic.Track(metrics.OpList)).Get("/", s.listBackups)
		r.With(cfg.Traffic.Track(metrics.OpExport)).Post("/export", s.exportBackup)
		r.With(cfg.Traffic.Track(metrics.OpDownload)).Post("/download", s.downloadBackup)
		r.With(cfg.Traffic.Track(metrics.OpRestore)).Post("/restore", s.restoreBackup)
	})
	return r
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type userKey struct{}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := sanitizeHeader(r.Header.Get(UserHeader))
		if userID == "" {
			respondError(w, http.StatusUnauthorized, "unauthenticated", "missing "+UserHeader+" header", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFrom(ctx context.Context) string {
	v, _ := ctx.Value(userKey{}).(string)
	return v
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}
