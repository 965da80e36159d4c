package metrics

import (
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
)

// Backup API operations tracked by Track.
const (
	OpList     = "list"
	OpExport   = "export"
	OpDownload = "download"
	OpRestore  = "restore"
)

type Snapshot struct {
	Requests int64 `json:"requests"`
	Failures int64 `json:"failures"`
	BytesIn  int64 `json:"bytesIn"`
	BytesOut int64 `json:"bytesOut"`
}

// endpoint accumulates traffic for one backup operation. Upload bodies on
// restore and container bodies on download dominate the byte counters.
type endpoint struct {
	requests atomic.Int64
	failures atomic.Int64
	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

func (e *endpoint) snapshot() Snapshot {
	return Snapshot{
		Requests: e.requests.Load(),
		Failures: e.failures.Load(),
		BytesIn:  e.bytesIn.Load(),
		BytesOut: e.bytesOut.Load(),
	}
}

// Registry holds per-operation traffic for the backup API. It is a
// prometheus.Collector (see prometheus.go).
type Registry struct {
	mu  sync.RWMutex
	ops map[string]*endpoint
}

func NewRegistry() *Registry {
	return &Registry{ops: map[string]*endpoint{}}
}

func (r *Registry) endpoint(op string) *endpoint {
	r.mu.RLock()
	e := r.ops[op]
	r.mu.RUnlock()
	if e != nil {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.ops[op]; e != nil {
		return e
	}
	e = &endpoint{}
	r.ops[op] = e
	return e
}

// Operation returns the counters for op; unknown ops read as zero.
func (r *Registry) Operation(op string) Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.ops[op]; e != nil {
		return e.snapshot()
	}
	return Snapshot{}
}

// Operations lists the tracked operation names in order.
func (r *Registry) Operations() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ops))
	for op := range r.ops {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

// Track is chi-style middleware counting requests, 4xx/5xx responses and
// body bytes for op. A nil registry disables counting.
func (r *Registry) Track(op string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if r == nil {
			return next
		}
		e := r.endpoint(op)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			e.requests.Add(1)
			if req.Body != nil {
				req.Body = &countingBody{ReadCloser: req.Body, n: &e.bytesIn}
			}
			cw := &countingWriter{ResponseWriter: w, n: &e.bytesOut, status: http.StatusOK}
			next.ServeHTTP(cw, req)
			if cw.status >= http.StatusBadRequest {
				e.failures.Add(1)
			}
		})
	}
}

type countingBody struct {
	io.ReadCloser
	n *atomic.Int64
}

func (c *countingBody) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	if n > 0 {
		c.n.Add(int64(n))
	}
	return n, err
}

type countingWriter struct {
	http.ResponseWriter
	n           *atomic.Int64
	status      int
	wroteHeader bool
}

func (w *countingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(p)
	if n > 0 {
		w.n.Add(int64(n))
	}
	return n, err
}
