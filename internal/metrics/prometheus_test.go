package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"prepflow-go/internal/model"
)

func TestRegistry_CollectsOperationCounters(t *testing.T) {
	reg := NewRegistry()
	h := reg.Track(OpExport)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "http://example.com/api/backups/export", strings.NewReader("{}")))

	want := `
# HELP prepflow_http_request_bytes_total Request body bytes read per operation.
# TYPE prepflow_http_request_bytes_total counter
prepflow_http_request_bytes_total{operation="export"} 0
# HELP prepflow_http_response_bytes_total Response body bytes written per operation.
# TYPE prepflow_http_response_bytes_total counter
prepflow_http_response_bytes_total{operation="export"} 5
`
	if err := testutil.CollectAndCompare(reg, strings.NewReader(want),
		"prepflow_http_request_bytes_total", "prepflow_http_response_bytes_total"); err != nil {
		t.Fatalf("collect: %v", err)
	}
}

func TestBackups_Observe(t *testing.T) {
	pr := prometheus.NewRegistry()
	b := NewBackups(pr)

	b.ObserveExport("prepflow-only", 2048, nil)
	b.ObserveExport("user-password", 0, errors.New("upload failed"))

	res := model.NewRestoreResult()
	res.Table("ingredients").Inserted = 3
	res.Table("recipes").Errors = append(res.Table("recipes").Errors, "boom")
	res.Finalize()
	b.ObserveRestore("full", res, nil)
	b.ObserveRestore("merge", nil, context.Canceled)

	if got := testutil.ToFloat64(b.exports.WithLabelValues("prepflow-only", "ok")); got != 1 {
		t.Fatalf("ok exports = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.exports.WithLabelValues("user-password", "error")); got != 1 {
		t.Fatalf("failed exports = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.restores.WithLabelValues("full", "partial")); got != 1 {
		t.Fatalf("partial restores = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.restores.WithLabelValues("merge", "cancelled")); got != 1 {
		t.Fatalf("cancelled restores = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.records.WithLabelValues("inserted")); got != 3 {
		t.Fatalf("inserted records = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(b.containerSize); got != 1 {
		t.Fatalf("histogram series = %d, want 1", got)
	}

	var nilBackups *Backups
	nilBackups.ObserveExport("x", 1, nil)
}
