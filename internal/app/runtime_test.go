package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"prepflow-go/internal/api"
	"prepflow-go/internal/backup"
	"prepflow-go/internal/logging"
	"prepflow-go/internal/model"
	"prepflow-go/internal/storage"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := LoadConfig(envMap(map[string]string{
		"PREPFLOW_DB_PATH":          filepath.Join(dir, "prepflow.db"),
		"PREPFLOW_STORAGE_DIR":      filepath.Join(dir, "backups"),
		"PREPFLOW_BACKUP_SECRET":    "runtime-test-secret",
		"PREPFLOW_ARGON2_TIME":      "1",
		"PREPFLOW_ARGON2_MEMORY_KB": "64",
		"PREPFLOW_ARGON2_THREADS":   "1",
	}))
	require.NoError(t, err)
	return cfg
}

func openRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := Open(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func seedIngredients(t *testing.T, rt *Runtime, userID string, ids ...string) {
	t.Helper()
	tbl, ok := storage.LookupTable("ingredients")
	require.True(t, ok)
	err := rt.Rows.WriteTx(context.Background(), func(w storage.TableWriter) error {
		for _, id := range ids {
			rec := model.Record{"id": id, "name": "item " + id, "unit": "kg", "unit_cost": 1.5,
				"created_at": "2026-01-01T00:00:00Z", "updated_at": "2026-01-01T00:00:00Z"}
			if err := w.Insert(context.Background(), tbl, userID, rec); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func post(t *testing.T, h http.Handler, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(api.UserHeader, user)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRuntime_ExportAndRestoreOverHTTP(t *testing.T) {
	rt := openRuntime(t)
	seedIngredients(t, rt, "chef1", "i1", "i2")

	h := api.NewHandler(api.Config{
		Backups:  rt.Service,
		Lister:   rt.Metadata,
		Traffic:  rt.Traffic,
		Gatherer: rt.Prometheus,
		Health:   rt.Health,
	})

	rr := post(t, h, "/api/backups/export", "chef1", `{"encryptionMode":"user-password","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var exported backup.ExportResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &exported))
	require.Equal(t, 2, exported.RecordCounts["ingredients"])

	list, err := rt.Metadata.ListBackups(context.Background(), "chef1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, exported.BackupID, list[0].ID)

	seedIngredients(t, rt, "chef1", "i3")

	rr = post(t, h, "/api/backups/restore", "chef1",
		fmt.Sprintf(`{"backupId":%q,"mode":"full","password":"s3cret"}`, exported.BackupID))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	tbl, _ := storage.LookupTable("ingredients")
	var got []model.Record
	require.NoError(t, rt.Rows.ReadTx(context.Background(), func(r storage.TableReader) error {
		got, err = r.SelectOwned(context.Background(), tbl, "chef1")
		return err
	}))
	require.Len(t, got, 2)

	rr = post(t, h, "/api/backups/restore", "chef1",
		fmt.Sprintf(`{"backupId":%q,"mode":"full","password":"wrong"}`, exported.BackupID))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	require.NoError(t, os.RemoveAll(rt.Config.StorageDir))
	rr = post(t, h, "/api/backups/restore", "chef1",
		fmt.Sprintf(`{"backupId":%q,"mode":"full","password":"s3cret"}`, exported.BackupID))
	require.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrr := httptest.NewRecorder()
	h.ServeHTTP(mrr, req)
	require.Contains(t, mrr.Body.String(), "prepflow_backup_exports_total")
}

func TestMaintenance_PruneAndVacuum(t *testing.T) {
	rt := openRuntime(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, rt.Metadata.RecordBackup(ctx, storage.BackupMetadata{
			ID: fmt.Sprintf("b%d", i), UserID: "chef1", CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	m := &maintenance{db: rt.DB, keep: 2, vacuumEvery: time.Hour, log: logging.Component("test")}
	require.Equal(t, int64(2), m.prune(ctx))
	require.Zero(t, m.prune(ctx))

	list, err := rt.Metadata.ListBackups(ctx, "chef1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "b3", list[0].ID)

	m.keep = 0
	require.Zero(t, m.prune(ctx))

	m.minFreeRatio = 0.99
	m.minFreeBytes = 1 << 40
	require.False(t, m.maybeVacuum(ctx))
}

func TestDBMaintenanceModule_StartStop(t *testing.T) {
	rt := openRuntime(t)
	rm, err := dbMaintenanceModule{}.Start(context.Background(), rt, nil)
	require.NoError(t, err)
	require.True(t, rm.started)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rm.Stop(ctx)
}
