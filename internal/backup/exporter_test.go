package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"prepflow-go/internal/model"
	"prepflow-go/internal/storage"
)

func openTestStore(t *testing.T) (*sql.DB, *storage.RowStore) {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "prepflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.Migrate(db))
	return db, storage.NewRowStore(db)
}

func mustTable(t *testing.T, name string) storage.Table {
	t.Helper()
	tbl, ok := storage.LookupTable(name)
	require.True(t, ok, name)
	return tbl
}

func seed(t *testing.T, rs *storage.RowStore, userID, table string, recs ...model.Record) {
	t.Helper()
	tbl := mustTable(t, table)
	err := rs.WriteTx(context.Background(), func(w storage.TableWriter) error {
		for _, rec := range recs {
			if err := w.Insert(context.Background(), tbl, userID, rec); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func ingredientRow(id, name string, cost float64) model.Record {
	return model.Record{
		"id":         id,
		"name":       name,
		"unit":       "kg",
		"unit_cost":  cost,
		"created_at": "2026-01-01T00:00:00Z",
		"updated_at": "2026-01-01T00:00:00Z",
	}
}

func recipeRow(id, name string) model.Record {
	return model.Record{
		"id":         id,
		"name":       name,
		"yield_qty":  4.0,
		"created_at": "2026-01-01T00:00:00Z",
		"updated_at": "2026-01-01T00:00:00Z",
	}
}

func rows(t *testing.T, rs *storage.RowStore, userID, table string) []model.Record {
	t.Helper()
	var out []model.Record
	err := rs.ReadTx(context.Background(), func(r storage.TableReader) error {
		var err error
		out, err = r.SelectOwned(context.Background(), mustTable(t, table), userID)
		return err
	})
	require.NoError(t, err)
	return out
}

func TestExportEncryptDecrypt_Chef1(t *testing.T) {
	ctx := context.Background()
	_, rs := openTestStore(t)

	seed(t, rs, "chef1", "ingredients",
		ingredientRow("i1", "Flour", 1.2),
		ingredientRow("i2", "Sugar", 0.9),
		ingredientRow("i3", "Eggs", 3.1),
	)
	seed(t, rs, "chef1", "recipes", recipeRow("r1", "Sponge"))
	seed(t, rs, "chef2", "ingredients", ingredientRow("i9", "Salt", 0.2))

	exp := NewExporter(rs, []storage.Table{mustTable(t, "ingredients"), mustTable(t, "recipes")})
	p, err := exp.Export(ctx, "chef1")
	require.NoError(t, err)

	c := testCodec()
	data, err := c.Encode(ctx, p, ServerSecret{})
	require.NoError(t, err)

	kind, got, err := c.Decode(ctx, data, "")
	require.NoError(t, err)
	require.Equal(t, ModeKindServerSecret, kind)
	require.Equal(t, "chef1", got.UserID)
	require.Equal(t, map[string]int{"ingredients": 3, "recipes": 1}, got.Metadata.RecordCounts)
}

func TestExport_AllTablesScopedToUser(t *testing.T) {
	ctx := context.Background()
	_, rs := openTestStore(t)
	seed(t, rs, "chef1", "ingredients", ingredientRow("i1", "Flour", 1.2))
	seed(t, rs, "chef2", "ingredients", ingredientRow("i1", "Flour", 1.2), ingredientRow("i2", "Rye", 2))

	p, err := NewExporter(rs, nil).Export(ctx, "chef1")
	require.NoError(t, err)
	require.Len(t, p.Tables, len(storage.BackupTables()))
	require.Equal(t, 1, p.Metadata.RecordCounts["ingredients"])
	for _, rec := range p.Tables["ingredients"] {
		require.Equal(t, "chef1", rec["user_id"])
	}
	require.Equal(t, 0, p.Metadata.RecordCounts["recipes"])
}

type fakeReader struct {
	rows map[string][]model.Record
	err  map[string]error
}

func (f fakeReader) SelectOwned(_ context.Context, t storage.Table, _ string) ([]model.Record, error) {
	if err := f.err[t.Name]; err != nil {
		return nil, err
	}
	return f.rows[t.Name], nil
}

type fakeSource struct {
	r fakeReader
}

func (s fakeSource) ReadTx(_ context.Context, fn func(storage.TableReader) error) error {
	return fn(s.r)
}

func TestExport_FailClosed(t *testing.T) {
	ctx := context.Background()
	tables := []storage.Table{mustTable(t, "ingredients"), mustTable(t, "recipes")}

	t.Run("read failure", func(t *testing.T) {
		boom := errors.New("disk on fire")
		src := fakeSource{r: fakeReader{err: map[string]error{"recipes": boom}}}
		p, err := NewExporter(src, tables).Export(ctx, "chef1")
		require.ErrorIs(t, err, boom)
		require.Nil(t, p)
	})

	t.Run("foreign row", func(t *testing.T) {
		src := fakeSource{r: fakeReader{rows: map[string][]model.Record{
			"ingredients": {{"id": "i1", "user_id": "chef1"}, {"id": "i2", "user_id": "chef2"}},
		}}}
		p, err := NewExporter(src, tables).Export(ctx, "chef1")
		require.ErrorIs(t, err, ErrForeignRow)
		require.Nil(t, p)
	})

	t.Run("row without owner", func(t *testing.T) {
		src := fakeSource{r: fakeReader{rows: map[string][]model.Record{
			"recipes": {{"id": "r1"}},
		}}}
		_, err := NewExporter(src, tables).Export(ctx, "chef1")
		require.ErrorIs(t, err, ErrForeignRow)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewExporter(fakeSource{}, tables).Export(cctx, "chef1")
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestExport_EmptyUser(t *testing.T) {
	_, err := NewExporter(fakeSource{}, nil).Export(context.Background(), "  ")
	require.Error(t, err)
}

func recordIDs(recs []model.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, fmt.Sprint(r["id"]))
	}
	return out
}
