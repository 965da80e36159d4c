package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"prepflow-go/internal/model"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "prepflow.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func ingredient(id, user, name string, cost float64) model.Record {
	return model.Record{
		"id":         id,
		"user_id":    user,
		"name":       name,
		"unit":       "kg",
		"unit_cost":  cost,
		"created_at": "2026-01-01T00:00:00Z",
		"updated_at": "2026-01-01T00:00:00Z",
	}
}

func TestRowStore_InsertSelectScopedToOwner(t *testing.T) {
	db := openTestDB(t)
	rs := NewRowStore(db)
	ctx := context.Background()
	tbl, _ := LookupTable("ingredients")

	err := rs.WriteTx(ctx, func(w TableWriter) error {
		if err := w.Insert(ctx, tbl, "chef1", ingredient("a", "chef1", "flour", 1.5)); err != nil {
			return err
		}
		if err := w.Insert(ctx, tbl, "chef1", ingredient("b", "chef1", "sugar", 2)); err != nil {
			return err
		}
		return w.Insert(ctx, tbl, "chef2", ingredient("a", "chef2", "salt", 0.5))
	})
	if err != nil {
		t.Fatalf("WriteTx: %v", err)
	}

	var got []model.Record
	if err := rs.ReadTx(ctx, func(r TableReader) error {
		var err error
		got, err = r.SelectOwned(ctx, tbl, "chef1")
		return err
	}); err != nil {
		t.Fatalf("ReadTx: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows mismatch: got %d want %d", len(got), 2)
	}
	if got[0]["id"] != "a" || got[0]["name"] != "flour" {
		t.Fatalf("unexpected first row: %#v", got[0])
	}
	if got[0]["supplier_id"] != nil {
		t.Fatalf("expected NULL supplier_id, got %#v", got[0]["supplier_id"])
	}
	for _, rec := range got {
		if rec["user_id"] != "chef1" {
			t.Fatalf("leaked row from another user: %#v", rec)
		}
	}
}

func TestRowStore_InsertRejectsForeignOwnerAndUnknownColumn(t *testing.T) {
	db := openTestDB(t)
	rs := NewRowStore(db)
	ctx := context.Background()
	tbl, _ := LookupTable("ingredients")

	_ = rs.WriteTx(ctx, func(w TableWriter) error {
		err := w.Insert(ctx, tbl, "chef1", ingredient("a", "chef2", "flour", 1))
		if !errors.Is(err, ErrForeignOwner) {
			t.Fatalf("expected ErrForeignOwner, got %v", err)
		}

		rec := ingredient("b", "chef1", "sugar", 1)
		rec["nope; DROP TABLE ingredients"] = 1
		err = w.Insert(ctx, tbl, "chef1", rec)
		if !errors.Is(err, ErrUnknownColumn) {
			t.Fatalf("expected ErrUnknownColumn, got %v", err)
		}

		rec = ingredient("c", "chef1", "salt", 1)
		delete(rec, "id")
		err = w.Insert(ctx, tbl, "chef1", rec)
		if !errors.Is(err, ErrMissingKey) {
			t.Fatalf("expected ErrMissingKey, got %v", err)
		}
		return nil
	})
}

func TestRowStore_LookupUpdateDelete(t *testing.T) {
	db := openTestDB(t)
	rs := NewRowStore(db)
	ctx := context.Background()
	tbl, _ := LookupTable("ingredients")

	err := rs.WriteTx(ctx, func(w TableWriter) error {
		if err := w.Insert(ctx, tbl, "chef1", ingredient("a", "chef1", "flour", 1)); err != nil {
			return err
		}
		if err := w.Insert(ctx, tbl, "chef2", ingredient("a", "chef2", "flour", 9)); err != nil {
			return err
		}

		cur, ok, err := w.Lookup(ctx, tbl, "chef1", model.Record{"id": "a"})
		if err != nil || !ok {
			t.Fatalf("Lookup: ok=%v err=%v", ok, err)
		}
		if cur["unit_cost"] != float64(1) {
			t.Fatalf("unit_cost mismatch: got %#v", cur["unit_cost"])
		}

		cur["unit_cost"] = 3.25
		if err := w.Update(ctx, tbl, "chef1", cur); err != nil {
			return err
		}

		_, ok, err = w.Lookup(ctx, tbl, "chef1", model.Record{"id": "zzz"})
		if err != nil || ok {
			t.Fatalf("Lookup(missing): ok=%v err=%v", ok, err)
		}

		n, err := w.DeleteOwned(ctx, tbl, "chef2")
		if err != nil {
			return err
		}
		if n != 1 {
			t.Fatalf("deleted mismatch: got %d want 1", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WriteTx: %v", err)
	}

	var cost float64
	if err := db.QueryRow("SELECT unit_cost FROM ingredients WHERE user_id = ? AND id = ?", "chef1", "a").Scan(&cost); err != nil {
		t.Fatalf("select: %v", err)
	}
	if cost != 3.25 {
		t.Fatalf("cost mismatch: got %v want 3.25", cost)
	}
}
