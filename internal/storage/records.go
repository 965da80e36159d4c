package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"prepflow-go/internal/model"
)

var (
	ErrUnknownColumn = errors.New("storage: unknown column")
	ErrMissingKey    = errors.New("storage: missing key column")
	ErrForeignOwner  = errors.New("storage: record owned by another user")
)

// TableReader reads user-scoped rows inside a transaction.
type TableReader interface {
	SelectOwned(ctx context.Context, t Table, userID string) ([]model.Record, error)
}

// TableWriter writes user-scoped rows inside a transaction.
type TableWriter interface {
	TableReader
	DeleteOwned(ctx context.Context, t Table, userID string) (int64, error)
	Insert(ctx context.Context, t Table, userID string, rec model.Record) error
	Lookup(ctx context.Context, t Table, userID string, rec model.Record) (model.Record, bool, error)
	Update(ctx context.Context, t Table, userID string, rec model.Record) error
}

type RowStore struct {
	db *sql.DB
}

func NewRowStore(db *sql.DB) *RowStore {
	return &RowStore{db: db}
}

// ReadTx runs fn inside a read-only transaction so every table sees one snapshot.
func (s *RowStore) ReadTx(ctx context.Context, fn func(TableReader) error) error {
	if s == nil || s.db == nil {
		return errors.New("storage: db is nil")
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&tableTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// WriteTx runs fn inside a transaction and commits when fn returns nil.
// A failed statement inside fn does not abort the transaction on SQLite,
// so fn may record per-row failures and still commit the rest.
func (s *RowStore) WriteTx(ctx context.Context, fn func(TableWriter) error) error {
	if s == nil || s.db == nil {
		return errors.New("storage: db is nil")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&tableTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type tableTx struct {
	tx *sql.Tx
}

func (t *tableTx) SelectOwned(ctx context.Context, tbl Table, userID string) ([]model.Record, error) {
	var b strings.Builder
	b.WriteString("SELECT ")
	for i, c := range tbl.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqliteIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(sqliteIdent(tbl.Name))
	b.WriteString(" WHERE ")
	b.WriteString(sqliteIdent(tbl.OwnerColumn()))
	b.WriteString(" = ? ORDER BY ")
	b.WriteString(keyOrder(tbl))
	b.WriteString(";")

	rows, err := t.tx.QueryContext(ctx, b.String(), userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []model.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows, tbl.Columns)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *tableTx) DeleteOwned(ctx context.Context, tbl Table, userID string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM "+sqliteIdent(tbl.Name)+" WHERE "+sqliteIdent(tbl.OwnerColumn())+" = ?;", userID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (t *tableTx) Insert(ctx context.Context, tbl Table, userID string, rec model.Record) error {
	rec, err := ownedRecord(tbl, userID, rec)
	if err != nil {
		return err
	}
	cols := rec.Columns()

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqliteIdent(tbl.Name))
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqliteIdent(c))
	}
	b.WriteString(") VALUES (")
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
		args = append(args, rec[c])
	}
	b.WriteString(");")

	_, err = t.tx.ExecContext(ctx, b.String(), args...)
	return err
}

func (t *tableTx) Lookup(ctx context.Context, tbl Table, userID string, rec model.Record) (model.Record, bool, error) {
	where, args, err := keyClause(tbl, userID, rec)
	if err != nil {
		return nil, false, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	for i, c := range tbl.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqliteIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(sqliteIdent(tbl.Name))
	b.WriteString(where)
	b.WriteString(" LIMIT 1;")

	rows, err := t.tx.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	out, err := scanRecord(rows, tbl.Columns)
	if err != nil {
		return nil, false, err
	}
	return out, true, rows.Err()
}

func (t *tableTx) Update(ctx context.Context, tbl Table, userID string, rec model.Record) error {
	rec, err := ownedRecord(tbl, userID, rec)
	if err != nil {
		return err
	}
	where, keyArgs, err := keyClause(tbl, userID, rec)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(sqliteIdent(tbl.Name))
	b.WriteString(" SET ")
	args := make([]any, 0, len(rec)+len(keyArgs))
	n := 0
	for _, c := range rec.Columns() {
		if tbl.IsKey(c) || c == tbl.OwnerColumn() {
			continue
		}
		if n > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqliteIdent(c))
		b.WriteString(" = ?")
		args = append(args, rec[c])
		n++
	}
	if n == 0 {
		return nil
	}
	b.WriteString(where)
	b.WriteString(";")
	args = append(args, keyArgs...)

	_, err = t.tx.ExecContext(ctx, b.String(), args...)
	return err
}

// ownedRecord checks rec against the table schema and pins it to userID.
func ownedRecord(tbl Table, userID string, rec model.Record) (model.Record, error) {
	for c := range rec {
		if !tbl.HasColumn(c) {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, tbl.Name, c)
		}
	}
	for _, k := range tbl.KeyColumns {
		if v, ok := rec[k]; !ok || v == nil {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingKey, tbl.Name, k)
		}
	}
	if v, ok := rec[tbl.OwnerColumn()]; ok && v != nil {
		if s, _ := v.(string); s != userID {
			return nil, fmt.Errorf("%w: %s", ErrForeignOwner, tbl.Name)
		}
	}
	out := rec.Clone()
	out[tbl.OwnerColumn()] = userID
	return out, nil
}

func keyClause(tbl Table, userID string, rec model.Record) (string, []any, error) {
	var b strings.Builder
	b.WriteString(" WHERE ")
	b.WriteString(sqliteIdent(tbl.OwnerColumn()))
	b.WriteString(" = ?")
	args := []any{userID}
	for _, k := range tbl.KeyColumns {
		v, ok := rec[k]
		if !ok || v == nil {
			return "", nil, fmt.Errorf("%w: %s.%s", ErrMissingKey, tbl.Name, k)
		}
		b.WriteString(" AND ")
		b.WriteString(sqliteIdent(k))
		b.WriteString(" = ?")
		args = append(args, v)
	}
	return b.String(), args, nil
}

func keyOrder(tbl Table) string {
	parts := make([]string, 0, len(tbl.KeyColumns))
	for _, k := range tbl.KeyColumns {
		parts = append(parts, sqliteIdent(k))
	}
	return strings.Join(parts, ", ")
}

func scanRecord(rows *sql.Rows, cols []string) (model.Record, error) {
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	rec := make(model.Record, len(cols))
	for i, c := range cols {
		rec[c] = normalizeValue(values[i])
	}
	return rec, nil
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return append([]byte(nil), x...)
	default:
		return v
	}
}
