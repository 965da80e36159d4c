package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"prepflow-go/internal/model"
	"prepflow-go/internal/storage"
)

// RowSource runs fn against one consistent read snapshot.
type RowSource interface {
	ReadTx(ctx context.Context, fn func(storage.TableReader) error) error
}

type Exporter struct {
	source RowSource
	tables []storage.Table
	now    func() time.Time
}

func NewExporter(source RowSource, tables []storage.Table) *Exporter {
	if tables == nil {
		tables = storage.BackupTables()
	}
	return &Exporter{source: source, tables: tables, now: time.Now}
}

// Export reads every backup-eligible table for userID. Any read failure or any
// row not owned by userID aborts the whole export.
func (e *Exporter) Export(ctx context.Context, userID string) (*model.Payload, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("export: user id is empty")
	}
	if e.source == nil {
		return nil, errors.New("export: no row source")
	}

	p := model.NewPayload(userID, e.now())
	err := e.source.ReadTx(ctx, func(r storage.TableReader) error {
		for _, t := range e.tables {
			if err := ctx.Err(); err != nil {
				return err
			}
			rows, err := r.SelectOwned(ctx, t, userID)
			if err != nil {
				return fmt.Errorf("export: read %s: %w", t.Name, err)
			}
			for i, rec := range rows {
				owner, _ := rec[t.OwnerColumn()].(string)
				if owner != userID {
					return fmt.Errorf("%w: %s row %d", ErrForeignRow, t.Name, i)
				}
			}
			p.SetTable(t.Name, rows)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
