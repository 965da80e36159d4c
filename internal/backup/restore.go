package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"prepflow-go/internal/logging"
	"prepflow-go/internal/model"
	"prepflow-go/internal/storage"
)

// Strategy is one of Full, Selective or Merge.
type Strategy interface {
	Name() string
	isStrategy()
}

// Full replaces every table present in the backup.
type Full struct{}

// Selective replaces only the listed tables.
type Selective struct {
	Tables []string
}

// Merge reconciles incoming and existing records field by field.
type Merge struct {
	Options model.MergeOptions
}

func (Full) Name() string      { return "full" }
func (Selective) Name() string { return "selective" }
func (Merge) Name() string     { return "merge" }

func (Full) isStrategy()      {}
func (Selective) isStrategy() {}
func (Merge) isStrategy()     {}

// ParseStrategy validates a request's mode, tables and options.
func ParseStrategy(mode string, tables []string, opts *model.MergeOptions) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "full":
		return Full{}, nil
	case "selective":
		if len(tables) == 0 {
			return nil, invalidRequest("selective restore requires tables")
		}
		seen := map[string]bool{}
		out := make([]string, 0, len(tables))
		for _, name := range tables {
			name = strings.TrimSpace(name)
			if _, ok := storage.LookupTable(name); !ok {
				return nil, fmt.Errorf("%w: %w %q", ErrInvalidRequest, ErrUnknownTable, name)
			}
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
		return Selective{Tables: out}, nil
	case "merge":
		var o model.MergeOptions
		if opts != nil {
			o = *opts
		}
		if err := o.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return Merge{Options: o}, nil
	default:
		return nil, invalidRequest("unknown restore mode %q", mode)
	}
}

// RowSink runs fn inside one write transaction.
type RowSink interface {
	WriteTx(ctx context.Context, fn func(storage.TableWriter) error) error
}

type Engine struct {
	sink   RowSink
	lookup func(string) (storage.Table, bool)
	log    zerolog.Logger
}

func NewEngine(sink RowSink) *Engine {
	return &Engine{
		sink:   sink,
		lookup: storage.LookupTable,
		log:    logging.Component("restore"),
	}
}

// Restore applies p for userID. Record failures are collected per table and do
// not stop the restore. Cancellation is honoured between tables; the tables not
// reached are reported as cancelled and ctx.Err() is returned with the result.
func (e *Engine) Restore(ctx context.Context, p *model.Payload, userID string, s Strategy) (*model.RestoreResult, error) {
	if p == nil {
		return nil, errors.New("restore: payload is nil")
	}
	if p.UserID != userID {
		e.log.Warn().
			Str("requested_user", userID).
			Str("backup_user", p.UserID).
			Msg("restore rejected: backup owner mismatch")
		return nil, ErrOwnerMismatch
	}
	if s == nil {
		return nil, invalidRequest("restore strategy is required")
	}

	var (
		tables []string
		apply  func(context.Context, storage.TableWriter, storage.Table, []model.Record, *model.TableResult) error
	)
	res := model.NewRestoreResult()

	switch st := s.(type) {
	case Full:
		tables = p.TableNames()
		apply = e.replaceTable(userID)
	case Selective:
		for _, name := range st.Tables {
			if _, ok := p.Tables[name]; !ok {
				res.Table(name).Status = model.TableSkipped
				continue
			}
			tables = append(tables, name)
		}
		sort.Strings(tables)
		apply = e.replaceTable(userID)
	case Merge:
		tables = p.TableNames()
		apply = e.mergeTable(userID, st.Options)
	default:
		return nil, invalidRequest("unsupported restore strategy %T", s)
	}

	for i, name := range tables {
		if err := ctx.Err(); err != nil {
			for _, rest := range tables[i:] {
				res.Table(rest).Status = model.TableCancelled
			}
			res.Finalize()
			return res, err
		}

		tr := res.Table(name)
		tbl, ok := e.lookup(name)
		if !ok {
			tr.Errors = append(tr.Errors, fmt.Sprintf("%s: %s", ErrUnknownTable, name))
			continue
		}
		e.restoreTable(ctx, tbl, p.Tables[name], tr, apply)
	}

	res.Finalize()
	inserted, updated, skipped, errs := res.Totals()
	e.log.Info().
		Str("user", userID).
		Str("strategy", s.Name()).
		Bool("success", res.Success).
		Int("inserted", inserted).
		Int("updated", updated).
		Int("skipped", skipped).
		Int("errors", errs).
		Msg("restore completed")
	return res, nil
}

func (e *Engine) restoreTable(
	ctx context.Context,
	tbl storage.Table,
	rows []model.Record,
	tr *model.TableResult,
	apply func(context.Context, storage.TableWriter, storage.Table, []model.Record, *model.TableResult) error,
) {
	var staged model.TableResult
	staged.Errors = []string{}
	err := e.sink.WriteTx(ctx, func(w storage.TableWriter) error {
		return apply(ctx, w, tbl, rows, &staged)
	})
	if err != nil {
		// Nothing from this table was committed.
		tr.Errors = append(tr.Errors, staged.Errors...)
		tr.Errors = append(tr.Errors, fmt.Sprintf("%s: %v", tbl.Name, err))
		tr.Status = model.TableFailed
		return
	}
	tr.Inserted += staged.Inserted
	tr.Updated += staged.Updated
	tr.Skipped += staged.Skipped
	tr.Errors = append(tr.Errors, staged.Errors...)
}

func (e *Engine) replaceTable(userID string) func(context.Context, storage.TableWriter, storage.Table, []model.Record, *model.TableResult) error {
	return func(ctx context.Context, w storage.TableWriter, tbl storage.Table, rows []model.Record, tr *model.TableResult) error {
		if _, err := w.DeleteOwned(ctx, tbl, userID); err != nil {
			return fmt.Errorf("delete existing rows: %w", err)
		}
		for i, rec := range rows {
			if err := w.Insert(ctx, tbl, userID, rec); err != nil {
				tr.Errors = append(tr.Errors, recordError(tbl, i, rec, err))
				continue
			}
			tr.Inserted++
		}
		return nil
	}
}

func (e *Engine) mergeTable(userID string, opts model.MergeOptions) func(context.Context, storage.TableWriter, storage.Table, []model.Record, *model.TableResult) error {
	return func(ctx context.Context, w storage.TableWriter, tbl storage.Table, rows []model.Record, tr *model.TableResult) error {
		for i, rec := range rows {
			existing, found, err := w.Lookup(ctx, tbl, userID, rec)
			if err != nil {
				tr.Errors = append(tr.Errors, recordError(tbl, i, rec, err))
				continue
			}
			if !found {
				if err := w.Insert(ctx, tbl, userID, rec); err != nil {
					tr.Errors = append(tr.Errors, recordError(tbl, i, rec, err))
					continue
				}
				tr.Inserted++
				continue
			}

			merged, changed := mergeRecord(tbl, existing, rec, opts)
			if !changed {
				tr.Skipped++
				continue
			}
			if err := w.Update(ctx, tbl, userID, merged); err != nil {
				tr.Errors = append(tr.Errors, recordError(tbl, i, rec, err))
				continue
			}
			tr.Updated++
		}
		return nil
	}
}

func recordError(tbl storage.Table, i int, rec model.Record, err error) string {
	var key []string
	for _, k := range tbl.KeyColumns {
		key = append(key, fmt.Sprintf("%s=%v", k, rec[k]))
	}
	return fmt.Sprintf("%s[%d] (%s): %v", tbl.Name, i, strings.Join(key, ","), err)
}
