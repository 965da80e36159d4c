package model

import "sort"

type TableStatus string

const (
	TableRestored  TableStatus = "restored"
	TableSkipped   TableStatus = "skipped"
	TableFailed    TableStatus = "failed"
	TableCancelled TableStatus = "cancelled"
)

type TableResult struct {
	Inserted int         `json:"inserted"`
	Updated  int         `json:"updated"`
	Skipped  int         `json:"skipped"`
	Errors   []string    `json:"errors"`
	Status   TableStatus `json:"status"`
}

type RestoreResult struct {
	Success  bool                    `json:"success"`
	PerTable map[string]*TableResult `json:"perTable"`
}

func NewRestoreResult() *RestoreResult {
	return &RestoreResult{PerTable: map[string]*TableResult{}}
}

// Table returns the entry for name, creating it on first use.
func (r *RestoreResult) Table(name string) *TableResult {
	if r.PerTable == nil {
		r.PerTable = map[string]*TableResult{}
	}
	tr := r.PerTable[name]
	if tr == nil {
		tr = &TableResult{Errors: []string{}, Status: TableRestored}
		r.PerTable[name] = tr
	}
	return tr
}

// Finalize computes Success from the per-table entries.
func (r *RestoreResult) Finalize() {
	ok := true
	for _, tr := range r.PerTable {
		if len(tr.Errors) > 0 {
			ok = false
			if tr.Status == TableRestored {
				tr.Status = TableFailed
			}
		}
		if tr.Status == TableCancelled {
			ok = false
		}
	}
	r.Success = ok
}

// FailedTables lists tables that recorded errors or were cancelled, sorted,
// so a caller can retry just those with a selective restore.
func (r *RestoreResult) FailedTables() []string {
	var out []string
	for name, tr := range r.PerTable {
		if len(tr.Errors) > 0 || tr.Status == TableCancelled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (r *RestoreResult) Totals() (inserted, updated, skipped, errs int) {
	for _, tr := range r.PerTable {
		inserted += tr.Inserted
		updated += tr.Updated
		skipped += tr.Skipped
		errs += len(tr.Errors)
	}
	return
}
