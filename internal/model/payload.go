package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Record is one exported row: column name to scalar value.
// Values are nil, int64, float64, bool, string or []byte.
type Record map[string]any

// Columns returns the record's column names in sorted order.
func (r Record) Columns() []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if b, ok := v.([]byte); ok {
			v = append([]byte(nil), b...)
		}
		out[k] = v
	}
	return out
}

type PayloadMetadata struct {
	RecordCounts map[string]int `json:"recordCounts"`
}

type Payload struct {
	UserID     string              `json:"userId"`
	ExportedAt time.Time           `json:"exportedAt"`
	Metadata   PayloadMetadata     `json:"metadata"`
	Tables     map[string][]Record `json:"tables"`
}

// NewPayload returns an empty payload for userID stamped with exportedAt.
func NewPayload(userID string, exportedAt time.Time) *Payload {
	return &Payload{
		UserID:     userID,
		ExportedAt: exportedAt.UTC(),
		Metadata:   PayloadMetadata{RecordCounts: map[string]int{}},
		Tables:     map[string][]Record{},
	}
}

// SetTable stores rows under name and keeps the record count in step.
func (p *Payload) SetTable(name string, rows []Record) {
	if p.Tables == nil {
		p.Tables = map[string][]Record{}
	}
	if p.Metadata.RecordCounts == nil {
		p.Metadata.RecordCounts = map[string]int{}
	}
	if rows == nil {
		rows = []Record{}
	}
	p.Tables[name] = rows
	p.Metadata.RecordCounts[name] = len(rows)
}

// TableNames returns the payload's table names in sorted order.
func (p *Payload) TableNames() []string {
	names := make([]string, 0, len(p.Tables))
	for name := range p.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Payload) TotalRecords() int {
	n := 0
	for _, rows := range p.Tables {
		n += len(rows)
	}
	return n
}

func (p *Payload) Validate() error {
	if p == nil {
		return errors.New("payload is nil")
	}
	if strings.TrimSpace(p.UserID) == "" {
		return errors.New("payload: user id is empty")
	}
	for name, rows := range p.Tables {
		if strings.TrimSpace(name) == "" {
			return errors.New("payload: empty table name")
		}
		n, ok := p.Metadata.RecordCounts[name]
		if !ok {
			return fmt.Errorf("payload: missing record count for %s", name)
		}
		if n != len(rows) {
			return fmt.Errorf("payload: record count mismatch for %s: %d != %d", name, n, len(rows))
		}
	}
	for name := range p.Metadata.RecordCounts {
		if _, ok := p.Tables[name]; !ok {
			return fmt.Errorf("payload: record count for unknown table %s", name)
		}
	}
	return nil
}
