package model

import (
	"fmt"
	"strings"
)

type MergePolicy string

const (
	PreferIncoming        MergePolicy = "preferIncoming"
	PreferExisting        MergePolicy = "preferExisting"
	PreferNewestTimestamp MergePolicy = "preferNewestTimestamp"
)

const DefaultTimestampColumn = "updated_at"

func (p MergePolicy) Valid() bool {
	switch p {
	case PreferIncoming, PreferExisting, PreferNewestTimestamp:
		return true
	default:
		return false
	}
}

type TableMergeOptions struct {
	Policy          MergePolicy            `json:"policy,omitempty"`
	Fields          map[string]MergePolicy `json:"fields,omitempty"`
	TimestampColumn string                 `json:"timestampColumn,omitempty"`
}

type MergeOptions struct {
	Default MergePolicy                  `json:"default,omitempty"`
	Tables  map[string]TableMergeOptions `json:"tables,omitempty"`
}

func (o MergeOptions) Validate() error {
	if o.Default != "" && !o.Default.Valid() {
		return fmt.Errorf("merge options: invalid default policy %q", o.Default)
	}
	for name, t := range o.Tables {
		if t.Policy != "" && !t.Policy.Valid() {
			return fmt.Errorf("merge options: invalid policy %q for table %s", t.Policy, name)
		}
		for field, p := range t.Fields {
			if !p.Valid() {
				return fmt.Errorf("merge options: invalid policy %q for %s.%s", p, name, field)
			}
		}
	}
	return nil
}

// TablePolicy resolves the policy and timestamp column that apply to table.
func (o MergeOptions) TablePolicy(table string) (MergePolicy, string) {
	policy := o.Default
	tsCol := ""
	if t, ok := o.Tables[table]; ok {
		if t.Policy != "" {
			policy = t.Policy
		}
		tsCol = strings.TrimSpace(t.TimestampColumn)
	}
	if policy == "" {
		policy = PreferNewestTimestamp
	}
	if tsCol == "" {
		tsCol = DefaultTimestampColumn
	}
	return policy, tsCol
}

// FieldPolicy returns the per-field override for table.field, or the table policy.
func (o MergeOptions) FieldPolicy(table, field string) MergePolicy {
	if t, ok := o.Tables[table]; ok {
		if p, ok := t.Fields[field]; ok && p != "" {
			return p
		}
	}
	p, _ := o.TablePolicy(table)
	return p
}
