package backup

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"time"

	"prepflow-go/internal/model"
	"prepflow-go/internal/storage"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// mergeRecord resolves incoming against existing column by column. Key and
// owner columns always keep the existing value. changed is false when the
// result equals existing.
func mergeRecord(tbl storage.Table, existing, incoming model.Record, opts model.MergeOptions) (model.Record, bool) {
	_, tsCol := opts.TablePolicy(tbl.Name)
	incomingNewer := newerTimestamp(incoming[tsCol], existing[tsCol])

	out := existing.Clone()
	changed := false
	for _, col := range incoming.Columns() {
		if tbl.IsKey(col) || col == tbl.OwnerColumn() {
			continue
		}
		in := incoming[col]
		cur, had := existing[col]

		takeIncoming := false
		switch opts.FieldPolicy(tbl.Name, col) {
		case model.PreferIncoming:
			takeIncoming = true
		case model.PreferExisting:
			takeIncoming = !had
		case model.PreferNewestTimestamp:
			takeIncoming = incomingNewer || !had
		}
		if !takeIncoming || (had && valuesEqual(cur, in)) {
			continue
		}
		out[col] = in
		changed = true
	}
	return out, changed
}

// newerTimestamp reports whether a is strictly newer than b. An unparseable or
// missing incoming timestamp never wins; a parseable one beats a missing one.
func newerTimestamp(a, b any) bool {
	ta, ok := parseTimestamp(a)
	if !ok {
		return false
	}
	tb, ok := parseTimestamp(b)
	if !ok {
		return true
	}
	return ta.After(tb)
}

func parseTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case int64:
		return unixTimestamp(float64(x)), true
	case int:
		return unixTimestamp(float64(x)), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return time.Time{}, false
		}
		return unixTimestamp(x), true
	case []byte:
		return parseTimestamp(string(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return unixTimestamp(f), true
		}
	}
	return time.Time{}, false
}

// unixTimestamp treats values above 1e12 as milliseconds.
func unixTimestamp(f float64) time.Time {
	if math.Abs(f) > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
		return false
	}
	switch x := a.(type) {
	case []byte:
		switch y := b.(type) {
		case []byte:
			return bytes.Equal(x, y)
		case string:
			return string(x) == y
		}
		return false
	case string:
		if y, ok := b.([]byte); ok {
			return x == string(y)
		}
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}
