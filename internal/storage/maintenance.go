package storage

import (
	"context"
	"database/sql"
)

type SQLiteStats struct {
	PageSize      int64
	PageCount     int64
	FreelistCount int64
}

func (s SQLiteStats) TotalBytes() int64 {
	if s.PageSize <= 0 || s.PageCount <= 0 {
		return 0
	}
	return s.PageSize * s.PageCount
}

func (s SQLiteStats) FreeBytes() int64 {
	if s.PageSize <= 0 || s.FreelistCount <= 0 {
		return 0
	}
	return s.PageSize * s.FreelistCount
}

// FreeRatio is the share of the file held by free pages, 0 when unknown.
func (s SQLiteStats) FreeRatio() float64 {
	total := s.TotalBytes()
	if total <= 0 {
		return 0
	}
	return float64(s.FreeBytes()) / float64(total)
}

func ReadSQLiteStats(ctx context.Context, db *sql.DB) (SQLiteStats, error) {
	if db == nil {
		return SQLiteStats{}, nil
	}

	var st SQLiteStats
	pragmas := []struct {
		name string
		dst  *int64
	}{
		{"page_size", &st.PageSize},
		{"page_count", &st.PageCount},
		{"freelist_count", &st.FreelistCount},
	}
	for _, p := range pragmas {
		if err := db.QueryRowContext(ctx, "PRAGMA "+p.name+";").Scan(p.dst); err != nil {
			return SQLiteStats{}, err
		}
	}
	return st, nil
}

// VacuumIfFragmented runs VACUUM and PRAGMA optimize when at least minFreeBytes
// and minFreeRatio of the file are free pages. It reports whether it ran.
func VacuumIfFragmented(ctx context.Context, db *sql.DB, minFreeBytes int64, minFreeRatio float64) (bool, SQLiteStats, error) {
	st, err := ReadSQLiteStats(ctx, db)
	if err != nil {
		return false, st, err
	}
	if st.TotalBytes() <= 0 {
		return false, st, nil
	}
	if minFreeBytes > 0 && st.FreeBytes() < minFreeBytes {
		return false, st, nil
	}
	if minFreeRatio > 0 && st.FreeRatio() < minFreeRatio {
		return false, st, nil
	}
	if _, err := db.ExecContext(ctx, "VACUUM;"); err != nil {
		return false, st, err
	}
	_, _ = db.ExecContext(ctx, "PRAGMA optimize;")
	return true, st, nil
}
