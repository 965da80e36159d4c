package storage

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMetadataStore_RecordAndList(t *testing.T) {
	db := openTestDB(t)
	ms := NewMetadataStore(db)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := ms.RecordBackup(ctx, BackupMetadata{
			ID:             fmt.Sprintf("b%d", i),
			UserID:         "chef1",
			EncryptionMode: "prepflow-only",
			SizeBytes:      int64(100 + i),
			RecordCounts:   map[string]int{"ingredients": i},
			StorageHandle:  fmt.Sprintf("handle-%d", i),
			Filename:       fmt.Sprintf("b%d.pfbk", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("RecordBackup[%d]: %v", i, err)
		}
	}
	if err := ms.RecordBackup(ctx, BackupMetadata{ID: "other", UserID: "chef2", CreatedAt: base}); err != nil {
		t.Fatalf("RecordBackup(other): %v", err)
	}

	list, err := ms.ListBackups(ctx, "chef1", 0)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len mismatch: got %d want 3", len(list))
	}
	if list[0].ID != "b2" {
		t.Fatalf("expected newest first, got %q", list[0].ID)
	}
	if list[0].RecordCounts["ingredients"] != 2 {
		t.Fatalf("record counts not decoded: %#v", list[0].RecordCounts)
	}

	got, ok, err := ms.GetBackup(ctx, "chef2", "b1")
	if err != nil {
		t.Fatalf("GetBackup: %v", err)
	}
	if ok {
		t.Fatalf("backup of chef1 visible to chef2: %#v", got)
	}
}

func TestPruneBackupMetadata(t *testing.T) {
	db := openTestDB(t)
	ms := NewMetadataStore(db)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, user := range []string{"chef1", "chef2"} {
		for i := 0; i < 5; i++ {
			if err := ms.RecordBackup(ctx, BackupMetadata{
				ID:        fmt.Sprintf("%s-%d", user, i),
				UserID:    user,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				t.Fatalf("RecordBackup: %v", err)
			}
		}
	}

	deleted, err := PruneBackupMetadata(ctx, db, 2)
	if err != nil {
		t.Fatalf("PruneBackupMetadata: %v", err)
	}
	if deleted != 6 {
		t.Fatalf("deleted mismatch: got %d want %d", deleted, 6)
	}

	list, err := ms.ListBackups(ctx, "chef1", 0)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(list) != 2 || list[0].ID != "chef1-4" || list[1].ID != "chef1-3" {
		t.Fatalf("unexpected survivors: %#v", list)
	}

	deleted, err = PruneBackupMetadata(ctx, db, 0)
	if err != nil || deleted != 0 {
		t.Fatalf("keep=0 should be a no-op: deleted=%d err=%v", deleted, err)
	}
}
