package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/insight-gateway/internal/domain"
	"github.com/tjfontaine/insight-gateway/internal/storage"
)

func newMemStore(t *testing.T, name string) *Store {
	t.Helper()
	// Use in-memory SQLite with shared cache for testing
	store, err := New("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_SaveAndGet(t *testing.T) {
	store := newMemStore(t, "runs1")

	rec := &storage.RunRecord{
		ID:       "rec-1",
		Kind:     domain.PipelineChannel,
		InputURL: "https://youtube.com/@someone",
		Status:   storage.StatusSubmitting,
	}
	if err := store.SaveRun(context.Background(), rec); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	got, err := store.GetRun(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Kind != domain.PipelineChannel {
		t.Errorf("Kind = %v, want channel", got.Kind)
	}
	if got.InputURL != rec.InputURL {
		t.Errorf("InputURL = %v, want %v", got.InputURL, rec.InputURL)
	}
	if got.RunHandle != "" {
		t.Errorf("RunHandle = %v, want empty", got.RunHandle)
	}
}

func TestSQLiteStore_UpsertOutcome(t *testing.T) {
	store := newMemStore(t, "runs2")
	ctx := context.Background()

	rec := &storage.RunRecord{ID: "rec-2", Kind: domain.PipelineVideo, InputURL: "u", Status: storage.StatusRunning, RunHandle: "run-1"}
	if err := store.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	rec.Status = string(domain.KindPollTimeout)
	rec.Error = "poll_timeout: run did not finish"
	rec.Elapsed = 601 * time.Second
	if err := store.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun() update error = %v", err)
	}

	got, err := store.GetRun(ctx, "rec-2")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != string(domain.KindPollTimeout) {
		t.Errorf("Status = %v, want poll_timeout", got.Status)
	}
	if got.Elapsed != 601*time.Second {
		t.Errorf("Elapsed = %v, want 601s", got.Elapsed)
	}
	if got.RunHandle != "run-1" {
		t.Errorf("RunHandle = %v, want run-1", got.RunHandle)
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := newMemStore(t, "runs3")

	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_ListRuns(t *testing.T) {
	store := newMemStore(t, "runs4")
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { tick = tick.Add(time.Minute); return tick }

	for i := 0; i < 5; i++ {
		rec := &storage.RunRecord{ID: fmt.Sprintf("rec-%d", i), Kind: domain.PipelineVideo, InputURL: "u", Status: storage.StatusRunning}
		if err := store.SaveRun(context.Background(), rec); err != nil {
			t.Fatalf("SaveRun() error = %v", err)
		}
	}

	runs, err := store.ListRuns(context.Background(), storage.ListOptions{Limit: 3})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("ListRuns() count = %d, want 3", len(runs))
	}
	if runs[0].ID != "rec-4" {
		t.Errorf("runs[0].ID = %v, want rec-4", runs[0].ID)
	}
}

func TestSQLiteStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")

	store, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	rec := &storage.RunRecord{ID: "persist-test", Kind: domain.PipelineVideo, InputURL: "u", Status: storage.StatusDone}
	if err := store.SaveRun(context.Background(), rec); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	store.Close()

	// Reopen and verify data persisted
	store2, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store2.Close()

	got, err := store2.GetRun(context.Background(), "persist-test")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != storage.StatusDone {
		t.Errorf("Status = %v, want done", got.Status)
	}
}
