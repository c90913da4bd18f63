package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)

// createTestRun inserts a pending run with the given ID.
func createTestRun(t *testing.T, s *Store, id string) Run {
	t.Helper()
	run := Run{
		ID:        id,
		CreatedAt: testEpoch,
		Template:  "ID{POINT_ID}_{DATE}_{TIME}{EXT}",
		Tolerance: 2 * time.Minute,
		RulesHash: "test-hash",
		Status:    RunPending,
	}
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}
	return run
}

// createTestRename builds a planned rename for run.
func createTestRename(runID string, seq int64, src, dst string) Rename {
	return Rename{
		RunID:   runID,
		Seq:     seq,
		Src:     src,
		Dst:     dst,
		PointID: "12",
		Status:  RenamePlanned,
		Delta:   1500 * time.Millisecond,
	}
}
