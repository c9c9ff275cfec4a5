package artifacts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mwhitfield/foreman/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := newTestStore(t)

	state := models.NewDAGState("/repo", s.Root())
	state.Issues["a"] = &models.Issue{Name: "a", SequenceNumber: 1}
	state.Levels = [][]string{{"a"}}
	state.CurrentLevel = 0

	if err := s.SaveCheckpoint(state); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	if state.Version != 1 {
		t.Errorf("version after first save = %d, want 1", state.Version)
	}

	loaded, err := s.LoadCheckpoint()
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if loaded.Version != 1 || loaded.Issues["a"] == nil {
		t.Errorf("loaded state = %+v", loaded)
	}
}

func TestCheckpointVersionsAreMonotone(t *testing.T) {
	s := newTestStore(t)
	state := models.NewDAGState("/repo", s.Root())
	state.Issues["a"] = &models.Issue{Name: "a"}

	for i := 0; i < 3; i++ {
		if err := s.SaveCheckpoint(state); err != nil {
			t.Fatalf("SaveCheckpoint: %v", err)
		}
	}
	loaded, err := s.LoadCheckpoint()
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if loaded.Version != 3 {
		t.Errorf("version = %d, want 3", loaded.Version)
	}
}

func TestLoadCheckpointMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.LoadCheckpoint(); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("err = %v, want ErrNoCheckpoint", err)
	}
}

func TestLoadCheckpointCorrupt(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.Root(), "execution", "checkpoint.json")

	tests := []struct {
		name string
		data []byte
	}{
		{"empty file", nil},
		{"truncated json", []byte(`{"version": 2, "issues": {`)},
		{"wrong shape", []byte(`[1, 2, 3]`)},
		{"zero version", []byte(`{"version": 0, "issues": {}}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.WriteFile(path, tt.data, 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := s.LoadCheckpoint(); !errors.Is(err, ErrNoCheckpoint) {
				t.Errorf("err = %v, want ErrNoCheckpoint", err)
			}
		})
	}
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	state := models.NewDAGState("/repo", s.Root())
	state.Issues["a"] = &models.Issue{Name: "a"}
	if err := s.SaveCheckpoint(state); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(s.Root(), "execution"))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "checkpoint.json" && e.Name() != "iterations" {
			t.Errorf("unexpected file in execution dir: %s", e.Name())
		}
	}
}

func TestSavePlanAndLoadPlan(t *testing.T) {
	s := newTestStore(t)
	plan := &models.PlanResult{
		PRD: models.PRD{Goal: "add search", Summary: "summary"},
		Architecture: models.Architecture{
			Summary: "three packages",
		},
		Review: models.ArchReview{Approved: true},
		Issues: []*models.Issue{
			{Name: "index", SequenceNumber: 1},
			{Name: "query", SequenceNumber: 2, DependsOn: []string{"index"}},
		},
		Levels: [][]string{{"index"}, {"query"}},
	}
	if err := s.SavePlan(plan); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}

	loaded, err := s.LoadPlan()
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if loaded.PRD.Goal != "add search" || len(loaded.Issues) != 2 {
		t.Errorf("loaded plan = %+v", loaded)
	}

	if _, err := os.Stat(filepath.Join(s.Root(), "plan", "issue-01-index.json")); err != nil {
		t.Errorf("per-issue spec not written: %v", err)
	}
}

func TestIterationRecordsOrdered(t *testing.T) {
	s := newTestStore(t)
	for i := 1; i <= 3; i++ {
		rec := &models.IterationRecord{Iteration: i, Summary: "pass"}
		if err := s.SaveIteration("add-auth", rec); err != nil {
			t.Fatalf("SaveIteration %d: %v", i, err)
		}
	}
	records, err := s.LoadIterations("add-auth")
	if err != nil {
		t.Fatalf("LoadIterations: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	for i, rec := range records {
		if rec.Iteration != i+1 {
			t.Errorf("record %d has iteration %d", i, rec.Iteration)
		}
	}
}

func TestLoadIterationsMissingIssue(t *testing.T) {
	s := newTestStore(t)
	records, err := s.LoadIterations("never-ran")
	if err != nil {
		t.Fatalf("LoadIterations: %v", err)
	}
	if records != nil {
		t.Errorf("records = %v, want nil", records)
	}
}
