// Package artifacts persists plan documents, per-issue iteration
// traces, verification results, and the run checkpoint under a single
// artifacts root.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mwhitfield/foreman/pkg/models"
)

// Layout under the artifacts root.
const (
	planDir         = "plan"
	executionDir    = "execution"
	iterationsDir   = "iterations"
	verificationDir = "verification"
	checkpointFile  = "checkpoint.json"
)

// ErrNoCheckpoint is returned by LoadCheckpoint when no usable
// checkpoint exists. A corrupt or empty checkpoint file is reported the
// same way.
var ErrNoCheckpoint = errors.New("no checkpoint")

// Store reads and writes run artifacts rooted at a directory.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir, creating the layout if
// needed.
func NewStore(dir string) (*Store, error) {
	for _, sub := range []string{planDir, filepath.Join(executionDir, iterationsDir), verificationDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create artifacts layout: %w", err)
		}
	}
	return &Store{root: dir}, nil
}

// Root returns the artifacts root directory.
func (s *Store) Root() string { return s.root }

// SaveCheckpoint atomically persists the DAG state. The state's
// version counter is bumped before writing so checkpoints are strictly
// ordered.
func (s *Store) SaveCheckpoint(state *models.DAGState) error {
	state.Version++
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return s.writeAtomic(filepath.Join(executionDir, checkpointFile), data)
}

// LoadCheckpoint reads the persisted DAG state. Missing, empty, or
// undecodable checkpoints all return ErrNoCheckpoint.
func (s *Store) LoadCheckpoint() (*models.DAGState, error) {
	data, err := os.ReadFile(filepath.Join(s.root, executionDir, checkpointFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoCheckpoint
	}
	var state models.DAGState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, ErrNoCheckpoint
	}
	if state.Version == 0 || state.Issues == nil {
		return nil, ErrNoCheckpoint
	}
	return &state, nil
}

// SavePlan writes the planning artifacts: PRD, architecture, review,
// per-issue specs, and the plan rationale.
func (s *Store) SavePlan(plan *models.PlanResult) error {
	docs := map[string]any{
		"prd.json":          plan.PRD,
		"architecture.json": plan.Architecture,
		"review.json":       plan.Review,
		"plan.json":         plan,
	}
	for name, doc := range docs {
		if err := s.writeJSON(filepath.Join(planDir, name), doc); err != nil {
			return err
		}
	}
	for _, issue := range plan.Issues {
		name := fmt.Sprintf("issue-%02d-%s.json", issue.SequenceNumber, issue.Name)
		if err := s.writeJSON(filepath.Join(planDir, name), issue); err != nil {
			return err
		}
	}
	return nil
}

// LoadPlan reads back the combined plan document.
func (s *Store) LoadPlan() (*models.PlanResult, error) {
	data, err := os.ReadFile(filepath.Join(s.root, planDir, "plan.json"))
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var plan models.PlanResult
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &plan, nil
}

// SaveIteration records one coding-loop iteration for an issue.
func (s *Store) SaveIteration(issueName string, rec *models.IterationRecord) error {
	dir := filepath.Join(executionDir, iterationsDir, issueName)
	if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
		return fmt.Errorf("create iteration dir: %w", err)
	}
	return s.writeJSON(filepath.Join(dir, fmt.Sprintf("%02d.json", rec.Iteration)), rec)
}

// LoadIterations returns an issue's iteration records in order. A
// missing directory yields an empty slice.
func (s *Store) LoadIterations(issueName string) ([]*models.IterationRecord, error) {
	dir := filepath.Join(s.root, executionDir, iterationsDir, issueName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read iterations: %w", err)
	}
	var records []*models.IterationRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read iteration %s: %w", e.Name(), err)
		}
		var rec models.IterationRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode iteration %s: %w", e.Name(), err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

// SaveVerification records one verification pass.
func (s *Store) SaveVerification(res *models.VerificationResult) error {
	name := fmt.Sprintf("cycle-%02d.json", res.FixCycle)
	return s.writeJSON(filepath.Join(verificationDir, name), res)
}

// writeJSON marshals v and writes it atomically under the root.
func (s *Store) writeJSON(rel string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", rel, err)
	}
	return s.writeAtomic(rel, data)
}

// writeAtomic writes data to a sibling temp file, fsyncs, then renames
// into place so readers never observe a partial file.
func (s *Store) writeAtomic(rel string, data []byte) error {
	path := filepath.Join(s.root, rel)
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", rel, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s into place: %w", rel, err)
	}
	return nil
}
