package models

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestMarkStatusKeepsListsDisjoint(t *testing.T) {
	s := NewDAGState("/repo", "/artifacts")
	s.Issues["a"] = &Issue{Name: "a", SequenceNumber: 1}

	s.MarkInFlight([]string{"a"})
	if len(s.InFlight) != 1 {
		t.Fatalf("expected a in flight, got %v", s.InFlight)
	}

	s.MarkStatus("a", OutcomeCompleted)
	if len(s.InFlight) != 0 {
		t.Errorf("in-flight not cleared: %v", s.InFlight)
	}
	if len(s.Completed) != 1 || s.Completed[0] != "a" {
		t.Errorf("completed = %v, want [a]", s.Completed)
	}

	s.MarkStatus("a", OutcomeSkipped)
	if len(s.Completed) != 0 {
		t.Errorf("completed not cleared on re-mark: %v", s.Completed)
	}
	if len(s.Skipped) != 1 || s.Skipped[0] != "a" {
		t.Errorf("skipped = %v, want [a]", s.Skipped)
	}
}

func TestRemainingIssuesOrderedBySequence(t *testing.T) {
	s := NewDAGState("/repo", "/artifacts")
	s.Issues["c"] = &Issue{Name: "c", SequenceNumber: 3}
	s.Issues["a"] = &Issue{Name: "a", SequenceNumber: 1}
	s.Issues["b"] = &Issue{Name: "b", SequenceNumber: 2}
	s.MarkStatus("b", OutcomeCompleted)

	rem := s.RemainingIssues()
	if len(rem) != 2 {
		t.Fatalf("remaining = %d, want 2", len(rem))
	}
	if rem[0].Name != "a" || rem[1].Name != "c" {
		t.Errorf("order = [%s %s], want [a c]", rem[0].Name, rem[1].Name)
	}
}

func TestDAGStateRoundTrip(t *testing.T) {
	s := NewDAGState("/repo", "/artifacts")
	s.Issues["a"] = &Issue{
		Name:               "a",
		Title:              "First",
		AcceptanceCriteria: []string{"does the thing"},
		SequenceNumber:     1,
		Guidance:           IssueGuidance{EstimatedScope: ScopeSmall, NeedsDeeperQA: true},
	}
	s.Levels = [][]string{{"a"}}
	s.MarkStatus("a", OutcomeCompletedWithDebt)
	s.AccumulatedDebt = []DebtItem{{
		Kind:      DebtDroppedCriterion,
		Criterion: "does the thing",
		IssueName: "a",
		Severity:  SeverityMedium,
	}}
	s.ReplanHistory = []*ReplanDecision{{Action: ReplanContinue, Rationale: "nothing to change"}}
	s.Git = GitTracking{IntegrationBranch: "foreman/integration", Mode: GitModeExisting}
	s.Version = 4

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back DAGState
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(s, &back) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", &back, s)
	}
}

func TestTouchedFilesDeduplicates(t *testing.T) {
	i := &Issue{
		FilesToCreate: []string{"a.go", "b.go"},
		FilesToModify: []string{"b.go", "c.go"},
	}
	got := i.TouchedFiles()
	want := []string{"a.go", "b.go", "c.go"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TouchedFiles() = %v, want %v", got, want)
	}
}

func TestMergeResultBranchPartitions(t *testing.T) {
	m := &MergeResult{Branches: []BranchMerge{
		{Branch: "issue/01-a", Status: BranchMerged},
		{Branch: "issue/02-b", Status: BranchConflictResolved},
		{Branch: "issue/03-c", Status: BranchFailed},
	}}
	if got := m.MergedBranches(); !reflect.DeepEqual(got, []string{"issue/01-a", "issue/02-b"}) {
		t.Errorf("MergedBranches() = %v", got)
	}
	if got := m.FailedBranches(); !reflect.DeepEqual(got, []string{"issue/03-c"}) {
		t.Errorf("FailedBranches() = %v", got)
	}
}
