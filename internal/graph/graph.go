// Package graph computes execution levels and dependency closures over
// an issue map.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mwhitfield/foreman/pkg/models"
)

// ErrCycleDetected indicates a circular dependency in the issue graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// Validate checks that every dependency names a known issue. A
// dependency on an issue in the done set is allowed; it is simply
// already satisfied.
func Validate(issues map[string]*models.Issue, done map[string]bool) error {
	for name, issue := range issues {
		for _, dep := range issue.DependsOn {
			if _, ok := issues[dep]; !ok && !done[dep] {
				return fmt.Errorf("issue %s depends on unknown issue %s", name, dep)
			}
		}
	}
	return nil
}

// ComputeLevels partitions the issues into execution levels by Kahn's
// algorithm over depends_on. Dependencies in the done set count as
// satisfied. Issues within a level are ordered by sequence number so
// level contents are deterministic. Returns ErrCycleDetected when the
// remaining graph is cyclic.
func ComputeLevels(issues map[string]*models.Issue, done map[string]bool) ([][]string, error) {
	if err := Validate(issues, done); err != nil {
		return nil, err
	}

	indegree := make(map[string]int, len(issues))
	dependents := make(map[string][]string, len(issues))
	for name, issue := range issues {
		indegree[name] = 0
		for _, dep := range issue.DependsOn {
			if done[dep] {
				continue
			}
			if _, ok := issues[dep]; !ok {
				continue
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var frontier []string
	for name, deg := range indegree {
		if deg == 0 {
			frontier = append(frontier, name)
		}
	}

	var levels [][]string
	placed := 0
	for len(frontier) > 0 {
		sortBySequence(frontier, issues)
		levels = append(levels, frontier)
		placed += len(frontier)

		var next []string
		for _, name := range frontier {
			for _, dep := range dependents[name] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		frontier = next
	}

	if placed != len(issues) {
		return nil, ErrCycleDetected
	}
	return levels, nil
}

// Downstream returns the transitive dependents of root, breadth-first,
// excluding root itself.
func Downstream(issues map[string]*models.Issue, root string) []string {
	dependents := make(map[string][]string, len(issues))
	for name, issue := range issues {
		for _, dep := range issue.DependsOn {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	seen := map[string]bool{root: true}
	queue := []string{root}
	var result []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		next := dependents[current]
		sortBySequence(next, issues)
		for _, name := range next {
			if seen[name] {
				continue
			}
			seen[name] = true
			result = append(result, name)
			queue = append(queue, name)
		}
	}
	return result
}

// FileConflicts reports pairs of issues in the same level whose touched
// file sets intersect. Conflicts are advisory.
func FileConflicts(issues map[string]*models.Issue, levels [][]string) []models.FileConflict {
	var conflicts []models.FileConflict
	for levelIdx, level := range levels {
		for i := 0; i < len(level); i++ {
			for j := i + 1; j < len(level); j++ {
				a, b := issues[level[i]], issues[level[j]]
				if a == nil || b == nil {
					continue
				}
				shared := intersect(a.TouchedFiles(), b.TouchedFiles())
				if len(shared) > 0 {
					conflicts = append(conflicts, models.FileConflict{
						Level:  levelIdx,
						IssueA: a.Name,
						IssueB: b.Name,
						Files:  shared,
					})
				}
			}
		}
	}
	return conflicts
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, f := range a {
		set[f] = true
	}
	var shared []string
	for _, f := range b {
		if set[f] {
			shared = append(shared, f)
		}
	}
	sort.Strings(shared)
	return shared
}

func sortBySequence(names []string, issues map[string]*models.Issue) {
	sort.Slice(names, func(i, j int) bool {
		a, b := issues[names[i]], issues[names[j]]
		if a == nil || b == nil {
			return names[i] < names[j]
		}
		if a.SequenceNumber != b.SequenceNumber {
			return a.SequenceNumber < b.SequenceNumber
		}
		return a.Name < b.Name
	})
}
