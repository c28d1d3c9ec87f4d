// Package orchestrator runs the ordered stage pipeline that turns a lab
// plan into a running environment. Stages are declarative: each one
// knows how to detect that it is already satisfied, how to converge the
// node toward its desired state, and how to probe that the state took
// effect. The engine supplies ordering, retries, persistence, and
// resume.
package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/r11/hyperv-commander/pkg/retry"
)

// Stage is one unit of provisioning work bound to a node.
type Stage struct {
	// ID is unique within a lab and stable across runs; the state
	// database keys progress by it.
	ID string
	// Node names the machine the stage acts on, empty for host-side
	// stages such as switch creation.
	Node string
	// Name is the human-readable description shown in status output.
	Name string
	// DependsOn lists stage IDs that must complete first.
	DependsOn []string

	// Check reports whether the desired state already holds, letting
	// resumed runs skip work that survived the interruption. Nil means
	// always run.
	Check func(ctx context.Context) (bool, error)
	// Run converges the node toward the desired state. Nil for
	// readiness-only stages.
	Run func(ctx context.Context) error
	// Ready probes whether the state took effect; it is polled with
	// ReadyPolicy until nil. Wrap an error with retry.Permanent to
	// abort polling early. Nil means Run completing is enough.
	Ready func(ctx context.Context) error
	// ReadyPolicy bounds the Ready polling. Zero value means the
	// default policy.
	ReadyPolicy retry.Policy
}

func (s Stage) readyPolicy() retry.Policy {
	if s.ReadyPolicy == (retry.Policy{}) {
		return retry.DefaultPolicy()
	}
	return s.ReadyPolicy
}

// Sort returns the stages in dependency order. Ties break on stage ID so
// the order is stable across runs.
func Sort(stages []Stage) ([]Stage, error) {
	byID := make(map[string]Stage, len(stages))
	indegree := make(map[string]int, len(stages))
	dependents := make(map[string][]string)

	for _, s := range stages {
		if s.ID == "" {
			return nil, fmt.Errorf("stage with empty ID")
		}
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate stage ID %q", s.ID)
		}
		byID[s.ID] = s
		indegree[s.ID] = 0
	}
	for _, s := range stages {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("stage %q depends on unknown stage %q", s.ID, dep)
			}
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var frontier []string
	for id, deg := range indegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	ordered := make([]Stage, 0, len(stages))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		ordered = append(ordered, byID[id])

		var released []string
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		if len(released) > 0 {
			frontier = append(frontier, released...)
			sort.Strings(frontier)
		}
	}

	if len(ordered) != len(stages) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("dependency cycle involving stages %v", stuck)
	}
	return ordered, nil
}
