package scheduler

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// linkLocked adds priority edges between t and every live task that has not
// started. The higher-priority side must start first; equal priorities are
// left unordered.
func (s *Scheduler) linkLocked(t *Task) {
	for _, other := range s.live {
		if other.status == TaskRunning || other.status.Terminal() {
			continue
		}
		switch {
		case other.priority > t.priority:
			t.deps = append(t.deps, other)
		case t.priority > other.priority:
			other.deps = append(other.deps, t)
		}
	}
}

// orderTasks returns task IDs in a valid start order using gammazero/toposort.
// Edges to tasks outside the given set are ignored.
func orderTasks(tasks []*Task) ([]string, error) {
	inSet := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		inSet[t.id] = true
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		linked := false
		for _, d := range t.deps {
			if !inSet[d.id] {
				continue
			}
			// Edge (dep, task) means dep must start before task
			edges = append(edges, toposort.Edge{d.id, t.id})
			linked = true
		}
		if !linked {
			edges = append(edges, toposort.Edge{nil, t.id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(tasks) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for _, t := range tasks {
			if !found[t.id] {
				missing = append(missing, t.id)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}
