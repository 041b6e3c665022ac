package workflow

import (
	"fmt"
	"strings"
)

// validateDAG checks step specs for duplicate ids, unknown dependencies, and
// cycles. Cycle detection uses Kahn's algorithm: if the topological sort
// cannot consume every node, the remainder forms at least one cycle.
func validateDAG(specs []StepSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("workflow has no steps")
	}

	known := make(map[string]bool, len(specs))
	for _, sp := range specs {
		if sp.ID == "" {
			return fmt.Errorf("step with empty id")
		}
		if sp.Agent == "" {
			return fmt.Errorf("step %s has no agent", sp.ID)
		}
		if known[sp.ID] {
			return fmt.Errorf("duplicate step id: %s", sp.ID)
		}
		known[sp.ID] = true
	}

	inDegree := make(map[string]int, len(specs))
	dependents := make(map[string][]string, len(specs))
	for _, sp := range specs {
		if _, ok := inDegree[sp.ID]; !ok {
			inDegree[sp.ID] = 0
		}
		for _, dep := range sp.Dependencies {
			if dep == sp.ID {
				return fmt.Errorf("step %s depends on itself", sp.ID)
			}
			if !known[dep] {
				return fmt.Errorf("step %s depends on unknown step %s", sp.ID, dep)
			}
			dependents[dep] = append(dependents[dep], sp.ID)
			inDegree[sp.ID]++
		}
	}

	queue := make([]string, 0, len(specs))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range dependents[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if processed != len(specs) {
		var cyclic []string
		for id, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}
		return fmt.Errorf("cyclic dependencies involving steps: %s", strings.Join(cyclic, ", "))
	}
	return nil
}
