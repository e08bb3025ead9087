package flownet

import (
	"fmt"
	"strings"
)

// ValidationError collects every structural defect found in a net. A net
// failing validation is rejected as a whole; nothing about it is deployed.
type ValidationError struct {
	SpecID string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("malformed net %q: %s", e.SpecID, strings.Join(e.Issues, "; "))
}

// Validate performs every deploy-time check, so that a net accepted here can
// never fail structurally at runtime.
func (s *Specification) Validate() error {
	issues := s.Net.check()
	if s.ID == "" {
		issues = append([]string{"specification id must not be empty"}, issues...)
	}
	if len(issues) > 0 {
		return &ValidationError{SpecID: s.ID, Issues: issues}
	}
	return nil
}

func (n *Net) check() []string {
	var issues []string

	if len(n.Conditions) == 0 {
		issues = append(issues, "net has no conditions")
	}
	if len(n.Tasks) == 0 {
		issues = append(issues, "net has no tasks")
	}
	if len(n.Initial) == 0 {
		issues = append(issues, "net has no initial marking")
	}

	seenCond := map[string]bool{}
	for i, c := range n.Conditions {
		if c.ID == "" {
			issues = append(issues, fmt.Sprintf("condition %d has no id", i))
		}
		if seenCond[c.ID] {
			issues = append(issues, fmt.Sprintf("duplicate condition id %q", c.ID))
		}
		seenCond[c.ID] = true
	}

	condInRange := func(c CondIdx) bool { return c >= 0 && int(c) < len(n.Conditions) }
	taskInRange := func(t TaskIdx) bool { return t >= 0 && int(t) < len(n.Tasks) }

	for _, c := range n.Initial {
		if !condInRange(c) {
			issues = append(issues, fmt.Sprintf("initial marking references condition index %d out of range", c))
		}
	}

	seenTask := map[string]bool{}
	for i, t := range n.Tasks {
		ref := t.ID
		if ref == "" {
			ref = fmt.Sprintf("#%d", i)
			issues = append(issues, fmt.Sprintf("task %d has no id", i))
		}
		if seenTask[t.ID] {
			issues = append(issues, fmt.Sprintf("duplicate task id %q", t.ID))
		}
		seenTask[t.ID] = true

		switch t.Join {
		case JoinAnd, JoinXor, JoinOr:
		default:
			issues = append(issues, fmt.Sprintf("task %s: unknown join type %q", ref, t.Join))
		}
		switch t.Split {
		case SplitAnd, SplitXor, SplitOr:
		default:
			issues = append(issues, fmt.Sprintf("task %s: unknown split type %q", ref, t.Split))
		}

		if len(t.Inputs) == 0 {
			issues = append(issues, fmt.Sprintf("task %s has no input conditions", ref))
		}
		for _, c := range t.Inputs {
			if !condInRange(c) {
				issues = append(issues, fmt.Sprintf("task %s: input condition index %d out of range", ref, c))
			}
		}
		for _, out := range t.Outputs {
			if !condInRange(out.To) {
				issues = append(issues, fmt.Sprintf("task %s: output condition index %d out of range", ref, out.To))
			}
		}

		// joins over a single input and splits over a single output are
		// accepted; they degenerate to plain sequence. A task with no
		// outputs ends its branch: it consumes without producing.
		if len(t.Outputs) == 0 && t.Split != SplitAnd {
			issues = append(issues, fmt.Sprintf("task %s: %s split needs at least one output", ref, t.Split))
		}

		if t.Multi != nil {
			m := t.Multi
			if m.Min < 1 || m.Min > m.Threshold || m.Threshold > m.Max {
				issues = append(issues, fmt.Sprintf("task %s: multi-instance bounds must satisfy 1 <= min <= threshold <= max, got min=%d threshold=%d max=%d",
					ref, m.Min, m.Threshold, m.Max))
			}
		}

		if t.Cancel != nil {
			for _, c := range t.Cancel.Conditions {
				if !condInRange(c) {
					issues = append(issues, fmt.Sprintf("task %s: cancel region condition index %d out of range", ref, c))
				}
			}
			for _, ct := range t.Cancel.Tasks {
				if !taskInRange(ct) {
					issues = append(issues, fmt.Sprintf("task %s: cancel region task index %d out of range", ref, ct))
				}
			}
		}

		for _, conflict := range t.Resourcing.SeparationFrom {
			if _, ok := n.TaskByID(conflict); !ok {
				issues = append(issues, fmt.Sprintf("task %s: separation-of-duties references unknown task %q", ref, conflict))
			}
		}
		for _, prior := range t.Resourcing.FourEyesWith {
			if _, ok := n.TaskByID(prior); !ok {
				issues = append(issues, fmt.Sprintf("task %s: four-eyes references unknown task %q", ref, prior))
			}
		}
		if t.Resourcing.Allocator == "direct" && t.Resourcing.Assignee == "" {
			issues = append(issues, fmt.Sprintf("task %s: direct allocation requires an assignee", ref))
		}
	}

	// out-of-range flows make reachability meaningless
	if len(issues) > 0 {
		return issues
	}

	for t, reached := range n.reachableTasks() {
		if !reached {
			issues = append(issues, fmt.Sprintf("task %s is unreachable from the initial marking", n.Tasks[t].ID))
		}
	}

	return issues
}

// reachableTasks marks every task reachable from the initial marking by
// alternating condition -> consuming task -> produced conditions.
func (n *Net) reachableTasks() []bool {
	n.link()
	seenCond := make([]bool, len(n.Conditions))
	seenTask := make([]bool, len(n.Tasks))

	queue := make([]CondIdx, 0, len(n.Initial))
	for _, c := range n.Initial {
		if !seenCond[c] {
			seenCond[c] = true
			queue = append(queue, c)
		}
	}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, t := range n.condConsumers[c] {
			if seenTask[t] {
				continue
			}
			seenTask[t] = true
			for _, out := range n.Tasks[t].Outputs {
				if !seenCond[out.To] {
					seenCond[out.To] = true
					queue = append(queue, out.To)
				}
			}
		}
	}
	return seenTask
}
