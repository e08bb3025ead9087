package flownet

// CanReachWithout reports whether a token residing on from can structurally
// arrive at condition to via any firing sequence that never fires the
// excluded task. It deliberately over-approximates: every flow is treated as
// traversable regardless of split predicates, which makes the OR-join that
// builds on it wait rather than fire early.
func (n *Net) CanReachWithout(from, to CondIdx, excluding TaskIdx) bool {
	if from == to {
		return true
	}
	n.link()
	seen := make([]bool, len(n.Conditions))
	seen[from] = true
	queue := []CondIdx{from}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, t := range n.condConsumers[c] {
			if t == excluding {
				continue
			}
			for _, out := range n.Tasks[t].Outputs {
				if out.To == to {
					return true
				}
				if !seen[out.To] {
					seen[out.To] = true
					queue = append(queue, out.To)
				}
			}
		}
	}
	return false
}
