package runtime

import (
	"fmt"

	"github.com/caseflow-io/caseflow/pkg/flownet"
)

// Marking is the token configuration of a case: a multiset over the
// conditions of its net. Counts never go negative; Consume fails instead.
type Marking map[flownet.CondIdx]int

// NewMarking seeds one token on each of the given conditions.
func NewMarking(initial []flownet.CondIdx) Marking {
	m := Marking{}
	for _, c := range initial {
		m.Add(c, 1)
	}
	return m
}

func (m Marking) Count(c flownet.CondIdx) int {
	return m[c]
}

func (m Marking) Add(c flownet.CondIdx, n int) {
	m[c] += n
}

// Consume removes n tokens from c and fails on underflow. An underflow here
// means the caller fired a task the engine never enabled.
func (m Marking) Consume(c flownet.CondIdx, n int) error {
	if m[c] < n {
		return fmt.Errorf("condition %d holds %d tokens, cannot consume %d", c, m[c], n)
	}
	m[c] -= n
	if m[c] == 0 {
		delete(m, c)
	}
	return nil
}

// Clear removes every token from c and returns how many were withdrawn.
func (m Marking) Clear(c flownet.CondIdx) int {
	n := m[c]
	delete(m, c)
	return n
}

// Total is the number of tokens in the whole case.
func (m Marking) Total() int {
	sum := 0
	for _, n := range m {
		sum += n
	}
	return sum
}

func (m Marking) Clone() Marking {
	out := make(Marking, len(m))
	for c, n := range m {
		out[c] = n
	}
	return out
}
