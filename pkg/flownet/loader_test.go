package flownet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadResolvesTheWholeDocument(t *testing.T) {
	spec, err := Load([]byte(`
id: order
name: Order handling
conditions:
  - c_start
  - id: c_checked
    name: Order checked
  - c_done
initial: [c_start]
tasks:
  - id: check
    inputs: [c_start]
    outputs: [c_checked]
    timeout: 48h
    params:
      priority: order.priority
  - id: fulfil
    join: xor
    split: xor
    inputs: [c_checked]
    outputs:
      - to: c_done
        when: stock > 0
      - c_done
    multi:
      min: 1
      max: 3
      threshold: 2
    cancel:
      conditions: [c_checked]
      tasks: [cleanup]
    resourcing:
      roles: [picker]
      allocator: round-robin
      autoStart: true
      separationFrom: [check]
  - id: cleanup
    inputs: [c_done]
`))
	require.NoError(t, err)

	assert.Equal(t, "order", spec.ID)
	assert.Equal(t, "Order handling", spec.Name)
	require.Len(t, spec.Net.Conditions, 3)
	assert.Equal(t, "Order checked", spec.Net.Conditions[1].Name)
	assert.Equal(t, []CondIdx{0}, spec.Net.Initial)

	check := spec.Net.Tasks[0]
	assert.Equal(t, JoinAnd, check.Join, "join defaults to and")
	assert.Equal(t, SplitAnd, check.Split, "split defaults to and")
	assert.Equal(t, 48*time.Hour, check.Timeout)
	assert.Equal(t, map[string]string{"priority": "order.priority"}, check.Params)

	fulfil := spec.Net.Tasks[1]
	assert.Equal(t, JoinXor, fulfil.Join)
	require.Len(t, fulfil.Outputs, 2)
	assert.Equal(t, "stock > 0", fulfil.Outputs[0].When)
	assert.Empty(t, fulfil.Outputs[1].When, "scalar outputs carry no predicate")
	require.NotNil(t, fulfil.Multi)
	assert.Equal(t, 2, fulfil.Multi.Threshold)
	assert.True(t, fulfil.Resourcing.AutoStart)
	assert.Equal(t, []string{"check"}, fulfil.Resourcing.SeparationFrom)

	// the cancel region resolved the forward reference to cleanup
	require.NotNil(t, fulfil.Cancel)
	cleanup, ok := spec.Net.TaskByID("cleanup")
	require.True(t, ok)
	assert.Equal(t, []TaskIdx{cleanup}, fulfil.Cancel.Tasks)
	assert.Equal(t, []CondIdx{1}, fulfil.Cancel.Conditions)
}

func TestLoadRejectsBrokenDocuments(t *testing.T) {
	tests := map[string]string{
		"not yaml at all": `{{`,
		"missing id": `
conditions: [c1]
initial: [c1]
tasks:
  - id: a
    inputs: [c1]
`,
		"duplicate condition": `
id: x
conditions: [c1, c1]
initial: [c1]
tasks:
  - id: a
    inputs: [c1]
`,
		"unknown input condition": `
id: x
conditions: [c1]
initial: [c1]
tasks:
  - id: a
    inputs: [nope]
`,
		"unknown output condition": `
id: x
conditions: [c1]
initial: [c1]
tasks:
  - id: a
    inputs: [c1]
    outputs: [nope]
`,
		"unknown initial condition": `
id: x
conditions: [c1]
initial: [nope]
tasks:
  - id: a
    inputs: [c1]
`,
		"unknown cancel task": `
id: x
conditions: [c1]
initial: [c1]
tasks:
  - id: a
    inputs: [c1]
    cancel:
      tasks: [nope]
`,
		"unknown allocator": `
id: x
conditions: [c1]
initial: [c1]
tasks:
  - id: a
    inputs: [c1]
    resourcing:
      allocator: fanciest-first
`,
		"unparsable timeout": `
id: x
conditions: [c1]
initial: [c1]
tasks:
  - id: a
    inputs: [c1]
    timeout: three days
`,
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(doc))
			require.Error(t, err)
			var ve *ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}
