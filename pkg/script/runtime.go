// Package script defines the expression evaluation contract used for split
// selectors and task parameter mappings, plus a pool for reusing the
// underlying interpreter instances.
package script

// Runtime evaluates one expression against a variable context. The engine
// never interprets evaluation failures; they surface as EvaluationError to
// the caller.
type Runtime interface {
	Evaluate(expression string, variableContext map[string]any) (any, error)
}

type Runner interface {
	Runner()
}

type RunnerFactory interface {
	NewRunner() Runner
}
