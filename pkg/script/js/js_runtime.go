// Package js evaluates selector and parameter expressions as JavaScript on
// goja virtual machines drawn from a shared pool.
package js

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/caseflow-io/caseflow/pkg/script"
)

type JsRunnerFactory struct{}

func (JsRunnerFactory) NewRunner() script.Runner {
	return newJsRunner()
}

type JsRuntime struct {
	pool *script.RunnerPool
}

var _ script.Runtime = &JsRuntime{}

func NewJsRuntime(ctx context.Context, maxPoolSize, minPoolSize int) *JsRuntime {
	return &JsRuntime{
		pool: script.NewRunnerPool(ctx, JsRunnerFactory{}, maxPoolSize, minPoolSize),
	}
}

func (r *JsRuntime) Evaluate(expression string, variableContext map[string]any) (any, error) {
	runner := r.pool.Get()
	defer r.pool.Put(runner)

	return runner.(*JsRunner).evaluate(expression, variableContext)
}

type JsRunner struct {
	vm *goja.Runtime
}

func (r *JsRunner) Runner() {}

func newJsRunner() *JsRunner {
	return &JsRunner{vm: goja.New()}
}

func (r *JsRunner) evaluate(expression string, variableContext map[string]any) (any, error) {
	for k, v := range variableContext {
		if err := r.vm.Set(k, v); err != nil {
			return nil, fmt.Errorf("error binding variable %q: %w", k, err)
		}
	}
	// variables are rebound on every call; stale bindings from a previous
	// evaluation are cleared to keep pooled vms context-free
	defer func() {
		for k := range variableContext {
			_ = r.vm.GlobalObject().Delete(k)
		}
	}()

	resp, err := r.vm.RunString(expression)
	if err != nil {
		return nil, fmt.Errorf("error evaluating expression %q: %w", expression, err)
	}
	return resp.Export(), nil
}
