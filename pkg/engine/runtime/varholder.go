package runtime

// VariableHolder is a parent-scoped variable map. Work items get a child
// holder over their case's holder, so task-local data never leaks upward
// unless explicitly propagated.
type VariableHolder struct {
	parent *VariableHolder
	vars   map[string]any
}

// NewVariableHolder creates a holder with the given parent. When vars is nil
// the parent's variables are copied into the new scope.
func NewVariableHolder(parent *VariableHolder, vars map[string]any) VariableHolder {
	if vars == nil {
		vars = make(map[string]any)
		if parent != nil {
			for k, v := range parent.vars {
				vars[k] = v
			}
		}
	}
	return VariableHolder{parent: parent, vars: vars}
}

func (vh *VariableHolder) Variables() map[string]any {
	if vh.vars == nil {
		vh.vars = make(map[string]any)
	}
	return vh.vars
}

func (vh *VariableHolder) GetVariable(key string) any {
	if v, ok := vh.Variables()[key]; ok {
		return v
	}
	return nil
}

func (vh *VariableHolder) SetVariable(key string, val any) {
	vh.Variables()[key] = val
}

func (vh *VariableHolder) SetVariables(vars map[string]any) {
	for k, v := range vars {
		vh.SetVariable(k, v)
	}
}

// PropagateVariables writes the given values into the parent scope.
func (vh *VariableHolder) PropagateVariables(vars map[string]any) {
	if vh.parent == nil {
		return
	}
	for k, v := range vars {
		vh.parent.SetVariable(k, v)
	}
}
