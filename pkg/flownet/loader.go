package flownet

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type specDoc struct {
	ID         string         `yaml:"id" validate:"required"`
	Name       string         `yaml:"name"`
	Conditions []conditionDoc `yaml:"conditions" validate:"required,min=1,dive"`
	Initial    []string       `yaml:"initial" validate:"required,min=1"`
	Tasks      []taskDoc      `yaml:"tasks" validate:"required,min=1,dive"`
}

type conditionDoc struct {
	ID   string `yaml:"id" validate:"required"`
	Name string `yaml:"name"`
}

// UnmarshalYAML accepts either a bare condition id or a {id, name} mapping.
func (c *conditionDoc) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&c.ID)
	}
	type raw conditionDoc
	return value.Decode((*raw)(c))
}

type taskDoc struct {
	ID         string            `yaml:"id" validate:"required"`
	Name       string            `yaml:"name"`
	Join       string            `yaml:"join"`
	Split      string            `yaml:"split"`
	Inputs     []string          `yaml:"inputs" validate:"required,min=1"`
	Outputs    []outputDoc       `yaml:"outputs"`
	Multi      *multiDoc         `yaml:"multi"`
	Cancel     *cancelDoc        `yaml:"cancel"`
	Timeout    string            `yaml:"timeout"`
	Params     map[string]string `yaml:"params"`
	Resourcing resourcingDoc     `yaml:"resourcing"`
}

type outputDoc struct {
	To   string `yaml:"to" validate:"required"`
	When string `yaml:"when"`
}

// UnmarshalYAML accepts either a bare condition id or a {to, when} mapping.
func (o *outputDoc) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&o.To)
	}
	type raw outputDoc
	return value.Decode((*raw)(o))
}

type multiDoc struct {
	Min       int `yaml:"min" validate:"min=1"`
	Max       int `yaml:"max" validate:"min=1"`
	Threshold int `yaml:"threshold" validate:"min=1"`
}

type cancelDoc struct {
	Conditions []string `yaml:"conditions"`
	Tasks      []string `yaml:"tasks"`
}

type resourcingDoc struct {
	Roles          []string `yaml:"roles"`
	Capabilities   []string `yaml:"capabilities"`
	OrgGroups      []string `yaml:"orgGroups"`
	Allocator      string   `yaml:"allocator" validate:"omitempty,oneof=round-robin shortest-queue random direct"`
	Assignee       string   `yaml:"assignee"`
	AutoStart      bool     `yaml:"autoStart"`
	SeparationFrom []string `yaml:"separationFrom"`
	FourEyesWith   []string `yaml:"fourEyesWith"`
}

// Load parses a YAML specification document and validates the resulting net.
// The returned specification carries Version 0; the engine assigns the
// deployed version.
func Load(data []byte) (*Specification, error) {
	var doc specDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Issues: []string{fmt.Sprintf("invalid yaml: %s", err)}}
	}
	if err := validate.Struct(doc); err != nil {
		return nil, &ValidationError{SpecID: doc.ID, Issues: []string{err.Error()}}
	}

	net := &Net{}
	condIdx := map[string]CondIdx{}
	for _, c := range doc.Conditions {
		if _, dup := condIdx[c.ID]; dup {
			return nil, &ValidationError{SpecID: doc.ID, Issues: []string{fmt.Sprintf("duplicate condition id %q", c.ID)}}
		}
		condIdx[c.ID] = CondIdx(len(net.Conditions))
		net.Conditions = append(net.Conditions, Condition{ID: c.ID, Name: c.Name})
	}

	resolveCond := func(owner, id string) (CondIdx, error) {
		idx, ok := condIdx[id]
		if !ok {
			return -1, &ValidationError{SpecID: doc.ID, Issues: []string{fmt.Sprintf("%s references unknown condition %q", owner, id)}}
		}
		return idx, nil
	}

	for _, id := range doc.Initial {
		idx, err := resolveCond("initial marking", id)
		if err != nil {
			return nil, err
		}
		net.Initial = append(net.Initial, idx)
	}

	for _, td := range doc.Tasks {
		task := Task{
			ID:     td.ID,
			Name:   td.Name,
			Join:   joinTypeOrDefault(td.Join),
			Split:  splitTypeOrDefault(td.Split),
			Params: td.Params,
			Resourcing: Resourcing{
				Roles:          td.Resourcing.Roles,
				Capabilities:   td.Resourcing.Capabilities,
				OrgGroups:      td.Resourcing.OrgGroups,
				Allocator:      td.Resourcing.Allocator,
				Assignee:       td.Resourcing.Assignee,
				AutoStart:      td.Resourcing.AutoStart,
				SeparationFrom: td.Resourcing.SeparationFrom,
				FourEyesWith:   td.Resourcing.FourEyesWith,
			},
		}
		for _, in := range td.Inputs {
			idx, err := resolveCond("task "+td.ID, in)
			if err != nil {
				return nil, err
			}
			task.Inputs = append(task.Inputs, idx)
		}
		for _, out := range td.Outputs {
			idx, err := resolveCond("task "+td.ID, out.To)
			if err != nil {
				return nil, err
			}
			task.Outputs = append(task.Outputs, Output{To: idx, When: out.When})
		}
		if td.Timeout != "" {
			d, err := time.ParseDuration(td.Timeout)
			if err != nil {
				return nil, &ValidationError{SpecID: doc.ID, Issues: []string{fmt.Sprintf("task %s has invalid timeout %q: %s", td.ID, td.Timeout, err)}}
			}
			task.Timeout = d
		}
		if td.Multi != nil {
			task.Multi = &MultiInstance{Min: td.Multi.Min, Max: td.Multi.Max, Threshold: td.Multi.Threshold}
		}
		if td.Cancel != nil {
			task.Cancel = &CancelRegion{}
			for _, id := range td.Cancel.Conditions {
				idx, err := resolveCond("task "+td.ID+" cancel region", id)
				if err != nil {
					return nil, err
				}
				task.Cancel.Conditions = append(task.Cancel.Conditions, idx)
			}
			// task members resolved after all tasks are known
		}
		net.Tasks = append(net.Tasks, task)
	}

	// second pass: cancel regions may reference tasks declared later
	for i, td := range doc.Tasks {
		if td.Cancel == nil {
			continue
		}
		for _, id := range td.Cancel.Tasks {
			idx, ok := net.TaskByID(id)
			if !ok {
				return nil, &ValidationError{SpecID: doc.ID, Issues: []string{fmt.Sprintf("task %s cancel region references unknown task %q", td.ID, id)}}
			}
			net.Tasks[i].Cancel.Tasks = append(net.Tasks[i].Cancel.Tasks, idx)
		}
	}

	spec := &Specification{ID: doc.ID, Name: doc.Name, Net: net}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func joinTypeOrDefault(s string) JoinType {
	if s == "" {
		return JoinAnd
	}
	return JoinType(s)
}

func splitTypeOrDefault(s string) SplitType {
	if s == "" {
		return SplitAnd
	}
	return SplitType(s)
}
