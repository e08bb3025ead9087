// Package log exports engine audit events as structured log lines.
package log

import (
	"github.com/hashicorp/go-hclog"

	"github.com/caseflow-io/caseflow/pkg/engine/exporter"
)

type Exporter struct {
	logger hclog.Logger
}

var _ exporter.EventExporter = &Exporter{}

func NewExporter(logger hclog.Logger) *Exporter {
	if logger == nil {
		logger = hclog.Default().Named("audit")
	}
	return &Exporter{logger: logger}
}

func (e *Exporter) NewSpecificationEvent(event *exporter.SpecificationEvent) {
	e.logger.Info("specification deployed",
		"specId", event.SpecID,
		"specKey", event.SpecKey,
		"version", event.Version,
	)
}

func (e *Exporter) NewCaseEvent(event *exporter.CaseEvent) {
	e.logger.Info("case launched",
		"specId", event.SpecID,
		"caseKey", event.CaseKey,
	)
}

func (e *Exporter) EndCaseEvent(event *exporter.CaseEvent) {
	e.logger.Info("case ended",
		"specId", event.SpecID,
		"caseKey", event.CaseKey,
	)
}

func (e *Exporter) NewWorkItemEvent(event *exporter.CaseEvent, info *exporter.WorkItemInfo) {
	e.logger.Info("work item transition",
		"caseKey", event.CaseKey,
		"workItemKey", info.WorkItemKey,
		"taskId", info.TaskID,
		"intent", info.Intent,
		"participant", info.Participant,
	)
}
