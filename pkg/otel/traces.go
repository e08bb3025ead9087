package otel

const (
	Prefix               = "caseflow-"
	AttributeCaseKey     = Prefix + "case-key"
	AttributeSpecID      = Prefix + "spec-id"
	AttributeSpecKey     = Prefix + "spec-key"
	AttributeTaskID      = Prefix + "task-id"
	AttributeWorkItemKey = Prefix + "work-item-key"
	AttributeParticipant = Prefix + "participant"
)
