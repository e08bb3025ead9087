package otel

import (
	"errors"

	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds the counters the engine updates on case and work item
// transitions.
type EngineMetrics struct {
	CasesLaunched      metric.Int64Counter
	CasesCompleted     metric.Int64Counter
	CasesRunning       metric.Int64UpDownCounter
	WorkItemsCreated   metric.Int64Counter
	WorkItemsCompleted metric.Int64Counter
	WorkItemsFailed    metric.Int64Counter
	WorkItemsCancelled metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*EngineMetrics, error) {
	var errJoin error

	casesLaunched, err := meter.Int64Counter("cases_launched", metric.WithDescription("Number of cases launched"))
	errJoin = errors.Join(errJoin, err)

	casesCompleted, err := meter.Int64Counter("cases_completed", metric.WithDescription("Number of cases completed"))
	errJoin = errors.Join(errJoin, err)

	casesRunning, err := meter.Int64UpDownCounter("cases_running", metric.WithDescription("Number of cases currently running"))
	errJoin = errors.Join(errJoin, err)

	workItemsCreated, err := meter.Int64Counter("work_items_created", metric.WithDescription("Number of work items created"))
	errJoin = errors.Join(errJoin, err)

	workItemsCompleted, err := meter.Int64Counter("work_items_completed", metric.WithDescription("Number of work items completed"))
	errJoin = errors.Join(errJoin, err)

	workItemsFailed, err := meter.Int64Counter("work_items_failed", metric.WithDescription("Number of work items failed"))
	errJoin = errors.Join(errJoin, err)

	workItemsCancelled, err := meter.Int64Counter("work_items_cancelled", metric.WithDescription("Number of work items cancelled"))
	errJoin = errors.Join(errJoin, err)

	metrics := EngineMetrics{
		CasesLaunched:      casesLaunched,
		CasesCompleted:     casesCompleted,
		CasesRunning:       casesRunning,
		WorkItemsCreated:   workItemsCreated,
		WorkItemsCompleted: workItemsCompleted,
		WorkItemsFailed:    workItemsFailed,
		WorkItemsCancelled: workItemsCancelled,
	}
	return &metrics, errJoin
}
