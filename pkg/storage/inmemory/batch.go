package inmemory

import (
	"context"
	"errors"

	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
	"github.com/caseflow-io/caseflow/pkg/storage"
)

// StorageBatch queues writes and applies them on Flush. Values are copied at
// queue time, so later mutation of the caller's structs does not leak into
// the batch.
type StorageBatch struct {
	db        *Storage
	stmtToRun []func() error
}

var _ storage.Batch = &StorageBatch{}

func (b *StorageBatch) Flush(ctx context.Context) error {
	var joinErr error
	for _, stmt := range b.stmtToRun {
		if err := stmt(); err != nil {
			joinErr = errors.Join(joinErr, err)
		}
	}
	b.stmtToRun = b.stmtToRun[:0]
	return joinErr
}

func (b *StorageBatch) SaveCase(ctx context.Context, c runtime.Case) error {
	c.Marking = c.Marking.Clone()
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.SaveCase(ctx, c)
	})
	return nil
}

func (b *StorageBatch) SaveWorkItem(ctx context.Context, wi runtime.WorkItem) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.SaveWorkItem(ctx, wi)
	})
	return nil
}

func (b *StorageBatch) SaveMIGroup(ctx context.Context, group runtime.MIGroup) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.SaveMIGroup(ctx, group)
	})
	return nil
}

func (b *StorageBatch) SaveExecutionRecord(ctx context.Context, rec runtime.ExecutionRecord) error {
	b.stmtToRun = append(b.stmtToRun, func() error {
		return b.db.SaveExecutionRecord(ctx, rec)
	})
	return nil
}
