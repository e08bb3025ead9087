package script

import (
	"context"
	"sync"
	"time"
)

// RunnerPool keeps between min and max interpreter instances alive and hands
// them out to concurrent evaluations. Idle runners above the minimum are
// dropped every cleanupInterval.
type RunnerPool struct {
	pool          chan Runner
	runnerFactory RunnerFactory
	activeCount   int
	activeMu      sync.Mutex
	maxPoolSize   int
	minPoolSize   int
}

const cleanupInterval = 10 * time.Minute

func NewRunnerPool(ctx context.Context, runnerFactory RunnerFactory, maxPoolSize, minPoolSize int) *RunnerPool {
	if maxPoolSize < minPoolSize {
		panic("script runner pool max size is smaller than min size")
	}

	p := RunnerPool{
		pool:          make(chan Runner, maxPoolSize),
		runnerFactory: runnerFactory,
		maxPoolSize:   maxPoolSize,
		minPoolSize:   minPoolSize,
	}

	for i := 0; i < minPoolSize; i++ {
		p.activeMu.Lock()
		p.pool <- p.runnerFactory.NewRunner()
		p.activeCount++
		p.activeMu.Unlock()
	}

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for len(p.pool) > minPoolSize {
					p.activeMu.Lock()
					<-p.pool
					p.activeCount--
					p.activeMu.Unlock()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return &p
}

func (p *RunnerPool) Get() Runner {
	var runner Runner
	select {
	case runner = <-p.pool:
	default:
		p.activeMu.Lock()
		if p.activeCount < p.maxPoolSize {
			runner = p.runnerFactory.NewRunner()
			p.activeCount++
		}
		p.activeMu.Unlock()
		if runner == nil {
			runner = <-p.pool
		}
	}
	return runner
}

func (p *RunnerPool) Put(runner Runner) {
	select {
	case p.pool <- runner:
	default:
		p.activeMu.Lock()
		p.activeCount--
		p.activeMu.Unlock()
	}
}
