package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/caseflow-io/caseflow/pkg/engine/exporter"
	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
	"github.com/caseflow-io/caseflow/pkg/flownet"
	"github.com/caseflow-io/caseflow/pkg/otel"
	"github.com/caseflow-io/caseflow/pkg/resource"
	"github.com/caseflow-io/caseflow/pkg/script"
	"github.com/caseflow-io/caseflow/pkg/storage"
)

const specCacheSize = 128

// Engine coordinates cases over deployed specifications: it owns token
// configurations and work item registries and serializes all mutation per
// case. Many cases execute concurrently; one case never does.
type Engine struct {
	name        string
	persistence storage.Storage
	exporters   []exporter.EventExporter
	snowflake   *snowflake.Node
	logger      hclog.Logger
	resources   *resource.Manager
	scripts     script.Runtime
	metrics     *otel.EngineMetrics
	locks       *caseLocks
	specCache   *lru.Cache[int64, *flownet.Specification]

	// strict makes contract violations (firing a task the engine never
	// enabled) panic instead of reject-and-log. Meant for development and
	// tests.
	strict bool
}

type EngineOption = func(*Engine)

// NewEngine creates a new instance of the engine. Storage is mandatory for
// any real use; an engine without it panics on first operation.
func NewEngine(options ...EngineOption) Engine {
	name := fmt.Sprintf("caseflow-engine-%d", getGlobalSnowflakeIdGenerator().Generate().Int64())
	specCache, _ := lru.New[int64, *flownet.Specification](specCacheSize)
	engine := Engine{
		name:      name,
		exporters: []exporter.EventExporter{},
		snowflake: getGlobalSnowflakeIdGenerator(),
		logger:    hclog.Default().Named("engine"),
		locks:     newCaseLocks(),
		specCache: specCache,
	}

	for _, option := range options {
		option(&engine)
	}

	return engine
}

func EngineWithStorage(persistence storage.Storage) EngineOption {
	return func(engine *Engine) { engine.persistence = persistence }
}

func EngineWithExporter(exporter exporter.EventExporter) EngineOption {
	return func(engine *Engine) { engine.AddEventExporter(exporter) }
}

func EngineWithName(name string) EngineOption {
	return func(engine *Engine) { engine.name = name }
}

func EngineWithLogger(logger hclog.Logger) EngineOption {
	return func(engine *Engine) { engine.logger = logger }
}

func EngineWithResourceManager(manager *resource.Manager) EngineOption {
	return func(engine *Engine) { engine.resources = manager }
}

func EngineWithScriptRuntime(rt script.Runtime) EngineOption {
	return func(engine *Engine) { engine.scripts = rt }
}

func EngineWithMetrics(metrics *otel.EngineMetrics) EngineOption {
	return func(engine *Engine) { engine.metrics = metrics }
}

func EngineWithStrictMode() EngineOption {
	return func(engine *Engine) { engine.strict = true }
}

// Name returns the name of the engine, only useful in case you control multiple ones
func (engine *Engine) Name() string {
	return engine.name
}

// AddEventExporter registers an EventExporter instance
func (engine *Engine) AddEventExporter(exporter exporter.EventExporter) {
	engine.exporters = append(engine.exporters, exporter)
}

// DeploySpecification validates and stores a YAML net document. A malformed
// net fails as a whole; nothing of it is stored. The version is one above
// the highest already deployed for the same ID.
func (engine *Engine) DeploySpecification(ctx context.Context, data []byte) (*flownet.Specification, error) {
	spec, err := flownet.Load(data)
	if err != nil {
		return nil, err
	}

	version := int32(1)
	prior, err := engine.persistence.FindLatestSpecificationById(ctx, spec.ID)
	switch {
	case err == nil:
		version = prior.Version + 1
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, errors.Join(newEngineErrorf("failed to look up prior versions of %s", spec.ID), err)
	}

	spec.Version = version
	spec.Key = engine.generateKey()
	if err := engine.persistence.SaveSpecification(ctx, *spec); err != nil {
		return nil, errors.Join(newEngineErrorf("failed to save specification %s", spec.ID), err)
	}
	engine.specCache.Add(spec.Key, spec)

	engine.exportSpecificationEvent(*spec)
	return spec, nil
}

// DeployFromFile reads a YAML net document from disk and deploys it.
func (engine *Engine) DeployFromFile(ctx context.Context, path string) (*flownet.Specification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to read specification file %s", path), err)
	}
	return engine.DeploySpecification(ctx, data)
}

// LaunchCase starts one execution of the latest version of the given
// specification: seeds the initial marking, evaluates enablement and runs
// the three-phase allocation for every enabled task.
func (engine *Engine) LaunchCase(ctx context.Context, specID string, initialVars map[string]any) (*runtime.Case, error) {
	spec, err := engine.persistence.FindLatestSpecificationById(ctx, specID)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("no specification with id=%s was deployed", specID), err)
	}

	c := runtime.Case{
		Key:         engine.generateKey(),
		SpecID:      spec.ID,
		SpecVersion: spec.Version,
		SpecKey:     spec.Key,
		State:       runtime.CaseStateActive,
		Marking:     runtime.NewMarking(spec.Net.Initial),
		Variables:   runtime.NewVariableHolder(nil, initialVars),
		CreatedAt:   timeNow(),
		Spec:        &spec,
	}

	engine.locks.lock(c.Key)
	defer engine.locks.unlock(c.Key)

	s, err := engine.beginStep(ctx, &c)
	if err != nil {
		return nil, err
	}
	if err := engine.evaluateEnablement(ctx, s); err != nil {
		return nil, errors.Join(newEngineErrorf("failed to evaluate enablement for new case of %s", specID), err)
	}
	if err := engine.commit(ctx, s); err != nil {
		return nil, err
	}
	engine.exportCaseEvent(c, caseStarted)
	if engine.metrics != nil {
		engine.metrics.CasesLaunched.Add(ctx, 1)
		engine.metrics.CasesRunning.Add(ctx, 1)
	}
	return &c, nil
}

// CancelCase withdraws every live work item, clears the marking and archives
// the case as cancelled.
func (engine *Engine) CancelCase(ctx context.Context, caseKey int64) error {
	return engine.withCase(ctx, caseKey, func(ctx context.Context, s *step) error {
		if s.c.State == runtime.CaseStateCancelled {
			return newLifecycleErrorf(ErrCancelled, "case %d is already cancelled", caseKey)
		}
		if s.c.State == runtime.CaseStateCompleted {
			return newLifecycleErrorf(ErrInvalidTransition, "case %d already ended with state %s", caseKey, s.c.State)
		}
		now := timeNow()
		for _, wi := range s.liveItems() {
			wi.State = runtime.WorkItemCancelled
			wi.CompletedAt = &now
			if err := engine.record(ctx, s, wi, "cancel", "", ""); err != nil {
				return err
			}
			s.exportWorkItem(wi, exporter.WorkItemCancelled, "")
			if err := s.put(ctx, wi); err != nil {
				return err
			}
		}
		s.c.Marking = runtime.Marking{}
		s.c.State = runtime.CaseStateCancelled
		s.c.CompletedAt = &now
		s.caseEnded = true
		return nil
	})
}

// FindCase returns the case with the given key.
func (engine *Engine) FindCase(ctx context.Context, caseKey int64) (runtime.Case, error) {
	return engine.persistence.FindCaseByKey(ctx, caseKey)
}

// GetWorkItems returns the work items matching the filter.
func (engine *Engine) GetWorkItems(ctx context.Context, filter storage.WorkItemFilter) ([]runtime.WorkItem, error) {
	return engine.persistence.FindWorkItems(ctx, filter)
}

// FindWorkItem returns the work item with the given key.
func (engine *Engine) FindWorkItem(ctx context.Context, workItemKey int64) (runtime.WorkItem, error) {
	return engine.persistence.FindWorkItemByKey(ctx, workItemKey)
}

// FindSpecificationsById returns all deployed versions of a specification,
// ordered by version, lowest first.
func (engine *Engine) FindSpecificationsById(ctx context.Context, specID string) ([]flownet.Specification, error) {
	return engine.persistence.FindSpecificationsById(ctx, specID)
}

// ExecutionHistory returns the append-only audit trail of a case.
func (engine *Engine) ExecutionHistory(ctx context.Context, caseKey int64) ([]runtime.ExecutionRecord, error) {
	return engine.persistence.FindExecutionRecordsByCase(ctx, caseKey)
}

// specification resolves the net of a case, via the deploy-time cache when
// possible. Net models are immutable post-deployment, so the cache never
// invalidates.
func (engine *Engine) specification(ctx context.Context, c *runtime.Case) (*flownet.Specification, error) {
	if c.Spec != nil {
		return c.Spec, nil
	}
	if spec, ok := engine.specCache.Get(c.SpecKey); ok {
		c.Spec = spec
		return spec, nil
	}
	spec, err := engine.persistence.FindSpecificationByKey(ctx, c.SpecKey)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to load specification %d for case %d", c.SpecKey, c.Key), err)
	}
	engine.specCache.Add(spec.Key, &spec)
	c.Spec = &spec
	return &spec, nil
}

// contractViolation handles callers breaking the firing contract: loud in
// development, reject-and-log in production.
func (engine *Engine) contractViolation(format string, a ...any) error {
	msg := fmt.Sprintf(format, a...)
	if engine.strict {
		panic("firing contract violated: " + msg)
	}
	engine.logger.Error("firing contract violated", "msg", msg)
	return newLifecycleErrorf(ErrInvalidTransition, "%s", msg)
}
