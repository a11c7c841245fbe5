package engine

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsekit/pulseboard/internal/nodes"
	"github.com/pulsekit/pulseboard/internal/store"
	"github.com/pulsekit/pulseboard/pkg/schema"
)

// Orchestrator is the central scenario execution coordinator.
type Orchestrator interface {
	// CreateScenario instantiates a scenario from a named configuration.
	// Every data node referenced by the scenario's tasks gets a fresh,
	// isolated, empty slot.
	CreateScenario(ctx context.Context, configName string) (*store.Scenario, error)

	// WriteNode stores a value into one of the scenario's data nodes.
	// Writing triggers no computation.
	WriteNode(ctx context.Context, scenarioID, name string, v nodes.Value) error

	// ReadNode returns the last-written value of a node, or the empty
	// sentinel if the node has never been written.
	ReadNode(ctx context.Context, scenarioID, name string) (nodes.Value, error)

	// Submit runs the scenario's task graph to completion and returns the
	// outcome. Submitting an already-running scenario is a state error.
	Submit(ctx context.Context, scenarioID string) (*SubmitResult, error)

	// Status returns the current state of a scenario.
	Status(ctx context.Context, scenarioID string) (*ScenarioStatus, error)

	// List returns scenarios matching the filter.
	List(ctx context.Context, filter store.ScenarioFilter) ([]*store.Scenario, error)

	// Discard removes a scenario and all its node values, task runs and
	// events. A running scenario cannot be discarded.
	Discard(ctx context.Context, scenarioID string) error

	// Shutdown stops the worker pool after in-flight work completes.
	Shutdown()
}

// SubmitResult is returned by Submit with the submission outcome.
type SubmitResult struct {
	ScenarioID  string                 `json:"scenario_id"`
	Status      schema.ScenarioStatus  `json:"status"`
	Error       *schema.BoardError     `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Tasks       map[string]*TaskResult `json:"tasks,omitempty"`
}

// TaskResult summarizes the outcome of a single task within a submission.
type TaskResult struct {
	TaskID     string               `json:"task_id"`
	Status     schema.TaskRunStatus `json:"status"`
	Error      *schema.BoardError   `json:"error,omitempty"`
	DurationMs int64                `json:"duration_ms,omitempty"`
}

// ScenarioStatus is a snapshot of a scenario's current state for querying.
type ScenarioStatus struct {
	ScenarioID string                `json:"scenario_id"`
	ConfigName string                `json:"config_name"`
	Status     schema.ScenarioStatus `json:"status"`
	Nodes      map[string]nodes.Value `json:"nodes,omitempty"`
	TaskRuns   []*store.TaskRun      `json:"task_runs,omitempty"`
	Events     []*store.Event        `json:"events,omitempty"`
}

// EventSink receives every event after it has been persisted. Satisfied by
// the streaming hub; nil disables forwarding.
type EventSink interface {
	Emit(event *store.Event)
}

// DefaultPoolSize is the default worker pool concurrency.
const DefaultPoolSize = 4

// OrchestratorConfig holds configuration for the orchestrator.
type OrchestratorConfig struct {
	PoolSize int // max concurrent task goroutines
}

// orchestratorImpl is the concrete Orchestrator implementation.
type orchestratorImpl struct {
	store    store.Store
	board    *schema.BoardConfig
	registry *Registry
	scFSM    *ScenarioFSM
	taskFSM  *TaskFSM
	pool     *WorkerPool
	sink     EventSink

	// mu guards instances.
	mu        sync.Mutex
	instances map[string]*scenarioInstance
}

// scenarioInstance tracks one live scenario: its isolated node set, its
// task graph, and its submission state.
type scenarioInstance struct {
	id         string
	configName string
	set        *nodes.Set
	graph      *Graph

	mu      sync.Mutex // guards status and running
	status  schema.ScenarioStatus
	running bool
}

// appendForward persists events and forwards them to the sink. It is the
// EventAppender handed to both FSMs so transitions reach subscribers.
type appendForward struct {
	store store.Store
	sink  EventSink
}

func (a *appendForward) AppendEvent(ctx context.Context, event *store.Event) error {
	if err := a.store.AppendEvent(ctx, event); err != nil {
		return err
	}
	if a.sink != nil {
		a.sink.Emit(event)
	}
	return nil
}

// NewOrchestrator creates an Orchestrator for one board configuration.
// sink is optional (nil = no event forwarding).
func NewOrchestrator(s store.Store, board *schema.BoardConfig, registry *Registry, cfg OrchestratorConfig, sink EventSink) Orchestrator {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}

	appender := &appendForward{store: s, sink: sink}

	return &orchestratorImpl{
		store:     s,
		board:     board,
		registry:  registry,
		scFSM:     NewScenarioFSM(appender),
		taskFSM:   NewTaskFSM(appender),
		pool:      NewWorkerPool(cfg.PoolSize),
		sink:      sink,
		instances: make(map[string]*scenarioInstance),
	}
}

// CreateScenario instantiates a scenario from a named configuration.
func (o *orchestratorImpl) CreateScenario(ctx context.Context, configName string) (*store.Scenario, error) {
	sc, ok := o.board.Scenario(configName)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "scenario configuration %q not found", configName)
	}

	graph, err := BuildGraph(o.board, sc)
	if err != nil {
		return nil, err
	}

	set, err := o.buildNodeSet(graph)
	if err != nil {
		return nil, err
	}

	record := &store.Scenario{
		ID:         uuid.NewString(),
		ConfigName: configName,
		Status:     schema.ScenarioStatusCreated,
	}
	if err := o.store.CreateScenario(ctx, record); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create scenario: %s", err.Error()).WithCause(err)
	}

	inst := &scenarioInstance{
		id:         record.ID,
		configName: configName,
		set:        set,
		graph:      graph,
		status:     schema.ScenarioStatusCreated,
	}
	o.mu.Lock()
	o.instances[record.ID] = inst
	o.mu.Unlock()

	if err := (&appendForward{store: o.store, sink: o.sink}).AppendEvent(ctx, &store.Event{
		ScenarioID: record.ID,
		Type:       schema.EventScenarioCreated,
	}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "emit created event: %s", err.Error()).WithCause(err)
	}

	return record, nil
}

// buildNodeSet collects the declarations for every node the graph's tasks
// touch and builds a fresh isolated set for them.
func (o *orchestratorImpl) buildNodeSet(graph *Graph) (*nodes.Set, error) {
	seen := make(map[string]bool)
	var decls []schema.DataNodeConfig
	collect := func(names []string) error {
		for _, name := range names {
			if seen[name] {
				continue
			}
			seen[name] = true
			decl, ok := o.board.Node(name)
			if !ok {
				return schema.NewErrorf(schema.ErrCodeConfig, "task references undeclared node: %s", name)
			}
			decls = append(decls, decl)
		}
		return nil
	}

	// Walk tasks in topological order so declaration order is stable.
	for _, taskID := range graph.Sorted {
		task := graph.Tasks[taskID]
		if err := collect(task.Inputs); err != nil {
			return nil, err
		}
		if err := collect(task.Outputs); err != nil {
			return nil, err
		}
	}

	return nodes.NewSet(decls)
}

// WriteNode stores a value into one of the scenario's data nodes.
func (o *orchestratorImpl) WriteNode(ctx context.Context, scenarioID, name string, v nodes.Value) error {
	inst, err := o.instance(ctx, scenarioID)
	if err != nil {
		return err
	}

	if err := inst.set.Write(name, v); err != nil {
		return err
	}
	written, _ := inst.set.Read(name)

	if err := o.persistNodeValue(ctx, scenarioID, name, written); err != nil {
		return err
	}

	// First external write moves a created scenario to ready. Writes to a
	// finished scenario make it ready again so it can be resubmitted.
	inst.mu.Lock()
	from := inst.status
	busy := inst.running
	inst.mu.Unlock()
	if !busy && (from == schema.ScenarioStatusCreated || from.Terminal()) {
		if err := o.transitionScenario(ctx, inst, from, schema.ScenarioStatusReady); err != nil {
			return err
		}
	}
	return nil
}

// ReadNode returns the last-written value of a node.
func (o *orchestratorImpl) ReadNode(ctx context.Context, scenarioID, name string) (nodes.Value, error) {
	inst, err := o.instance(ctx, scenarioID)
	if err != nil {
		return nodes.Empty, err
	}
	return inst.set.Read(name)
}

// Submit runs the scenario's task graph to completion.
func (o *orchestratorImpl) Submit(ctx context.Context, scenarioID string) (*SubmitResult, error) {
	inst, err := o.instance(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	// Claim the run. At most one submission per scenario at a time.
	inst.mu.Lock()
	if inst.running {
		inst.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeState,
			"scenario %s is already running", scenarioID)
	}
	from := inst.status
	inst.running = true
	inst.mu.Unlock()

	release := func() {
		inst.mu.Lock()
		inst.running = false
		inst.mu.Unlock()
	}

	if err := o.transitionScenario(ctx, inst, from, schema.ScenarioStatusRunning); err != nil {
		release()
		return nil, err
	}

	startedAt := time.Now().UTC()
	if err := o.store.UpdateScenario(ctx, scenarioID, store.ScenarioUpdate{
		SubmittedAt: &startedAt,
	}); err != nil {
		release()
		return nil, schema.NewErrorf(schema.ErrCodeStore, "update scenario: %s", err.Error()).WithCause(err)
	}

	result := o.executeGraph(ctx, inst, startedAt)

	release()
	return result, nil
}

// executeGraph walks the task graph level by level, dispatching runnable
// tasks to the worker pool. Tasks whose inputs were never written are
// skipped; their outputs stay empty, which cascades skipping downstream.
// The first computation failure halts execution after its level drains,
// preserving every output already written.
func (o *orchestratorImpl) executeGraph(ctx context.Context, inst *scenarioInstance, startedAt time.Time) *SubmitResult {
	result := &SubmitResult{
		ScenarioID: inst.id,
		Status:     schema.ScenarioStatusRunning,
		StartedAt:  startedAt,
		Tasks:      make(map[string]*TaskResult),
	}

	var finalErr *schema.BoardError
	var resultMu sync.Mutex

	for _, level := range inst.graph.Levels {
		if ctx.Err() != nil {
			break
		}

		batch := make([]TaskFunc, 0, len(level))
		for _, taskID := range level {
			task := inst.graph.Tasks[taskID]

			// Skip when any declared input has never been written.
			if missing := o.unwrittenInputs(inst, task); len(missing) > 0 {
				tr := o.skipTask(ctx, inst, taskID, missing)
				resultMu.Lock()
				result.Tasks[taskID] = tr
				resultMu.Unlock()
				continue
			}

			id := taskID
			def := task
			batch = append(batch, func(taskCtx context.Context) {
				tr := o.executeTask(taskCtx, inst, id, def)
				resultMu.Lock()
				result.Tasks[id] = tr
				if tr.Error != nil && finalErr == nil {
					finalErr = tr.Error
				}
				resultMu.Unlock()
			})
		}

		if err := o.pool.RunLevel(ctx, batch); err != nil {
			resultMu.Lock()
			if finalErr == nil {
				finalErr = schema.NewErrorf(schema.ErrCodeComputation,
					"dispatch level: %s", err.Error())
			}
			resultMu.Unlock()
		}

		if ctx.Err() != nil || finalErr != nil {
			break
		}
	}

	if ctx.Err() != nil && finalErr == nil {
		finalErr = schema.NewErrorf(schema.ErrCodeComputation,
			"submission interrupted: %s", ctx.Err().Error())
	}

	now := time.Now().UTC()
	result.CompletedAt = &now

	if finalErr != nil {
		result.Status = schema.ScenarioStatusFailed
		result.Error = finalErr
		o.finishScenario(inst, schema.ScenarioStatusFailed, finalErr, &now)
	} else {
		result.Status = schema.ScenarioStatusDone
		o.finishScenario(inst, schema.ScenarioStatusDone, nil, &now)
	}

	return result
}

// unwrittenInputs returns the task's declared inputs that have never been
// written, sorted for stable reporting.
func (o *orchestratorImpl) unwrittenInputs(inst *scenarioInstance, task schema.TaskConfig) []string {
	var missing []string
	for _, in := range task.Inputs {
		if !inst.set.Written(in) {
			missing = append(missing, in)
		}
	}
	sort.Strings(missing)
	return missing
}

// skipTask records a task as skipped because of unwritten inputs. Skipping
// is not a failure: its outputs simply stay empty.
func (o *orchestratorImpl) skipTask(ctx context.Context, inst *scenarioInstance, taskID string, missing []string) *TaskResult {
	_ = o.taskFSM.Transition(ctx, inst.id, taskID, schema.TaskRunPending, schema.TaskRunSkipped)

	payload, _ := json.Marshal(map[string]any{"unwritten_inputs": missing})
	_ = o.store.UpsertTaskRun(ctx, &store.TaskRun{
		ScenarioID: inst.id,
		TaskID:     taskID,
		Status:     schema.TaskRunSkipped,
		Error:      payload,
	})

	return &TaskResult{TaskID: taskID, Status: schema.TaskRunSkipped}
}

// executeTask runs one task: read inputs, invoke the computation, write
// declared outputs back. A failing computation writes nothing.
func (o *orchestratorImpl) executeTask(ctx context.Context, inst *scenarioInstance, taskID string, task schema.TaskConfig) *TaskResult {
	if err := o.taskFSM.Transition(ctx, inst.id, taskID, schema.TaskRunPending, schema.TaskRunRunning); err != nil {
		return &TaskResult{TaskID: taskID, Status: schema.TaskRunFailed, Error: asBoardError(err, taskID)}
	}

	startTime := time.Now().UTC()
	_ = o.store.UpsertTaskRun(ctx, &store.TaskRun{
		ScenarioID: inst.id,
		TaskID:     taskID,
		Status:     schema.TaskRunRunning,
		StartedAt:  &startTime,
	})

	comp, err := o.registry.Get(task.Computation)
	if err != nil {
		return o.failTask(ctx, inst, taskID, startTime, asBoardError(err, taskID))
	}

	// Inputs in declared order.
	in := make([]nodes.Value, 0, len(task.Inputs))
	for _, name := range task.Inputs {
		v, readErr := inst.set.Read(name)
		if readErr != nil {
			return o.failTask(ctx, inst, taskID, startTime, asBoardError(readErr, taskID))
		}
		in = append(in, v)
	}

	out, err := invokeComputation(ctx, comp, taskID, in)
	if err != nil {
		berr := asBoardError(err, taskID)
		if berr.Code != schema.ErrCodeComputation {
			berr = schema.NewErrorf(schema.ErrCodeComputation, "computation %s: %s",
				task.Computation, err.Error()).WithTask(taskID).WithCause(err)
		}
		return o.failTask(ctx, inst, taskID, startTime, berr)
	}

	if len(out) != len(task.Outputs) {
		berr := schema.NewErrorf(schema.ErrCodeComputation,
			"computation %s returned %d values, task declares %d outputs",
			task.Computation, len(out), len(task.Outputs)).WithTask(taskID)
		return o.failTask(ctx, inst, taskID, startTime, berr)
	}

	// Validate the whole output set against the declared kinds before any
	// write: a failing task must leave no partial outputs behind.
	for i, name := range task.Outputs {
		kind, kindErr := inst.set.Kind(name)
		if kindErr != nil {
			return o.failTask(ctx, inst, taskID, startTime, asBoardError(kindErr, taskID))
		}
		if out[i].Kind != kind {
			berr := schema.NewErrorf(schema.ErrCodeValidation,
				"computation %s output %s expects %s, got %s",
				task.Computation, name, kind, out[i].Kind).WithTask(taskID)
			return o.failTask(ctx, inst, taskID, startTime, berr)
		}
	}

	// Outputs only land after the computation succeeded as a whole.
	for i, name := range task.Outputs {
		if err := inst.set.Write(name, out[i]); err != nil {
			return o.failTask(ctx, inst, taskID, startTime, asBoardError(err, taskID))
		}
		written, _ := inst.set.Read(name)
		if err := o.persistNodeValue(ctx, inst.id, name, written); err != nil {
			return o.failTask(ctx, inst, taskID, startTime, asBoardError(err, taskID))
		}
	}

	if err := o.taskFSM.Transition(ctx, inst.id, taskID, schema.TaskRunRunning, schema.TaskRunCompleted); err != nil {
		return &TaskResult{TaskID: taskID, Status: schema.TaskRunFailed, Error: asBoardError(err, taskID)}
	}

	completedAt := time.Now().UTC()
	durationMs := completedAt.Sub(startTime).Milliseconds()
	_ = o.store.UpsertTaskRun(ctx, &store.TaskRun{
		ScenarioID:  inst.id,
		TaskID:      taskID,
		Status:      schema.TaskRunCompleted,
		StartedAt:   &startTime,
		CompletedAt: &completedAt,
		DurationMs:  durationMs,
	})

	return &TaskResult{TaskID: taskID, Status: schema.TaskRunCompleted, DurationMs: durationMs}
}

// invokeComputation runs the computation, converting a panic into a
// computation error. A raising computation must fail its task and with
// it the scenario, never vanish into the worker's recovery.
func invokeComputation(ctx context.Context, comp Computation, taskID string, in []nodes.Value) (out []nodes.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = schema.NewErrorf(schema.ErrCodeComputation,
				"computation %s panicked: %v", comp.Name, r).WithTask(taskID)
		}
	}()
	return comp.Fn(ctx, in)
}

// failTask transitions a task to failed and persists the error.
func (o *orchestratorImpl) failTask(ctx context.Context, inst *scenarioInstance, taskID string, startTime time.Time, berr *schema.BoardError) *TaskResult {
	_ = o.taskFSM.Transition(ctx, inst.id, taskID, schema.TaskRunRunning, schema.TaskRunFailed)

	completedAt := time.Now().UTC()
	payload, _ := json.Marshal(berr)
	_ = o.store.UpsertTaskRun(ctx, &store.TaskRun{
		ScenarioID:  inst.id,
		TaskID:      taskID,
		Status:      schema.TaskRunFailed,
		Error:       payload,
		StartedAt:   &startTime,
		CompletedAt: &completedAt,
		DurationMs:  completedAt.Sub(startTime).Milliseconds(),
	})

	return &TaskResult{
		TaskID:     taskID,
		Status:     schema.TaskRunFailed,
		Error:      berr,
		DurationMs: completedAt.Sub(startTime).Milliseconds(),
	}
}

// finishScenario moves the scenario out of running and persists the end
// state. Uses a background context so a cancelled submission still lands.
func (o *orchestratorImpl) finishScenario(inst *scenarioInstance, to schema.ScenarioStatus, berr *schema.BoardError, completedAt *time.Time) {
	ctx := context.Background()
	_ = o.transitionScenario(ctx, inst, schema.ScenarioStatusRunning, to)

	update := store.ScenarioUpdate{Status: &to, CompletedAt: completedAt}
	if berr != nil {
		errJSON, _ := json.Marshal(berr)
		update.Error = errJSON
		payload, _ := json.Marshal(map[string]string{"error": berr.Error()})
		_ = (&appendForward{store: o.store, sink: o.sink}).AppendEvent(ctx, &store.Event{
			ScenarioID: inst.id,
			TaskID:     berr.TaskID,
			Type:       schema.EventExecutionFailed,
			Payload:    payload,
		})
	}
	_ = o.store.UpdateScenario(ctx, inst.id, update)
}

// Status returns the current scenario state snapshot.
func (o *orchestratorImpl) Status(ctx context.Context, scenarioID string) (*ScenarioStatus, error) {
	inst, err := o.instance(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	runs, err := o.store.ListTaskRuns(ctx, scenarioID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list task runs: %s", err.Error()).WithCause(err)
	}
	events, err := o.store.GetEvents(ctx, scenarioID, 0)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get events: %s", err.Error()).WithCause(err)
	}

	inst.mu.Lock()
	status := inst.status
	inst.mu.Unlock()

	return &ScenarioStatus{
		ScenarioID: scenarioID,
		ConfigName: inst.configName,
		Status:     status,
		Nodes:      inst.set.Snapshot(),
		TaskRuns:   runs,
		Events:     events,
	}, nil
}

// List returns scenarios matching the filter.
func (o *orchestratorImpl) List(ctx context.Context, filter store.ScenarioFilter) ([]*store.Scenario, error) {
	return o.store.ListScenarios(ctx, filter)
}

// Discard removes a scenario entirely.
func (o *orchestratorImpl) Discard(ctx context.Context, scenarioID string) error {
	inst, err := o.instance(ctx, scenarioID)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	busy := inst.running
	inst.mu.Unlock()
	if busy {
		return schema.NewErrorf(schema.ErrCodeState, "scenario %s is running", scenarioID)
	}

	if o.sink != nil {
		o.sink.Emit(&store.Event{
			ScenarioID: scenarioID,
			Type:       schema.EventScenarioDiscarded,
			Timestamp:  time.Now().UTC(),
		})
	}

	if err := o.store.DeleteScenario(ctx, scenarioID); err != nil {
		return err
	}

	o.mu.Lock()
	delete(o.instances, scenarioID)
	o.mu.Unlock()
	return nil
}

// Shutdown stops the worker pool.
func (o *orchestratorImpl) Shutdown() {
	o.pool.Shutdown()
}

// --- Helpers ---

// instance returns the live instance for a scenario, rehydrating it from
// the store after a restart.
func (o *orchestratorImpl) instance(ctx context.Context, scenarioID string) (*scenarioInstance, error) {
	o.mu.Lock()
	inst, ok := o.instances[scenarioID]
	o.mu.Unlock()
	if ok {
		return inst, nil
	}

	record, err := o.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	sc, ok := o.board.Scenario(record.ConfigName)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"scenario %s references unknown configuration %q", scenarioID, record.ConfigName)
	}
	graph, err := BuildGraph(o.board, sc)
	if err != nil {
		return nil, err
	}
	set, err := o.buildNodeSet(graph)
	if err != nil {
		return nil, err
	}

	// Restore the latest persisted value of every node.
	records, err := o.store.ListNodeValues(ctx, scenarioID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "restore node values: %s", err.Error()).WithCause(err)
	}
	for _, rec := range records {
		if err := set.Write(rec.Name, nodes.Value{Kind: rec.Kind, Data: rec.Data}); err != nil {
			return nil, err
		}
	}

	status := record.Status
	if status == schema.ScenarioStatusRunning {
		// A restart interrupted the previous submission.
		status = schema.ScenarioStatusFailed
	}

	inst = &scenarioInstance{
		id:         scenarioID,
		configName: record.ConfigName,
		set:        set,
		graph:      graph,
		status:     status,
	}
	o.mu.Lock()
	if existing, raced := o.instances[scenarioID]; raced {
		inst = existing
	} else {
		o.instances[scenarioID] = inst
	}
	o.mu.Unlock()
	return inst, nil
}

// transitionScenario runs the FSM transition, updates the in-memory status
// and persists it.
func (o *orchestratorImpl) transitionScenario(ctx context.Context, inst *scenarioInstance, from, to schema.ScenarioStatus) error {
	if from == to {
		return nil
	}
	if err := o.scFSM.Transition(ctx, inst.id, from, to); err != nil {
		return err
	}
	inst.mu.Lock()
	inst.status = to
	inst.mu.Unlock()
	if err := o.store.UpdateScenario(ctx, inst.id, store.ScenarioUpdate{Status: &to}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update scenario status: %s", err.Error()).WithCause(err)
	}
	return nil
}

// persistNodeValue appends a node write to the store and emits the
// node_written event.
func (o *orchestratorImpl) persistNodeValue(ctx context.Context, scenarioID, name string, v nodes.Value) error {
	if err := o.store.AppendNodeValue(ctx, &store.NodeRecord{
		ScenarioID: scenarioID,
		Name:       name,
		Kind:       v.Kind,
		Data:       v.Data,
		Version:    v.Version,
		WrittenAt:  v.WrittenAt,
	}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist node %s: %s", name, err.Error()).WithCause(err)
	}

	payload, _ := json.Marshal(map[string]any{"node": name, "version": v.Version})
	return (&appendForward{store: o.store, sink: o.sink}).AppendEvent(ctx, &store.Event{
		ScenarioID: scenarioID,
		Type:       schema.EventNodeWritten,
		Payload:    payload,
	})
}

// asBoardError normalizes an error into a BoardError tagged with the task.
func asBoardError(err error, taskID string) *schema.BoardError {
	if berr, ok := err.(*schema.BoardError); ok {
		if berr.TaskID == "" {
			berr.TaskID = taskID
		}
		return berr
	}
	return schema.NewError(schema.ErrCodeComputation, err.Error()).WithTask(taskID).WithCause(err)
}
