package engine

import (
	"context"
	"sync"

	"github.com/pulsekit/pulseboard/internal/store"
	"github.com/pulsekit/pulseboard/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to string) error

// EventAppender is satisfied by the Store; FSMs emit events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// --- Scenario FSM ---

type scenarioHookKey struct {
	from, to schema.ScenarioStatus
}

// ScenarioFSM manages scenario lifecycle state transitions.
type ScenarioFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[scenarioHookKey][]TransitionHook
	after    map[scenarioHookKey][]TransitionHook
}

// NewScenarioFSM creates a new ScenarioFSM that emits events via the given appender.
func NewScenarioFSM(appender EventAppender) *ScenarioFSM {
	return &ScenarioFSM{
		appender: appender,
		before:   make(map[scenarioHookKey][]TransitionHook),
		after:    make(map[scenarioHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a scenario transition.
func (f *ScenarioFSM) OnBefore(from, to schema.ScenarioStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := scenarioHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a scenario transition.
func (f *ScenarioFSM) OnAfter(from, to schema.ScenarioStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := scenarioHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a scenario state transition and emits
// the corresponding event via the appender. The caller (Orchestrator) is
// responsible for persisting the new state to the store.
func (f *ScenarioFSM) Transition(ctx context.Context, scenarioID string, from, to schema.ScenarioStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidScenarioTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeState,
			"invalid scenario transition: %s -> %s", from, to).
			WithDetails(map[string]any{"scenario_id": scenarioID, "from": string(from), "to": string(to)})
	}

	key := scenarioHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	eventType := scenarioEventType(to)
	if eventType != "" {
		event := &store.Event{
			ScenarioID: scenarioID,
			Type:       eventType,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit scenario event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidScenarioTransition(from, to schema.ScenarioStatus) bool {
	allowed, ok := ValidScenarioTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func scenarioEventType(to schema.ScenarioStatus) string {
	switch to {
	case schema.ScenarioStatusReady:
		return schema.EventScenarioReady
	case schema.ScenarioStatusRunning:
		return schema.EventScenarioSubmitted
	case schema.ScenarioStatusDone:
		return schema.EventScenarioDone
	case schema.ScenarioStatusFailed:
		return schema.EventScenarioFailed
	default:
		return ""
	}
}

// --- Task FSM ---

type taskHookKey struct {
	from, to schema.TaskRunStatus
}

// TaskFSM manages per-submission task run transitions.
type TaskFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[taskHookKey][]TransitionHook
	after    map[taskHookKey][]TransitionHook
}

// NewTaskFSM creates a new TaskFSM that emits events via the given appender.
func NewTaskFSM(appender EventAppender) *TaskFSM {
	return &TaskFSM{
		appender: appender,
		before:   make(map[taskHookKey][]TransitionHook),
		after:    make(map[taskHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a task transition.
func (f *TaskFSM) OnBefore(from, to schema.TaskRunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := taskHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a task transition.
func (f *TaskFSM) OnAfter(from, to schema.TaskRunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := taskHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a task run state transition and emits
// the corresponding event via the appender.
func (f *TaskFSM) Transition(ctx context.Context, scenarioID, taskID string, from, to schema.TaskRunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidTaskTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeState,
			"invalid task transition: %s -> %s", from, to).
			WithTask(taskID).
			WithDetails(map[string]any{"scenario_id": scenarioID, "from": string(from), "to": string(to)})
	}

	key := taskHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	eventType := taskEventType(to)
	if eventType != "" {
		event := &store.Event{
			ScenarioID: scenarioID,
			TaskID:     taskID,
			Type:       eventType,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit task event: %s", err.Error()).
				WithTask(taskID).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidTaskTransition(from, to schema.TaskRunStatus) bool {
	allowed, ok := ValidTaskTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func taskEventType(to schema.TaskRunStatus) string {
	switch to {
	case schema.TaskRunRunning:
		return schema.EventTaskStarted
	case schema.TaskRunCompleted:
		return schema.EventTaskCompleted
	case schema.TaskRunFailed:
		return schema.EventTaskFailed
	case schema.TaskRunSkipped:
		return schema.EventTaskSkipped
	default:
		return ""
	}
}

// --- Transition tables ---

// ValidScenarioTransitions defines the allowed state transitions for
// scenarios. Done and failed are terminal only for a submission: once the
// inputs change the scenario may become ready and run again.
var ValidScenarioTransitions = map[schema.ScenarioStatus][]schema.ScenarioStatus{
	schema.ScenarioStatusCreated: {schema.ScenarioStatusReady, schema.ScenarioStatusRunning},
	schema.ScenarioStatusReady:   {schema.ScenarioStatusRunning},
	schema.ScenarioStatusRunning: {schema.ScenarioStatusDone, schema.ScenarioStatusFailed},
	schema.ScenarioStatusDone:    {schema.ScenarioStatusReady, schema.ScenarioStatusRunning},
	schema.ScenarioStatusFailed:  {schema.ScenarioStatusReady, schema.ScenarioStatusRunning},
}

// ValidTaskTransitions defines the allowed state transitions for task runs
// within a single submission.
var ValidTaskTransitions = map[schema.TaskRunStatus][]schema.TaskRunStatus{
	schema.TaskRunPending:   {schema.TaskRunRunning, schema.TaskRunSkipped},
	schema.TaskRunRunning:   {schema.TaskRunCompleted, schema.TaskRunFailed},
	schema.TaskRunCompleted: {},
	schema.TaskRunFailed:    {},
	schema.TaskRunSkipped:   {},
}
