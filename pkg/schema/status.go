package schema

// ScenarioStatus is the lifecycle state of a scenario instance.
type ScenarioStatus string

const (
	// ScenarioStatusCreated: instantiated, all owned nodes empty.
	ScenarioStatusCreated ScenarioStatus = "created"
	// ScenarioStatusReady: at least one input has been written.
	ScenarioStatusReady ScenarioStatus = "ready"
	// ScenarioStatusRunning: a submission is executing. At most one per
	// scenario instance.
	ScenarioStatusRunning ScenarioStatus = "running"
	// ScenarioStatusDone: the last submission completed every runnable task.
	ScenarioStatusDone ScenarioStatus = "done"
	// ScenarioStatusFailed: a task computation errored; outputs from that
	// task were not written.
	ScenarioStatusFailed ScenarioStatus = "failed"
)

// Terminal reports whether the status ends a submission. Terminal here does
// not mean final for the scenario: done and failed scenarios may be
// resubmitted after their inputs change.
func (s ScenarioStatus) Terminal() bool {
	return s == ScenarioStatusDone || s == ScenarioStatusFailed
}

// TaskRunStatus is the per-task state within a single submission.
type TaskRunStatus string

const (
	TaskRunPending   TaskRunStatus = "pending"
	TaskRunRunning   TaskRunStatus = "running"
	TaskRunCompleted TaskRunStatus = "completed"
	TaskRunFailed    TaskRunStatus = "failed"
	// TaskRunSkipped: one or more declared inputs had never been written,
	// so the task did not execute and its outputs stayed empty.
	TaskRunSkipped TaskRunStatus = "skipped"
)
