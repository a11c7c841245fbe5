package schema

// Event type constants for the scenario event log.
const (
	EventScenarioCreated   = "scenario_created"
	EventScenarioReady     = "scenario_ready"
	EventScenarioSubmitted = "scenario_submitted"
	EventScenarioDone      = "scenario_done"
	EventScenarioFailed    = "scenario_failed"
	EventScenarioDiscarded = "scenario_discarded"

	EventTaskStarted   = "task_started"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
	EventTaskSkipped   = "task_skipped"

	EventNodeWritten = "node_written"

	EventCommitSucceeded = "commit_succeeded"
	EventExecutionFailed = "execution_failed"
)
