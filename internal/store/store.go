package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Scenarios
	CreateScenario(ctx context.Context, sc *Scenario) error
	GetScenario(ctx context.Context, id string) (*Scenario, error)
	UpdateScenario(ctx context.Context, id string, update ScenarioUpdate) error
	ListScenarios(ctx context.Context, filter ScenarioFilter) ([]*Scenario, error)
	DeleteScenario(ctx context.Context, id string) error

	// Data node values (versioned; the highest version is current)
	AppendNodeValue(ctx context.Context, rec *NodeRecord) error
	GetNodeValue(ctx context.Context, scenarioID, name string) (*NodeRecord, error)
	ListNodeValues(ctx context.Context, scenarioID string) ([]*NodeRecord, error)
	GetNodeHistory(ctx context.Context, scenarioID, name string, limit int) ([]*NodeRecord, error)

	// Task runs (materialized view of the latest submission)
	UpsertTaskRun(ctx context.Context, tr *TaskRun) error
	ListTaskRuns(ctx context.Context, scenarioID string) ([]*TaskRun, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, scenarioID string, since int64) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
