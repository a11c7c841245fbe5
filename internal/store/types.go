package store

import (
	"encoding/json"
	"time"

	"github.com/pulsekit/pulseboard/pkg/schema"
)

// Scenario is the persisted representation of a scenario instance. The ID
// is an instantiation identity, distinct from the configuration name it
// was created from: many scenarios may share one configuration.
type Scenario struct {
	ID          string                `json:"id"`
	ConfigName  string                `json:"config_name"`
	Status      schema.ScenarioStatus `json:"status"`
	Error       json.RawMessage       `json:"error,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	SubmittedAt *time.Time            `json:"submitted_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// ScenarioUpdate describes a partial update to a scenario record.
// Nil fields are left unchanged.
type ScenarioUpdate struct {
	Status      *schema.ScenarioStatus
	Error       json.RawMessage
	SubmittedAt *time.Time
	CompletedAt *time.Time
}

// ScenarioFilter narrows ListScenarios results.
type ScenarioFilter struct {
	ConfigName string
	Status     schema.ScenarioStatus
}

// NodeRecord is one persisted write of a scenario's data node.
type NodeRecord struct {
	ScenarioID string          `json:"scenario_id"`
	Name       string          `json:"name"`
	Kind       schema.NodeKind `json:"kind"`
	Data       json.RawMessage `json:"data,omitempty"`
	Version    int             `json:"version"`
	WrittenAt  time.Time       `json:"written_at"`
}

// TaskRun is the materialized view of a task's state within the latest
// submission of a scenario.
type TaskRun struct {
	ScenarioID  string               `json:"scenario_id"`
	TaskID      string               `json:"task_id"`
	Status      schema.TaskRunStatus `json:"status"`
	Error       json.RawMessage      `json:"error,omitempty"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	DurationMs  int64                `json:"duration_ms,omitempty"`
}

// Event is an immutable entry in the scenario event log.
type Event struct {
	ID         int64           `json:"id"`
	ScenarioID string          `json:"scenario_id"`
	TaskID     string          `json:"task_id,omitempty"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}
