package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pulsekit/pulseboard/pkg/schema"
)

// MemoryStore is an in-memory Store implementation. It backs tests and
// ephemeral single-process sessions where persistence across restarts is
// not needed; the libSQL store is the durable counterpart.
type MemoryStore struct {
	mu        sync.RWMutex
	scenarios map[string]*Scenario
	nodes     map[string][]*NodeRecord // scenarioID/name → versions ascending
	taskRuns  map[string]map[string]*TaskRun
	events    map[string][]*Event
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scenarios: make(map[string]*Scenario),
		nodes:     make(map[string][]*NodeRecord),
		taskRuns:  make(map[string]map[string]*TaskRun),
		events:    make(map[string][]*Event),
	}
}

func nodeKey(scenarioID, name string) string { return scenarioID + "/" + name }

func (m *MemoryStore) CreateScenario(ctx context.Context, sc *Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.scenarios[sc.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeStore, "scenario %q already exists", sc.ID)
	}
	cp := *sc
	cp.CreatedAt = timeOrNow(cp.CreatedAt)
	cp.UpdatedAt = timeOrNow(cp.UpdatedAt)
	m.scenarios[sc.ID] = &cp
	return nil
}

func (m *MemoryStore) GetScenario(ctx context.Context, id string) (*Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sc, ok := m.scenarios[id]
	if !ok {
		return nil, storeNotFound("scenario", id)
	}
	cp := *sc
	return &cp, nil
}

func (m *MemoryStore) UpdateScenario(ctx context.Context, id string, update ScenarioUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, ok := m.scenarios[id]
	if !ok {
		return storeNotFound("scenario", id)
	}
	if update.Status != nil {
		sc.Status = *update.Status
	}
	if update.Error != nil {
		sc.Error = update.Error
	}
	if update.SubmittedAt != nil {
		sc.SubmittedAt = update.SubmittedAt
	}
	if update.CompletedAt != nil {
		sc.CompletedAt = update.CompletedAt
	}
	sc.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListScenarios(ctx context.Context, filter ScenarioFilter) ([]*Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Scenario
	for _, sc := range m.scenarios {
		if filter.ConfigName != "" && sc.ConfigName != filter.ConfigName {
			continue
		}
		if filter.Status != "" && sc.Status != filter.Status {
			continue
		}
		cp := *sc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteScenario(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.scenarios[id]; !ok {
		return storeNotFound("scenario", id)
	}
	delete(m.scenarios, id)
	delete(m.taskRuns, id)
	delete(m.events, id)
	for key := range m.nodes {
		if len(key) > len(id) && key[:len(id)] == id && key[len(id)] == '/' {
			delete(m.nodes, key)
		}
	}
	return nil
}

func (m *MemoryStore) AppendNodeValue(ctx context.Context, rec *NodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := nodeKey(rec.ScenarioID, rec.Name)
	versions := m.nodes[key]
	if rec.Version == 0 {
		rec.Version = len(versions) + 1
	}
	cp := *rec
	cp.WrittenAt = timeOrNow(cp.WrittenAt)
	m.nodes[key] = append(versions, &cp)
	return nil
}

func (m *MemoryStore) GetNodeValue(ctx context.Context, scenarioID, name string) (*NodeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.nodes[nodeKey(scenarioID, name)]
	if len(versions) == 0 {
		return nil, storeNotFound("node value", scenarioID+"/"+name)
	}
	cp := *versions[len(versions)-1]
	return &cp, nil
}

func (m *MemoryStore) ListNodeValues(ctx context.Context, scenarioID string) ([]*NodeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*NodeRecord
	prefix := scenarioID + "/"
	for key, versions := range m.nodes {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if len(versions) == 0 {
			continue
		}
		cp := *versions[len(versions)-1]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) GetNodeHistory(ctx context.Context, scenarioID, name string, limit int) ([]*NodeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.nodes[nodeKey(scenarioID, name)]
	out := make([]*NodeRecord, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		cp := *versions[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertTaskRun(ctx context.Context, tr *TaskRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs, ok := m.taskRuns[tr.ScenarioID]
	if !ok {
		runs = make(map[string]*TaskRun)
		m.taskRuns[tr.ScenarioID] = runs
	}
	cp := *tr
	runs[tr.TaskID] = &cp
	return nil
}

func (m *MemoryStore) ListTaskRuns(ctx context.Context, scenarioID string) ([]*TaskRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*TaskRun
	for _, tr := range m.taskRuns[scenarioID] {
		cp := *tr
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.events[event.ScenarioID]
	event.Sequence = int64(len(log)) + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.ID = event.Sequence
	cp := *event
	m.events[event.ScenarioID] = append(log, &cp)
	return nil
}

func (m *MemoryStore) GetEvents(ctx context.Context, scenarioID string, since int64) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Event
	for _, e := range m.events[scenarioID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) Migrate(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
