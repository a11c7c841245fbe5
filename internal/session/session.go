// Package session holds per-viewer presentation state: the selected
// filter, the loaded dataset and the derived preview values shown before
// anything is committed to a scenario. Mutations recompute previews
// immediately and notify subscribers with the set of changed keys.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/pulsekit/pulseboard/internal/dataset"
	"github.com/pulsekit/pulseboard/pkg/schema"
)

// State keys reported to subscribers on change.
const (
	KeyGenderFilter = "gender_filter"
	KeyDataset      = "dataset"
	KeyFilteredDF   = "filtered_df"
	KeyAvgAge       = "avg_age"
	KeyTargetCounts = "target_counts"
	KeyCholBySex    = "chol_by_sex"
	KeyScenarioID   = "scenario_id"
)

// View is an immutable snapshot of the derived presentation state.
type View struct {
	SessionID    string               `json:"session_id"`
	ScenarioID   string               `json:"scenario_id,omitempty"`
	GenderFilter string               `json:"gender_filter"`
	RowCount     int                  `json:"row_count"`
	AvgAge       float64              `json:"avg_age"`
	TargetCounts map[string]int       `json:"target_counts"`
	CholBySex    map[string][]float64 `json:"chol_by_sex"`
}

// ChangeListener receives the keys that changed and the resulting view.
type ChangeListener func(changed []string, view View)

// Session is one viewer's mutable presentation state. Preview values are
// recomputed synchronously on every mutation; committed scenario results
// are the orchestrator's business, not the session's.
type Session struct {
	id string

	mu           sync.RWMutex
	scenarioID   string
	genderFilter string
	full         *dataset.Frame
	filtered     *dataset.Frame

	subMu sync.Mutex
	subs  map[uint64]ChangeListener
	seq   atomic.Uint64
}

// New creates a session over the given dataset with the filter set to All.
func New(full *dataset.Frame) *Session {
	s := &Session{
		id:           uuid.NewString(),
		genderFilter: dataset.FilterAll,
		full:         full,
		subs:         make(map[uint64]ChangeListener),
	}
	s.recompute()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// recompute refreshes the derived preview. Caller must not hold s.mu.
func (s *Session) recompute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recomputeLocked()
}

func (s *Session) recomputeLocked() {
	if s.full == nil {
		s.filtered = &dataset.Frame{}
		return
	}
	s.filtered = s.full.BySexLabel(s.genderFilter)
}

// SetGenderFilter selects a gender filter and recomputes the preview.
// Values outside GenderOptions are rejected.
func (s *Session) SetGenderFilter(filter string) error {
	valid := false
	for _, opt := range dataset.GenderOptions {
		if opt == filter {
			valid = true
			break
		}
	}
	if !valid {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"unknown gender filter %q (want one of %v)", filter, dataset.GenderOptions)
	}

	s.mu.Lock()
	if s.genderFilter == filter {
		s.mu.Unlock()
		return nil
	}
	s.genderFilter = filter
	s.recomputeLocked()
	s.mu.Unlock()

	s.notify(KeyGenderFilter, KeyFilteredDF, KeyAvgAge, KeyTargetCounts, KeyCholBySex)
	return nil
}

// SetDataset replaces the underlying dataset and recomputes the preview.
func (s *Session) SetDataset(full *dataset.Frame) {
	s.mu.Lock()
	s.full = full
	s.recomputeLocked()
	s.mu.Unlock()

	s.notify(KeyDataset, KeyFilteredDF, KeyAvgAge, KeyTargetCounts, KeyCholBySex)
}

// BindScenario associates the session with a scenario instance.
func (s *Session) BindScenario(scenarioID string) {
	s.mu.Lock()
	if s.scenarioID == scenarioID {
		s.mu.Unlock()
		return
	}
	s.scenarioID = scenarioID
	s.mu.Unlock()

	s.notify(KeyScenarioID)
}

// ScenarioID returns the bound scenario, or "" if unbound.
func (s *Session) ScenarioID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scenarioID
}

// GenderFilter returns the currently selected filter.
func (s *Session) GenderFilter() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.genderFilter
}

// Dataset returns a copy of the full dataset.
func (s *Session) Dataset() *dataset.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full == nil {
		return &dataset.Frame{}
	}
	return s.full.Clone()
}

// Filtered returns a copy of the current preview subset.
func (s *Session) Filtered() *dataset.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filtered.Clone()
}

// Snapshot returns the derived presentation view.
func (s *Session) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		SessionID:    s.id,
		ScenarioID:   s.scenarioID,
		GenderFilter: s.genderFilter,
		RowCount:     s.filtered.Len(),
		AvgAge:       s.filtered.MeanAge(),
		TargetCounts: s.filtered.TargetCounts(),
		CholBySex:    s.filtered.CholBySex(),
	}
}

// Subscribe registers a change listener and returns a cancel function.
// Listeners run synchronously on the mutating goroutine.
func (s *Session) Subscribe(fn ChangeListener) func() {
	id := s.seq.Add(1)
	s.subMu.Lock()
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Session) notify(changed ...string) {
	view := s.Snapshot()

	s.subMu.Lock()
	listeners := make([]ChangeListener, 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.subMu.Unlock()

	for _, fn := range listeners {
		fn(changed, view)
	}
}

// Manager tracks live sessions by ID.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create starts a new session over the dataset and registers it.
func (m *Manager) Create(full *dataset.Frame) *Session {
	s := New(full)
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "session %q not found", id)
	}
	return s, nil
}

// Remove drops a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// List returns all live session IDs.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}
