package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsekit/pulseboard/internal/dataset"
	"github.com/pulsekit/pulseboard/pkg/schema"
)

func sampleFrame() *dataset.Frame {
	ages := []float64{50, 55, 60, 45, 70, 65, 40, 48, 52, 58}
	sexes := []int{1, 1, 1, 0, 0, 1, 0, 1, 1, 0}
	f := &dataset.Frame{}
	for i := range ages {
		f.Rows = append(f.Rows, dataset.NewRow(ages[i], sexes[i], 200+float64(i), i%2))
	}
	return f
}

func TestSession_DefaultsToAll(t *testing.T) {
	s := New(sampleFrame())

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, dataset.FilterAll, s.GenderFilter())

	view := s.Snapshot()
	assert.Equal(t, 10, view.RowCount)
	assert.InDelta(t, 54.3, view.AvgAge, 1e-9)
}

func TestSession_FilterRecomputesPreview(t *testing.T) {
	s := New(sampleFrame())

	require.NoError(t, s.SetGenderFilter(dataset.SexFemale))
	view := s.Snapshot()
	assert.Equal(t, 4, view.RowCount)
	assert.InDelta(t, 53.3, view.AvgAge, 1e-9)

	require.NoError(t, s.SetGenderFilter(dataset.SexMale))
	view = s.Snapshot()
	assert.Equal(t, 6, view.RowCount)
	assert.InDelta(t, 55.0, view.AvgAge, 1e-9)
}

func TestSession_RejectsUnknownFilter(t *testing.T) {
	s := New(sampleFrame())

	err := s.SetGenderFilter("Other")
	require.Error(t, err)
	var berr *schema.BoardError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, schema.ErrCodeValidation, berr.Code)

	// Session state is untouched by the failed set.
	assert.Equal(t, dataset.FilterAll, s.GenderFilter())
}

func TestSession_NotifiesChangedKeys(t *testing.T) {
	s := New(sampleFrame())

	var gotKeys []string
	var gotView View
	cancel := s.Subscribe(func(changed []string, view View) {
		gotKeys = changed
		gotView = view
	})
	defer cancel()

	require.NoError(t, s.SetGenderFilter(dataset.SexFemale))

	assert.Contains(t, gotKeys, KeyGenderFilter)
	assert.Contains(t, gotKeys, KeyAvgAge)
	assert.Contains(t, gotKeys, KeyFilteredDF)
	assert.Equal(t, dataset.SexFemale, gotView.GenderFilter)
	assert.InDelta(t, 53.3, gotView.AvgAge, 1e-9)
}

func TestSession_NoNotifyOnNoopSet(t *testing.T) {
	s := New(sampleFrame())

	calls := 0
	cancel := s.Subscribe(func([]string, View) { calls++ })
	defer cancel()

	require.NoError(t, s.SetGenderFilter(dataset.FilterAll))
	assert.Zero(t, calls)
}

func TestSession_UnsubscribeStopsNotifications(t *testing.T) {
	s := New(sampleFrame())

	calls := 0
	cancel := s.Subscribe(func([]string, View) { calls++ })
	cancel()

	require.NoError(t, s.SetGenderFilter(dataset.SexMale))
	assert.Zero(t, calls)
}

func TestSession_BindScenario(t *testing.T) {
	s := New(sampleFrame())

	var gotKeys []string
	cancel := s.Subscribe(func(changed []string, _ View) { gotKeys = changed })
	defer cancel()

	s.BindScenario("sc-1")
	assert.Equal(t, "sc-1", s.ScenarioID())
	assert.Equal(t, []string{KeyScenarioID}, gotKeys)

	// Rebinding the same scenario is a no-op.
	gotKeys = nil
	s.BindScenario("sc-1")
	assert.Nil(t, gotKeys)
}

func TestSession_SetDataset(t *testing.T) {
	s := New(&dataset.Frame{})
	assert.Zero(t, s.Snapshot().RowCount)
	assert.Zero(t, s.Snapshot().AvgAge)

	s.SetDataset(sampleFrame())
	view := s.Snapshot()
	assert.Equal(t, 10, view.RowCount)
	assert.InDelta(t, 54.3, view.AvgAge, 1e-9)
}

func TestSession_FilteredReturnsCopy(t *testing.T) {
	s := New(sampleFrame())

	sub := s.Filtered()
	require.Equal(t, 10, sub.Len())
	sub.Rows = sub.Rows[:1]

	assert.Equal(t, 10, s.Snapshot().RowCount)
}

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager()

	s := m.Create(sampleFrame())
	got, err := m.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, []string{s.ID()}, m.List())

	m.Remove(s.ID())
	_, err = m.Get(s.ID())
	var berr *schema.BoardError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, schema.ErrCodeNotFound, berr.Code)
}
