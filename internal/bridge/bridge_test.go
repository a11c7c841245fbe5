package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsekit/pulseboard/internal/dataset"
	"github.com/pulsekit/pulseboard/internal/engine"
	"github.com/pulsekit/pulseboard/internal/expressions"
	"github.com/pulsekit/pulseboard/internal/session"
	"github.com/pulsekit/pulseboard/internal/store"
	"github.com/pulsekit/pulseboard/internal/streaming"
	"github.com/pulsekit/pulseboard/pkg/schema"
)

func cardiacBoard() *schema.BoardConfig {
	return &schema.BoardConfig{
		Nodes: []schema.DataNodeConfig{
			{Name: "filtered_df", Kind: schema.NodeKindTable},
			{Name: "gender_filter", Kind: schema.NodeKindString},
			{Name: "avg_age", Kind: schema.NodeKindScalar},
		},
		Tasks: []schema.TaskConfig{
			{
				Name:        "compute_avg_age",
				Computation: engine.ComputeAvgAge,
				Inputs:      []string{"filtered_df", "gender_filter"},
				Outputs:     []string{"avg_age"},
			},
		},
		Scenarios: []schema.ScenarioConfig{
			{Name: "cardiac", Tasks: []string{"compute_avg_age"}},
		},
	}
}

func cardiacFrame() *dataset.Frame {
	ages := []float64{50, 55, 60, 45, 70, 65, 40, 48, 52, 58}
	sexes := []int{1, 1, 1, 0, 0, 1, 0, 1, 1, 0}
	f := &dataset.Frame{}
	for i := range ages {
		f.Rows = append(f.Rows, dataset.NewRow(ages[i], sexes[i], 200+float64(i), i%2))
	}
	return f
}

type testEnv struct {
	orch   engine.Orchestrator
	store  *store.MemoryStore
	hub    *streaming.MemoryHub
	bridge *Bridge
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	hub := streaming.NewMemoryHub()
	sink := &streaming.StoreSink{Hub: hub}

	reg := engine.NewRegistry()
	require.NoError(t, engine.RegisterBuiltins(reg, expressions.NewExprEngine()))

	orch := engine.NewOrchestrator(st, cardiacBoard(), reg, engine.OrchestratorConfig{PoolSize: 2}, sink)
	t.Cleanup(orch.Shutdown)

	return &testEnv{
		orch:   orch,
		store:  st,
		hub:    hub,
		bridge: New(orch, st, sink, Config{}, nil),
	}
}

func TestBridge_PreviewDoesNotTouchScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	sc, err := env.orch.CreateScenario(ctx, "cardiac")
	require.NoError(t, err)

	s := session.New(cardiacFrame())
	s.BindScenario(sc.ID)
	require.NoError(t, s.SetGenderFilter(dataset.SexFemale))

	view := env.bridge.Preview(s)
	assert.InDelta(t, 53.3, view.AvgAge, 1e-9)
	assert.Equal(t, 4, view.RowCount)

	// The scenario's input nodes stay unwritten.
	status, err := env.orch.Status(ctx, sc.ID)
	require.NoError(t, err)
	assert.True(t, status.Nodes["filtered_df"].IsEmpty())
	assert.True(t, status.Nodes["gender_filter"].IsEmpty())
	assert.Equal(t, schema.ScenarioStatusCreated, status.Status)
}

func TestBridge_CommitWritesInputsWithoutSubmit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	sc, err := env.orch.CreateScenario(ctx, "cardiac")
	require.NoError(t, err)

	s := session.New(cardiacFrame())
	s.BindScenario(sc.ID)
	require.NoError(t, s.SetGenderFilter(dataset.SexFemale))
	require.NoError(t, env.bridge.Commit(ctx, s))

	status, err := env.orch.Status(ctx, sc.ID)
	require.NoError(t, err)

	// Inputs landed, the output did not: commit never submits. The table
	// node holds the filtered preview subset, not the full dataset.
	frame, err := status.Nodes["filtered_df"].AsFrame()
	require.NoError(t, err)
	assert.Equal(t, 4, frame.Len())
	for _, row := range frame.Rows {
		assert.Equal(t, dataset.SexFemale, row.SexLabel)
	}
	filter, err := status.Nodes["gender_filter"].AsString()
	require.NoError(t, err)
	assert.Equal(t, dataset.SexFemale, filter)
	assert.True(t, status.Nodes["avg_age"].IsEmpty())
	assert.Equal(t, schema.ScenarioStatusReady, status.Status)
}

func TestBridge_CommitRecordsEvent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	events, cancel, err := env.hub.Subscribe(ctx, streaming.EventFilter{
		EventTypes: []string{schema.EventCommitSucceeded},
	})
	require.NoError(t, err)
	defer cancel()

	sc, err := env.orch.CreateScenario(ctx, "cardiac")
	require.NoError(t, err)

	s := session.New(cardiacFrame())
	s.BindScenario(sc.ID)
	require.NoError(t, env.bridge.Commit(ctx, s))

	stored, err := env.store.GetEvents(ctx, sc.ID, 0)
	require.NoError(t, err)
	var commit *store.Event
	for _, ev := range stored {
		if ev.Type == schema.EventCommitSucceeded {
			commit = ev
		}
	}
	require.NotNil(t, commit, "commit_succeeded must be persisted")

	select {
	case ev := <-events:
		assert.Equal(t, sc.ID, ev.ScenarioID)
		assert.Equal(t, schema.EventCommitSucceeded, ev.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("commit event never reached the hub")
	}
}

func TestBridge_CommitUnboundSessionFails(t *testing.T) {
	env := newTestEnv(t)

	s := session.New(cardiacFrame())
	err := env.bridge.Commit(context.Background(), s)
	require.Error(t, err)
	var berr *schema.BoardError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, schema.ErrCodeState, berr.Code)
}

func TestBridge_CommitAndBindCreatesScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	s := session.New(cardiacFrame())
	require.NoError(t, s.SetGenderFilter(dataset.SexMale))

	scenarioID, err := env.bridge.CommitAndBind(ctx, s, "cardiac")
	require.NoError(t, err)
	require.NotEmpty(t, scenarioID)
	assert.Equal(t, scenarioID, s.ScenarioID())

	// A later submit uses the committed inputs.
	result, err := env.orch.Submit(ctx, scenarioID)
	require.NoError(t, err)
	assert.Equal(t, schema.ScenarioStatusDone, result.Status)

	avg, err := env.orch.ReadNode(ctx, scenarioID, "avg_age")
	require.NoError(t, err)
	got, err := avg.AsScalar()
	require.NoError(t, err)
	assert.InDelta(t, 55.0, got, 1e-9)
}

func TestBridge_CommitAndBindReusesBinding(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	s := session.New(cardiacFrame())
	first, err := env.bridge.CommitAndBind(ctx, s, "cardiac")
	require.NoError(t, err)
	second, err := env.bridge.CommitAndBind(ctx, s, "cardiac")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBridge_NotifyFailuresRelays(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	env := newTestEnv(t)

	got := make(chan streaming.StreamEvent, 8)
	require.NoError(t, env.bridge.NotifyFailures(ctx, env.hub, func(ev streaming.StreamEvent) {
		got <- ev
	}))

	require.NoError(t, env.hub.Publish(ctx, streaming.StreamEvent{
		ScenarioID: "sc-1",
		EventType:  schema.EventScenarioFailed,
	}))
	require.NoError(t, env.hub.Publish(ctx, streaming.StreamEvent{
		ScenarioID: "sc-1",
		EventType:  schema.EventScenarioDone,
	}))

	select {
	case ev := <-got:
		assert.Equal(t, schema.EventScenarioFailed, ev.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("failure event was not relayed")
	}

	// Non-failure events never reach the notifier.
	select {
	case ev := <-got:
		t.Fatalf("unexpected relay of %s", ev.EventType)
	case <-time.After(50 * time.Millisecond):
	}
}
