package panel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsekit/pulseboard/internal/bridge"
	"github.com/pulsekit/pulseboard/internal/dataset"
	"github.com/pulsekit/pulseboard/internal/engine"
	"github.com/pulsekit/pulseboard/internal/expressions"
	"github.com/pulsekit/pulseboard/internal/scheduler"
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

type fixture struct {
	srv *httptest.Server
	hub *streaming.MemoryHub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	hub := streaming.NewMemoryHub()
	sink := &streaming.StoreSink{Hub: hub}

	reg := engine.NewRegistry()
	require.NoError(t, engine.RegisterBuiltins(reg, expressions.NewExprEngine()))
	orch := engine.NewOrchestrator(st, cardiacBoard(), reg, engine.OrchestratorConfig{PoolSize: 2}, sink)
	t.Cleanup(orch.Shutdown)

	server := NewServer(Deps{
		Store:        st,
		Orchestrator: orch,
		Bridge:       bridge.New(orch, st, sink, bridge.Config{}, nil),
		Sessions:     session.NewManager(),
		Scheduler:    scheduler.NewScheduler(orch, time.Minute, nil),
		Hub:          hub,
		Dataset:      cardiacFrame(),
	})

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, hub: hub}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (f *fixture) createScenario(t *testing.T) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/scenarios", map[string]string{"config": "cardiac"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func (f *fixture) writeInputs(t *testing.T, scenarioID, filter string) {
	t.Helper()

	frameData, err := json.Marshal(cardiacFrame())
	require.NoError(t, err)
	resp, _ := f.do(t, http.MethodPut, "/api/scenarios/"+scenarioID+"/nodes/filtered_df", map[string]any{
		"kind": "table",
		"data": json.RawMessage(frameData),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/api/scenarios/"+scenarioID+"/nodes/gender_filter", map[string]any{
		"kind": "string",
		"data": filter,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPanel_ScenarioLifecycle(t *testing.T) {
	f := newFixture(t)

	id := f.createScenario(t)

	resp, body := f.do(t, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = f.do(t, http.MethodGet, "/api/scenarios/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(schema.ScenarioStatusCreated), body["status"])

	resp, _ = f.do(t, http.MethodDelete, "/api/scenarios/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/scenarios/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPanel_SubmitComputesAverage(t *testing.T) {
	f := newFixture(t)

	id := f.createScenario(t)
	f.writeInputs(t, id, dataset.SexFemale)

	resp, body := f.do(t, http.MethodPost, "/api/scenarios/"+id+"/submit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(schema.ScenarioStatusDone), body["status"])

	resp, body = f.do(t, http.MethodGet, "/api/scenarios/"+id+"/nodes/avg_age", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "scalar", body["kind"])
	assert.InDelta(t, 53.3, body["data"], 1e-9)
}

func TestPanel_NodeProjection(t *testing.T) {
	f := newFixture(t)

	id := f.createScenario(t)
	f.writeInputs(t, id, dataset.FilterAll)

	path := url.QueryEscape(".value.rows | length")
	resp, body := f.do(t, http.MethodGet, "/api/scenarios/"+id+"/nodes/filtered_df?path="+path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 10, body["result"])

	path = url.QueryEscape(".value.rows[0].age")
	resp, body = f.do(t, http.MethodGet, "/api/scenarios/"+id+"/nodes/filtered_df?path="+path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 50, body["result"])

	// Bad jq expression is a client error.
	path = url.QueryEscape(".value.rows[")
	resp, _ = f.do(t, http.MethodGet, "/api/scenarios/"+id+"/nodes/filtered_df?path="+path, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPanel_WriteNodeRejectsBadKind(t *testing.T) {
	f := newFixture(t)
	id := f.createScenario(t)

	resp, _ := f.do(t, http.MethodPut, "/api/scenarios/"+id+"/nodes/gender_filter", map[string]any{
		"kind": "blob",
		"data": "x",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Kind mismatch against the declared node is rejected too.
	resp, _ = f.do(t, http.MethodPut, "/api/scenarios/"+id+"/nodes/gender_filter", map[string]any{
		"kind": "scalar",
		"data": 1.5,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPanel_SessionFlow(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sessionID, _ := body["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.Equal(t, dataset.FilterAll, body["gender_filter"])

	resp, body = f.do(t, http.MethodPut, "/api/sessions/"+sessionID+"/filter", map[string]string{
		"gender_filter": dataset.SexFemale,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 53.3, body["avg_age"], 1e-9)
	assert.EqualValues(t, 4, body["row_count"])

	resp, _ = f.do(t, http.MethodPut, "/api/sessions/"+sessionID+"/filter", map[string]string{
		"gender_filter": "Robot",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Commit creates and binds a scenario, then a submit runs it.
	resp, body = f.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/commit", map[string]string{
		"config": "cardiac",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	scenarioID, _ := body["scenario_id"].(string)
	require.NotEmpty(t, scenarioID)

	resp, body = f.do(t, http.MethodPost, "/api/scenarios/"+scenarioID+"/submit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(schema.ScenarioStatusDone), body["status"])

	resp, body = f.do(t, http.MethodGet, "/api/scenarios/"+scenarioID+"/nodes/avg_age", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 53.3, body["data"], 1e-9)

	resp, _ = f.do(t, http.MethodGet, "/api/sessions/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPanel_CommitUnboundWithoutConfigConflicts(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, http.MethodPost, "/api/sessions", nil)
	sessionID, _ := body["session_id"].(string)

	resp, _ := f.do(t, http.MethodPost, "/api/sessions/"+sessionID+"/commit", map[string]string{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPanel_SchedulerEndpoints(t *testing.T) {
	f := newFixture(t)
	id := f.createScenario(t)

	resp, body := f.do(t, http.MethodPost, "/api/scheduler", map[string]string{
		"scenario_id":     id,
		"cron_expression": "*/5 * * * *",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, id, body["scenario_id"])

	// Unknown scenario cannot be scheduled.
	resp, _ = f.do(t, http.MethodPost, "/api/scheduler", map[string]string{
		"scenario_id":     "ghost",
		"cron_expression": "*/5 * * * *",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Bad cron is a client error.
	resp, _ = f.do(t, http.MethodPost, "/api/scheduler", map[string]string{
		"scenario_id":     id,
		"cron_expression": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/scheduler", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	enabled := false
	resp, _ = f.do(t, http.MethodPut, "/api/scheduler/"+id, map[string]any{"enabled": &enabled})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/scheduler/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = f.do(t, http.MethodGet, "/api/scheduler", nil)
	assert.EqualValues(t, 0, body["count"])
}

func TestPanel_SSEStreamsScenarioEvents(t *testing.T) {
	f := newFixture(t)
	id := f.createScenario(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/sse/scenarios/"+id, nil)
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// Give the subscription a moment to register, then trigger an event
	// by writing a node.
	time.Sleep(100 * time.Millisecond)
	f.writeInputs(t, id, dataset.SexMale)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("SSE stream closed before node_written arrived")
			}
			if strings.HasPrefix(line, "event: "+schema.EventNodeWritten) {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for SSE event")
		}
	}
}

func TestPanel_SSEReplaySeedsLateClient(t *testing.T) {
	f := newFixture(t)
	id := f.createScenario(t)

	// Events happen before anyone is listening.
	f.writeInputs(t, id, dataset.FilterAll)
	resp, _ := f.do(t, http.MethodPost, "/api/scenarios/"+id+"/submit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.srv.URL+"/sse/scenarios/"+id+"?replay=16&types="+schema.EventScenarioDone, nil)
	require.NoError(t, err)
	stream, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(stream.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// The finished run's tail is replayed without any further activity.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("SSE stream closed before replayed event arrived")
			}
			if strings.HasPrefix(line, "event: "+schema.EventScenarioDone) {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for replayed SSE event")
		}
	}
}

func TestPanel_ErrorShapes(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/scenarios", map[string]string{"config": "ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, body, "error")

	resp, _ = f.do(t, http.MethodPost, "/api/scenarios", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/scenarios/nope/nodes/avg_age", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
