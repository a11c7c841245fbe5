package panel

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pulsekit/pulseboard/internal/nodes"
	"github.com/pulsekit/pulseboard/internal/store"
	"github.com/pulsekit/pulseboard/pkg/schema"
)

// handleListScenarios lists scenarios, optionally filtered by config
// name and status.
func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	filter := store.ScenarioFilter{
		ConfigName: r.URL.Query().Get("config"),
		Status:     schema.ScenarioStatus(r.URL.Query().Get("status")),
	}

	scenarios, err := s.deps.Orchestrator.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scenarios": scenarios,
		"count":     len(scenarios),
	})
}

// handleCreateScenario instantiates a scenario from a configuration name.
func (s *Server) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Config string `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Config == "" {
		writeError(w, http.StatusBadRequest, "config is required")
		return
	}

	sc, err := s.deps.Orchestrator.CreateScenario(r.Context(), body.Config)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

// handleScenarioDetail returns the scenario record plus its node values
// and task runs.
func (s *Server) handleScenarioDetail(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Orchestrator.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleDiscardScenario removes a scenario and its history.
func (s *Server) handleDiscardScenario(w http.ResponseWriter, r *http.Request) {
	scenarioID := r.PathValue("id")
	if err := s.deps.Orchestrator.Discard(r.Context(), scenarioID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "scenario_id": scenarioID})
}

// handleSubmitScenario runs the scenario's task graph and returns the
// per-task outcome.
func (s *Server) handleSubmitScenario(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Orchestrator.Submit(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleScenarioEvents returns the persisted event log, optionally from
// a sequence number onward.
func (s *Server) handleScenarioEvents(w http.ResponseWriter, r *http.Request) {
	since := int64(queryInt(r, "since", 0))
	events, err := s.deps.Store.GetEvents(r.Context(), r.PathValue("id"), since)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// handleReadNode returns a node's latest value. With ?path=, the value
// envelope {kind, value, version} is projected through a jq expression,
// e.g. ?path=.value.rows|length on a table node.
func (s *Server) handleReadNode(w http.ResponseWriter, r *http.Request) {
	value, err := s.deps.Orchestrator.ReadNode(r.Context(), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSON(w, http.StatusOK, value)
		return
	}

	decoded, err := value.Decode()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	envelope := map[string]any{
		"kind":    string(value.Kind),
		"value":   decoded,
		"version": value.Version,
	}
	projected, err := s.jq.Evaluate(r.Context(), path, envelope)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":   path,
		"result": projected,
	})
}

// handleWriteNode writes a kind-tagged value into a scenario's node.
func (s *Server) handleWriteNode(w http.ResponseWriter, r *http.Request) {
	var value nodes.Value
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if !value.Kind.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown node kind %q", value.Kind))
		return
	}

	scenarioID, name := r.PathValue("id"), r.PathValue("name")
	if err := s.deps.Orchestrator.WriteNode(r.Context(), scenarioID, name, value); err != nil {
		writeDomainError(w, err)
		return
	}

	written, err := s.deps.Orchestrator.ReadNode(r.Context(), scenarioID, name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"node":    name,
		"version": written.Version,
	})
}

// handleCreateSession starts a presentation session over the server's
// dataset.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.deps.Sessions.Create(s.deps.Dataset)
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

// handleSessionView returns the session's derived preview values.
func (s *Server) handleSessionView(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Bridge.Preview(sess))
}

// handleSetFilter changes the session's gender filter. The preview in
// the response reflects the recomputed values; nothing touches the
// scenario until commit.
func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var body struct {
		GenderFilter string `json:"gender_filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if err := sess.SetGenderFilter(body.GenderFilter); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// handleCommitSession copies the session's inputs into its scenario.
// An unbound session is bound first: to scenario_id when given, else to
// a fresh scenario created from config.
func (s *Server) handleCommitSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var body struct {
		ScenarioID string `json:"scenario_id"`
		Config     string `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if body.ScenarioID != "" {
		sess.BindScenario(body.ScenarioID)
	}

	var scenarioID string
	if body.Config != "" {
		scenarioID, err = s.deps.Bridge.CommitAndBind(r.Context(), sess, body.Config)
	} else {
		err = s.deps.Bridge.Commit(r.Context(), sess)
		scenarioID = sess.ScenarioID()
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ok":          "true",
		"session_id":  sess.ID(),
		"scenario_id": scenarioID,
	})
}

// handleRemoveSession drops a session.
func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.deps.Sessions.Remove(id)
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "session_id": id})
}

// handleListJobs lists scheduled scenario refreshes.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.deps.Scheduler.Jobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleCreateJob registers a periodic re-submission for a scenario.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ScenarioID     string `json:"scenario_id"`
		CronExpression string `json:"cron_expression"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.ScenarioID == "" || body.CronExpression == "" {
		writeError(w, http.StatusBadRequest, "scenario_id and cron_expression are required")
		return
	}

	// Reject schedules for scenarios that don't exist.
	if _, err := s.deps.Orchestrator.Status(r.Context(), body.ScenarioID); err != nil {
		writeDomainError(w, err)
		return
	}

	job, err := s.deps.Scheduler.AddJob(body.ScenarioID, body.CronExpression)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// handleUpdateJob enables or disables a scheduled refresh.
func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	scenarioID := r.PathValue("id")

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	if !s.deps.Scheduler.SetEnabled(scenarioID, *body.Enabled) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no schedule for scenario %q", scenarioID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "scenario_id": scenarioID})
}

// handleDeleteJob removes a scheduled refresh.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	scenarioID := r.PathValue("id")
	s.deps.Scheduler.RemoveJob(scenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "scenario_id": scenarioID})
}
