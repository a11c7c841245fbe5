package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"encoding/json"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/pulsekit/pulseboard/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Scenarios ---

func (s *LibSQLStore) CreateScenario(ctx context.Context, sc *Scenario) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scenarios (id, config_name, status, error, created_at, submitted_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.ConfigName, string(sc.Status), nullRaw(sc.Error),
		timeOrNow(sc.CreatedAt), nullTime(sc.SubmittedAt), nullTime(sc.CompletedAt), timeOrNow(sc.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetScenario(ctx context.Context, id string) (*Scenario, error) {
	sc := &Scenario{}
	var (
		status                 string
		errJSON                sql.NullString
		submittedAt, completed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, config_name, status, error, created_at, submitted_at, completed_at, updated_at
		 FROM scenarios WHERE id = ?`, id,
	).Scan(&sc.ID, &sc.ConfigName, &status, &errJSON, &sc.CreatedAt, &submittedAt, &completed, &sc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scenario", id)
	}
	if err != nil {
		return nil, err
	}
	sc.Status = schema.ScenarioStatus(status)
	sc.Error = rawOrNil(errJSON)
	if submittedAt.Valid {
		sc.SubmittedAt = &submittedAt.Time
	}
	if completed.Valid {
		sc.CompletedAt = &completed.Time
	}
	return sc, nil
}

func (s *LibSQLStore) UpdateScenario(ctx context.Context, id string, update ScenarioUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.SubmittedAt != nil {
		sets = append(sets, "submitted_at = ?")
		args = append(args, *update.SubmittedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scenarios SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scenario", id)
}

func (s *LibSQLStore) ListScenarios(ctx context.Context, filter ScenarioFilter) ([]*Scenario, error) {
	var where []string
	var args []any

	if filter.ConfigName != "" {
		where = append(where, "config_name = ?")
		args = append(args, filter.ConfigName)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT id, config_name, status, error, created_at, submitted_at, completed_at, updated_at FROM scenarios`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scenarios []*Scenario
	for rows.Next() {
		sc := &Scenario{}
		var (
			status                 string
			errJSON                sql.NullString
			submittedAt, completed sql.NullTime
		)
		if err := rows.Scan(&sc.ID, &sc.ConfigName, &status, &errJSON,
			&sc.CreatedAt, &submittedAt, &completed, &sc.UpdatedAt); err != nil {
			return nil, err
		}
		sc.Status = schema.ScenarioStatus(status)
		sc.Error = rawOrNil(errJSON)
		if submittedAt.Valid {
			sc.SubmittedAt = &submittedAt.Time
		}
		if completed.Valid {
			sc.CompletedAt = &completed.Time
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, rows.Err()
}

func (s *LibSQLStore) DeleteScenario(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scenarios WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scenario", id)
}

// --- Node values ---

func (s *LibSQLStore) AppendNodeValue(ctx context.Context, rec *NodeRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if rec.Version == 0 {
		var next int
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM node_values WHERE scenario_id = ? AND name = ?`,
			rec.ScenarioID, rec.Name,
		).Scan(&next)
		if err != nil {
			return fmt.Errorf("get next version: %w", err)
		}
		rec.Version = next
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO node_values (scenario_id, name, version, kind, data, written_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ScenarioID, rec.Name, rec.Version, string(rec.Kind), nullRaw(rec.Data), timeOrNow(rec.WrittenAt),
	)
	if err != nil {
		return fmt.Errorf("insert node value: %w", err)
	}
	return tx.Commit()
}

func (s *LibSQLStore) GetNodeValue(ctx context.Context, scenarioID, name string) (*NodeRecord, error) {
	rec := &NodeRecord{}
	var kind string
	var data sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT scenario_id, name, version, kind, data, written_at FROM node_values
		 WHERE scenario_id = ? AND name = ? ORDER BY version DESC LIMIT 1`,
		scenarioID, name,
	).Scan(&rec.ScenarioID, &rec.Name, &rec.Version, &kind, &data, &rec.WrittenAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("node value", scenarioID+"/"+name)
	}
	if err != nil {
		return nil, err
	}
	rec.Kind = schema.NodeKind(kind)
	rec.Data = rawOrNil(data)
	return rec, nil
}

func (s *LibSQLStore) ListNodeValues(ctx context.Context, scenarioID string) ([]*NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT nv.scenario_id, nv.name, nv.version, nv.kind, nv.data, nv.written_at
		 FROM node_values nv
		 JOIN (SELECT name, MAX(version) AS v FROM node_values WHERE scenario_id = ? GROUP BY name) latest
		   ON nv.name = latest.name AND nv.version = latest.v
		 WHERE nv.scenario_id = ?
		 ORDER BY nv.name ASC`,
		scenarioID, scenarioID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodeRecords(rows)
}

func (s *LibSQLStore) GetNodeHistory(ctx context.Context, scenarioID, name string, limit int) ([]*NodeRecord, error) {
	query := `SELECT scenario_id, name, version, kind, data, written_at FROM node_values
		 WHERE scenario_id = ? AND name = ? ORDER BY version DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, scenarioID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodeRecords(rows)
}

func scanNodeRecords(rows *sql.Rows) ([]*NodeRecord, error) {
	var records []*NodeRecord
	for rows.Next() {
		rec := &NodeRecord{}
		var kind string
		var data sql.NullString
		if err := rows.Scan(&rec.ScenarioID, &rec.Name, &rec.Version, &kind, &data, &rec.WrittenAt); err != nil {
			return nil, err
		}
		rec.Kind = schema.NodeKind(kind)
		rec.Data = rawOrNil(data)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// --- Task runs ---

func (s *LibSQLStore) UpsertTaskRun(ctx context.Context, tr *TaskRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_runs (scenario_id, task_id, status, error, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(scenario_id, task_id) DO UPDATE SET
		   status=excluded.status, error=excluded.error, started_at=excluded.started_at,
		   completed_at=excluded.completed_at, duration_ms=excluded.duration_ms`,
		tr.ScenarioID, tr.TaskID, string(tr.Status), nullRaw(tr.Error),
		nullTime(tr.StartedAt), nullTime(tr.CompletedAt), tr.DurationMs,
	)
	return err
}

func (s *LibSQLStore) ListTaskRuns(ctx context.Context, scenarioID string) ([]*TaskRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scenario_id, task_id, status, error, started_at, completed_at, duration_ms
		 FROM task_runs WHERE scenario_id = ? ORDER BY task_id ASC`, scenarioID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*TaskRun
	for rows.Next() {
		tr := &TaskRun{}
		var status string
		var errJSON sql.NullString
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&tr.ScenarioID, &tr.TaskID, &status, &errJSON, &startedAt, &completedAt, &tr.DurationMs); err != nil {
			return nil, err
		}
		tr.Status = schema.TaskRunStatus(status)
		tr.Error = rawOrNil(errJSON)
		if startedAt.Valid {
			tr.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			tr.CompletedAt = &completedAt.Time
		}
		runs = append(runs, tr)
	}
	return runs, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Next per-scenario sequence number.
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE scenario_id = ?`, event.ScenarioID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (scenario_id, task_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ScenarioID, nullStr(event.TaskID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

func (s *LibSQLStore) GetEvents(ctx context.Context, scenarioID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scenario_id, task_id, event_type, payload, timestamp, sequence
		 FROM events WHERE scenario_id = ? AND sequence > ? ORDER BY sequence ASC`,
		scenarioID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var taskID sql.NullString
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ScenarioID, &taskID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.TaskID = taskID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- SQL helpers ---

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
