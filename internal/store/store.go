// Package store keeps the history of scenario runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gotrs-io/recipe-e2e/internal/scenario"
)

// ErrNotFound is returned when a run id is not in the store.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id         TEXT PRIMARY KEY,
	scenario_id    TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	phase          TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	cause          TEXT NOT NULL DEFAULT '',
	target_url     TEXT NOT NULL DEFAULT '',
	driver         TEXT NOT NULL DEFAULT '',
	started_at     TIMESTAMP NOT NULL,
	finished_at    TIMESTAMP NOT NULL,
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	screenshot     TEXT NOT NULL DEFAULT '',
	teardown_error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs (scenario_id, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs (started_at);

CREATE TABLE IF NOT EXISTS run_steps (
	run_id      TEXT NOT NULL REFERENCES runs (run_id) ON DELETE CASCADE,
	idx         INTEGER NOT NULL,
	action      TEXT NOT NULL,
	target      TEXT NOT NULL DEFAULT '',
	passed      INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, idx)
);

CREATE TABLE IF NOT EXISTS run_assertions (
	run_id      TEXT NOT NULL REFERENCES runs (run_id) ON DELETE CASCADE,
	idx         INTEGER NOT NULL,
	text        TEXT NOT NULL,
	visible     INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, idx)
);
`

type runRow struct {
	RunID         string    `db:"run_id"`
	ScenarioID    string    `db:"scenario_id"`
	Title         string    `db:"title"`
	Status        string    `db:"status"`
	Phase         string    `db:"phase"`
	Error         string    `db:"error"`
	Cause         string    `db:"cause"`
	TargetURL     string    `db:"target_url"`
	Driver        string    `db:"driver"`
	StartedAt     time.Time `db:"started_at"`
	FinishedAt    time.Time `db:"finished_at"`
	DurationMS    int64     `db:"duration_ms"`
	Screenshot    string    `db:"screenshot"`
	TeardownError string    `db:"teardown_error"`
}

type stepRow struct {
	RunID      string `db:"run_id"`
	Index      int    `db:"idx"`
	Action     string `db:"action"`
	Target     string `db:"target"`
	Passed     bool   `db:"passed"`
	Error      string `db:"error"`
	DurationMS int64  `db:"duration_ms"`
}

type assertionRow struct {
	RunID      string `db:"run_id"`
	Index      int    `db:"idx"`
	Text       string `db:"text"`
	Visible    bool   `db:"visible"`
	DurationMS int64  `db:"duration_ms"`
}

// Store persists run results.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database and applies the schema. For sqlite3 a plain
// file path is accepted as dsn.
func Open(driver, dsn string) (*Store, error) {
	if driver == "" {
		driver = "sqlite3"
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driver, err)
	}
	if driver == "sqlite3" {
		// SQLite allows one writer; serialize through a single connection.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}
	return nil
}

// DB returns the underlying sqlx.DB.
func (s *Store) DB() *sqlx.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Observe stores every finished run.
func (s *Store) Observe(ctx context.Context, res *scenario.Result) error {
	return s.Save(ctx, res)
}

// Save inserts or replaces a run with its steps and assertions.
func (s *Store) Save(ctx context.Context, res *scenario.Result) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := runRow{
		RunID:         res.RunID,
		ScenarioID:    res.ScenarioID,
		Title:         res.Title,
		Status:        string(res.Status),
		Phase:         string(res.Phase),
		Error:         res.Error,
		Cause:         res.Cause,
		TargetURL:     res.TargetURL,
		Driver:        res.Driver,
		StartedAt:     res.StartedAt.UTC(),
		FinishedAt:    res.FinishedAt.UTC(),
		DurationMS:    res.Duration.Milliseconds(),
		Screenshot:    res.Screenshot,
		TeardownError: res.TeardownError,
	}
	for _, table := range []string{"run_assertions", "run_steps", "runs"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, res.RunID); err != nil {
			return fmt.Errorf("failed to replace run %s: %w", res.RunID, err)
		}
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO runs (run_id, scenario_id, title, status, phase, error, cause, target_url, driver,
			started_at, finished_at, duration_ms, screenshot, teardown_error)
		VALUES (:run_id, :scenario_id, :title, :status, :phase, :error, :cause, :target_url, :driver,
			:started_at, :finished_at, :duration_ms, :screenshot, :teardown_error)`, row)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", res.RunID, err)
	}

	for _, st := range res.Steps {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO run_steps (run_id, idx, action, target, passed, error, duration_ms)
			VALUES (:run_id, :idx, :action, :target, :passed, :error, :duration_ms)`, stepRow{
			RunID:      res.RunID,
			Index:      st.Index,
			Action:     string(st.Action),
			Target:     st.Target,
			Passed:     st.Passed,
			Error:      st.Error,
			DurationMS: st.Duration.Milliseconds(),
		})
		if err != nil {
			return fmt.Errorf("failed to insert step %d of run %s: %w", st.Index, res.RunID, err)
		}
	}
	for i, a := range res.Assertions {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO run_assertions (run_id, idx, text, visible, duration_ms)
			VALUES (:run_id, :idx, :text, :visible, :duration_ms)`, assertionRow{
			RunID:      res.RunID,
			Index:      i,
			Text:       a.Text,
			Visible:    a.Visible,
			DurationMS: a.Duration.Milliseconds(),
		})
		if err != nil {
			return fmt.Errorf("failed to insert assertion %d of run %s: %w", i, res.RunID, err)
		}
	}
	return tx.Commit()
}

// Get returns one run with its steps and assertions.
func (s *Store) Get(ctx context.Context, runID string) (*scenario.Result, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	results, err := s.hydrate(ctx, []runRow{row})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// Query narrows List.
type Query struct {
	ScenarioID string
	Status     scenario.Status
	Since      time.Time
	Limit      int
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, q Query) ([]*scenario.Result, error) {
	query := `SELECT * FROM runs WHERE 1=1`
	var args []interface{}
	if q.ScenarioID != "" {
		query += ` AND scenario_id = ?`
		args = append(args, q.ScenarioID)
	}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	if !q.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, q.Since.UTC())
	}
	query += ` ORDER BY started_at DESC, run_id`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return s.hydrate(ctx, rows)
}

// ScenarioStats summarizes the history of one scenario.
type ScenarioStats struct {
	ScenarioID string    `db:"scenario_id" json:"scenario_id"`
	Runs       int       `db:"runs" json:"runs"`
	Passed     int       `db:"passed" json:"passed"`
	LastStatus string    `db:"last_status" json:"last_status"`
	LastRunAt  time.Time `db:"-" json:"last_run_at"`
}

// Stats returns per-scenario run counts and the most recent status.
func (s *Store) Stats(ctx context.Context) ([]ScenarioStats, error) {
	var rows []struct {
		ScenarioStats
		LastRunAt string `db:"last_run_at"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT r.scenario_id,
		       COUNT(*) AS runs,
		       SUM(CASE WHEN r.status = 'passed' THEN 1 ELSE 0 END) AS passed,
		       (SELECT l.status FROM runs l WHERE l.scenario_id = r.scenario_id
		         ORDER BY l.started_at DESC LIMIT 1) AS last_status,
		       MAX(r.started_at) AS last_run_at
		FROM runs r
		GROUP BY r.scenario_id
		ORDER BY r.scenario_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	out := make([]ScenarioStats, 0, len(rows))
	for _, r := range rows {
		st := r.ScenarioStats
		st.LastRunAt = parseTime(r.LastRunAt)
		out = append(out, st)
	}
	return out, nil
}

// Prune deletes runs that started before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"run_assertions", "run_steps"} {
		_, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id IN (SELECT run_id FROM runs WHERE started_at < ?)`, cutoff.UTC())
		if err != nil {
			return 0, fmt.Errorf("failed to prune %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (s *Store) hydrate(ctx context.Context, rows []runRow) ([]*scenario.Result, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, len(rows))
	byID := make(map[string]*scenario.Result, len(rows))
	out := make([]*scenario.Result, len(rows))
	for i, r := range rows {
		ids[i] = r.RunID
		res := &scenario.Result{
			RunID:         r.RunID,
			ScenarioID:    r.ScenarioID,
			Title:         r.Title,
			Status:        scenario.Status(r.Status),
			Phase:         scenario.Phase(r.Phase),
			Error:         r.Error,
			Cause:         r.Cause,
			TargetURL:     r.TargetURL,
			Driver:        r.Driver,
			StartedAt:     r.StartedAt,
			FinishedAt:    r.FinishedAt,
			Duration:      time.Duration(r.DurationMS) * time.Millisecond,
			Screenshot:    r.Screenshot,
			TeardownError: r.TeardownError,
		}
		out[i] = res
		byID[r.RunID] = res
	}

	// Use sqlx.In for safe IN clause expansion
	query, args, err := sqlx.In(`SELECT * FROM run_steps WHERE run_id IN (?) ORDER BY run_id, idx`, ids)
	if err != nil {
		return nil, err
	}
	var steps []stepRow
	if err := s.db.SelectContext(ctx, &steps, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	for _, st := range steps {
		res := byID[st.RunID]
		res.Steps = append(res.Steps, scenario.StepResult{
			Index:    st.Index,
			Action:   scenario.Action(st.Action),
			Target:   st.Target,
			Passed:   st.Passed,
			Error:    st.Error,
			Duration: time.Duration(st.DurationMS) * time.Millisecond,
		})
	}

	query, args, err = sqlx.In(`SELECT * FROM run_assertions WHERE run_id IN (?) ORDER BY run_id, idx`, ids)
	if err != nil {
		return nil, err
	}
	var asserts []assertionRow
	if err := s.db.SelectContext(ctx, &asserts, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load assertions: %w", err)
	}
	for _, a := range asserts {
		res := byID[a.RunID]
		res.Assertions = append(res.Assertions, scenario.AssertionResult{
			Text:     a.Text,
			Visible:  a.Visible,
			Duration: time.Duration(a.DurationMS) * time.Millisecond,
		})
	}
	return out, nil
}

// parseTime reads the aggregate timestamps SQLite returns as text.
func parseTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
