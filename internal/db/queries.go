package db

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/skillctl/internal/checks"
	"github.com/lucasnoah/skillctl/internal/pipeline"
	"github.com/lucasnoah/skillctl/internal/review"
)

// now is the clock used for row timestamps.
var now = time.Now

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// RunRecord represents a row in the runs table.
type RunRecord struct {
	RunID      string
	Pipeline   string
	Status     string
	Stage      string
	StartedAt  string
	FinishedAt string
}

// RunEvent represents a row in the run_events table.
type RunEvent struct {
	ID         int64
	RunID      string
	Pipeline   string
	Stage      string
	Next       string
	Outcome    string
	Failure    string
	Detail     string
	Error      string
	DurationMs int64
	Timestamp  string
}

// CheckRun represents a row in the check_runs table.
type CheckRun struct {
	ID         int64
	RunID      string
	Phase      string
	CheckName  string
	Passed     bool
	AutoFixed  bool
	ExitCode   int
	DurationMs int64
	Summary    string
	Findings   string
	Timestamp  string
}

// ReviewCycle represents a row in the review_cycles table.
type ReviewCycle struct {
	ID            int64
	RunID         string
	ChangeRequest string
	Attempt       int
	Score         float64
	Threshold     float64
	Comments      int
	Timestamp     string
}

// UpsertRun inserts or updates the summary row for a run.
func (d *DB) UpsertRun(run *pipeline.Run) error {
	finished := sql.NullString{}
	if run.FinishedAt != nil {
		finished = sql.NullString{String: timestamp(*run.FinishedAt), Valid: true}
	}
	_, err := d.exec(
		`INSERT INTO runs (run_id, pipeline, status, stage, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET status = excluded.status, stage = excluded.stage, finished_at = excluded.finished_at`,
		run.ID, string(run.Kind), string(run.Status), string(run.CurrentStage), timestamp(run.StartedAt), finished,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (d *DB) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.query(
		`SELECT run_id, pipeline, status, stage, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var finished sql.NullString
		if err := rows.Scan(&r.RunID, &r.Pipeline, &r.Status, &r.Stage, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.FinishedAt = finished.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// LogRunEvent records one executed stage.
func (d *DB) LogRunEvent(run *pipeline.Run, res pipeline.StageResult) error {
	var ms int64
	if dur, err := time.ParseDuration(res.Duration); err == nil {
		ms = dur.Milliseconds()
	}
	_, err := d.exec(
		`INSERT INTO run_events (run_id, pipeline, stage, next_stage, outcome, failure, detail, error, duration_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), string(res.Stage), string(res.Next), string(res.Outcome),
		res.Failure, res.Detail, res.Error, ms, timestamp(res.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("log run event: %w", err)
	}
	return nil
}

// GetRunEvents returns a run's stage events in execution order.
func (d *DB) GetRunEvents(runID string) ([]RunEvent, error) {
	rows, err := d.query(
		`SELECT id, run_id, pipeline, stage, next_stage, outcome, failure, detail, error, duration_ms, timestamp
		 FROM run_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("get run events: %w", err)
	}
	defer rows.Close()

	var out []RunEvent
	for rows.Next() {
		var e RunEvent
		var failure, detail, errText sql.NullString
		var ms sql.NullInt64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Pipeline, &e.Stage, &e.Next, &e.Outcome,
			&failure, &detail, &errText, &ms, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		e.Failure, e.Detail, e.Error, e.DurationMs = failure.String, detail.String, errText.String, ms.Int64
		out = append(out, e)
	}
	return out, rows.Err()
}

// LogCheckRuns records the results of one lint or build phase.
func (d *DB) LogCheckRuns(runID, phase string, results []*checks.Result) error {
	for _, r := range results {
		_, err := d.exec(
			`INSERT INTO check_runs (run_id, phase, check_name, passed, auto_fixed, exit_code, duration_ms, summary, findings, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, phase, r.CheckName, r.Passed, r.AutoFixed, r.ExitCode, int64(r.DurationMs), r.Summary, r.Findings, timestamp(now()),
		)
		if err != nil {
			return fmt.Errorf("log check run %q: %w", r.CheckName, err)
		}
	}
	return nil
}

// GetCheckRuns returns a run's check results in execution order.
func (d *DB) GetCheckRuns(runID string) ([]CheckRun, error) {
	rows, err := d.query(
		`SELECT id, run_id, phase, check_name, passed, auto_fixed, exit_code, duration_ms, summary, findings, timestamp
		 FROM check_runs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("get check runs: %w", err)
	}
	defer rows.Close()

	var out []CheckRun
	for rows.Next() {
		var c CheckRun
		var exitCode, ms sql.NullInt64
		var summary, findings sql.NullString
		if err := rows.Scan(&c.ID, &c.RunID, &c.Phase, &c.CheckName, &c.Passed, &c.AutoFixed,
			&exitCode, &ms, &summary, &findings, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan check run: %w", err)
		}
		c.ExitCode, c.DurationMs = int(exitCode.Int64), ms.Int64
		c.Summary, c.Findings = summary.String, findings.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// LogReviewCycles records every scored review of a gate run.
func (d *DB) LogReviewCycles(runID, changeRequest string, cycles []review.Cycle) error {
	for _, c := range cycles {
		_, err := d.exec(
			`INSERT INTO review_cycles (run_id, change_request, attempt, score, threshold, comments, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, changeRequest, c.Attempt, c.Score, c.Threshold, c.Comments, timestamp(now()),
		)
		if err != nil {
			return fmt.Errorf("log review cycle %d: %w", c.Attempt, err)
		}
	}
	return nil
}

// GetReviewCycles returns a run's review cycles by attempt.
func (d *DB) GetReviewCycles(runID string) ([]ReviewCycle, error) {
	rows, err := d.query(
		`SELECT id, run_id, change_request, attempt, score, threshold, comments, timestamp
		 FROM review_cycles WHERE run_id = ? ORDER BY attempt, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("get review cycles: %w", err)
	}
	defer rows.Close()

	var out []ReviewCycle
	for rows.Next() {
		var c ReviewCycle
		if err := rows.Scan(&c.ID, &c.RunID, &c.ChangeRequest, &c.Attempt, &c.Score, &c.Threshold, &c.Comments, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan review cycle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Recorder returns a pipeline.Recorder writing to the event log. Write
// failures are logged and never fail the pipeline.
func (d *DB) Recorder(logger *zap.Logger) pipeline.Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &recorder{db: d, logger: logger}
}

type recorder struct {
	db     *DB
	logger *zap.Logger
}

func (r *recorder) RecordStage(run *pipeline.Run, res pipeline.StageResult) {
	if err := r.db.UpsertRun(run); err != nil {
		r.logger.Warn("event log", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	if err := r.db.LogRunEvent(run, res); err != nil {
		r.logger.Warn("event log", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (r *recorder) RecordFinish(run *pipeline.Run) {
	if err := r.db.UpsertRun(run); err != nil {
		r.logger.Warn("event log", zap.String("run_id", run.ID), zap.Error(err))
	}
}
