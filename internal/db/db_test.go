package db

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/skillctl/internal/checks"
	"github.com/lucasnoah/skillctl/internal/pipeline"
	"github.com/lucasnoah/skillctl/internal/review"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func testRun(id string) *pipeline.Run {
	return &pipeline.Run{
		ID:           id,
		Kind:         pipeline.KindUpdate,
		CurrentStage: "checking",
		Status:       pipeline.StatusRunning,
		StartedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMigrate(t *testing.T) {
	d := testDB(t)

	for _, table := range tables {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	var version int
	if err := d.conn.QueryRow("SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}

	// Migrate again should be idempotent
	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.db")
	d, err := Open(DriverSQLite, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()
	if d.Driver() != DriverSQLite {
		t.Errorf("driver = %q", d.Driver())
	}
}

func TestOpenRejectsBadDriver(t *testing.T) {
	if _, err := Open("mysql", "x"); err == nil {
		t.Error("expected error for unsupported driver")
	}
	if _, err := Open(DriverPostgres, ""); err == nil {
		t.Error("expected error for pgx without dsn")
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	got := pg.rebind("INSERT INTO t (a, b) VALUES (?, ?)")
	if got != "INSERT INTO t (a, b) VALUES ($1, $2)" {
		t.Errorf("postgres rebind = %q", got)
	}
	lite := &DB{driver: DriverSQLite}
	if got := lite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestSchemaDialects(t *testing.T) {
	if s := schema(DriverPostgres); !strings.Contains(s, "BIGSERIAL") || strings.Contains(s, "AUTOINCREMENT") {
		t.Error("postgres schema should use BIGSERIAL ids")
	}
	if s := schema(DriverSQLite); !strings.Contains(s, "AUTOINCREMENT") {
		t.Error("sqlite schema should use AUTOINCREMENT ids")
	}
}

func TestUpsertAndListRuns(t *testing.T) {
	d := testDB(t)
	run := testRun("r1")
	if err := d.UpsertRun(run); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	done := run.StartedAt.Add(time.Minute)
	run.Status = pipeline.StatusSucceeded
	run.CurrentStage = "succeeded"
	run.FinishedAt = &done
	if err := d.UpsertRun(run); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	later := testRun("r2")
	later.StartedAt = run.StartedAt.Add(time.Hour)
	if err := d.UpsertRun(later); err != nil {
		t.Fatal(err)
	}

	runs, err := d.ListRuns(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != "r2" {
		t.Errorf("newest run first, got %s", runs[0].RunID)
	}
	if runs[1].Status != "succeeded" || runs[1].Stage != "succeeded" || runs[1].FinishedAt == "" {
		t.Errorf("upsert did not update run: %+v", runs[1])
	}
}

func TestLogRunEvents(t *testing.T) {
	d := testDB(t)
	run := testRun("r1")
	results := []pipeline.StageResult{
		{Stage: "checking", Next: "confirming", Outcome: pipeline.OutcomeSuccess, Detail: "1.0.0 -> 1.1.0", StartedAt: run.StartedAt, Duration: "1.5s"},
		{Stage: "fetching", Next: "failed_fetch", Outcome: pipeline.OutcomeHardFail, Error: "connection refused", Failure: "NetworkFailure", StartedAt: run.StartedAt, Duration: "bogus"},
	}
	for _, r := range results {
		if err := d.LogRunEvent(run, r); err != nil {
			t.Fatalf("log event: %v", err)
		}
	}

	events, err := d.GetRunEvents("r1")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].DurationMs != 1500 || events[0].Detail != "1.0.0 -> 1.1.0" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Failure != "NetworkFailure" || events[1].Outcome != "hard_fail" || events[1].DurationMs != 0 {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestLogRunEventRejectsUnknownOutcome(t *testing.T) {
	d := testDB(t)
	err := d.LogRunEvent(testRun("r1"), pipeline.StageResult{Stage: "x", Next: "y", Outcome: "maybe"})
	if err == nil {
		t.Error("expected CHECK constraint failure")
	}
}

func TestLogCheckRuns(t *testing.T) {
	d := testDB(t)
	results := []*checks.Result{
		{CheckName: "markdownlint", Passed: true, AutoFixed: true, DurationMs: 120},
		{CheckName: "bundle", Passed: false, ExitCode: 2, Summary: "missing file", Findings: "a.md"},
	}
	if err := d.LogCheckRuns("r1", "lint", results); err != nil {
		t.Fatalf("log check runs: %v", err)
	}

	got, err := d.GetCheckRuns("r1")
	if err != nil {
		t.Fatalf("get check runs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 check runs, got %d", len(got))
	}
	if !got[0].Passed || !got[0].AutoFixed || got[0].Phase != "lint" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Passed || got[1].ExitCode != 2 || got[1].Summary != "missing file" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestLogReviewCycles(t *testing.T) {
	d := testDB(t)
	cycles := []review.Cycle{
		{Attempt: 1, Score: 4, Threshold: 4, Comments: 0},
		{Attempt: 0, Score: 3, Threshold: 4, Comments: 2},
	}
	if err := d.LogReviewCycles("r1", "#42", cycles); err != nil {
		t.Fatalf("log review cycles: %v", err)
	}
	got, err := d.GetReviewCycles("r1")
	if err != nil {
		t.Fatalf("get review cycles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 cycles, got %d", len(got))
	}
	if got[0].Attempt != 0 || got[0].Score != 3 || got[0].Comments != 2 || got[0].ChangeRequest != "#42" {
		t.Errorf("cycles should be ordered by attempt: %+v", got)
	}
}

func TestRecorder(t *testing.T) {
	d := testDB(t)
	rec := d.Recorder(nil)
	run := testRun("r1")

	rec.RecordStage(run, pipeline.StageResult{Stage: "checking", Next: "up_to_date", Outcome: pipeline.OutcomeSuccess, StartedAt: run.StartedAt, Duration: "5ms"})
	now := run.StartedAt.Add(time.Second)
	run.Status = pipeline.StatusSucceeded
	run.CurrentStage = "up_to_date"
	run.FinishedAt = &now
	rec.RecordFinish(run)

	events, err := d.GetRunEvents("r1")
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %v, %v", events, err)
	}
	runs, err := d.ListRuns(0)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, %v", runs, err)
	}
	if runs[0].Status != "succeeded" {
		t.Errorf("status = %q", runs[0].Status)
	}
}

func TestReset(t *testing.T) {
	d := testDB(t)
	if err := d.UpsertRun(testRun("r1")); err != nil {
		t.Fatal(err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	runs, err := d.ListRuns(10)
	if err != nil {
		t.Fatalf("list after reset: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected empty runs after reset, got %d", len(runs))
	}
}
