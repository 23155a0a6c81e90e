// Package analytics answers reporting queries over the event log: how long
// stages take, how runs end, which checks fail and how reviews score.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
	Rebind(query string) string
}

// Since converts a lookback window to the timestamp form stored in the event
// log. A zero window means no lower bound.
func Since(window time.Duration, now time.Time) string {
	if window <= 0 {
		return ""
	}
	return now.Add(-window).UTC().Format(time.RFC3339Nano)
}

func query(database DB, q string, since, column string, suffix string) (*sql.Rows, error) {
	var args []any
	if since != "" {
		q += " WHERE " + column + " >= ?"
		args = append(args, since)
	}
	q += suffix
	return database.Conn().Query(database.Rebind(q), args...)
}

// StageDuration holds duration stats for a stage.
type StageDuration struct {
	Pipeline string  `json:"pipeline"`
	Stage    string  `json:"stage"`
	Count    int     `json:"count"`
	AvgMs    float64 `json:"avg_ms"`
	P50Ms    float64 `json:"p50_ms"`
	P95Ms    float64 `json:"p95_ms"`
}

// QueryStageDurations returns average and percentile durations per stage.
func QueryStageDurations(database DB, since string) ([]StageDuration, error) {
	rows, err := query(database, `SELECT pipeline, stage, duration_ms FROM run_events`, since, "timestamp", "")
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	type key struct{ pipeline, stage string }
	durations := make(map[key][]float64)
	for rows.Next() {
		var k key
		var ms sql.NullInt64
		if err := rows.Scan(&k.pipeline, &k.stage, &ms); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		durations[k] = append(durations[k], float64(ms.Int64))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]StageDuration, 0, len(durations))
	for k, ds := range durations {
		sort.Float64s(ds)
		results = append(results, StageDuration{
			Pipeline: k.pipeline,
			Stage:    k.stage,
			Count:    len(ds),
			AvgMs:    avg(ds),
			P50Ms:    percentile(ds, 50),
			P95Ms:    percentile(ds, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Pipeline != results[j].Pipeline {
			return results[i].Pipeline < results[j].Pipeline
		}
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// Outcome counts finished runs per terminal state.
type Outcome struct {
	Pipeline string  `json:"pipeline"`
	Terminal string  `json:"terminal"`
	Status   string  `json:"status"`
	Count    int     `json:"count"`
	Pct      float64 `json:"pct"`
}

// QueryOutcomes returns how finished runs ended, per pipeline. Pct is the
// share of the pipeline's finished runs.
func QueryOutcomes(database DB, since string) ([]Outcome, error) {
	rows, err := query(database,
		`SELECT pipeline, stage, status, COUNT(*) FROM runs`, since, "started_at",
		` GROUP BY pipeline, stage, status`)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var results []Outcome
	totals := make(map[string]int)
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.Pipeline, &o.Terminal, &o.Status, &o.Count); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if o.Status == "running" {
			continue
		}
		totals[o.Pipeline] += o.Count
		results = append(results, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		results[i].Pct = pct(results[i].Count, totals[results[i].Pipeline])
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Pipeline != results[j].Pipeline {
			return results[i].Pipeline < results[j].Pipeline
		}
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Terminal < results[j].Terminal
	})
	return results, nil
}

// CheckFailure holds failure stats for a specific check.
type CheckFailure struct {
	Check      string  `json:"check"`
	Runs       int     `json:"runs"`
	Failures   int     `json:"failures"`
	AutoFixed  int     `json:"auto_fixed"`
	FailPct    float64 `json:"fail_pct"`
	AutoFixPct float64 `json:"auto_fix_pct"`
}

// QueryCheckFailures returns which checks fail most and how often auto-fix
// rescued them.
func QueryCheckFailures(database DB, since string) ([]CheckFailure, error) {
	rows, err := query(database,
		`SELECT check_name, COUNT(*),
			SUM(CASE WHEN passed THEN 0 ELSE 1 END),
			SUM(CASE WHEN auto_fixed THEN 1 ELSE 0 END)
		FROM check_runs`, since, "timestamp",
		` GROUP BY check_name`)
	if err != nil {
		return nil, fmt.Errorf("query check failures: %w", err)
	}
	defer rows.Close()

	var results []CheckFailure
	for rows.Next() {
		var cf CheckFailure
		if err := rows.Scan(&cf.Check, &cf.Runs, &cf.Failures, &cf.AutoFixed); err != nil {
			return nil, fmt.Errorf("scan check failure: %w", err)
		}
		cf.FailPct = pct(cf.Failures, cf.Runs)
		cf.AutoFixPct = pct(cf.AutoFixed, cf.Runs)
		results = append(results, cf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Failures != results[j].Failures {
			return results[i].Failures > results[j].Failures
		}
		return results[i].Check < results[j].Check
	})
	return results, nil
}

// ReviewStats summarizes review gate cycles.
type ReviewStats struct {
	ChangeRequests int     `json:"change_requests"`
	AvgFirstScore  float64 `json:"avg_first_score"`
	AvgFinalScore  float64 `json:"avg_final_score"`
	PassedFirstPct float64 `json:"passed_first_pct"`
	// FixAttempts maps the number of fix attempts to how many gated change
	// requests needed that many.
	FixAttempts map[int]int `json:"fix_attempts"`
}

// QueryReviewStats returns first and final review scores and the fix
// attempt distribution.
func QueryReviewStats(database DB, since string) (*ReviewStats, error) {
	rows, err := query(database,
		`SELECT run_id, attempt, score, threshold FROM review_cycles`, since, "timestamp",
		` ORDER BY run_id, attempt, id`)
	if err != nil {
		return nil, fmt.Errorf("query review cycles: %w", err)
	}
	defer rows.Close()

	type gated struct {
		first, final float64
		passedFirst  bool
		attempts     int
	}
	byRun := make(map[string]*gated)
	var order []string
	for rows.Next() {
		var runID string
		var attempt int
		var score, threshold float64
		if err := rows.Scan(&runID, &attempt, &score, &threshold); err != nil {
			return nil, fmt.Errorf("scan review cycle: %w", err)
		}
		g, ok := byRun[runID]
		if !ok {
			g = &gated{first: score, passedFirst: attempt == 0 && score >= threshold}
			byRun[runID] = g
			order = append(order, runID)
		}
		g.final = score
		g.attempts = attempt
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := &ReviewStats{ChangeRequests: len(order), FixAttempts: make(map[int]int)}
	var first, final []float64
	passed := 0
	for _, id := range order {
		g := byRun[id]
		first = append(first, g.first)
		final = append(final, g.final)
		if g.passedFirst {
			passed++
		}
		stats.FixAttempts[g.attempts]++
	}
	stats.AvgFirstScore = avg(first)
	stats.AvgFinalScore = avg(final)
	stats.PassedFirstPct = pct(passed, len(order))
	return stats, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

// percentile expects sorted input and interpolates between ranks.
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
