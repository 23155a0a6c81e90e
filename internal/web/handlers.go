package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/skillctl/internal/analytics"
	"github.com/lucasnoah/skillctl/internal/db"
	"github.com/lucasnoah/skillctl/internal/pipeline"
)

// ---- view models ----

type DashboardData struct {
	Runs    []RunRow
	Kind    string
	HasLog  bool
	Summary []SummaryCard
}

type RunRow struct {
	ID        string
	Kind      string
	Status    string
	Stage     string
	StartedAt time.Time
	Duration  string
}

type SummaryCard struct {
	Kind      string
	Total     int
	Succeeded int
	Failed    int
}

type RunDetailData struct {
	Run     *pipeline.Run
	Stages  []pipeline.StageResult
	Checks  []db.CheckRun
	Reviews []db.ReviewCycle
	HasLog  bool
}

// ---- helpers ----

func relTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func runDuration(run *pipeline.Run) string {
	if run.FinishedAt == nil {
		return "-"
	}
	return run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}

func (s *Server) render(w http.ResponseWriter, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base", data); err != nil {
		s.logger.Warn("render template", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

// validRunID rejects ids that could escape the store directory.
func validRunID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && !strings.HasPrefix(id, ".")
}

func (s *Server) listRuns(kind string) ([]pipeline.Run, error) {
	return s.store.List(pipeline.Kind(kind))
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request, id string) (*pipeline.Run, bool) {
	if !validRunID(id) {
		http.NotFound(w, r)
		return nil, false
	}
	run, err := s.store.Get(id)
	if errors.Is(err, pipeline.ErrRunNotFound) {
		http.NotFound(w, r)
		return nil, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return run, true
}

// ---- HTML handlers ----

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	runs, err := s.listRuns(kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cards := make(map[string]*SummaryCard)
	data := DashboardData{Kind: kind, HasLog: s.db != nil}
	for i := range runs {
		run := &runs[i]
		data.Runs = append(data.Runs, RunRow{
			ID:        run.ID,
			Kind:      string(run.Kind),
			Status:    string(run.Status),
			Stage:     string(run.CurrentStage),
			StartedAt: run.StartedAt,
			Duration:  runDuration(run),
		})
		c := cards[string(run.Kind)]
		if c == nil {
			c = &SummaryCard{Kind: string(run.Kind)}
			cards[string(run.Kind)] = c
		}
		c.Total++
		switch run.Status {
		case pipeline.StatusSucceeded:
			c.Succeeded++
		case pipeline.StatusFailed, pipeline.StatusRolledBack:
			c.Failed++
		}
	}
	for _, c := range cards {
		data.Summary = append(data.Summary, *c)
	}
	sort.Slice(data.Summary, func(i, j int) bool { return data.Summary[i].Kind < data.Summary[j].Kind })

	s.render(w, s.dashboardTmpl, data)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request, id string) {
	run, ok := s.getRun(w, r, id)
	if !ok {
		return
	}
	data := RunDetailData{Run: run, Stages: run.StageHistory, HasLog: s.db != nil}
	if s.db != nil {
		// Event log gaps are not fatal to the page.
		if checks, err := s.db.GetCheckRuns(run.ID); err == nil {
			data.Checks = checks
		} else {
			s.logger.Warn("load check runs", zap.String("run", run.ID), zap.Error(err))
		}
		if reviews, err := s.db.GetReviewCycles(run.ID); err == nil {
			data.Reviews = reviews
		} else {
			s.logger.Warn("load review cycles", zap.String("run", run.ID), zap.Error(err))
		}
	}
	s.render(w, s.runTmpl, data)
}

// ---- JSON API ----

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.listRuns(r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []pipeline.Run{}
	}
	s.writeJSON(w, runs)
}

func (s *Server) handleAPIRun(w http.ResponseWriter, r *http.Request, id string) {
	run, ok := s.getRun(w, r, id)
	if !ok {
		return
	}
	s.writeJSON(w, run)
}

func (s *Server) handleAPIAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.Error(w, "event log not configured", http.StatusServiceUnavailable)
		return
	}
	window, err := time.ParseDuration(r.URL.Query().Get("since"))
	if err != nil && r.URL.Query().Get("since") != "" {
		http.Error(w, "invalid since", http.StatusBadRequest)
		return
	}
	since := analytics.Since(window, s.now())

	var result any
	switch strings.TrimPrefix(r.URL.Path, "/api/analytics/") {
	case "stage-duration":
		result, err = analytics.QueryStageDurations(s.db, since)
	case "outcomes":
		result, err = analytics.QueryOutcomes(s.db, since)
	case "check-failures":
		result, err = analytics.QueryCheckFailures(s.db, since)
	case "review":
		result, err = analytics.QueryReviewStats(s.db, since)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, result)
}
