package review

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/skillctl/internal/failure"
)

// Review is a scored-or-not verdict posted on a change request.
type Review struct {
	Author      string
	Body        string
	SubmittedAt time.Time
}

// Comment is a reviewer comment the fixer should address.
type Comment struct {
	Author string
	Body   string
	Path   string
	Line   int
}

// Host is the review collaborator.
type Host interface {
	ChangedFiles(ctx context.Context, ref string) ([]string, error)
	Reviews(ctx context.Context, ref string) ([]Review, error)
	Comments(ctx context.Context, ref string) ([]Comment, error)
}

// FixRequest is handed to the Fixer for one attempt.
type FixRequest struct {
	Ref         string
	Attempt     int
	MaxAttempts int
	Score       float64
	Threshold   float64
	Review      Review
	Comments    []Comment
}

// Fixer applies local changes that address review comments.
type Fixer interface {
	Fix(ctx context.Context, req FixRequest) error
}

// Republisher re-runs lint and build, commits and pushes after a fix.
// Any error means the fixed code must not be published.
type Republisher interface {
	Republish(ctx context.Context, attempt int) error
}

// Request identifies the change request to gate.
type Request struct {
	Ref string
	// PushedAt is the time of the last push, read from the local clock.
	// Reviews submitted more than clockSkew before it are ignored.
	PushedAt time.Time
}

// clockSkew is how far the code host's review timestamps may trail the
// local clock and still count as answering a push.
const clockSkew = time.Minute

// Gate runs the review loop.
type Gate struct {
	host   Host
	fixer  Fixer
	repub  Republisher
	scorer *Scorer
	logger *zap.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewGate creates a gate. A nil scorer uses DefaultScorePattern.
func NewGate(host Host, fixer Fixer, repub Republisher, scorer *Scorer, logger *zap.Logger) *Gate {
	if scorer == nil {
		scorer, _ = NewScorer("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		host:   host,
		fixer:  fixer,
		repub:  repub,
		scorer: scorer,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// SetClock overrides the time source and sleep function (for testing). A
// nil argument keeps the current one.
func (g *Gate) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	if now != nil {
		g.now = now
	}
	if sleep != nil {
		g.sleep = sleep
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run gates req under policy. It returns an error only when the change
// request must stay unmerged: the context was cancelled, or a fix could not
// be produced or published. The partial result is returned alongside.
func (g *Gate) Run(ctx context.Context, req Request, policy Policy) (*Result, error) {
	p := policy.withDefaults()
	res := &Result{}
	log := g.logger.With(zap.String("change_request", req.Ref), zap.String("reviewer", p.Reviewer))

	if p.Reviewer == "" {
		log.Info("no reviewer configured, skipping review")
		res.Kind = AutoMergeNoReview
		return res, nil
	}

	if p.MaxFiles > 0 {
		files, err := g.host.ChangedFiles(ctx, req.Ref)
		switch {
		case err != nil:
			log.Warn("could not count changed files, polling anyway", zap.Error(err))
			res.Warnings = append(res.Warnings, fmt.Sprintf("file limit not checked: %v", err))
		case len(files) > p.MaxFiles:
			log.Warn("change request exceeds reviewer file limit",
				zap.Int("files", len(files)), zap.Int("max_files", p.MaxFiles))
			res.Kind = AutoMergeNoReview
			res.warn(fmt.Errorf("%w: %d files changed, reviewer limit is %d",
				failure.ErrFileLimitExceeded, len(files), p.MaxFiles))
			return res, nil
		}
	}

	since := req.PushedAt
	var consumed time.Time
	for {
		rv, score, found, err := g.await(ctx, req.Ref, p, since, consumed, log)
		if err != nil {
			return res, err
		}
		if !found {
			log.Warn("no review before timeout", zap.Duration("poll_timeout", p.PollTimeout))
			res.Kind = FallbackMerged
			res.warn(fmt.Errorf("%w: no review from %s within %s",
				failure.ErrReviewTimeout, p.Reviewer, p.PollTimeout))
			return res, nil
		}

		res.Score = score
		consumed = rv.SubmittedAt
		cycle := Cycle{Attempt: res.Attempts, Score: score, Threshold: p.Threshold}
		log.Info("review scored",
			zap.Float64("score", score), zap.Float64("threshold", p.Threshold), zap.Int("attempt", res.Attempts))

		if score >= p.Threshold {
			res.Cycles = append(res.Cycles, cycle)
			res.Kind = PassedDirectly
			if res.Attempts > 0 {
				res.Kind = PassedAfterFixes
			}
			return res, nil
		}

		if res.Attempts >= p.MaxAttempts {
			res.Cycles = append(res.Cycles, cycle)
			res.Kind = PassedAfterFixes
			res.warn(fmt.Errorf("%w: score %s below %s after %d fix attempts",
				failure.ErrThresholdUnmet, formatScore(score), formatScore(p.Threshold), res.Attempts))
			return res, nil
		}

		comments, err := g.host.Comments(ctx, req.Ref)
		if err != nil {
			log.Warn("could not fetch review comments, fixing from the review body", zap.Error(err))
			comments = nil
		}
		cycle.Comments = len(comments)
		res.Cycles = append(res.Cycles, cycle)

		attempt := res.Attempts + 1
		if err := g.fixer.Fix(ctx, FixRequest{
			Ref:         req.Ref,
			Attempt:     attempt,
			MaxAttempts: p.MaxAttempts,
			Score:       score,
			Threshold:   p.Threshold,
			Review:      rv,
			Comments:    comments,
		}); err != nil {
			return res, fmt.Errorf("fix attempt %d: %w", attempt, err)
		}
		if err := g.repub.Republish(ctx, attempt); err != nil {
			return res, fmt.Errorf("republish after fix attempt %d: %w", attempt, err)
		}
		res.Attempts = attempt
		since = g.now()
	}
}

// await polls for the newest scored review by the reviewer submitted after
// since (less clockSkew) and after the previously consumed review. found is
// false when the poll timeout elapsed.
func (g *Gate) await(ctx context.Context, ref string, p Policy, since, consumed time.Time, log *zap.Logger) (rv Review, score float64, found bool, err error) {
	cutoff := since.Add(-clockSkew)
	if consumed.After(cutoff) {
		cutoff = consumed
	}
	deadline := g.now().Add(p.PollTimeout)
	for {
		reviews, err := g.host.Reviews(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return Review{}, 0, false, ctx.Err()
			}
			log.Warn("poll for reviews failed", zap.Error(err))
		} else if rv, score, ok := g.latest(reviews, p.Reviewer, cutoff); ok {
			return rv, score, true, nil
		}

		remaining := deadline.Sub(g.now())
		if remaining <= 0 {
			return Review{}, 0, false, nil
		}
		wait := p.PollInterval
		if remaining < wait {
			wait = remaining
		}
		if err := g.sleep(ctx, wait); err != nil {
			return Review{}, 0, false, err
		}
	}
}

func (g *Gate) latest(reviews []Review, reviewer string, cutoff time.Time) (Review, float64, bool) {
	var (
		best  Review
		score float64
		ok    bool
	)
	for _, r := range reviews {
		if !sameLogin(r.Author, reviewer) || !r.SubmittedAt.After(cutoff) {
			continue
		}
		s, has := g.scorer.Score(r.Body)
		if !has {
			continue
		}
		if !ok || !r.SubmittedAt.Before(best.SubmittedAt) {
			best, score, ok = r, s, true
		}
	}
	return best, score, ok
}
