package review

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultScorePattern matches "Confidence Score: 4/5", tolerating markdown
// emphasis around the label and the colon.
const DefaultScorePattern = `(?i)confidence\s*score[*_\s]*:[*_\s]*(\d+(?:\.\d+)?)\s*/\s*5\b`

// Scorer extracts a numeric score from a review body.
type Scorer struct {
	re *regexp.Regexp
}

// NewScorer compiles pattern; the first capture group must hold the score.
// An empty pattern selects DefaultScorePattern.
func NewScorer(pattern string) (*Scorer, error) {
	if pattern == "" {
		pattern = DefaultScorePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile score pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("score pattern %q has no capture group", pattern)
	}
	return &Scorer{re: re}, nil
}

// Score returns the score in body and whether one was found.
func (s *Scorer) Score(body string) (float64, bool) {
	m := s.re.FindStringSubmatch(body)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// sameLogin compares account names, ignoring case and a "[bot]" suffix.
func sameLogin(a, b string) bool {
	norm := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		return strings.TrimSuffix(s, "[bot]")
	}
	return norm(a) == norm(b)
}
