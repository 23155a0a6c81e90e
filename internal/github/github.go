// Package github talks to the code host through the gh CLI: change requests
// (pull requests), their reviews and comments, and merging.
package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/lucasnoah/skillctl/internal/failure"
)

// CmdRunner provides command execution. Interface for testing.
type CmdRunner interface {
	Run(args ...string) (string, error)
}

// ExecRunner runs gh commands via exec.
type ExecRunner struct {
	// Dir is the working directory for gh; empty means the current one.
	Dir string
}

func (r *ExecRunner) Run(args ...string) (string, error) {
	cmd := exec.Command("gh", args...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("gh %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Client provides GitHub operations.
type Client struct {
	cmd CmdRunner
}

// NewClient creates a GitHub client.
func NewClient(cmd CmdRunner) *Client {
	return &Client{cmd: cmd}
}

// PR is the subset of pull request state the pipelines look at.
type PR struct {
	Number      int    `json:"number"`
	URL         string `json:"url"`
	State       string `json:"state"`
	HeadRefName string `json:"headRefName"`
	BaseRefName string `json:"baseRefName"`
	HeadRefOid  string `json:"headRefOid"`
	Mergeable   string `json:"mergeable"`
	IsDraft     bool   `json:"isDraft"`
}

// Ref returns the identifier gh accepts for this PR.
func (p *PR) Ref() string {
	if p.Number > 0 {
		return strconv.Itoa(p.Number)
	}
	return p.URL
}

// Conflicting reports whether GitHub considers the PR unmergeable.
func (p *PR) Conflicting() bool {
	return p.Mergeable == "CONFLICTING"
}

// PRCreateOpts holds options for creating a PR.
type PRCreateOpts struct {
	Title  string
	Body   string
	Branch string
	Base   string
}

var prNumberRe = regexp.MustCompile(`/pull/(\d+)`)

// validateRef rejects refs that gh would parse as flags.
func validateRef(ref string) error {
	if ref == "" {
		return errors.New("empty pull request reference")
	}
	if strings.HasPrefix(ref, "-") {
		return fmt.Errorf("invalid pull request reference %q: must not start with -", ref)
	}
	return nil
}

// CreatePR creates a pull request and returns it with the number parsed
// from the URL gh prints.
func (c *Client) CreatePR(opts PRCreateOpts) (*PR, error) {
	if strings.HasPrefix(opts.Branch, "-") {
		return nil, fmt.Errorf("invalid branch name %q: must not start with -", opts.Branch)
	}
	args := []string{"pr", "create", "--title", opts.Title, "--body", opts.Body, "--head", opts.Branch}
	if opts.Base != "" {
		args = append(args, "--base", opts.Base)
	}

	out, err := c.cmd.Run(args...)
	if err != nil {
		return nil, fmt.Errorf("create PR: %w", err)
	}

	// gh may print progress lines before the URL.
	lines := strings.Split(out, "\n")
	url := strings.TrimSpace(lines[len(lines)-1])
	pr := &PR{URL: url, State: "OPEN", HeadRefName: opts.Branch, BaseRefName: opts.Base}
	if m := prNumberRe.FindStringSubmatch(url); m != nil {
		pr.Number, _ = strconv.Atoi(m[1])
	}
	return pr, nil
}

// FindPRByBranch checks if an open PR already exists for a given branch.
// Returns nil if none exist.
func (c *Client) FindPRByBranch(branch string) (*PR, error) {
	if strings.HasPrefix(branch, "-") {
		return nil, fmt.Errorf("invalid branch name %q: must not start with -", branch)
	}
	out, err := c.cmd.Run("pr", "list", "--head", branch, "--state", "open",
		"--json", "number,url,state,headRefName,baseRefName", "--limit", "1")
	if err != nil {
		return nil, fmt.Errorf("find PR by branch: %w", err)
	}

	var prs []PR
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		return nil, fmt.Errorf("parse PR list JSON: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &prs[0], nil
}

// ViewPR fetches the current state of a PR.
func (c *Client) ViewPR(ref string) (*PR, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	out, err := c.cmd.Run("pr", "view", ref,
		"--json", "number,url,state,headRefName,baseRefName,headRefOid,mergeable,isDraft")
	if err != nil {
		return nil, fmt.Errorf("view PR %s: %w", ref, err)
	}
	var pr PR
	if err := json.Unmarshal([]byte(out), &pr); err != nil {
		return nil, fmt.Errorf("parse PR JSON: %w", err)
	}
	return &pr, nil
}

// validMergeStrategies is the set of allowed merge strategies.
var validMergeStrategies = map[string]bool{
	"squash": true,
	"merge":  true,
	"rebase": true,
}

// ValidMergeStrategy reports whether s is accepted by MergePR.
func ValidMergeStrategy(s string) bool {
	return s == "" || validMergeStrategies[s]
}

// MergePR merges a pull request. A merge GitHub refuses because of conflicts
// wraps failure.ErrMergeConflict.
func (c *Client) MergePR(ref string, strategy string, deleteBranch bool) error {
	if err := validateRef(ref); err != nil {
		return err
	}
	if strategy == "" {
		strategy = "squash"
	}
	if !validMergeStrategies[strategy] {
		return fmt.Errorf("invalid merge strategy %q: must be squash, merge, or rebase", strategy)
	}

	args := []string{"pr", "merge", ref, "--" + strategy}
	if deleteBranch {
		args = append(args, "--delete-branch")
	}
	out, err := c.cmd.Run(args...)
	if err != nil {
		lower := strings.ToLower(out + " " + err.Error())
		if strings.Contains(lower, "conflict") || strings.Contains(lower, "not mergeable") {
			return fmt.Errorf("merge PR %s: %w: %v", ref, failure.ErrMergeConflict, err)
		}
		return fmt.Errorf("merge PR: %w", err)
	}
	return nil
}

// Author is a GitHub account.
type Author struct {
	Login string `json:"login"`
}

// Review is a submitted PR review or a top-level PR comment. Review bots post
// their verdict either way.
type Review struct {
	Author      Author    `json:"author"`
	Body        string    `json:"body"`
	State       string    `json:"state,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// ListReviews returns the PR's reviews and top-level comments, oldest first.
func (c *Client) ListReviews(ref string) ([]Review, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	out, err := c.cmd.Run("pr", "view", ref, "--json", "reviews,comments")
	if err != nil {
		return nil, fmt.Errorf("list reviews for %s: %w", ref, err)
	}
	var resp struct {
		Reviews  []Review `json:"reviews"`
		Comments []struct {
			Author    Author    `json:"author"`
			Body      string    `json:"body"`
			CreatedAt time.Time `json:"createdAt"`
		} `json:"comments"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		return nil, fmt.Errorf("parse reviews JSON: %w", err)
	}
	reviews := resp.Reviews
	for _, cm := range resp.Comments {
		reviews = append(reviews, Review{Author: cm.Author, Body: cm.Body, State: "COMMENTED", SubmittedAt: cm.CreatedAt})
	}
	sortReviews(reviews)
	return reviews, nil
}

func sortReviews(rs []Review) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].SubmittedAt.Before(rs[j].SubmittedAt)
	})
}

// ReviewComment is an inline comment on a PR diff.
type ReviewComment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	Path      string    `json:"path"`
	Line      int       `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

type rawComment struct {
	User struct {
		Login string `json:"login"`
	} `json:"user"`
	Body      string    `json:"body"`
	Path      string    `json:"path"`
	Line      *int      `json:"line"`
	OrigLine  *int      `json:"original_line"`
	CreatedAt time.Time `json:"created_at"`
}

// ListReviewComments returns every inline review comment on a PR, across
// all pages.
func (c *Client) ListReviewComments(number int) ([]ReviewComment, error) {
	if number <= 0 {
		return nil, fmt.Errorf("invalid PR number %d: must be positive", number)
	}
	out, err := c.cmd.Run("api", "--paginate", fmt.Sprintf("repos/{owner}/{repo}/pulls/%d/comments?per_page=100", number))
	if err != nil {
		return nil, fmt.Errorf("list review comments for #%d: %w", number, err)
	}
	var raw []rawComment
	// --paginate prints one JSON array per page back to back.
	dec := json.NewDecoder(strings.NewReader(out))
	for {
		var page []rawComment
		err := dec.Decode(&page)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse review comments JSON: %w", err)
		}
		raw = append(raw, page...)
	}
	comments := make([]ReviewComment, 0, len(raw))
	for _, r := range raw {
		line := 0
		switch {
		case r.Line != nil:
			line = *r.Line
		case r.OrigLine != nil:
			line = *r.OrigLine
		}
		comments = append(comments, ReviewComment{
			Author:    r.User.Login,
			Body:      r.Body,
			Path:      r.Path,
			Line:      line,
			CreatedAt: r.CreatedAt,
		})
	}
	return comments, nil
}

// ChangedFiles returns the paths touched by a PR, parsed from its unified diff.
func (c *Client) ChangedFiles(ref string) ([]string, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	out, err := c.cmd.Run("pr", "diff", ref)
	if err != nil {
		return nil, fmt.Errorf("diff PR %s: %w", ref, err)
	}
	return ParseChangedFiles(out)
}

// ParseChangedFiles lists the files in a multi-file unified diff.
func ParseChangedFiles(patch string) ([]string, error) {
	if strings.TrimSpace(patch) == "" {
		return nil, nil
	}
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}
	seen := make(map[string]bool, len(fileDiffs))
	var files []string
	for _, fd := range fileDiffs {
		name := stripDiffPrefix(fd.NewName)
		if fd.NewName == "/dev/null" || name == "" {
			name = stripDiffPrefix(fd.OrigName)
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		files = append(files, name)
	}
	return files, nil
}

func stripDiffPrefix(name string) string {
	if name == "/dev/null" {
		return ""
	}
	if rest, ok := strings.CutPrefix(name, "a/"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(name, "b/"); ok {
		return rest
	}
	return name
}
