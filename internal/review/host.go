package review

import (
	"context"
	"fmt"
	"strconv"

	"github.com/lucasnoah/skillctl/internal/github"
)

// GitHubHost adapts github.Client to Host. The gh CLI calls are not
// cancellable; ctx is only checked before each call.
type GitHubHost struct {
	client *github.Client
}

// NewGitHubHost wraps client.
func NewGitHubHost(client *github.Client) *GitHubHost {
	return &GitHubHost{client: client}
}

func (h *GitHubHost) ChangedFiles(ctx context.Context, ref string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.client.ChangedFiles(ref)
}

func (h *GitHubHost) Reviews(ctx context.Context, ref string) ([]Review, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := h.client.ListReviews(ref)
	if err != nil {
		return nil, err
	}
	out := make([]Review, 0, len(raw))
	for _, r := range raw {
		out = append(out, Review{Author: r.Author.Login, Body: r.Body, SubmittedAt: r.SubmittedAt})
	}
	return out, nil
}

func (h *GitHubHost) Comments(ctx context.Context, ref string) ([]Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	number, err := strconv.Atoi(ref)
	if err != nil {
		pr, verr := h.client.ViewPR(ref)
		if verr != nil {
			return nil, fmt.Errorf("resolve PR number for %s: %w", ref, verr)
		}
		number = pr.Number
	}
	raw, err := h.client.ListReviewComments(number)
	if err != nil {
		return nil, err
	}
	out := make([]Comment, 0, len(raw))
	for _, c := range raw {
		out = append(out, Comment{Author: c.Author, Body: c.Body, Path: c.Path, Line: c.Line})
	}
	return out, nil
}
