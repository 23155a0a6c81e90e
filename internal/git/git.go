// Package git wraps the git CLI operations the finalize pipeline needs.
package git

import (
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Runner provides git commands. Interface for testing.
type Runner interface {
	Run(dir string, args ...string) (string, error)
}

// ExecGit implements Runner using exec.Command. On failure the combined
// output is returned alongside the error.
type ExecGit struct{}

func (g *ExecGit) Run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ErrDetachedHead is returned by CurrentBranch when HEAD is not on a branch.
var ErrDetachedHead = errors.New("HEAD is detached")

// Repo runs git in one working tree.
type Repo struct {
	git    Runner
	dir    string
	trunk  string
	remote string
}

// NewRepo creates a Repo. Empty trunk and remote default to "main" and "origin".
func NewRepo(git Runner, dir, trunk, remote string) *Repo {
	if trunk == "" {
		trunk = "main"
	}
	if remote == "" {
		remote = "origin"
	}
	return &Repo{git: git, dir: dir, trunk: trunk, remote: remote}
}

// Dir returns the working tree root.
func (r *Repo) Dir() string { return r.dir }

// Trunk returns the trunk branch name.
func (r *Repo) Trunk() string { return r.trunk }

// Remote returns the remote pushed to.
func (r *Repo) Remote() string { return r.remote }

// IsTrunk reports whether branch is the trunk branch.
func (r *Repo) IsTrunk(branch string) bool {
	return branch == r.trunk
}

func validBranch(branch string) error {
	if branch == "" {
		return errors.New("empty branch name")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("invalid branch name %q: must not start with -", branch)
	}
	return nil
}

// CurrentBranch returns the checked-out branch.
func (r *Repo) CurrentBranch() (string, error) {
	out, err := r.git.Run(r.dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	if out == "HEAD" {
		return "", ErrDetachedHead
	}
	return out, nil
}

// HasChanges reports whether the working tree has staged, unstaged or
// untracked changes.
func (r *Repo) HasChanges() (bool, error) {
	out, err := r.git.Run(r.dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// CommitAll stages everything and commits it, returning the new HEAD SHA.
func (r *Repo) CommitAll(message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.New("empty commit message")
	}
	if _, err := r.git.Run(r.dir, "add", "-A"); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}
	if _, err := r.git.Run(r.dir, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return r.HeadSHA()
}

// HeadSHA returns the full SHA of HEAD.
func (r *Repo) HeadSHA() (string, error) {
	out, err := r.git.Run(r.dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("rev-parse HEAD: %w", err)
	}
	return out, nil
}

// Push pushes branch to the remote and sets its upstream.
func (r *Repo) Push(branch string) error {
	if err := validBranch(branch); err != nil {
		return err
	}
	if _, err := r.git.Run(r.dir, "push", "-u", r.remote, branch); err != nil {
		return fmt.Errorf("push %s to %s: %w", branch, r.remote, err)
	}
	return nil
}

// Checkout switches to branch.
func (r *Repo) Checkout(branch string) error {
	if err := validBranch(branch); err != nil {
		return err
	}
	if _, err := r.git.Run(r.dir, "checkout", branch); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	return nil
}

// Pull fast-forwards the current branch from its upstream.
func (r *Repo) Pull() error {
	if _, err := r.git.Run(r.dir, "pull", "--ff-only"); err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	return nil
}

// Fetch updates the remote-tracking trunk branch.
func (r *Repo) Fetch() error {
	if _, err := r.git.Run(r.dir, "fetch", r.remote, r.trunk); err != nil {
		return fmt.Errorf("fetch %s/%s: %w", r.remote, r.trunk, err)
	}
	return nil
}

// DeleteBranch force-deletes a local branch. It refuses the trunk branch.
// Force is needed because squash merges leave the branch looking unmerged.
func (r *Repo) DeleteBranch(branch string) error {
	if err := validBranch(branch); err != nil {
		return err
	}
	if r.IsTrunk(branch) || branch == "main" || branch == "master" {
		return fmt.Errorf("refusing to delete trunk branch %q", branch)
	}
	if _, err := r.git.Run(r.dir, "branch", "-D", branch); err != nil {
		return fmt.Errorf("delete branch %q: %w", branch, err)
	}
	return nil
}

var treeOIDRe = regexp.MustCompile(`^[0-9a-f]{40}([0-9a-f]{24})?$`)

// ConflictingPaths returns the files that would conflict when merging branch
// into the remote trunk, computed without touching the working tree. An
// empty result means the merge is clean. Requires git 2.38+.
func (r *Repo) ConflictingPaths(branch string) ([]string, error) {
	if err := validBranch(branch); err != nil {
		return nil, err
	}
	base := r.remote + "/" + r.trunk
	out, err := r.git.Run(r.dir, "merge-tree", "--write-tree", "--name-only", "--no-messages", base, branch)
	if err == nil {
		return nil, nil
	}

	// Exit status 1 with a tree OID on the first line means conflicts;
	// anything else is a real failure.
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 || !treeOIDRe.MatchString(strings.TrimSpace(lines[0])) {
		return nil, fmt.Errorf("merge-tree %s %s: %w", base, branch, err)
	}
	seen := make(map[string]bool)
	var paths []string
	for _, l := range lines[1:] {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		paths = append(paths, l)
	}
	return paths, nil
}
