package github

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lucasnoah/skillctl/internal/failure"
)

type mockCmd struct {
	calls   [][]string
	results []mockResult
	idx     int
}

type mockResult struct {
	output string
	err    error
}

func (m *mockCmd) Run(args ...string) (string, error) {
	m.calls = append(m.calls, args)
	if m.idx >= len(m.results) {
		return "", nil
	}
	r := m.results[m.idx]
	m.idx++
	return r.output, r.err
}

func TestCreatePR(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{{output: "Creating pull request for feature/x into main\n\nhttps://github.com/org/repo/pull/17"}},
	}

	client := NewClient(mock)
	pr, err := client.CreatePR(PRCreateOpts{
		Title:  "Session: tidy skills",
		Body:   "Summary",
		Branch: "feature/x",
		Base:   "main",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pr.URL != "https://github.com/org/repo/pull/17" {
		t.Errorf("expected URL, got %q", pr.URL)
	}
	if pr.Number != 17 {
		t.Errorf("expected number 17, got %d", pr.Number)
	}
	if pr.Ref() != "17" {
		t.Errorf("Ref() = %q, want 17", pr.Ref())
	}

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(mock.calls))
	}
	args := strings.Join(mock.calls[0], " ")
	if !strings.Contains(args, "--title") || !strings.Contains(args, "--base main") || !strings.Contains(args, "--head feature/x") {
		t.Errorf("unexpected args: %s", args)
	}
}

func TestCreatePR_RejectsDashBranch(t *testing.T) {
	mock := &mockCmd{}
	_, err := NewClient(mock).CreatePR(PRCreateOpts{Branch: "--force"})
	if err == nil {
		t.Fatal("expected error for dash-prefixed branch")
	}
	if len(mock.calls) != 0 {
		t.Error("gh should not be called")
	}
}

func TestFindPRByBranch(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{output: `[{"number":5,"url":"https://github.com/org/repo/pull/5","state":"OPEN","headRefName":"feature/x","baseRefName":"main"}]`},
			{output: `[]`},
		},
	}
	client := NewClient(mock)

	pr, err := client.FindPRByBranch("feature/x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pr == nil || pr.Number != 5 || pr.BaseRefName != "main" {
		t.Fatalf("unexpected PR: %+v", pr)
	}

	pr, err = client.FindPRByBranch("feature/y")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pr != nil {
		t.Errorf("expected nil PR, got %+v", pr)
	}
}

func TestViewPR(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{{output: `{"number":9,"url":"u","state":"OPEN","mergeable":"CONFLICTING","headRefOid":"abc"}`}},
	}
	pr, err := NewClient(mock).ViewPR("9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pr.Conflicting() {
		t.Error("expected Conflicting() to be true")
	}
	if pr.HeadRefOid != "abc" {
		t.Errorf("HeadRefOid = %q", pr.HeadRefOid)
	}
}

func TestMergePR(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{{output: ""}},
	}

	client := NewClient(mock)
	err := client.MergePR("12", "squash", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(mock.calls))
	}
	args := strings.Join(mock.calls[0], " ")
	if !strings.Contains(args, "--squash") || !strings.Contains(args, "--delete-branch") {
		t.Errorf("expected squash merge args, got: %s", args)
	}
}

func TestMergePR_DefaultStrategyKeepsBranch(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{{output: ""}},
	}

	err := NewClient(mock).MergePR("12", "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	args := strings.Join(mock.calls[0], " ")
	if !strings.Contains(args, "--squash") {
		t.Errorf("expected default squash strategy, got: %s", args)
	}
	if strings.Contains(args, "--delete-branch") {
		t.Errorf("did not expect --delete-branch, got: %s", args)
	}
}

func TestMergePR_InvalidStrategy(t *testing.T) {
	mock := &mockCmd{}
	err := NewClient(mock).MergePR("12", "admin", true)
	if err == nil {
		t.Fatal("expected error for invalid strategy")
	}
	if len(mock.calls) != 0 {
		t.Error("gh should not be called for invalid strategy")
	}
}

func TestMergePR_Conflict(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{{
			output: "Pull request #12 is not mergeable: the merge commit cannot be cleanly created.",
			err:    errors.New("exit status 1"),
		}},
	}
	err := NewClient(mock).MergePR("12", "squash", true)
	if !errors.Is(err, failure.ErrMergeConflict) {
		t.Fatalf("expected ErrMergeConflict, got %v", err)
	}
}

func TestMergePR_OtherFailure(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{{output: "HTTP 401", err: errors.New("exit status 1")}},
	}
	err := NewClient(mock).MergePR("12", "squash", true)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, failure.ErrMergeConflict) {
		t.Error("auth failure must not be reported as a conflict")
	}
}

func TestValidMergeStrategy(t *testing.T) {
	for _, s := range []string{"", "squash", "merge", "rebase"} {
		if !ValidMergeStrategy(s) {
			t.Errorf("ValidMergeStrategy(%q) = false", s)
		}
	}
	if ValidMergeStrategy("octopus") {
		t.Error("octopus should be rejected")
	}
}

func TestListReviews_MergesCommentsOldestFirst(t *testing.T) {
	out := `{
		"reviews": [
			{"author":{"login":"greptile-apps"},"body":"Confidence Score: 3/5","state":"COMMENTED","submittedAt":"2026-05-01T10:05:00Z"}
		],
		"comments": [
			{"author":{"login":"alice"},"body":"lgtm","createdAt":"2026-05-01T10:00:00Z"},
			{"author":{"login":"greptile-apps"},"body":"Confidence Score: 5/5","createdAt":"2026-05-01T10:10:00Z"}
		]
	}`
	mock := &mockCmd{results: []mockResult{{output: out}}}

	reviews, err := NewClient(mock).ListReviews("3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reviews) != 3 {
		t.Fatalf("expected 3 reviews, got %d", len(reviews))
	}
	if reviews[0].Author.Login != "alice" || reviews[2].Body != "Confidence Score: 5/5" {
		t.Errorf("unexpected order: %+v", reviews)
	}
	if reviews[2].State != "COMMENTED" {
		t.Errorf("comment State = %q", reviews[2].State)
	}
}

func TestListReviewComments(t *testing.T) {
	out := `[
		{"user":{"login":"greptile-apps"},"body":"nil check missing","path":"internal/x.go","line":42,"created_at":"2026-05-01T10:05:00Z"},
		{"user":{"login":"greptile-apps"},"body":"outdated","path":"internal/y.go","line":null,"original_line":7,"created_at":"2026-05-01T10:06:00Z"}
	]`
	mock := &mockCmd{results: []mockResult{{output: out}}}

	comments, err := NewClient(mock).ListReviewComments(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(comments))
	}
	if comments[0].Line != 42 || comments[1].Line != 7 {
		t.Errorf("lines = %d, %d", comments[0].Line, comments[1].Line)
	}
	if got := strings.Join(mock.calls[0], " "); !strings.Contains(got, "pulls/3/comments") {
		t.Errorf("unexpected args: %s", got)
	}

	if _, err := NewClient(&mockCmd{}).ListReviewComments(0); err == nil {
		t.Error("expected error for PR number 0")
	}
}

func TestListReviewComments_Paginated(t *testing.T) {
	out := `[{"user":{"login":"a"},"body":"one","path":"x.go","line":1,"created_at":"2026-05-01T10:00:00Z"},` +
		`{"user":{"login":"a"},"body":"two","path":"x.go","line":2,"created_at":"2026-05-01T10:01:00Z"}]
[{"user":{"login":"b"},"body":"three","path":"y.go","line":3,"created_at":"2026-05-01T10:02:00Z"}]
`
	mock := &mockCmd{results: []mockResult{{output: out}}}

	comments, err := NewClient(mock).ListReviewComments(9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(comments) != 3 {
		t.Fatalf("expected 3 comments across pages, got %d", len(comments))
	}
	if comments[2].Author != "b" || comments[2].Body != "three" {
		t.Errorf("second page comment = %+v", comments[2])
	}
	hasPaginate := false
	for _, a := range mock.calls[0] {
		if a == "--paginate" {
			hasPaginate = true
		}
	}
	if !hasPaginate {
		t.Errorf("expected --paginate in args: %v", mock.calls[0])
	}

	bad := &mockCmd{results: []mockResult{{output: `[{"body":"ok"}][{`}}}
	if _, err := NewClient(bad).ListReviewComments(9); err == nil {
		t.Error("expected error for truncated second page")
	}
}

const sampleDiff = `diff --git a/skills/go/SKILL.md b/skills/go/SKILL.md
index 1111111..2222222 100644
--- a/skills/go/SKILL.md
+++ b/skills/go/SKILL.md
@@ -1,2 +1,2 @@
 # Go
-old
+new
diff --git a/commands/old.md b/commands/old.md
deleted file mode 100644
index 3333333..0000000
--- a/commands/old.md
+++ /dev/null
@@ -1 +0,0 @@
-gone
diff --git a/commands/new.md b/commands/new.md
new file mode 100644
index 0000000..4444444
--- /dev/null
+++ b/commands/new.md
@@ -0,0 +1 @@
+hello
`

func TestChangedFiles(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{output: sampleDiff}}}
	files, err := NewClient(mock).ChangedFiles("8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"skills/go/SKILL.md", "commands/old.md", "commands/new.md"}
	if fmt.Sprint(files) != fmt.Sprint(want) {
		t.Errorf("files = %v, want %v", files, want)
	}
}

func TestParseChangedFiles_Empty(t *testing.T) {
	files, err := ParseChangedFiles("  \n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected no files, got %v", files)
	}
}

func TestRefValidation(t *testing.T) {
	client := NewClient(&mockCmd{})
	if _, err := client.ViewPR("--web"); err == nil {
		t.Error("expected error for dash-prefixed ref")
	}
	if _, err := client.ListReviews(""); err == nil {
		t.Error("expected error for empty ref")
	}
	if err := client.MergePR("-x", "squash", true); err == nil {
		t.Error("expected error for dash-prefixed ref")
	}
}
