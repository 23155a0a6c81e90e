package review

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/lucasnoah/skillctl/internal/prompt"
)

// ExecFixer renders the fix-review prompt and pipes it on stdin to a shell
// command, typically an AI assistant running non-interactively.
type ExecFixer struct {
	Command  string
	Dir      string
	Branch   string
	Template prompt.Template
	// Output receives the command's stdout and stderr; nil discards it.
	Output io.Writer
}

// Fix runs the fix command once for req.
func (f *ExecFixer) Fix(ctx context.Context, req FixRequest) error {
	if strings.TrimSpace(f.Command) == "" {
		return fmt.Errorf("no fix command configured")
	}
	text, err := f.Template.Render(f.vars(req))
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", f.Command)
	cmd.Dir = f.Dir
	cmd.Stdin = strings.NewReader(text)
	var tail bytes.Buffer
	out := io.Writer(&tail)
	if f.Output != nil {
		out = io.MultiWriter(f.Output, &tail)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("fix command: %w: %s", err, lastLines(tail.String(), 5))
	}
	return nil
}

func (f *ExecFixer) vars(req FixRequest) prompt.Vars {
	return prompt.Vars{
		"change_request": req.Ref,
		"score":          formatScore(req.Score),
		"threshold":      formatScore(req.Threshold),
		"attempt":        strconv.Itoa(req.Attempt),
		"max_attempts":   strconv.Itoa(req.MaxAttempts),
		"workdir":        f.Dir,
		"branch":         f.Branch,
		"review_body":    strings.TrimSpace(req.Review.Body),
		"comments":       FormatComments(req.Comments),
	}
}

// FormatComments renders comments as a markdown list, one per comment.
func FormatComments(comments []Comment) string {
	var b strings.Builder
	for _, c := range comments {
		b.WriteString("- ")
		if c.Path != "" {
			b.WriteString(c.Path)
			if c.Line > 0 {
				fmt.Fprintf(&b, ":%d", c.Line)
			}
			b.WriteString(": ")
		}
		b.WriteString(strings.ReplaceAll(strings.TrimSpace(c.Body), "\n", "\n  "))
		if c.Author != "" {
			fmt.Fprintf(&b, " (%s)", c.Author)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
