package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// prompter asks the user for confirmations and selections. On a terminal it
// shows huh forms; otherwise it reads answers line by line, and end of input
// counts as "no".
type prompter struct {
	out   io.Writer
	lines *bufio.Reader
	tty   bool
}

func newPrompter(cmd *cobra.Command) *prompter {
	in := cmd.InOrStdin()
	p := &prompter{out: cmd.OutOrStdout(), lines: bufio.NewReader(in)}
	if f, ok := in.(*os.File); ok {
		p.tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return p
}

func (p *prompter) Confirm(ctx context.Context, question string) (bool, error) {
	if p.tty {
		ok := false
		err := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().Title(question).Affirmative("Yes").Negative("No").Value(&ok),
		)).RunWithContext(ctx)
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return ok, err
	}

	fmt.Fprintf(p.out, "%s [y/N] ", question)
	line, err := p.readLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(p.out)
			return false, nil
		}
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (p *prompter) Select(ctx context.Context, title string, options []string) (int, error) {
	if p.tty {
		choice := 0
		opts := make([]huh.Option[int], len(options))
		for i, o := range options {
			opts[i] = huh.NewOption(o, i)
		}
		err := huh.NewForm(huh.NewGroup(
			huh.NewSelect[int]().Title(title).Options(opts...).Value(&choice),
		)).RunWithContext(ctx)
		if err != nil {
			return -1, err
		}
		return choice, nil
	}

	fmt.Fprintln(p.out, title)
	for i, o := range options {
		fmt.Fprintf(p.out, "  %d) %s\n", i+1, o)
	}
	fmt.Fprintf(p.out, "Choice [1-%d]: ", len(options))
	line, err := p.readLine()
	if err != nil {
		return -1, fmt.Errorf("no selection: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 || n > len(options) {
		return -1, fmt.Errorf("invalid choice %q", strings.TrimSpace(line))
	}
	return n - 1, nil
}

func (p *prompter) readLine() (string, error) {
	line, err := p.lines.ReadString('\n')
	if err == io.EOF && line != "" {
		return line, nil
	}
	return line, err
}
