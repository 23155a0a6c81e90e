// Package prompt renders the text templates skillctl hands to people and
// tools: the fix-review prompt, change request bodies and session log entries.
//
// Syntax: {{name}} expands a variable; {{#if name}}...{{/if}} keeps its body
// only when name is set and non-empty. Blocks nest.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	varRe      = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseStr = "{{/if}}"
)

// Vars is a map of variable names to values for template rendering.
type Vars map[string]string

// Template is a named template source.
type Template struct {
	Name   string
	Source string
}

// Render expands t with vars.
func (t Template) Render(vars Vars) (string, error) {
	out, err := Render(t.Source, vars)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name, err)
	}
	return out, nil
}

// Render expands a template string with the given variables. Conditionals
// are resolved first, so a variable used only inside a dropped block is not
// required. Values are inserted verbatim and never expanded again.
func Render(tmpl string, vars Vars) (string, error) {
	body, err := resolveConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := varRe.ReplaceAllStringFunc(body, func(match string) string {
		name := varRe.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// resolveConditionals walks the template once, keeping a stack of open
// {{#if}} blocks. Text is emitted only while every enclosing block is kept.
func resolveConditionals(tmpl string, vars Vars) (string, error) {
	type block struct {
		tag  string
		keep bool
	}
	var (
		out   strings.Builder
		stack []block
		rest  = tmpl
	)
	emitting := func() bool {
		for _, b := range stack {
			if !b.keep {
				return false
			}
		}
		return true
	}

	for {
		open := ifOpenRe.FindStringSubmatchIndex(rest)
		closeAt := strings.Index(rest, ifCloseStr)

		switch {
		case open == nil && closeAt < 0:
			if emitting() {
				out.WriteString(rest)
			}
			if len(stack) > 0 {
				return "", fmt.Errorf("unclosed conditional block: %s", stack[len(stack)-1].tag)
			}
			return out.String(), nil

		case open != nil && (closeAt < 0 || open[0] < closeAt):
			if emitting() {
				out.WriteString(rest[:open[0]])
			}
			name := rest[open[2]:open[3]]
			stack = append(stack, block{tag: rest[open[0]:open[1]], keep: vars[name] != ""})
			rest = rest[open[1]:]

		default:
			if len(stack) == 0 {
				return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
			}
			if emitting() {
				out.WriteString(rest[:closeAt])
			}
			stack = stack[:len(stack)-1]
			rest = rest[closeAt+len(ifCloseStr):]
		}
	}
}

// Builtin returns the compiled-in template called name.
func Builtin(name string) (Template, error) {
	src, ok := builtinTemplates[name]
	if !ok {
		return Template{}, fmt.Errorf("no built-in template %q", name)
	}
	return Template{Name: name, Source: src}, nil
}

// Load returns the template called name, preferring an override file in
// overrideDir (typically <project>/.skillctl/templates) over the built-in.
// name must be a plain file name.
func Load(name, overrideDir string) (Template, error) {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return Template{}, fmt.Errorf("template name %q must be a plain file name", name)
	}
	if overrideDir != "" {
		data, err := os.ReadFile(filepath.Join(overrideDir, name))
		if err == nil {
			return Template{Name: name, Source: string(data)}, nil
		}
		if !os.IsNotExist(err) {
			return Template{}, fmt.Errorf("read template override %s: %w", name, err)
		}
	}
	return Builtin(name)
}
