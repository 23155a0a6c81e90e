package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/lucasnoah/skillctl/internal/pipeline"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

func colorizeStatus(s pipeline.Status) string {
	switch s {
	case pipeline.StatusSucceeded:
		return okColor.Sprint(s)
	case pipeline.StatusAborted:
		return warnColor.Sprint(s)
	case pipeline.StatusFailed, pipeline.StatusRolledBack:
		return failColor.Sprint(s)
	default:
		return string(s)
	}
}

// colorizeCheck colors a lint/build status: passed, failed, skipped, not_run.
func colorizeCheck(s string) string {
	switch s {
	case "passed":
		return okColor.Sprint(s)
	case "failed":
		return failColor.Sprint(s)
	default:
		return dimColor.Sprint(s)
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
