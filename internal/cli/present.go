// Package cli is the command-line front end: it parses subcommand
// invocations, wires them to the graph index / planner / executor / sandbox
// stack, and renders results and failures for a terminal or for --json
// consumers.
//
// Grounded on kraklabs-cie/internal/errors's UserError (Message/Cause/Fix,
// colorized Format, ToJSON, exit-code-per-category) and
// kraklabs-cie/cmd/cie's pflag-per-subcommand dispatch style.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"compendium/internal/errcode"
)

var (
	colorError = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
)

// PresentedError is a command failure rendered for a human or a --json
// consumer, carrying the spec.md §6/§7 exit code its errcode.Kind maps to.
type PresentedError struct {
	Message  string
	Cause    string
	ExitCode int
	Err      error
}

func (e *PresentedError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause)
	}
	return e.Message
}

func (e *PresentedError) Unwrap() error { return e.Err }

// present classifies err via errcode.Error (if it is one, or wraps one) and
// otherwise falls back to treating it as an internal error.
func present(err error) *PresentedError {
	if err == nil {
		return nil
	}
	var ce *errcode.Error
	if errors.As(err, &ce) {
		cause := ""
		if ce.Cause != nil {
			cause = ce.Cause.Error()
		}
		return &PresentedError{Message: ce.Message, Cause: cause, ExitCode: ce.Kind.ExitCode(), Err: err}
	}
	return &PresentedError{Message: err.Error(), ExitCode: 1, Err: err}
}

// Format renders e for terminal output: "Error: "/"Cause: " in red/yellow,
// honoring NO_COLOR.
func (e *PresentedError) Format(noColor bool) string {
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()
	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	out.WriteString(e.Message)
	out.WriteString("\n")
	if e.Cause != "" {
		out.WriteString(colorCause.Sprint("Cause: "))
		out.WriteString(e.Cause)
		out.WriteString("\n")
	}
	return out.String()
}

// ErrorJSON is e's machine-readable rendering for --json invocations.
type ErrorJSON struct {
	Error    string `json:"error"`
	Cause    string `json:"cause,omitempty"`
	ExitCode int    `json:"exit_code"`
}

func (e *PresentedError) ToJSON() ErrorJSON {
	return ErrorJSON{Error: e.Message, Cause: e.Cause, ExitCode: e.ExitCode}
}

// writeError prints err to stderr, either colorized text or JSON, and
// returns its exit code.
func writeError(stderr io.Writer, jsonOutput bool, err error) int {
	pe := present(err)
	if pe == nil {
		return 0
	}
	if jsonOutput {
		enc := json.NewEncoder(stderr)
		enc.SetIndent("", "  ")
		_ = enc.Encode(pe.ToJSON())
	} else {
		fmt.Fprint(stderr, pe.Format(false))
	}
	return pe.ExitCode
}
