// Package output renders CLI results as styled text, markdown, or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Mode selects the output format.
type Mode string

const (
	// ModeAuto picks text on a TTY and markdown when piped.
	ModeAuto     Mode = "auto"
	ModeText     Mode = "text"
	ModeMarkdown Mode = "markdown"
	ModeJSON     Mode = "json"
)

// Renderer writes command output in the selected mode.
// Commands render through it instead of printing to os.Stdout directly, so
// quiet mode and JSON mode stay consistent across the whole CLI.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   Mode
	quiet  bool
	styles *Styles
	isTTY  bool
}

// NewRenderer creates a renderer for the given writers and mode.
// An empty mode means ModeAuto.
func NewRenderer(out, errOut io.Writer, mode Mode) *Renderer {
	if mode == "" {
		mode = ModeAuto
	}

	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}

	styles := NewPlainStyles()
	if isTTY && termenv.EnvColorProfile() != termenv.Ascii {
		styles = NewStyles()
	}

	return &Renderer{
		out:    out,
		errOut: errOut,
		mode:   mode,
		styles: styles,
		isTTY:  isTTY,
	}
}

// SetQuiet suppresses everything except warnings and errors.
func (r *Renderer) SetQuiet(quiet bool) { r.quiet = quiet }

// Quiet reports whether quiet mode is active.
func (r *Renderer) Quiet() bool { return r.quiet }

// IsTTY reports whether the output writer is a terminal.
func (r *Renderer) IsTTY() bool { return r.isTTY }

// Out returns the normal output writer.
func (r *Renderer) Out() io.Writer { return r.out }

// Styles returns the active style set.
func (r *Renderer) Styles() *Styles { return r.styles }

// EffectiveMode resolves ModeAuto against the terminal state.
func (r *Renderer) EffectiveMode() Mode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if r.isTTY {
		return ModeText
	}
	return ModeMarkdown
}

// Println writes a line of normal output. Suppressed in quiet and JSON modes.
func (r *Renderer) Println(args ...any) {
	if r.quiet || r.mode == ModeJSON {
		return
	}
	_, _ = fmt.Fprintln(r.out, args...)
}

// Printf writes formatted normal output. Suppressed in quiet and JSON modes.
func (r *Renderer) Printf(format string, args ...any) {
	if r.quiet || r.mode == ModeJSON {
		return
	}
	_, _ = fmt.Fprintf(r.out, format, args...)
}

// Success writes a success line.
func (r *Renderer) Success(msg string) {
	if r.quiet || r.mode == ModeJSON {
		return
	}
	_, _ = fmt.Fprintln(r.out, r.styles.Success.Render(msg))
}

// Warning writes a warning line to stderr. Shown even in quiet mode.
func (r *Renderer) Warning(msg string) {
	if r.mode == ModeJSON {
		return
	}
	_, _ = fmt.Fprintln(r.errOut, r.styles.Warning.Render("warning: "+msg))
}

// Error writes an error line to stderr. Never suppressed.
func (r *Renderer) Error(msg string) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Error.Render("error: "+msg))
}

// JSON marshals v indented to the output writer, regardless of mode.
func (r *Renderer) JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, _ = fmt.Fprintln(r.out, string(data))
	return nil
}

// FormatHeader renders a section header with an underline in text mode.
func FormatHeader(r *Renderer, title string) {
	r.Println("")
	r.Println(r.styles.Header1.Render(title))
	r.Println(r.styles.Muted.Render(strings.Repeat("=", len(title))))
}

// FormatKeyValue renders an aligned "key: value" line.
func FormatKeyValue(r *Renderer, key, value string) {
	r.Printf("  %s %s\n", r.styles.Bold.Render(key+":"), value)
}
