package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// RunEvent is a JSON-lines event emitted during a run when JSON output is
// selected. One event per line, suitable for machine consumption.
type RunEvent struct {
	Event      string  `json:"event"` // run_start, step_start, step_complete, run_complete
	RunID      string  `json:"run_id"`
	Timestamp  string  `json:"timestamp,omitempty"`
	Step       string  `json:"step,omitempty"`
	Steps      []string `json:"steps,omitempty"`
	Status     string  `json:"status,omitempty"`
	ExitCode   int     `json:"exit_code,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
	Error      string  `json:"error,omitempty"`
	TotalSteps int     `json:"total_steps,omitempty"`
	Successful int     `json:"successful,omitempty"`
	Failed     int     `json:"failed,omitempty"`
	TotalMS    int64   `json:"total_ms,omitempty"`
}

// EmitRunEvent writes a run event as a single JSON line.
func EmitRunEvent(w io.Writer, event RunEvent) {
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	data, _ := json.Marshal(event)
	_, _ = fmt.Fprintln(w, string(data))
}
