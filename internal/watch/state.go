package watch

import (
	"fmt"
	"time"
)

// Phase is the loop's position in its cycle.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhasePending  Phase = "pending"
	PhaseRunning  Phase = "running"
	PhaseStopped  Phase = "stopped"
)

// Caps on the history kept for the interactive console.
const (
	maxRecentChanges = 10
	maxLogLines      = 50
)

// Status is an immutable snapshot of the loop for display.
type Status struct {
	Phase         Phase     `json:"phase"`
	AutoRun       bool      `json:"auto_run"`
	PendingChange bool      `json:"pending_change"`
	RunsStarted   int       `json:"runs_started"`
	RunsSucceeded int       `json:"runs_succeeded"`
	RunsFailed    int       `json:"runs_failed"`
	StartedAt     time.Time `json:"started_at"`
	LastChangeAt  time.Time `json:"last_change_at,omitempty"`
	Watching      []string  `json:"watching"`
	RecentChanges []string  `json:"recent_changes,omitempty"`
	LogLines      []string  `json:"-"`
}

// loopState is owned by the dispatcher goroutine. Nothing outside the
// dispatcher reads or writes it; snapshots go out through messages.
type loopState struct {
	phase         Phase
	autoRun       bool
	pendingChange bool
	timerGen      int

	runsStarted   int
	runsSucceeded int
	runsFailed    int

	startedAt    time.Time
	lastChangeAt time.Time

	recentChanges []string
	logLines      []string
}

func newLoopState() loopState {
	return loopState{
		phase:     PhaseIdle,
		autoRun:   true,
		startedAt: time.Now(),
	}
}

func (st *loopState) recordChange(path string) {
	st.lastChangeAt = time.Now()
	st.recentChanges = append(st.recentChanges, path)
	if len(st.recentChanges) > maxRecentChanges {
		st.recentChanges = st.recentChanges[len(st.recentChanges)-maxRecentChanges:]
	}
}

func (st *loopState) log(format string, args ...any) {
	line := time.Now().Format("15:04:05") + "  " + fmt.Sprintf(format, args...)
	st.logLines = append(st.logLines, line)
	if len(st.logLines) > maxLogLines {
		st.logLines = st.logLines[len(st.logLines)-maxLogLines:]
	}
}

func (st *loopState) snapshot(watching []string) Status {
	return Status{
		Phase:         st.phase,
		AutoRun:       st.autoRun,
		PendingChange: st.pendingChange,
		RunsStarted:   st.runsStarted,
		RunsSucceeded: st.runsSucceeded,
		RunsFailed:    st.runsFailed,
		StartedAt:     st.startedAt,
		LastChangeAt:  st.lastChangeAt,
		Watching:      append([]string(nil), watching...),
		RecentChanges: append([]string(nil), st.recentChanges...),
		LogLines:      append([]string(nil), st.logLines...),
	}
}
