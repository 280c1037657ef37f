// Package tui renders the interactive pipeline dashboard used by
// `sbdk run --visual`.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sbdk-dev/sbdk/internal/dbt"
	"github.com/sbdk-dev/sbdk/internal/pipeline"
)

// Messages fed into the dashboard by the run command. The pipeline runs
// in a separate goroutine and delivers these through Program.Send.
type (
	// StepStartedMsg marks an extraction step as running.
	StepStartedMsg struct {
		Name  string
		Index int
		Total int
	}

	// StepFinishedMsg carries the result of a finished step.
	StepFinishedMsg struct {
		Result pipeline.StepResult
	}

	// TransformStartedMsg marks the dbt phase as running.
	TransformStartedMsg struct{}

	// TransformFinishedMsg carries the dbt results.
	TransformFinishedMsg struct {
		Results []dbt.Result
		Err     error
	}

	// DoneMsg ends the dashboard once the whole run has finished.
	DoneMsg struct {
		Err error
	}
)

type stepState int

const (
	stepPending stepState = iota
	stepRunning
	stepSucceeded
	stepFailed
	stepSkipped
)

type stepView struct {
	name     string
	state    stepState
	duration float64
	stderr   string
}

type dashStyles struct {
	header  lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	warning lipgloss.Style
}

func newDashStyles() dashStyles {
	return dashStyles{
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		failure: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

// Dashboard is the bubbletea model for a pipeline run.
type Dashboard struct {
	spinner spinner.Model
	styles  dashStyles

	steps     []stepView
	transform bool
	dbtState  stepState
	dbtResult []dbt.Result
	dbtErr    error

	startedAt time.Time
	elapsed   time.Duration
	done      bool
	quitting  bool
	err       error
}

// NewDashboard builds a dashboard for the given step names. When
// withTransform is set, a dbt phase is shown after the steps.
func NewDashboard(stepNames []string, withTransform bool) Dashboard {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	steps := make([]stepView, len(stepNames))
	for i, name := range stepNames {
		steps[i] = stepView{name: name, state: stepPending}
	}

	return Dashboard{
		spinner:   sp,
		styles:    newDashStyles(),
		steps:     steps,
		transform: withTransform,
		dbtState:  stepPending,
		startedAt: time.Now(),
	}
}

// Err reports the run error once the dashboard has finished.
func (m Dashboard) Err() error { return m.err }

// Done reports whether the run finished (as opposed to the user
// quitting mid-run).
func (m Dashboard) Done() bool { return m.done }

func (m Dashboard) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case StepStartedMsg:
		if i := m.stepIndex(msg.Name); i >= 0 {
			m.steps[i].state = stepRunning
		}
		return m, nil

	case StepFinishedMsg:
		if i := m.stepIndex(msg.Result.Name); i >= 0 {
			m.steps[i].duration = msg.Result.Duration
			m.steps[i].stderr = msg.Result.Stderr
			switch {
			case msg.Result.Skipped:
				m.steps[i].state = stepSkipped
			case msg.Result.ExitCode == 0:
				m.steps[i].state = stepSucceeded
			default:
				m.steps[i].state = stepFailed
			}
		}
		return m, nil

	case TransformStartedMsg:
		m.dbtState = stepRunning
		return m, nil

	case TransformFinishedMsg:
		m.dbtResult = msg.Results
		m.dbtErr = msg.Err
		if msg.Err != nil {
			m.dbtState = stepFailed
		} else {
			m.dbtState = stepSucceeded
		}
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		m.elapsed = time.Since(m.startedAt)
		return m, tea.Quit
	}

	return m, nil
}

func (m Dashboard) View() string {
	var b strings.Builder

	b.WriteString("\n  " + m.styles.header.Render("SBDK Pipeline") + "\n\n")

	for _, step := range m.steps {
		b.WriteString(m.renderRow(step.name, step.state, step.duration))
		if step.state == stepFailed && step.stderr != "" {
			first := strings.SplitN(strings.TrimSpace(step.stderr), "\n", 2)[0]
			b.WriteString("      " + m.styles.failure.Render(first) + "\n")
		}
	}

	if m.transform {
		b.WriteString(m.renderRow("dbt run + test", m.dbtState, m.dbtDuration()))
		if m.dbtState == stepFailed && m.dbtErr != nil {
			b.WriteString("      " + m.styles.failure.Render(m.dbtErr.Error()) + "\n")
		}
	}

	b.WriteString("\n")
	switch {
	case m.done && m.err == nil:
		b.WriteString("  " + m.styles.success.Render(
			fmt.Sprintf("Pipeline complete in %.2fs", m.elapsed.Seconds())) + "\n")
	case m.done:
		b.WriteString("  " + m.styles.failure.Render("Pipeline failed") + "\n")
	case m.quitting:
		b.WriteString("  " + m.styles.warning.Render("Stopping run") + "\n")
	default:
		b.WriteString("  " + m.styles.muted.Render("q to quit") + "\n")
	}

	return b.String()
}

func (m Dashboard) renderRow(name string, state stepState, duration float64) string {
	var icon, suffix string
	switch state {
	case stepPending:
		icon = m.styles.muted.Render("·")
	case stepRunning:
		icon = m.spinner.View()
	case stepSucceeded:
		icon = m.styles.success.Render("✓")
		suffix = m.styles.muted.Render(fmt.Sprintf("%.2fs", duration))
	case stepFailed:
		icon = m.styles.failure.Render("✗")
		suffix = m.styles.muted.Render(fmt.Sprintf("%.2fs", duration))
	case stepSkipped:
		icon = m.styles.muted.Render("-")
		suffix = m.styles.muted.Render("skipped")
	}

	line := fmt.Sprintf("  %s %-20s %s", icon, name, suffix)
	return strings.TrimRight(line, " ") + "\n"
}

func (m Dashboard) dbtDuration() float64 {
	var total float64
	for _, res := range m.dbtResult {
		total += res.Duration
	}
	return total
}

func (m Dashboard) stepIndex(name string) int {
	for i, step := range m.steps {
		if step.name == name {
			return i
		}
	}
	return -1
}
