package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/sbdk-dev/sbdk/internal/cli/output"
)

// Console is the interactive command prompt shown alongside the watch
// loop in dev mode.
type Console struct {
	loop     *Loop
	renderer *output.Renderer
}

// NewConsole wires a console to a running loop.
func NewConsole(loop *Loop, renderer *output.Renderer) *Console {
	return &Console{loop: loop, renderer: renderer}
}

// Run reads commands until EOF, interrupt, or quit. stop is called on
// quit so the surrounding dev session shuts down.
func (c *Console) Run(ctx context.Context, stop context.CancelFunc) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "sbdk> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "q",
	})
	if err != nil {
		return fmt.Errorf("initialize console: %w", err)
	}
	defer func() { _ = rl.Close() }()

	// A shutdown from the other side (signal, loop error) must unblock
	// Readline; closing it surfaces io.EOF below.
	go func() {
		<-ctx.Done()
		_ = rl.Close()
	}()

	c.renderer.Println("Dev console ready. Type h for help.")

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			stop()
			return nil
		}
		if err != nil {
			return err
		}

		switch strings.TrimSpace(line) {
		case "", "s":
			c.printStatus()
		case "r":
			c.loop.Post(CmdRun)
			c.renderer.Println("Manual run requested")
		case "a":
			c.loop.Post(CmdToggleAuto)
			c.printStatus()
		case "l":
			c.printLog()
		case "c":
			fmt.Print("\033[H\033[2J")
		case "h":
			c.printHelp()
		case "q":
			stop()
			return nil
		default:
			c.renderer.Printf("Unknown command: %s (type h for help)\n", strings.TrimSpace(line))
		}
	}
}

func (c *Console) printStatus() {
	st := c.loop.Status()
	styles := c.renderer.Styles()

	output.FormatHeader(c.renderer, "Watch status")
	output.FormatKeyValue(c.renderer, "phase", string(st.Phase))
	output.FormatKeyValue(c.renderer, "auto-run", onOff(st.AutoRun))
	output.FormatKeyValue(c.renderer, "runs",
		fmt.Sprintf("%d started, %d succeeded, %d failed",
			st.RunsStarted, st.RunsSucceeded, st.RunsFailed))
	if st.PendingChange {
		output.FormatKeyValue(c.renderer, "pending", "changes queued for next run")
	}
	output.FormatKeyValue(c.renderer, "watching", strings.Join(st.Watching, ", "))

	if len(st.RecentChanges) > 0 {
		c.renderer.Println("")
		c.renderer.Println(styles.Header2.Render("Recent changes"))
		for _, change := range st.RecentChanges {
			c.renderer.Printf("  %s\n", change)
		}
	}
	c.renderer.Println("")
}

func (c *Console) printLog() {
	st := c.loop.Status()
	if len(st.LogLines) == 0 {
		c.renderer.Println("No activity yet")
		return
	}
	for _, line := range st.LogLines {
		c.renderer.Println(line)
	}
}

func (c *Console) printHelp() {
	help := `
Commands:
  s (or enter)  Show watch status
  r             Trigger a run now
  a             Toggle auto-run
  l             Show recent activity log
  c             Clear the screen
  h             Show this help
  q             Quit dev mode
`
	c.renderer.Println(help)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
