// Package watch implements the dev-mode file watch loop: debounced
// change detection over the project's watch paths, one run at a time,
// changes during a run coalesced into a single follow-up.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the loop waits after the last change
// before triggering a run.
const DefaultDebounce = 2 * time.Second

const defaultQueueSize = 64

// DefaultExtensions is the allow-list of file extensions that trigger
// reruns.
var DefaultExtensions = []string{".py", ".sql", ".yml", ".yaml", ".json", ".star"}

// RunFunc executes one rebuild. The trigger is "watch" or "manual".
// Errors are counted and logged; they never stop the loop.
type RunFunc func(ctx context.Context, trigger string) error

// Command is a console request posted into the loop.
type Command int

const (
	// CmdRun requests an immediate run. Ignored with a warning while a
	// run is active.
	CmdRun Command = iota

	// CmdToggleAuto flips automatic reruns. Re-enabling with changes
	// pending triggers a run.
	CmdToggleAuto
)

// Config wires a Loop.
type Config struct {
	// Paths are directories to watch recursively. Missing entries are
	// skipped with a warning.
	Paths []string

	// Extensions overrides DefaultExtensions when non-empty.
	Extensions []string

	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration

	// QueueSize bounds the internal message queue.
	QueueSize int

	// Run is required.
	Run RunFunc

	Logger *slog.Logger
}

type msgKind int

const (
	msgFileChanged msgKind = iota
	msgTimerFired
	msgRunDone
	msgCommand
	msgQuery
)

type message struct {
	kind  msgKind
	path  string
	gen   int
	cmd   Command
	err   error
	reply chan Status
}

// Loop is the watch event loop. All state lives on the dispatcher
// goroutine inside Run; other goroutines talk to it through a bounded
// message queue.
type Loop struct {
	cfg  Config
	exts map[string]bool
	msgs chan message
	done chan struct{}
}

// New validates the config and builds a Loop.
func New(cfg Config) (*Loop, error) {
	if cfg.Run == nil {
		return nil, fmt.Errorf("watch: Run is required")
	}
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("watch: no paths to watch")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	exts := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		exts[e] = true
	}

	return &Loop{
		cfg:  cfg,
		exts: exts,
		msgs: make(chan message, cfg.QueueSize),
		done: make(chan struct{}),
	}, nil
}

// Run watches the configured paths and dispatches until ctx is
// cancelled. It blocks; returns nil on a clean shutdown.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	for _, path := range l.cfg.Paths {
		if err := watchDir(watcher, path); err != nil {
			l.cfg.Logger.Warn("skipping watch path", "path", path, "error", err)
		}
	}

	go l.forwardEvents(ctx, watcher)

	st := newLoopState()
	st.log("watching %d paths", len(l.cfg.Paths))

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-l.msgs:
			l.handle(ctx, &st, m)
		}
	}
}

// Post sends a console command to the loop. Safe after shutdown.
func (l *Loop) Post(cmd Command) {
	select {
	case l.msgs <- message{kind: msgCommand, cmd: cmd}:
	case <-l.done:
	}
}

// NotifyChange injects a synthetic file change, as if the watcher had
// reported path. The extension filter still applies.
func (l *Loop) NotifyChange(path string) {
	select {
	case l.msgs <- message{kind: msgFileChanged, path: path}:
	case <-l.done:
	}
}

// Status returns a snapshot of the loop. After shutdown it reports
// PhaseStopped.
func (l *Loop) Status() Status {
	reply := make(chan Status, 1)
	select {
	case l.msgs <- message{kind: msgQuery, reply: reply}:
	case <-l.done:
		return Status{Phase: PhaseStopped}
	}
	select {
	case st := <-reply:
		return st
	case <-l.done:
		return Status{Phase: PhaseStopped}
	}
}

func (l *Loop) handle(ctx context.Context, st *loopState, m message) {
	switch m.kind {
	case msgFileChanged:
		if !l.exts[filepath.Ext(m.path)] {
			return
		}
		st.recordChange(m.path)
		st.log("change detected: %s", filepath.Base(m.path))
		l.cfg.Logger.Debug("file changed", "path", m.path)

		switch {
		case st.phase == PhaseRunning:
			st.pendingChange = true
		case !st.autoRun:
			st.pendingChange = true
		default:
			st.phase = PhasePending
			l.resetTimer(ctx, st)
		}

	case msgTimerFired:
		if m.gen != st.timerGen || st.phase != PhasePending {
			return
		}
		l.startRun(ctx, st, "watch")

	case msgRunDone:
		if m.err != nil {
			st.runsFailed++
			st.log("run failed: %v", m.err)
			l.cfg.Logger.Error("watch run failed", "error", m.err)
		} else {
			st.runsSucceeded++
			st.log("run succeeded")
		}
		st.phase = PhaseIdle
		if st.pendingChange && st.autoRun {
			l.startRun(ctx, st, "watch")
		}

	case msgCommand:
		l.handleCommand(ctx, st, m.cmd)

	case msgQuery:
		m.reply <- st.snapshot(l.cfg.Paths)
	}
}

func (l *Loop) handleCommand(ctx context.Context, st *loopState, cmd Command) {
	switch cmd {
	case CmdRun:
		if st.phase == PhaseRunning {
			st.log("run already in progress")
			l.cfg.Logger.Warn("manual run ignored, run in progress")
			return
		}
		st.timerGen++
		l.startRun(ctx, st, "manual")

	case CmdToggleAuto:
		st.autoRun = !st.autoRun
		if st.autoRun {
			st.log("auto-run enabled")
			if st.pendingChange && st.phase != PhaseRunning {
				l.startRun(ctx, st, "watch")
			}
		} else {
			st.log("auto-run disabled")
		}
	}
}

// resetTimer restarts the debounce window. A bumped generation makes
// any stale fire a no-op.
func (l *Loop) resetTimer(ctx context.Context, st *loopState) {
	st.timerGen++
	gen := st.timerGen
	time.AfterFunc(l.cfg.Debounce, func() {
		l.post(ctx, message{kind: msgTimerFired, gen: gen})
	})
}

func (l *Loop) startRun(ctx context.Context, st *loopState, trigger string) {
	st.phase = PhaseRunning
	st.pendingChange = false
	st.runsStarted++
	st.log("run started (%s)", trigger)
	l.cfg.Logger.Info("watch run starting", "trigger", trigger)

	go func() {
		err := l.cfg.Run(ctx, trigger)
		l.post(ctx, message{kind: msgRunDone, err: err})
	}()
}

func (l *Loop) post(ctx context.Context, m message) {
	select {
	case l.msgs <- m:
	case <-ctx.Done():
	}
}

// forwardEvents filters raw watcher events into the loop and keeps the
// recursive watch up to date as directories appear.
func (l *Loop) forwardEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watchDir(watcher, event.Name)
					continue
				}
			}
			l.post(ctx, message{kind: msgFileChanged, path: event.Name})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.cfg.Logger.Warn("watcher error", "error", err)
		}
	}
}

// watchDir recursively registers dir and its subdirectories, skipping
// hidden ones.
func watchDir(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != dir && len(name) > 0 && name[0] == '.' {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
