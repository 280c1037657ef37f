package dbt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Config wires a Runner to one project.
type Config struct {
	// ProjectDir is the transform directory from the project config.
	// The dbt_project.yml marker may live here or one level down.
	ProjectDir string

	// ProfilesDir is exported as DBT_PROFILES_DIR.
	ProfilesDir string

	// Target, when set, is passed as --target.
	Target string

	Logger *slog.Logger
}

// Result records one dbt command execution.
type Result struct {
	Command  string  `json:"command"`
	ExitCode int     `json:"exit_code"`
	Stdout   string  `json:"stdout,omitempty"`
	Stderr   string  `json:"stderr,omitempty"`
	Duration float64 `json:"duration"`
}

// RunError is returned when a dbt command exits non-zero. The exit
// code propagates to the process exit status.
type RunError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("dbt %s failed with exit code %d", e.Command, e.ExitCode)
	if detail := strings.TrimSpace(e.Stderr); detail != "" {
		msg += ": " + detail
	}
	return msg
}

// Runner executes dbt commands for a project.
type Runner struct {
	cfg     Config
	locator *Locator
}

// NewRunner builds a Runner. The locator is shared so dbt is resolved
// once per process.
func NewRunner(cfg Config, locator *Locator) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if locator == nil {
		locator = NewLocator()
	}
	return &Runner{cfg: cfg, locator: locator}
}

// Run executes `dbt run` followed by `dbt test`. A result is returned
// for every command that started; a non-zero exit stops the sequence
// and surfaces as a *RunError.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, 2)
	for _, command := range []string{"run", "test"} {
		res, err := r.exec(ctx, command)
		if res != nil {
			results = append(results, *res)
		}
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Debug executes `dbt debug`. The result is returned even on a
// non-zero exit so callers can show the diagnostics.
func (r *Runner) Debug(ctx context.Context) (*Result, error) {
	res, err := r.exec(ctx, "debug")
	var runErr *RunError
	if errors.As(err, &runErr) {
		return res, nil
	}
	return res, err
}

func (r *Runner) exec(ctx context.Context, command string) (*Result, error) {
	projectDir, err := ResolveProjectDir(r.cfg.ProjectDir)
	if err != nil {
		return nil, err
	}

	args := []string{command, "--project-dir", projectDir}
	if r.cfg.ProfilesDir != "" {
		args = append(args, "--profiles-dir", r.cfg.ProfilesDir)
	}
	if r.cfg.Target != "" {
		args = append(args, "--target", r.cfg.Target)
	}

	cmd, err := r.locator.Command(ctx, args...)
	if err != nil {
		return nil, err
	}
	cmd.Dir = projectDir
	cmd.Env = r.prepareEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.cfg.Logger.Info("running dbt", "command", command, "project_dir", projectDir)
	start := time.Now()
	runErr := cmd.Run()
	res := &Result{
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start).Seconds(),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			r.cfg.Logger.Error("dbt command failed",
				"command", command, "exit_code", res.ExitCode)
			return res, &RunError{
				Command:  command,
				ExitCode: res.ExitCode,
				Stderr:   stderr.String(),
			}
		}
		return res, fmt.Errorf("dbt %s: %w", command, runErr)
	}

	r.cfg.Logger.Info("dbt command complete",
		"command", command, "duration", time.Since(start))
	return res, nil
}

// prepareEnv copies the parent environment, points dbt at the profiles
// directory, and makes sure an active interpreter prefix's bin
// directory leads PATH so dbt finds its adapters.
func (r *Runner) prepareEnv() []string {
	env := os.Environ()
	if r.cfg.ProfilesDir != "" {
		env = setEnv(env, "DBT_PROFILES_DIR", r.cfg.ProfilesDir)
	}

	prefix := os.Getenv("VIRTUAL_ENV")
	if prefix == "" {
		prefix = os.Getenv("CONDA_PREFIX")
	}
	if prefix != "" {
		bin := filepath.Join(prefix, "bin")
		path := os.Getenv("PATH")
		if !strings.HasPrefix(path, bin+string(os.PathListSeparator)) && path != bin {
			env = setEnv(env, "PATH", bin+string(os.PathListSeparator)+path)
		}
	}
	return env
}

func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
