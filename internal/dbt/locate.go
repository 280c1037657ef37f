// Package dbt locates and drives the dbt CLI for the project's
// transform step.
package dbt

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Invocation describes how to call dbt. Args holds prefix arguments
// that come before the dbt subcommand, so a module-based invocation
// like `python3 -m dbt.cli.main run` works the same as a binary.
type Invocation struct {
	Path   string
	Args   []string
	Source string
}

// String renders the invocation the way a shell would see it.
func (inv Invocation) String() string {
	if len(inv.Args) == 0 {
		return inv.Path
	}
	return inv.Path + " " + strings.Join(inv.Args, " ")
}

// NotFoundError reports that no dbt installation could be located.
type NotFoundError struct {
	Tried []string
}

func (e *NotFoundError) Error() string {
	msg := "dbt executable not found"
	if len(e.Tried) > 0 {
		msg += " (tried " + strings.Join(e.Tried, ", ") + ")"
	}
	return msg + ". Install with: uv add dbt-duckdb"
}

// wellKnownDirs are checked relative to the home directory, then as
// absolute paths.
var wellKnownDirs = []string{
	filepath.Join(".local", "bin"),
	filepath.Join(".cargo", "bin"),
	"/usr/local/bin",
}

// Locator resolves the dbt invocation once per process. Resolution
// order: the active virtualenv, an active conda prefix, well-known
// install directories, PATH, then `python3 -m dbt.cli.main` if the
// module answers a --version probe.
type Locator struct {
	mu     sync.Mutex
	cached *Invocation
}

// NewLocator returns an empty locator. The first Resolve call does the
// filesystem walk; later calls return the cached result.
func NewLocator() *Locator {
	return &Locator{}
}

// Resolve returns the dbt invocation to use.
func (l *Locator) Resolve(ctx context.Context) (Invocation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cached != nil {
		return *l.cached, nil
	}

	inv, err := locate(ctx)
	if err != nil {
		return Invocation{}, err
	}
	l.cached = &inv
	return inv, nil
}

// Command builds an exec.Cmd for the given dbt subcommand arguments.
func (l *Locator) Command(ctx context.Context, args ...string) (*exec.Cmd, error) {
	inv, err := l.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	full := make([]string, 0, len(inv.Args)+len(args))
	full = append(full, inv.Args...)
	full = append(full, args...)
	return exec.CommandContext(ctx, inv.Path, full...), nil
}

func locate(ctx context.Context) (Invocation, error) {
	var tried []string

	if venv := os.Getenv("VIRTUAL_ENV"); venv != "" {
		path := filepath.Join(venv, "bin", "dbt")
		if isExecutable(path) {
			return Invocation{Path: path, Source: "virtualenv"}, nil
		}
		tried = append(tried, path)
	}

	if conda := os.Getenv("CONDA_PREFIX"); conda != "" {
		path := filepath.Join(conda, "bin", "dbt")
		if isExecutable(path) {
			return Invocation{Path: path, Source: "conda"}, nil
		}
		tried = append(tried, path)
	}

	for _, dir := range wellKnownDirs {
		if !filepath.IsAbs(dir) {
			home, err := os.UserHomeDir()
			if err != nil {
				continue
			}
			dir = filepath.Join(home, dir)
		}
		path := filepath.Join(dir, "dbt")
		if isExecutable(path) {
			return Invocation{Path: path, Source: dir}, nil
		}
		tried = append(tried, path)
	}

	if path, err := exec.LookPath("dbt"); err == nil {
		return Invocation{Path: path, Source: "PATH"}, nil
	}
	tried = append(tried, "PATH")

	if python, err := exec.LookPath("python3"); err == nil {
		if probeModule(ctx, python) {
			return Invocation{
				Path:   python,
				Args:   []string{"-m", "dbt.cli.main"},
				Source: "python module",
			}, nil
		}
		tried = append(tried, fmt.Sprintf("%s -m dbt.cli.main", python))
	}

	return Invocation{}, &NotFoundError{Tried: tried}
}

// probeModule reports whether the dbt Python module responds to
// --version.
func probeModule(ctx context.Context, python string) bool {
	cmd := exec.CommandContext(ctx, python, "-m", "dbt.cli.main", "--version")
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
