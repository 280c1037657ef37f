// Package commands tests for CLI command creation.
package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRunCommand(t *testing.T) {
	cmd := NewRunCommand()

	assert.Equal(t, "run", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")

	// Verify flags exist (output is a global flag on root, not local)
	flags := []string{"visual", "watch", "pipelines-only", "dbt-only", "quiet"}
	for _, flag := range flags {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}

	// Verify alias exists
	assert.NotEmpty(t, cmd.Aliases, "run command should have aliases")
	assert.Equal(t, "build", cmd.Aliases[0], "run command should have 'build' alias")
}

func TestNewDevCommand(t *testing.T) {
	cmd := NewDevCommand()

	assert.Equal(t, "dev", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")

	flags := []string{"watch", "pipelines-only", "dbt-only", "debounce"}
	for _, flag := range flags {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}

	// Watching is the default; --watch=false degrades to a single run.
	assert.Equal(t, "true", cmd.Flags().Lookup("watch").DefValue)
}

func TestNewWebhooksCommand(t *testing.T) {
	cmd := NewWebhooksCommand()

	assert.Equal(t, "webhooks", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")

	flags := []string{"host", "port", "reload"}
	for _, flag := range flags {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewDebugCommand(t *testing.T) {
	cmd := NewDebugCommand()

	assert.Equal(t, "debug", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")

	flags := []string{"full", "dbt-only", "history"}
	for _, flag := range flags {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestRunFlagsAreMutuallyExclusive(t *testing.T) {
	cmd := NewRunCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--pipelines-only", "--dbt-only"})

	err := cmd.Execute()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestRunKind(t *testing.T) {
	assert.Equal(t, "pipelines", runKind(true, false))
	assert.Equal(t, "transform", runKind(false, true))
	assert.Equal(t, "all", runKind(false, false))
}

func TestRunTrigger(t *testing.T) {
	t.Setenv("SBDK_TRIGGER", "")
	assert.Equal(t, "manual", runTrigger())

	t.Setenv("SBDK_TRIGGER", "webhook")
	assert.Equal(t, "webhook", runTrigger())
}
