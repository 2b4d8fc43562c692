package ports

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandResult_Success(t *testing.T) {
	t.Parallel()

	assert.True(t, CommandResult{ExitCode: 0}.Success())
	assert.False(t, CommandResult{ExitCode: 1, Stderr: "boom"}.Success())
}

func TestMockCommandRunner(t *testing.T) {
	t.Parallel()

	runner := NewMockCommandRunner()
	runner.AddResult("git", []string{"--version"}, CommandResult{Stdout: "git version 2.44.0"})

	result, err := runner.Run(context.Background(), "", "git", "--version")
	require.NoError(t, err)
	assert.Equal(t, "git version 2.44.0", result.Stdout)
}

func TestMockCommandRunner_Unregistered(t *testing.T) {
	t.Parallel()

	runner := NewMockCommandRunner()
	_, err := runner.Run(context.Background(), "", "unknown", "command")
	assert.Error(t, err)
}

func TestMockCommandRunner_Error(t *testing.T) {
	t.Parallel()

	runner := NewMockCommandRunner()
	runner.AddError("sh", []string{"probe.sh"}, errors.New("exec format error"))

	_, err := runner.Run(context.Background(), "/tmp", "sh", "probe.sh")
	assert.EqualError(t, err, "exec format error")
}

func TestMockCommandRunner_RecordsCalls(t *testing.T) {
	t.Parallel()

	runner := NewMockCommandRunner()
	runner.AddResult("git", []string{"rev-parse", "--show-toplevel"}, CommandResult{Stdout: "/src\n"})

	_, _ = runner.Run(context.Background(), "/src/plugins/a", "git", "rev-parse", "--show-toplevel")

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/src/plugins/a", calls[0].Dir)
	assert.Equal(t, "git", calls[0].Command)
	assert.Equal(t, []string{"rev-parse", "--show-toplevel"}, calls[0].Args)
}
