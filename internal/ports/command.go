package ports

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// CommandResult represents the result of executing a subprocess.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success returns true if the command exited with code 0.
func (r CommandResult) Success() bool {
	return r.ExitCode == 0
}

// CommandCall records a command invocation.
type CommandCall struct {
	Dir     string
	Command string
	Args    []string
}

// CommandRunner executes subprocesses: engine version probes, git plumbing,
// platform build scripts and project hooks.
// A non-zero exit code is reported through CommandResult, not as an error;
// the error is reserved for failures to start the process at all.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string, args ...string) (CommandResult, error)
}

// MockCommandRunner is an in-memory CommandRunner for tests.
type MockCommandRunner struct {
	mu      sync.Mutex
	results map[string]CommandResult
	errs    map[string]error
	calls   []CommandCall
}

// NewMockCommandRunner creates an empty MockCommandRunner.
func NewMockCommandRunner() *MockCommandRunner {
	return &MockCommandRunner{
		results: make(map[string]CommandResult),
		errs:    make(map[string]error),
	}
}

// AddResult registers the result returned for command+args.
func (m *MockCommandRunner) AddResult(command string, args []string, result CommandResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[mockKey(command, args)] = result
}

// AddError registers an error returned for command+args.
func (m *MockCommandRunner) AddError(command string, args []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[mockKey(command, args)] = err
}

// Run returns the registered result, or an error for unregistered commands.
func (m *MockCommandRunner) Run(_ context.Context, dir, command string, args ...string) (CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, CommandCall{Dir: dir, Command: command, Args: append([]string(nil), args...)})

	key := mockKey(command, args)
	if err, ok := m.errs[key]; ok {
		return CommandResult{ExitCode: -1}, err
	}
	if result, ok := m.results[key]; ok {
		return result, nil
	}
	return CommandResult{ExitCode: -1}, fmt.Errorf("no mock result for %q", key)
}

// Calls returns the recorded invocations in order.
func (m *MockCommandRunner) Calls() []CommandCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CommandCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func mockKey(command string, args []string) string {
	return strings.TrimSpace(command + " " + strings.Join(args, " "))
}

// Ensure MockCommandRunner implements CommandRunner.
var _ CommandRunner = (*MockCommandRunner)(nil)
