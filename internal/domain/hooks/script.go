package hooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/plugman/internal/ports"
)

const defaultHookTimeout = 5 * time.Minute

// OnError values for a Hook.
const (
	OnErrorFail     = "fail"
	OnErrorContinue = "continue"
)

// Hook is a command declared in the project manifest for an event.
type Hook struct {
	Event   Event  `yaml:"event" toml:"event"`
	Command string `yaml:"command" toml:"command"`
	Shell   string `yaml:"shell,omitempty" toml:"shell,omitempty"`
	Timeout string `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	OnError string `yaml:"onError,omitempty" toml:"onError,omitempty"`
}

// Validate checks the hook's event, command and options.
func (h Hook) Validate() error {
	if !h.Event.IsValid() {
		return fmt.Errorf("unknown hook event %q", h.Event)
	}
	if strings.TrimSpace(h.Command) == "" {
		return fmt.Errorf("hook for %s must have a command", h.Event)
	}
	switch h.OnError {
	case "", OnErrorFail, OnErrorContinue:
	default:
		return fmt.Errorf("hook for %s: onError must be %q or %q", h.Event, OnErrorFail, OnErrorContinue)
	}
	if h.Timeout != "" {
		if _, err := time.ParseDuration(h.Timeout); err != nil {
			return fmt.Errorf("hook for %s: invalid timeout %q", h.Event, h.Timeout)
		}
	}
	return nil
}

// ScriptRunner executes project hooks through a shell. The command gets the
// event, plugin id, platform and plugin directory as $1 to $4.
type ScriptRunner struct {
	runner  ports.CommandRunner
	workDir string
	logger  ports.Logger
}

// NewScriptRunner creates a runner executing hooks from workDir.
func NewScriptRunner(runner ports.CommandRunner, workDir string, logger ports.Logger) *ScriptRunner {
	return &ScriptRunner{runner: runner, workDir: workDir, logger: logger}
}

// Register subscribes every hook to its event on bus.
func (r *ScriptRunner) Register(bus *Bus, hooks []Hook) error {
	for _, h := range hooks {
		if err := h.Validate(); err != nil {
			return err
		}
		bus.Subscribe(h.Event, r.handler(h))
	}
	return nil
}

func (r *ScriptRunner) handler(h Hook) Handler {
	return func(ctx context.Context, event Event, payload Payload) error {
		err := r.run(ctx, h, event, payload)
		if err == nil {
			return nil
		}
		if h.OnError == OnErrorContinue {
			if r.logger != nil {
				r.logger.Warn(ctx, "hook failed (continuing)",
					ports.F("event", string(event)), ports.F("command", h.Command), ports.F("error", err))
			}
			return nil
		}
		return err
	}
}

func (r *ScriptRunner) run(ctx context.Context, h Hook, event Event, payload Payload) error {
	timeout := defaultHookTimeout
	if h.Timeout != "" {
		if parsed, err := time.ParseDuration(h.Timeout); err == nil {
			timeout = parsed
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := h.Shell
	if shell == "" {
		shell = "sh"
	}

	var id, platform, dir string
	if payload.Plugin != nil {
		id, platform, dir = payload.Plugin.ID, payload.Plugin.Platform, payload.Plugin.Dir
	}

	if r.logger != nil {
		r.logger.Debug(ctx, "running hook", ports.F("event", string(event)), ports.F("command", h.Command))
	}
	result, err := r.runner.Run(ctx, r.workDir, shell, "-c", h.Command, "plugman-hook", string(event), id, platform, dir)
	if err != nil {
		return fmt.Errorf("hook %q: %w", h.Command, err)
	}
	if !result.Success() {
		return fmt.Errorf("hook %q exited with code %d: %s", h.Command, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}
