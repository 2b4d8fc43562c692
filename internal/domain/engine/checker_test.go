package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/plugman/internal/adapters/logging"
	"github.com/felixgeelhaar/plugman/internal/ports"
)

func TestChecker_Check(t *testing.T) {
	known := KnownVersions{
		ToolEngine:                "10.0.0",
		PlatformEngine("android"): "12.0.1",
		"com.example.core":        "1.4.0",
	}

	tests := []struct {
		name        string
		constraints []Constraint
		wantFailed  []string
	}{
		{
			name: "all satisfied",
			constraints: []Constraint{
				{Name: ToolEngine, Range: ">=9.0.0"},
				{Name: PlatformEngine("android"), Range: ">=12.0.0"},
				{Name: "com.example.core", Range: "^1.2.0"},
			},
		},
		{
			name: "tool too old",
			constraints: []Constraint{
				{Name: ToolEngine, Range: ">=11.0.0"},
				{Name: PlatformEngine("android"), Range: ">=13.0.0"},
			},
			wantFailed: []string{ToolEngine, PlatformEngine("android")},
		},
		{
			name: "other platform ignored",
			constraints: []Constraint{
				{Name: PlatformEngine("ios"), Range: ">=99.0.0", Platform: "ios"},
			},
		},
	}

	checker := NewChecker(ports.NewMockCommandRunner())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checker.Check(context.Background(), Request{
				Plugin:      "com.example.camera",
				Platform:    "android",
				Known:       known,
				Constraints: tt.constraints,
			})
			if len(tt.wantFailed) == 0 {
				assert.NoError(t, err)
				return
			}

			var unsatisfied *EngineUnsatisfiedError
			require.ErrorAs(t, err, &unsatisfied)
			assert.True(t, IsEngineUnsatisfied(err))
			names := make([]string, 0, len(unsatisfied.Failed))
			for _, r := range unsatisfied.Failed {
				names = append(names, r.Dependency)
			}
			assert.Equal(t, tt.wantFailed, names)
		})
	}
}

func TestChecker_ScriptProbe(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "scripts", "version")

	runner := ports.NewMockCommandRunner()
	runner.AddResult(script, nil, ports.CommandResult{Stdout: "3.0.0rc1\n"})

	checker := NewChecker(runner)
	err := checker.Check(context.Background(), Request{
		PluginDir: dir,
		Constraints: []Constraint{
			{Name: "custom-sdk", Range: ">=3.0.0", ScriptSrc: "scripts/version"},
		},
	})
	assert.NoError(t, err, "3.0.0-rc1 is on the 3.0.0 release line")

	err = checker.Check(context.Background(), Request{
		PluginDir: dir,
		Constraints: []Constraint{
			{Name: "custom-sdk", Range: ">=4.0.0", ScriptSrc: "scripts/version"},
		},
	})
	var unsatisfied *EngineUnsatisfiedError
	require.ErrorAs(t, err, &unsatisfied)
	assert.Equal(t, "3.0.0-rc1", unsatisfied.Failed[0].Installed)
}

func TestChecker_UnresolvableIsSatisfied(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "probe")

	runner := ports.NewMockCommandRunner()
	runner.AddError(script, nil, errors.New("exec format error"))
	logger := logging.NewMemoryLogger()

	checker := NewChecker(runner, WithCheckerLogger(logger))
	err := checker.Check(context.Background(), Request{
		PluginDir: dir,
		Known:     KnownVersions{"nightly": "dev"},
		Constraints: []Constraint{
			{Name: "broken", Range: ">=1.0.0", ScriptSrc: "probe"},
			{Name: "nightly", Range: ">=1.0.0"},
			{Name: "unknown", Range: ">=1.0.0"},
		},
	})

	assert.NoError(t, err)
	assert.Len(t, logger.Messages(ports.LevelWarn), 3)
}

func TestEngineUnsatisfiedError_Message(t *testing.T) {
	err := &EngineUnsatisfiedError{
		Plugin: "com.example.camera",
		Failed: []Requirement{{Dependency: "plugman-android", Installed: "3.0.0", Required: ">=4.0.0"}},
	}
	assert.Equal(t,
		`plugin "com.example.camera" does not support this project's engine versions: plugman-android: 3.0.0, failed version requirement: >=4.0.0`,
		err.Error())
}
