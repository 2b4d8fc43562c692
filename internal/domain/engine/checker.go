package engine

import (
	"context"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/plugman/internal/ports"
)

// Constraint is a version requirement on a named engine.
type Constraint struct {
	Name      string
	Range     string
	Platform  string
	ScriptSrc string
}

// KnownVersions maps engine names to versions the caller already knows:
// the tool, the project's platforms and installed plugins.
type KnownVersions map[string]string

// Request describes one engine check for a plugin on a platform.
type Request struct {
	Plugin      string
	Platform    string
	PluginDir   string
	Known       KnownVersions
	Constraints []Constraint
}

// Checker verifies engine constraints, probing unknown engines with
// their version scripts.
type Checker struct {
	runner ports.CommandRunner
	logger ports.Logger
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithCheckerLogger sets the logger for probe warnings.
func WithCheckerLogger(logger ports.Logger) CheckerOption {
	return func(c *Checker) {
		c.logger = logger
	}
}

// NewChecker creates a Checker that runs version scripts through runner.
func NewChecker(runner ports.CommandRunner, opts ...CheckerOption) *Checker {
	c := &Checker{runner: runner}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check resolves every applicable engine concurrently and returns an
// *EngineUnsatisfiedError listing the constraints that failed.
// Engines whose version cannot be determined are treated as satisfied.
func (c *Checker) Check(ctx context.Context, req Request) error {
	var (
		mu     sync.Mutex
		failed = make([]*Requirement, len(req.Constraints))
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, constraint := range req.Constraints {
		if constraint.Platform != "" && constraint.Platform != "*" && constraint.Platform != req.Platform {
			continue
		}
		g.Go(func() error {
			current, ok := c.currentVersion(gctx, req, constraint)
			if !ok {
				c.warn(ctx, "could not determine engine version, assuming constraint is satisfied",
					ports.F("engine", constraint.Name), ports.F("required", constraint.Range), ports.PluginField(req.Plugin))
				return nil
			}
			if IsDevBuild(current) {
				c.debug(ctx, "engine is a development build", ports.F("engine", constraint.Name), ports.F("version", current))
			}
			if !Satisfies(current, constraint.Range) {
				mu.Lock()
				failed[i] = &Requirement{Dependency: constraint.Name, Installed: current, Required: constraint.Range}
				mu.Unlock()
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	unsatisfied := &EngineUnsatisfiedError{Plugin: req.Plugin}
	for _, r := range failed {
		if r != nil {
			unsatisfied.Failed = append(unsatisfied.Failed, *r)
		}
	}
	if len(unsatisfied.Failed) > 0 {
		return unsatisfied
	}
	return nil
}

func (c *Checker) currentVersion(ctx context.Context, req Request, constraint Constraint) (string, bool) {
	if v, ok := req.Known[constraint.Name]; ok {
		return NormalizeVersion(v)
	}
	if constraint.ScriptSrc == "" || c.runner == nil {
		return "", false
	}

	script := constraint.ScriptSrc
	if !filepath.IsAbs(script) {
		script = filepath.Join(req.PluginDir, script)
	}
	result, err := c.runner.Run(ctx, req.PluginDir, script)
	if err != nil || !result.Success() {
		c.debug(ctx, "engine version probe failed", ports.F("engine", constraint.Name), ports.F("script", script), ports.F("error", err))
		return "", false
	}
	return NormalizeVersion(result.Stdout)
}

func (c *Checker) warn(ctx context.Context, msg string, fields ...ports.Field) {
	if c.logger != nil {
		c.logger.Warn(ctx, msg, fields...)
	}
}

func (c *Checker) debug(ctx context.Context, msg string, fields ...ports.Field) {
	if c.logger != nil {
		c.logger.Debug(ctx, msg, fields...)
	}
}
