package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Requirement is an engine requirement the project does not meet.
type Requirement struct {
	Dependency string
	Installed  string
	Required   string
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s (current version: %s, required: %s)", r.Dependency, r.Installed, r.Required)
}

// EngineUnsatisfiedError indicates a plugin's engine constraints are not met.
// Callers treat it as a skip rather than a hard failure.
type EngineUnsatisfiedError struct {
	Plugin string
	Failed []Requirement
}

func (e *EngineUnsatisfiedError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, r := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %s, failed version requirement: %s", r.Dependency, r.Installed, r.Required))
	}
	subject := "plugin"
	if e.Plugin != "" {
		subject = fmt.Sprintf("plugin %q", e.Plugin)
	}
	return fmt.Sprintf("%s does not support this project's engine versions: %s", subject, strings.Join(parts, "; "))
}

// IsEngineUnsatisfied returns true if the error is an unmet engine constraint.
func IsEngineUnsatisfied(err error) bool {
	var engineErr *EngineUnsatisfiedError
	return errors.As(err, &engineErr)
}
