package app

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoPluginSpecified is returned when add or remove gets no targets.
var ErrNoPluginSpecified = errors.New("no plugin specified. Please specify a plugin to add or remove")

// ErrNoPlatforms is returned when the project has no platforms to install to.
var ErrNoPlatforms = errors.New("no platforms added to this project. Add one to project.yaml first")

// InstallError records the stage a plugin-platform install reached before failing.
type InstallError struct {
	Plugin   string
	Platform string
	Stage    Stage
	Err      error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("installing %s on %s failed after %s: %v", e.Plugin, e.Platform, e.Stage, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// MissingVariablesError lists preferences without a value or default.
type MissingVariablesError struct {
	Plugin string
	Names  []string
}

func (e *MissingVariablesError) Error() string {
	return fmt.Sprintf("variable(s) missing for %s: %s", e.Plugin, strings.Join(e.Names, ", "))
}

// VersionConflictError indicates an installed dependency outside the required range.
type VersionConflictError struct {
	Plugin     string
	Dependency string
	Installed  string
	Required   string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version of installed plugin %q does not satisfy dependency requirement %q of %s. Try --force to use the installed plugin as the dependency",
		e.Dependency+"@"+e.Installed, e.Dependency+"@"+e.Required, e.Plugin)
}

// RequiredDependencyError indicates top-level plugins still need the plugin being removed.
type RequiredDependencyError struct {
	Plugin     string
	Dependents []string
}

func (e *RequiredDependencyError) Error() string {
	return fmt.Sprintf("the plugin %q is required by (%s), skipping uninstallation (try --force if trying to update)",
		e.Plugin, strings.Join(e.Dependents, ", "))
}

// NotInstalledError indicates the plugin directory does not exist.
type NotInstalledError struct {
	Plugin string
	Dir    string
}

func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("plugin %q is not installed (no directory at %s)", e.Plugin, e.Dir)
}

// TargetError attributes a batch failure to the target that caused it.
type TargetError struct {
	Target string
	Err    error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("%s: %v", e.Target, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

// IsInstallError returns true if the error carries an install stage.
func IsInstallError(err error) bool {
	var installErr *InstallError
	return errors.As(err, &installErr)
}

// IsMissingVariables returns true if the error is a missing variables error.
func IsMissingVariables(err error) bool {
	var missingErr *MissingVariablesError
	return errors.As(err, &missingErr)
}

// IsVersionConflict returns true if the error is a dependency version conflict.
func IsVersionConflict(err error) bool {
	var conflictErr *VersionConflictError
	return errors.As(err, &conflictErr)
}

// IsRequiredDependency returns true if removal was blocked by dependents.
func IsRequiredDependency(err error) bool {
	var requiredErr *RequiredDependencyError
	return errors.As(err, &requiredErr)
}

// IsNotInstalled returns true if the error is a not installed error.
func IsNotInstalled(err error) bool {
	var notInstalledErr *NotInstalledError
	return errors.As(err, &notInstalledErr)
}
