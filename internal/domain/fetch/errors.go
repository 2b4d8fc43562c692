package fetch

import (
	"errors"
	"fmt"
)

// ErrRegistryDisabled indicates a registry lookup was needed while the
// registry is turned off.
var ErrRegistryDisabled = errors.New("plugin not found locally and registry access is disabled")

// FetchError indicates a plugin reference could not be fetched.
//
//nolint:revive // fetch.FetchError reads better at call sites in other packages
type FetchError struct {
	Reference string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch plugin %s: %v", e.Reference, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// PluginIdentityMismatchError indicates the fetched plugin is not the one
// the caller asked for.
type PluginIdentityMismatchError struct {
	Expected        string
	ExpectedVersion string
	ActualID        string
	ActualVersion   string
}

func (e *PluginIdentityMismatchError) Error() string {
	if e.Expected != e.ActualID {
		return fmt.Sprintf("expected plugin to have ID %q but got %q", e.Expected, e.ActualID)
	}
	return fmt.Sprintf("expected plugin %s to satisfy version %q but got %q", e.ActualID, e.ExpectedVersion, e.ActualVersion)
}

// GitNotFoundError indicates git is not installed or not in PATH.
type GitNotFoundError struct{}

func (e *GitNotFoundError) Error() string {
	return "git not found: please install git and ensure it is in your PATH"
}

// GitCloneError indicates a git operation failed.
type GitCloneError struct {
	URL    string
	Reason string
}

func (e *GitCloneError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("git clone failed for %s: %s", e.URL, e.Reason)
	}
	return fmt.Sprintf("git clone failed for %s", e.URL)
}

// IsFetchError returns true if the error is a fetch failure.
func IsFetchError(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}

// IsIdentityMismatch returns true if the fetched plugin had the wrong id or version.
func IsIdentityMismatch(err error) bool {
	var mismatchErr *PluginIdentityMismatchError
	return errors.As(err, &mismatchErr)
}

// IsGitNotFound returns true if the error indicates git is not available.
func IsGitNotFound(err error) bool {
	var gitErr *GitNotFoundError
	return errors.As(err, &gitErr)
}

// IsGitCloneError returns true if the error is a git failure.
func IsGitCloneError(err error) bool {
	var cloneErr *GitCloneError
	return errors.As(err, &cloneErr)
}
