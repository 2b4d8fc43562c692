package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// ErrManifestNotFound indicates plugin.yaml was not found.
var ErrManifestNotFound = errors.New("plugin.yaml not found")

// ValidationError collects multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0]
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Errors, "; "))
}

// Add adds an error message to the collection.
func (e *ValidationError) Add(msg string) {
	e.Errors = append(e.Errors, msg)
}

// Addf adds a formatted error message to the collection.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are validation errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// InvalidPluginError indicates a directory that does not hold a usable plugin.
type InvalidPluginError struct {
	Dir string
	Err error
}

func (e *InvalidPluginError) Error() string {
	return fmt.Sprintf("invalid plugin at %s: %v", e.Dir, e.Err)
}

func (e *InvalidPluginError) Unwrap() error {
	return e.Err
}

// ManifestSizeError indicates a manifest exceeds the size limit.
type ManifestSizeError struct {
	Size  int64
	Limit int64
}

func (e *ManifestSizeError) Error() string {
	return fmt.Sprintf("manifest size %d bytes exceeds limit of %d bytes", e.Size, e.Limit)
}

// IsValidationError returns true if the error is a validation error.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// IsInvalidPlugin returns true if the error indicates a directory without a valid plugin.
func IsInvalidPlugin(err error) bool {
	var invalidErr *InvalidPluginError
	return errors.As(err, &invalidErr)
}

// IsManifestSizeError returns true if the error is a manifest size violation.
func IsManifestSizeError(err error) bool {
	var sizeErr *ManifestSizeError
	return errors.As(err, &sizeErr)
}
