// Package platform defines the native platform adapter interface and the
// registry that selects an adapter by platform name.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/felixgeelhaar/plugman/internal/domain/plugin"
)

// InstallOptions are passed to an adapter when a plugin is added or removed.
type InstallOptions struct {
	ProjectRoot string
	PluginsDir  string
	Variables   map[string]string
	IsTopLevel  bool
	Force       bool
	Link        bool
}

// BuildOptions are passed to Build and Run.
type BuildOptions struct {
	Release bool
	Args    []string
}

// Info describes an installed platform.
type Info struct {
	Name    string
	Version string
	Root    string
}

// Adapter manipulates one native platform project.
type Adapter interface {
	// AddPlugin installs the plugin's native parts. It reports whether the
	// platform is already prepared; false means Prepare must run.
	AddPlugin(ctx context.Context, desc *plugin.Descriptor, opts InstallOptions) (bool, error)
	RemovePlugin(ctx context.Context, desc *plugin.Descriptor, opts InstallOptions) error
	Build(ctx context.Context, opts BuildOptions) error
	Run(ctx context.Context, opts BuildOptions) error
	Prepare(ctx context.Context) error
	PlatformInfo(ctx context.Context) (Info, error)
}

// UnsupportedError indicates an adapter cannot perform an operation.
type UnsupportedError struct {
	Platform  string
	Operation string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("platform %s does not support %s", e.Platform, e.Operation)
}

// IsUnsupported returns true if the error is an unsupported operation.
func IsUnsupported(err error) bool {
	var unsupportedErr *UnsupportedError
	return errors.As(err, &unsupportedErr)
}

// Factory builds the adapter for a platform without a registered one.
type Factory func(name string) Adapter

// Registry maps platform names to adapters.
type Registry struct {
	mu       sync.Mutex
	adapters map[string]Adapter
	fallback Factory
}

// NewRegistry creates a registry using fallback for unknown platforms.
func NewRegistry(fallback Factory) *Registry {
	return &Registry{adapters: make(map[string]Adapter), fallback: fallback}
}

// Register sets the adapter for name.
func (r *Registry) Register(name string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = adapter
}

// Get returns the adapter for name, building a fallback adapter the first
// time an unknown platform is requested.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.adapters[name]; ok {
		return a, nil
	}
	if r.fallback == nil {
		return nil, fmt.Errorf("no adapter registered for platform %q", name)
	}
	a := r.fallback(name)
	r.adapters[name] = a
	return a, nil
}

// Names returns the platforms with an adapter, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
