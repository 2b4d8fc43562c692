// Package hooks provides the lifecycle event bus fired around plugin
// operations and the runner for project-declared hook commands.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/plugman/internal/domain/plugin"
	"github.com/felixgeelhaar/plugman/internal/ports"
)

// Event names a lifecycle point.
type Event string

const (
	BeforePluginInstall   Event = "before_plugin_install"
	AfterPluginInstall    Event = "after_plugin_install"
	BeforePluginUninstall Event = "before_plugin_uninstall"
	AfterPluginUninstall  Event = "after_plugin_uninstall"
	BeforePluginAdd       Event = "before_plugin_add"
	AfterPluginAdd        Event = "after_plugin_add"
	BeforePluginRm        Event = "before_plugin_rm"
	AfterPluginRm         Event = "after_plugin_rm"
	BeforePrepare         Event = "before_prepare"
	AfterPrepare          Event = "after_prepare"
)

// Events lists every event in lifecycle order.
func Events() []Event {
	return []Event{
		BeforePluginAdd, BeforePluginInstall, AfterPluginInstall, AfterPluginAdd,
		BeforePluginRm, BeforePluginUninstall, AfterPluginUninstall, AfterPluginRm,
		BeforePrepare, AfterPrepare,
	}
}

// IsValid reports whether e is a known event.
func (e Event) IsValid() bool {
	for _, known := range Events() {
		if e == known {
			return true
		}
	}
	return false
}

// PluginInfo identifies the plugin an event concerns.
type PluginInfo struct {
	ID         string
	Descriptor *plugin.Descriptor
	Platform   string
	Dir        string
}

// Payload is passed to every handler.
type Payload struct {
	Platforms   []string
	Plugin      *PluginInfo
	OperationID string
}

// Handler reacts to an event. A returned error fails the operation.
type Handler func(ctx context.Context, event Event, payload Payload) error

// Bus dispatches events to handlers in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
	disabled bool
	logger   ports.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger sets the logger.
func WithBusLogger(logger ports.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// Disabled makes Fire a no-op, as with --nohooks.
func Disabled() BusOption {
	return func(b *Bus) {
		b.disabled = true
	}
}

// NewBus creates an empty Bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{handlers: make(map[Event][]Handler)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe appends handler to the handlers of event.
func (b *Bus) Subscribe(event Event, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// Fire runs the handlers of event and stops at the first error.
func (b *Bus) Fire(ctx context.Context, event Event, payload Payload) error {
	if b == nil || b.disabled {
		return nil
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[event]...)
	b.mu.RUnlock()

	if b.logger != nil && len(handlers) > 0 {
		fields := []ports.Field{ports.F("event", string(event)), ports.F("operation", payload.OperationID)}
		if payload.Plugin != nil {
			fields = append(fields, ports.PluginField(payload.Plugin.ID))
		}
		b.logger.Debug(ctx, "firing hooks", fields...)
	}

	for _, h := range handlers {
		if err := h(ctx, event, payload); err != nil {
			return fmt.Errorf("%s hook failed: %w", event, err)
		}
	}
	return nil
}

// NewOperationID returns a unique id tying together the events of one
// top-level operation.
func NewOperationID() string {
	return uuid.NewString()
}
