package app

import (
	"context"
	"path/filepath"

	"github.com/felixgeelhaar/plugman/internal/domain/fetch"
	"github.com/felixgeelhaar/plugman/internal/domain/graph"
	"github.com/felixgeelhaar/plugman/internal/domain/hooks"
	"github.com/felixgeelhaar/plugman/internal/domain/platform"
	"github.com/felixgeelhaar/plugman/internal/domain/plugin"
	"github.com/felixgeelhaar/plugman/internal/domain/state"
	"github.com/felixgeelhaar/plugman/internal/ports"
)

// UninstallOptions control an uninstall.
type UninstallOptions struct {
	// Force removes plugins other top-level plugins still depend on.
	Force       bool
	NoHooks     bool
	Platforms   []string
	OperationID string
}

// Uninstaller removes plugins and the dependencies nothing else needs.
type Uninstaller struct {
	pluginsDir  string
	projectRoot string
	fs          ports.FileSystem
	info        *plugin.InfoProvider
	metadata    *fetch.MetadataStore
	store       *state.Store
	adapters    *platform.Registry
	bus         *hooks.Bus
	logger      ports.Logger
}

// UninstallerOption configures an Uninstaller.
type UninstallerOption func(*Uninstaller)

// WithUninstallerLogger sets the logger.
func WithUninstallerLogger(logger ports.Logger) UninstallerOption {
	return func(u *Uninstaller) {
		u.logger = logger
	}
}

// WithUninstallHooks sets the lifecycle event bus.
func WithUninstallHooks(bus *hooks.Bus) UninstallerOption {
	return func(u *Uninstaller) {
		u.bus = bus
	}
}

// NewUninstaller creates an Uninstaller for the project owning store's plugins directory.
func NewUninstaller(fs ports.FileSystem, info *plugin.InfoProvider, metadata *fetch.MetadataStore, store *state.Store, adapters *platform.Registry, opts ...UninstallerOption) *Uninstaller {
	u := &Uninstaller{
		pluginsDir:  store.PluginsDir(),
		projectRoot: filepath.Dir(store.PluginsDir()),
		fs:          fs,
		info:        info,
		metadata:    metadata,
		store:       store,
		adapters:    adapters,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Uninstall removes id from every given platform that records it, then
// deletes the directories no platform references any more. It returns the
// platforms that changed. Every platform is checked before any is touched,
// so a blocked removal leaves all of them as they were.
func (u *Uninstaller) Uninstall(ctx context.Context, id string, platforms []string, opts UninstallOptions) ([]string, error) {
	if err := u.checkInstalled(id); err != nil {
		return nil, err
	}
	if opts.OperationID == "" {
		opts.OperationID = hooks.NewOperationID()
	}
	ctx = withOperationLogger(ctx, u.logger, opts.OperationID)

	plans := make([]*platformPlan, 0, len(platforms))
	for _, p := range platforms {
		plan, err := u.plan(ctx, p, id, opts)
		if err != nil {
			return nil, err
		}
		if plan != nil {
			plans = append(plans, plan)
		}
	}

	var changed []string
	for _, plan := range plans {
		removed, err := u.apply(ctx, plan, opts)
		if err != nil {
			return changed, err
		}
		if len(removed) > 0 {
			changed = append(changed, plan.record.Platform())
		}
	}
	return changed, u.UninstallPlugin(ctx, id, opts)
}

// UninstallPlatform removes id and its danglers from platformName,
// leaves first and id last. It returns the removed ids in removal order.
func (u *Uninstaller) UninstallPlatform(ctx context.Context, platformName, id string, opts UninstallOptions) ([]string, error) {
	if err := u.checkInstalled(id); err != nil {
		return nil, err
	}
	plan, err := u.plan(ctx, platformName, id, opts)
	if err != nil || plan == nil {
		return nil, err
	}
	return u.apply(ctx, plan, opts)
}

// platformPlan is the removal order of one plugin on one platform.
type platformPlan struct {
	record *state.Record
	order  []string
}

// plan works out what removing id touches on platformName without changing
// anything. A nil plan means the platform does not record id.
//
// Only danglers are removed with id. Force overrides the dependents check
// on id itself; dependencies other top-level plugins still need are kept.
func (u *Uninstaller) plan(ctx context.Context, platformName, id string, opts UninstallOptions) (*platformPlan, error) {
	record, err := u.store.Record(platformName)
	if err != nil {
		return nil, err
	}
	if !record.IsPluginInstalled(id) {
		u.debug(ctx, "plugin is not installed on platform", ports.PluginField(id), ports.PlatformField(platformName))
		return nil, nil
	}

	g, err := graph.FromRecord(record.Installed(), u.dependencyLister(platformName))
	if err != nil {
		return nil, err
	}
	topLevel := record.TopLevel()

	if dependents := g.Dependents(id, topLevel); len(dependents) > 0 {
		if !opts.Force {
			return nil, &RequiredDependencyError{Plugin: id, Dependents: dependents}
		}
		u.warn(ctx, "plugin is required by other plugins but forcing removal",
			ports.PluginField(id), ports.PlatformField(platformName), ports.F("dependents", dependents))
	}

	danglers := make(map[string]bool)
	for _, d := range g.Danglers(id, topLevel) {
		danglers[d] = true
	}

	plan := &platformPlan{record: record}
	for _, candidate := range g.Chain(id) {
		if !record.IsPluginInstalled(candidate) || record.IsPluginTopLevel(candidate) {
			continue
		}
		if !danglers[candidate] {
			u.warn(ctx, "keeping dependency still required by other plugins",
				ports.PluginField(candidate), ports.F("dependents", without(g.Dependents(candidate, topLevel), id)))
			continue
		}
		plan.order = append(plan.order, candidate)
	}
	plan.order = append(plan.order, id)
	return plan, nil
}

func (u *Uninstaller) apply(ctx context.Context, plan *platformPlan, opts UninstallOptions) ([]string, error) {
	adapter, err := u.adapters.Get(plan.record.Platform())
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, target := range plan.order {
		if err := u.removeFromPlatform(ctx, adapter, plan.record, target, opts); err != nil {
			return removed, err
		}
		removed = append(removed, target)
	}
	return removed, nil
}

func (u *Uninstaller) removeFromPlatform(ctx context.Context, adapter platform.Adapter, record *state.Record, id string, opts UninstallOptions) error {
	dir := u.pluginDir(id)
	desc, err := u.info.Get(dir)
	if err != nil {
		return err
	}

	payload := hooks.Payload{
		Platforms:   opts.Platforms,
		Plugin:      &hooks.PluginInfo{ID: id, Descriptor: desc, Platform: record.Platform(), Dir: dir},
		OperationID: opts.OperationID,
	}
	if err := u.fire(ctx, opts.NoHooks, hooks.BeforePluginUninstall, payload); err != nil {
		return err
	}

	u.debug(ctx, "uninstalling plugin from platform", ports.PluginField(id), ports.PlatformField(record.Platform()))
	if err := adapter.RemovePlugin(ctx, desc, platform.InstallOptions{
		ProjectRoot: u.projectRoot,
		PluginsDir:  u.pluginsDir,
		Variables:   record.Variables(id),
		IsTopLevel:  record.IsPluginTopLevel(id),
		Force:       opts.Force,
	}); err != nil {
		return err
	}

	record.RemovePlugin(id, record.IsPluginTopLevel(id))
	if err := record.Save(); err != nil {
		return err
	}
	return u.fire(ctx, opts.NoHooks, hooks.AfterPluginUninstall, payload)
}

// UninstallPlugin deletes the directories of id and its dependencies once no
// platform record references them and no remaining plugin declares them.
func (u *Uninstaller) UninstallPlugin(ctx context.Context, id string, opts UninstallOptions) error {
	if err := u.checkInstalled(id); err != nil {
		return err
	}

	toDelete := []string{id}
	seen := map[string]bool{id: true}
	for i := 0; i < len(toDelete); i++ {
		desc, err := u.info.Get(u.pluginDir(toDelete[i]))
		if err != nil {
			continue
		}
		for _, dep := range desc.AllDependencies() {
			if seen[dep.ID] || !plugin.IsValidID(dep.ID) {
				continue
			}
			// Only a directory holding the declared plugin is ours to delete.
			if installed, err := u.info.Get(u.pluginDir(dep.ID)); err == nil && installed.ID == dep.ID {
				seen[dep.ID] = true
				toDelete = append(toDelete, dep.ID)
			}
		}
	}

	required, err := u.requiredByRemaining(seen)
	if err != nil {
		return err
	}

	for i := len(toDelete) - 1; i >= 0; i-- {
		candidate := toDelete[i]
		referenced, err := u.store.IsReferenced(candidate)
		if err != nil {
			return err
		}
		if referenced {
			u.debug(ctx, "keeping plugin directory still referenced by a platform", ports.PluginField(candidate))
			continue
		}
		if by := required[candidate]; len(by) > 0 && (candidate != id || !opts.Force) {
			u.warn(ctx, "keeping plugin directory required by other plugins", ports.PluginField(candidate), ports.F("dependents", by))
			continue
		}
		if err := u.removeDir(ctx, candidate); err != nil {
			return err
		}
	}
	return nil
}

// requiredByRemaining maps plugins in removing to the plugins outside it
// that declare them as dependencies.
func (u *Uninstaller) requiredByRemaining(removing map[string]bool) (map[string][]string, error) {
	all, err := u.info.All(u.pluginsDir)
	if err != nil {
		return nil, err
	}
	required := make(map[string][]string)
	for _, desc := range all {
		if removing[desc.ID] {
			continue
		}
		for _, dep := range desc.AllDependencies() {
			if removing[dep.ID] {
				required[dep.ID] = append(required[dep.ID], desc.ID)
			}
		}
	}
	return required, nil
}

func (u *Uninstaller) removeDir(ctx context.Context, id string) error {
	dir := u.pluginDir(id)
	if err := u.fs.RemoveAll(dir); err != nil {
		return err
	}
	u.info.Invalidate(dir)
	if err := u.metadata.Remove(u.pluginsDir, id); err != nil {
		return err
	}
	u.debug(ctx, "removed plugin directory", ports.PluginField(id), ports.F("dir", dir))
	return nil
}

// dependencyLister reads declared dependencies from the on-disk descriptors.
// A plugin whose directory is gone has no dependencies.
func (u *Uninstaller) dependencyLister(platformName string) graph.DependencyLister {
	return func(id string) ([]string, error) {
		desc, err := u.info.Get(u.pluginDir(id))
		if err != nil {
			if plugin.IsInvalidPlugin(err) {
				return nil, nil
			}
			return nil, err
		}
		deps := desc.DependenciesFor(platformName)
		ids := make([]string, 0, len(deps))
		for _, d := range deps {
			ids = append(ids, d.ID)
		}
		return ids, nil
	}
}

func (u *Uninstaller) checkInstalled(id string) error {
	dir := u.pluginDir(id)
	if !plugin.IsValidID(id) || !plugin.HasManifest(dir) {
		return &NotInstalledError{Plugin: id, Dir: dir}
	}
	return nil
}

func (u *Uninstaller) pluginDir(id string) string {
	return filepath.Join(u.pluginsDir, filepath.FromSlash(id))
}

func (u *Uninstaller) fire(ctx context.Context, disabled bool, event hooks.Event, payload hooks.Payload) error {
	if disabled || u.bus == nil {
		return nil
	}
	return u.bus.Fire(ctx, event, payload)
}

func (u *Uninstaller) debug(ctx context.Context, msg string, fields ...ports.Field) {
	if logger := loggerFor(ctx, u.logger); logger != nil {
		logger.Debug(ctx, msg, fields...)
	}
}

func (u *Uninstaller) warn(ctx context.Context, msg string, fields ...ports.Field) {
	if logger := loggerFor(ctx, u.logger); logger != nil {
		logger.Warn(ctx, msg, fields...)
	}
}

func without(list []string, id string) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item != id {
			out = append(out, item)
		}
	}
	return out
}
