package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/felixgeelhaar/plugman/internal/domain/engine"
	"github.com/felixgeelhaar/plugman/internal/domain/fetch"
	"github.com/felixgeelhaar/plugman/internal/domain/hooks"
	"github.com/felixgeelhaar/plugman/internal/domain/platform"
	"github.com/felixgeelhaar/plugman/internal/domain/plugin"
	"github.com/felixgeelhaar/plugman/internal/domain/project"
	"github.com/felixgeelhaar/plugman/internal/domain/state"
	"github.com/felixgeelhaar/plugman/internal/ports"
)

// PluginsDirName is the directory below the project root holding plugins
// and their state files.
const PluginsDirName = "plugins"

// ManagerConfig holds the collaborators of a Manager.
type ManagerConfig struct {
	Project  *project.Manifest
	FS       ports.FileSystem
	Runner   ports.CommandRunner
	Git      fetch.GitTransport
	Registry fetch.RegistryTransport
	// Adapters defaults to a registry of polyfill adapters.
	Adapters    *platform.Registry
	Logger      ports.Logger
	ToolVersion string
}

// Manager runs batch plugin operations against one project.
type Manager struct {
	project     *project.Manifest
	pluginsDir  string
	fs          ports.FileSystem
	info        *plugin.InfoProvider
	provider    *fetch.Provider
	store       *state.Store
	adapters    *platform.Registry
	installer   *Installer
	uninstaller *Uninstaller
	bus         *hooks.Bus
	packages    fetch.PackageInfoSource
	toolVersion string
	logger      ports.Logger
}

// NewManager wires the install and uninstall engines for cfg.Project.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Project == nil {
		return nil, project.ErrManifestNotFound
	}

	root := cfg.Project.Root()
	pluginsDir := filepath.Join(root, PluginsDirName)
	info := plugin.NewInfoProvider()
	store := state.NewStore(cfg.FS, pluginsDir)

	adapters := cfg.Adapters
	if adapters == nil {
		versions := cfg.Project.PlatformVersions()
		adapters = platform.NewRegistry(func(name string) platform.Adapter {
			return platform.NewPolyfill(name, versions[name], root, cfg.FS, cfg.Runner)
		})
	}

	bus := hooks.NewBus(hooks.WithBusLogger(cfg.Logger))
	if cfg.Runner != nil {
		if err := hooks.NewScriptRunner(cfg.Runner, root, cfg.Logger).Register(bus, cfg.Project.Hooks); err != nil {
			return nil, err
		}
	}

	providerOpts := []fetch.ProviderOption{fetch.WithProviderLogger(cfg.Logger)}
	if cfg.Git != nil {
		providerOpts = append(providerOpts, fetch.WithGitTransport(cfg.Git))
	}
	if cfg.Registry != nil {
		providerOpts = append(providerOpts, fetch.WithRegistryTransport(cfg.Registry))
	}
	provider := fetch.NewProvider(cfg.FS, info, providerOpts...)

	installerOpts := []InstallerOption{
		WithInstallerLogger(cfg.Logger),
		WithHooks(bus),
		WithEngineChecker(engine.NewChecker(cfg.Runner, engine.WithCheckerLogger(cfg.Logger))),
		WithProjectVersions(engine.ProjectVersions{Tool: cfg.ToolVersion, Platforms: cfg.Project.PlatformVersions()}),
	}
	if resolver, ok := cfg.Git.(TopLevelResolver); ok {
		installerOpts = append(installerOpts, WithGitTopLevel(resolver))
	}

	m := &Manager{
		project:     cfg.Project,
		pluginsDir:  pluginsDir,
		fs:          cfg.FS,
		info:        info,
		provider:    provider,
		store:       store,
		adapters:    adapters,
		installer:   NewInstaller(cfg.FS, provider, info, store, adapters, installerOpts...),
		uninstaller: NewUninstaller(cfg.FS, info, provider.Metadata(), store, adapters, WithUninstallerLogger(cfg.Logger), WithUninstallHooks(bus)),
		bus:         bus,
		toolVersion: cfg.ToolVersion,
		logger:      cfg.Logger,
	}
	if packages, ok := cfg.Registry.(fetch.PackageInfoSource); ok {
		m.packages = packages
	}
	return m, nil
}

// PluginsDir returns the project's plugins directory.
func (m *Manager) PluginsDir() string {
	return m.pluginsDir
}

// AddRequest describes a plugin add batch.
type AddRequest struct {
	Targets     []string
	Platforms   []string
	Variables   map[string]string
	Save        bool
	Force       bool
	Link        bool
	NoHooks     bool
	NoPrepare   bool
	SearchPaths []string
	NoRegistry  bool
}

// RemoveRequest describes a plugin remove batch.
type RemoveRequest struct {
	Targets   []string
	Platforms []string
	Save      bool
	Force     bool
	NoHooks   bool
	NoPrepare bool
}

// TargetResult is the result of one batch target.
type TargetResult struct {
	Target   string
	Plugin   string
	Outcomes []Outcome
	Err      error
}

// BatchResult collects the results of a batch.
type BatchResult struct {
	Targets []TargetResult
	// NeedsPrepare lists the platforms whose adapters asked for Prepare.
	NeedsPrepare []string
	// Prepared lists the platforms Prepare ran for.
	Prepared []string
}

// Add fetches every target once and installs it on each platform in turn.
// A failing target does not stop the others; the failures are returned
// joined after the batch, each wrapped in a *TargetError.
func (m *Manager) Add(ctx context.Context, req AddRequest) (*BatchResult, error) {
	if len(req.Targets) == 0 {
		return nil, ErrNoPluginSpecified
	}
	platforms := req.Platforms
	if len(platforms) == 0 {
		platforms = m.project.PlatformNames()
	}
	if len(platforms) == 0 {
		return nil, ErrNoPlatforms
	}

	searchPaths := append(append([]string(nil), req.SearchPaths...), m.searchPaths()...)
	opID := hooks.NewOperationID()
	ctx = withOperationLogger(ctx, m.logger, opID)
	result := &BatchResult{}
	needsPrepare := make(map[string]bool)
	var errs []error

	for _, target := range req.Targets {
		tr := m.addTarget(ctx, req, target, platforms, searchPaths, opID, needsPrepare)
		result.Targets = append(result.Targets, tr)
		if tr.Err != nil {
			errs = append(errs, &TargetError{Target: target, Err: tr.Err})
		}
	}

	errs = append(errs, m.finish(ctx, result, needsPrepare, req.NoPrepare, req.NoHooks, opID, req.Save)...)
	return result, errors.Join(errs...)
}

func (m *Manager) addTarget(ctx context.Context, req AddRequest, target string, platforms, searchPaths []string, opID string, needsPrepare map[string]bool) TargetResult {
	tr := TargetResult{Target: target}
	reference, saved := m.resolveReference(ctx, target)
	vars := mergeVariables(saved.Variables, req.Variables)

	payload := hooks.Payload{Platforms: platforms, Plugin: &hooks.PluginInfo{ID: fetch.ParseSpec(target).ID}, OperationID: opID}
	if err := m.fire(ctx, req.NoHooks, hooks.BeforePluginAdd, payload); err != nil {
		tr.Err = err
		return tr
	}

	before := m.pluginIDs()
	m.debug(ctx, "fetching plugin", ports.F("reference", reference))
	dir, err := m.provider.Fetch(ctx, reference, m.pluginsDir, fetch.Options{
		Link:        req.Link,
		IsTopLevel:  true,
		Variables:   vars,
		SearchPaths: searchPaths,
		NoRegistry:  req.NoRegistry,
	})
	if err != nil {
		tr.Err = err
		return tr
	}
	desc, err := m.info.Get(dir)
	if err != nil {
		tr.Err = err
		return tr
	}
	tr.Plugin = desc.ID

	for _, p := range platforms {
		outcome := m.installer.Install(ctx, p, dir, InstallOptions{
			Variables:    vars,
			IsTopLevel:   true,
			Force:        req.Force,
			Link:         req.Link,
			SearchPaths:  searchPaths,
			NoRegistry:   req.NoRegistry,
			NoHooks:      req.NoHooks,
			Platforms:    platforms,
			OperationID:  opID,
			NewlyFetched: !before[desc.ID],
		})
		tr.Outcomes = append(tr.Outcomes, outcome)

		switch outcome.Kind {
		case OutcomeFailed:
			tr.Err = outcome.Err
			return tr
		case OutcomeSkipped:
			m.warn(ctx, "plugin skipped", ports.PluginField(desc.ID), ports.PlatformField(p), ports.F("reason", outcome.Reason))
		case OutcomeInstalled:
			if !outcome.PrepareDone {
				needsPrepare[p] = true
			}
		}
	}

	if req.Save {
		m.project.AddPlugin(project.PluginEntry{ID: desc.ID, Spec: saveSpec(target, reference, desc, m.fs), Variables: vars})
	}

	payload.Plugin = &hooks.PluginInfo{ID: desc.ID, Descriptor: desc, Dir: dir}
	if err := m.fire(ctx, req.NoHooks, hooks.AfterPluginAdd, payload); err != nil {
		tr.Err = err
	}
	return tr
}

// Remove uninstalls every target from the platforms that record it.
// Failures are collected like Add.
func (m *Manager) Remove(ctx context.Context, req RemoveRequest) (*BatchResult, error) {
	if len(req.Targets) == 0 {
		return nil, ErrNoPluginSpecified
	}
	platforms := req.Platforms
	if len(platforms) == 0 {
		var err error
		if platforms, err = m.knownPlatforms(); err != nil {
			return nil, err
		}
	}

	opID := hooks.NewOperationID()
	ctx = withOperationLogger(ctx, m.logger, opID)
	result := &BatchResult{}
	needsPrepare := make(map[string]bool)
	var errs []error

	for _, target := range req.Targets {
		id := fetch.ParseSpec(target).ID
		tr := TargetResult{Target: target, Plugin: id}
		payload := hooks.Payload{Platforms: platforms, Plugin: &hooks.PluginInfo{ID: id, Dir: filepath.Join(m.pluginsDir, filepath.FromSlash(id))}, OperationID: opID}

		tr.Err = m.fire(ctx, req.NoHooks, hooks.BeforePluginRm, payload)
		if tr.Err == nil {
			var changed []string
			changed, tr.Err = m.uninstaller.Uninstall(ctx, id, platforms, UninstallOptions{
				Force:       req.Force,
				NoHooks:     req.NoHooks,
				Platforms:   platforms,
				OperationID: opID,
			})
			for _, p := range changed {
				needsPrepare[p] = true
			}
		}
		if tr.Err == nil {
			if req.Save {
				m.project.RemovePlugin(id)
			}
			tr.Err = m.fire(ctx, req.NoHooks, hooks.AfterPluginRm, payload)
		}

		result.Targets = append(result.Targets, tr)
		if tr.Err != nil {
			errs = append(errs, &TargetError{Target: target, Err: tr.Err})
		}
	}

	errs = append(errs, m.finish(ctx, result, needsPrepare, req.NoPrepare, req.NoHooks, opID, req.Save)...)
	return result, errors.Join(errs...)
}

// finish runs the prepare follow-up and saves the project manifest.
func (m *Manager) finish(ctx context.Context, result *BatchResult, needsPrepare map[string]bool, noPrepare, noHooks bool, opID string, save bool) []error {
	var errs []error
	for p := range needsPrepare {
		result.NeedsPrepare = append(result.NeedsPrepare, p)
	}
	sort.Strings(result.NeedsPrepare)

	if !noPrepare {
		for _, p := range result.NeedsPrepare {
			if err := m.Prepare(ctx, p, noHooks, opID); err != nil {
				errs = append(errs, &TargetError{Target: "prepare " + p, Err: err})
				continue
			}
			result.Prepared = append(result.Prepared, p)
		}
	}

	if save {
		if err := m.project.Save(m.fs); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Prepare runs the adapter's prepare step for platformName between the
// prepare lifecycle events.
func (m *Manager) Prepare(ctx context.Context, platformName string, noHooks bool, opID string) error {
	ctx = withOperationLogger(ctx, m.logger, opID)
	adapter, err := m.adapters.Get(platformName)
	if err != nil {
		return err
	}
	payload := hooks.Payload{Platforms: []string{platformName}, OperationID: opID}
	if err := m.fire(ctx, noHooks, hooks.BeforePrepare, payload); err != nil {
		return err
	}
	m.debug(ctx, "preparing platform", ports.PlatformField(platformName))
	if err := adapter.Prepare(ctx); err != nil {
		return err
	}
	return m.fire(ctx, noHooks, hooks.AfterPrepare, payload)
}

// PluginListing describes an installed plugin.
type PluginListing struct {
	ID        string
	Version   string
	Name      string
	TopLevel  bool
	Platforms []string
}

// Listing is the result of List.
type Listing struct {
	Plugins  []PluginListing
	Warnings []string
}

// List returns the plugins in the plugins directory and warns about
// declared dependencies that are not installed.
func (m *Manager) List(ctx context.Context) (*Listing, error) {
	all, err := m.info.All(m.pluginsDir)
	if err != nil {
		return nil, err
	}
	platforms, err := m.store.Platforms()
	if err != nil {
		return nil, err
	}

	listing := &Listing{}
	present := make(map[string]bool, len(all))
	for _, desc := range all {
		present[desc.ID] = true
	}

	for _, desc := range all {
		entry := PluginListing{ID: desc.ID, Version: desc.Version, Name: desc.Name}
		for _, p := range platforms {
			record, err := m.store.Record(p)
			if err != nil {
				return nil, err
			}
			if record.IsPluginInstalled(desc.ID) {
				entry.Platforms = append(entry.Platforms, p)
				entry.TopLevel = entry.TopLevel || record.IsPluginTopLevel(desc.ID)
			}
		}
		listing.Plugins = append(listing.Plugins, entry)

		for _, dep := range desc.AllDependencies() {
			if !present[dep.ID] {
				msg := fmt.Sprintf("missing dependency: plugin %s depends on %s but it is not installed", desc.ID, dep.ID)
				listing.Warnings = append(listing.Warnings, msg)
				m.warn(ctx, msg)
			}
		}
	}

	sort.Slice(listing.Plugins, func(i, j int) bool { return listing.Plugins[i].ID < listing.Plugins[j].ID })
	return listing, nil
}

// Platforms describes the project's platforms.
func (m *Manager) Platforms(ctx context.Context) ([]platform.Info, error) {
	names, err := m.knownPlatforms()
	if err != nil {
		return nil, err
	}
	declared := m.project.PlatformVersions()

	infos := make([]platform.Info, 0, len(names))
	for _, name := range names {
		adapter, err := m.adapters.Get(name)
		if err != nil {
			return nil, err
		}
		info, err := adapter.PlatformInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform %s: %w", name, err)
		}
		if info.Version == "" {
			info.Version = declared[name]
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Print writes a human-readable summary of the batch to out.
func (r *BatchResult) Print(out io.Writer) {
	for _, t := range r.Targets {
		name := t.Plugin
		if name == "" {
			name = t.Target
		}
		if t.Err != nil {
			_, _ = fmt.Fprintf(out, "  ✗ %s: %v\n", name, t.Err)
			continue
		}
		for _, o := range t.Outcomes {
			switch o.Kind {
			case OutcomeInstalled:
				if o.Reason != "" {
					_, _ = fmt.Fprintf(out, "  ✓ %s on %s (%s)\n", name, o.Platform, o.Reason)
				} else {
					_, _ = fmt.Fprintf(out, "  ✓ %s on %s\n", name, o.Platform)
				}
			case OutcomeSkipped:
				_, _ = fmt.Fprintf(out, "  - %s on %s (skipped)\n", name, o.Platform)
			case OutcomeFailed:
				_, _ = fmt.Fprintf(out, "  ✗ %s on %s: %v\n", name, o.Platform, o.Err)
			}
		}
		if len(t.Outcomes) == 0 {
			_, _ = fmt.Fprintf(out, "  ✓ %s\n", name)
		}
	}
	for _, p := range r.Prepared {
		_, _ = fmt.Fprintf(out, "  prepared %s\n", p)
	}
}

// resolveReference returns the fetch reference for target and the
// project entry saved for it. A bare registry id picks up the saved spec,
// or the highest version whose engine requirements the project meets.
func (m *Manager) resolveReference(ctx context.Context, target string) (string, project.PluginEntry) {
	spec := fetch.ParseSpec(target)
	entry, _ := m.project.Plugin(spec.ID)

	if !isRegistryID(target, m.fs) || spec.Version != "" {
		return target, entry
	}
	if entry.Spec != "" {
		if engine.ValidRange(entry.Spec) {
			return spec.ID + "@" + entry.Spec, entry
		}
		return entry.Spec, entry
	}
	if m.packages == nil {
		return target, entry
	}

	pkg, err := m.packages.PackageInfo(ctx, spec.ID)
	if err != nil {
		m.debug(ctx, "no package info for version selection", ports.PluginField(spec.ID), ports.F("error", err))
		return target, entry
	}
	sel := engine.SelectVersion(pkg, m.projectVersions())
	for _, note := range sel.Notes {
		m.debug(ctx, note, ports.PluginField(spec.ID))
	}
	for _, w := range sel.Warnings {
		m.warn(ctx, w, ports.PluginField(spec.ID))
	}
	if sel.Version == "" {
		return target, entry
	}
	return spec.ID + "@" + sel.Version, entry
}

func (m *Manager) projectVersions() engine.ProjectVersions {
	plugins := make(map[string]string)
	if all, err := m.info.All(m.pluginsDir); err == nil {
		for _, d := range all {
			plugins[d.ID] = d.Version
		}
	}
	return engine.ProjectVersions{Tool: m.toolVersion, Platforms: m.project.PlatformVersions(), Plugins: plugins}
}

func (m *Manager) pluginIDs() map[string]bool {
	ids := make(map[string]bool)
	if all, err := m.info.All(m.pluginsDir); err == nil {
		for _, d := range all {
			ids[d.ID] = true
		}
	}
	return ids
}

// knownPlatforms merges the declared platforms with those that have a record.
func (m *Manager) knownPlatforms() ([]string, error) {
	recorded, err := m.store.Platforms()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	for _, name := range append(m.project.PlatformNames(), recorded...) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

func (m *Manager) searchPaths() []string {
	paths := make([]string, 0, len(m.project.SearchPaths))
	for _, p := range m.project.SearchPaths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(m.project.Root(), p)
		}
		paths = append(paths, p)
	}
	return paths
}

func (m *Manager) fire(ctx context.Context, disabled bool, event hooks.Event, payload hooks.Payload) error {
	if disabled {
		return nil
	}
	return m.bus.Fire(ctx, event, payload)
}

func (m *Manager) debug(ctx context.Context, msg string, fields ...ports.Field) {
	if logger := loggerFor(ctx, m.logger); logger != nil {
		logger.Debug(ctx, msg, fields...)
	}
}

func (m *Manager) warn(ctx context.Context, msg string, fields ...ports.Field) {
	if logger := loggerFor(ctx, m.logger); logger != nil {
		logger.Warn(ctx, msg, fields...)
	}
}

// isRegistryID reports whether target names a registry package rather
// than a directory or URL.
func isRegistryID(target string, fs ports.FileSystem) bool {
	if fetch.IsGitURL(target) || fs.IsDir(target) {
		return false
	}
	if _, _, _, ok := fetch.SplitHashURL(target); ok {
		return false
	}
	return !filepath.IsAbs(target) && !hasPathPrefix(target)
}

func hasPathPrefix(target string) bool {
	for _, prefix := range []string{"./", "../", ".\\", "..\\", "~/"} {
		if strings.HasPrefix(target, prefix) {
			return true
		}
	}
	return false
}

// saveSpec is what project.yaml records for an added plugin: the requested
// range, or a caret range on the fetched version, for registry ids and the
// reference otherwise.
func saveSpec(target, reference string, desc *plugin.Descriptor, fs ports.FileSystem) string {
	if !isRegistryID(reference, fs) {
		return reference
	}
	if v := fetch.ParseSpec(target).Version; v != "" {
		return v
	}
	return "^" + desc.Version
}

func mergeVariables(saved, cli map[string]string) map[string]string {
	merged := make(map[string]string, len(saved)+len(cli))
	for k, v := range saved {
		merged[k] = v
	}
	for k, v := range cli {
		merged[k] = v
	}
	return merged
}
