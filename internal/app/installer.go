// Package app wires the domain packages into the plugin install, uninstall
// and batch operations.
package app

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/felixgeelhaar/plugman/internal/domain/engine"
	"github.com/felixgeelhaar/plugman/internal/domain/fetch"
	"github.com/felixgeelhaar/plugman/internal/domain/graph"
	"github.com/felixgeelhaar/plugman/internal/domain/hooks"
	"github.com/felixgeelhaar/plugman/internal/domain/platform"
	"github.com/felixgeelhaar/plugman/internal/domain/plugin"
	"github.com/felixgeelhaar/plugman/internal/domain/state"
	"github.com/felixgeelhaar/plugman/internal/ports"
)

// OutcomeKind tags the result of installing a plugin on a platform.
type OutcomeKind string

const (
	OutcomeInstalled OutcomeKind = "installed"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the result of one plugin-platform install.
type Outcome struct {
	Kind     OutcomeKind
	Plugin   string
	Platform string
	Stage    Stage
	// Reason explains a skip or a no-op install.
	Reason string
	Err    error
	// PrepareDone is the adapter's report; false means Prepare must run.
	PrepareDone bool
}

// Failed reports whether the install failed.
func (o Outcome) Failed() bool {
	return o.Kind == OutcomeFailed
}

// InstallOptions control a top-level install.
type InstallOptions struct {
	Variables   map[string]string
	IsTopLevel  bool
	Force       bool
	Link        bool
	SearchPaths []string
	NoRegistry  bool
	NoHooks     bool
	Platforms   []string
	OperationID string
	// NewlyFetched marks the plugin directory as created by the current
	// operation. Only then is it removed again when the install fails on
	// missing variables, a version conflict or a dependency cycle.
	NewlyFetched bool
}

// TopLevelResolver finds the repository root of a local checkout.
type TopLevelResolver interface {
	TopLevel(ctx context.Context, dir string) (string, error)
}

// Installer installs plugins and their dependencies on one platform at a time.
type Installer struct {
	pluginsDir  string
	projectRoot string
	fs          ports.FileSystem
	info        *plugin.InfoProvider
	provider    *fetch.Provider
	store       *state.Store
	adapters    *platform.Registry
	checker     *engine.Checker
	bus         *hooks.Bus
	git         TopLevelResolver
	versions    engine.ProjectVersions
	logger      ports.Logger
}

// InstallerOption configures an Installer.
type InstallerOption func(*Installer)

// WithInstallerLogger sets the logger.
func WithInstallerLogger(logger ports.Logger) InstallerOption {
	return func(in *Installer) {
		in.logger = logger
	}
}

// WithEngineChecker sets the engine checker.
func WithEngineChecker(checker *engine.Checker) InstallerOption {
	return func(in *Installer) {
		in.checker = checker
	}
}

// WithHooks sets the lifecycle event bus.
func WithHooks(bus *hooks.Bus) InstallerOption {
	return func(in *Installer) {
		in.bus = bus
	}
}

// WithGitTopLevel sets the resolver used for same-repository dependencies
// of locally fetched plugins.
func WithGitTopLevel(resolver TopLevelResolver) InstallerOption {
	return func(in *Installer) {
		in.git = resolver
	}
}

// WithProjectVersions sets the tool and platform versions engines are checked against.
func WithProjectVersions(versions engine.ProjectVersions) InstallerOption {
	return func(in *Installer) {
		in.versions = versions
	}
}

// NewInstaller creates an Installer for the project owning store's plugins directory.
func NewInstaller(fs ports.FileSystem, provider *fetch.Provider, info *plugin.InfoProvider, store *state.Store, adapters *platform.Registry, opts ...InstallerOption) *Installer {
	in := &Installer{
		pluginsDir:  store.PluginsDir(),
		projectRoot: filepath.Dir(store.PluginsDir()),
		fs:          fs,
		info:        info,
		provider:    provider,
		store:       store,
		adapters:    adapters,
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.checker == nil {
		in.checker = engine.NewChecker(nil, engine.WithCheckerLogger(in.logger))
	}
	return in
}

// operation is the state shared by a top-level install and its dependencies.
type operation struct {
	platform string
	opts     InstallOptions
	graph    *graph.Graph
	handled  map[string]bool
	fetched  []string
	topID    string
	topDir   string
}

// created reports whether dir was placed in the plugins directory by op.
// Only those directories are removed when the operation fails.
func (op *operation) created(dir string) bool {
	dir = filepath.Clean(dir)
	for _, fetched := range op.fetched {
		if filepath.Clean(fetched) == dir {
			return true
		}
	}
	return false
}

// Install installs the plugin in pluginDir, and its dependencies, on platformName.
func (in *Installer) Install(ctx context.Context, platformName, pluginDir string, opts InstallOptions) Outcome {
	if opts.OperationID == "" {
		opts.OperationID = hooks.NewOperationID()
	}
	ctx = withOperationLogger(ctx, in.logger, opts.OperationID)

	op := &operation{
		platform: platformName,
		opts:     opts,
		graph:    graph.New(),
		handled:  make(map[string]bool),
		topDir:   pluginDir,
	}
	if desc, err := in.info.Get(pluginDir); err == nil {
		op.topID = desc.ID
	}
	if opts.NewlyFetched {
		op.fetched = append(op.fetched, pluginDir)
	}

	outcome := in.install(ctx, op, pluginDir, opts.IsTopLevel)
	if outcome.Failed() && graph.IsCyclicDependency(outcome.Err) {
		in.rollback(ctx, op)
	}
	return outcome
}

func (in *Installer) install(ctx context.Context, op *operation, dir string, isTopLevel bool) Outcome {
	desc, err := in.info.Get(dir)
	if err != nil {
		return failedOutcome(filepath.Base(dir), op.platform, &InstallError{
			Plugin: filepath.Base(dir), Platform: op.platform, Stage: StageNotFetched, Err: err,
		})
	}

	tracker, err := newStageTracker(desc.ID, op.platform)
	if err != nil {
		return failedOutcome(desc.ID, op.platform, err)
	}
	defer tracker.stop()

	tracker.advance(eventFetched)
	op.handled[desc.ID] = true
	fail := func(err error) Outcome {
		return failedOutcome(desc.ID, op.platform, tracker.fail(err))
	}

	record, err := in.store.Record(op.platform)
	if err != nil {
		return fail(err)
	}
	if record.IsPluginInstalled(desc.ID) {
		if err := in.alreadyInstalled(ctx, record, desc, op.platform, isTopLevel); err != nil {
			return fail(err)
		}
		tracker.advance(eventAlreadyInstalled)
		return Outcome{Kind: OutcomeInstalled, Plugin: desc.ID, Platform: op.platform, Stage: tracker.Stage(), Reason: "already installed", PrepareDone: true}
	}

	if err := in.checkEngines(ctx, desc, op.platform); err != nil {
		if !engine.IsEngineUnsatisfied(err) {
			return fail(err)
		}
		tracker.advance(eventSkip)
		in.warn(ctx, err.Error(), ports.PluginField(desc.ID), ports.PlatformField(op.platform))
		return Outcome{Kind: OutcomeSkipped, Plugin: desc.ID, Platform: op.platform, Stage: tracker.Stage(), Reason: err.Error(), Err: err}
	}
	tracker.advance(eventEnginesChecked)

	vars, missing := resolveVariables(desc.PreferencesFor(op.platform), op.opts.Variables)
	if len(missing) > 0 {
		if op.created(desc.Dir) {
			in.removeUnrecorded(ctx, desc.ID, desc.Dir)
		}
		return fail(&MissingVariablesError{Plugin: desc.ID, Names: missing})
	}

	for _, dep := range desc.DependenciesFor(op.platform) {
		outcome := in.installDependency(ctx, op, desc, dep)
		switch outcome.Kind {
		case OutcomeFailed:
			return fail(outcome.Err)
		case OutcomeSkipped:
			tracker.advance(eventSkip)
			reason := fmt.Sprintf("dependency %s was skipped: %s", dep.ID, outcome.Reason)
			return Outcome{Kind: OutcomeSkipped, Plugin: desc.ID, Platform: op.platform, Stage: StageSkipped, Reason: reason, Err: outcome.Err}
		}
	}
	tracker.advance(eventDependenciesReady)

	desc, err = in.ensureInPluginsDir(ctx, op, desc, isTopLevel)
	if err != nil {
		return fail(err)
	}
	tracker.advance(eventCopied)

	adapter, err := in.adapters.Get(op.platform)
	if err != nil {
		return fail(err)
	}
	payload := hooks.Payload{
		Platforms:   op.opts.Platforms,
		Plugin:      &hooks.PluginInfo{ID: desc.ID, Descriptor: desc, Platform: op.platform, Dir: desc.Dir},
		OperationID: op.opts.OperationID,
	}
	if err := in.fire(ctx, op.opts.NoHooks, hooks.BeforePluginInstall, payload); err != nil {
		return fail(err)
	}

	in.debug(ctx, "installing plugin on platform", ports.PluginField(desc.ID), ports.PlatformField(op.platform))
	prepared, err := adapter.AddPlugin(ctx, desc, platform.InstallOptions{
		ProjectRoot: in.projectRoot,
		PluginsDir:  in.pluginsDir,
		Variables:   vars,
		IsTopLevel:  isTopLevel,
		Force:       op.opts.Force,
		Link:        op.opts.Link,
	})
	if err != nil {
		return fail(fmt.Errorf("platform %s: %w", op.platform, err))
	}
	tracker.advance(eventNativeInstalled)

	record.AddPlugin(desc.ID, vars, isTopLevel)
	if err := record.Save(); err != nil {
		return fail(err)
	}
	tracker.advance(eventRecorded)

	if err := in.fire(ctx, op.opts.NoHooks, hooks.AfterPluginInstall, payload); err != nil {
		return failedOutcome(desc.ID, op.platform, &InstallError{Plugin: desc.ID, Platform: op.platform, Stage: StageRecorded, Err: err})
	}

	for _, msg := range desc.InfoFor(op.platform) {
		in.notice(ctx, interpolate(msg, vars), ports.PluginField(desc.ID))
	}

	return Outcome{Kind: OutcomeInstalled, Plugin: desc.ID, Platform: op.platform, Stage: StageRecorded, PrepareDone: prepared}
}

func (in *Installer) alreadyInstalled(ctx context.Context, record *state.Record, desc *plugin.Descriptor, platformName string, isTopLevel bool) error {
	fields := []ports.Field{ports.PluginField(desc.ID), ports.PlatformField(platformName)}
	if !isTopLevel {
		in.debug(ctx, "dependent plugin already installed", fields...)
		return nil
	}
	if record.MakeTopLevel(desc.ID) {
		if err := record.Save(); err != nil {
			return err
		}
		in.notice(ctx, fmt.Sprintf("Plugin %q already installed on %s. Making it top-level.", desc.ID, platformName), fields...)
		return nil
	}
	in.notice(ctx, fmt.Sprintf("Plugin %q already installed on %s.", desc.ID, platformName), fields...)
	return nil
}

// checkEngines resolves the known versions for desc's engines and checks them.
func (in *Installer) checkEngines(ctx context.Context, desc *plugin.Descriptor, platformName string) error {
	engines := desc.EnginesFor(platformName)
	if len(engines) == 0 {
		return nil
	}

	known := engine.KnownVersions{}
	if in.versions.Tool != "" {
		known[engine.ToolEngine] = in.versions.Tool
	}
	for name, v := range in.versions.Platforms {
		if v != "" {
			known[engine.PlatformEngine(name)] = v
		}
	}
	if _, ok := known[engine.PlatformEngine(platformName)]; !ok {
		if adapter, err := in.adapters.Get(platformName); err == nil {
			if pi, err := adapter.PlatformInfo(ctx); err == nil && pi.Version != "" {
				known[engine.PlatformEngine(platformName)] = pi.Version
			}
		}
	}

	constraints := make([]engine.Constraint, 0, len(engines))
	for _, e := range engines {
		if _, ok := known[e.Name]; !ok && e.ScriptSrc == "" {
			if installed, err := in.info.Get(filepath.Join(in.pluginsDir, filepath.FromSlash(e.Name))); err == nil {
				known[e.Name] = installed.Version
			}
		}
		constraints = append(constraints, engine.Constraint{
			Name:      e.Name,
			Range:     e.Version,
			Platform:  e.Platform,
			ScriptSrc: e.ScriptSrc,
		})
	}

	return in.checker.Check(ctx, engine.Request{
		Plugin:      desc.ID,
		Platform:    platformName,
		PluginDir:   desc.Dir,
		Known:       known,
		Constraints: constraints,
	})
}

func (in *Installer) installDependency(ctx context.Context, op *operation, parent *plugin.Descriptor, dep plugin.Dependency) Outcome {
	if err := op.graph.Add(parent.ID, dep.ID); err != nil {
		return failedOutcome(dep.ID, op.platform, err)
	}
	if op.handled[dep.ID] {
		in.debug(ctx, "dependency already handled in this operation", ports.PluginField(dep.ID))
		return Outcome{Kind: OutcomeInstalled, Plugin: dep.ID, Platform: op.platform, Reason: "already handled"}
	}

	depDir := filepath.Join(in.pluginsDir, filepath.FromSlash(dep.ID))
	if plugin.HasManifest(depDir) {
		installed, err := in.info.Get(depDir)
		if err != nil {
			return failedOutcome(dep.ID, op.platform, err)
		}
		if installed.ID != dep.ID {
			return failedOutcome(dep.ID, op.platform, &InstallError{
				Plugin: dep.ID, Platform: op.platform, Stage: StageNotFetched,
				Err: &fetch.PluginIdentityMismatchError{Expected: dep.ID, ActualID: installed.ID, ActualVersion: installed.Version},
			})
		}
		required := dependencyRange(dep.Version)
		if required != "" && !engine.Satisfies(installed.Version, required) {
			if !op.opts.Force {
				if op.created(op.topDir) {
					in.removeUnrecorded(ctx, op.topID, op.topDir)
				}
				return failedOutcome(dep.ID, op.platform, &VersionConflictError{
					Plugin:     parent.ID,
					Dependency: dep.ID,
					Installed:  installed.Version,
					Required:   required,
				})
			}
			in.warn(ctx, "using installed dependency outside the required range",
				ports.PluginField(dep.ID), ports.F("installed", installed.Version), ports.F("required", required))
		}
		return in.install(ctx, op, depDir, false)
	}

	reference, fetchOpts := in.dependencySource(ctx, op, parent, dep)
	in.debug(ctx, "fetching dependency", ports.PluginField(dep.ID), ports.F("reference", reference))
	dir, err := in.provider.Fetch(ctx, reference, in.pluginsDir, fetchOpts)
	if err != nil {
		return failedOutcome(dep.ID, op.platform, &InstallError{Plugin: dep.ID, Platform: op.platform, Stage: StageNotFetched, Err: err})
	}
	op.fetched = append(op.fetched, dir)
	return in.install(ctx, op, dir, false)
}

// dependencySource returns the reference and fetch options for dep.
// A url of "." points into the repository the parent was fetched from.
func (in *Installer) dependencySource(ctx context.Context, op *operation, parent *plugin.Descriptor, dep plugin.Dependency) (string, fetch.Options) {
	opts := fetch.Options{
		ExpectedID:  dep.ID,
		Variables:   op.opts.Variables,
		SearchPaths: op.opts.SearchPaths,
		NoRegistry:  op.opts.NoRegistry,
		GitRef:      dep.Commit,
	}

	switch {
	case dep.URL == ".":
		md, ok, err := in.provider.Metadata().Get(in.pluginsDir, parent.ID)
		if err != nil || !ok || md.Source.Type == "" {
			in.warn(ctx, fmt.Sprintf("no fetch metadata found for plugin %s, resolving %s relative to it", parent.ID, dep.ID))
			rel := dep.Subdir
			if rel == "" {
				rel = dep.ID
			}
			return filepath.Join(filepath.Dir(parent.Dir), filepath.FromSlash(rel)), opts
		}

		switch md.Source.Type {
		case fetch.SourceGit:
			opts.Subdir = path.Join(md.Source.Subdir, dep.Subdir)
			if opts.GitRef == "" {
				opts.GitRef = md.Source.Ref
			}
			return md.Source.URL, opts
		case fetch.SourceLocal:
			root := filepath.Dir(md.Source.Path)
			if in.git != nil {
				if top, err := in.git.TopLevel(ctx, md.Source.Path); err == nil && top != "" {
					root = top
				}
			}
			opts.Subdir = dep.Subdir
			return root, opts
		}
		return registryReference(dep), opts

	case dep.URL != "":
		opts.Subdir = dep.Subdir
		if fetch.IsGitURL(dep.URL) {
			// The range lets the git transport pick a matching tag.
			opts.ExpectedID = registryReference(dep)
		}
		return dep.URL, opts
	}
	return registryReference(dep), opts
}

// ensureInPluginsDir places a plugin installed from outside the plugins
// directory into it.
func (in *Installer) ensureInPluginsDir(ctx context.Context, op *operation, desc *plugin.Descriptor, isTopLevel bool) (*plugin.Descriptor, error) {
	want, err := filepath.Abs(filepath.Join(in.pluginsDir, filepath.FromSlash(desc.ID)))
	if err != nil {
		return nil, err
	}
	have, err := filepath.Abs(desc.Dir)
	if err != nil {
		return nil, err
	}
	if want == have {
		return desc, nil
	}

	dir, err := in.provider.Fetch(ctx, have, in.pluginsDir, fetch.Options{
		Link:       op.opts.Link,
		IsTopLevel: isTopLevel,
		Variables:  op.opts.Variables,
	})
	if err != nil {
		return nil, err
	}
	return in.info.Get(dir)
}

// rollback removes the directories fetched during op that no platform records.
func (in *Installer) rollback(ctx context.Context, op *operation) {
	for i := len(op.fetched) - 1; i >= 0; i-- {
		dir := op.fetched[i]
		id, err := filepath.Rel(in.pluginsDir, dir)
		if err != nil {
			continue
		}
		in.removeUnrecorded(ctx, filepath.ToSlash(id), dir)
	}
}

// removeUnrecorded deletes a plugin directory and its fetch metadata unless
// a platform record still lists the plugin.
func (in *Installer) removeUnrecorded(ctx context.Context, id, dir string) {
	if id == "" || dir == "" {
		return
	}
	referenced, err := in.store.IsReferenced(id)
	if err != nil || referenced {
		in.debug(ctx, "keeping plugin directory still referenced by a platform", ports.PluginField(id))
		return
	}
	if err := in.fs.RemoveAll(dir); err != nil {
		in.warn(ctx, "failed to remove plugin directory", ports.PluginField(id), ports.F("error", err))
		return
	}
	in.info.Invalidate(dir)
	if err := in.provider.Metadata().Remove(in.pluginsDir, id); err != nil {
		in.warn(ctx, "failed to remove fetch metadata", ports.PluginField(id), ports.F("error", err))
	}
	in.debug(ctx, "removed plugin directory", ports.PluginField(id), ports.F("dir", dir))
}

func (in *Installer) fire(ctx context.Context, disabled bool, event hooks.Event, payload hooks.Payload) error {
	if disabled || in.bus == nil {
		return nil
	}
	return in.bus.Fire(ctx, event, payload)
}

func (in *Installer) debug(ctx context.Context, msg string, fields ...ports.Field) {
	if logger := loggerFor(ctx, in.logger); logger != nil {
		logger.Debug(ctx, msg, fields...)
	}
}

func (in *Installer) notice(ctx context.Context, msg string, fields ...ports.Field) {
	if logger := loggerFor(ctx, in.logger); logger != nil {
		logger.Info(ctx, msg, fields...)
	}
}

func (in *Installer) warn(ctx context.Context, msg string, fields ...ports.Field) {
	if logger := loggerFor(ctx, in.logger); logger != nil {
		logger.Warn(ctx, msg, fields...)
	}
}

func failedOutcome(pluginID, platformName string, err error) Outcome {
	stage := StageFailed
	var installErr *InstallError
	if errors.As(err, &installErr) {
		stage = installErr.Stage
	}
	return Outcome{Kind: OutcomeFailed, Plugin: pluginID, Platform: platformName, Stage: stage, Err: err}
}

// resolveVariables fills preferences from vars or their defaults and
// returns the names left without a value.
func resolveVariables(prefs []plugin.Preference, vars map[string]string) (state.Variables, []string) {
	resolved := state.Variables{}
	var missing []string
	for _, p := range prefs {
		if v := vars[p.Name]; v != "" {
			resolved[p.Name] = v
			continue
		}
		if p.Default != "" {
			resolved[p.Name] = p.Default
			continue
		}
		missing = append(missing, p.Name)
	}
	return resolved, missing
}

var bareVersion = regexp.MustCompile(`^\d+(\.\d+){0,2}$`)

// dependencyRange turns a bare dependency version like 1.2 into ^1.2.
func dependencyRange(version string) string {
	version = strings.TrimSpace(version)
	if bareVersion.MatchString(version) {
		return "^" + version
	}
	return version
}

func registryReference(dep plugin.Dependency) string {
	if r := dependencyRange(dep.Version); r != "" {
		return dep.ID + "@" + r
	}
	return dep.ID
}

// interpolate replaces $NAME with the value of variable NAME, longest names first.
func interpolate(msg string, vars state.Variables) string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	for _, name := range names {
		msg = strings.ReplaceAll(msg, "$"+name, vars[name])
	}
	return msg
}
