package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/plugman/internal/domain/engine"
	"github.com/felixgeelhaar/plugman/internal/domain/plugin"
	"github.com/felixgeelhaar/plugman/internal/ports"
)

// RegistryTransport downloads plugin packages from a package registry.
type RegistryTransport interface {
	// Fetch downloads id at the highest version inside rangeExpr (latest
	// when empty) below dest and returns the package root.
	Fetch(ctx context.Context, id, rangeExpr, dest string) (string, error)
}

// PackageInfoSource is implemented by registries that expose version and
// engine metadata for version selection.
type PackageInfoSource interface {
	PackageInfo(ctx context.Context, id string) (engine.PackageInfo, error)
}

// Options control a single fetch.
type Options struct {
	// Link symlinks local sources instead of copying them.
	Link bool
	// Subdir is the plugin root inside the referenced source.
	Subdir string
	// GitRef is checked out after cloning a git source.
	GitRef string
	// ExpectedID is "id" or "id@range" the fetched plugin must match.
	ExpectedID  string
	IsTopLevel  bool
	Variables   map[string]string
	SearchPaths []string
	NoRegistry  bool
}

// Provider resolves references to plugin sources and places them in a
// plugins directory.
type Provider struct {
	fs       ports.FileSystem
	info     *plugin.InfoProvider
	metadata *MetadataStore
	search   *SearchPathIndex
	git      GitTransport
	registry RegistryTransport
	logger   ports.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithGitTransport sets the transport for git references.
func WithGitTransport(git GitTransport) ProviderOption {
	return func(p *Provider) {
		p.git = git
	}
}

// WithRegistryTransport sets the transport for registry ids.
func WithRegistryTransport(registry RegistryTransport) ProviderOption {
	return func(p *Provider) {
		p.registry = registry
	}
}

// WithProviderLogger sets the logger.
func WithProviderLogger(logger ports.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithMetadataStore shares a metadata store with other components.
func WithMetadataStore(store *MetadataStore) ProviderOption {
	return func(p *Provider) {
		p.metadata = store
	}
}

// NewProvider creates a Provider. The descriptor cache and search index
// are owned by the provider.
func NewProvider(fs ports.FileSystem, info *plugin.InfoProvider, opts ...ProviderOption) *Provider {
	p := &Provider{
		fs:     fs,
		info:   info,
		search: NewSearchPathIndex(info),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metadata == nil {
		p.metadata = NewMetadataStore(fs)
	}
	return p
}

// Metadata returns the fetch metadata store.
func (p *Provider) Metadata() *MetadataStore {
	return p.metadata
}

// SearchIndex returns the search path index.
func (p *Provider) SearchIndex() *SearchPathIndex {
	return p.search
}

// Fetch resolves reference and places the plugin in pluginsDir/<id>,
// returning the placed directory.
func (p *Provider) Fetch(ctx context.Context, reference, pluginsDir string, opts Options) (string, error) {
	if base, ref, subdir, ok := SplitHashURL(reference); ok {
		if ref != "" {
			opts.GitRef = ref
		}
		if subdir != "" {
			opts.Subdir = subdir
		}
		return p.Fetch(ctx, base, pluginsDir, opts)
	}

	local := reference
	if opts.Subdir != "" {
		local = filepath.Join(reference, opts.Subdir)
	}
	if !IsGitURL(reference) && p.fs.IsDir(local) {
		if !plugin.HasManifest(local) {
			return "", &plugin.InvalidPluginError{Dir: local, Err: plugin.ErrManifestNotFound}
		}
		abs, err := filepath.Abs(local)
		if err != nil {
			return "", err
		}
		return p.place(ctx, abs, pluginsDir, opts, Source{Type: SourceLocal, Path: abs})
	}

	if IsGitURL(reference) {
		return p.fetchGit(ctx, reference, pluginsDir, opts)
	}

	spec := ParseSpec(reference)
	if dir, ok := p.search.Find(spec.ID, spec.Version, opts.SearchPaths); ok {
		p.debug(ctx, "found plugin in search path", ports.PluginField(spec.ID), ports.F("dir", dir))
		return p.place(ctx, dir, pluginsDir, opts, Source{Type: SourceLocal, Path: dir})
	}

	return p.fetchRegistry(ctx, spec, pluginsDir, opts)
}

func (p *Provider) fetchGit(ctx context.Context, reference, pluginsDir string, opts Options) (string, error) {
	if p.git == nil {
		return "", &FetchError{Reference: reference, Err: errors.New("no git transport configured")}
	}

	tmp, err := os.MkdirTemp("", "plugman-git-")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	if opts.GitRef == "" {
		opts.GitRef = p.resolveTag(ctx, reference, opts.ExpectedID)
	}

	checkout := filepath.Join(tmp, "src")
	if err := p.git.Clone(ctx, gitCloneURL(reference), opts.GitRef, checkout); err != nil {
		return "", &FetchError{Reference: reference, Err: err}
	}

	src := checkout
	if opts.Subdir != "" {
		src = filepath.Join(checkout, opts.Subdir)
	}
	if !plugin.HasManifest(src) {
		return "", &plugin.InvalidPluginError{Dir: src, Err: plugin.ErrManifestNotFound}
	}

	opts.Link = false
	return p.place(ctx, src, pluginsDir, opts, Source{
		Type:   SourceGit,
		URL:    reference,
		Ref:    opts.GitRef,
		Subdir: opts.Subdir,
	})
}

// resolveTag picks the highest tag inside the expected version range. An
// empty result clones the default branch.
func (p *Provider) resolveTag(ctx context.Context, reference, expectedID string) string {
	resolver, ok := p.git.(TagResolver)
	if !ok || expectedID == "" {
		return ""
	}
	spec := ParseSpec(expectedID)
	if spec.Version == "" {
		return ""
	}
	tag, err := resolver.ResolveTag(ctx, gitCloneURL(reference), spec.Version)
	if err != nil {
		p.warn(ctx, "could not list tags, using default branch", ports.F("url", reference), ports.F("error", err))
		return ""
	}
	if tag != "" {
		p.debug(ctx, "resolved git tag", ports.F("url", reference), ports.F("tag", tag))
	}
	return tag
}

func (p *Provider) fetchRegistry(ctx context.Context, spec Spec, pluginsDir string, opts Options) (string, error) {
	source := Source{Type: SourceRegistry, ID: spec.Raw}
	existing := filepath.Join(pluginsDir, filepath.FromSlash(spec.ID))
	if plugin.HasManifest(existing) {
		p.debug(ctx, "reusing previously fetched plugin", ports.PluginField(spec.ID))
		return p.place(ctx, existing, pluginsDir, opts, source)
	}

	if opts.NoRegistry {
		return "", &FetchError{Reference: spec.Raw, Err: ErrRegistryDisabled}
	}
	if p.registry == nil {
		return "", &FetchError{Reference: spec.Raw, Err: errors.New("no registry configured")}
	}

	tmp, err := os.MkdirTemp("", "plugman-registry-")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	dir, err := p.registry.Fetch(ctx, spec.ID, spec.Version, tmp)
	if err != nil {
		return "", &FetchError{Reference: spec.Raw, Err: err}
	}

	opts.Link = false
	return p.place(ctx, dir, pluginsDir, opts, source)
}

// place copies or links src into pluginsDir/<id>, checks the expected id
// and records fetch metadata.
func (p *Provider) place(ctx context.Context, src, pluginsDir string, opts Options, source Source) (string, error) {
	desc, err := p.info.Get(src)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(pluginsDir, filepath.FromSlash(desc.ID))
	placed, err := p.copyPlugin(ctx, src, dest, desc.ID, opts.Link)
	if err != nil {
		return "", fmt.Errorf("placing plugin %s: %w", desc.ID, err)
	}

	if err := checkID(opts.ExpectedID, desc); err != nil {
		if placed {
			_ = p.fs.RemoveAll(dest)
		}
		return "", err
	}

	if err := p.metadata.Save(pluginsDir, desc.ID, Metadata{
		Source:     source,
		IsTopLevel: opts.IsTopLevel,
		Variables:  opts.Variables,
	}); err != nil {
		return "", err
	}
	p.info.Invalidate(dest)
	return dest, nil
}

// copyPlugin reports whether it wrote anything to dest.
func (p *Provider) copyPlugin(ctx context.Context, src, dest, id string, link bool) (bool, error) {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return false, err
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return false, err
	}

	if absSrc == absDest {
		return false, nil
	}
	if existing, err := p.info.Get(absDest); err == nil && existing.ID == id {
		p.debug(ctx, "plugin already present, skipping copy", ports.PluginField(id))
		return false, nil
	}
	if p.fs.Exists(absDest) {
		if err := p.fs.RemoveAll(absDest); err != nil {
			return false, err
		}
	}

	nested := isSubPath(absSrc, absDest)
	if nested && !link {
		p.debug(ctx, "destination is inside the plugin source, linking instead of copying", ports.PluginField(id))
		link = true
	}

	if link {
		err := p.fs.LinkDir(absSrc, absDest)
		if err == nil {
			return true, nil
		}
		if !nested {
			return false, err
		}
		p.warn(ctx, "linking failed, copying plugin without the nested destination", ports.PluginField(id), ports.F("error", err))
		rel, relErr := filepath.Rel(absSrc, absDest)
		if relErr != nil {
			return false, relErr
		}
		top := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
		return true, p.fs.CopyDir(absSrc, absDest, func(entry string) bool {
			return entry == top
		})
	}

	return true, p.fs.CopyDir(absSrc, absDest, nil)
}

// checkID validates expected ("id" or "id@range") against desc.
func checkID(expected string, desc *plugin.Descriptor) error {
	if expected == "" {
		return nil
	}
	spec := ParseSpec(expected)
	if spec.ID != desc.ID {
		return &PluginIdentityMismatchError{Expected: spec.ID, ActualID: desc.ID, ActualVersion: desc.Version}
	}
	if spec.Version != "" && !engine.Satisfies(desc.Version, spec.Version) {
		return &PluginIdentityMismatchError{
			Expected:        spec.ID,
			ExpectedVersion: spec.Version,
			ActualID:        desc.ID,
			ActualVersion:   desc.Version,
		}
	}
	return nil
}

func (p *Provider) debug(ctx context.Context, msg string, fields ...ports.Field) {
	if p.logger != nil {
		p.logger.Debug(ctx, msg, fields...)
	}
}

func (p *Provider) warn(ctx context.Context, msg string, fields ...ports.Field) {
	if p.logger != nil {
		p.logger.Warn(ctx, msg, fields...)
	}
}

// isSubPath reports whether child is parent or lives underneath it.
// Both paths must be absolute and clean.
func isSubPath(parent, child string) bool {
	return parent == child || strings.HasPrefix(child, parent+string(filepath.Separator))
}
