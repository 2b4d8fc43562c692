package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/plugman/internal/domain/plugin"
	"github.com/felixgeelhaar/plugman/internal/ports"
)

// preparedFile lists the plugins of a polyfilled platform after Prepare.
const preparedFile = "plugins.yaml"

// Polyfill is the adapter for platforms without a native implementation.
// Plugin assets under <plugin>/platforms/<name>/ are copied into
// <project>/platforms/<name>/plugins/<id>/, and Prepare writes the plugin list.
type Polyfill struct {
	name        string
	version     string
	projectRoot string
	fs          ports.FileSystem
	runner      ports.CommandRunner
}

// NewPolyfill creates a polyfill adapter for the named platform.
func NewPolyfill(name, version, projectRoot string, fs ports.FileSystem, runner ports.CommandRunner) *Polyfill {
	return &Polyfill{name: name, version: version, projectRoot: projectRoot, fs: fs, runner: runner}
}

func (p *Polyfill) root() string {
	return filepath.Join(p.projectRoot, "platforms", p.name)
}

func (p *Polyfill) pluginDir(id string) string {
	return filepath.Join(p.root(), "plugins", filepath.FromSlash(id))
}

// AddPlugin copies the plugin's assets for this platform. It always reports
// that Prepare is still needed.
func (p *Polyfill) AddPlugin(_ context.Context, desc *plugin.Descriptor, _ InstallOptions) (bool, error) {
	target := p.pluginDir(desc.ID)
	if p.fs.Exists(target) {
		if err := p.fs.RemoveAll(target); err != nil {
			return false, err
		}
	}
	if err := p.fs.MkdirAll(target, 0o755); err != nil {
		return false, err
	}

	assets := filepath.Join(desc.Dir, "platforms", p.name)
	if p.fs.IsDir(assets) {
		if err := p.fs.CopyDir(assets, target, nil); err != nil {
			return false, fmt.Errorf("copying %s assets of %s: %w", p.name, desc.ID, err)
		}
	}

	data, err := p.fs.ReadFile(filepath.Join(desc.Dir, plugin.ManifestFile))
	if err != nil {
		return false, err
	}
	if err := p.fs.WriteFileAtomic(filepath.Join(target, plugin.ManifestFile), data, 0o644); err != nil {
		return false, err
	}
	return false, nil
}

// RemovePlugin deletes the plugin's copied assets.
func (p *Polyfill) RemovePlugin(_ context.Context, desc *plugin.Descriptor, _ InstallOptions) error {
	return p.fs.RemoveAll(p.pluginDir(desc.ID))
}

// Build runs platforms/<name>/scripts/build when present.
func (p *Polyfill) Build(ctx context.Context, opts BuildOptions) error {
	return p.runScript(ctx, "build", opts)
}

// Run runs platforms/<name>/scripts/run when present.
func (p *Polyfill) Run(ctx context.Context, opts BuildOptions) error {
	return p.runScript(ctx, "run", opts)
}

type preparedPlugin struct {
	ID      string `yaml:"id"`
	Version string `yaml:"version"`
}

// Prepare writes platforms/<name>/plugins.yaml from the copied plugins.
func (p *Polyfill) Prepare(_ context.Context) error {
	descriptors, err := plugin.NewInfoProvider().All(filepath.Join(p.root(), "plugins"))
	if err != nil {
		return err
	}

	list := make([]preparedPlugin, 0, len(descriptors))
	for _, d := range descriptors {
		list = append(list, preparedPlugin{ID: d.ID, Version: d.Version})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := yaml.Marshal(map[string]any{"platform": p.name, "plugins": list})
	if err != nil {
		return err
	}
	return p.fs.WriteFileAtomic(filepath.Join(p.root(), preparedFile), data, 0o644)
}

// PlatformInfo describes the polyfilled platform.
func (p *Polyfill) PlatformInfo(_ context.Context) (Info, error) {
	return Info{Name: p.name, Version: p.version, Root: p.root()}, nil
}

func (p *Polyfill) runScript(ctx context.Context, name string, opts BuildOptions) error {
	script := filepath.Join(p.root(), "scripts", name)
	info, err := os.Stat(script)
	if err != nil || info.IsDir() {
		return &UnsupportedError{Platform: p.name, Operation: name}
	}

	args := append([]string(nil), opts.Args...)
	if opts.Release {
		args = append(args, "--release")
	}
	result, err := p.runner.Run(ctx, p.root(), script, args...)
	if err != nil {
		return fmt.Errorf("running %s script: %w", name, err)
	}
	if !result.Success() {
		return fmt.Errorf("%s script exited with code %d: %s", name, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// Ensure Polyfill implements Adapter.
var _ Adapter = (*Polyfill)(nil)
