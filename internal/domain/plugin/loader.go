package plugin

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// maxManifestSize limits manifest file size to prevent memory exhaustion (256KB).
	maxManifestSize int64 = 256 * 1024
)

type cacheEntry struct {
	modTime    time.Time
	size       int64
	descriptor *Descriptor
}

// InfoProvider loads plugin descriptors and caches them per directory.
// An entry is reused while plugin.yaml keeps the same mtime and size.
type InfoProvider struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewInfoProvider creates an empty descriptor cache.
func NewInfoProvider() *InfoProvider {
	return &InfoProvider{cache: make(map[string]cacheEntry)}
}

// Get returns the descriptor of the plugin rooted at dir.
func (p *InfoProvider) Get(dir string) (*Descriptor, error) {
	dir = filepath.Clean(dir)
	manifestPath := filepath.Join(dir, ManifestFile)

	info, err := os.Stat(manifestPath)
	if os.IsNotExist(err) {
		return nil, &InvalidPluginError{Dir: dir, Err: ErrManifestNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", ManifestFile, err)
	}

	p.mu.Lock()
	entry, ok := p.cache[dir]
	p.mu.Unlock()
	if ok && entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
		return entry.descriptor, nil
	}

	d, err := readDescriptor(dir, manifestPath, info.Size())
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[dir] = cacheEntry{modTime: info.ModTime(), size: info.Size(), descriptor: d}
	p.mu.Unlock()
	return d, nil
}

// All returns the descriptors of every plugin directly under pluginsDir,
// including scoped packages stored as @scope/name. Directories without a
// valid plugin.yaml are ignored.
func (p *InfoProvider) All(pluginsDir string) ([]*Descriptor, error) {
	dirs, err := pluginDirs(pluginsDir)
	if err != nil {
		return nil, err
	}

	descriptors := make([]*Descriptor, 0, len(dirs))
	for _, dir := range dirs {
		d, err := p.Get(dir)
		if err != nil {
			if IsInvalidPlugin(err) {
				continue
			}
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// Invalidate drops the cached descriptor for dir.
func (p *InfoProvider) Invalidate(dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, filepath.Clean(dir))
}

// LoadDescriptor reads the descriptor in dir without caching.
func LoadDescriptor(dir string) (*Descriptor, error) {
	manifestPath := filepath.Join(dir, ManifestFile)
	info, err := os.Stat(manifestPath)
	if os.IsNotExist(err) {
		return nil, &InvalidPluginError{Dir: dir, Err: ErrManifestNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", ManifestFile, err)
	}
	return readDescriptor(filepath.Clean(dir), manifestPath, info.Size())
}

// HasManifest reports whether dir contains a plugin.yaml.
func HasManifest(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ManifestFile))
	return err == nil && !info.IsDir()
}

func readDescriptor(dir, manifestPath string, size int64) (*Descriptor, error) {
	if size > maxManifestSize {
		return nil, &ManifestSizeError{Size: size, Limit: maxManifestSize}
	}

	file, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", ManifestFile, err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ManifestFile, err)
	}

	d, err := ParseDescriptor(data)
	if err != nil {
		return nil, &InvalidPluginError{Dir: dir, Err: err}
	}
	d.Dir = dir
	return d, nil
}

func pluginDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []string
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if !isDir(path) {
			continue
		}
		if strings.HasPrefix(entry.Name(), "@") {
			scoped, err := os.ReadDir(path)
			if err != nil {
				return nil, err
			}
			for _, s := range scoped {
				if sp := filepath.Join(path, s.Name()); isDir(sp) {
					dirs = append(dirs, sp)
				}
			}
			continue
		}
		dirs = append(dirs, path)
	}
	return dirs, nil
}

// isDir follows symlinks so linked plugins are listed too.
func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
