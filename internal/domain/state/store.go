package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/felixgeelhaar/plugman/internal/ports"
)

// Store errors.
var (
	ErrRecordCorrupt = errors.New("installed plugin record is corrupt")
	ErrSaveFailed    = errors.New("failed to save installed plugin record")
)

// fetchMetadataFile shares the plugins directory but is not a platform record.
const fetchMetadataFile = "fetch.json"

// Store hands out the installed records kept in one plugins directory.
type Store struct {
	fs         ports.FileSystem
	pluginsDir string

	mu      sync.Mutex
	records map[string]*Record
}

// NewStore creates a store for pluginsDir.
func NewStore(fs ports.FileSystem, pluginsDir string) *Store {
	return &Store{fs: fs, pluginsDir: pluginsDir, records: make(map[string]*Record)}
}

// PluginsDir returns the directory the store reads from.
func (s *Store) PluginsDir() string {
	return s.pluginsDir
}

// Record returns the record of platform, loading it on first use.
// A missing file yields an empty record.
func (s *Store) Record(platform string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[platform]; ok {
		return r, nil
	}

	path := filepath.Join(s.pluginsDir, platform+".json")
	r := newRecord(s, platform, path)
	if s.fs.Exists(path) {
		data, err := s.fs.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		var dto recordDTO
		if err := json.Unmarshal(data, &dto); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrRecordCorrupt, path, err)
		}
		for id, vars := range dto.InstalledPlugins {
			r.installed[id] = orEmpty(vars)
		}
		for id, vars := range dto.DependentPlugins {
			if _, top := r.installed[id]; !top {
				r.dependent[id] = orEmpty(vars)
			}
		}
	}

	s.records[platform] = r
	return r, nil
}

// Platforms lists the platforms that have a record file, sorted.
func (s *Store) Platforms() ([]string, error) {
	entries, err := os.ReadDir(s.pluginsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var platforms []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == fetchMetadataFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		platforms = append(platforms, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(platforms)
	return platforms, nil
}

// IsReferenced reports whether any platform record still lists id.
func (s *Store) IsReferenced(id string) (bool, error) {
	platforms, err := s.Platforms()
	if err != nil {
		return false, err
	}
	for _, p := range platforms {
		r, err := s.Record(p)
		if err != nil {
			return false, err
		}
		if r.IsPluginInstalled(id) {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops cached records so the next access rereads disk.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*Record)
}

func (s *Store) save(r *Record) error {
	data, err := json.MarshalIndent(r.toDTO(), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	if err := s.fs.WriteFileAtomic(r.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return nil
}

func orEmpty(vars Variables) Variables {
	if vars == nil {
		return Variables{}
	}
	return vars
}
