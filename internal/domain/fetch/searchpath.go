package fetch

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/felixgeelhaar/plugman/internal/domain/engine"
	"github.com/felixgeelhaar/plugman/internal/domain/plugin"
)

// SearchPathIndex finds plugins in local search directories. Each
// directory is scanned once and cached until Invalidate.
type SearchPathIndex struct {
	info *plugin.InfoProvider

	mu    sync.Mutex
	cache map[string][]*plugin.Descriptor
}

// NewSearchPathIndex creates an index that loads descriptors through info.
func NewSearchPathIndex(info *plugin.InfoProvider) *SearchPathIndex {
	return &SearchPathIndex{info: info, cache: make(map[string][]*plugin.Descriptor)}
}

// Find returns the directory of the highest version of id satisfying
// rangeExpr across paths. An empty range accepts any version. A -dev
// suffix is ignored when comparing.
func (x *SearchPathIndex) Find(id, rangeExpr string, paths []string) (string, bool) {
	var (
		bestDir     string
		bestVersion string
	)
	for _, path := range paths {
		for _, d := range x.scan(path) {
			if d.ID != id {
				continue
			}
			version := strings.TrimSuffix(d.Version, "-dev")
			if rangeExpr != "" && !engine.Satisfies(version, rangeExpr) {
				continue
			}
			if bestDir == "" || engine.Compare(version, bestVersion) > 0 {
				bestDir, bestVersion = d.Dir, version
			}
		}
	}
	return bestDir, bestDir != ""
}

// Invalidate drops every cached directory listing.
func (x *SearchPathIndex) Invalidate() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.cache = make(map[string][]*plugin.Descriptor)
}

func (x *SearchPathIndex) scan(path string) []*plugin.Descriptor {
	key := filepath.Clean(path)

	x.mu.Lock()
	defer x.mu.Unlock()
	if found, ok := x.cache[key]; ok {
		return found
	}

	var found []*plugin.Descriptor
	// A search path may itself be a plugin.
	if d, err := x.info.Get(path); err == nil {
		found = append(found, d)
	}
	// Unreadable or invalid entries are not fatal for a search.
	if all, err := x.info.All(path); err == nil {
		found = append(found, all...)
	}
	x.cache[key] = found
	return found
}
