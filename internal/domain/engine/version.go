// Package engine resolves engine constraints and picks plugin versions a
// project can support.
package engine

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	// ToolEngine is the engine name for the plugman tool itself.
	ToolEngine = "plugman"
	// platformEnginePrefix prefixes platform engine names (plugman-android).
	platformEnginePrefix = ToolEngine + "-"
)

// PlatformEngine returns the engine name of a platform.
func PlatformEngine(platform string) string {
	return platformEnginePrefix + platform
}

// versionRun matches the first version-looking run in probe output.
var versionRun = regexp.MustCompile(`(\d+)(?:\.(\d+))?(?:\.(\d+))?(-?[0-9A-Za-z][0-9A-Za-z.-]*)?`)

// NormalizeVersion turns raw probe output into a semver string.
// It returns false when no usable version can be extracted.
func NormalizeVersion(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "dev" {
		return "", false
	}

	m := versionRun.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}

	minor, patch := m[2], m[3]
	if minor == "" {
		minor = "0"
	}
	if patch == "" {
		patch = "0"
	}

	v := m[1] + "." + minor + "." + patch
	if suffix := m[4]; suffix != "" {
		if !strings.HasPrefix(suffix, "-") {
			suffix = "-" + suffix
		}
		v += suffix
	}

	if _, err := semver.StrictNewVersion(v); err != nil {
		return "", false
	}
	return v, true
}

// IsDevBuild reports whether a normalized version carries a dev suffix.
func IsDevBuild(version string) bool {
	return strings.HasSuffix(version, "-dev") || strings.Contains(version, "-dev.")
}

// Satisfies reports whether version is inside rangeExpr. A prerelease is
// accepted when its release line satisfies the range.
func Satisfies(version, rangeExpr string) bool {
	v, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return false
	}
	c, err := semver.NewConstraint(strings.TrimSpace(rangeExpr))
	if err != nil {
		return false
	}
	if c.Check(v) {
		return true
	}
	if v.Prerelease() == "" {
		return false
	}
	release, err := v.SetPrerelease("")
	if err != nil {
		return false
	}
	return c.Check(&release)
}

// ValidRange reports whether rangeExpr parses as a range.
func ValidRange(rangeExpr string) bool {
	_, err := semver.NewConstraint(strings.TrimSpace(rangeExpr))
	return err == nil
}

// MaxSatisfying returns the highest release (non-prerelease) version from
// versions inside rangeExpr, or "" when none matches.
func MaxSatisfying(versions []string, rangeExpr string) string {
	c, err := semver.NewConstraint(rangeExpr)
	if err != nil {
		return ""
	}

	var best *semver.Version
	var bestRaw string
	for _, raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil || v.Prerelease() != "" {
			continue
		}
		if c.Check(v) && (best == nil || v.GreaterThan(best)) {
			best, bestRaw = v, raw
		}
	}
	return bestRaw
}

// Compare compares two versions; unparseable versions sort lowest.
func Compare(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

// SortDescending orders versions newest first.
func SortDescending(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return Compare(versions[i], versions[j]) > 0
	})
}
