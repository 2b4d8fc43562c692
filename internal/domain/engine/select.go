package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// upperBoundPattern matches engine table keys of the form <X.Y.Z.
var upperBoundPattern = regexp.MustCompile(`^<\d+\.\d+\.\d+$`)

// EngineTable maps plugin version keys (exact versions or <X.Y.Z upper
// bounds) to the engine requirements of those versions.
type EngineTable map[string]map[string]string

// PackageInfo is the registry view of a plugin used for version selection.
type PackageInfo struct {
	Name     string
	Latest   string
	Versions []string
	Engines  EngineTable
}

// ProjectVersions holds the versions a project currently has.
type ProjectVersions struct {
	Tool      string
	Platforms map[string]string
	Plugins   map[string]string
}

// Selection is the outcome of SelectVersion.
type Selection struct {
	// Version is the version to fetch. Empty means no preference: fetch latest.
	Version string
	// Unmet lists requirements behind the selection warning, if any.
	Unmet []Requirement
	// Warnings are operator-facing messages to log at WARN.
	Warnings []string
	// Notes are diagnostic messages to log at DEBUG.
	Notes []string
}

// SelectVersion picks the highest plugin version whose engine requirements
// the project meets. Versions are walked newest first; an upper bound the
// project fails excludes everything below it.
func SelectVersion(info PackageInfo, project ProjectVersions) Selection {
	var sel Selection
	if len(info.Engines) == 0 || len(info.Versions) == 0 || info.Latest == "" {
		return sel
	}

	latest, err := semver.NewVersion(info.Latest)
	if err != nil {
		return sel
	}

	releases := make([]string, 0, len(info.Versions))
	for _, v := range info.Versions {
		if pv, err := semver.NewVersion(v); err == nil && pv.Prerelease() == "" {
			releases = append(releases, v)
		}
	}

	engines := make(map[string]map[string]string, len(info.Engines)+2)
	var (
		versions        []string
		upperBound      *semver.Version
		upperBoundKey   string
		upperBoundFound bool
	)
	for key, reqs := range info.Engines {
		trimmed := strings.TrimSpace(key)
		if v, err := semver.StrictNewVersion(trimmed); err == nil && !v.GreaterThan(latest) {
			versions = append(versions, trimmed)
			engines[trimmed] = reqs
			continue
		}

		cleaned := strings.ReplaceAll(trimmed, " ", "")
		if !upperBoundPattern.MatchString(cleaned) {
			sel.Notes = append(sel.Notes, fmt.Sprintf(
				"ignoring invalid version %q in %s engine table (must be a single version <= latest or an upper bound)", key, info.Name))
			continue
		}
		upperBoundFound = true
		engines[cleaned] = reqs
		if len(failedRequirements(reqs, project)) == 0 {
			continue
		}
		bound := semver.MustParse(cleaned[1:])
		if upperBound == nil || bound.GreaterThan(upperBound) {
			upperBound, upperBoundKey = bound, cleaned
		}
	}

	if !upperBoundFound && len(versions) == 0 {
		sel.Notes = append(sel.Notes, fmt.Sprintf(
			"ignoring %s engine table because it did not contain any valid plugin version entries", info.Name))
		return sel
	}

	if !containsVersion(versions, "0.0.0") {
		versions = append(versions, "0.0.0")
		engines["0.0.0"] = map[string]string{}
	}

	// Versions between the upper bound and the next entry share the
	// requirements of the highest entry below the bound.
	if upperBound != nil && !containsVersion(versions, upperBound.String()) && !upperBound.GreaterThan(latest) {
		below := MaxSatisfying(versions, upperBoundKey)
		versions = append(versions, upperBound.String())
		if below != "" {
			engines[upperBound.String()] = engines[below]
		} else {
			engines[upperBound.String()] = map[string]string{}
		}
	}

	SortDescending(versions)

	for i, v := range versions {
		if upperBound != nil && semver.MustParse(v).LessThan(upperBound) {
			break
		}

		rangeExpr := ">=" + v
		if i > 0 {
			rangeExpr += " <" + versions[i-1]
		}
		match := MaxSatisfying(releases, rangeExpr)
		if match == "" || len(failedRequirements(engines[v], project)) > 0 {
			continue
		}

		if Compare(match, info.Latest) != 0 {
			sel.Unmet = failedRequirements(engines[versions[0]], project)
			sel.Warnings = append(sel.Warnings, unmetWarnings(info.Name, sel.Unmet)...)
			sel.Warnings = append(sel.Warnings, fmt.Sprintf(
				"fetching highest version of %s that this project supports: %s (latest is %s)", info.Name, match, info.Latest))
		}
		sel.Version = match
		return sel
	}

	unmet := failedRequirements(engines[versions[0]], project)
	if upperBound != nil && Satisfies(info.Latest, upperBoundKey) {
		for _, req := range failedRequirements(engines[upperBoundKey], project) {
			merged := false
			for i := range unmet {
				if unmet[i].Dependency == req.Dependency {
					unmet[i].Required += " AND " + req.Required
					merged = true
					break
				}
			}
			if !merged {
				unmet = append(unmet, req)
			}
		}
	}

	sel.Unmet = unmet
	sel.Warnings = append(sel.Warnings, unmetWarnings(info.Name, unmet)...)
	sel.Warnings = append(sel.Warnings, fmt.Sprintf(
		"current project does not satisfy the engine requirements specified by any version of %s; fetching latest version anyway (may be incompatible)", info.Name))
	return sel
}

// failedRequirements returns the requirements in reqs the project fails.
// Platforms the project lacks and plugins it has not installed are not failures.
func failedRequirements(reqs map[string]string, project ProjectVersions) []Requirement {
	tool := project.Tool
	if v, err := semver.NewVersion(tool); err == nil && v.Prerelease() != "" {
		tool = v.IncPatch().String()
	}

	var failed []Requirement
	for _, name := range sortedNames(reqs) {
		required := strings.TrimSpace(reqs[name])
		dep := strings.TrimSpace(name)
		if !ValidRange(required) {
			continue
		}

		installed := ""
		switch {
		case project.Plugins[dep] != "":
			if !Satisfies(project.Plugins[dep], required) {
				installed = project.Plugins[dep]
			}
		case dep == ToolEngine:
			if tool != "" && !Satisfies(tool, required) {
				installed = project.Tool
			}
		case strings.HasPrefix(dep, platformEnginePrefix):
			platform := strings.TrimPrefix(dep, platformEnginePrefix)
			if v := project.Platforms[platform]; v != "" && !Satisfies(v, required) {
				installed = v
			}
		}

		if installed != "" {
			failed = append(failed, Requirement{Dependency: dep, Installed: strings.TrimSpace(installed), Required: required})
		}
	}
	return failed
}

func unmetWarnings(name string, unmet []Requirement) []string {
	if len(unmet) == 0 {
		return nil
	}
	warnings := []string{fmt.Sprintf("unmet project requirements for latest version of %s:", name)}
	for _, r := range unmet {
		warnings = append(warnings, "    "+r.String())
	}
	return warnings
}

func containsVersion(versions []string, v string) bool {
	for _, existing := range versions {
		if Compare(existing, v) == 0 {
			return true
		}
	}
	return false
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
