package pluginhost

import (
	"runtime/debug"
	"strings"
	"sync"
)

// VersionSource yields one candidate version string. A blank result means
// the source has nothing to offer.
type VersionSource func() string

// VersionResolver picks a version from an ordered cascade of sources.
// Resolve runs the cascade at most once, even under concurrent first access.
type VersionResolver struct {
	resolve func() string
}

// NewVersionResolver creates a resolver over sources, tried in order.
func NewVersionResolver(sources ...VersionSource) *VersionResolver {
	sources = append([]VersionSource(nil), sources...)
	return &VersionResolver{
		resolve: sync.OnceValue(func() string {
			for _, src := range sources {
				if src == nil {
					continue
				}
				if v := strings.TrimSpace(src()); v != "" {
					return v
				}
			}
			return ""
		}),
	}
}

// Resolve returns the first non-blank version, or "" if every source is blank.
func (r *VersionResolver) Resolve() string {
	return r.resolve()
}

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// StaticVersion returns a source for a fixed string, typically a variable
// set with -ldflags "-X".
func StaticVersion(v string) VersionSource {
	return func() string { return v }
}

// ModuleVersion returns a source for the version the binary was built with
// for modulePath, either the main module or a dependency. Development
// builds report "(devel)", which counts as absent.
func ModuleVersion(modulePath string) VersionSource {
	return func() string {
		info, ok := readBuildInfo()
		if !ok {
			return ""
		}

		var version string
		if info.Main.Path == modulePath {
			version = info.Main.Version
		} else {
			for _, dep := range info.Deps {
				if dep.Path != modulePath {
					continue
				}
				if dep.Replace != nil && dep.Replace.Version != "" {
					version = dep.Replace.Version
				} else {
					version = dep.Version
				}
				break
			}
		}

		if version == "(devel)" {
			return ""
		}
		return version
	}
}

// VCSRevision returns a source for the VCS revision stamped into the binary,
// suffixed with "+dirty" for builds from a modified tree.
func VCSRevision() VersionSource {
	return func() string {
		info, ok := readBuildInfo()
		if !ok {
			return ""
		}

		var revision string
		var modified bool
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				revision = s.Value
			case "vcs.modified":
				modified = s.Value == "true"
			}
		}
		if revision != "" && modified {
			revision += "+dirty"
		}
		return revision
	}
}

// DefaultVersionSources is the standard cascade: the linker-injected
// version, then the module version, then the VCS revision.
func DefaultVersionSources(version, modulePath string) []VersionSource {
	return []VersionSource{
		StaticVersion(version),
		ModuleVersion(modulePath),
		VCSRevision(),
	}
}
