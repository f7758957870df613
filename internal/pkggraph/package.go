// Package pkggraph holds the static description of a monorepo's packages,
// workspaces and release groups. Discovery of this data happens outside
// this package (internal/discovery builds it from sail.pkg.json manifests)
// and is handed in fully formed; this package only models
// the result and the same-release-group dependency graph between packages.
package pkggraph

import (
	"fmt"

	mapset "github.com/deckarep/golang-set"

	"github.com/sail-build/sail/internal/turbopath"
)

// RootPackageName is the reserved identity for tasks that run once, from the
// monorepo root, rather than once per package.
const RootPackageName = "//"

// Package is a single workspace member: a directory with a manifest of named
// script commands. Constructed once per run during discovery and immutable
// afterwards.
type Package struct {
	Name         string
	Dir          turbopath.AbsoluteSystemPath
	LockfilePath turbopath.AbsoluteSystemPath
	Scripts      map[string]string
	Workspace    string
	ReleaseGroup string
	// Matched records whether this package was part of the user's initial
	// selection (as opposed to being pulled in transitively as a dependency).
	Matched bool
	// DependsOn lists the names of other packages this package depends on,
	// as declared by the package manager's workspace protocol.
	DependsOn []string
}

// Catalog is the full set of packages known for a run, keyed by name.
type Catalog struct {
	Packages map[string]*Package
}

// NewCatalog builds a Catalog from a flat list of packages.
func NewCatalog(packages []*Package) *Catalog {
	c := &Catalog{Packages: make(map[string]*Package, len(packages))}
	for _, pkg := range packages {
		c.Packages[pkg.Name] = pkg
	}
	return c
}

// Get looks up a package by name.
func (c *Catalog) Get(name string) (*Package, bool) {
	pkg, ok := c.Packages[name]
	return pkg, ok
}

// DependencyFilter restricts which cross-package dependency edges count
// during graph construction — the typical filter is "only within the same
// release group."
type DependencyFilter func(pkg, dep *Package) bool

// SameReleaseGroup is the typical DependencyFilter: a package's dependency
// only counts if both packages ship together.
func SameReleaseGroup(pkg, dep *Package) bool {
	return pkg.ReleaseGroup == dep.ReleaseGroup
}

// MatchedSet returns the names of packages flagged as part of the user's
// initial selection.
func (c *Catalog) MatchedSet() mapset.Set {
	s := mapset.NewThreadUnsafeSet()
	for name, pkg := range c.Packages {
		if pkg.Matched {
			s.Add(name)
		}
	}
	return s
}

// FilteredDependencies returns the names of pkg's dependencies that pass
// filter and exist in the catalog.
func (c *Catalog) FilteredDependencies(pkg *Package, filter DependencyFilter) []string {
	out := make([]string, 0, len(pkg.DependsOn))
	for _, depName := range pkg.DependsOn {
		dep, ok := c.Packages[depName]
		if !ok {
			continue
		}
		if filter == nil || filter(pkg, dep) {
			out = append(out, depName)
		}
	}
	return out
}

// String implements fmt.Stringer for debug output and error messages.
func (p *Package) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s)", p.Name, p.Dir)
}
