// Package discovery builds a pkggraph.Catalog by walking a monorepo root,
// reading each package's manifest, and binding declared dependencies to
// sibling packages. This is a CLI-facing collaborator, not one of the seven
// core components: the core accepts an already-built Catalog and never
// touches the filesystem to produce one.
package discovery

import (
	"encoding/json"

	"github.com/karrick/godirwalk"

	"github.com/sail-build/sail/internal/pkggraph"
	"github.com/sail-build/sail/internal/turbopath"
)

// manifestFile is the on-disk manifest Sail reads per package, the
// language-agnostic equivalent of a package.json: a name, a set of named
// scripts, a workspace/release-group binding, and a dependency list given as
// sibling package names rather than version ranges.
type manifestFile struct {
	Name         string            `json:"name"`
	Scripts      map[string]string `json:"scripts"`
	Workspace    string            `json:"workspace"`
	ReleaseGroup string            `json:"releaseGroup"`
	DependsOn    []string          `json:"dependsOn"`
}

// ManifestName is the file discovery looks for in every directory it walks.
const ManifestName = "sail.pkg.json"

// LockfileName is the file, if present next to a manifest, recorded as the
// package's LockfilePath.
const LockfileName = "sail.lock"

// ErrorHandler receives a non-fatal error encountered while walking one
// subtree; returning true tells the walk to keep going.
type ErrorHandler func(path string, err error) bool

// Walk walks root looking for manifestFile files and returns the catalog of
// every package it finds. matched flags the packages whose directory is
// exactly one of the selector paths (a package in a subdirectory of a
// selector path is not matched); an empty selector list
// matches every discovered package.
func Walk(root turbopath.AbsoluteSystemPath, selectors []string, onError ErrorHandler) (*pkggraph.Catalog, error) {
	var packages []*pkggraph.Package

	walkErr := godirwalk.Walk(root.ToString(), &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, info *godirwalk.Dirent) error {
			if info.IsDir() {
				if isIgnoredDir(info.Name()) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if info.Name() != ManifestName {
				return nil
			}
			pkg, err := readManifest(turbopath.AbsoluteSystemPath(path))
			if err != nil {
				if onError != nil && onError(path, err) {
					return nil
				}
				return err
			}
			packages = append(packages, pkg)
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			if onError != nil && onError(path, err) {
				return godirwalk.SkipNode
			}
			return godirwalk.Halt
		},
	})
	if walkErr != nil {
		return nil, walkErr
	}

	for _, pkg := range packages {
		pkg.Matched = matchesAnySelector(pkg.Dir, selectors)
	}

	return pkggraph.NewCatalog(packages), nil
}

func readManifest(manifestPath turbopath.AbsoluteSystemPath) (*pkggraph.Package, error) {
	data, err := manifestPath.Open()
	if err != nil {
		return nil, err
	}
	defer data.Close()

	var mf manifestFile
	if err := json.NewDecoder(data).Decode(&mf); err != nil {
		return nil, err
	}

	dir := manifestPath.Dir()
	pkg := &pkggraph.Package{
		Name:         mf.Name,
		Dir:          dir,
		Scripts:      mf.Scripts,
		Workspace:    mf.Workspace,
		ReleaseGroup: mf.ReleaseGroup,
		DependsOn:    mf.DependsOn,
	}
	if lock := dir.UntypedJoin(LockfileName); lock.FileExists() {
		pkg.LockfilePath = lock
	}
	return pkg, nil
}

func isIgnoredDir(name string) bool {
	switch name {
	case "node_modules", ".git", ".sail":
		return true
	default:
		return false
	}
}

func matchesAnySelector(dir turbopath.AbsoluteSystemPath, selectors []string) bool {
	if len(selectors) == 0 {
		return true
	}
	dirStr := dir.ToString()
	for _, sel := range selectors {
		selPath := turbopath.AbsoluteSystemPath(sel).ToString()
		if dirStr == selPath {
			return true
		}
	}
	return false
}
