package increment

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/karrick/godirwalk"

	"github.com/sail-build/sail/internal/turbopath"
)

// matchFiles walks packageDir and returns every package-relative path that
// matches at least one of includes and none of excludes (a leading `!` is
// stripped from every pattern before compiling; which list a pattern is in,
// not the `!`, decides whether it excludes). Used both
// for a task's declared inputs and for its declared outputs.
func matchFiles(packageDir turbopath.AbsoluteSystemPath, includes, excludes []string) ([]string, error) {
	includeGlobs, err := compileGlobs(includes)
	if err != nil {
		return nil, err
	}
	excludeGlobs, err := compileGlobs(excludes)
	if err != nil {
		return nil, err
	}

	var matches []string
	walkErr := godirwalk.Walk(packageDir.ToString(), &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, info *godirwalk.Dirent) error {
			if info.IsDir() {
				return nil
			}
			rel, err := turbopath.AbsoluteSystemPath(path).RelativeTo(packageDir)
			if err != nil {
				return nil
			}
			unixRel := rel.ToUnixPath().ToString()
			if !anyMatches(includeGlobs, unixRel) {
				return nil
			}
			if anyMatches(excludeGlobs, unixRel) {
				return nil
			}
			matches = append(matches, unixRel)
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			return godirwalk.SkipNode
		},
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return matches, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	var out []glob.Glob
	for _, p := range patterns {
		p = strings.TrimPrefix(p, "!")
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func anyMatches(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}
