package turbopath

import (
	"os"
	"path/filepath"
)

// dirPermissions are the default permission bits applied to directories
// created on behalf of the cache store and incremental-check components.
const dirPermissions = 0775

// MkdirAll implements os.MkdirAll for an AbsoluteSystemPath.
func (p AbsoluteSystemPath) MkdirAll() error {
	return os.MkdirAll(p.ToString(), dirPermissions)
}

// OpenFile implements os.OpenFile for an AbsoluteSystemPath.
func (p AbsoluteSystemPath) OpenFile(flags int, mode os.FileMode) (*os.File, error) {
	return os.OpenFile(p.ToString(), flags, mode)
}

// Open implements os.Open for an AbsoluteSystemPath.
func (p AbsoluteSystemPath) Open() (*os.File, error) {
	return os.Open(p.ToString())
}

// Lstat implements os.Lstat for an AbsoluteSystemPath.
func (p AbsoluteSystemPath) Lstat() (os.FileInfo, error) {
	return os.Lstat(p.ToString())
}

// FileExists reports whether the path exists and is not a directory. It
// uses Lstat, so a symlink counts as existing whatever it points to.
func (p AbsoluteSystemPath) FileExists() bool {
	info, err := p.Lstat()
	return err == nil && !info.IsDir()
}

// DirExists reports whether the path exists and is a directory.
func (p AbsoluteSystemPath) DirExists() bool {
	info, err := p.Lstat()
	return err == nil && info.IsDir()
}

// Remove implements os.Remove for an AbsoluteSystemPath.
func (p AbsoluteSystemPath) Remove() error {
	return os.Remove(p.ToString())
}

// RemoveAll implements os.RemoveAll for an AbsoluteSystemPath.
func (p AbsoluteSystemPath) RemoveAll() error {
	return os.RemoveAll(p.ToString())
}

// Rename implements os.Rename from this path to newPath, the core primitive
// behind every atomic-write in the cache store and done-file writer.
func (p AbsoluteSystemPath) Rename(newPath AbsoluteSystemPath) error {
	return os.Rename(p.ToString(), newPath.ToString())
}

// UntypedJoin appends plain string segments (as opposed to Join, which only
// accepts already-stamped RelativeSystemPath values) onto this path. Used
// when building paths from data that doesn't originate as a relative
// filesystem path, e.g. a cache key or task name.
func (p AbsoluteSystemPath) UntypedJoin(segments ...string) AbsoluteSystemPath {
	return AbsoluteSystemPath(filepath.Join(append([]string{p.ToString()}, segments...)...))
}
