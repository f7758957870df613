package increment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sail-build/sail/internal/cachestore"
	"github.com/sail-build/sail/internal/filehash"
	"github.com/sail-build/sail/internal/taskdef"
	"github.com/sail-build/sail/internal/turbopath"
	"github.com/stretchr/testify/require"
)

func newAdapter(t *testing.T, pkgDir string, def taskdef.TaskDefinition) *Adapter {
	t.Helper()
	store, err := cachestore.New(turbopath.AbsoluteSystemPath(t.TempDir()), nil)
	require.NoError(t, err)
	return &Adapter{
		Env:        Env{Files: filehash.New(), Cache: store},
		PackageDir: turbopath.AbsoluteSystemPath(pkgDir),
		TaskName:   "build",
		Def:        def,
	}
}

func TestCheck_RunsWhenNoDoneFileExists(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src.txt"), []byte("hi"), 0644))

	a := newAdapter(t, dir, taskdef.TaskDefinition{
		Inputs:  []string{"src.txt"},
		Outputs: taskdef.TaskOutputs{Inclusions: []string{"out.txt"}},
	})

	result, err := a.Check("", "echo hi > out.txt")
	require.NoError(t, err)
	require.Equal(t, Run, result.Outcome)
}

func TestCheckThenFinalize_SecondCheckIsUpToDate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src.txt"), []byte("hi"), 0644))

	a := newAdapter(t, dir, taskdef.TaskDefinition{
		Inputs:  []string{"src.txt"},
		Outputs: taskdef.TaskOutputs{Inclusions: []string{"out.txt"}},
	})

	first, err := a.Check("", "echo hi > out.txt")
	require.NoError(t, err)
	require.Equal(t, Run, first.Outcome)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.txt"), []byte("hi\n"), 0644))
	require.NoError(t, a.Finalize(first, "hi\n", "", 5))

	second, err := a.Check("", "echo hi > out.txt")
	require.NoError(t, err)
	require.Equal(t, UpToDate, second.Outcome)
}

func TestCheck_SourceChangeInvalidatesUpToDate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src.txt"), []byte("hi"), 0644))

	a := newAdapter(t, dir, taskdef.TaskDefinition{
		Inputs:  []string{"src.txt"},
		Outputs: taskdef.TaskOutputs{Inclusions: []string{"out.txt"}},
	})

	first, err := a.Check("", "echo hi > out.txt")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.txt"), []byte("hi\n"), 0644))
	require.NoError(t, a.Finalize(first, "hi\n", "", 5))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "src.txt"), []byte("changed"), 0644))
	second, err := a.Check("", "echo hi > out.txt")
	require.NoError(t, err)
	require.NotEqual(t, UpToDate, second.Outcome)
}

func TestCacheable_EmptyOutputsIsUncacheable(t *testing.T) {
	a := newAdapter(t, t.TempDir(), taskdef.TaskDefinition{})
	require.False(t, a.cacheable())
}

func TestCacheable_EmptyButDeclaredOutputsIsCacheable(t *testing.T) {
	a := newAdapter(t, t.TempDir(), taskdef.TaskDefinition{
		Outputs: taskdef.TaskOutputs{Declared: true},
	})
	require.True(t, a.cacheable())
}

func TestCacheable_ExplicitOptOut(t *testing.T) {
	no := false
	a := newAdapter(t, t.TempDir(), taskdef.TaskDefinition{
		Outputs: taskdef.TaskOutputs{Inclusions: []string{"out.txt"}},
		Cache:   &no,
	})
	require.False(t, a.cacheable())
}

func TestFinalize_PersistsCommandLineForLaterUpToDateCheck(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src.txt"), []byte("hi"), 0644))

	a := newAdapter(t, dir, taskdef.TaskDefinition{
		Inputs:  []string{"src.txt"},
		Outputs: taskdef.TaskOutputs{Inclusions: []string{"out.txt"}},
	})

	first, err := a.Check("", "echo hi > out.txt")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.txt"), []byte("hi\n"), 0644))
	require.NoError(t, a.Finalize(first, "hi\n", "", 5))

	df, ok := readDoneFile(dir, "build")
	require.True(t, ok)
	require.Equal(t, "echo hi > out.txt", df.CommandLine)
}

func TestCheck_LockfileChangeBustsCacheKey(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src.txt"), []byte("hi"), 0644))
	lockPath := filepath.Join(dir, "sail.lock")
	require.NoError(t, os.WriteFile(lockPath, []byte("v1"), 0644))

	a := newAdapter(t, dir, taskdef.TaskDefinition{
		Inputs:  []string{"src.txt"},
		Outputs: taskdef.TaskOutputs{Inclusions: []string{"out.txt"}},
	})
	a.LockfilePath = turbopath.AbsoluteSystemPath(lockPath)

	first, err := a.Check("", "echo hi > out.txt")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(lockPath, []byte("v2"), 0644))
	a.Files = filehash.New()
	second, err := a.Check("", "echo hi > out.txt")
	require.NoError(t, err)

	require.NotEqual(t, first.CacheKey, second.CacheKey)
}

func TestDependencyFingerprint_GroupConcatenatesChildren(t *testing.T) {
	fp := DependencyFingerprint(turbopath.AbsoluteSystemPath(t.TempDir()), "build", true, []string{"a", "b"})
	require.Equal(t, "a|b", fp)
}

func TestDependencyFingerprint_MissingDoneFileIsMissingSentinel(t *testing.T) {
	fp := DependencyFingerprint(turbopath.AbsoluteSystemPath(t.TempDir()), "build", false, nil)
	require.Equal(t, filehash.Missing, fp)
}
