package taskdef

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeGlobal_Defaults(t *testing.T) {
	def := NormalizeGlobal("build", nil)
	require.Empty(t, def.DependsOn)
	require.Empty(t, def.Before)
	require.Equal(t, []string{"^*"}, def.After)
	require.True(t, def.Script)
}

func TestNormalizeGlobal_CleanSpecialCase(t *testing.T) {
	def := NormalizeGlobal("clean", nil)
	require.Equal(t, []string{"*"}, def.Before)
	require.Empty(t, def.After)
}

func TestResolve_LocalOverridesGlobal(t *testing.T) {
	globals := map[string]RawOverride{
		"build": {DependsOn: []string{"^build"}},
	}
	locals := map[string]RawOverride{
		"build": {DependsOn: []string{"..."}, Command: "tsc -b"},
	}
	defs, err := Resolve(globals, locals, map[string]string{"build": "tsc -b"}, nil, false)
	require.NoError(t, err)
	require.Equal(t, []string{"^build"}, defs["build"].DependsOn)
	require.Equal(t, "tsc -b", defs["build"].Command)
}

func TestResolve_ScriptOnlyOverrideRunsAsLeafTask(t *testing.T) {
	locals := map[string]RawOverride{
		"format": {Command: "prettier --write ."},
	}
	defs, err := Resolve(nil, locals, map[string]string{"format": "prettier --write ."}, nil, false)
	require.NoError(t, err)
	require.True(t, defs["format"].Script)
	require.Equal(t, "prettier --write .", defs["format"].Command)
}

func TestResolve_EllipsisNoopWhenGlobalAbsent(t *testing.T) {
	locals := map[string]RawOverride{
		"lint": {DependsOn: []string{"...", "^lint"}},
	}
	defs, err := Resolve(nil, locals, nil, nil, false)
	require.NoError(t, err)
	require.Equal(t, []string{"^lint"}, defs["lint"].DependsOn)
}

func TestResolve_ExplicitChildrenIsError(t *testing.T) {
	locals := map[string]RawOverride{
		"build": {Children: []string{"compile"}},
	}
	_, err := Resolve(nil, locals, nil, nil, false)
	require.Error(t, err)
	require.IsType(t, &ErrExplicitChildren{}, err)
}

func TestResolve_WildcardOnlyInBeforeAfter(t *testing.T) {
	locals := map[string]RawOverride{
		"build": {DependsOn: []string{"*"}},
	}
	_, err := Resolve(nil, locals, nil, nil, false)
	require.Error(t, err)
}

func TestResolve_PackageTaskTokenForbiddenInGlobal(t *testing.T) {
	globals := map[string]RawOverride{
		"build": {DependsOn: []string{"util#build"}},
	}
	_, err := Resolve(globals, nil, nil, nil, false)
	require.Error(t, err)
}

func TestResolve_BeforeAfterForbiddenOnNonScript(t *testing.T) {
	locals := map[string]RawOverride{
		"build": {Script: boolPtr(false), Before: []string{"*"}},
	}
	_, err := Resolve(nil, locals, nil, nil, false)
	require.Error(t, err)
	require.IsType(t, &ErrBeforeAfterOnNonScript{}, err)
}

func TestResolve_SynthesizesRootTaskForUnconfiguredReleaseRoot(t *testing.T) {
	defs, err := Resolve(nil, nil, nil, []string{"build"}, true)
	require.NoError(t, err)
	require.Equal(t, []string{"^build"}, defs["build"].DependsOn)
	require.False(t, defs["build"].Script)
}

func TestInferChildren_NpmRun(t *testing.T) {
	scripts := map[string]string{
		"build": "npm run compile",
	}
	children := inferChildren(scripts, "build")
	require.Equal(t, []string{"compile"}, children)
}

func TestInferChildren_NpmRunWithArgsIsOpaque(t *testing.T) {
	scripts := map[string]string{
		"build": "npm run compile -- --watch",
	}
	children := inferChildren(scripts, "build")
	require.Nil(t, children)
}

func TestInferChildren_ConcurrentlyWildcard(t *testing.T) {
	scripts := map[string]string{
		"build":       `concurrently "npm:build:*"`,
		"build:types": "tsc --emitDeclarationOnly",
		"build:js":    "esbuild src/index.ts",
		"lint":        "eslint .",
	}
	children := inferChildren(scripts, "build")
	require.ElementsMatch(t, []string{"build:types", "build:js"}, children)
}

func TestInferChildren_ConcurrentlyUnmatchedPrefixIsAllowed(t *testing.T) {
	scripts := map[string]string{
		"build": `concurrently "npm:nothing-matches:*"`,
	}
	children := inferChildren(scripts, "build")
	require.Nil(t, children)
}

func boolPtr(b bool) *bool { return &b }
