// Package config loads Sail's run configuration: global task definitions
// and a handful of run-wide defaults (concurrency, cache directory), merged
// from a user-global config file, a project config file, and environment
// variables, in that order of increasing precedence.
package config

import (
	"strings"

	"github.com/adrg/xdg"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/sail-build/sail/internal/taskdef"
	"github.com/sail-build/sail/internal/turbopath"
)

// ProjectFileName is the config file Sail looks for at the repository root.
const ProjectFileName = "sail"

// EnvPrefix namespaces environment variable overrides: SAIL_CONCURRENCY,
// SAIL_CACHE_DIR, and so on.
const EnvPrefix = "SAIL"

// rawTask is the config-file shape of one global task entry; field names
// match taskdef.RawOverride's so mapstructure needs no tag translation
// beyond the default lowercased-field convention viper already applies.
type rawTask struct {
	DependsOn  []string `mapstructure:"dependsOn"`
	Before     []string `mapstructure:"before"`
	After      []string `mapstructure:"after"`
	Outputs    []string `mapstructure:"outputs"`
	Cache      *bool    `mapstructure:"cache"`
	Persistent *bool    `mapstructure:"persistent"`
}

// FileConfig is the decoded shape of a sail config file.
type FileConfig struct {
	Concurrency int                `mapstructure:"concurrency"`
	CacheDir    string             `mapstructure:"cacheDir"`
	Tasks       map[string]rawTask `mapstructure:"tasks"`
}

// Loader reads and merges Sail's config sources into a FileConfig.
type Loader struct {
	v *viper.Viper
}

// NewLoader builds a Loader with SAIL_-prefixed environment variable
// overrides already wired in.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetDefault("concurrency", 10)
	return &Loader{v: v}
}

// Load reads the global user config (~/.config/sail/sail.yaml, via XDG),
// then the project config at repoRoot/sail.yaml if present, each layer
// overriding the previous, and decodes the result.
func (l *Loader) Load(repoRoot turbopath.AbsoluteSystemPath) (*FileConfig, error) {
	globalPath, err := xdg.ConfigFile("sail/sail.yaml")
	if err == nil && turbopath.AbsoluteSystemPath(globalPath).FileExists() {
		l.v.SetConfigFile(globalPath)
		if err := l.v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	projectPath := repoRoot.UntypedJoin("sail.yaml")
	if projectPath.FileExists() {
		l.v.SetConfigFile(projectPath.ToString())
		if err := l.v.MergeInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &FileConfig{}
	if err := l.v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultCacheDir returns the XDG cache directory Sail uses when no
// CacheDir is configured explicitly.
func DefaultCacheDir() turbopath.AbsoluteSystemPath {
	return turbopath.AbsoluteSystemPath(xdg.CacheHome).UntypedJoin("sail")
}

// GlobalTasks converts the config file's task table into the
// taskdef.RawOverride map sailrun.Options.GlobalTasks expects.
func (c *FileConfig) GlobalTasks() map[string]taskdef.RawOverride {
	out := make(map[string]taskdef.RawOverride, len(c.Tasks))
	for name, raw := range c.Tasks {
		ov := taskdef.RawOverride{
			DependsOn:  raw.DependsOn,
			Before:     raw.Before,
			After:      raw.After,
			Cache:      raw.Cache,
			Persistent: raw.Persistent,
		}
		if raw.Outputs != nil {
			ov.Outputs = &taskdef.TaskOutputs{Inclusions: includeGlobs(raw.Outputs), Exclusions: excludeGlobs(raw.Outputs)}
		}
		out[name] = ov
	}
	return out
}

func includeGlobs(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		if !strings.HasPrefix(p, "!") {
			out = append(out, p)
		}
	}
	return out
}

func excludeGlobs(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		if strings.HasPrefix(p, "!") {
			out = append(out, strings.TrimPrefix(p, "!"))
		}
	}
	return out
}
