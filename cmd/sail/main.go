package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/sail-build/sail/internal/config"
	"github.com/sail-build/sail/internal/discovery"
	"github.com/sail-build/sail/internal/executor"
	"github.com/sail-build/sail/internal/sailrun"
	"github.com/sail-build/sail/internal/termui"
	"github.com/sail-build/sail/internal/turbopath"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		cwd         string
		filters     []string
		concurrency int
		force       bool
		cacheDir    string
		noCache     bool
		logLevel    string
	)

	root := &cobra.Command{
		Use:   "sail [tasks...]",
		Short: "Sail runs tasks across a package monorepo, skipping what's already done",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, tasks []string) error {
			runID := uuid.New().String()
			logger := hclog.New(&hclog.LoggerOptions{
				Name:  "sail",
				Level: hclog.LevelFromString(logLevel),
			})
			logger = logger.With("run", runID)

			ui := termui.New(os.Stdout, os.Stderr)

			repoPath, err := repoRoot(cwd)
			if err != nil {
				return err
			}

			var discoveryErrs *multierror.Error
			catalog, err := discovery.Walk(repoPath, resolveFilterDirs(repoPath, filters), func(path string, err error) bool {
				discoveryErrs = multierror.Append(discoveryErrs, fmt.Errorf("%s: %w", path, err))
				return true
			})
			if err != nil {
				return err
			}
			if discoveryErrs != nil {
				logger.Warn("some manifests were skipped during discovery", "error", discoveryErrs)
			}

			fileCfg, err := config.NewLoader().Load(repoPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			resolvedCacheDir := turbopath.AbsoluteSystemPath(cacheDir)
			if cacheDir == "" {
				if fileCfg.CacheDir != "" {
					resolvedCacheDir = turbopath.AbsoluteSystemPath(fileCfg.CacheDir)
				} else {
					resolvedCacheDir = config.DefaultCacheDir()
				}
			}
			resolvedConcurrency := concurrency
			if !cmd.Flags().Changed("concurrency") {
				resolvedConcurrency = fileCfg.Concurrency
			}

			reporter := termui.NewReporter(ui, len(catalog.Packages)*len(tasks))
			defer reporter.Finish()

			result, err := sailrun.Run(context.Background(), sailrun.Options{
				Catalog:           catalog,
				GlobalTasks:       fileCfg.GlobalTasks(),
				Tasks:             tasks,
				ReleaseGroupRoots: map[string]bool{},
				Concurrency:       resolvedConcurrency,
				Force:             force,
				MaxAttempts:       3,
				CacheDisabled:     noCache,
				CacheRoot:         resolvedCacheDir,
				Progress:          reporter.Report,
				Logger:            logger,
			})
			if err != nil {
				ui.Error(err.Error())
				if result.Status != executor.Failed {
					// The run stopped before any task executed, so there
					// is no task status to report.
					return errSilentFailure
				}
			}
			ui.Output(fmt.Sprintf("run %s: %s", runID, result.Status))
			if result.Status == executor.Failed {
				return errSilentFailure
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cwd, "cwd", "", "directory to run in (default: current directory)")
	flags.StringArrayVar(&filters, "filter", nil, "restrict the run to these package names and their dependents")
	flags.IntVar(&concurrency, "concurrency", 10, "maximum number of tasks to run at once")
	flags.BoolVar(&force, "force", false, "ignore the cache and done-files, rerun everything")
	flags.StringVar(&cacheDir, "cache-dir", "", "override the shared cache directory")
	flags.BoolVar(&noCache, "no-cache", false, "disable the shared cache for this run")
	flags.StringVar(&logLevel, "log-level", "warn", "trace, debug, info, warn, or error")

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if err == errSilentFailure {
			return 1
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// errSilentFailure signals a failed run (a task failure or an error that
// stopped the run early) that has already been reported through the Ui, so
// cobra shouldn't print it again.
var errSilentFailure = fmt.Errorf("run failed")

func repoRoot(cwd string) (turbopath.AbsoluteSystemPath, error) {
	if cwd != "" {
		abs, err := filepath.Abs(cwd)
		if err != nil {
			return "", err
		}
		return turbopath.AbsoluteSystemPath(abs), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return turbopath.AbsoluteSystemPath(wd), nil
}

// resolveFilterDirs converts --filter package names into the directories
// discovery.Walk expects, by first walking once to find every manifest and
// matching names against it. An empty filter list means "everything".
func resolveFilterDirs(root turbopath.AbsoluteSystemPath, filters []string) []string {
	if len(filters) == 0 {
		return nil
	}
	catalog, err := discovery.Walk(root, nil, func(string, error) bool { return true })
	if err != nil {
		return nil
	}
	wanted := make(map[string]bool, len(filters))
	for _, f := range filters {
		wanted[f] = true
	}
	var dirs []string
	for name, pkg := range catalog.Packages {
		if wanted[name] {
			dirs = append(dirs, pkg.Dir.ToString())
		}
	}
	return dirs
}
