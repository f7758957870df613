package increment

import (
	"strings"

	"github.com/sail-build/sail/internal/cachestore"
	"github.com/sail-build/sail/internal/filehash"
	"github.com/sail-build/sail/internal/taskdef"
	"github.com/sail-build/sail/internal/turbopath"
)

// Outcome is the result of a pre-execution Check.
type Outcome int

const (
	// Run means no done-file or cache match was found; the task must
	// actually execute.
	Run Outcome = iota
	// UpToDate means the local done-file already matches; execution is
	// skipped entirely.
	UpToDate
	// CachedHit means the shared cache store supplied the outputs; they've
	// already been restored into the package directory.
	CachedHit
)

// CheckResult carries everything Finalize needs after a real execution, plus
// enough information for the executor to decide what to do.
type CheckResult struct {
	Outcome   Outcome
	CacheKey  string
	DepHash   string
	Command   string
	SrcHashes []NamedHash
	Stdout    string
	Stderr    string
	ElapsedMs int64
}

// Env is the run-wide context an Adapter needs: the shared file-hash cache,
// the shared cache store (nil disables the shared cache entirely), and the
// fixed key inputs that don't vary per task (runtime/platform/lockfile/env).
type Env struct {
	Files       *filehash.Cache
	Cache       *cachestore.Store
	KeyContext  cachestore.CacheKeyInputs // Package/Task/Executable/Command/Inputs left zero; filled per task
}

// Adapter runs the incremental check and cache lookup for one leaf task.
type Adapter struct {
	Env
	PackageDir turbopath.AbsoluteSystemPath
	// LockfilePath, if set, is hashed into this task's cache key so a
	// dependency upgrade busts the cache even when no declared input file
	// changed.
	LockfilePath turbopath.AbsoluteSystemPath
	TaskName     string
	Def          taskdef.TaskDefinition
}

// DependencyFingerprint computes the fingerprint for one dependency task's
// already-computed post-execution state: for a leaf dependency, a canonical
// string form of its done-file content; for a group dependency, the concatenation of its
// children's fingerprints.
func DependencyFingerprint(packageDir turbopath.AbsoluteSystemPath, taskName string, isGroup bool, childFingerprints []string) string {
	if isGroup {
		return strings.Join(childFingerprints, "|")
	}
	df, ok := readDoneFile(packageDir, taskName)
	if !ok {
		return filehash.Missing
	}
	data := canonicalDoneFileBytes(df)
	return data
}

// canonicalDoneFileBytes produces a stable string form of a done-file's
// content for use as a dependency fingerprint. It is intentionally simpler
// than a full hash: it covers the (sorted) source and output hash lists and
// DepHash only, so unlike DoneFile.Equal it ignores ToolVersion and
// CommandLine.
func canonicalDoneFileBytes(df DoneFile) string {
	var b strings.Builder
	for _, h := range sortedCopy(df.SrcHashes) {
		b.WriteString(h.Name)
		b.WriteByte('=')
		b.WriteString(h.Hash)
		b.WriteByte(';')
	}
	for _, h := range sortedCopy(df.DstHashes) {
		b.WriteString(h.Name)
		b.WriteByte('=')
		b.WriteString(h.Hash)
		b.WriteByte(';')
	}
	b.WriteString(df.DepHash)
	return b.String()
}

// Check runs the pre-execution decision sequence: hash inputs, compute the
// dependency fingerprint, compare against the local done-file, and on a
// local miss fall through to the shared cache.
func (a *Adapter) Check(depHash string, command string) (CheckResult, error) {
	return a.check(depHash, command, false)
}

// ForceCheck computes the same cache key and source hashes as Check, but
// never consults the local done-file or the shared cache: it always reports
// Run. Used when the caller bypasses all skip logic (the CLI `force` flag).
func (a *Adapter) ForceCheck(depHash string, command string) (CheckResult, error) {
	return a.check(depHash, command, true)
}

func (a *Adapter) check(depHash string, command string, force bool) (CheckResult, error) {
	inputPaths, err := matchFiles(a.PackageDir, a.Def.Inputs, nil)
	if err != nil {
		return CheckResult{}, err
	}
	srcHashes := make([]NamedHash, 0, len(inputPaths))
	for _, rel := range inputPaths {
		abs := turbopath.AnchoredSystemPath(rel).RestoreAnchor(a.PackageDir)
		hash, hashErr := a.Files.Hash(abs.ToString())
		if hashErr != nil {
			return CheckResult{}, hashErr
		}
		srcHashes = append(srcHashes, NamedHash{Name: rel, Hash: hash})
	}

	outputPaths, err := matchFiles(a.PackageDir, a.Def.Outputs.Inclusions, a.Def.Outputs.Exclusions)
	if err != nil {
		return CheckResult{}, err
	}
	dstHashes := make([]NamedHash, 0, len(outputPaths))
	for _, rel := range outputPaths {
		abs := turbopath.AnchoredSystemPath(rel).RestoreAnchor(a.PackageDir)
		hash, hashErr := a.Files.Hash(abs.ToString())
		if hashErr != nil {
			return CheckResult{}, hashErr
		}
		dstHashes = append(dstHashes, NamedHash{Name: rel, Hash: hash})
	}

	candidate := DoneFile{
		SrcHashes:   srcHashes,
		DstHashes:   dstHashes,
		DepHash:     depHash,
		CommandLine: command,
	}

	if !force {
		if existing, ok := readDoneFile(a.PackageDir, a.TaskName); ok && existing.Equal(candidate) {
			return CheckResult{Outcome: UpToDate, SrcHashes: srcHashes, DepHash: depHash, Command: command}, nil
		}
	}

	key := a.Env.KeyContext
	key.Package, key.Task, key.Command = packageName(a.PackageDir), a.TaskName, command
	key.Inputs = toInputHashes(srcHashes)
	if a.LockfilePath != "" {
		lockHash, hashErr := a.Files.Hash(a.LockfilePath.ToString())
		if hashErr != nil {
			return CheckResult{}, hashErr
		}
		key.LockfileHash = lockHash
	}
	cacheKey := cachestore.ComputeKey(key)

	if !force && a.cacheable() && a.Env.Cache != nil {
		if manifest, hit := a.Env.Cache.Lookup(cacheKey); hit {
			if err := a.Env.Cache.Restore(cacheKey, manifest, a.PackageDir); err == nil {
				// Record the outputs as restored: rematch and hash them with a
				// fresh cache, since a.Files holds their pre-restore hashes.
				restored := candidate
				restoredPaths, rehashErr := matchFiles(a.PackageDir, a.Def.Outputs.Inclusions, a.Def.Outputs.Exclusions)
				fresh := filehash.New()
				restored.DstHashes = make([]NamedHash, 0, len(restoredPaths))
				for _, rel := range restoredPaths {
					hash, hashErr := fresh.Hash(turbopath.AnchoredSystemPath(rel).RestoreAnchor(a.PackageDir).ToString())
					if hashErr != nil {
						rehashErr = hashErr
					}
					restored.DstHashes = append(restored.DstHashes, NamedHash{Name: rel, Hash: hash})
				}
				if rehashErr == nil && writeDoneFile(a.PackageDir, a.TaskName, restored) == nil {
					return CheckResult{
						Outcome:   CachedHit,
						CacheKey:  cacheKey,
						DepHash:   depHash,
						Command:   command,
						SrcHashes: srcHashes,
						Stdout:    manifest.Stdout,
						Stderr:    manifest.Stderr,
					}, nil
				}
			}
			// Restore failure degrades to a miss; fall through to Run.
		}
	}

	return CheckResult{Outcome: Run, CacheKey: cacheKey, DepHash: depHash, Command: command, SrcHashes: srcHashes}, nil
}

// Finalize runs after a real (non-skipped) execution that exited 0: it
// rehashes outputs, writes the done-file, and stores into the shared cache
// if the task is cacheable.
func (a *Adapter) Finalize(result CheckResult, stdout, stderr string, executionTimeMs int64) error {
	outputPaths, err := matchFiles(a.PackageDir, a.Def.Outputs.Inclusions, a.Def.Outputs.Exclusions)
	if err != nil {
		return err
	}
	dstHashes := make([]NamedHash, 0, len(outputPaths))
	anchored := make([]turbopath.AnchoredSystemPath, 0, len(outputPaths))
	fresh := filehash.New() // a.Files may hold hashes taken before the command ran
	for _, rel := range outputPaths {
		abs := turbopath.AnchoredSystemPath(rel).RestoreAnchor(a.PackageDir)
		hash, hashErr := fresh.Hash(abs.ToString())
		if hashErr != nil {
			return hashErr
		}
		dstHashes = append(dstHashes, NamedHash{Name: rel, Hash: hash})
		anchored = append(anchored, turbopath.AnchoredSystemPath(rel))
	}

	df := DoneFile{
		SrcHashes:   result.SrcHashes,
		DstHashes:   dstHashes,
		DepHash:     result.DepHash,
		CommandLine: result.Command,
	}
	if err := writeDoneFile(a.PackageDir, a.TaskName, df); err != nil {
		return err
	}

	if a.cacheable() && a.Env.Cache != nil {
		// Cache errors are logged upstream (by the store itself) and never
		// fail the task.
		_ = a.Env.Cache.StoreOutputs(result.CacheKey, a.PackageDir, anchored, stdout, stderr, executionTimeMs)
	}
	return nil
}

// cacheable reports whether this task is eligible for the shared cache.
// Persistent tasks, an explicit opt-out, no declared outputs at all, or a
// compile-time deny list all make a task uncacheable. A task that declares
// an output set and it merely happens to match zero files (including one
// that declares `outputs: []` outright) is still cacheable: the stored
// entry just has an empty output list and restoring it is a no-op.
func (a *Adapter) cacheable() bool {
	if a.Def.Persistent {
		return false
	}
	if a.Def.Cache != nil && !*a.Def.Cache {
		return false
	}
	if len(a.Def.Outputs.Inclusions) == 0 && !a.Def.Outputs.Declared {
		return false
	}
	if denyListed[a.TaskName] {
		return false
	}
	return true
}

// denyListed names task kinds that must never be cached regardless of their
// declared outputs, because their effect is inherently non-reproducible
// (e.g. an interactive dev server never terminates to produce a stable
// output set).
var denyListed = map[string]bool{
	"dev":   true,
	"start": true,
}

func toInputHashes(named []NamedHash) []cachestore.InputHash {
	out := make([]cachestore.InputHash, len(named))
	for i, n := range named {
		out[i] = cachestore.InputHash{Path: n.Name, Hash: n.Hash}
	}
	return out
}

func packageName(dir turbopath.AbsoluteSystemPath) string {
	return dir.ToString()
}
