// Package cachestore implements the shared, content-addressed cache: a
// directory tree keyed by CacheKey holding each task's captured outputs,
// plus the index and statistics files used for LRU eviction and reporting.
package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/DataDog/zstd"
	"github.com/hashicorp/go-hclog"
	"github.com/moby/sys/sequential"

	"github.com/sail-build/sail/internal/turbopath"
)

const schemaDir = "v1"

// Store is the content-addressed cache rooted at a configurable directory.
// It is instantiated once per run and passed explicitly through the build
// context rather than held globally.
type Store struct {
	root       turbopath.AbsoluteSystemPath
	index      *index
	statistics *statisticsStore
	log        hclog.Logger

	// SkipWrite makes Store a read-only cache (the `skipCacheWrite` CLI
	// option): lookups and restores still work, Store() is a no-op.
	SkipWrite bool
	// VerifyIntegrity rehashes every restored file and compares it to the
	// manifest before declaring a restore successful.
	VerifyIntegrity bool
}

// New opens (creating if necessary) a cache store rooted at root/v1.
func New(root turbopath.AbsoluteSystemPath, log hclog.Logger) (*Store, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	versioned := root.UntypedJoin(schemaDir)
	if err := versioned.MkdirAll(); err != nil {
		return nil, err
	}
	idx, err := loadIndex(versioned.UntypedJoin("index.json"))
	if err != nil {
		return nil, err
	}
	stats, err := loadStatistics(versioned.UntypedJoin("statistics.json"))
	if err != nil {
		return nil, err
	}
	return &Store{root: versioned, index: idx, statistics: stats, log: log.Named("cachestore")}, nil
}

func (s *Store) entryDir(key string) turbopath.AbsoluteSystemPath {
	return s.root.UntypedJoin("entries", key)
}

// Lookup reads a cache entry's manifest, returning (manifest, true) on hit.
// A missing or unparsable manifest is a miss, never an error: all cache
// errors degrade rather than fail the build.
func (s *Store) Lookup(key string) (*Manifest, bool) {
	manifestPath := s.entryDir(key).UntypedJoin("manifest.json")
	data, err := os.ReadFile(manifestPath.ToString())
	if err != nil {
		s.statistics.recordMiss()
		return nil, false
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		s.log.Debug("corrupt manifest, treating as miss", "key", key, "error", err)
		s.statistics.recordMiss()
		return nil, false
	}
	s.index.get(key, nowMs())
	return &manifest, true
}

// Restore copies every output file in manifest from the entry directory into
// packageDir, recreating intermediate directories. If VerifyIntegrity is
// set, each restored file is rehashed and compared to the manifest; a
// mismatch aborts the restore and reports corruption rather than handing the
// caller a silently wrong build.
func (s *Store) Restore(key string, manifest *Manifest, packageDir turbopath.AbsoluteSystemPath) error {
	start := nowMs()
	entryOutputs := s.entryDir(key).UntypedJoin("outputs")

	for _, out := range manifest.Outputs {
		rel := turbopath.AnchoredSystemPath(out.Path)
		if err := packageDir.EnsureWithin(rel); err != nil {
			return err
		}
		dest := rel.RestoreAnchor(packageDir)
		src := entryOutputs.UntypedJoin(out.Path + ".zst")

		if err := dest.UntypedJoin("..").MkdirAll(); err != nil {
			return err
		}
		if err := decompressFile(src, dest, os.FileMode(out.Mode)); err != nil {
			return err
		}
		if s.VerifyIntegrity {
			hash, err := hashFile(dest)
			if err != nil || hash != out.Hash {
				return &ErrCorruptEntry{Key: key, Path: out.Path}
			}
		}
	}

	elapsed := nowMs() - start
	s.statistics.recordHit(elapsed, estimateTimeSaved(manifest))
	return nil
}

// ErrCorruptEntry is returned by Restore/Verify when a restored or scanned
// file's hash no longer matches the manifest.
type ErrCorruptEntry struct {
	Key  string
	Path string
}

func (e *ErrCorruptEntry) Error() string {
	return "cache entry " + e.Key + " is corrupt at " + e.Path
}

// StoreOutputs writes outputs (a set of package-relative paths) into a fresh
// entry directory for key, using the atomic-rename pattern: every file is
// written to a temp path and renamed into place only once the whole entry is
// ready, and the index is only updated — the commit point — after that
// succeeds. Failed tasks (non-zero exit) must never reach this call.
func (s *Store) StoreOutputs(key string, packageDir turbopath.AbsoluteSystemPath, outputs []turbopath.AnchoredSystemPath, stdout, stderr string, executionTimeMs int64) error {
	if s.SkipWrite {
		return nil
	}

	entryDir := s.entryDir(key)
	tmpDir := s.root.UntypedJoin("entries", ".tmp-"+key+"-"+tempSuffix())
	if err := tmpDir.MkdirAll(); err != nil {
		return err
	}

	var totalSize int64
	files := make([]OutputFile, 0, len(outputs))
	for _, rel := range outputs {
		src := rel.RestoreAnchor(packageDir)
		info, err := src.Lstat()
		if err != nil {
			// An output the task declared but didn't actually produce is
			// simply skipped, matching done-file "<missing>" handling.
			continue
		}
		hash, err := hashFile(src)
		if err != nil {
			return err
		}
		dest := tmpDir.UntypedJoin("outputs", rel.ToString()+".zst")
		if err := dest.UntypedJoin("..").MkdirAll(); err != nil {
			return err
		}
		if err := compressFile(src, dest); err != nil {
			return err
		}
		files = append(files, OutputFile{Path: rel.ToString(), Hash: hash, Size: info.Size(), Mode: uint32(info.Mode().Perm())})
		totalSize += info.Size()
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	manifest := Manifest{
		CacheKey:        key,
		CreatedAt:       nowMs(),
		Outputs:         files,
		Stdout:          stdout,
		Stderr:          stderr,
		ExitCode:        0,
		ExecutionTimeMs: executionTimeMs,
		TotalSize:       totalSize,
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmpDir.UntypedJoin("manifest.json").ToString(), manifestData, 0644); err != nil {
		return err
	}

	// Two concurrent stores of the same key may both reach this point; only
	// one rename of tmpDir -> entryDir can win on a filesystem that disallows
	// renaming onto an existing directory, so remove any stale entry first.
	// The loser's tmpDir stays on disk; Prune walks only indexed entries
	// and does not remove it.
	_ = entryDir.RemoveAll()
	if err := tmpDir.Rename(entryDir); err != nil {
		return err
	}

	if err := s.index.put(key, indexEntry{EntryDir: "entries/" + key, LastAccess: nowMs(), Size: totalSize}); err != nil {
		return err
	}
	s.statistics.recordStore(totalSize)
	return nil
}

// Statistics returns a snapshot of the store's running counters.
func (s *Store) Statistics() Statistics {
	return s.statistics.snapshot()
}

func tempSuffix() string {
	return hex.EncodeToString(randBytes(4))
}

func hashFile(path turbopath.AbsoluteSystemPath) (string, error) {
	f, err := path.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func compressFile(src, dest turbopath.AbsoluteSystemPath) error {
	in, err := sequential.OpenFile(src.ToString(), os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := dest.OpenFile(os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()
	zw := zstd.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

func decompressFile(src, dest turbopath.AbsoluteSystemPath, mode os.FileMode) error {
	in, err := src.Open()
	if err != nil {
		return err
	}
	defer in.Close()
	zr := zstd.NewReader(in)
	defer zr.Close()

	if mode == 0 {
		mode = 0644
	}
	out, err := sequential.OpenFile(dest.ToString(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, zr)
	return err
}

func estimateTimeSaved(manifest *Manifest) int64 {
	return manifest.ExecutionTimeMs
}
