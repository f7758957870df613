// Package filehash memoizes SHA-256 digests of files keyed by path. It is
// the leaf dependency of the whole system: the incremental-check adapter and
// the cache key computation both go through it rather than hashing a file
// more than once per run.
package filehash

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"golang.org/x/sync/singleflight"
)

// Missing is the sentinel hash value used for a file that does not exist.
// Using a stable string rather than erroring means a missing output
// produces a stable, comparable done-file entry instead of a hashing
// failure (see SPEC_FULL.md §9 "done-files must use content hashes").
const Missing = "<missing>"

// Cache memoizes file hashes for the lifetime of a single run. It must be
// constructed fresh per run (never as a package-level global) so that tests
// stay hermetic and so that a long-lived daemon process cannot serve a stale
// hash for a file that changed between runs.
type Cache struct {
	group singleflight.Group
	cache syncMap
}

// New creates an empty, run-scoped file hash cache.
func New() *Cache {
	return &Cache{}
}

// Hash returns the hex-encoded SHA-256 digest of the file at path, or the
// Missing sentinel if the file does not exist. Concurrent calls for the
// same path share a single underlying read+hash via singleflight.
func (c *Cache) Hash(path string) (string, error) {
	if v, ok := c.cache.Load(path); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(path, func() (interface{}, error) {
		if cached, ok := c.cache.Load(path); ok {
			return cached, nil
		}
		h, hashErr := hashFile(path)
		if hashErr != nil {
			return "", hashErr
		}
		c.cache.Store(path, h)
		return h, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Missing, nil
		}
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
