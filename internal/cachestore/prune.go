package cachestore

import (
	"sort"

	"github.com/nightlyone/lockfile"
)

// Prune evicts cache entries in least-recently-used order until the total
// size is at or under maxSizeBytes, deleting whole entry directories (never
// individual files). A process-wide pidfile-style lock guards prune against
// another Sail process pruning concurrently; failure to acquire it is not
// fatal — Prune then returns nil without evicting anything, leaving the
// work to the process that holds the lock.
func (s *Store) Prune(maxSizeBytes int64) error {
	lock, lockErr := lockfile.New(s.root.UntypedJoin("prune.lock").ToString())
	if lockErr == nil {
		if err := lock.TryLock(); err != nil {
			return nil
		}
		defer func() { _ = lock.Unlock() }()
	}

	entries := s.index.snapshot()
	type keyed struct {
		key   string
		entry indexEntry
	}
	var sorted []keyed
	var total int64
	for k, e := range entries {
		sorted = append(sorted, keyed{k, e})
		total += e.Size
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].entry.LastAccess < sorted[j].entry.LastAccess })

	var prunedCount int
	var prunedSize int64
	for _, item := range sorted {
		if total <= maxSizeBytes {
			break
		}
		if err := s.entryDir(item.key).RemoveAll(); err != nil {
			continue
		}
		if err := s.index.remove(item.key); err != nil {
			continue
		}
		total -= item.entry.Size
		prunedCount++
		prunedSize += item.entry.Size
	}
	if prunedCount > 0 {
		s.statistics.recordPrune(prunedCount, prunedSize)
	}
	return nil
}
