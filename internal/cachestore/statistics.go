package cachestore

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/sail-build/sail/internal/turbopath"
)

// Statistics is the persisted, running set of cache counters.
type Statistics struct {
	TotalEntries  int   `json:"totalEntries"`
	TotalSize     int64 `json:"totalSize"`
	HitCount      int64 `json:"hitCount"`
	MissCount     int64 `json:"missCount"`
	AvgRestoreMs  int64 `json:"avgRestoreTime"`
	TimeSavedMs   int64 `json:"timeSavedMs"`
	restoreTimeMs int64 // running sum, used to derive AvgRestoreMs
}

type statisticsStore struct {
	mu   sync.Mutex
	path turbopath.AbsoluteSystemPath
	data Statistics
}

func loadStatistics(path turbopath.AbsoluteSystemPath) (*statisticsStore, error) {
	s := &statisticsStore{path: path}
	data, err := os.ReadFile(path.ToString())
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.data); err != nil {
		s.data = Statistics{}
	}
	return s, nil
}

func (s *statisticsStore) recordHit(restoreTimeMs, estimatedTimeSavedMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.HitCount++
	s.data.restoreTimeMs += restoreTimeMs
	s.data.AvgRestoreMs = s.data.restoreTimeMs / s.data.HitCount
	s.data.TimeSavedMs += estimatedTimeSavedMs
	_ = s.saveLocked()
}

func (s *statisticsStore) recordMiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.MissCount++
	_ = s.saveLocked()
}

func (s *statisticsStore) recordStore(size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.TotalEntries++
	s.data.TotalSize += size
	_ = s.saveLocked()
}

func (s *statisticsStore) recordPrune(entries int, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.TotalEntries -= entries
	s.data.TotalSize -= size
	_ = s.saveLocked()
}

func (s *statisticsStore) snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func (s *statisticsStore) saveLocked() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.path, data)
}
