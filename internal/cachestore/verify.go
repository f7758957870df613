package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"

	"github.com/DataDog/zstd"
)

// VerifyReport summarizes a full scan of the cache directory.
type VerifyReport struct {
	Scanned int
	Corrupt []string
	Removed []string
}

// Verify scans every indexed entry, rehashing its output files and
// comparing them to the manifest. When fix is true, corrupt entries are
// removed from disk and the index; otherwise they are only reported.
func (s *Store) Verify(fix bool) (VerifyReport, error) {
	report := VerifyReport{}
	for key := range s.index.snapshot() {
		report.Scanned++
		if !s.verifyEntry(key) {
			continue
		}
		report.Corrupt = append(report.Corrupt, key)
		if fix {
			_ = s.entryDir(key).RemoveAll()
			_ = s.index.remove(key)
			report.Removed = append(report.Removed, key)
		}
	}
	return report, nil
}

func (s *Store) verifyEntry(key string) (corrupt bool) {
	manifestPath := s.entryDir(key).UntypedJoin("manifest.json")
	data, err := os.ReadFile(manifestPath.ToString())
	if err != nil {
		return true
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return true
	}
	outputsDir := s.entryDir(key).UntypedJoin("outputs")
	for _, out := range manifest.Outputs {
		compressed := outputsDir.UntypedJoin(out.Path + ".zst")
		f, err := compressed.Open()
		if err != nil {
			return true
		}
		zr := zstd.NewReader(f)
		h := sha256.New()
		_, copyErr := io.Copy(h, zr)
		_ = zr.Close()
		_ = f.Close()
		if copyErr != nil || hex.EncodeToString(h.Sum(nil)) != out.Hash {
			return true
		}
	}
	return false
}
