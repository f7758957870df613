package cachestore

import (
	"crypto/rand"
	"time"
)

// nowMs is the single seam for "current time" in this package, so tests can
// reason about ordering without depending on wall-clock time directly.
func nowMs() int64 {
	return time.Now().UnixMilli()
}

func randBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}
