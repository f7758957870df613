package cachestore

import (
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sail-build/sail/internal/turbopath"
)

// tempName produces a sibling temp filename for the atomic-write pattern:
// same base name, a random suffix so concurrent writers never collide.
func tempName(path turbopath.AbsoluteSystemPath) string {
	base := filepath.Base(path.ToString())
	return base + ".tmp-" + uuid.NewString()
}
