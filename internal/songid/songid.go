// Package songid derives the stable catalog identifier for a song from
// its source path, per spec §3: "song_id is a stable identifier derived
// from the catalog entry path (16 hex chars, a hash of the source
// path)". xxhash gives a 64-bit digest, which is exactly 16 hex chars —
// the same library paraswtf-afsispa uses for its index keys.
package songid

import (
	"fmt"
	"path/filepath"

	"github.com/OneOfOne/xxhash"
)

// FromPath returns the 16-hex-char song_id for a catalog entry path. The
// path is cleaned with filepath.Clean first (it is not made absolute),
// so that "./song.wav" and "song.wav" hash identically.
func FromPath(path string) string {
	clean := filepath.Clean(path)
	sum := xxhash.ChecksumString64(clean)
	return fmt.Sprintf("%016x", sum)
}
