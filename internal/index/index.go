// Package index implements the Hash Index (spec §4.5): a durable
// fingerprint table keyed on hash, a song table keyed on song_id, and
// the store/lookup/contains operations with their concurrency
// contract. Two backends are provided: SQLiteStore (gorm +
// glebarez/sqlite, the default) and BadgerStore (dgraph-io/badger,
// an embedded-KV alternative).
package index

import (
	"context"

	"tuneprint/pkg/model"
)

// LookupThreshold is the minimum number of matching entries a song
// must accumulate in a lookup to survive grouping.
const LookupThreshold = 5

// Storage is the durable fingerprint/song catalog backing the
// recognition pipeline. Implementations must honor the concurrency
// contract: store operations serialize against one another and are
// atomic per song; lookups run against a consistent snapshot and never
// observe a partially-written song.
type Storage interface {
	// Contains reports whether song_id already has fingerprints
	// stored, letting callers skip re-ingest.
	Contains(ctx context.Context, songID string) (bool, error)

	// Store persists fingerprints and song metadata atomically: on any
	// failure, no row for song_id remains visible.
	Store(ctx context.Context, song model.Song, fingerprints []model.Fingerprint) error

	// Lookup groups matching rows by song_id, dropping groups below
	// LookupThreshold.
	Lookup(ctx context.Context, hashes map[uint64]float64) (map[string][]model.MatchOffset, error)

	// Song returns the stored metadata for song_id, or
	// model.ErrSongNotFound.
	Song(ctx context.Context, songID string) (*model.Song, error)

	// ListSongs returns every registered song.
	ListSongs(ctx context.Context) ([]model.Song, error)

	// DeleteSong removes a song and all of its fingerprints.
	DeleteSong(ctx context.Context, songID string) error

	// TotalSongs and TotalHashes are diagnostic counters.
	TotalSongs(ctx context.Context) (int64, error)
	TotalHashes(ctx context.Context) (int64, error)

	// Mode reports the catalog's peak-detection policy, recorded by the
	// first ingest or query (§4.3's optimized/legacy split) so later ingests
	// and queries can refuse a mismatched policy rather than silently
	// degrade.
	Mode(ctx context.Context) (model.Mode, bool, error)
	SetMode(ctx context.Context, mode model.Mode) error

	Close() error
}
