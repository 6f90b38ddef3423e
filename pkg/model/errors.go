package model

import "errors"

// Sentinel errors per the error handling design: callers match with
// errors.Is, wrapped errors keep the original cause via %w.
var (
	// ErrUnsupportedFormat: container extension not in the allowlist.
	ErrUnsupportedFormat = errors.New("tuneprint: unsupported audio format")

	// ErrDecodeFailed: container decoder reported an error or produced
	// no samples.
	ErrDecodeFailed = errors.New("tuneprint: audio decode failed")

	// ErrInvalidAudio: the Resampler/Mixer was handed an empty buffer.
	ErrInvalidAudio = errors.New("tuneprint: empty audio buffer")

	// ErrShortInput: audio shorter than 10s in optimized mode during
	// ingest. Fingerprinting returns an empty list rather than failing.
	ErrShortInput = errors.New("tuneprint: input shorter than minimum duration")

	// ErrLowPeakCount is logged, not returned — kept here so callers
	// that want to detect the condition from a log hook can match it.
	ErrLowPeakCount = errors.New("tuneprint: peak count below quality gate")

	// ErrIndexContention: a write transaction could not acquire the
	// index's write lock after all retries.
	ErrIndexContention = errors.New("tuneprint: index write contention")

	// ErrIndexIntegrity: a partial write was detected and rolled back.
	ErrIndexIntegrity = errors.New("tuneprint: index integrity violation")

	// ErrModeMismatch: a query or ingest was attempted with a peak-
	// detection mode that differs from the one the catalog was built
	// under. Resolves the §9 Open Question by rejecting the query
	// instead of silently producing incomparable hashes.
	ErrModeMismatch = errors.New("tuneprint: catalog was built under a different detection mode")

	// ErrSongNotFound: no catalog row for the given song_id.
	ErrSongNotFound = errors.New("tuneprint: song not found")
)
