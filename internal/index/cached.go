package index

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"tuneprint/pkg/model"
)

// CachedStore decorates a Storage with a read-through LRU cache over
// Song lookups. Entries are invalidated on Store and DeleteSong so a
// cached miss or stale row is never served back to a caller.
type CachedStore struct {
	Storage
	cache *lru.Cache[string, *model.Song]
}

// NewCachedStore wraps backing with an LRU cache holding up to size
// song entries.
func NewCachedStore(backing Storage, size int) (*CachedStore, error) {
	cache, err := lru.New[string, *model.Song](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{Storage: backing, cache: cache}, nil
}

func (c *CachedStore) Song(ctx context.Context, songID string) (*model.Song, error) {
	if song, ok := c.cache.Get(songID); ok {
		return song, nil
	}
	song, err := c.Storage.Song(ctx, songID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(songID, song)
	return song, nil
}

func (c *CachedStore) Store(ctx context.Context, song model.Song, fingerprints []model.Fingerprint) error {
	if err := c.Storage.Store(ctx, song, fingerprints); err != nil {
		return err
	}
	c.cache.Remove(song.SongID)
	return nil
}

func (c *CachedStore) DeleteSong(ctx context.Context, songID string) error {
	if err := c.Storage.DeleteSong(ctx, songID); err != nil {
		return err
	}
	c.cache.Remove(songID)
	return nil
}
