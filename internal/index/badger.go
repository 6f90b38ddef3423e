package index

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	xxhash "github.com/OneOfOne/xxhash"
	"github.com/dgraph-io/badger/v3"

	tplog "tuneprint/pkg/logger"
	"tuneprint/pkg/model"
)

const (
	fpKeyPrefix      = "fp:"
	songKeyPrefix    = "song:"
	catalogModeKey   = "catalog:mode"
	songHashesPrefix = "songhashes:"
)

// BadgerStore is the alternate embedded-KV Hash Index backend. Badger
// keys don't support multiple values per key, so each fingerprint row
// is written under a key built from the hash prefix plus an
// xxhash-derived per-entry suffix; a Lookup does a prefix scan over
// all entries sharing a hash.
type BadgerStore struct {
	db  *badger.DB
	log *tplog.Logger
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger index: %w", err)
	}
	return &BadgerStore{db: db, log: tplog.Named("index.badger")}, nil
}

func (b *BadgerStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func fpKey(hash uint64, songID string, anchorTime float64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], hash)
	suffix := xxhash.ChecksumString64(fmt.Sprintf("%s|%v", songID, anchorTime))
	return []byte(fmt.Sprintf("%s%s%016x", fpKeyPrefix, buf, suffix))
}

func fpPrefix(hash uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], hash)
	return []byte(fmt.Sprintf("%s%s", fpKeyPrefix, buf))
}

type fpValue struct {
	SongID     string
	AnchorTime float64
}

func (b *BadgerStore) Contains(ctx context.Context, songID string) (bool, error) {
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(songKeyPrefix + songID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Store writes the song row and all fingerprint rows inside one
// Badger transaction, which badger commits atomically: on any
// conflict the whole write is rejected and retried by the caller.
func (b *BadgerStore) Store(ctx context.Context, song model.Song, fingerprints []model.Fingerprint) error {
	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = b.storeOnce(song, fingerprints)
		if lastErr == nil {
			return nil
		}
		if lastErr != badger.ErrConflict {
			return fmt.Errorf("storing song %s: %w", song.SongID, lastErr)
		}
		b.log.Warn("badger store conflict on attempt %d/%d for song %s", attempt, maxAttempts, song.SongID)
	}
	return fmt.Errorf("%w: %v", model.ErrIndexContention, lastErr)
}

func (b *BadgerStore) storeOnce(song model.Song, fingerprints []model.Fingerprint) error {
	return b.db.Update(func(txn *badger.Txn) error {
		songBytes, err := json.Marshal(song)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(songKeyPrefix+song.SongID), songBytes); err != nil {
			return err
		}

		hashKeys := make([]string, 0, len(fingerprints))
		for _, fp := range fingerprints {
			val, err := json.Marshal(fpValue{SongID: fp.SongID, AnchorTime: fp.AnchorTime})
			if err != nil {
				return err
			}
			key := fpKey(fp.Hash, fp.SongID, fp.AnchorTime)
			if err := txn.Set(key, val); err != nil {
				return err
			}
			hashKeys = append(hashKeys, string(key))
		}

		index, err := json.Marshal(hashKeys)
		if err != nil {
			return err
		}
		return txn.Set([]byte(songHashesPrefix+song.SongID), index)
	})
}

func (b *BadgerStore) Lookup(ctx context.Context, hashes map[uint64]float64) (map[string][]model.MatchOffset, error) {
	grouped := make(map[string][]model.MatchOffset)
	if len(hashes) == 0 {
		return grouped, nil
	}

	err := b.db.View(func(txn *badger.Txn) error {
		for hash, qTime := range hashes {
			prefix := fpPrefix(hash)
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				item := it.Item()
				err := item.Value(func(v []byte) error {
					var fv fpValue
					if err := json.Unmarshal(v, &fv); err != nil {
						return err
					}
					grouped[fv.SongID] = append(grouped[fv.SongID], model.MatchOffset{
						DBOffset:    fv.AnchorTime,
						QueryOffset: qTime,
					})
					return nil
				})
				if err != nil {
					it.Close()
					return err
				}
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("looking up hashes: %w", err)
	}

	for songID, offsets := range grouped {
		if len(offsets) < LookupThreshold {
			delete(grouped, songID)
		}
	}
	return grouped, nil
}

func (b *BadgerStore) Song(ctx context.Context, songID string) (*model.Song, error) {
	var song model.Song
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(songKeyPrefix + songID))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", model.ErrSongNotFound, songID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &song)
		})
	})
	if err != nil {
		return nil, err
	}
	return &song, nil
}

func (b *BadgerStore) ListSongs(ctx context.Context) ([]model.Song, error) {
	var songs []model.Song
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(songKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var song model.Song
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &song)
			})
			if err != nil {
				return err
			}
			songs = append(songs, song)
		}
		return nil
	})
	return songs, err
}

func (b *BadgerStore) DeleteSong(ctx context.Context, songID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		indexItem, err := txn.Get([]byte(songHashesPrefix + songID))
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err == nil {
			var keys []string
			if err := indexItem.Value(func(v []byte) error {
				return json.Unmarshal(v, &keys)
			}); err != nil {
				return err
			}
			for _, k := range keys {
				if err := txn.Delete([]byte(k)); err != nil && err != badger.ErrKeyNotFound {
					return err
				}
			}
			txn.Delete([]byte(songHashesPrefix + songID))
		}
		if err := txn.Delete([]byte(songKeyPrefix + songID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return nil
	})
}

func (b *BadgerStore) TotalSongs(ctx context.Context) (int64, error) {
	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(songKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (b *BadgerStore) TotalHashes(ctx context.Context) (int64, error) {
	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(fpKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (b *BadgerStore) Mode(ctx context.Context) (model.Mode, bool, error) {
	var mode model.Mode
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(catalogModeKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error {
			mode = model.Mode(v[0])
			return nil
		})
	})
	return mode, found, err
}

func (b *BadgerStore) SetMode(ctx context.Context, mode model.Mode) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(catalogModeKey), []byte{byte(mode)})
	})
}
