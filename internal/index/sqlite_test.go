package index

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"tuneprint/pkg/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreThenContains(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Contains(ctx, "song-a")
	if err != nil || ok {
		t.Fatalf("expected song-a absent before store, got ok=%v err=%v", ok, err)
	}

	song := model.Song{SongID: "song-a", Title: "Title", Artist: "Artist"}
	fps := []model.Fingerprint{{Hash: 1, SongID: "song-a", AnchorTime: 0.5}}
	if err := store.Store(ctx, song, fps); err != nil {
		t.Fatalf("Store: %v", err)
	}

	ok, err = store.Contains(ctx, "song-a")
	if err != nil || !ok {
		t.Fatalf("expected song-a present after store, got ok=%v err=%v", ok, err)
	}
}

func TestLookupDropsGroupsBelowThreshold(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var fps []model.Fingerprint
	for i := 0; i < LookupThreshold-1; i++ {
		fps = append(fps, model.Fingerprint{Hash: uint64(i), SongID: "weak", AnchorTime: float64(i)})
	}
	if err := store.Store(ctx, model.Song{SongID: "weak"}, fps); err != nil {
		t.Fatalf("Store weak: %v", err)
	}

	var strongFps []model.Fingerprint
	for i := 0; i < LookupThreshold+3; i++ {
		strongFps = append(strongFps, model.Fingerprint{Hash: uint64(1000 + i), SongID: "strong", AnchorTime: float64(i)})
	}
	if err := store.Store(ctx, model.Song{SongID: "strong"}, strongFps); err != nil {
		t.Fatalf("Store strong: %v", err)
	}

	hashes := make(map[uint64]float64)
	for i := 0; i < LookupThreshold-1; i++ {
		hashes[uint64(i)] = 0
	}
	for i := 0; i < LookupThreshold+3; i++ {
		hashes[uint64(1000+i)] = 0
	}

	result, err := store.Lookup(ctx, hashes)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, ok := result["weak"]; ok {
		t.Error("expected 'weak' to be dropped for falling below the lookup threshold")
	}
	if offsets, ok := result["strong"]; !ok || len(offsets) != LookupThreshold+3 {
		t.Errorf("expected 'strong' with %d offsets, got %v", LookupThreshold+3, offsets)
	}
}

func TestStoreRetriesOnInjectedContention(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var calls int32
	store.failStoreOnce = func() bool {
		n := atomic.AddInt32(&calls, 1)
		return n == 1
	}

	song := model.Song{SongID: "song-retry"}
	fps := []model.Fingerprint{{Hash: 42, SongID: "song-retry", AnchorTime: 1.0}}
	if err := store.Store(ctx, song, fps); err != nil {
		t.Fatalf("expected Store to succeed after one retry, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected two attempts (one injected failure, then success), got %d", calls)
	}

	ok, err := store.Contains(ctx, "song-retry")
	if err != nil || !ok {
		t.Fatalf("expected song-retry present after retried store, got ok=%v err=%v", ok, err)
	}
}

func TestStoreSucceedsOnThirdAttemptUnderInjectedContention(t *testing.T) {
	// S6: contention injected on the first two attempts, store succeeds
	// on the third, and total_hashes grows by exactly the fingerprint
	// count supplied.
	store := newTestStore(t)
	ctx := context.Background()

	var calls int32
	store.failStoreOnce = func() bool {
		n := atomic.AddInt32(&calls, 1)
		return n <= 2
	}

	fps := []model.Fingerprint{
		{Hash: 1, SongID: "s6", AnchorTime: 0},
		{Hash: 2, SongID: "s6", AnchorTime: 0.1},
		{Hash: 3, SongID: "s6", AnchorTime: 0.2},
	}
	before, err := store.TotalHashes(ctx)
	if err != nil {
		t.Fatalf("TotalHashes before: %v", err)
	}
	if err := store.Store(ctx, model.Song{SongID: "s6"}, fps); err != nil {
		t.Fatalf("expected Store to succeed on the third attempt, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls)
	}
	after, err := store.TotalHashes(ctx)
	if err != nil {
		t.Fatalf("TotalHashes after: %v", err)
	}
	if after-before != int64(len(fps)) {
		t.Errorf("total_hashes grew by %d, want %d", after-before, len(fps))
	}
}

func TestStoreFailsAfterExhaustingRetries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	store.failStoreOnce = func() bool { return true }

	err := store.Store(ctx, model.Song{SongID: "never"}, nil)
	if err == nil {
		t.Fatal("expected Store to fail after exhausting retries")
	}

	ok, containsErr := store.Contains(ctx, "never")
	if containsErr != nil || ok {
		t.Fatalf("expected no partial row to remain visible, got ok=%v err=%v", ok, containsErr)
	}
}

func TestDeleteSongRemovesFingerprints(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	song := model.Song{SongID: "to-delete"}
	fps := []model.Fingerprint{{Hash: 7, SongID: "to-delete", AnchorTime: 0}}
	if err := store.Store(ctx, song, fps); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := store.DeleteSong(ctx, "to-delete"); err != nil {
		t.Fatalf("DeleteSong: %v", err)
	}

	ok, err := store.Contains(ctx, "to-delete")
	if err != nil || ok {
		t.Fatalf("expected song gone after delete, got ok=%v err=%v", ok, err)
	}

	result, err := store.Lookup(ctx, map[uint64]float64{7: 0})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, ok := result["to-delete"]; ok {
		t.Error("expected deleted song's fingerprints gone from lookup")
	}
}

func TestConcurrentStoreAndLookupSeeConsistentSnapshots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			songID := "concurrent"
			var fps []model.Fingerprint
			for j := 0; j < LookupThreshold+1; j++ {
				fps = append(fps, model.Fingerprint{
					Hash:       uint64(i*100 + j),
					SongID:     songID,
					AnchorTime: float64(j),
				})
			}
			_ = store.Store(ctx, model.Song{SongID: songID}, fps)
			_, _ = store.Lookup(ctx, map[uint64]float64{uint64(i * 100): 0})
		}(i)
	}
	wg.Wait()

	total, err := store.TotalSongs(ctx)
	if err != nil {
		t.Fatalf("TotalSongs: %v", err)
	}
	if total != 1 {
		t.Errorf("expected exactly one song row after concurrent upserts, got %d", total)
	}
}

func TestModeRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, found, err := store.Mode(ctx)
	if err != nil {
		t.Fatalf("Mode: %v", err)
	}
	if found {
		t.Fatal("expected no mode recorded for a fresh catalog")
	}

	if err := store.SetMode(ctx, model.ModeOptimized); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	mode, found, err := store.Mode(ctx)
	if err != nil || !found {
		t.Fatalf("Mode after SetMode: mode=%v found=%v err=%v", mode, found, err)
	}
	if mode != model.ModeOptimized {
		t.Errorf("Mode = %v, want ModeOptimized", mode)
	}
}
