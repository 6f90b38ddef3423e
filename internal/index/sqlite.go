package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	tplog "tuneprint/pkg/logger"
	"tuneprint/pkg/model"
)

const DefaultDBFile = "fingerprints.db"

const (
	storeMaxAttempts = 3
	storeBackoffBase = 100 * time.Millisecond
)

// songRow is the gorm model backing the song table.
type songRow struct {
	ID     string `gorm:"primaryKey;type:varchar(32)"`
	Title  string
	Artist string
	Album  string
}

func (songRow) TableName() string { return "songs" }

// fingerprintRow is the gorm model backing the fingerprint table,
// keyed on hash with possibly many rows per hash.
type fingerprintRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Hash       uint64 `gorm:"index:idx_hash"`
	SongID     string `gorm:"type:varchar(32);index:idx_song"`
	AnchorTime float64
}

func (fingerprintRow) TableName() string { return "fingerprints" }

// catalogRow stores the single catalog-wide peak-detection mode chosen
// by the first ingest or query (spec §4.3 / §9's optimized-vs-legacy
// question).
type catalogRow struct {
	ID   uint `gorm:"primaryKey"`
	Mode int
}

func (catalogRow) TableName() string { return "catalog_meta" }

// SQLiteStore is the default Hash Index backend: a gorm-managed
// glebarez/sqlite database. Writers use BEGIN IMMEDIATE transactions
// and retry on SQLITE_BUSY; readers run outside any write transaction
// and see a stable snapshot.
type SQLiteStore struct {
	db  *gorm.DB
	sql *sql.DB
	log *tplog.Logger

	// failStoreOnce, when non-nil, is invoked before each Store attempt;
	// returning true fails that attempt with injected contention, to
	// simulate transient contention in tests (§8 scenario S6). It is
	// never set in production use.
	failStoreOnce func() bool
}

// NewSQLiteStore opens (creating if absent) a SQLite-backed index at
// dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating index dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite index: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrapping sql.DB: %w", err)
	}
	// A single writer at a time; SQLite's own file lock serializes
	// concurrent processes, this just avoids pool contention noise
	// within one process.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&songRow{}, &fingerprintRow{}, &catalogRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &SQLiteStore{db: db, sql: sqlDB, log: tplog.Named("index.sqlite")}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.sql == nil {
		return nil
	}
	return s.sql.Close()
}

func (s *SQLiteStore) Contains(ctx context.Context, songID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&songRow{}).Where("id = ?", songID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking song existence: %w", err)
	}
	return count > 0, nil
}

// Store writes the song row and all fingerprint rows inside one
// IMMEDIATE-class transaction, retrying up to storeMaxAttempts times
// with a linear backoff on contention, per spec §4.5.
func (s *SQLiteStore) Store(ctx context.Context, song model.Song, fingerprints []model.Fingerprint) error {
	var lastErr error
	for attempt := 1; attempt <= storeMaxAttempts; attempt++ {
		if s.failStoreOnce != nil && s.failStoreOnce() {
			lastErr = fmt.Errorf("%w: injected contention", model.ErrIndexContention)
		} else {
			lastErr = s.storeOnce(ctx, song, fingerprints)
		}
		if lastErr == nil {
			return nil
		}
		if !isContention(lastErr) {
			return lastErr
		}
		s.log.Warn("store contention on attempt %d/%d for song %s: %v", attempt, storeMaxAttempts, song.SongID, lastErr)
		if attempt < storeMaxAttempts {
			backoff := time.Duration(attempt) * storeBackoffBase
			backoff += time.Duration(rand.Intn(20)) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%w: %v", model.ErrIndexContention, lastErr)
}

func (s *SQLiteStore) storeOnce(ctx context.Context, song model.Song, fingerprints []model.Fingerprint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("BEGIN IMMEDIATE").Error; err != nil {
			return err
		}

		row := songRow{ID: song.SongID, Title: song.Title, Artist: song.Artist, Album: song.Album}
		if err := tx.Where("id = ?", song.SongID).FirstOrCreate(&row).Error; err != nil {
			return fmt.Errorf("upserting song: %w", err)
		}

		rows := make([]fingerprintRow, 0, len(fingerprints))
		for _, fp := range fingerprints {
			rows = append(rows, fingerprintRow{Hash: fp.Hash, SongID: fp.SongID, AnchorTime: fp.AnchorTime})
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 500).Error; err != nil {
				return fmt.Errorf("inserting fingerprints: %w", err)
			}
		}
		return nil
	}, &sql.TxOptions{})
}

func isContention(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrIndexContention) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "busy")
}

// Lookup groups matching fingerprint rows by song_id, filtering out
// groups with fewer than LookupThreshold entries.
func (s *SQLiteStore) Lookup(ctx context.Context, hashes map[uint64]float64) (map[string][]model.MatchOffset, error) {
	if len(hashes) == 0 {
		return map[string][]model.MatchOffset{}, nil
	}

	queryOffsets := make(map[uint64][]float64, len(hashes))
	hashList := make([]uint64, 0, len(hashes))
	for h, qTime := range hashes {
		hashList = append(hashList, h)
		queryOffsets[h] = append(queryOffsets[h], qTime)
	}

	var rows []fingerprintRow
	if err := s.db.WithContext(ctx).Where("hash IN ?", hashList).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("looking up hashes: %w", err)
	}

	grouped := make(map[string][]model.MatchOffset)
	for _, r := range rows {
		for _, qTime := range queryOffsets[r.Hash] {
			grouped[r.SongID] = append(grouped[r.SongID], model.MatchOffset{
				DBOffset:    r.AnchorTime,
				QueryOffset: qTime,
			})
		}
	}

	for songID, offsets := range grouped {
		if len(offsets) < LookupThreshold {
			delete(grouped, songID)
		}
	}
	return grouped, nil
}

func (s *SQLiteStore) Song(ctx context.Context, songID string) (*model.Song, error) {
	var row songRow
	err := s.db.WithContext(ctx).Where("id = ?", songID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", model.ErrSongNotFound, songID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching song: %w", err)
	}
	return &model.Song{SongID: row.ID, Title: row.Title, Artist: row.Artist, Album: row.Album}, nil
}

func (s *SQLiteStore) ListSongs(ctx context.Context) ([]model.Song, error) {
	var rows []songRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing songs: %w", err)
	}
	out := make([]model.Song, len(rows))
	for i, r := range rows {
		out[i] = model.Song{SongID: r.ID, Title: r.Title, Artist: r.Artist, Album: r.Album}
	}
	return out, nil
}

func (s *SQLiteStore) DeleteSong(ctx context.Context, songID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("song_id = ?", songID).Delete(&fingerprintRow{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", songID).Delete(&songRow{}).Error
	})
}

func (s *SQLiteStore) TotalSongs(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&songRow{}).Count(&count).Error
	return count, err
}

func (s *SQLiteStore) TotalHashes(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&fingerprintRow{}).Count(&count).Error
	return count, err
}

func (s *SQLiteStore) Mode(ctx context.Context) (model.Mode, bool, error) {
	var row catalogRow
	err := s.db.WithContext(ctx).First(&row, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading catalog mode: %w", err)
	}
	return model.Mode(row.Mode), true, nil
}

func (s *SQLiteStore) SetMode(ctx context.Context, mode model.Mode) error {
	row := catalogRow{ID: 1, Mode: int(mode)}
	return s.db.WithContext(ctx).Save(&row).Error
}
