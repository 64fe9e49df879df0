package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/models"
)

// TranscriptionCacheStorage persists audio transcriptions keyed by
// sha256(audioBytes). Entries past their TTL are treated as misses and
// removed lazily on read plus by the periodic sweep.
type TranscriptionCacheStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTranscriptionCacheStorage creates a new cache storage instance
func NewTranscriptionCacheStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TranscriptionCache {
	return &TranscriptionCacheStorage{
		db:     db,
		logger: logger,
	}
}

// Get returns the entry for a content hash, or nil on miss or expiry
func (s *TranscriptionCacheStorage) Get(ctx context.Context, key string) (*models.TranscriptionCacheEntry, error) {
	var entry models.TranscriptionCacheEntry
	err := s.db.Store().Get(key, &entry)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transcription cache: %w", err)
	}

	if entry.Expired(time.Now()) {
		if err := s.db.Store().Delete(key, models.TranscriptionCacheEntry{}); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to delete expired cache entry")
		}
		return nil, nil
	}

	return &entry, nil
}

// Put stores an entry under its content hash
func (s *TranscriptionCacheStorage) Put(ctx context.Context, entry *models.TranscriptionCacheEntry) error {
	if entry.Key == "" {
		return fmt.Errorf("cache key is required")
	}
	if err := s.db.Store().Upsert(entry.Key, entry); err != nil {
		return fmt.Errorf("failed to write transcription cache: %w", err)
	}
	return nil
}

// Sweep removes all expired entries and returns the count removed
func (s *TranscriptionCacheStorage) Sweep(ctx context.Context) (int, error) {
	var expired []models.TranscriptionCacheEntry
	query := badgerhold.Where("ExpiresAt").Lt(time.Now())
	if err := s.db.Store().Find(&expired, query); err != nil {
		return 0, fmt.Errorf("failed to find expired cache entries: %w", err)
	}

	removed := 0
	for _, entry := range expired {
		if err := s.db.Store().Delete(entry.Key, models.TranscriptionCacheEntry{}); err != nil {
			s.logger.Warn().Err(err).Str("key", entry.Key).Msg("Failed to delete expired cache entry")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("Transcription cache sweep complete")
	}
	return removed, nil
}
