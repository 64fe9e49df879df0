package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/interfaces"
)

// APIKeyStorage implements the APIKeyStore interface for SQLite. Keys are
// stored comma-separated per provider and consumed round-robin by the
// external solver adapters.
type APIKeyStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewAPIKeyStorage creates a new APIKeyStorage instance
func NewAPIKeyStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.APIKeyStore {
	return &APIKeyStorage{
		db:     db,
		logger: logger,
	}
}

// SaveAPIKeys upserts the key set for a provider
func (s *APIKeyStorage) SaveAPIKeys(ctx context.Context, provider string, keys []string) error {
	if provider == "" {
		return fmt.Errorf("provider is required")
	}
	cleaned := make([]string, 0, len(keys))
	for _, key := range keys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO api_keys (provider, keys, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			keys = excluded.keys,
			updated_at = excluded.updated_at`,
		provider, strings.Join(cleaned, ","), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save API keys: %w", err)
	}
	return nil
}

// GetAPIKeys returns the key set for a provider, empty when unconfigured
func (s *APIKeyStorage) GetAPIKeys(ctx context.Context, provider string) ([]string, error) {
	var joined string
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT keys FROM api_keys WHERE provider = ?`, provider).Scan(&joined)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get API keys: %w", err)
	}
	if joined == "" {
		return nil, nil
	}
	return strings.Split(joined, ","), nil
}
