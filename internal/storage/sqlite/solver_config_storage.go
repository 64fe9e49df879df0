package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/interfaces"
)

// SolverConfigStorage implements the SolverConfigStore interface for SQLite
type SolverConfigStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewSolverConfigStorage creates a new SolverConfigStorage instance
func NewSolverConfigStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.SolverConfigStore {
	return &SolverConfigStorage{
		db:     db,
		logger: logger,
	}
}

// SaveSolverConfig upserts enablement and priority for a solver
func (s *SolverConfigStorage) SaveSolverConfig(ctx context.Context, name string, enabled bool, priority int) error {
	if name == "" {
		return fmt.Errorf("solver name is required")
	}
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO solver_configs (name, enabled, priority, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			enabled = excluded.enabled,
			priority = excluded.priority,
			updated_at = excluded.updated_at`,
		name, enabledInt, priority, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save solver config: %w", err)
	}
	return nil
}

// GetSolverConfig reads one solver's config; found is false when absent
func (s *SolverConfigStorage) GetSolverConfig(ctx context.Context, name string) (bool, int, bool, error) {
	var enabledInt, priority int
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT enabled, priority FROM solver_configs WHERE name = ?`, name).
		Scan(&enabledInt, &priority)
	if err == sql.ErrNoRows {
		return false, 0, false, nil
	}
	if err != nil {
		return false, 0, false, fmt.Errorf("failed to get solver config: %w", err)
	}
	return enabledInt != 0, priority, true, nil
}

// ListSolverConfigs returns the enablement map for all configured solvers
func (s *SolverConfigStorage) ListSolverConfigs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.DB().QueryContext(ctx, `SELECT name, enabled FROM solver_configs`)
	if err != nil {
		return nil, fmt.Errorf("failed to list solver configs: %w", err)
	}
	defer rows.Close()

	configs := make(map[string]bool)
	for rows.Next() {
		var name string
		var enabledInt int
		if err := rows.Scan(&name, &enabledInt); err != nil {
			return nil, fmt.Errorf("failed to scan solver config: %w", err)
		}
		configs[name] = enabledInt != 0
	}
	return configs, rows.Err()
}
