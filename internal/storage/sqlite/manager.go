package sqlite

import (
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/interfaces"
)

// Manager implements the StorageManager interface over SQLite
type Manager struct {
	db            *SQLiteDB
	jobs          interfaces.JobStore
	workers       interfaces.WorkerStore
	jobLogs       interfaces.JobLogStore
	solverConfigs interfaces.SolverConfigStore
	apiKeys       interfaces.APIKeyStore
	logger        arbor.ILogger
}

// NewManager creates a new SQLite storage manager
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig) (*Manager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:            db,
		jobs:          NewJobStorage(db, logger),
		workers:       NewWorkerStorage(db, logger),
		jobLogs:       NewJobLogStorage(db, logger),
		solverConfigs: NewSolverConfigStorage(db, logger),
		apiKeys:       NewAPIKeyStorage(db, logger),
		logger:        logger,
	}

	logger.Info().Msg("SQLite storage manager initialized")
	return manager, nil
}

// Jobs returns the job storage interface
func (m *Manager) Jobs() interfaces.JobStore {
	return m.jobs
}

// Workers returns the worker registry storage interface
func (m *Manager) Workers() interfaces.WorkerStore {
	return m.workers
}

// JobLogs returns the job log storage interface
func (m *Manager) JobLogs() interfaces.JobLogStore {
	return m.jobLogs
}

// SolverConfigs returns the solver config storage interface
func (m *Manager) SolverConfigs() interfaces.SolverConfigStore {
	return m.solverConfigs
}

// APIKeys returns the API key storage interface
func (m *Manager) APIKeys() interfaces.APIKeyStore {
	return m.apiKeys
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
