package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/models"
)

// Manager owns one pool per browser family, created on first use, and runs
// the shared idle-eviction sweep.
type Manager struct {
	launch LaunchFunc
	logger arbor.ILogger
	config *common.BrowserConfig

	mu    sync.Mutex
	pools map[models.BrowserFamily]*Pool
	cron  *cron.Cron
}

// NewManager creates a browser pool manager
func NewManager(launch LaunchFunc, logger arbor.ILogger, config *common.BrowserConfig) *Manager {
	return &Manager{
		launch: launch,
		logger: logger,
		config: config,
		pools:  make(map[models.BrowserFamily]*Pool),
		cron:   cron.New(),
	}
}

// Start prewarms the default family and schedules the idle sweep
func (m *Manager) Start(ctx context.Context) error {
	family, err := models.ParseBrowserFamily(m.config.DefaultFamily)
	if err != nil {
		return err
	}
	if err := m.Pool(family).Prewarm(ctx); err != nil {
		return err
	}

	interval := common.ParseDurationField(m.config.SweepInterval, 30*time.Second)
	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", interval), m.sweep); err != nil {
		return fmt.Errorf("failed to schedule pool sweep: %w", err)
	}
	m.cron.Start()

	m.logger.Info().
		Str("default_family", string(family)).
		Int("min_size", m.config.MinSize).
		Int("max_size", m.config.MaxSize).
		Msg("Browser pool manager started")
	return nil
}

// Pool returns the pool for a family, creating it on first use
func (m *Manager) Pool(family models.BrowserFamily) *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.pools[family]
	if !ok {
		pool = NewPool(family, m.launch, m.logger, m.config)
		m.pools[family] = pool
	}
	return pool
}

// Acquire takes an instance from the family's pool
func (m *Manager) Acquire(ctx context.Context, family models.BrowserFamily) (*Instance, error) {
	return m.Pool(family).Acquire(ctx)
}

// Release returns an instance to its pool
func (m *Manager) Release(inst *Instance) {
	if inst == nil {
		return
	}
	m.Pool(inst.Family).Release(inst)
}

// Destroy removes a broken instance
func (m *Manager) Destroy(inst *Instance) {
	if inst == nil {
		return
	}
	m.Pool(inst.Family).Destroy(inst)
}

func (m *Manager) sweep() {
	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, pool := range m.pools {
		pools = append(pools, pool)
	}
	m.mu.Unlock()

	now := time.Now()
	for _, pool := range pools {
		pool.EvictIdle(now)
	}
}

// Close stops the sweep and tears down every pool
func (m *Manager) Close() {
	stopCtx := m.cron.Stop()
	<-stopCtx.Done()

	m.mu.Lock()
	pools := make([]*Pool, 0, len(m.pools))
	for _, pool := range m.pools {
		pools = append(pools, pool)
	}
	m.pools = make(map[models.BrowserFamily]*Pool)
	m.mu.Unlock()

	for _, pool := range pools {
		pool.Close()
	}
}
