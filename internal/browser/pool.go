package browser

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/models"
)

// Pool manages browser instances for one family.
//
// Invariants: available + active never exceeds maxSize; a released instance
// goes to the longest-waiting acquirer before it goes back on the shelf;
// instances idle past the idle timeout are closed down to minSize.
type Pool struct {
	family      models.BrowserFamily
	launch      LaunchFunc
	logger      arbor.ILogger
	minSize     int
	maxSize     int
	idleTimeout time.Duration
	acquireWait time.Duration

	mu        sync.Mutex
	available []*Instance
	active    map[string]*Instance
	waiters   *list.List // of chan *Instance, FIFO
	closed    bool
}

// NewPool creates a pool for a browser family. Instances are launched
// lazily; call Prewarm to bring up minSize instances ahead of traffic.
func NewPool(family models.BrowserFamily, launch LaunchFunc, logger arbor.ILogger, config *common.BrowserConfig) *Pool {
	minSize := config.MinSize
	if minSize < 0 {
		minSize = 0
	}
	maxSize := config.MaxSize
	if maxSize < 1 {
		maxSize = 1
	}
	if minSize > maxSize {
		minSize = maxSize
	}
	return &Pool{
		family:      family,
		launch:      launch,
		logger:      logger,
		minSize:     minSize,
		maxSize:     maxSize,
		idleTimeout: common.ParseDurationField(config.IdleTimeout, 5*time.Minute),
		acquireWait: common.ParseDurationField(config.AcquireWait, 60*time.Second),
		available:   make([]*Instance, 0, maxSize),
		active:      make(map[string]*Instance),
		waiters:     list.New(),
	}
}

// Prewarm launches instances up to minSize
func (p *Pool) Prewarm(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.closed || len(p.available)+len(p.active) >= p.minSize {
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		inst, err := p.launch(ctx, p.family)
		if err != nil {
			return fmt.Errorf("failed to prewarm %s pool: %w", p.family, err)
		}
		p.mu.Lock()
		p.available = append(p.available, inst)
		p.mu.Unlock()
	}
}

// Acquire returns an instance, launching one when under maxSize, otherwise
// blocking FIFO until a release or the acquire wait elapses.
func (p *Pool) Acquire(ctx context.Context) (*Instance, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("%s pool is closed", p.family)
	}

	if n := len(p.available); n > 0 {
		inst := p.available[n-1]
		p.available = p.available[:n-1]
		p.active[inst.ID] = inst
		p.mu.Unlock()
		return inst, nil
	}

	if len(p.active) < p.maxSize {
		// Reserve the slot before launching so concurrent acquirers cannot
		// overshoot maxSize while the launch is in flight
		placeholder := &Instance{ID: common.NewInstanceID(), Family: p.family}
		p.active[placeholder.ID] = placeholder
		p.mu.Unlock()

		inst, err := p.launch(ctx, p.family)

		p.mu.Lock()
		delete(p.active, placeholder.ID)
		if err != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("failed to launch %s instance: %w", p.family, err)
		}
		if p.closed {
			p.mu.Unlock()
			inst.Close()
			return nil, fmt.Errorf("%s pool is closed", p.family)
		}
		p.active[inst.ID] = inst
		p.mu.Unlock()
		return inst, nil
	}

	// Saturated: queue behind earlier waiters
	ch := make(chan *Instance, 1)
	elem := p.waiters.PushBack(ch)
	p.mu.Unlock()

	timer := time.NewTimer(p.acquireWait)
	defer timer.Stop()

	select {
	case inst := <-ch:
		if inst == nil {
			return nil, fmt.Errorf("%s pool closed while waiting", p.family)
		}
		return inst, nil
	case <-ctx.Done():
		p.abandonWaiter(elem, ch)
		return nil, ctx.Err()
	case <-timer.C:
		p.abandonWaiter(elem, ch)
		return nil, fmt.Errorf("timed out waiting for a %s instance after %s", p.family, p.acquireWait)
	}
}

// abandonWaiter removes a waiter, re-releasing any instance that was handed
// over concurrently with the timeout.
func (p *Pool) abandonWaiter(elem *list.Element, ch chan *Instance) {
	p.mu.Lock()
	p.waiters.Remove(elem)
	p.mu.Unlock()
	select {
	case inst := <-ch:
		p.Release(inst)
	default:
	}
}

// Release returns an instance to the pool, handing it to the longest waiter
// when one is queued.
func (p *Pool) Release(inst *Instance) {
	if inst == nil {
		return
	}
	p.mu.Lock()
	delete(p.active, inst.ID)

	if p.closed {
		p.mu.Unlock()
		inst.Close()
		return
	}

	if elem := p.waiters.Front(); elem != nil {
		p.waiters.Remove(elem)
		ch := elem.Value.(chan *Instance)
		p.active[inst.ID] = inst
		p.mu.Unlock()
		ch <- inst
		return
	}

	inst.lastUsedAt = time.Now()
	p.available = append(p.available, inst)
	p.mu.Unlock()
}

// Destroy removes a broken instance entirely instead of returning it
func (p *Pool) Destroy(inst *Instance) {
	if inst == nil {
		return
	}
	p.mu.Lock()
	delete(p.active, inst.ID)
	p.mu.Unlock()
	inst.Close()
	p.logger.Debug().Str("instance_id", inst.ID).Str("family", string(p.family)).Msg("Browser instance destroyed")
}

// EvictIdle closes instances idle past the timeout, keeping at least minSize
// total. Returns the number closed.
func (p *Pool) EvictIdle(now time.Time) int {
	p.mu.Lock()
	var keep []*Instance
	var evict []*Instance
	total := len(p.available) + len(p.active)
	for _, inst := range p.available {
		if total > p.minSize && now.Sub(inst.lastUsedAt) > p.idleTimeout {
			evict = append(evict, inst)
			total--
			continue
		}
		keep = append(keep, inst)
	}
	p.available = keep
	p.mu.Unlock()

	for _, inst := range evict {
		inst.Close()
		p.logger.Debug().
			Str("instance_id", inst.ID).
			Str("family", string(p.family)).
			Msg("Idle browser instance evicted")
	}
	return len(evict)
}

// Stats reports pool occupancy
func (p *Pool) Stats() (available, active, waiting int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available), len(p.active), p.waiters.Len()
}

// Close tears down every instance and fails queued waiters
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	instances := make([]*Instance, 0, len(p.available)+len(p.active))
	instances = append(instances, p.available...)
	for _, inst := range p.active {
		instances = append(instances, inst)
	}
	p.available = nil
	p.active = make(map[string]*Instance)
	for elem := p.waiters.Front(); elem != nil; elem = elem.Next() {
		close(elem.Value.(chan *Instance))
	}
	p.waiters.Init()
	p.mu.Unlock()

	for _, inst := range instances {
		inst.Close()
	}
	p.logger.Debug().Str("family", string(p.family)).Int("closed", len(instances)).Msg("Browser pool closed")
}
