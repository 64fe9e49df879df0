package detection

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/models"
)

// SnapshotFunc captures the detection inputs from a live page. Swappable in
// tests.
type SnapshotFunc func(sessionCtx context.Context, pageURL string) (*PageSnapshot, error)

// Registry runs every strategy over one snapshot and caches the outcome per
// URL. Results below the minimum confidence are dropped before ranking.
type Registry struct {
	strategies    []Strategy
	snapshot      SnapshotFunc
	logger        arbor.ILogger
	minConfidence float64
	timeout       time.Duration
	cacheTTL      time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	results   []models.DetectionResult
	expiresAt time.Time
}

// NewRegistry creates a detection registry with the built-in strategies
func NewRegistry(logger arbor.ILogger, config *common.CaptchaConfig) *Registry {
	return &Registry{
		strategies:    DefaultStrategies(),
		snapshot:      CollectSnapshot,
		logger:        logger,
		minConfidence: config.MinConfidenceThreshold,
		timeout:       time.Duration(config.DetectionTimeoutMS) * time.Millisecond,
		cacheTTL:      time.Duration(config.DetectionCacheTTLMS) * time.Millisecond,
		cache:         make(map[string]cacheEntry),
	}
}

// WithSnapshotFunc overrides the page capture, for tests
func (r *Registry) WithSnapshotFunc(fn SnapshotFunc) *Registry {
	r.snapshot = fn
	return r
}

// Register appends a custom strategy
func (r *Registry) Register(strategy Strategy) {
	r.mu.Lock()
	r.strategies = append(r.strategies, strategy)
	r.mu.Unlock()
}

var _ interfaces.ChallengeDetector = (*Registry)(nil)

// Detect scores every strategy against the page, returning results at or
// above the confidence threshold, strongest first. Fresh cache hits skip the
// page entirely.
func (r *Registry) Detect(ctx context.Context, sessionCtx context.Context, pageURL string) ([]models.DetectionResult, error) {
	key := cacheKey(pageURL)
	now := time.Now()

	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && now.Before(entry.expiresAt) {
		r.mu.Unlock()
		r.logger.Trace().Str("url", pageURL).Msg("Detection cache hit")
		return entry.results, nil
	}
	r.mu.Unlock()

	snapCtx := sessionCtx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		snapCtx, cancel = context.WithTimeout(sessionCtx, r.timeout)
		defer cancel()
	}

	snap, err := r.snapshot(snapCtx, pageURL)
	if err != nil {
		if snapCtx.Err() == context.DeadlineExceeded {
			return nil, errctx.Wrap(ctx, errctx.CategoryTimeout, "detection snapshot timed out", err)
		}
		return nil, errctx.Wrap(ctx, errctx.CategoryInternal, "detection snapshot failed", err)
	}

	r.mu.Lock()
	strategies := make([]Strategy, len(r.strategies))
	copy(strategies, r.strategies)
	r.mu.Unlock()

	var results []models.DetectionResult
	for _, strategy := range strategies {
		confidence, signals := strategy.Score(snap)
		if confidence < r.minConfidence {
			continue
		}
		results = append(results, models.DetectionResult{
			System:     strategy.System(),
			Confidence: confidence,
			Signals:    signals,
			DetectedAt: now,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})

	if len(results) > 0 {
		r.logger.Debug().
			Str("url", pageURL).
			Str("strongest", string(results[0].System)).
			Float64("confidence", results[0].Confidence).
			Int("systems", len(results)).
			Msg("Anti-bot systems detected")
	}

	if r.cacheTTL > 0 {
		r.mu.Lock()
		r.cache[key] = cacheEntry{results: results, expiresAt: now.Add(r.cacheTTL)}
		r.mu.Unlock()
	}

	return results, nil
}

// InvalidateCache drops the cached verdict for a URL, forcing the next
// Detect to rescan the page.
func (r *Registry) InvalidateCache(pageURL string) {
	r.mu.Lock()
	delete(r.cache, cacheKey(pageURL))
	r.mu.Unlock()
}

// cacheKey strips the fragment so in-page anchors share one verdict
func cacheKey(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return pageURL
	}
	parsed.Fragment = ""
	return parsed.String()
}
