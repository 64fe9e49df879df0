package detection

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/models"
)

func testCaptchaConfig() *common.CaptchaConfig {
	return &common.CaptchaConfig{
		MinConfidenceThreshold: 0.5,
		MinStrongConfidence:    0.7,
		DetectionCacheTTLMS:    300000,
		DetectionTimeoutMS:     5000,
	}
}

func snapshotReturning(snap *PageSnapshot, calls *int64) SnapshotFunc {
	return func(ctx context.Context, pageURL string) (*PageSnapshot, error) {
		atomic.AddInt64(calls, 1)
		return snap, nil
	}
}

func TestDetectRecaptchaFromIframeAndContainer(t *testing.T) {
	snap := &PageSnapshot{
		FrameURLs: []string{"https://www.google.com/recaptcha/api2/anchor?k=xyz"},
		HTML:      `<div class="g-recaptcha" data-sitekey="xyz"></div>`,
		Globals:   map[string]bool{"grecaptcha": true},
	}
	var calls int64
	registry := NewRegistry(arbor.NewLogger(), testCaptchaConfig()).
		WithSnapshotFunc(snapshotReturning(snap, &calls))

	results, err := registry.Detect(context.Background(), context.Background(), "https://example.com/login")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.SystemRecaptcha, results[0].System)
	assert.Equal(t, 1.0, results[0].Confidence, "weighted sum is capped at 1.0")
	assert.Contains(t, results[0].Signals, "recaptcha_iframe")
	assert.True(t, results[0].Actionable(0.7))
}

func TestDetectFiltersBelowMinConfidence(t *testing.T) {
	// A lone api script reference scores 0.4, under the 0.5 floor
	snap := &PageSnapshot{
		HTML:    `<script src="https://www.google.com/recaptcha/api.js"></script>`,
		Globals: map[string]bool{},
	}
	var calls int64
	registry := NewRegistry(arbor.NewLogger(), testCaptchaConfig()).
		WithSnapshotFunc(snapshotReturning(snap, &calls))

	results, err := registry.Detect(context.Background(), context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDetectRanksMultipleSystems(t *testing.T) {
	snap := &PageSnapshot{
		CookieNames: []string{"_abck", "bm_sz"},
		HTML:        `<div class="cf-turnstile"></div>`,
		FrameURLs:   []string{"https://challenges.cloudflare.com/cdn-cgi/challenge-platform"},
		Globals:     map[string]bool{},
	}
	var calls int64
	registry := NewRegistry(arbor.NewLogger(), testCaptchaConfig()).
		WithSnapshotFunc(snapshotReturning(snap, &calls))

	results, err := registry.Detect(context.Background(), context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Len(t, results, 2)
	// turnstile 0.9+0.7 capped 1.0; akamai 0.8+0.6 capped 1.0 - stable sort keeps
	// turnstile and akamai both at full confidence, order by strategy listing
	for _, result := range results {
		assert.GreaterOrEqual(t, result.Confidence, 0.5)
	}
}

func TestDetectAkamaiFromCookiesAndGlobal(t *testing.T) {
	snap := &PageSnapshot{
		CookieNames: []string{"_abck"},
		Globals:     map[string]bool{"bmak": true},
	}
	var calls int64
	registry := NewRegistry(arbor.NewLogger(), testCaptchaConfig()).
		WithSnapshotFunc(snapshotReturning(snap, &calls))

	results, err := registry.Detect(context.Background(), context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.SystemAkamai, results[0].System)
	assert.Equal(t, 1.0, results[0].Confidence)
}

func TestDetectCachesPerURLWithoutFragment(t *testing.T) {
	snap := &PageSnapshot{
		CookieNames: []string{"datadome"},
		Globals:     map[string]bool{},
	}
	var calls int64
	registry := NewRegistry(arbor.NewLogger(), testCaptchaConfig()).
		WithSnapshotFunc(snapshotReturning(snap, &calls))
	ctx := context.Background()

	_, err := registry.Detect(ctx, ctx, "https://example.com/page#top")
	require.NoError(t, err)
	_, err = registry.Detect(ctx, ctx, "https://example.com/page#bottom")
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "fragment-only difference must hit the cache")

	_, err = registry.Detect(ctx, ctx, "https://example.com/other")
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestInvalidateCacheForcesRescan(t *testing.T) {
	snap := &PageSnapshot{Globals: map[string]bool{}}
	var calls int64
	registry := NewRegistry(arbor.NewLogger(), testCaptchaConfig()).
		WithSnapshotFunc(snapshotReturning(snap, &calls))
	ctx := context.Background()

	_, err := registry.Detect(ctx, ctx, "https://example.com")
	require.NoError(t, err)
	registry.InvalidateCache("https://example.com")
	_, err = registry.Detect(ctx, ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

type fixedStrategy struct {
	system     models.AntiBotSystem
	confidence float64
}

func (s *fixedStrategy) System() models.AntiBotSystem { return s.system }

func (s *fixedStrategy) Score(snap *PageSnapshot) (float64, []string) {
	return s.confidence, []string{"fixed"}
}

func TestRegisterIsSafeDuringDetect(t *testing.T) {
	snap := &PageSnapshot{Globals: map[string]bool{}}
	var calls int64
	config := testCaptchaConfig()
	config.DetectionCacheTTLMS = 0 // every Detect walks the strategies
	registry := NewRegistry(arbor.NewLogger(), config).
		WithSnapshotFunc(snapshotReturning(snap, &calls))
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			registry.Register(&fixedStrategy{system: models.SystemDataDome, confidence: 0.9})
		}
	}()
	for i := 0; i < 50; i++ {
		_, err := registry.Detect(ctx, ctx, "https://example.com")
		require.NoError(t, err)
	}
	<-done

	results, err := registry.Detect(ctx, ctx, "https://example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, results, "late-registered strategies must be scored")
}

func TestCleanPageDetectsNothing(t *testing.T) {
	snap := &PageSnapshot{
		HTML:    `<html><body><h1>Plain page</h1></body></html>`,
		Globals: map[string]bool{},
	}
	var calls int64
	registry := NewRegistry(arbor.NewLogger(), testCaptchaConfig()).
		WithSnapshotFunc(snapshotReturning(snap, &calls))

	results, err := registry.Detect(context.Background(), context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Empty(t, results)
}
