package audio

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/models"
)

// errRateLimited marks a provider 429; the chain moves on to the next
// provider instead of retrying immediately.
var errRateLimited = errors.New("provider rate limited")

// maxAudioBytes caps downloads; captcha clips are seconds long
const maxAudioBytes = 10 << 20

// Pipeline downloads captcha audio, dedupes it against the transcription
// cache and walks the ranked provider chain until a confident answer.
//
// Each provider carries its own token bucket and single-in-flight slot. A
// drained bucket skips straight to the next provider; one backend's quota
// never starves the others.
type Pipeline struct {
	providers []Provider
	cache     interfaces.TranscriptionCache
	logger    arbor.ILogger
	config    *common.AudioConfig

	httpClient *http.Client
	perMinute  int
	gateMu     sync.Mutex
	gates      map[string]*providerGate
}

// providerGate throttles a single provider: a rateLimitPerMinute token
// bucket plus a size-1 slot that queues concurrent callers in FIFO order.
type providerGate struct {
	limiter *rate.Limiter
	slot    chan struct{}
}

func newProviderGate(perMinute int) *providerGate {
	return &providerGate{
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		slot:    make(chan struct{}, 1),
	}
}

// NewPipeline creates the transcription pipeline
func NewPipeline(cache interfaces.TranscriptionCache, logger arbor.ILogger, config *common.AudioConfig) *Pipeline {
	perMinute := config.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	return &Pipeline{
		providers:  RankedProviders(config),
		cache:      cache,
		logger:     logger,
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		perMinute:  perMinute,
		gates:      make(map[string]*providerGate),
	}
}

// WithProviders overrides the provider chain, for tests
func (p *Pipeline) WithProviders(providers ...Provider) *Pipeline {
	p.providers = providers
	p.gateMu.Lock()
	p.gates = make(map[string]*providerGate)
	p.gateMu.Unlock()
	return p
}

func (p *Pipeline) gate(name string) *providerGate {
	p.gateMu.Lock()
	defer p.gateMu.Unlock()
	g, ok := p.gates[name]
	if !ok {
		g = newProviderGate(p.perMinute)
		p.gates[name] = g
	}
	return g
}

var _ interfaces.AudioTranscriber = (*Pipeline)(nil)

// Transcribe fetches the audio at audioURL and returns its text. Blob URLs
// are fetched inside the page via sessionCtx; https URLs are fetched
// directly. Cached transcriptions short-circuit the provider chain.
func (p *Pipeline) Transcribe(ctx context.Context, audioURL string, sessionCtx context.Context) (*models.Transcription, error) {
	if len(p.providers) == 0 {
		return nil, errctx.New(ctx, errctx.CategorySolverUnavailable, "no_providers", "no transcription providers are configured")
	}

	data, err := p.download(ctx, audioURL, sessionCtx)
	if err != nil {
		return nil, err
	}

	key := contentKey(data)
	if p.cacheEnabled() {
		if entry, err := p.cache.Get(ctx, key); err != nil {
			p.logger.Warn().Err(err).Msg("Transcription cache read failed")
		} else if entry != nil {
			p.logger.Debug().Str("provider", entry.Provider).Msg("Transcription cache hit")
			return &models.Transcription{
				Text:       entry.Text,
				Confidence: entry.Confidence,
				Provider:   entry.Provider,
				FromCache:  true,
			}, nil
		}
	}

	format, err := DetectFormat(data)
	if err != nil {
		return nil, errctx.Wrap(ctx, errctx.CategoryInvalidInput, "unsupported captcha audio", err)
	}

	// Compressed formats are staged on disk for the duration of the provider
	// calls and always deleted afterwards; wav streams straight from memory
	if format != "wav" {
		_, cleanup, err := p.stageTempFile(data, key, format)
		if err != nil {
			return nil, errctx.Wrap(ctx, errctx.CategoryInternal, "failed to stage audio file", err)
		}
		defer cleanup()
	}

	transcription, err := p.runProviderChain(ctx, data, format)
	if err != nil {
		return nil, err
	}

	if p.cacheEnabled() {
		ttl := time.Duration(p.config.CacheTTLHours) * time.Hour
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		entry := &models.TranscriptionCacheEntry{
			Key:        key,
			Text:       transcription.Text,
			Confidence: transcription.Confidence,
			Provider:   transcription.Provider,
			ExpiresAt:  time.Now().Add(ttl),
		}
		if err := p.cache.Put(ctx, entry); err != nil {
			p.logger.Warn().Err(err).Msg("Transcription cache write failed")
		}
	}

	return transcription, nil
}

func (p *Pipeline) cacheEnabled() bool {
	return p.cache != nil && common.BoolOrDefault(p.config.EnableCache, true)
}

// runProviderChain tries providers in rank order. Each provider gets
// MaxRetries attempts with exponential backoff; low-confidence answers count
// as failures and a drained bucket skips to the next provider.
func (p *Pipeline) runProviderChain(ctx context.Context, data []byte, format string) (*models.Transcription, error) {
	maxRetries := p.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	minConfidence := p.config.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.7
	}

	var lastErr error
	for _, provider := range p.providers {
		transcription, err := p.tryProvider(ctx, provider, data, format, maxRetries, minConfidence)
		if err == nil {
			p.logger.Debug().
				Str("provider", provider.Name()).
				Float64("confidence", transcription.Confidence).
				Msg("Audio transcribed")
			return transcription, nil
		}

		lastErr = err
		p.logger.Warn().Err(err).Str("provider", provider.Name()).Msg("Transcription provider failed, trying next")
	}

	return nil, errctx.Wrap(ctx, errctx.CategorySolverUnavailable, "all transcription providers failed", lastErr)
}

// tryProvider runs one provider under its own gate. The slot serializes
// calls to this provider only; other providers proceed in parallel.
func (p *Pipeline) tryProvider(ctx context.Context, provider Provider, data []byte, format string, maxRetries int, minConfidence float64) (*models.Transcription, error) {
	gate := p.gate(provider.Name())

	select {
	case gate.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-gate.slot }()

	var transcription *models.Transcription
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetries-1)), ctx)
	err := backoff.Retry(func() error {
		if !gate.limiter.Allow() {
			return backoff.Permanent(fmt.Errorf("%s bucket empty: %w", provider.Name(), errRateLimited))
		}
		result, err := provider.Transcribe(ctx, data, format)
		if err != nil {
			if errors.Is(err, errRateLimited) {
				// A throttled provider stays throttled; move on
				return backoff.Permanent(err)
			}
			return err
		}
		if result.Confidence < minConfidence {
			return fmt.Errorf("confidence %.2f below threshold %.2f", result.Confidence, minConfidence)
		}
		transcription = result
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return transcription, nil
}

// download fetches the audio bytes. https URLs go over the wire; blob URLs
// only exist inside the page and are read out through the session.
func (p *Pipeline) download(ctx context.Context, audioURL string, sessionCtx context.Context) ([]byte, error) {
	switch {
	case strings.HasPrefix(audioURL, "https://"):
		return p.downloadHTTPS(ctx, audioURL)
	case strings.HasPrefix(audioURL, "blob:"):
		if sessionCtx == nil {
			return nil, errctx.New(ctx, errctx.CategoryInvalidInput, "no_session", "blob URLs require a page session")
		}
		return p.downloadBlob(sessionCtx, audioURL)
	}
	return nil, errctx.New(ctx, errctx.CategoryInvalidInput, "bad_scheme",
		fmt.Sprintf("audio URL must be https or blob, got %q", audioURL))
}

func (p *Pipeline) downloadHTTPS(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, errctx.Wrap(ctx, errctx.CategoryInvalidInput, "bad audio URL", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errctx.Wrap(ctx, errctx.CategoryNetwork, "audio download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errctx.New(ctx, errctx.CategoryNetwork, "bad_status",
			fmt.Sprintf("audio download returned %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, errctx.Wrap(ctx, errctx.CategoryNetwork, "audio read failed", err)
	}
	if len(data) > maxAudioBytes {
		return nil, errctx.New(ctx, errctx.CategoryInvalidInput, "too_large", "audio exceeds size limit")
	}
	return data, nil
}

// downloadBlob reads a blob: URL from inside the page as base64
func (p *Pipeline) downloadBlob(sessionCtx context.Context, blobURL string) ([]byte, error) {
	script := fmt.Sprintf(`
		(async () => {
			const resp = await fetch(%q);
			const buf = await resp.arrayBuffer();
			let binary = '';
			const bytes = new Uint8Array(buf);
			for (let i = 0; i < bytes.length; i++) { binary += String.fromCharCode(bytes[i]); }
			return btoa(binary);
		})()`, blobURL)

	var encoded string
	err := chromedp.Run(sessionCtx, chromedp.Evaluate(script, &encoded, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob audio: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode blob audio: %w", err)
	}
	if len(data) > maxAudioBytes {
		return nil, fmt.Errorf("blob audio exceeds size limit")
	}
	return data, nil
}

// stageTempFile writes the clip under the configured temp directory with
// owner-only permissions. The resolved path must stay inside the directory;
// anything escaping it is rejected.
func (p *Pipeline) stageTempFile(data []byte, key, format string) (string, func(), error) {
	dir := p.config.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", nil, fmt.Errorf("failed to create audio temp dir: %w", err)
	}

	name := fmt.Sprintf("captcha-audio-%s.%s", key[:16], format)
	path, err := SafeJoin(dir, name)
	if err != nil {
		return "", nil, err
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", nil, fmt.Errorf("failed to write audio file: %w", err)
	}

	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.logger.Warn().Err(err).Str("path", path).Msg("Failed to delete temp audio file")
		}
	}
	return path, cleanup, nil
}

// SafeJoin joins name onto dir and rejects any result that escapes dir
func SafeJoin(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	cleanDir := filepath.Clean(dir) + string(os.PathSeparator)
	if !strings.HasPrefix(filepath.Clean(path)+string(os.PathSeparator), cleanDir) &&
		filepath.Clean(path) != filepath.Clean(dir) {
		return "", fmt.Errorf("audio file path escapes temp directory: %q", name)
	}
	if filepath.Clean(path) == filepath.Clean(dir) {
		return "", fmt.Errorf("audio file name is empty after cleaning: %q", name)
	}
	return path, nil
}

func contentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
