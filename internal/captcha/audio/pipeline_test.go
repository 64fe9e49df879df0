package audio

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/models"
)

// mp3Bytes is a minimal payload DetectFormat accepts as mp3
var mp3Bytes = append([]byte("ID3"), make([]byte, 16)...)

type stubProvider struct {
	name   string
	text   string
	conf   float64
	err    error
	calls  int
	mu     sync.Mutex
	failN  int // fail the first N calls before succeeding
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Transcribe(ctx context.Context, audio []byte, format string) (*models.Transcription, error) {
	s.mu.Lock()
	s.calls++
	calls := s.calls
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	if calls <= s.failN {
		return nil, fmt.Errorf("transient failure %d", calls)
	}
	return &models.Transcription{Text: s.text, Confidence: s.conf, Provider: s.name}, nil
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*models.TranscriptionCacheEntry
	puts    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]*models.TranscriptionCacheEntry{}}
}

func (m *memoryCache) Get(ctx context.Context, key string) (*models.TranscriptionCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[key], nil
}

func (m *memoryCache) Put(ctx context.Context, entry *models.TranscriptionCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.entries[entry.Key] = entry
	return nil
}

func (m *memoryCache) Sweep(ctx context.Context) (int, error) { return 0, nil }

func newTestPipeline(t *testing.T, cache *memoryCache, providers ...Provider) *Pipeline {
	t.Helper()
	config := &common.AudioConfig{
		MinConfidence:      0.7,
		MaxRetries:         3,
		CacheTTLHours:      1,
		RateLimitPerMinute: 600,
		TempDir:            t.TempDir(),
	}
	// A typed-nil cache would defeat the nil check inside the pipeline
	var c interfaces.TranscriptionCache
	if cache != nil {
		c = cache
	}
	pipeline := NewPipeline(c, arbor.NewLogger(), config)
	return pipeline.WithProviders(providers...)
}

func serveAudio(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestTranscribeFirstProviderWins(t *testing.T) {
	server := serveAudio(t, mp3Bytes)
	first := &stubProvider{name: "google", text: "seven four two", conf: 0.95}
	second := &stubProvider{name: "whisper", text: "wrong", conf: 0.9}

	pipeline := newTestPipeline(t, newMemoryCache(), first, second)
	pipeline.httpClient = server.Client()

	result, err := pipeline.Transcribe(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "seven four two", result.Text)
	assert.Equal(t, "google", result.Provider)
	assert.False(t, result.FromCache)
	assert.Equal(t, 0, second.calls)
}

func TestTranscribeFallsBackOnRateLimit(t *testing.T) {
	server := serveAudio(t, mp3Bytes)
	throttled := &stubProvider{name: "google", err: errRateLimited}
	backup := &stubProvider{name: "whisper", text: "three one eight", conf: 0.9}

	pipeline := newTestPipeline(t, nil, throttled, backup)
	pipeline.httpClient = server.Client()

	result, err := pipeline.Transcribe(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "whisper", result.Provider)
	// Rate limiting is permanent for the attempt; no retries against it
	assert.Equal(t, 1, throttled.calls)
}

func TestTranscribeSkipsDrainedProviderBucket(t *testing.T) {
	server := serveAudio(t, mp3Bytes)
	primary := &stubProvider{name: "google", text: "one", conf: 0.9}
	backup := &stubProvider{name: "whisper", text: "two", conf: 0.9}

	config := &common.AudioConfig{
		MinConfidence:      0.7,
		MaxRetries:         3,
		RateLimitPerMinute: 1,
		TempDir:            t.TempDir(),
	}
	pipeline := NewPipeline(nil, arbor.NewLogger(), config).WithProviders(primary, backup)
	pipeline.httpClient = server.Client()

	first, err := pipeline.Transcribe(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "google", first.Provider)

	// google's bucket is empty now; whisper has its own full bucket and
	// must serve the second request without blocking
	second, err := pipeline.Transcribe(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "whisper", second.Provider)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, backup.calls)
}

func TestProviderGatesAreIndependent(t *testing.T) {
	pipeline := NewPipeline(nil, arbor.NewLogger(), &common.AudioConfig{RateLimitPerMinute: 1})

	google := pipeline.gate("google")
	whisper := pipeline.gate("whisper")
	require.NotSame(t, google, whisper)
	assert.Same(t, google, pipeline.gate("google"))

	assert.True(t, google.limiter.Allow())
	assert.False(t, google.limiter.Allow())
	// Draining google's bucket leaves whisper's untouched
	assert.True(t, whisper.limiter.Allow())

	// The in-flight slot serializes one provider without touching the other
	google.slot <- struct{}{}
	select {
	case google.slot <- struct{}{}:
		t.Fatal("slot admitted a second in-flight call")
	default:
	}
	select {
	case whisper.slot <- struct{}{}:
		<-whisper.slot
	default:
		t.Fatal("whisper slot blocked by google's in-flight call")
	}
	<-google.slot
}

func TestTranscribeRetriesTransientFailures(t *testing.T) {
	server := serveAudio(t, mp3Bytes)
	flaky := &stubProvider{name: "google", text: "six six one", conf: 0.88, failN: 2}

	pipeline := newTestPipeline(t, nil, flaky)
	pipeline.httpClient = server.Client()

	result, err := pipeline.Transcribe(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "six six one", result.Text)
	assert.Equal(t, 3, flaky.calls)
}

func TestTranscribeRejectsLowConfidence(t *testing.T) {
	server := serveAudio(t, mp3Bytes)
	mumble := &stubProvider{name: "google", text: "???", conf: 0.3}

	pipeline := newTestPipeline(t, nil, mumble)
	pipeline.httpClient = server.Client()

	_, err := pipeline.Transcribe(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.Equal(t, errctx.CategorySolverUnavailable, errctx.CategoryOf(err))
}

func TestTranscribeCacheRoundTrip(t *testing.T) {
	server := serveAudio(t, mp3Bytes)
	provider := &stubProvider{name: "google", text: "nine nine five", conf: 0.92}
	cache := newMemoryCache()

	pipeline := newTestPipeline(t, cache, provider)
	pipeline.httpClient = server.Client()

	first, err := pipeline.Transcribe(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, 1, cache.puts)

	second, err := pipeline.Transcribe(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, 1, provider.calls)
}

func TestTranscribeNoProviders(t *testing.T) {
	pipeline := newTestPipeline(t, nil)
	_, err := pipeline.Transcribe(context.Background(), "https://example.com/audio.mp3", nil)
	require.Error(t, err)
	assert.Equal(t, errctx.CategorySolverUnavailable, errctx.CategoryOf(err))
}

func TestTranscribeRejectsBadScheme(t *testing.T) {
	pipeline := newTestPipeline(t, nil, &stubProvider{name: "google", text: "x", conf: 0.9})
	for _, url := range []string{
		"http://insecure.example/audio.mp3",
		"file:///etc/passwd",
		"ftp://example.com/a.mp3",
	} {
		_, err := pipeline.Transcribe(context.Background(), url, nil)
		require.Error(t, err, url)
		assert.Equal(t, errctx.CategoryInvalidInput, errctx.CategoryOf(err), url)
	}
}

func TestTranscribeBlobNeedsSession(t *testing.T) {
	pipeline := newTestPipeline(t, nil, &stubProvider{name: "google", text: "x", conf: 0.9})
	_, err := pipeline.Transcribe(context.Background(), "blob:https://example.com/abc", nil)
	require.Error(t, err)
	assert.Equal(t, errctx.CategoryInvalidInput, errctx.CategoryOf(err))
}

// dirWatchingProvider records the temp directory contents at call time
type dirWatchingProvider struct {
	dir  string
	seen []string
}

func (d *dirWatchingProvider) Name() string { return "google" }

func (d *dirWatchingProvider) Transcribe(ctx context.Context, audio []byte, format string) (*models.Transcription, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		d.seen = append(d.seen, entry.Name())
	}
	return &models.Transcription{Text: "ok", Confidence: 0.9, Provider: d.Name()}, nil
}

func TestTranscribeStagesCompressedFormatsOnly(t *testing.T) {
	wavBytes := append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 16)...)

	for _, tc := range []struct {
		name    string
		payload []byte
		staged  bool
	}{
		{"mp3 staged", mp3Bytes, true},
		{"wav streams from memory", wavBytes, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			server := serveAudio(t, tc.payload)
			tempDir := t.TempDir()
			watcher := &dirWatchingProvider{dir: tempDir}

			config := &common.AudioConfig{
				MinConfidence:      0.7,
				MaxRetries:         1,
				RateLimitPerMinute: 600,
				TempDir:            tempDir,
			}
			pipeline := NewPipeline(nil, arbor.NewLogger(), config).WithProviders(watcher)
			pipeline.httpClient = server.Client()

			_, err := pipeline.Transcribe(context.Background(), server.URL, nil)
			require.NoError(t, err)

			if tc.staged {
				require.Len(t, watcher.seen, 1)
				assert.Contains(t, watcher.seen[0], "captcha-audio-")
				assert.Contains(t, watcher.seen[0], ".mp3")
			} else {
				assert.Empty(t, watcher.seen)
			}

			// Staged files never outlive the provider calls
			after, err := os.ReadDir(tempDir)
			require.NoError(t, err)
			assert.Empty(t, after)
		})
	}
}

func TestSafeJoin(t *testing.T) {
	dir := t.TempDir()

	path, err := SafeJoin(dir, "captcha-audio-abc.mp3")
	require.NoError(t, err)
	assert.Contains(t, path, dir)

	_, err = SafeJoin(dir, "../escape.mp3")
	assert.Error(t, err)

	_, err = SafeJoin(dir, "..")
	assert.Error(t, err)

	_, err = SafeJoin(dir, ".")
	assert.Error(t, err)
}

func TestRankedProvidersHonorsPriorityAndCredentials(t *testing.T) {
	config := &common.AudioConfig{
		ProviderPriority:   "whisper, google, azure",
		GoogleSpeechAPIKey: "gk",
		OpenAIAPIKey:       "ok",
		// Azure key absent; azure must not appear
	}
	providers := RankedProviders(config)
	require.Len(t, providers, 2)
	assert.Equal(t, "whisper", providers[0].Name())
	assert.Equal(t, "google", providers[1].Name())
}

func TestRankedProvidersEmptyWithoutCredentials(t *testing.T) {
	config := &common.AudioConfig{ProviderPriority: "google,whisper,azure"}
	assert.Empty(t, RankedProviders(config))
}

func TestProviderTimeoutDefaults(t *testing.T) {
	assert.Equal(t, 30*time.Second, providerTimeout(&common.AudioConfig{}))
	assert.Equal(t, 5*time.Second, providerTimeout(&common.AudioConfig{TimeoutMS: 5000}))
}
