package solver

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/models"
)

const (
	akamaiSensorVersion = "1.75"
	akamaiCookieName    = "_abck"

	// A validated _abck is a long opaque blob; short values mean rejection
	akamaiValidCookieLen = 50
)

// Fingerprint is the per-session browser identity embedded in sensor data.
// It is collected once from the live page so every sensor post from the same
// session tells the same story.
type Fingerprint struct {
	UserAgent       string   `json:"userAgent"`
	ScreenWidth     int      `json:"screenWidth"`
	ScreenHeight    int      `json:"screenHeight"`
	ColorDepth      int      `json:"colorDepth"`
	TimezoneOffset  int      `json:"timezoneOffset"`
	Language        string   `json:"language"`
	Platform        string   `json:"platform"`
	Plugins         []string `json:"plugins"`
	WebGLRenderer   string   `json:"webglRenderer"`
	CanvasHash      string   `json:"canvasHash"`
	Cores           int      `json:"cores"`
	DeviceMemory    float64  `json:"deviceMemory"`
	TouchPoints     int      `json:"touchPoints"`
}

const fingerprintExpr = `(() => {
	const canvas = document.createElement('canvas');
	canvas.width = 200; canvas.height = 40;
	const ctx2d = canvas.getContext('2d');
	ctx2d.font = '14px Arial';
	ctx2d.fillText('fingerprint probe', 4, 20);
	let canvasHash = 0;
	const dataURL = canvas.toDataURL();
	for (let i = 0; i < dataURL.length; i++) {
		canvasHash = ((canvasHash << 5) - canvasHash + dataURL.charCodeAt(i)) | 0;
	}
	let webglRenderer = '';
	try {
		const gl = document.createElement('canvas').getContext('webgl');
		const ext = gl.getExtension('WEBGL_debug_renderer_info');
		webglRenderer = gl.getParameter(ext.UNMASKED_RENDERER_WEBGL);
	} catch (e) {}
	return {
		userAgent: navigator.userAgent,
		screenWidth: screen.width,
		screenHeight: screen.height,
		colorDepth: screen.colorDepth,
		timezoneOffset: new Date().getTimezoneOffset(),
		language: navigator.language,
		platform: navigator.platform,
		plugins: Array.from(navigator.plugins).map(p => p.name),
		webglRenderer: webglRenderer,
		canvasHash: canvasHash.toString(16),
		cores: navigator.hardwareConcurrency || 4,
		deviceMemory: navigator.deviceMemory || 8,
		touchPoints: navigator.maxTouchPoints || 0
	};
})()`

// sensorEvent is one synthetic interaction sample
type sensorEvent struct {
	Type string `json:"type"`
	T    int64  `json:"t"` // Milliseconds since sensor epoch
	X    int    `json:"x,omitempty"`
	Y    int    `json:"y,omitempty"`
	Key  int    `json:"key,omitempty"`
}

// sensorPayload is the document posted to the sensor endpoint
type sensorPayload struct {
	SensorVersion string        `json:"sensorVersion"`
	Fingerprint   *Fingerprint  `json:"fingerprint"`
	Events        []sensorEvent `json:"events"`
	PageURL       string        `json:"pageUrl"`
	Timestamp     int64         `json:"timestamp"`
	Signature     string        `json:"signature,omitempty"`
}

// AkamaiSolver replays plausible telemetry to Akamai Bot Manager's sensor
// endpoint. Levels differ in how much behavioral data the sensor must carry:
// level 1 is fingerprint-only, level 2 adds pointer movement, level 3 adds
// scrolling and keystroke cadence.
type AkamaiSolver struct {
	signingSecret string
	logger        arbor.ILogger

	mu           sync.Mutex
	fingerprints map[string]*Fingerprint // Keyed by session target
}

// NewAkamaiSolver creates the native Akamai sensor solver
func NewAkamaiSolver(signingSecret string, logger arbor.ILogger) *AkamaiSolver {
	return &AkamaiSolver{
		signingSecret: signingSecret,
		logger:        logger,
		fingerprints:  make(map[string]*Fingerprint),
	}
}

func (s *AkamaiSolver) ID() string { return "akamai-native" }

func (s *AkamaiSolver) Supports(challengeType models.ChallengeType) bool {
	switch challengeType {
	case models.ChallengeAkamaiLevel1, models.ChallengeAkamaiLevel2, models.ChallengeAkamaiLevel3:
		return true
	}
	return false
}

func (s *AkamaiSolver) Solve(ctx context.Context, sessionCtx context.Context, challenge *models.Challenge) (*models.SolveResult, error) {
	fingerprint, err := s.sessionFingerprint(sessionCtx)
	if err != nil {
		return nil, errctx.Wrap(ctx, errctx.CategorySolverUnavailable, "failed to collect fingerprint", err)
	}

	endpoint, err := s.detectSensorEndpoint(sessionCtx)
	if err != nil {
		return nil, errctx.Wrap(ctx, errctx.CategorySolverUnavailable, "sensor endpoint not found", err)
	}

	payload := &sensorPayload{
		SensorVersion: akamaiSensorVersion,
		Fingerprint:   fingerprint,
		Events:        s.generateEvents(challenge.Type, fingerprint),
		PageURL:       challenge.PageURL,
		Timestamp:     time.Now().UnixMilli(),
	}
	payload.Signature = s.sign(payload)

	if err := s.postSensor(sessionCtx, endpoint, payload); err != nil {
		return nil, errctx.Wrap(ctx, errctx.CategoryNetwork, "sensor post failed", err)
	}

	// Validation shows up as a regenerated _abck cookie
	deadline := time.Now().Add(5 * time.Second)
	for {
		cookie, err := cookieValue(sessionCtx, akamaiCookieName)
		if err == nil && len(cookie) > akamaiValidCookieLen {
			return &models.SolveResult{Cookie: akamaiCookieName + "=" + cookie, SolvedAt: time.Now()}, nil
		}
		if time.Now().After(deadline) {
			return nil, errctx.New(ctx, errctx.CategorySolverUnavailable, "cookie_invalid",
				"sensor was not accepted: _abck cookie still short")
		}
		select {
		case <-ctx.Done():
			return nil, errctx.Wrap(ctx, errctx.CategoryTimeout, "sensor validation interrupted", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// sessionFingerprint collects the fingerprint once per session target
func (s *AkamaiSolver) sessionFingerprint(sessionCtx context.Context) (*Fingerprint, error) {
	key := sessionKey(sessionCtx)

	s.mu.Lock()
	if fingerprint, ok := s.fingerprints[key]; ok {
		s.mu.Unlock()
		return fingerprint, nil
	}
	s.mu.Unlock()

	var fingerprint Fingerprint
	if err := chromedp.Run(sessionCtx, chromedp.Evaluate(fingerprintExpr, &fingerprint)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.fingerprints[key] = &fingerprint
	s.mu.Unlock()
	return &fingerprint, nil
}

// ForgetSession drops the cached fingerprint when a session ends
func (s *AkamaiSolver) ForgetSession(sessionCtx context.Context) {
	s.mu.Lock()
	delete(s.fingerprints, sessionKey(sessionCtx))
	s.mu.Unlock()
}

func sessionKey(sessionCtx context.Context) string {
	if c := chromedp.FromContext(sessionCtx); c != nil && c.Target != nil {
		return string(c.Target.TargetID)
	}
	return "unknown"
}

// detectSensorEndpoint finds the Akamai collector URL the page loaded
func (s *AkamaiSolver) detectSensorEndpoint(sessionCtx context.Context) (string, error) {
	const expr = `(() => {
		const scripts = Array.from(document.querySelectorAll('script[src]'));
		const akam = scripts.find(el => el.src.includes('/akam/'));
		if (akam) { return akam.src; }
		const entries = performance.getEntriesByType('resource');
		const hit = entries.find(e => e.name.includes('/akam/'));
		return hit ? hit.name : "";
	})()`

	var endpoint string
	if err := chromedp.Run(sessionCtx, chromedp.Evaluate(expr, &endpoint)); err != nil {
		return "", err
	}
	if endpoint == "" {
		return "", fmt.Errorf("no /akam/ resource on page")
	}
	return endpoint, nil
}

// generateEvents synthesizes the behavioral telemetry for the sensor level
func (s *AkamaiSolver) generateEvents(challengeType models.ChallengeType, fingerprint *Fingerprint) []sensorEvent {
	var events []sensorEvent
	if challengeType == models.ChallengeAkamaiLevel1 {
		return events
	}

	clock := int64(rand.Intn(300) + 100)

	// Pointer path from a plausible origin toward page center
	startX := float64(rand.Intn(fingerprint.ScreenWidth/2) + 10)
	startY := float64(rand.Intn(fingerprint.ScreenHeight/2) + 10)
	endX := float64(fingerprint.ScreenWidth) * 0.5
	endY := float64(fingerprint.ScreenHeight) * 0.4
	for _, p := range mouseTrajectory(startX, startY, endX, endY, 24) {
		clock += int64(rand.Intn(18) + 8)
		events = append(events, sensorEvent{Type: "mousemove", T: clock, X: int(p.x), Y: int(p.y)})
	}
	clock += int64(rand.Intn(120) + 60)
	events = append(events, sensorEvent{Type: "click", T: clock, X: int(endX), Y: int(endY)})

	if challengeType != models.ChallengeAkamaiLevel3 {
		return events
	}

	// Scroll burst with a small overshoot and correction
	scrollTarget := rand.Intn(600) + 200
	position := 0
	for position < scrollTarget {
		step := rand.Intn(80) + 40
		position += step
		clock += int64(rand.Intn(40) + 20)
		events = append(events, sensorEvent{Type: "scroll", T: clock, Y: position})
	}
	clock += int64(rand.Intn(80) + 40)
	events = append(events, sensorEvent{Type: "scroll", T: clock, Y: scrollTarget - rand.Intn(30) - 10})

	// Keystroke cadence; codes only, no content
	for i := 0; i < rand.Intn(5)+3; i++ {
		clock += int64(rand.Intn(140) + 60)
		events = append(events, sensorEvent{Type: "keydown", T: clock, Key: rand.Intn(26) + 65})
	}
	return events
}

type trajectoryPoint struct {
	x, y float64
}

// mouseTrajectory samples a cubic Bezier whose control points deviate up to
// 20% of the path length from the straight line, with 1-3px jitter.
func mouseTrajectory(x1, y1, x2, y2 float64, steps int) []trajectoryPoint {
	dx, dy := x2-x1, y2-y1
	dist := math.Hypot(dx, dy)
	if dist == 0 {
		dist = 1
	}
	deviation := dist * 0.2

	// Perpendicular offsets for the two control points
	px, py := -dy/dist, dx/dist
	o1 := (rand.Float64()*2 - 1) * deviation
	o2 := (rand.Float64()*2 - 1) * deviation
	c1x, c1y := x1+dx/3+px*o1, y1+dy/3+py*o1
	c2x, c2y := x1+2*dx/3+px*o2, y1+2*dy/3+py*o2

	points := make([]trajectoryPoint, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		mt := 1 - t
		x := mt*mt*mt*x1 + 3*mt*mt*t*c1x + 3*mt*t*t*c2x + t*t*t*x2
		y := mt*mt*mt*y1 + 3*mt*mt*t*c1y + 3*mt*t*t*c2y + t*t*t*y2
		if i > 0 && i < steps {
			x += signedJitter()
			y += signedJitter()
		}
		points = append(points, trajectoryPoint{x, y})
	}
	return points
}

// signedJitter returns 1-3 pixels in a random direction
func signedJitter() float64 {
	jitter := float64(rand.Intn(3) + 1)
	if rand.Intn(2) == 0 {
		return -jitter
	}
	return jitter
}

// sign computes HMAC-SHA256 over the canonical payload fields
func (s *AkamaiSolver) sign(payload *sensorPayload) string {
	events, _ := json.Marshal(payload.Events)
	canonical := fmt.Sprintf("%s|%s|%d|%s", events, payload.SensorVersion, payload.Timestamp, payload.PageURL)
	mac := hmac.New(sha256.New, []byte(s.signingSecret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// postSensor submits the payload from inside the page so it carries the
// session's cookies and origin.
func (s *AkamaiSolver) postSensor(sessionCtx context.Context, endpoint string, payload *sensorPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode sensor payload: %w", err)
	}

	script := fmt.Sprintf(`
		fetch(%q, {
			method: 'POST',
			headers: {'Content-Type': 'text/plain;charset=UTF-8'},
			body: %q,
			credentials: 'include'
		}).then(r => r.status)`, endpoint, string(body))

	var status int
	if err := evaluatePromise(sessionCtx, script, &status); err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("sensor endpoint returned %d", status)
	}
	return nil
}
