package solver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/models"
)

func TestAkamaiSupports(t *testing.T) {
	solver := NewAkamaiSolver("secret", arbor.NewLogger())
	assert.True(t, solver.Supports(models.ChallengeAkamaiLevel1))
	assert.True(t, solver.Supports(models.ChallengeAkamaiLevel2))
	assert.True(t, solver.Supports(models.ChallengeAkamaiLevel3))
	assert.False(t, solver.Supports(models.ChallengeTurnstile))
}

func TestAkamaiSignature(t *testing.T) {
	solver := NewAkamaiSolver("topsecret", arbor.NewLogger())
	payload := &sensorPayload{
		SensorVersion: akamaiSensorVersion,
		Events:        []sensorEvent{{Type: "click", T: 100, X: 5, Y: 9}},
		PageURL:       "https://shop.example.com/checkout",
		Timestamp:     1700000000000,
	}

	signature := solver.sign(payload)

	events, err := json.Marshal(payload.Events)
	require.NoError(t, err)
	mac := hmac.New(sha256.New, []byte("topsecret"))
	fmt.Fprintf(mac, "%s|%s|%d|%s", events, payload.SensorVersion, payload.Timestamp, payload.PageURL)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), signature)

	// Same payload signs identically; different secret does not
	assert.Equal(t, signature, solver.sign(payload))
	other := NewAkamaiSolver("different", arbor.NewLogger())
	assert.NotEqual(t, signature, other.sign(payload))
}

func TestMouseTrajectoryShape(t *testing.T) {
	points := mouseTrajectory(100, 100, 500, 300, 24)
	require.Len(t, points, 25)

	// Exact endpoints
	assert.InDelta(t, 100, points[0].x, 0.001)
	assert.InDelta(t, 100, points[0].y, 0.001)
	assert.InDelta(t, 500, points[len(points)-1].x, 0.001)
	assert.InDelta(t, 300, points[len(points)-1].y, 0.001)

	// Interior points stay near the corridor: path length plus 20%
	// deviation plus jitter bounds every sample.
	dist := math.Hypot(400, 200)
	for _, p := range points {
		assert.Less(t, distanceToSegment(p.x, p.y, 100, 100, 500, 300), dist*0.2+5)
	}
}

func TestMouseTrajectoryNotStraight(t *testing.T) {
	curved := false
	for i := 0; i < 10 && !curved; i++ {
		points := mouseTrajectory(0, 0, 400, 0, 24)
		for _, p := range points {
			if math.Abs(p.y) > 2 {
				curved = true
				break
			}
		}
	}
	assert.True(t, curved, "every trajectory was a straight line")
}

func TestGenerateEventsByLevel(t *testing.T) {
	solver := NewAkamaiSolver("secret", arbor.NewLogger())
	fingerprint := &Fingerprint{ScreenWidth: 1920, ScreenHeight: 1080}

	assert.Empty(t, solver.generateEvents(models.ChallengeAkamaiLevel1, fingerprint))

	level2 := solver.generateEvents(models.ChallengeAkamaiLevel2, fingerprint)
	assert.NotEmpty(t, level2)
	assert.Equal(t, "click", level2[len(level2)-1].Type)
	for _, event := range level2 {
		assert.NotEqual(t, "scroll", event.Type)
		assert.NotEqual(t, "keydown", event.Type)
	}

	level3 := solver.generateEvents(models.ChallengeAkamaiLevel3, fingerprint)
	kinds := map[string]bool{}
	for _, event := range level3 {
		kinds[event.Type] = true
	}
	assert.True(t, kinds["mousemove"])
	assert.True(t, kinds["scroll"])
	assert.True(t, kinds["keydown"])
}

func TestGenerateEventsMonotonicClock(t *testing.T) {
	solver := NewAkamaiSolver("secret", arbor.NewLogger())
	events := solver.generateEvents(models.ChallengeAkamaiLevel3, &Fingerprint{ScreenWidth: 1280, ScreenHeight: 800})

	var last int64
	for i, event := range events {
		// The overshoot correction may revisit a position, never a time
		assert.GreaterOrEqual(t, event.T, last, "event %d went back in time", i)
		last = event.T
	}
}

func TestSignedJitterRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		j := signedJitter()
		assert.GreaterOrEqual(t, math.Abs(j), 1.0)
		assert.LessOrEqual(t, math.Abs(j), 3.0)
	}
}

// distanceToSegment is the point-to-line-segment distance
func distanceToSegment(px, py, x1, y1, x2, y2 float64) float64 {
	dx, dy := x2-x1, y2-y1
	lengthSq := dx*dx + dy*dy
	if lengthSq == 0 {
		return math.Hypot(px-x1, py-y1)
	}
	t := ((px-x1)*dx + (py-y1)*dy) / lengthSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(px-(x1+t*dx), py-(y1+t*dy))
}
