package browser

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBezierPathEndsExactlyAtTarget(t *testing.T) {
	start := point{100, 100}
	end := point{740, 380}
	path := bezierPath(start, end, 20)

	require.Len(t, path, 21)
	assert.Equal(t, start.x, path[0].x)
	assert.Equal(t, start.y, path[0].y)
	assert.Equal(t, end.x, path[len(path)-1].x, "landing point must not be jittered")
	assert.Equal(t, end.y, path[len(path)-1].y)
}

func TestBezierPathIsNotAStraightLine(t *testing.T) {
	start := point{0, 0}
	end := point{1000, 0}

	// With jitter and bow, at least one midpoint leaves the straight line
	deviated := false
	for i := 0; i < 10 && !deviated; i++ {
		for _, p := range bezierPath(start, end, 20) {
			if math.Abs(p.y) > 0.5 {
				deviated = true
				break
			}
		}
	}
	assert.True(t, deviated)
}

func TestBezierPathStaysNearRoute(t *testing.T) {
	start := point{0, 0}
	end := point{400, 300}
	dist := math.Hypot(end.x-start.x, end.y-start.y)

	for _, p := range bezierPath(start, end, 20) {
		// No point should stray further than the whole travel distance
		assert.Less(t, math.Hypot(p.x-start.x, p.y-start.y), dist*1.5)
	}
}

func TestNormalDelayClampsToBounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := normalDelay(80, 40, 20, 350)
		assert.GreaterOrEqual(t, d, 20*time.Millisecond)
		assert.LessOrEqual(t, d, 350*time.Millisecond)
	}
}

func TestNormalDelayVaries(t *testing.T) {
	seen := make(map[time.Duration]bool)
	for i := 0; i < 50; i++ {
		seen[normalDelay(80, 25, 20, 350)] = true
	}
	assert.Greater(t, len(seen), 10, "delays must not land on a fixed grid")
}
