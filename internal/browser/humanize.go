package browser

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// Human-plausible input. Mouse paths follow a cubic Bezier curve with
// per-step jitter; key and click timing is drawn from a normal distribution
// so intervals never land on a fixed grid.

type point struct {
	x, y float64
}

// bezierPath samples a cubic Bezier curve from start to end. Control points
// are offset perpendicular to the straight line so the path bows naturally.
func bezierPath(start, end point, steps int) []point {
	dx := end.x - start.x
	dy := end.y - start.y
	dist := math.Hypot(dx, dy)

	// Perpendicular offset up to 20% of the travel distance
	bow := (rand.Float64() - 0.5) * dist * 0.4
	c1 := point{
		x: start.x + dx/3 - dy/dist*bow,
		y: start.y + dy/3 + dx/dist*bow,
	}
	c2 := point{
		x: start.x + 2*dx/3 - dy/dist*bow/2,
		y: start.y + 2*dy/3 + dx/dist*bow/2,
	}

	path := make([]point, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		mt := 1 - t
		x := mt*mt*mt*start.x + 3*mt*mt*t*c1.x + 3*mt*t*t*c2.x + t*t*t*end.x
		y := mt*mt*mt*start.y + 3*mt*mt*t*c1.y + 3*mt*t*t*c2.y + t*t*t*end.y
		// 1-3px jitter on intermediate points, never on the landing point
		if i > 0 && i < steps {
			x += float64(rand.Intn(5) - 2)
			y += float64(rand.Intn(5) - 2)
		}
		path = append(path, point{x, y})
	}
	return path
}

// MoveMouse walks the cursor from (fromX, fromY) to (toX, toY) along a
// jittered curve
func MoveMouse(ctx context.Context, fromX, fromY, toX, toY float64) error {
	dist := math.Hypot(toX-fromX, toY-fromY)
	steps := 12 + rand.Intn(10)
	if dist < 100 {
		steps = 6 + rand.Intn(6)
	}

	for _, p := range bezierPath(point{fromX, fromY}, point{toX, toY}, steps) {
		err := chromedp.Run(ctx, input.DispatchMouseEvent(input.MouseMoved, p.x, p.y))
		if err != nil {
			return err
		}
		time.Sleep(normalDelay(12, 4, 4, 30))
	}
	return nil
}

// Click moves to the point and presses the left button with a human-scale
// hold time
func Click(ctx context.Context, x, y float64) error {
	startX := x - 100 - rand.Float64()*200
	startY := y - 50 - rand.Float64()*100
	if err := MoveMouse(ctx, startX, startY, x, y); err != nil {
		return err
	}

	time.Sleep(normalDelay(90, 30, 30, 250))

	err := chromedp.Run(ctx,
		input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(input.Left).
			WithClickCount(1),
	)
	if err != nil {
		return err
	}

	time.Sleep(normalDelay(70, 20, 25, 180))

	return chromedp.Run(ctx,
		input.DispatchMouseEvent(input.MouseReleased, x, y).
			WithButton(input.Left).
			WithClickCount(1),
	)
}

// TypeText sends text one key at a time with normally distributed intervals
func TypeText(ctx context.Context, text string, meanDelayMS float64) error {
	if meanDelayMS <= 0 {
		meanDelayMS = 80
	}
	for _, ch := range text {
		if err := chromedp.Run(ctx, chromedp.KeyEvent(string(ch))); err != nil {
			return err
		}
		time.Sleep(normalDelay(meanDelayMS, meanDelayMS/3, 20, 350))
	}
	return nil
}

// normalDelay draws from N(mean, stddev) clamped to [min, max], in ms
func normalDelay(mean, stddev, min, max float64) time.Duration {
	ms := rand.NormFloat64()*stddev + mean
	if ms < min {
		ms = min
	}
	if ms > max {
		ms = max
	}
	return time.Duration(ms * float64(time.Millisecond))
}
