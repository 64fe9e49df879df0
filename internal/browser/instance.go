package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/models"
)

// Instance is one launched browser process. Job isolation happens one level
// down: each job gets its own browser context and tab inside an instance, so
// instances are shared across sequential jobs without leaking state.
type Instance struct {
	ID            string
	Family        models.BrowserFamily
	Ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	LaunchedAt    time.Time
	lastUsedAt    time.Time
}

// LastUsedAt reports when the instance was last returned to the pool
func (i *Instance) LastUsedAt() time.Time {
	return i.lastUsedAt
}

// Close tears down the browser process and its allocator
func (i *Instance) Close() {
	if i.cancelBrowser != nil {
		i.cancelBrowser()
	}
	if i.cancelAlloc != nil {
		i.cancelAlloc()
	}
}

// Healthy runs a cheap round-trip to verify the browser still responds
func (i *Instance) Healthy(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(i.Ctx, timeout)
	defer cancel()
	var title string
	return chromedp.Run(ctx, chromedp.Title(&title)) == nil
}

// LaunchFunc creates a browser instance for a family. Swappable in tests.
type LaunchFunc func(ctx context.Context, family models.BrowserFamily) (*Instance, error)

// NewLauncher builds the production launcher from config
func NewLauncher(config *common.BrowserConfig, logger arbor.ILogger) LaunchFunc {
	return func(ctx context.Context, family models.BrowserFamily) (*Instance, error) {
		return launchInstance(ctx, family, config, logger)
	}
}

func launchInstance(ctx context.Context, family models.BrowserFamily, config *common.BrowserConfig, logger arbor.ILogger) (*Instance, error) {
	start := time.Now()

	opts, err := allocatorOptions(family, config)
	if err != nil {
		return nil, err
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Startup probe so a broken binary fails here, not mid-job
	probeCtx, cancelProbe := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancelProbe()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("browser failed startup probe: %w", err)
	}

	inst := &Instance{
		ID:            common.NewInstanceID(),
		Family:        family,
		Ctx:           browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		LaunchedAt:    time.Now(),
		lastUsedAt:    time.Now(),
	}

	logger.Debug().
		Str("instance_id", inst.ID).
		Str("family", string(family)).
		Dur("startup_time", time.Since(start)).
		Msg("Browser instance launched")

	return inst, nil
}

// allocatorOptions builds the exec allocator flag set for a family. Chromium
// and chromium-derived binaries are driven over CDP; webkit has no CDP
// endpoint and is rejected at launch.
func allocatorOptions(family models.BrowserFamily, config *common.BrowserConfig) ([]chromedp.ExecAllocatorOption, error) {
	switch family {
	case models.BrowserChromium:
		opts := append(
			chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", config.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", config.NoSandbox),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.Flag("disable-background-timer-throttling", false),
			chromedp.Flag("disable-backgrounding-occluded-windows", false),
			chromedp.Flag("disable-renderer-backgrounding", false),
		)
		if config.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(config.UserAgent))
		}
		if config.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(config.ExecPath))
		}
		return opts, nil
	case models.BrowserFirefox:
		if config.ExecPath == "" {
			return nil, fmt.Errorf("firefox requires browser.exec_path pointing at a CDP-capable build")
		}
		opts := append(
			chromedp.DefaultExecAllocatorOptions[:],
			chromedp.ExecPath(config.ExecPath),
			chromedp.Flag("headless", config.Headless),
		)
		return opts, nil
	case models.BrowserWebkit:
		return nil, fmt.Errorf("webkit exposes no CDP endpoint and cannot be pooled")
	}
	return nil, fmt.Errorf("unknown browser family: %q", family)
}
