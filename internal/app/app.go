package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/browser"
	"github.com/pagewright/pagewright/internal/captcha/audio"
	"github.com/pagewright/pagewright/internal/captcha/detection"
	"github.com/pagewright/pagewright/internal/captcha/solver"
	"github.com/pagewright/pagewright/internal/captcha/widget"
	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/jobs"
	"github.com/pagewright/pagewright/internal/scheduler"
	"github.com/pagewright/pagewright/internal/services/events"
	badgerstore "github.com/pagewright/pagewright/internal/storage/badger"
	"github.com/pagewright/pagewright/internal/storage/sqlite"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	CacheDB        *badgerstore.BadgerDB
	Transcriptions interfaces.TranscriptionCache

	EventService interfaces.EventService
	Scheduler    interfaces.Scheduler
	Reaper       *scheduler.Reaper

	BrowserManager *browser.Manager

	Detector       interfaces.ChallengeDetector
	Transcriber    interfaces.AudioTranscriber
	SolverRegistry *solver.Registry
	Orchestrator   interfaces.SolveOrchestrator

	Processor *jobs.Processor

	cacheSweepStop chan struct{}
}

// New assembles the application from config. Components are wired bottom-up:
// storage, events, scheduler, browser pools, captcha stack, then the worker
// processor that consumes all of them.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config:         config,
		Logger:         logger,
		cacheSweepStop: make(chan struct{}),
	}

	storageManager, err := sqlite.NewManager(logger, &config.Storage.SQLite)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize job storage: %w", err)
	}
	a.StorageManager = storageManager

	cacheDB, err := badgerstore.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize cache storage: %w", err)
	}
	a.CacheDB = cacheDB
	a.Transcriptions = badgerstore.NewTranscriptionCacheStorage(cacheDB, logger)

	a.EventService = events.NewService(logger)

	a.Scheduler = scheduler.NewService(a.StorageManager, a.EventService, logger, &config.Queue)
	a.Reaper = scheduler.NewReaper(a.StorageManager, a.EventService, logger, &config.Queue)

	a.BrowserManager = browser.NewManager(browser.NewLauncher(&config.Browser, logger), logger, &config.Browser)

	a.Detector = detection.NewRegistry(logger, &config.Captcha)
	a.Transcriber = audio.NewPipeline(a.Transcriptions, logger, &config.Audio)

	if err := a.buildSolvers(context.Background()); err != nil {
		a.closeStorage()
		return nil, err
	}

	registry := jobs.NewRegistry()
	a.Processor = jobs.NewProcessor(
		a.Scheduler,
		a.BrowserManager,
		registry,
		a.EventService,
		a.StorageManager.JobLogs(),
		a.Detector,
		a.Orchestrator,
		logger,
		config,
	)

	return a, nil
}

// buildSolvers wires the solver registry and orchestrator. Stored API keys
// and per-solver enablement overrides from the database are layered on top
// of the file config.
func (a *App) buildSolvers(ctx context.Context) error {
	captchaConfig := a.Config.Captcha

	if keys, err := a.StorageManager.APIKeys().GetAPIKeys(ctx, "twocaptcha"); err == nil && len(keys) > 0 {
		captchaConfig.TwoCaptchaAPIKeys = mergeKeys(captchaConfig.TwoCaptchaAPIKeys, keys)
	}
	if keys, err := a.StorageManager.APIKeys().GetAPIKeys(ctx, "anticaptcha"); err == nil && len(keys) > 0 {
		captchaConfig.AntiCaptchaAPIKeys = mergeKeys(captchaConfig.AntiCaptchaAPIKeys, keys)
	}

	interactor := widget.NewInteractor(a.Logger, captchaConfig.DebugScreenshotDir)
	registry, err := solver.BuildRegistry(&captchaConfig, interactor, a.Transcriber, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to build solver registry: %w", err)
	}

	if overrides, err := a.StorageManager.SolverConfigs().ListSolverConfigs(ctx); err == nil {
		for name, enabled := range overrides {
			if err := registry.SetEnabled(name, enabled); err != nil {
				a.Logger.Warn().Str("solver", name).Msg("Solver config override ignores unknown solver")
			}
		}
	}

	a.SolverRegistry = registry
	a.Orchestrator = solver.BuildOrchestrator(registry, &captchaConfig, a.Logger)
	return nil
}

// Start brings up the background machinery: browser pools, the dead-worker
// reaper, the transcription cache sweeper and the job processor.
func (a *App) Start(ctx context.Context) error {
	if err := a.BrowserManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start browser manager: %w", err)
	}
	if err := a.Reaper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reaper: %w", err)
	}
	if err := a.Processor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processor: %w", err)
	}

	go a.cacheSweepLoop(ctx)

	a.Logger.Info().
		Str("version", common.GetVersion()).
		Str("worker_id", a.Processor.WorkerID()).
		Msg("Application started")
	return nil
}

// cacheSweepLoop periodically removes expired transcription cache entries
func (a *App) cacheSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.cacheSweepStop:
			return
		case <-ticker.C:
			removed, err := a.Transcriptions.Sweep(ctx)
			if err != nil {
				a.Logger.Warn().Err(err).Msg("Transcription cache sweep failed")
				continue
			}
			if removed > 0 {
				a.Logger.Debug().Int("removed", removed).Msg("Swept expired transcriptions")
			}
			if err := a.CacheDB.RunGC(); err != nil {
				a.Logger.Warn().Err(err).Msg("Cache value log GC failed")
			}
		}
	}
}

// Shutdown stops components in reverse dependency order
func (a *App) Shutdown(ctx context.Context) {
	close(a.cacheSweepStop)

	a.Processor.Stop(ctx)
	a.Reaper.Stop()
	a.BrowserManager.Close()

	if err := a.EventService.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Event service close failed")
	}
	a.closeStorage()

	a.Logger.Info().Msg("Application stopped")
}

func (a *App) closeStorage() {
	if a.CacheDB != nil {
		if err := a.CacheDB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Cache storage close failed")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Job storage close failed")
		}
	}
}

func mergeKeys(configured string, stored []string) string {
	merged := append(common.SplitAndTrim(configured), stored...)
	seen := make(map[string]bool, len(merged))
	var unique []string
	for _, key := range merged {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, key)
	}
	return strings.Join(unique, ",")
}
