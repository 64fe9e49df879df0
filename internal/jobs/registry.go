package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/browser"
	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/models"
)

// ExecContext carries everything an action needs for one job run. Ctx is the
// correlation-scoped context; Session.Ctx drives the shared page.
type ExecContext struct {
	Ctx          context.Context
	Session      *browser.Session
	Job          *models.AutomationJob
	Logger       arbor.ILogger
	Detector     interfaces.ChallengeDetector
	Orchestrator interfaces.SolveOrchestrator
	Config       *common.Config

	// Artifacts collected across the run (screenshots, dumps)
	Artifacts []models.Artifact

	// FirstNavigationDone gates the job-level timeout, which caps only the
	// initial navigation
	FirstNavigationDone bool
}

// ActionExecutor runs one action against the shared page and returns its
// structured output data.
type ActionExecutor func(ec *ExecContext, action models.Action, index int) (map[string]interface{}, error)

// Registry maps action names to executors. A job referencing an unknown
// action fails validation at execution time with invalid_input.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]ActionExecutor
}

// NewRegistry creates a registry preloaded with the built-in actions
func NewRegistry() *Registry {
	r := &Registry{executors: make(map[string]ActionExecutor)}
	r.Register("navigate", execNavigate)
	r.Register("click", execClick)
	r.Register("fill", execFill)
	r.Register("screenshot", execScreenshot)
	r.Register("evaluate", execEvaluate)
	r.Register("wait", execWait)
	r.Register("extract", execExtract)
	r.Register("solve_captcha", execSolveCaptcha)
	return r
}

// Register adds or replaces an executor
func (r *Registry) Register(name string, executor ActionExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = executor
}

// Get returns the executor for an action name
func (r *Registry) Get(name string) (ActionExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	executor, ok := r.executors[name]
	if !ok {
		return nil, fmt.Errorf("unknown action: %q", name)
	}
	return executor, nil
}

// Names lists the registered action names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
