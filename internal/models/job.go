package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of an automation job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// BrowserFamily identifies the browser engine a job runs on
type BrowserFamily string

const (
	BrowserChromium BrowserFamily = "chromium"
	BrowserFirefox  BrowserFamily = "firefox"
	BrowserWebkit   BrowserFamily = "webkit"
)

// ParseBrowserFamily validates a family string
func ParseBrowserFamily(s string) (BrowserFamily, error) {
	switch BrowserFamily(s) {
	case BrowserChromium, BrowserFirefox, BrowserWebkit:
		return BrowserFamily(s), nil
	case "":
		return BrowserChromium, nil
	}
	return "", fmt.Errorf("unknown browser family: %q", s)
}

// WaitUntil controls when a navigation is considered complete
type WaitUntil string

const (
	WaitLoad             WaitUntil = "load"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitNetworkIdle      WaitUntil = "networkidle"
)

// Action is one step of a job pipeline. Name is drawn from the closed set
// registered in the action registry (navigate, click, fill, screenshot,
// evaluate, wait, extract, solve_captcha, ...); Params carry the
// action-specific parameters.
type Action struct {
	Name   string                 `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// String returns a compact description for logs
func (a Action) String() string {
	return a.Name
}

// ParamString reads a string parameter with a fallback
func (a Action) ParamString(key, fallback string) string {
	if v, ok := a.Params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// ParamInt reads an integer parameter with a fallback. JSON numbers decode
// as float64, so both forms are accepted.
func (a Action) ParamInt(key string, fallback int) int {
	switch v := a.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// ParamBool reads a boolean parameter with a fallback
func (a Action) ParamBool(key string, fallback bool) bool {
	if v, ok := a.Params[key].(bool); ok {
		return v
	}
	return fallback
}

// Cookie is a seeded browser cookie
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"http_only,omitempty"`
	Expires  int64  `json:"expires,omitempty"` // Unix seconds, 0 = session cookie
}

// BrowserStorage is the per-job seeded browser state
type BrowserStorage struct {
	Cookies        []Cookie          `json:"cookies,omitempty"`
	LocalStorage   map[string]string `json:"local_storage,omitempty"`
	SessionStorage map[string]string `json:"session_storage,omitempty"`
}

// IsEmpty reports whether there is nothing to apply
func (s *BrowserStorage) IsEmpty() bool {
	return s == nil || (len(s.Cookies) == 0 && len(s.LocalStorage) == 0 && len(s.SessionStorage) == 0)
}

// ActionResult is the per-action output appended to the job result
type ActionResult struct {
	Action     string                 `json:"action"`
	Index      int                    `json:"index"`
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	DurationMS int64                  `json:"duration_ms"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Artifact is an opaque blob captured during execution (screenshots, dumps)
type Artifact struct {
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Data        []byte `json:"data,omitempty"`
	Label       string `json:"label,omitempty"`
}

// AutomationJob is the unit of work owned by the scheduler. Status
// transitions go through the scheduler only.
//
// Invariants:
//   - a job is processing for at most one worker at a time
//   - RetryCount <= MaxRetries
//   - CompletedAt is set iff Status is terminal
type AutomationJob struct {
	ID            string          `json:"id"`
	TargetURL     string          `json:"target_url"`
	Actions       []Action        `json:"actions"`
	BrowserFamily BrowserFamily   `json:"browser_family"`
	Status        JobStatus       `json:"status"`
	Priority      int             `json:"priority"` // Higher first
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	TimeoutMS     int             `json:"timeout_ms"` // Caps the first navigation
	WaitUntil     WaitUntil       `json:"wait_until"`
	Storage       *BrowserStorage `json:"browser_storage,omitempty"`
	Results       []ActionResult  `json:"results,omitempty"`
	Artifacts     []Artifact      `json:"artifacts,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	ErrorCategory string          `json:"error_category,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CurrentWorker string          `json:"current_worker,omitempty"`
	AvailableAt   time.Time       `json:"available_at"` // Retry backoff gate
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// JobSpec is the submission record consumed by the scheduler
type JobSpec struct {
	TargetURL     string          `json:"target_url" validate:"required,url"`
	Actions       []Action        `json:"actions" validate:"required,min=1,dive"`
	BrowserFamily string          `json:"browser_family" validate:"omitempty,oneof=chromium firefox webkit"`
	Priority      int             `json:"priority"`
	MaxRetries    *int            `json:"max_retries" validate:"omitempty,gte=0"`
	TimeoutMS     *int            `json:"timeout_ms" validate:"omitempty,gt=0"`
	WaitUntil     string          `json:"wait_until" validate:"omitempty,oneof=load domcontentloaded networkidle"`
	Storage       *BrowserStorage `json:"browser_storage"`
	CorrelationID string          `json:"correlation_id"`
}

// NewJob builds a pending AutomationJob from a validated spec, applying the
// scheduler defaults for omitted fields.
func NewJob(spec *JobSpec, defaultMaxRetries, defaultTimeoutMS int) (*AutomationJob, error) {
	family, err := ParseBrowserFamily(spec.BrowserFamily)
	if err != nil {
		return nil, err
	}

	maxRetries := defaultMaxRetries
	if spec.MaxRetries != nil {
		maxRetries = *spec.MaxRetries
	}
	timeoutMS := defaultTimeoutMS
	if spec.TimeoutMS != nil {
		timeoutMS = *spec.TimeoutMS
	}
	waitUntil := WaitLoad
	if spec.WaitUntil != "" {
		waitUntil = WaitUntil(spec.WaitUntil)
	}
	correlationID := spec.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	now := time.Now().UTC()
	return &AutomationJob{
		ID:            uuid.New().String(),
		TargetURL:     spec.TargetURL,
		Actions:       spec.Actions,
		BrowserFamily: family,
		Status:        JobStatusPending,
		Priority:      spec.Priority,
		MaxRetries:    maxRetries,
		TimeoutMS:     timeoutMS,
		WaitUntil:     waitUntil,
		Storage:       spec.Storage,
		CorrelationID: correlationID,
		AvailableAt:   now,
		CreatedAt:     now,
	}, nil
}

// MarshalActions serializes the action list for persistence
func (j *AutomationJob) MarshalActions() (string, error) {
	data, err := json.Marshal(j.Actions)
	if err != nil {
		return "", fmt.Errorf("failed to marshal actions: %w", err)
	}
	return string(data), nil
}

// Validate checks structural invariants
func (j *AutomationJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.TargetURL == "" {
		return fmt.Errorf("target URL is required")
	}
	if len(j.Actions) == 0 {
		return fmt.Errorf("at least one action is required")
	}
	if j.RetryCount > j.MaxRetries {
		return fmt.Errorf("retry count %d exceeds max retries %d", j.RetryCount, j.MaxRetries)
	}
	if j.CompletedAt != nil && !j.Status.IsTerminal() {
		return fmt.Errorf("completed_at set on non-terminal status %s", j.Status)
	}
	return nil
}
