package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/models"
)

// keyRing rotates API keys round-robin so quota spreads across accounts
type keyRing struct {
	keys []string
	next atomic.Uint64
}

func newKeyRing(keys []string) *keyRing {
	return &keyRing{keys: keys}
}

func (r *keyRing) pick() string {
	if len(r.keys) == 0 {
		return ""
	}
	n := r.next.Add(1) - 1
	return r.keys[n%uint64(len(r.keys))]
}

// externalTaskTypes maps challenge types to the task names both vendor APIs
// understand. Both speak the same createTask/getTaskResult protocol.
var externalTaskTypes = map[models.ChallengeType]string{
	models.ChallengeRecaptchaV2Checkbox:  "RecaptchaV2TaskProxyless",
	models.ChallengeRecaptchaV2Invisible: "RecaptchaV2TaskProxyless",
	models.ChallengeRecaptchaV2Image:     "RecaptchaV2TaskProxyless",
	models.ChallengeRecaptchaV3:          "RecaptchaV3TaskProxyless",
	models.ChallengeHCaptchaCheckbox:     "HCaptchaTaskProxyless",
	models.ChallengeHCaptchaInvisible:    "HCaptchaTaskProxyless",
	models.ChallengeTurnstile:            "TurnstileTaskProxyless",
	models.ChallengeFunCaptcha:           "FunCaptchaTaskProxyless",
}

// ExternalSolver is a thin adapter over a vendor solving API. The same
// adapter serves both supported vendors since their wire protocols match.
type ExternalSolver struct {
	id       string
	baseURL  string
	keys     *keyRing
	client   *http.Client
	logger   arbor.ILogger
	pollWait time.Duration
}

// NewTwoCaptchaSolver creates the 2Captcha adapter
func NewTwoCaptchaSolver(apiKeys []string, logger arbor.ILogger) *ExternalSolver {
	return newExternalSolver("twocaptcha-external", "https://api.2captcha.com", apiKeys, logger)
}

// NewAntiCaptchaSolver creates the Anti-Captcha adapter
func NewAntiCaptchaSolver(apiKeys []string, logger arbor.ILogger) *ExternalSolver {
	return newExternalSolver("anticaptcha-external", "https://api.anti-captcha.com", apiKeys, logger)
}

func newExternalSolver(id, baseURL string, apiKeys []string, logger arbor.ILogger) *ExternalSolver {
	return &ExternalSolver{
		id:       id,
		baseURL:  baseURL,
		keys:     newKeyRing(apiKeys),
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger,
		pollWait: 3 * time.Second,
	}
}

func (s *ExternalSolver) ID() string { return s.id }

func (s *ExternalSolver) Supports(challengeType models.ChallengeType) bool {
	_, ok := externalTaskTypes[challengeType]
	return ok
}

var _ interfaces.ChallengeSolver = (*ExternalSolver)(nil)

func (s *ExternalSolver) Solve(ctx context.Context, sessionCtx context.Context, challenge *models.Challenge) (*models.SolveResult, error) {
	apiKey := s.keys.pick()
	if apiKey == "" {
		return nil, errctx.New(ctx, errctx.CategorySolverUnavailable, "no_keys",
			fmt.Sprintf("%s has no API keys configured", s.id))
	}
	if challenge.SiteKey == "" {
		return nil, errctx.New(ctx, errctx.CategoryInvalidInput, "no_site_key",
			"external solving requires the widget site key")
	}

	taskID, err := s.createTask(ctx, apiKey, challenge)
	if err != nil {
		return nil, err
	}

	token, err := s.awaitResult(ctx, apiKey, taskID)
	if err != nil {
		return nil, err
	}
	return &models.SolveResult{Token: token, SolvedAt: time.Now()}, nil
}

func (s *ExternalSolver) createTask(ctx context.Context, apiKey string, challenge *models.Challenge) (int64, error) {
	task := map[string]interface{}{
		"type":       externalTaskTypes[challenge.Type],
		"websiteURL": challenge.PageURL,
		"websiteKey": challenge.SiteKey,
	}
	if challenge.Type == models.ChallengeRecaptchaV2Invisible {
		task["isInvisible"] = true
	}
	if challenge.Type == models.ChallengeRecaptchaV3 {
		task["minScore"] = 0.7
		if action := challenge.Metadata["action"]; action != "" {
			task["pageAction"] = action
		}
	}

	var response struct {
		ErrorID          int    `json:"errorId"`
		ErrorDescription string `json:"errorDescription"`
		TaskID           int64  `json:"taskId"`
	}
	err := s.post(ctx, "/createTask", map[string]interface{}{
		"clientKey": apiKey,
		"task":      task,
	}, &response)
	if err != nil {
		return 0, err
	}
	if response.ErrorID != 0 {
		return 0, errctx.New(ctx, errctx.CategorySolverUnavailable, "create_task",
			fmt.Sprintf("%s rejected task: %s", s.id, response.ErrorDescription))
	}
	return response.TaskID, nil
}

func (s *ExternalSolver) awaitResult(ctx context.Context, apiKey string, taskID int64) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", errctx.Wrap(ctx, errctx.CategoryTimeout, "external solve timed out", ctx.Err())
		case <-time.After(s.pollWait):
		}

		var response struct {
			ErrorID          int    `json:"errorId"`
			ErrorDescription string `json:"errorDescription"`
			Status           string `json:"status"`
			Solution         struct {
				GRecaptchaResponse string `json:"gRecaptchaResponse"`
				Token              string `json:"token"`
			} `json:"solution"`
		}
		err := s.post(ctx, "/getTaskResult", map[string]interface{}{
			"clientKey": apiKey,
			"taskId":    taskID,
		}, &response)
		if err != nil {
			return "", err
		}
		if response.ErrorID != 0 {
			return "", errctx.New(ctx, errctx.CategorySolverUnavailable, "task_failed",
				fmt.Sprintf("%s task failed: %s", s.id, response.ErrorDescription))
		}
		if response.Status != "ready" {
			continue
		}

		token := response.Solution.GRecaptchaResponse
		if token == "" {
			token = response.Solution.Token
		}
		if token == "" {
			return "", errctx.New(ctx, errctx.CategorySolverUnavailable, "empty_solution",
				fmt.Sprintf("%s returned an empty solution", s.id))
		}
		return token, nil
	}
}

func (s *ExternalSolver) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errctx.Wrap(ctx, errctx.CategoryNetwork, fmt.Sprintf("%s request failed", s.id), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return errctx.New(ctx, errctx.CategoryRateLimited, "throttled",
			fmt.Sprintf("%s throttled the request", s.id))
	}
	if resp.StatusCode != http.StatusOK {
		return errctx.New(ctx, errctx.CategoryNetwork, "bad_status",
			fmt.Sprintf("%s returned %d", s.id, resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", s.id, err)
	}
	return nil
}
