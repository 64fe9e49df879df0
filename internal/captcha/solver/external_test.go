package solver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/models"
)

func newStubVendor(t *testing.T, handler http.HandlerFunc) *ExternalSolver {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	solver := NewTwoCaptchaSolver([]string{"key-a", "key-b"}, arbor.NewLogger())
	solver.baseURL = server.URL
	solver.pollWait = 5 * time.Millisecond
	return solver
}

func recaptchaChallenge() *models.Challenge {
	return &models.Challenge{
		Type:    models.ChallengeRecaptchaV2Checkbox,
		PageURL: "https://example.com/login",
		SiteKey: "6LdSite-key",
	}
}

func TestExternalSolveHappyPath(t *testing.T) {
	var polls atomic.Int64
	solver := newStubVendor(t, func(w http.ResponseWriter, r *http.Request) {
		var request map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, "key-a", request["clientKey"])

		switch r.URL.Path {
		case "/createTask":
			task := request["task"].(map[string]interface{})
			assert.Equal(t, "RecaptchaV2TaskProxyless", task["type"])
			assert.Equal(t, "https://example.com/login", task["websiteURL"])
			assert.Equal(t, "6LdSite-key", task["websiteKey"])
			json.NewEncoder(w).Encode(map[string]interface{}{"errorId": 0, "taskId": 42})
		case "/getTaskResult":
			assert.Equal(t, float64(42), request["taskId"])
			if polls.Add(1) < 2 {
				json.NewEncoder(w).Encode(map[string]interface{}{"errorId": 0, "status": "processing"})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"errorId": 0, "status": "ready",
				"solution": map[string]string{"gRecaptchaResponse": "03AGdBq-token"},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	result, err := solver.Solve(context.Background(), nil, recaptchaChallenge())
	require.NoError(t, err)
	assert.Equal(t, "03AGdBq-token", result.Token)
	assert.GreaterOrEqual(t, polls.Load(), int64(2), "should poll until ready")
}

func TestExternalSolveVendorRejection(t *testing.T) {
	solver := newStubVendor(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errorId": 1, "errorDescription": "ERROR_KEY_DOES_NOT_EXIST",
		})
	})

	_, err := solver.Solve(context.Background(), nil, recaptchaChallenge())
	require.Error(t, err)
	assert.Equal(t, errctx.CategorySolverUnavailable, errctx.CategoryOf(err))
	assert.Contains(t, err.Error(), "ERROR_KEY_DOES_NOT_EXIST")
}

func TestExternalSolveThrottled(t *testing.T) {
	solver := newStubVendor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := solver.Solve(context.Background(), nil, recaptchaChallenge())
	require.Error(t, err)
	assert.Equal(t, errctx.CategoryRateLimited, errctx.CategoryOf(err))
}

func TestExternalSolveRequiresSiteKey(t *testing.T) {
	solver := NewTwoCaptchaSolver([]string{"key"}, arbor.NewLogger())
	challenge := recaptchaChallenge()
	challenge.SiteKey = ""

	_, err := solver.Solve(context.Background(), nil, challenge)
	require.Error(t, err)
	assert.Equal(t, errctx.CategoryInvalidInput, errctx.CategoryOf(err))
}

func TestExternalSolveNoKeys(t *testing.T) {
	solver := NewAntiCaptchaSolver(nil, arbor.NewLogger())
	_, err := solver.Solve(context.Background(), nil, recaptchaChallenge())
	require.Error(t, err)
	assert.Equal(t, errctx.CategorySolverUnavailable, errctx.CategoryOf(err))
}

func TestExternalKeysRotateAcrossSolves(t *testing.T) {
	var seen []string
	solver := newStubVendor(t, func(w http.ResponseWriter, r *http.Request) {
		var request map[string]interface{}
		json.NewDecoder(r.Body).Decode(&request)
		if r.URL.Path == "/createTask" {
			seen = append(seen, request["clientKey"].(string))
		}
		// Fail fast so each solve makes exactly one createTask call
		json.NewEncoder(w).Encode(map[string]interface{}{"errorId": 1, "errorDescription": "nope"})
	})

	for i := 0; i < 4; i++ {
		solver.Solve(context.Background(), nil, recaptchaChallenge())
	}
	assert.Equal(t, []string{"key-a", "key-b", "key-a", "key-b"}, seen)
}

func TestExternalSupports(t *testing.T) {
	solver := NewTwoCaptchaSolver([]string{"key"}, arbor.NewLogger())
	assert.True(t, solver.Supports(models.ChallengeRecaptchaV2Checkbox))
	assert.True(t, solver.Supports(models.ChallengeTurnstile))
	assert.True(t, solver.Supports(models.ChallengeFunCaptcha))
	assert.False(t, solver.Supports(models.ChallengeAkamaiLevel2))
	assert.False(t, solver.Supports(models.ChallengeDataDomeSlider))
}
