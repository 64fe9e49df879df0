package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/models"
)

func TestRegistryHasBuiltinActions(t *testing.T) {
	registry := NewRegistry()
	expected := []string{"click", "evaluate", "extract", "fill", "navigate", "screenshot", "solve_captcha", "wait"}
	assert.Equal(t, expected, registry.Names())
}

func TestRegistryUnknownActionErrors(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Get("teleport")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleport")
}

func TestRegistryRegisterReplaces(t *testing.T) {
	registry := NewRegistry()
	called := false
	registry.Register("navigate", func(ec *ExecContext, action models.Action, index int) (map[string]interface{}, error) {
		called = true
		return nil, nil
	})

	executor, err := registry.Get("navigate")
	require.NoError(t, err)
	_, err = executor(nil, models.Action{Name: "navigate"}, 0)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestSolveCaptchaWithoutSolversIsUnavailable(t *testing.T) {
	ec := &ExecContext{
		Ctx: context.Background(),
		Job: &models.AutomationJob{TargetURL: "https://example.com"},
	}
	_, err := execSolveCaptcha(ec, models.Action{Name: "solve_captcha"}, 0)
	require.Error(t, err)
	assert.Equal(t, errctx.CategorySolverUnavailable, errctx.CategoryOf(err))
}

func TestChallengeTypeForDefaultsPerSystem(t *testing.T) {
	action := models.Action{Name: "solve_captcha"}
	assert.Equal(t, models.ChallengeRecaptchaV2Checkbox, challengeTypeFor(models.SystemRecaptcha, action))
	assert.Equal(t, models.ChallengeHCaptchaCheckbox, challengeTypeFor(models.SystemHCaptcha, action))
	assert.Equal(t, models.ChallengeTurnstile, challengeTypeFor(models.SystemTurnstile, action))
	assert.Equal(t, models.ChallengeDataDomeCaptcha, challengeTypeFor(models.SystemDataDome, action))
	assert.Equal(t, models.ChallengeAkamaiLevel2, challengeTypeFor(models.SystemAkamai, action))
	assert.Equal(t, models.ChallengeFunCaptcha, challengeTypeFor(models.SystemFunCaptcha, action))
}

func TestChallengeTypeForHonorsPinnedType(t *testing.T) {
	action := models.Action{
		Name:   "solve_captcha",
		Params: map[string]interface{}{"challenge_type": "recaptcha_v2_audio"},
	}
	assert.Equal(t, models.ChallengeRecaptchaV2Audio, challengeTypeFor(models.SystemRecaptcha, action))
}
