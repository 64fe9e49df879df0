package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/captcha/widget"
	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/models"
)

func TestBuildRegistryNativesOnly(t *testing.T) {
	logger := arbor.NewLogger()
	registry, err := BuildRegistry(&common.CaptchaConfig{}, widget.NewInteractor(logger, ""), nil, logger)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"akamai-native",
		"datadome-native",
		"hcaptcha-native",
		"recaptcha-native",
		"turnstile-native",
	}, registry.IDs())
}

func TestBuildRegistryWithExternalKeys(t *testing.T) {
	logger := arbor.NewLogger()
	config := &common.CaptchaConfig{
		TwoCaptchaAPIKeys:  "k1, k2",
		AntiCaptchaAPIKeys: "k3",
	}
	registry, err := BuildRegistry(config, widget.NewInteractor(logger, ""), nil, logger)
	require.NoError(t, err)

	assert.Contains(t, registry.IDs(), "twocaptcha-external")
	assert.Contains(t, registry.IDs(), "anticaptcha-external")

	// Natives outrank externals for shared challenge types
	candidates := registry.CandidatesFor(models.ChallengeRecaptchaV2Checkbox)
	require.NotEmpty(t, candidates)
	assert.Equal(t, "recaptcha-native", candidates[0].Solver.ID())
}
