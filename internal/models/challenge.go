package models

import (
	"time"
)

// AntiBotSystem identifies a vendor anti-bot product observed on a page
type AntiBotSystem string

const (
	SystemRecaptcha  AntiBotSystem = "recaptcha"
	SystemHCaptcha   AntiBotSystem = "hcaptcha"
	SystemTurnstile  AntiBotSystem = "turnstile"
	SystemDataDome   AntiBotSystem = "datadome"
	SystemAkamai     AntiBotSystem = "akamai"
	SystemFunCaptcha AntiBotSystem = "funcaptcha"
)

// ChallengeType is the specific task a captcha presents. The per-type solve
// timeouts in the solver orchestrator key off these values.
type ChallengeType string

const (
	ChallengeRecaptchaV2Checkbox  ChallengeType = "recaptcha_v2_checkbox"
	ChallengeRecaptchaV2Invisible ChallengeType = "recaptcha_v2_invisible"
	ChallengeRecaptchaV2Audio     ChallengeType = "recaptcha_v2_audio"
	ChallengeRecaptchaV2Image     ChallengeType = "recaptcha_v2_image"
	ChallengeRecaptchaV3          ChallengeType = "recaptcha_v3"
	ChallengeHCaptchaCheckbox     ChallengeType = "hcaptcha_checkbox"
	ChallengeHCaptchaInvisible    ChallengeType = "hcaptcha_invisible"
	ChallengeHCaptchaAudio        ChallengeType = "hcaptcha_audio"
	ChallengeTurnstile            ChallengeType = "turnstile"
	ChallengeDataDomeSensor       ChallengeType = "datadome_sensor"
	ChallengeDataDomeCaptcha      ChallengeType = "datadome_captcha"
	ChallengeDataDomeSlider       ChallengeType = "datadome_slider"
	ChallengeAkamaiLevel1         ChallengeType = "akamai_level1"
	ChallengeAkamaiLevel2         ChallengeType = "akamai_level2"
	ChallengeAkamaiLevel3         ChallengeType = "akamai_level3"
	ChallengeFunCaptcha           ChallengeType = "funcaptcha"
)

// System maps a challenge back to its anti-bot system
func (c ChallengeType) System() AntiBotSystem {
	switch c {
	case ChallengeRecaptchaV2Checkbox, ChallengeRecaptchaV2Invisible,
		ChallengeRecaptchaV2Audio, ChallengeRecaptchaV2Image, ChallengeRecaptchaV3:
		return SystemRecaptcha
	case ChallengeHCaptchaCheckbox, ChallengeHCaptchaInvisible, ChallengeHCaptchaAudio:
		return SystemHCaptcha
	case ChallengeTurnstile:
		return SystemTurnstile
	case ChallengeDataDomeSensor, ChallengeDataDomeCaptcha, ChallengeDataDomeSlider:
		return SystemDataDome
	case ChallengeAkamaiLevel1, ChallengeAkamaiLevel2, ChallengeAkamaiLevel3:
		return SystemAkamai
	case ChallengeFunCaptcha:
		return SystemFunCaptcha
	}
	return ""
}

// DetectionResult is one strategy's verdict for a page
type DetectionResult struct {
	System     AntiBotSystem `json:"system"`
	Confidence float64       `json:"confidence"` // Weighted signal sum capped at 1.0
	Signals    []string      `json:"signals"`
	DetectedAt time.Time     `json:"detected_at"`
}

// Actionable reports whether the confidence clears the strong threshold
func (d DetectionResult) Actionable(minStrong float64) bool {
	return d.Confidence >= minStrong
}

// Challenge is a detected task handed to the solver orchestrator
type Challenge struct {
	Type          ChallengeType `json:"type"`
	PageURL       string        `json:"page_url"`
	SiteKey       string        `json:"site_key,omitempty"`
	FrameURL      string        `json:"frame_url,omitempty"`
	Metadata      map[string]string
	CorrelationID string `json:"correlation_id,omitempty"`
}

// SolveResult is the token or cookie produced by a solver
type SolveResult struct {
	Token    string        `json:"token"`
	Cookie   string        `json:"cookie,omitempty"`
	SolverID string        `json:"solver_id"`
	SolvedAt time.Time     `json:"solved_at"`
	Duration time.Duration `json:"duration"`
}

// Transcription is the outcome of one audio transcription request
type Transcription struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider"`
	FromCache  bool    `json:"from_cache"`
}

// TranscriptionCacheEntry is the badger-persisted audio transcription,
// keyed by sha256 of the audio bytes.
type TranscriptionCacheEntry struct {
	Key        string    `badgerhold:"key"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Provider   string    `json:"provider"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL
func (e *TranscriptionCacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
