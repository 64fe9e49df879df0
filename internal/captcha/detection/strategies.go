package detection

import (
	"github.com/pagewright/pagewright/internal/models"
)

// Strategy scores one anti-bot system against a page snapshot. Confidence is
// the sum of matched signal weights, capped at 1.0.
type Strategy interface {
	System() models.AntiBotSystem
	Score(snap *PageSnapshot) (float64, []string)
}

// signal is one weighted indicator
type signal struct {
	name   string
	weight float64
	match  func(snap *PageSnapshot) bool
}

func score(signals []signal, snap *PageSnapshot) (float64, []string) {
	total := 0.0
	var matched []string
	for _, sig := range signals {
		if sig.match(snap) {
			total += sig.weight
			matched = append(matched, sig.name)
		}
	}
	if total > 1.0 {
		total = 1.0
	}
	return total, matched
}

// DefaultStrategies returns the built-in strategy set
func DefaultStrategies() []Strategy {
	return []Strategy{
		&recaptchaStrategy{},
		&hcaptchaStrategy{},
		&turnstileStrategy{},
		&datadomeStrategy{},
		&akamaiStrategy{},
		&funcaptchaStrategy{},
	}
}

type recaptchaStrategy struct{}

func (s *recaptchaStrategy) System() models.AntiBotSystem { return models.SystemRecaptcha }

func (s *recaptchaStrategy) Score(snap *PageSnapshot) (float64, []string) {
	return score([]signal{
		{"recaptcha_iframe", 0.9, func(p *PageSnapshot) bool {
			return p.HasFrameContaining("google.com/recaptcha") || p.HasFrameContaining("recaptcha.net/recaptcha")
		}},
		{"g_recaptcha_container", 0.7, func(p *PageSnapshot) bool { return p.HTMLContains("g-recaptcha") }},
		{"grecaptcha_global", 0.5, func(p *PageSnapshot) bool { return p.HasGlobal("grecaptcha") }},
		{"recaptcha_api_script", 0.4, func(p *PageSnapshot) bool {
			return p.HTMLContains("www.google.com/recaptcha/api.js") || p.HTMLContains("www.recaptcha.net/recaptcha/api.js")
		}},
	}, snap)
}

type hcaptchaStrategy struct{}

func (s *hcaptchaStrategy) System() models.AntiBotSystem { return models.SystemHCaptcha }

func (s *hcaptchaStrategy) Score(snap *PageSnapshot) (float64, []string) {
	return score([]signal{
		{"hcaptcha_iframe", 0.9, func(p *PageSnapshot) bool { return p.HasFrameContaining("hcaptcha.com") }},
		{"h_captcha_container", 0.7, func(p *PageSnapshot) bool { return p.HTMLContains("h-captcha") }},
		{"hcaptcha_global", 0.5, func(p *PageSnapshot) bool { return p.HasGlobal("hcaptcha") }},
		{"hcaptcha_api_script", 0.4, func(p *PageSnapshot) bool { return p.HTMLContains("js.hcaptcha.com/1/api.js") }},
	}, snap)
}

type turnstileStrategy struct{}

func (s *turnstileStrategy) System() models.AntiBotSystem { return models.SystemTurnstile }

func (s *turnstileStrategy) Score(snap *PageSnapshot) (float64, []string) {
	return score([]signal{
		{"turnstile_iframe", 0.9, func(p *PageSnapshot) bool {
			return p.HasFrameContaining("challenges.cloudflare.com")
		}},
		{"cf_turnstile_container", 0.7, func(p *PageSnapshot) bool { return p.HTMLContains("cf-turnstile") }},
		{"turnstile_global", 0.5, func(p *PageSnapshot) bool { return p.HasGlobal("turnstile") }},
		{"turnstile_api_script", 0.4, func(p *PageSnapshot) bool {
			return p.HTMLContains("challenges.cloudflare.com/turnstile/v0/api.js")
		}},
	}, snap)
}

type datadomeStrategy struct{}

func (s *datadomeStrategy) System() models.AntiBotSystem { return models.SystemDataDome }

func (s *datadomeStrategy) Score(snap *PageSnapshot) (float64, []string) {
	return score([]signal{
		{"datadome_cookie", 0.8, func(p *PageSnapshot) bool { return p.HasCookie("datadome") }},
		{"captcha_delivery_iframe", 0.9, func(p *PageSnapshot) bool {
			return p.HasFrameContaining("geo.captcha-delivery.com")
		}},
		{"datadome_script", 0.5, func(p *PageSnapshot) bool {
			return p.HTMLContains("js.datadome.co") || p.HTMLContains("ct.datadome.co")
		}},
		{"dd_global", 0.3, func(p *PageSnapshot) bool { return p.HasGlobal("dd") }},
	}, snap)
}

type akamaiStrategy struct{}

func (s *akamaiStrategy) System() models.AntiBotSystem { return models.SystemAkamai }

func (s *akamaiStrategy) Score(snap *PageSnapshot) (float64, []string) {
	return score([]signal{
		{"abck_cookie", 0.8, func(p *PageSnapshot) bool { return p.HasCookie("_abck") }},
		{"bm_sz_cookie", 0.6, func(p *PageSnapshot) bool { return p.HasCookie("bm_sz") }},
		{"bmak_global", 0.7, func(p *PageSnapshot) bool { return p.HasGlobal("bmak") }},
		{"akam_script", 0.4, func(p *PageSnapshot) bool { return p.HTMLContains("/akam/") }},
	}, snap)
}

type funcaptchaStrategy struct{}

func (s *funcaptchaStrategy) System() models.AntiBotSystem { return models.SystemFunCaptcha }

func (s *funcaptchaStrategy) Score(snap *PageSnapshot) (float64, []string) {
	return score([]signal{
		{"arkose_iframe", 0.9, func(p *PageSnapshot) bool {
			return p.HasFrameContaining("arkoselabs.com") || p.HasFrameContaining("funcaptcha.com")
		}},
		{"arkose_global", 0.6, func(p *PageSnapshot) bool { return p.HasGlobal("arkose") }},
		{"arkose_script", 0.4, func(p *PageSnapshot) bool { return p.HTMLContains("client-api.arkoselabs.com") }},
	}, snap)
}
