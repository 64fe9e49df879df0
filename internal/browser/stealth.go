package browser

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/pagewright/pagewright/internal/common"
)

// Fingerprint overrides injected before any page script runs. Each block is
// individually toggleable from config; all default on.

const webdriverJS = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
if (!window.chrome) { window.chrome = {}; }
window.chrome.runtime = {};
const originalQuery = window.navigator.permissions.query.bind(window.navigator.permissions);
window.navigator.permissions.query = (parameters) => (
	parameters.name === 'notifications' ?
		Promise.resolve({ state: Notification.permission }) :
		originalQuery(parameters)
);
`

// Per-session random noise keeps canvas hashes stable within a page but
// different across sessions.
const canvasJS = `
(() => {
	const noise = __CANVAS_SEED__;
	const shift = (data) => {
		for (let i = 0; i < data.length; i += 97) {
			data[i] = data[i] ^ (noise & 0x01);
		}
		return data;
	};
	const origGetImageData = CanvasRenderingContext2D.prototype.getImageData;
	CanvasRenderingContext2D.prototype.getImageData = function (...args) {
		const imageData = origGetImageData.apply(this, args);
		shift(imageData.data);
		return imageData;
	};
	const origToDataURL = HTMLCanvasElement.prototype.toDataURL;
	HTMLCanvasElement.prototype.toDataURL = function (...args) {
		const ctx = this.getContext('2d');
		if (ctx && this.width > 0 && this.height > 0) {
			const imageData = origGetImageData.call(ctx, 0, 0, this.width, this.height);
			shift(imageData.data);
			ctx.putImageData(imageData, 0, 0);
		}
		return origToDataURL.apply(this, args);
	};
})();
`

const webglJS = `
(() => {
	const origGetParameter = WebGLRenderingContext.prototype.getParameter;
	const patched = function (parameter) {
		if (parameter === 37445) { return 'Google Inc. (Intel)'; }
		if (parameter === 37446) { return 'ANGLE (Intel, Intel(R) UHD Graphics 630, OpenGL 4.1)'; }
		return origGetParameter.call(this, parameter);
	};
	WebGLRenderingContext.prototype.getParameter = patched;
	if (window.WebGL2RenderingContext) {
		WebGL2RenderingContext.prototype.getParameter = patched;
	}
})();
`

const audioJS = `
(() => {
	const origGetChannelData = AudioBuffer.prototype.getChannelData;
	AudioBuffer.prototype.getChannelData = function (...args) {
		const data = origGetChannelData.apply(this, args);
		for (let i = 0; i < data.length; i += 499) {
			data[i] = data[i] + (__AUDIO_SEED__ % 10) * 1e-7;
		}
		return data;
	};
})();
`

const batteryJS = `
navigator.getBattery = () => Promise.resolve({
	charging: true,
	chargingTime: 0,
	dischargingTime: Infinity,
	level: 1,
	addEventListener: () => {},
	removeEventListener: () => {},
	dispatchEvent: () => true,
});
`

const pluginsJS = `
Object.defineProperty(navigator, 'plugins', {
	get: () => {
		const plugins = [
			{ name: 'PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
			{ name: 'Chrome PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
			{ name: 'Chromium PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
		];
		plugins.item = (i) => plugins[i] || null;
		plugins.namedItem = (name) => plugins.find((p) => p.name === name) || null;
		plugins.refresh = () => {};
		return plugins;
	},
	configurable: true,
});
`

// StealthProfile carries the session-specific values baked into the script
type StealthProfile struct {
	CanvasSeed          int
	AudioSeed           int
	HardwareConcurrency int
	Languages           []string
	TimezoneID          string
}

// NewStealthProfile rolls the per-session randomized values
func NewStealthProfile(config *common.StealthConfig) StealthProfile {
	min := config.HardwareMin
	max := config.HardwareMax
	if min < 2 {
		min = 4
	}
	if min%2 != 0 {
		min++
	}
	if max < min {
		max = min + 4
	}
	// Even values only; odd core counts read as synthetic
	cores := min + rand.Intn((max-min)/2+1)*2
	if cores > max {
		cores = max
	}

	locale := config.Locale
	if locale == "" {
		locale = "en-US"
	}
	languages := []string{locale}
	if base, _, found := strings.Cut(locale, "-"); found {
		languages = append(languages, base)
	}

	tz := config.TimezoneID
	if tz == "" {
		tz = "America/New_York"
	}

	return StealthProfile{
		CanvasSeed:          rand.Intn(256),
		AudioSeed:           rand.Intn(1000),
		HardwareConcurrency: cores,
		Languages:           languages,
		TimezoneID:          tz,
	}
}

// BuildStealthScript assembles the init script from the enabled overrides
func BuildStealthScript(config *common.StealthConfig, profile StealthProfile) string {
	var b strings.Builder

	if common.BoolOrDefault(config.WebDriver, true) {
		b.WriteString(webdriverJS)
	}
	if common.BoolOrDefault(config.Canvas, true) {
		b.WriteString(strings.ReplaceAll(canvasJS, "__CANVAS_SEED__", fmt.Sprintf("%d", profile.CanvasSeed)))
	}
	if common.BoolOrDefault(config.WebGL, true) {
		b.WriteString(webglJS)
	}
	if common.BoolOrDefault(config.AudioContext, true) {
		b.WriteString(strings.ReplaceAll(audioJS, "__AUDIO_SEED__", fmt.Sprintf("%d", profile.AudioSeed)))
	}
	if common.BoolOrDefault(config.Battery, true) {
		b.WriteString(batteryJS)
	}
	if common.BoolOrDefault(config.HardwareConcurrency, true) {
		fmt.Fprintf(&b, "Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => %d, configurable: true });\n", profile.HardwareConcurrency)
	}
	if common.BoolOrDefault(config.Plugins, true) {
		b.WriteString(pluginsJS)
	}
	if common.BoolOrDefault(config.Languages, true) {
		quoted := make([]string, len(profile.Languages))
		for i, lang := range profile.Languages {
			quoted[i] = fmt.Sprintf("'%s'", lang)
		}
		fmt.Fprintf(&b, "Object.defineProperty(navigator, 'languages', { get: () => [%s], configurable: true });\n", strings.Join(quoted, ", "))
	}

	return b.String()
}

// ConsistentPlatform returns the navigator.platform value matching a user
// agent string, so the two surfaces never disagree.
func ConsistentPlatform(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "Windows"):
		return "Win32"
	case strings.Contains(userAgent, "Macintosh"), strings.Contains(userAgent, "Mac OS"):
		return "MacIntel"
	case strings.Contains(userAgent, "Android"):
		return "Linux armv81"
	default:
		return "Linux x86_64"
	}
}
