package bypass

import (
	"bytes"
	"net/http"
	"strings"
)

// Response is the slice of an HTTP exchange the detectors inspect.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Detector reports whether a response is a bot-protection challenge or block
// page rather than the requested article.
type Detector func(r Response) (detected bool, source string)

// DefaultDetectors returns the standard list of bot protection detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
		detectCaptcha,
	}
}

// Analyze runs r through detectors and returns the first match.
func Analyze(r Response, detectors []Detector) (bool, string) {
	for _, d := range detectors {
		if detected, source := d(r); detected {
			return true, source
		}
	}
	return false, ""
}

func header(h http.Header, key string) string {
	if v := h.Get(key); v != "" {
		return v
	}
	// Maps built by hand may not be canonicalized.
	for k, vals := range h {
		if strings.EqualFold(k, key) && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

func blockedStatus(code int) bool {
	return code == http.StatusForbidden || code == http.StatusServiceUnavailable || code == http.StatusTooManyRequests
}

func detectCloudflare(r Response) (bool, string) {
	if r.StatusCode != http.StatusForbidden && r.StatusCode != http.StatusServiceUnavailable {
		return false, ""
	}
	if strings.Contains(strings.ToLower(header(r.Headers, "Server")), "cloudflare") {
		return true, "Cloudflare"
	}
	for _, sig := range []string{"cf-browser-verification", "cloudflare-nginx", "cf-turnstile", "Attention Required! | Cloudflare"} {
		if bytes.Contains(r.Body, []byte(sig)) {
			return true, "Cloudflare"
		}
	}
	return false, ""
}

func detectAkamai(r Response) (bool, string) {
	if r.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(strings.ToLower(header(r.Headers, "Server")), "akamai") {
		return true, "Akamai"
	}
	if bytes.Contains(r.Body, []byte("Reference #")) && bytes.Contains(r.Body, []byte("Access Denied")) {
		return true, "Akamai"
	}
	return false, ""
}

func detectDataDome(r Response) (bool, string) {
	if r.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(strings.ToLower(header(r.Headers, "Server")), "datadome") ||
		header(r.Headers, "X-DataDome") != "" || header(r.Headers, "X-DataDome-Response") != "" {
		return true, "DataDome"
	}
	if bytes.Contains(r.Body, []byte("geo.captcha-delivery.com")) || bytes.Contains(r.Body, []byte("datadome")) {
		return true, "DataDome"
	}
	return false, ""
}

func detectPerimeterX(r Response) (bool, string) {
	if r.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if header(r.Headers, "X-Px-Captcha") != "" {
		return true, "PerimeterX"
	}
	for _, sig := range []string{"client.perimeterx.net", "px-captcha", "_pxBlock"} {
		if bytes.Contains(r.Body, []byte(sig)) {
			return true, "PerimeterX"
		}
	}
	return false, ""
}

// detectCaptcha catches generic interstitials served with a block status.
func detectCaptcha(r Response) (bool, string) {
	if !blockedStatus(r.StatusCode) {
		return false, ""
	}
	lower := bytes.ToLower(r.Body)
	for _, sig := range []string{"g-recaptcha", "h-captcha", "hcaptcha.com/1/api.js", "are you a robot"} {
		if bytes.Contains(lower, []byte(sig)) {
			return true, "Captcha"
		}
	}
	return false, ""
}
