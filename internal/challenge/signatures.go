// File: internal/challenge/signatures.go
// Description: The detection signature table. Each challenge family is a data
// row: script URL fingerprints, a marker selector with its site-key attribute,
// frame URL fingerprints, and an optional global-object probe for families
// with no reliable marker. Priority resolves ties when several families are
// present at once.
package challenge

import "github.com/applypilot/applypilot-cli/api/schemas"

// Signature describes how one challenge family shows up on a page.
type Signature struct {
	Type schemas.ChallengeType

	// ScriptPatterns are substrings matched against loaded script addresses.
	// A script hit alone is corroborating, never sufficient.
	ScriptPatterns []string

	// MarkerSelector matches the family's widget element; SiteKeyAttr names
	// the attribute carrying the site identifier on that element.
	MarkerSelector string
	SiteKeyAttr    string

	// FramePatterns are substrings matched against embedded frame addresses.
	FramePatterns []string

	// GlobalProbe is a page expression evaluating to a boolean. Only set for
	// families that expose no reliable marker element; a script hit plus a
	// true probe is then sufficient.
	GlobalProbe string

	// Interactive families present a user-facing widget; background families
	// score silently.
	Interactive bool

	// Priority orders simultaneous families, lower wins.
	Priority int
}

// Signatures returns the fixed family table, already sorted by priority.
// Interactive checkbox widgets outrank background scorers, which outrank the
// image fallback.
func Signatures() []Signature {
	return []Signature{
		{
			Type:           schemas.ChallengeRecaptchaV2,
			ScriptPatterns: []string{"www.google.com/recaptcha/api.js", "www.recaptcha.net/recaptcha/api.js"},
			MarkerSelector: ".g-recaptcha, [data-sitekey][class*='recaptcha']",
			SiteKeyAttr:    "data-sitekey",
			FramePatterns:  []string{"google.com/recaptcha/api2/anchor", "google.com/recaptcha/api2/bframe"},
			Interactive:    true,
			Priority:       10,
		},
		{
			Type:           schemas.ChallengeHCaptcha,
			ScriptPatterns: []string{"hcaptcha.com/1/api.js", "js.hcaptcha.com"},
			MarkerSelector: ".h-captcha, [data-sitekey][class*='hcaptcha']",
			SiteKeyAttr:    "data-sitekey",
			FramePatterns:  []string{"newassets.hcaptcha.com", "hcaptcha.com/captcha"},
			Interactive:    true,
			Priority:       20,
		},
		{
			Type:           schemas.ChallengeTurnstile,
			ScriptPatterns: []string{"challenges.cloudflare.com/turnstile"},
			MarkerSelector: ".cf-turnstile",
			SiteKeyAttr:    "data-sitekey",
			FramePatterns:  []string{"challenges.cloudflare.com/cdn-cgi/challenge-platform"},
			Interactive:    true,
			Priority:       30,
		},
		{
			// v3 renders no widget; a loaded api.js?render= script plus a live
			// grecaptcha.execute capability is the detection signal.
			Type:           schemas.ChallengeRecaptchaV3,
			ScriptPatterns: []string{"www.google.com/recaptcha/api.js?render=", "www.recaptcha.net/recaptcha/api.js?render="},
			GlobalProbe:    `typeof window.grecaptcha === 'object' && typeof window.grecaptcha.execute === 'function'`,
			Priority:       40,
		},
		{
			Type:           schemas.ChallengeFunCaptcha,
			ScriptPatterns: []string{"arkoselabs.com/v2", "funcaptcha.com/fc/api"},
			MarkerSelector: "[data-pkey], #funcaptcha, .funcaptcha",
			SiteKeyAttr:    "data-pkey",
			FramePatterns:  []string{"arkoselabs.com", "funcaptcha.com"},
			Priority:       50,
		},
		{
			Type:           schemas.ChallengeImage,
			MarkerSelector: `img[src*='captcha'], [id*='captcha'] img, [class*='captcha'] img`,
			Priority:       60,
		},
	}
}

// signatureFor looks a family up in the table.
func signatureFor(t schemas.ChallengeType) (Signature, bool) {
	for _, sig := range Signatures() {
		if sig.Type == t {
			return sig, true
		}
	}
	return Signature{}, false
}

// responseFieldFor names the hidden field each family expects its proof token
// in. Empty for families with no token field convention.
func responseFieldFor(t schemas.ChallengeType) string {
	switch t {
	case schemas.ChallengeRecaptchaV2, schemas.ChallengeRecaptchaV3:
		return "g-recaptcha-response"
	case schemas.ChallengeHCaptcha:
		return "h-captcha-response"
	case schemas.ChallengeTurnstile:
		return "cf-turnstile-response"
	case schemas.ChallengeFunCaptcha:
		return "fc-token"
	default:
		return ""
	}
}
