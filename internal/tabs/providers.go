// File: internal/tabs/providers.go
// Description: The identity-provider pattern table. Host patterns recognize a
// provider page (upgrading a session to identity purpose); success and failure
// patterns classify the redirect a tracked tab lands on. An id_token in a
// success address is decoded unverified, purely for logging.
package tabs

import (
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Provider is one known identity provider.
type Provider struct {
	Name         string
	HostPatterns []string
}

// providers lists the identity providers job boards commonly delegate to.
var providers = []Provider{
	{Name: "google", HostPatterns: []string{"accounts.google.com"}},
	{Name: "microsoft", HostPatterns: []string{"login.microsoftonline.com", "login.live.com"}},
	{Name: "linkedin", HostPatterns: []string{"www.linkedin.com/oauth", "linkedin.com/uas/login"}},
	{Name: "github", HostPatterns: []string{"github.com/login"}},
	{Name: "okta", HostPatterns: []string{".okta.com", ".oktapreview.com"}},
	{Name: "facebook", HostPatterns: []string{"www.facebook.com/login", "facebook.com/dialog/oauth"}},
}

// successPatterns mark an address as a completed identity hand-back.
var successPatterns = []string{
	"code=",
	"id_token=",
	"access_token=",
	"oauth/callback",
	"auth/callback",
	"login/callback",
}

// failurePatterns mark an address as a denied or abandoned flow.
var failurePatterns = []string{
	"error=access_denied",
	"error=consent_required",
	"denied",
	"cancelled",
}

// identityProviderFor returns the provider a URL belongs to, if any.
func identityProviderFor(rawURL string) (Provider, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Provider{}, false
	}
	probe := strings.ToLower(u.Host + u.Path)
	for _, p := range providers {
		for _, pattern := range p.HostPatterns {
			if strings.Contains(probe, pattern) {
				return p, true
			}
		}
	}
	return Provider{}, false
}

// flowOutcome classifies a tracked tab's address against the success and
// failure tables. Failure patterns win so "error=access_denied&code=x" is
// never read as success.
type flowOutcome int

const (
	flowPending flowOutcome = iota
	flowSuccess
	flowFailure
)

func classifyFlowURL(rawURL string) flowOutcome {
	lower := strings.ToLower(rawURL)
	for _, pattern := range failurePatterns {
		if strings.Contains(lower, pattern) {
			return flowFailure
		}
	}
	for _, pattern := range successPatterns {
		if strings.Contains(lower, pattern) {
			return flowSuccess
		}
	}
	return flowPending
}

// logIDToken decodes an id_token found in a success address, without
// verification, to log who signed in and until when. Decode failures are
// ignored; the token is the provider's business, not ours.
func logIDToken(rawURL string, log *zap.Logger) {
	token := extractIDToken(rawURL)
	if token == "" {
		return
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return
	}
	fields := make([]zap.Field, 0, 2)
	if sub, _ := claims.GetSubject(); sub != "" {
		fields = append(fields, zap.String("subject", sub))
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		fields = append(fields, zap.Time("expires", exp.Time))
	}
	log.Debug("Identity flow returned an id_token.", fields...)
}

// extractIDToken pulls the id_token value from the query or fragment.
func extractIDToken(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if token := u.Query().Get("id_token"); token != "" {
		return token
	}
	if fragment, err := url.ParseQuery(u.Fragment); err == nil {
		return fragment.Get("id_token")
	}
	return ""
}
