// File: internal/solver/backend.go
// Description: The closed set of supported paid-solving backends. All of them
// speak the same JSON createTask/getTaskResult/getBalance protocol; the kind
// only selects credentials and the default endpoint.
package solver

import (
	"fmt"

	"github.com/applypilot/applypilot-cli/api/schemas"
	"github.com/applypilot/applypilot-cli/internal/config"
)

// Kind discriminates the backend variants.
type Kind string

const (
	KindTwoCaptcha  Kind = "twocaptcha"
	KindAntiCaptcha Kind = "anticaptcha"
	KindCapMonster  Kind = "capmonster"
)

// defaultEndpoints maps each kind to its API base URL.
var defaultEndpoints = map[Kind]string{
	KindTwoCaptcha:  "https://api.2captcha.com",
	KindAntiCaptcha: "https://api.anti-captcha.com",
	KindCapMonster:  "https://api.capmonster.cloud",
}

// Backend is one configured solving service.
type Backend struct {
	Kind     Kind
	APIKey   string
	Endpoint string // optional override of the kind's default
}

// BackendFromConfig validates a config entry into a Backend.
func BackendFromConfig(bc config.BackendConfig) (Backend, error) {
	kind := Kind(bc.Kind)
	if _, ok := defaultEndpoints[kind]; !ok {
		return Backend{}, fmt.Errorf("unknown solver backend kind %q", bc.Kind)
	}
	if bc.APIKey == "" {
		return Backend{}, fmt.Errorf("solver backend %q has no api key", bc.Kind)
	}
	return Backend{Kind: kind, APIKey: bc.APIKey, Endpoint: bc.Endpoint}, nil
}

// BaseURL returns the endpoint override or the kind's default.
func (b Backend) BaseURL() string {
	if b.Endpoint != "" {
		return b.Endpoint
	}
	return defaultEndpoints[b.Kind]
}

// taskTypeFor maps a challenge family onto the protocol task type.
func taskTypeFor(t schemas.ChallengeType) (string, error) {
	switch t {
	case schemas.ChallengeRecaptchaV2:
		return "RecaptchaV2TaskProxyless", nil
	case schemas.ChallengeRecaptchaV3:
		return "RecaptchaV3TaskProxyless", nil
	case schemas.ChallengeHCaptcha:
		return "HCaptchaTaskProxyless", nil
	case schemas.ChallengeTurnstile:
		return "TurnstileTaskProxyless", nil
	case schemas.ChallengeFunCaptcha:
		return "FunCaptchaTaskProxyless", nil
	case schemas.ChallengeImage:
		return "ImageToTextTask", nil
	default:
		return "", fmt.Errorf("no task type for challenge family %q", t)
	}
}
