// File: api/schemas/challenges.go
// Description: Anti-automation challenge types, their status machine, and the
// per-domain "already cleared" session record.
package schemas

import (
	"fmt"
	"time"
)

// ChallengeType is the discriminant over the fixed set of recognized
// challenge families.
type ChallengeType string

const (
	ChallengeRecaptchaV2 ChallengeType = "recaptcha-v2"
	ChallengeRecaptchaV3 ChallengeType = "recaptcha-v3"
	ChallengeHCaptcha    ChallengeType = "hcaptcha"
	ChallengeTurnstile   ChallengeType = "turnstile"
	ChallengeFunCaptcha  ChallengeType = "funcaptcha"
	ChallengeImage       ChallengeType = "image"
)

// ChallengeStatus advances through a fixed sequence:
// detected -> solving|waiting-for-human -> solved|failed|expired.
type ChallengeStatus string

const (
	StatusDetected        ChallengeStatus = "detected"
	StatusSolving         ChallengeStatus = "solving"
	StatusWaitingForHuman ChallengeStatus = "waiting-for-human"
	StatusSolved          ChallengeStatus = "solved"
	StatusFailed          ChallengeStatus = "failed"
	StatusExpired         ChallengeStatus = "expired"
)

// Terminal reports whether no further transitions are legal.
func (s ChallengeStatus) Terminal() bool {
	return s == StatusSolved || s == StatusFailed || s == StatusExpired
}

// SignalKind classifies how a challenge family was recognized.
type SignalKind string

const (
	SignalScript SignalKind = "script"
	SignalMarker SignalKind = "marker"
	SignalFrame  SignalKind = "frame"
	SignalGlobal SignalKind = "global"
)

// ChallengeSignal records one piece of detection evidence.
type ChallengeSignal struct {
	Kind     SignalKind `json:"kind"`
	Evidence string     `json:"evidence"`
}

// ChallengeInfo is one detected obstacle instance.
type ChallengeInfo struct {
	ID      string        `json:"id"`
	Type    ChallengeType `json:"type"`
	SiteKey string        `json:"siteKey,omitempty"`
	PageURL string        `json:"pageUrl"`
	// Selector references the triggering marker element, empty for families
	// detected without a reliable element marker.
	Selector    string            `json:"selector,omitempty"`
	Interactive bool              `json:"interactive"`
	Status      ChallengeStatus   `json:"status"`
	Signals     []ChallengeSignal `json:"signals,omitempty"`
	DetectedAt  time.Time         `json:"detectedAt"`
}

// Advance moves the status forward, rejecting any transition out of a
// terminal state.
func (c *ChallengeInfo) Advance(next ChallengeStatus) error {
	if c.Status.Terminal() {
		return fmt.Errorf("challenge %s: illegal transition %s -> %s", c.ID, c.Status, next)
	}
	c.Status = next
	return nil
}

// ChallengeSession is a cached "this site was already cleared" record, keyed
// by site domain. It is never trusted past its expiry.
type ChallengeSession struct {
	Domain    string        `json:"domain"`
	Type      ChallengeType `json:"type"`
	SolvedAt  time.Time     `json:"solvedAt"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

// Valid reports whether the session may still be trusted at the given time.
func (s ChallengeSession) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// ResolveOutcome is the structured result of one resolution attempt. Failures
// and timeouts are reported here, never thrown as fatal errors, so the
// orchestrator can fall back to manual review.
type ResolveOutcome struct {
	Challenge *ChallengeInfo  `json:"challenge,omitempty"`
	Status    ChallengeStatus `json:"status"`
	Token     string          `json:"token,omitempty"`
	FromCache bool            `json:"fromCache"`
	Reason    string          `json:"reason,omitempty"`
	Elapsed   time.Duration   `json:"elapsed"`
}

// Solved reports whether the attempt ended with the obstacle cleared.
func (o *ResolveOutcome) Solved() bool { return o != nil && o.Status == StatusSolved }
