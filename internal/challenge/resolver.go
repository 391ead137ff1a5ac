// File: internal/challenge/resolver.go
// Description: Drives a detected challenge to a terminal status. Cache first,
// then the configured paid backend, then a bounded human hand-off wait. Every
// failure mode comes back as a structured outcome so the orchestrator can fall
// back to manual review.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"

	"github.com/applypilot/applypilot-cli/api/schemas"
	"github.com/applypilot/applypilot-cli/internal/config"
	"github.com/applypilot/applypilot-cli/internal/poll"
)

// TokenSolver is the paid-backend surface the resolver needs. A nil solver
// means no backend is configured and every challenge goes to a human.
type TokenSolver interface {
	Solve(ctx context.Context, challenge *schemas.ChallengeInfo) (string, error)
}

// Resolver implements schemas.Resolver over one page.
type Resolver struct {
	page   schemas.PageScripter
	store  schemas.SessionStore
	solver TokenSolver
	notify schemas.Notifier
	cfg    config.ChallengeConfig
	group  singleflight.Group
	now    schemas.Clock
	log    *zap.Logger
}

var _ schemas.Resolver = (*Resolver)(nil)

// NewResolver wires a resolver. page and store are required; solver and
// notifier may be nil.
func NewResolver(page schemas.PageScripter, store schemas.SessionStore, solver TokenSolver, notifier schemas.Notifier, cfg config.ChallengeConfig, logger *zap.Logger) (*Resolver, error) {
	if page == nil {
		return nil, fmt.Errorf("resolver requires a page scripter")
	}
	if store == nil {
		return nil, fmt.Errorf("resolver requires a session store")
	}
	return &Resolver{
		page:   page,
		store:  store,
		solver: solver,
		notify: notifier,
		cfg:    cfg,
		now:    time.Now,
		log:    logger.Named("resolver"),
	}, nil
}

// Resolve takes a detected challenge to a terminal status. Concurrent
// resolutions against the same site domain share a single underlying attempt.
func (r *Resolver) Resolve(ctx context.Context, challenge *schemas.ChallengeInfo) (*schemas.ResolveOutcome, error) {
	if challenge == nil {
		return nil, fmt.Errorf("no challenge to resolve")
	}
	start := r.now()
	domain := siteDomain(challenge.PageURL)

	// A valid cached session short-circuits everything.
	if session, err := r.store.Get(ctx, domain); err != nil {
		r.log.Warn("Session cache lookup failed; continuing without cache.",
			zap.String("domain", domain), zap.Error(err))
	} else if session != nil {
		_ = challenge.Advance(schemas.StatusSolved)
		r.log.Info("Challenge already cleared for domain; skipping.",
			zap.String("domain", domain), zap.String("type", string(session.Type)))
		return &schemas.ResolveOutcome{
			Challenge: challenge,
			Status:    schemas.StatusSolved,
			FromCache: true,
			Elapsed:   r.now().Sub(start),
		}, nil
	}

	result, err, _ := r.group.Do(domain, func() (interface{}, error) {
		return r.resolveUncached(ctx, challenge, domain)
	})
	if err != nil {
		return nil, err
	}
	outcome := result.(*schemas.ResolveOutcome)
	outcome.Elapsed = r.now().Sub(start)
	return outcome, nil
}

func (r *Resolver) resolveUncached(ctx context.Context, challenge *schemas.ChallengeInfo, domain string) (*schemas.ResolveOutcome, error) {
	if r.solver != nil {
		return r.resolveAutomatic(ctx, challenge, domain)
	}
	return r.resolveHuman(ctx, challenge, domain)
}

// resolveAutomatic runs the paid-backend path: solve, inject, persist.
func (r *Resolver) resolveAutomatic(ctx context.Context, challenge *schemas.ChallengeInfo, domain string) (*schemas.ResolveOutcome, error) {
	if err := challenge.Advance(schemas.StatusSolving); err != nil {
		return nil, err
	}
	r.log.Info("Sending challenge to solving backend.",
		zap.String("type", string(challenge.Type)), zap.String("domain", domain))

	token, err := r.solver.Solve(ctx, challenge)
	if err != nil {
		_ = challenge.Advance(schemas.StatusFailed)
		r.log.Warn("Backend solve failed.", zap.String("domain", domain), zap.Error(err))
		return &schemas.ResolveOutcome{
			Challenge: challenge,
			Status:    schemas.StatusFailed,
			Reason:    err.Error(),
		}, nil
	}

	if err := r.injectToken(ctx, challenge, token); err != nil {
		_ = challenge.Advance(schemas.StatusFailed)
		return &schemas.ResolveOutcome{
			Challenge: challenge,
			Status:    schemas.StatusFailed,
			Reason:    fmt.Sprintf("token injection failed: %v", err),
		}, nil
	}

	_ = challenge.Advance(schemas.StatusSolved)
	r.persistSession(ctx, challenge, domain)
	return &schemas.ResolveOutcome{
		Challenge: challenge,
		Status:    schemas.StatusSolved,
		Token:     token,
	}, nil
}

// resolveHuman notifies and then polls the solved-signals until the wait
// bound elapses.
func (r *Resolver) resolveHuman(ctx context.Context, challenge *schemas.ChallengeInfo, domain string) (*schemas.ResolveOutcome, error) {
	if err := challenge.Advance(schemas.StatusWaitingForHuman); err != nil {
		return nil, err
	}
	if r.notify != nil {
		r.notify.Notify(ctx, "Challenge needs your attention",
			fmt.Sprintf("A %s challenge on %s is waiting to be solved.", challenge.Type, domain))
	}
	r.log.Info("Waiting for a human to clear the challenge.",
		zap.String("type", string(challenge.Type)),
		zap.String("domain", domain),
		zap.Duration("timeout", r.cfg.HumanWaitTimeout))

	err := poll.Until(ctx, r.cfg.HumanPollInterval, r.cfg.HumanWaitTimeout, func(ctx context.Context) (bool, error) {
		return r.solvedSignals(ctx, challenge)
	})
	switch {
	case errors.Is(err, poll.ErrTimeout):
		_ = challenge.Advance(schemas.StatusExpired)
		return &schemas.ResolveOutcome{
			Challenge: challenge,
			Status:    schemas.StatusExpired,
			Reason:    "human wait bound elapsed",
		}, nil
	case err != nil:
		_ = challenge.Advance(schemas.StatusFailed)
		return &schemas.ResolveOutcome{
			Challenge: challenge,
			Status:    schemas.StatusFailed,
			Reason:    err.Error(),
		}, nil
	}

	_ = challenge.Advance(schemas.StatusSolved)
	r.persistSession(ctx, challenge, domain)
	return &schemas.ResolveOutcome{
		Challenge: challenge,
		Status:    schemas.StatusSolved,
	}, nil
}

// persistSession records the cleared challenge so repeat visits inside the
// validity window skip it entirely. A write failure only costs the cache.
func (r *Resolver) persistSession(ctx context.Context, challenge *schemas.ChallengeInfo, domain string) {
	now := r.now()
	session := schemas.ChallengeSession{
		Domain:    domain,
		Type:      challenge.Type,
		SolvedAt:  now,
		ExpiresAt: now.Add(r.cfg.SessionTTL),
	}
	if err := r.store.Put(ctx, session); err != nil {
		r.log.Warn("Failed to persist challenge session.",
			zap.String("domain", domain), zap.Error(err))
	}
}

const injectTemplate = `(() => {
    const token = %s;
    const fieldName = %s;
    const selector = %s;
    if (fieldName) {
        let field = document.querySelector('textarea[name="' + fieldName + '"], input[name="' + fieldName + '"]');
        if (!field) {
            field = document.createElement('textarea');
            field.name = fieldName;
            field.style.display = 'none';
            (document.forms[0] || document.body).appendChild(field);
        }
        field.value = token;
        field.dispatchEvent(new Event('change', { bubbles: true }));
    }
    if (selector) {
        try {
            const marker = document.querySelector(selector);
            const cb = marker && marker.getAttribute('data-callback');
            if (cb && typeof window[cb] === 'function') window[cb](token);
        } catch (e) {}
    }
    return true;
})()`

// injectToken writes the proof token into the family's expected hidden field,
// creating it if absent, and invokes any registered page callback.
func (r *Resolver) injectToken(ctx context.Context, challenge *schemas.ChallengeInfo, token string) error {
	expr := fmt.Sprintf(injectTemplate,
		jsString(token),
		jsString(responseFieldFor(challenge.Type)),
		jsString(challenge.Selector))
	return r.page.Evaluate(ctx, expr, nil)
}

const solvedSignalsTemplate = `(() => {
    const fieldName = %s;
    const selector = %s;
    if (fieldName) {
        const field = document.querySelector('textarea[name="' + fieldName + '"], input[name="' + fieldName + '"]');
        if (field && field.value) return true;
    }
    try {
        if (window.grecaptcha && typeof window.grecaptcha.getResponse === 'function' && window.grecaptcha.getResponse()) return true;
    } catch (e) {}
    try {
        if (window.hcaptcha && typeof window.hcaptcha.getResponse === 'function' && window.hcaptcha.getResponse()) return true;
    } catch (e) {}
    if (selector) {
        try {
            const marker = document.querySelector(selector);
            if (marker && marker.offsetParent === null) return true;
        } catch (e) {}
    }
    return false;
})()`

// solvedSignals checks whether a human has cleared the challenge: a non-empty
// proof field, a page global reporting a response, or the marker having
// disappeared.
func (r *Resolver) solvedSignals(ctx context.Context, challenge *schemas.ChallengeInfo) (bool, error) {
	expr := fmt.Sprintf(solvedSignalsTemplate,
		jsString(responseFieldFor(challenge.Type)),
		jsString(challenge.Selector))
	var solved bool
	if err := r.page.Evaluate(ctx, expr, &solved); err != nil {
		return false, err
	}
	return solved, nil
}

// jsString encodes a Go string as a JS string literal.
func jsString(s string) string {
	encoded, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(encoded)
}

// siteDomain reduces a page address to its registrable domain (eTLD+1),
// falling back to the bare host when the suffix list cannot help.
func siteDomain(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Hostname() == "" {
		return pageURL
	}
	host := strings.ToLower(u.Hostname())
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
