// File: internal/orchestrator/orchestrator.go
// Description: Sequences one application attempt: navigate, clear pre-fill
// obstacles, discover the form, fill while watching for mid-fill challenges,
// clear post-fill obstacles, and wait out any identity sessions the fill
// spawned. Component failures and exhausted timeouts become partial or failed
// outcomes, never unhandled faults.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/applypilot/applypilot-cli/api/schemas"
	"github.com/applypilot/applypilot-cli/internal/challenge"
)

// Orchestrator drives one page through a full application attempt.
type Orchestrator struct {
	page        schemas.Page
	discovery   schemas.DiscoveryEngine
	detector    schemas.Detector
	resolver    schemas.Resolver
	filler      schemas.Filler
	coordinator schemas.Coordinator
	watcher     *challenge.Watcher
	now         schemas.Clock
	log         *zap.Logger
}

// New wires an orchestrator. Every collaborator is required except the
// watcher and coordinator, which degrade to a fill-only attempt.
func New(
	page schemas.Page,
	discovery schemas.DiscoveryEngine,
	detector schemas.Detector,
	resolver schemas.Resolver,
	filler schemas.Filler,
	coordinator schemas.Coordinator,
	watcher *challenge.Watcher,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if page == nil {
		return nil, fmt.Errorf("orchestrator requires a page")
	}
	if discovery == nil {
		return nil, fmt.Errorf("orchestrator requires a discovery engine")
	}
	if detector == nil {
		return nil, fmt.Errorf("orchestrator requires a detector")
	}
	if resolver == nil {
		return nil, fmt.Errorf("orchestrator requires a resolver")
	}
	if filler == nil {
		return nil, fmt.Errorf("orchestrator requires a filler")
	}
	return &Orchestrator{
		page:        page,
		discovery:   discovery,
		detector:    detector,
		resolver:    resolver,
		filler:      filler,
		coordinator: coordinator,
		watcher:     watcher,
		now:         time.Now,
		log:         logger.Named("orchestrator"),
	}, nil
}

// Run executes one attempt against the target URL.
func (o *Orchestrator) Run(ctx context.Context, targetURL string) (*schemas.AttemptOutcome, error) {
	outcome := &schemas.AttemptOutcome{
		ID:        uuid.NewString(),
		TargetURL: targetURL,
		StartedAt: o.now(),
	}
	defer func() { outcome.Duration = o.now().Sub(outcome.StartedAt) }()

	o.log.Info("Attempt started.",
		zap.String("attempt_id", outcome.ID), zap.String("url", targetURL))

	if err := o.page.Navigate(ctx, targetURL); err != nil {
		return o.fail(outcome, fmt.Sprintf("navigation failed: %v", err)), nil
	}

	// Pre-fill obstacle check. An uncleared gate means the form is
	// unreachable.
	if cleared, reason := o.checkAndResolve(ctx, outcome); !cleared {
		return o.fail(outcome, reason), nil
	}

	form, err := o.discovery.Discover(ctx)
	if err != nil {
		return o.fail(outcome, fmt.Sprintf("discovery failed: %v", err)), nil
	}
	outcome.FieldsDiscovered = len(form.Fields)
	o.log.Info("Form discovered.",
		zap.Int("fields", len(form.Fields)),
		zap.Int("buttons", len(form.Buttons)),
		zap.Int("sections", len(form.Sections)))

	fillReport, fillErr := o.fillWithWatch(ctx, form, outcome)
	outcome.FieldsFilled = fillReport.Filled
	if fillErr != nil {
		return o.fail(outcome, fmt.Sprintf("fill failed: %v", fillErr)), nil
	}

	// Post-fill obstacle check; submission gates often appear only now.
	if cleared, reason := o.checkAndResolve(ctx, outcome); !cleared {
		outcome.Status = schemas.AttemptPartial
		outcome.Reason = reason
		return outcome, nil
	}

	o.waitForSessions(ctx, outcome)
	o.conclude(outcome, fillReport)

	o.log.Info("Attempt finished.",
		zap.String("attempt_id", outcome.ID),
		zap.String("status", string(outcome.Status)),
		zap.Int("filled", outcome.FieldsFilled),
		zap.Int("discovered", outcome.FieldsDiscovered))
	return outcome, nil
}

// checkAndResolve runs one detection pass and resolves the primary challenge
// if present. Returns false with a reason when the obstacle stays in the way.
func (o *Orchestrator) checkAndResolve(ctx context.Context, outcome *schemas.AttemptOutcome) (bool, string) {
	primary, err := o.detector.Primary(ctx)
	if err != nil {
		o.log.Warn("Obstacle detection failed; assuming a clean page.", zap.Error(err))
		return true, ""
	}
	if primary == nil {
		return true, ""
	}

	resolved, err := o.resolver.Resolve(ctx, primary)
	if err != nil {
		return false, fmt.Sprintf("challenge resolution errored: %v", err)
	}
	outcome.Challenges = append(outcome.Challenges, resolved)
	if !resolved.Solved() {
		return false, fmt.Sprintf("%s challenge not cleared: %s", primary.Type, resolved.Reason)
	}
	return true, ""
}

// fillWithWatch runs the filler while the structural watcher streams any
// newly appearing challenges to the resolver.
func (o *Orchestrator) fillWithWatch(ctx context.Context, form *schemas.FormContext, outcome *schemas.AttemptOutcome) (schemas.FillReport, error) {
	if o.watcher == nil {
		return o.filler.Fill(ctx, o.page, form)
	}

	seenCh := make(chan schemas.ChallengeInfo, 8)
	unsubscribe := o.watcher.Subscribe(func(info schemas.ChallengeInfo) {
		select {
		case seenCh <- info:
		default:
		}
	})
	o.watcher.Start(ctx)
	defer func() {
		unsubscribe()
		o.watcher.Stop()
	}()

	var (
		mu         sync.Mutex
		fillReport schemas.FillReport
		fillDone   = make(chan struct{})
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(fillDone)
		report, err := o.filler.Fill(gctx, o.page, form)
		fillReport = report
		return err
	})

	g.Go(func() error {
		for {
			select {
			case info := <-seenCh:
				resolved, err := o.resolver.Resolve(gctx, &info)
				if err != nil {
					o.log.Warn("Mid-fill challenge resolution errored.", zap.Error(err))
					continue
				}
				mu.Lock()
				outcome.Challenges = append(outcome.Challenges, resolved)
				mu.Unlock()
			case <-fillDone:
				return nil
			case <-gctx.Done():
				return nil
			}
		}
	})

	err := g.Wait()
	return fillReport, err
}

// waitForSessions blocks on the identity sessions the fill spawned. The
// working tab's own session stays open past the attempt, so it is skipped.
func (o *Orchestrator) waitForSessions(ctx context.Context, outcome *schemas.AttemptOutcome) {
	if o.coordinator == nil {
		return
	}
	for _, session := range o.coordinator.ActiveSessions() {
		if session.Purpose != schemas.PurposeIdentity {
			continue
		}
		o.log.Info("Waiting for tab session to settle.",
			zap.String("session_id", session.ID),
			zap.String("purpose", string(session.Purpose)))
		ended, err := o.coordinator.Wait(ctx, session.ID)
		if err != nil {
			o.log.Warn("Gave up waiting on tab session.",
				zap.String("session_id", session.ID), zap.Error(err))
			outcome.Sessions = append(outcome.Sessions, session)
			continue
		}
		outcome.Sessions = append(outcome.Sessions, ended)
	}
}

// conclude derives the attempt status from what happened.
func (o *Orchestrator) conclude(outcome *schemas.AttemptOutcome, fillReport schemas.FillReport) {
	switch {
	case outcome.FieldsDiscovered == 0:
		outcome.Status = schemas.AttemptPartial
		outcome.Reason = "no fillable fields discovered"
	case len(fillReport.Errors) > 0:
		outcome.Status = schemas.AttemptPartial
		outcome.Reason = fmt.Sprintf("%d fields failed to fill", len(fillReport.Errors))
	case anyUnsolved(outcome.Challenges):
		outcome.Status = schemas.AttemptPartial
		outcome.Reason = "a challenge was left uncleared"
	case anyFailedSession(outcome.Sessions):
		outcome.Status = schemas.AttemptPartial
		outcome.Reason = "an auxiliary tab session failed"
	default:
		outcome.Status = schemas.AttemptCompleted
	}
}

func (o *Orchestrator) fail(outcome *schemas.AttemptOutcome, reason string) *schemas.AttemptOutcome {
	outcome.Status = schemas.AttemptFailed
	outcome.Reason = reason
	o.log.Warn("Attempt failed.",
		zap.String("attempt_id", outcome.ID), zap.String("reason", reason))
	return outcome
}

func anyUnsolved(challenges []*schemas.ResolveOutcome) bool {
	for _, c := range challenges {
		if !c.Solved() {
			return true
		}
	}
	return false
}

func anyFailedSession(sessions []*schemas.TabSession) bool {
	for _, s := range sessions {
		if s.State == schemas.TabStateFailed {
			return true
		}
	}
	return false
}
