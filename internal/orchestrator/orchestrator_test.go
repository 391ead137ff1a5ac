// File: internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/applypilot/applypilot-cli/api/schemas"
	"github.com/applypilot/applypilot-cli/internal/challenge"
)

// -- fakes --

type fakePage struct {
	navErr    error
	navigated []string
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.navigated = append(f.navigated, url)
	return f.navErr
}

func (f *fakePage) Snapshot(context.Context) (*schemas.PageSnapshot, error) {
	return &schemas.PageSnapshot{}, nil
}

func (f *fakePage) Evaluate(context.Context, string, interface{}) error { return nil }

func (f *fakePage) URL(context.Context) (string, error) {
	return "https://jobs.example.com/apply", nil
}

func (f *fakePage) TargetID() string { return "tab-1" }

type fakeDiscovery struct {
	form *schemas.FormContext
	err  error
}

func (f *fakeDiscovery) Discover(context.Context) (*schemas.FormContext, error) {
	return f.form, f.err
}

// fakeDetector returns its queued primaries one per call, then nil.
type fakeDetector struct {
	mu        sync.Mutex
	primaries []*schemas.ChallengeInfo
	calls     int
}

func (f *fakeDetector) Detect(ctx context.Context) ([]schemas.ChallengeInfo, error) {
	p, err := f.Primary(ctx)
	if err != nil || p == nil {
		return nil, err
	}
	return []schemas.ChallengeInfo{*p}, nil
}

func (f *fakeDetector) Primary(context.Context) (*schemas.ChallengeInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.primaries) == 0 {
		return nil, nil
	}
	next := f.primaries[0]
	f.primaries = f.primaries[1:]
	return next, nil
}

type fakeResolver struct {
	mu       sync.Mutex
	status   schemas.ChallengeStatus
	reason   string
	resolved int
}

func (f *fakeResolver) Resolve(_ context.Context, c *schemas.ChallengeInfo) (*schemas.ResolveOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved++
	return &schemas.ResolveOutcome{Challenge: c, Status: f.status, Reason: f.reason}, nil
}

type fakeFiller struct {
	report schemas.FillReport
	err    error
	delay  time.Duration
}

func (f *fakeFiller) Fill(ctx context.Context, _ schemas.PageScripter, _ *schemas.FormContext) (schemas.FillReport, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return schemas.FillReport{}, ctx.Err()
		}
	}
	return f.report, f.err
}

type fakeCoordinator struct {
	active []*schemas.TabSession
	waited []*schemas.TabSession
}

func (f *fakeCoordinator) StartSession(context.Context, string, schemas.SessionPurpose) (*schemas.TabSession, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeCoordinator) CompleteSession(string, string) error { return nil }
func (f *fakeCoordinator) FailSession(string, string) error     { return nil }
func (f *fakeCoordinator) CancelSession(string, string) error   { return nil }
func (f *fakeCoordinator) SessionForTab(string) (*schemas.TabSession, bool) {
	return nil, false
}
func (f *fakeCoordinator) Lookup(string) (*schemas.TabSession, bool) { return nil, false }
func (f *fakeCoordinator) ActiveSessions() []*schemas.TabSession     { return f.active }
func (f *fakeCoordinator) Wait(_ context.Context, sessionID string) (*schemas.TabSession, error) {
	for _, ended := range f.waited {
		if ended.ID == sessionID {
			return ended, nil
		}
	}
	return nil, errors.New("unknown session")
}

// -- helpers --

func twoFieldForm() *schemas.FormContext {
	return &schemas.FormContext{Fields: []schemas.FieldDescriptor{
		{Kind: schemas.FieldText, Name: "email", Visible: true, Interactive: true},
		{Kind: schemas.FieldText, Name: "first_name", Visible: true, Interactive: true},
	}}
}

func detectedChallenge(typ schemas.ChallengeType) *schemas.ChallengeInfo {
	return &schemas.ChallengeInfo{
		ID:      "ch-1",
		Type:    typ,
		PageURL: "https://jobs.example.com/apply",
		Status:  schemas.StatusDetected,
	}
}

func newTestOrchestrator(t *testing.T, page schemas.Page, disc schemas.DiscoveryEngine, det schemas.Detector, res schemas.Resolver, fill schemas.Filler, coord schemas.Coordinator, watcher *challenge.Watcher) *Orchestrator {
	t.Helper()
	o, err := New(page, disc, det, res, fill, coord, watcher, zap.NewNop())
	require.NoError(t, err)
	return o
}

// -- tests --

func TestRunCleanAttemptCompletes(t *testing.T) {
	o := newTestOrchestrator(t,
		&fakePage{},
		&fakeDiscovery{form: twoFieldForm()},
		&fakeDetector{},
		&fakeResolver{status: schemas.StatusSolved},
		&fakeFiller{report: schemas.FillReport{Filled: 2}},
		&fakeCoordinator{active: []*schemas.TabSession{
			// The working tab's own session outlives the attempt.
			{ID: "origin", State: schemas.TabStateActive, Purpose: schemas.PurposeGeneric},
		}},
		nil,
	)

	outcome, err := o.Run(context.Background(), "https://jobs.example.com/apply")
	require.NoError(t, err)
	assert.Equal(t, schemas.AttemptCompleted, outcome.Status)
	assert.Equal(t, 2, outcome.FieldsDiscovered)
	assert.Equal(t, 2, outcome.FieldsFilled)
	assert.Empty(t, outcome.Challenges)
	assert.Empty(t, outcome.Sessions, "generic sessions are not waited on")
	assert.NotEmpty(t, outcome.ID)
	assert.Equal(t, "https://jobs.example.com/apply", outcome.TargetURL)
}

func TestRunNavigationFailureIsFailedOutcome(t *testing.T) {
	o := newTestOrchestrator(t,
		&fakePage{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")},
		&fakeDiscovery{form: twoFieldForm()},
		&fakeDetector{},
		&fakeResolver{status: schemas.StatusSolved},
		&fakeFiller{},
		nil, nil,
	)

	outcome, err := o.Run(context.Background(), "https://bogus.invalid/")
	require.NoError(t, err, "component failures become outcomes, not errors")
	assert.Equal(t, schemas.AttemptFailed, outcome.Status)
	assert.Contains(t, outcome.Reason, "navigation failed")
}

func TestRunPreFillChallengeBlocksWhenUncleared(t *testing.T) {
	resolver := &fakeResolver{status: schemas.StatusFailed, reason: "solver balance exhausted"}
	detector := &fakeDetector{primaries: []*schemas.ChallengeInfo{
		detectedChallenge(schemas.ChallengeRecaptchaV2),
	}}
	discovery := &fakeDiscovery{form: twoFieldForm()}
	o := newTestOrchestrator(t, &fakePage{}, discovery, detector, resolver, &fakeFiller{}, nil, nil)

	outcome, err := o.Run(context.Background(), "https://jobs.example.com/apply")
	require.NoError(t, err)
	assert.Equal(t, schemas.AttemptFailed, outcome.Status)
	assert.Contains(t, outcome.Reason, "recaptcha-v2")
	require.Len(t, outcome.Challenges, 1)
	assert.Zero(t, outcome.FieldsDiscovered, "discovery must not run behind an uncleared gate")
}

func TestRunPreFillChallengeSolvedThenProceeds(t *testing.T) {
	resolver := &fakeResolver{status: schemas.StatusSolved}
	detector := &fakeDetector{primaries: []*schemas.ChallengeInfo{
		detectedChallenge(schemas.ChallengeTurnstile),
	}}
	o := newTestOrchestrator(t,
		&fakePage{},
		&fakeDiscovery{form: twoFieldForm()},
		detector,
		resolver,
		&fakeFiller{report: schemas.FillReport{Filled: 2}},
		nil, nil,
	)

	outcome, err := o.Run(context.Background(), "https://jobs.example.com/apply")
	require.NoError(t, err)
	assert.Equal(t, schemas.AttemptCompleted, outcome.Status)
	require.Len(t, outcome.Challenges, 1)
	assert.True(t, outcome.Challenges[0].Solved())
	assert.Equal(t, 1, resolver.resolved)
}

func TestRunDiscoveryFailureIsFailedOutcome(t *testing.T) {
	o := newTestOrchestrator(t,
		&fakePage{},
		&fakeDiscovery{err: errors.New("execution context destroyed")},
		&fakeDetector{},
		&fakeResolver{status: schemas.StatusSolved},
		&fakeFiller{},
		nil, nil,
	)

	outcome, err := o.Run(context.Background(), "https://jobs.example.com/apply")
	require.NoError(t, err)
	assert.Equal(t, schemas.AttemptFailed, outcome.Status)
	assert.Contains(t, outcome.Reason, "discovery failed")
}

func TestRunMidFillChallengeResolvedByWatcher(t *testing.T) {
	resolver := &fakeResolver{status: schemas.StatusSolved}
	// Nothing at pre-fill; the challenge surfaces while the fill is running.
	detector := &fakeDetector{}
	watcher := challenge.NewWatcher(detector, 5*time.Millisecond, zap.NewNop())

	o := newTestOrchestrator(t,
		&fakePage{},
		&fakeDiscovery{form: twoFieldForm()},
		detector,
		resolver,
		&fakeFiller{report: schemas.FillReport{Filled: 2}, delay: 60 * time.Millisecond},
		nil,
		watcher,
	)

	go func() {
		time.Sleep(15 * time.Millisecond)
		detector.mu.Lock()
		detector.primaries = append(detector.primaries, detectedChallenge(schemas.ChallengeHCaptcha))
		detector.mu.Unlock()
	}()

	outcome, err := o.Run(context.Background(), "https://jobs.example.com/apply")
	require.NoError(t, err)
	assert.Equal(t, schemas.AttemptCompleted, outcome.Status)
	require.Len(t, outcome.Challenges, 1)
	assert.Equal(t, schemas.ChallengeHCaptcha, outcome.Challenges[0].Challenge.Type)
	assert.True(t, outcome.Challenges[0].Solved())
}

func TestRunFillErrorsYieldPartial(t *testing.T) {
	o := newTestOrchestrator(t,
		&fakePage{},
		&fakeDiscovery{form: twoFieldForm()},
		&fakeDetector{},
		&fakeResolver{status: schemas.StatusSolved},
		&fakeFiller{report: schemas.FillReport{Filled: 1, Errors: []string{"input[name='email']: detached"}}},
		nil, nil,
	)

	outcome, err := o.Run(context.Background(), "https://jobs.example.com/apply")
	require.NoError(t, err)
	assert.Equal(t, schemas.AttemptPartial, outcome.Status)
	assert.Contains(t, outcome.Reason, "failed to fill")
	assert.Equal(t, 1, outcome.FieldsFilled)
}

func TestRunPostFillChallengeExpiryYieldsPartial(t *testing.T) {
	resolver := &fakeResolver{status: schemas.StatusExpired, reason: "no human response within the wait window"}
	// A clean pre-fill pass, then the challenge surfaces post-fill.
	detector := &fakeDetector{primaries: []*schemas.ChallengeInfo{nil, detectedChallenge(schemas.ChallengeImage)}}
	o := newTestOrchestrator(t,
		&fakePage{},
		&fakeDiscovery{form: twoFieldForm()},
		detector,
		resolver,
		&fakeFiller{report: schemas.FillReport{Filled: 2}},
		nil, nil,
	)

	outcome, err := o.Run(context.Background(), "https://jobs.example.com/apply")
	require.NoError(t, err)
	assert.Equal(t, schemas.AttemptPartial, outcome.Status)
	assert.Contains(t, outcome.Reason, "not cleared")
	assert.Equal(t, 2, outcome.FieldsFilled, "fill results survive a post-fill block")
}

func TestRunWaitsForSpawnedSessions(t *testing.T) {
	ended := &schemas.TabSession{
		ID:      "sess-1",
		State:   schemas.TabStateCompleted,
		Purpose: schemas.PurposeIdentity,
	}
	coord := &fakeCoordinator{
		active: []*schemas.TabSession{{ID: "sess-1", State: schemas.TabStateActive, Purpose: schemas.PurposeIdentity}},
		waited: []*schemas.TabSession{ended},
	}
	o := newTestOrchestrator(t,
		&fakePage{},
		&fakeDiscovery{form: twoFieldForm()},
		&fakeDetector{},
		&fakeResolver{status: schemas.StatusSolved},
		&fakeFiller{report: schemas.FillReport{Filled: 2}},
		coord, nil,
	)

	outcome, err := o.Run(context.Background(), "https://jobs.example.com/apply")
	require.NoError(t, err)
	assert.Equal(t, schemas.AttemptCompleted, outcome.Status)
	require.Len(t, outcome.Sessions, 1)
	assert.Equal(t, schemas.TabStateCompleted, outcome.Sessions[0].State)
}

func TestRunFailedSessionYieldsPartial(t *testing.T) {
	ended := &schemas.TabSession{
		ID:      "sess-1",
		State:   schemas.TabStateFailed,
		Purpose: schemas.PurposeIdentity,
		Reason:  "origin tab was closed",
	}
	coord := &fakeCoordinator{
		active: []*schemas.TabSession{{ID: "sess-1", State: schemas.TabStateActive, Purpose: schemas.PurposeIdentity}},
		waited: []*schemas.TabSession{ended},
	}
	o := newTestOrchestrator(t,
		&fakePage{},
		&fakeDiscovery{form: twoFieldForm()},
		&fakeDetector{},
		&fakeResolver{status: schemas.StatusSolved},
		&fakeFiller{report: schemas.FillReport{Filled: 2}},
		coord, nil,
	)

	outcome, err := o.Run(context.Background(), "https://jobs.example.com/apply")
	require.NoError(t, err)
	assert.Equal(t, schemas.AttemptPartial, outcome.Status)
	assert.Contains(t, outcome.Reason, "tab session failed")
}

func TestRunNoFieldsYieldsPartial(t *testing.T) {
	o := newTestOrchestrator(t,
		&fakePage{},
		&fakeDiscovery{form: &schemas.FormContext{}},
		&fakeDetector{},
		&fakeResolver{status: schemas.StatusSolved},
		&fakeFiller{},
		nil, nil,
	)

	outcome, err := o.Run(context.Background(), "https://jobs.example.com/apply")
	require.NoError(t, err)
	assert.Equal(t, schemas.AttemptPartial, outcome.Status)
	assert.Contains(t, outcome.Reason, "no fillable fields")
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	_, err := New(nil, &fakeDiscovery{}, &fakeDetector{}, &fakeResolver{}, &fakeFiller{}, nil, nil, zap.NewNop())
	require.Error(t, err)

	_, err = New(&fakePage{}, nil, &fakeDetector{}, &fakeResolver{}, &fakeFiller{}, nil, nil, zap.NewNop())
	require.Error(t, err)

	_, err = New(&fakePage{}, &fakeDiscovery{}, &fakeDetector{}, &fakeResolver{}, nil, nil, nil, zap.NewNop())
	require.Error(t, err)
}
