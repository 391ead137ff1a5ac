// File: internal/tabs/coordinator_test.go
package tabs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/applypilot/applypilot-cli/api/schemas"
	"github.com/applypilot/applypilot-cli/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeController is an in-memory tab table recording close/activate calls.
type fakeController struct {
	mu        sync.Mutex
	tabs      map[string]schemas.TabSnapshot
	closed    []string
	activated []string
}

func newFakeController(tabs ...schemas.TabSnapshot) *fakeController {
	f := &fakeController{tabs: make(map[string]schemas.TabSnapshot)}
	for _, tab := range tabs {
		f.tabs[tab.ID] = tab
	}
	return f
}

func (f *fakeController) Tab(_ context.Context, tabID string) (*schemas.TabSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tab, ok := f.tabs[tabID]
	if !ok {
		return nil, fmt.Errorf("no tab %s", tabID)
	}
	return &tab, nil
}

func (f *fakeController) CloseTab(_ context.Context, tabID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, tabID)
	delete(f.tabs, tabID)
	return nil
}

func (f *fakeController) ActivateTab(_ context.Context, tabID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = append(f.activated, tabID)
	return nil
}

func (f *fakeController) closedTabs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

func (f *fakeController) activatedTabs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.activated...)
}

func testTabsCfg() config.TabsConfig {
	return config.TabsConfig{
		DefaultTimeout:    10 * time.Minute,
		IdentityTimeout:   3 * time.Minute,
		EvictionGrace:     30 * time.Second,
		PendingOpenWindow: 5 * time.Second,
		CheckInterval:     5 * time.Millisecond,
		AutoClose:         true,
		AutoReturn:        true,
	}
}

func newTestCoordinator(t *testing.T, controller *fakeController, cfg config.TabsConfig) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(controller, nil, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c
}

func originTab() schemas.TabSnapshot {
	return schemas.TabSnapshot{ID: "tab-1", URL: "https://jobs.example.com/apply", WindowID: "win-1"}
}

// Scenario: a popup opened from the origin lands on an identity-provider
// success address; the session completes, the popup closes, the origin
// refocuses.
func TestIdentitySuccessCompletesAndReturns(t *testing.T) {
	controller := newFakeController(originTab())
	c := newTestCoordinator(t, controller, testTabsCfg())

	session, err := c.StartSession(context.Background(), "tab-1", schemas.PurposeGeneric)
	require.NoError(t, err)

	popup := schemas.TabSnapshot{ID: "tab-2", OpenerID: "tab-1", URL: "https://accounts.google.com/o/oauth2/auth"}
	c.Dispatch(schemas.TabEvent{Kind: schemas.TabCreated, Tab: popup})

	popup.URL = "https://jobs.example.com/oauth/callback?code=abc123"
	c.Dispatch(schemas.TabEvent{Kind: schemas.TabUpdated, Tab: popup})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ended, err := c.Wait(ctx, session.ID)
	require.NoError(t, err)

	assert.Equal(t, schemas.TabStateCompleted, ended.State)
	assert.Equal(t, schemas.PurposeIdentity, ended.Purpose)
	assert.Equal(t, "google", ended.Provider)
	assert.Contains(t, controller.closedTabs(), "tab-2")
	assert.Contains(t, controller.activatedTabs(), "tab-1")
}

// Scenario: the origin tab closes mid-flow.
func TestOriginClosedFailsSession(t *testing.T) {
	controller := newFakeController(originTab())
	c := newTestCoordinator(t, controller, testTabsCfg())

	session, err := c.StartSession(context.Background(), "tab-1", schemas.PurposeGeneric)
	require.NoError(t, err)

	c.Dispatch(schemas.TabEvent{Kind: schemas.TabRemoved, Tab: schemas.TabSnapshot{ID: "tab-1"}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ended, err := c.Wait(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TabStateFailed, ended.State)
	assert.Equal(t, "origin tab was closed", ended.Reason)
}

func TestIdentityFailurePattern(t *testing.T) {
	controller := newFakeController(originTab())
	c := newTestCoordinator(t, controller, testTabsCfg())

	session, err := c.StartSession(context.Background(), "tab-1", schemas.PurposeIdentity)
	require.NoError(t, err)

	popup := schemas.TabSnapshot{ID: "tab-2", OpenerID: "tab-1", URL: "https://accounts.google.com/o/oauth2/auth"}
	c.Dispatch(schemas.TabEvent{Kind: schemas.TabCreated, Tab: popup})
	popup.URL = "https://jobs.example.com/cb?error=access_denied"
	c.Dispatch(schemas.TabEvent{Kind: schemas.TabUpdated, Tab: popup})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ended, err := c.Wait(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TabStateFailed, ended.State)
}

// Closing the last tracked child of an identity session is implicit success.
func TestLastIdentityChildClosedCompletes(t *testing.T) {
	controller := newFakeController(originTab())
	c := newTestCoordinator(t, controller, testTabsCfg())

	session, err := c.StartSession(context.Background(), "tab-1", schemas.PurposeIdentity)
	require.NoError(t, err)

	c.Dispatch(schemas.TabEvent{Kind: schemas.TabCreated, Tab: schemas.TabSnapshot{ID: "tab-2", OpenerID: "tab-1", URL: "https://login.microsoftonline.com/common"}})
	c.Dispatch(schemas.TabEvent{Kind: schemas.TabRemoved, Tab: schemas.TabSnapshot{ID: "tab-2"}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ended, err := c.Wait(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TabStateCompleted, ended.State)
	assert.Equal(t, "identity popup closed", ended.Reason)
}

// A tab id never maps to two sessions; every tracked tab maps back to its
// session.
func TestTabMappingInvariant(t *testing.T) {
	controller := newFakeController(originTab(), schemas.TabSnapshot{ID: "tab-9", URL: "https://other.example.com"})
	c := newTestCoordinator(t, controller, testTabsCfg())

	session, err := c.StartSession(context.Background(), "tab-1", schemas.PurposeGeneric)
	require.NoError(t, err)

	_, err = c.StartSession(context.Background(), "tab-1", schemas.PurposeGeneric)
	require.Error(t, err, "double-mapping an origin tab must be rejected")

	c.Dispatch(schemas.TabEvent{Kind: schemas.TabCreated, Tab: schemas.TabSnapshot{ID: "tab-2", OpenerID: "tab-1"}})

	for _, active := range c.ActiveSessions() {
		for _, tabID := range active.TabIDs() {
			got, ok := c.SessionForTab(tabID)
			require.True(t, ok, "tab %s must map to its session", tabID)
			assert.Equal(t, active.ID, got.ID)
		}
	}
	_ = session
}

func TestSessionTimeout(t *testing.T) {
	cfg := testTabsCfg()
	cfg.DefaultTimeout = 20 * time.Millisecond

	controller := newFakeController(originTab())
	c := newTestCoordinator(t, controller, cfg)

	session, err := c.StartSession(context.Background(), "tab-1", schemas.PurposeGeneric)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ended, err := c.Wait(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TabStateFailed, ended.State)
	assert.Equal(t, "session timed out", ended.Reason)
}

// Terminal sessions leave the live index after the grace period but stay
// queryable for late observers.
func TestEvictionKeepsRetiredSessions(t *testing.T) {
	cfg := testTabsCfg()
	cfg.EvictionGrace = 10 * time.Millisecond

	controller := newFakeController(originTab())
	c := newTestCoordinator(t, controller, cfg)

	session, err := c.StartSession(context.Background(), "tab-1", schemas.PurposeGeneric)
	require.NoError(t, err)
	require.NoError(t, c.CompleteSession(session.ID, "done"))

	require.Eventually(t, func() bool {
		_, live := c.SessionForTab("tab-1")
		return !live
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		got, ok := c.Lookup(session.ID)
		return ok && got.State == schemas.TabStateCompleted
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, c.ActiveSessions())
}

func TestPendingOpenAdoption(t *testing.T) {
	controller := newFakeController(originTab())
	c := newTestCoordinator(t, controller, testTabsCfg())

	session, err := c.StartSession(context.Background(), "tab-1", schemas.PurposeGeneric)
	require.NoError(t, err)
	require.NoError(t, c.RegisterPendingOpen("tab-1"))

	// No opener attribution on the new tab; the hint claims it.
	c.Dispatch(schemas.TabEvent{Kind: schemas.TabCreated, Tab: schemas.TabSnapshot{ID: "tab-3", URL: "https://github.com/login/oauth/authorize"}})

	require.Eventually(t, func() bool {
		got, ok := c.SessionForTab("tab-3")
		return ok && got.ID == session.ID
	}, time.Second, 5*time.Millisecond)

	got, _ := c.Lookup(session.ID)
	assert.Equal(t, schemas.PurposeIdentity, got.Purpose)
	assert.Equal(t, "github", got.Provider)
}

func TestCancelClosesChildren(t *testing.T) {
	controller := newFakeController(originTab())
	c := newTestCoordinator(t, controller, testTabsCfg())

	session, err := c.StartSession(context.Background(), "tab-1", schemas.PurposeGeneric)
	require.NoError(t, err)
	c.Dispatch(schemas.TabEvent{Kind: schemas.TabCreated, Tab: schemas.TabSnapshot{ID: "tab-2", OpenerID: "tab-1"}})

	require.Eventually(t, func() bool {
		got, _ := c.Lookup(session.ID)
		return got != nil && len(got.Children) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.CancelSession(session.ID, "user aborted"))
	assert.Contains(t, controller.closedTabs(), "tab-2")

	// Terminal states reject further transitions.
	err = c.CompleteSession(session.ID, "too late")
	require.Error(t, err)
}

func TestClassifyFlowURL(t *testing.T) {
	assert.Equal(t, flowSuccess, classifyFlowURL("https://x.com/oauth/callback?code=1"))
	assert.Equal(t, flowSuccess, classifyFlowURL("https://x.com/cb#id_token=abc"))
	assert.Equal(t, flowFailure, classifyFlowURL("https://x.com/cb?error=access_denied"))
	// Failure patterns outrank success patterns.
	assert.Equal(t, flowFailure, classifyFlowURL("https://x.com/cb?error=access_denied&code=1"))
	assert.Equal(t, flowPending, classifyFlowURL("https://accounts.google.com/signin"))
}

func TestIdentityProviderFor(t *testing.T) {
	p, ok := identityProviderFor("https://accounts.google.com/o/oauth2/v2/auth")
	require.True(t, ok)
	assert.Equal(t, "google", p.Name)

	p, ok = identityProviderFor("https://dev-1234.okta.com/oauth2/v1/authorize")
	require.True(t, ok)
	assert.Equal(t, "okta", p.Name)

	_, ok = identityProviderFor("https://jobs.example.com/apply")
	assert.False(t, ok)
}

func TestHandleMessage(t *testing.T) {
	controller := newFakeController(originTab())
	c := newTestCoordinator(t, controller, testTabsCfg())
	ctx := context.Background()

	resp := c.HandleMessage(ctx, schemas.Message{
		Type:    schemas.MsgSessionStart,
		Payload: []byte(`{"originTabId":"tab-1","purpose":"generic"}`),
	})
	require.Empty(t, resp.Error)
	started := resp.Result.(*schemas.TabSession)

	resp = c.HandleMessage(ctx, schemas.Message{
		Type:    schemas.MsgSessionGet,
		Payload: []byte(`{"tabId":"tab-1"}`),
	})
	require.Empty(t, resp.Error)
	assert.Equal(t, started.ID, resp.Result.(*schemas.TabSession).ID)

	resp = c.HandleMessage(ctx, schemas.Message{
		Type:    schemas.MsgSessionComplete,
		Payload: []byte(fmt.Sprintf(`{"sessionId":%q,"reason":"done"}`, started.ID)),
	})
	assert.Empty(t, resp.Error)

	resp = c.HandleMessage(ctx, schemas.Message{Type: "bogus.type"})
	assert.NotEmpty(t, resp.Error)

	resp = c.HandleMessage(ctx, schemas.Message{
		Type:    schemas.MsgSessionGet,
		Payload: []byte(`{not json`),
	})
	assert.NotEmpty(t, resp.Error)
}
