// File: internal/tabs/coordinator.go
// Description: Tracks auxiliary tabs spawned mid-flow and drives each session
// through its bounded-lifetime state machine. All session state is owned by a
// single run-loop goroutine fed by a command channel, the host tab-event
// stream, and a housekeeping ticker, so no locking discipline applies to the
// indexes.
package tabs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/applypilot/applypilot-cli/api/schemas"
	"github.com/applypilot/applypilot-cli/internal/config"
)

// ErrStopped is returned for calls made after the coordinator shut down.
var ErrStopped = errors.New("tabs: coordinator stopped")

// retiredTTL bounds how long a terminal session stays queryable after it was
// evicted from the live index.
const retiredTTL = 5 * time.Minute

// liveSession pairs the session data with its eviction bookkeeping.
type liveSession struct {
	data       *schemas.TabSession
	terminalAt time.Time
}

// Coordinator implements schemas.Coordinator. One instance serves the whole
// runtime.
type Coordinator struct {
	controller schemas.TabController
	notify     schemas.Notifier
	cfg        config.TabsConfig
	now        schemas.Clock
	log        *zap.Logger

	cmds   chan func()
	events chan schemas.TabEvent
	stopCh chan struct{}
	done   chan struct{}

	// Owned exclusively by the run loop.
	sessions    map[string]*liveSession
	byTab       map[string]string
	retired     map[string]retiredSession
	pendingOpen map[string]time.Time
	waiters     map[string][]chan *schemas.TabSession
}

type retiredSession struct {
	data      *schemas.TabSession
	evictedAt time.Time
}

var _ schemas.Coordinator = (*Coordinator)(nil)

// NewCoordinator wires a coordinator and starts its run loop. notifier may be
// nil.
func NewCoordinator(controller schemas.TabController, notifier schemas.Notifier, cfg config.TabsConfig, logger *zap.Logger) (*Coordinator, error) {
	if controller == nil {
		return nil, fmt.Errorf("coordinator requires a tab controller")
	}
	c := &Coordinator{
		controller:  controller,
		notify:      notifier,
		cfg:         cfg,
		now:         time.Now,
		log:         logger.Named("tabs"),
		cmds:        make(chan func()),
		events:      make(chan schemas.TabEvent, 64),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		sessions:    make(map[string]*liveSession),
		byTab:       make(map[string]string),
		retired:     make(map[string]retiredSession),
		pendingOpen: make(map[string]time.Time),
		waiters:     make(map[string][]chan *schemas.TabSession),
	}
	go c.run()
	return c, nil
}

// Dispatch feeds one host tab lifecycle event into the run loop. Events
// arriving after shutdown are dropped.
func (c *Coordinator) Dispatch(ev schemas.TabEvent) {
	select {
	case c.events <- ev:
	case <-c.stopCh:
	}
}

// Stop releases the run loop. Active sessions are cancelled.
func (c *Coordinator) Stop() {
	select {
	case <-c.stopCh:
		return
	default:
	}
	_ = c.call(func() {
		for _, live := range c.sessions {
			if !live.data.State.Terminal() {
				c.finish(live, schemas.TabStateCancelled, "coordinator shutting down")
			}
		}
	})
	close(c.stopCh)
	<-c.done
}

func (c *Coordinator) run() {
	defer close(c.done)
	interval := c.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case fn := <-c.cmds:
			fn()
		case ev := <-c.events:
			c.handleEvent(ev)
		case <-ticker.C:
			c.housekeep()
		}
	}
}

// call runs fn on the run loop and waits for it.
func (c *Coordinator) call(fn func()) error {
	doneCh := make(chan struct{})
	select {
	case c.cmds <- func() { fn(); close(doneCh) }:
	case <-c.stopCh:
		return ErrStopped
	}
	select {
	case <-doneCh:
		return nil
	case <-c.stopCh:
		return ErrStopped
	}
}

// -- Public API --

// StartSession begins tracking an origin tab. The origin snapshot is taken
// once and never mutated; a tab already tracked by another session is
// rejected.
func (c *Coordinator) StartSession(ctx context.Context, originTabID string, purpose schemas.SessionPurpose) (*schemas.TabSession, error) {
	origin, err := c.controller.Tab(ctx, originTabID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot origin tab %s: %w", originTabID, err)
	}
	if purpose == "" {
		purpose = schemas.PurposeGeneric
	}

	timeout := c.cfg.DefaultTimeout
	if purpose == schemas.PurposeIdentity {
		timeout = c.cfg.IdentityTimeout
	}

	var (
		result   *schemas.TabSession
		startErr error
	)
	err = c.call(func() {
		if sid, taken := c.byTab[originTabID]; taken {
			startErr = fmt.Errorf("tab %s is already tracked by session %s", originTabID, sid)
			return
		}
		session := &schemas.TabSession{
			ID:         uuid.NewString(),
			Origin:     *origin,
			Purpose:    purpose,
			State:      schemas.TabStateActive,
			StartedAt:  c.now(),
			Timeout:    timeout,
			AutoClose:  c.cfg.AutoClose,
			AutoReturn: c.cfg.AutoReturn,
		}
		c.sessions[session.ID] = &liveSession{data: session}
		c.byTab[originTabID] = session.ID
		c.log.Info("Tab session started.",
			zap.String("session_id", session.ID),
			zap.String("origin_tab", originTabID),
			zap.String("purpose", string(purpose)),
			zap.Duration("timeout", timeout))
		result = session.Clone()
	})
	if err != nil {
		return nil, err
	}
	return result, startErr
}

// CompleteSession ends a session successfully.
func (c *Coordinator) CompleteSession(sessionID, reason string) error {
	return c.end(sessionID, schemas.TabStateCompleted, reason)
}

// FailSession ends a session as failed.
func (c *Coordinator) FailSession(sessionID, reason string) error {
	return c.end(sessionID, schemas.TabStateFailed, reason)
}

// CancelSession cancels a session, best-effort closing its children.
func (c *Coordinator) CancelSession(sessionID, reason string) error {
	return c.end(sessionID, schemas.TabStateCancelled, reason)
}

func (c *Coordinator) end(sessionID string, state schemas.TabState, reason string) error {
	var endErr error
	err := c.call(func() {
		live, ok := c.sessions[sessionID]
		if !ok {
			endErr = fmt.Errorf("unknown session %s", sessionID)
			return
		}
		if live.data.State.Terminal() {
			endErr = fmt.Errorf("session %s already ended as %s", sessionID, live.data.State)
			return
		}
		c.finish(live, state, reason)
	})
	if err != nil {
		return err
	}
	return endErr
}

// SessionForTab resolves the session currently tracking a tab.
func (c *Coordinator) SessionForTab(tabID string) (*schemas.TabSession, bool) {
	var (
		session *schemas.TabSession
		found   bool
	)
	_ = c.call(func() {
		sid, ok := c.byTab[tabID]
		if !ok {
			return
		}
		if live, ok := c.sessions[sid]; ok {
			session, found = live.data.Clone(), true
		}
	})
	return session, found
}

// Lookup resolves a session by id, including recently retired ones.
func (c *Coordinator) Lookup(sessionID string) (*schemas.TabSession, bool) {
	var (
		session *schemas.TabSession
		found   bool
	)
	_ = c.call(func() {
		if live, ok := c.sessions[sessionID]; ok {
			session, found = live.data.Clone(), true
			return
		}
		if r, ok := c.retired[sessionID]; ok {
			session, found = r.data.Clone(), true
		}
	})
	return session, found
}

// Wait blocks until the session reaches a terminal state or ctx ends.
func (c *Coordinator) Wait(ctx context.Context, sessionID string) (*schemas.TabSession, error) {
	var (
		ready *schemas.TabSession
		ch    chan *schemas.TabSession
	)
	err := c.call(func() {
		if live, ok := c.sessions[sessionID]; ok {
			if live.data.State.Terminal() {
				ready = live.data.Clone()
				return
			}
			ch = make(chan *schemas.TabSession, 1)
			c.waiters[sessionID] = append(c.waiters[sessionID], ch)
			return
		}
		if r, ok := c.retired[sessionID]; ok {
			ready = r.data.Clone()
		}
	})
	if err != nil {
		return nil, err
	}
	if ready != nil {
		return ready, nil
	}
	if ch == nil {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}

	select {
	case session := <-ch:
		return session, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopCh:
		return nil, ErrStopped
	}
}

// ActiveSessions returns clones of every non-terminal session.
func (c *Coordinator) ActiveSessions() []*schemas.TabSession {
	var out []*schemas.TabSession
	_ = c.call(func() {
		for _, live := range c.sessions {
			if !live.data.State.Terminal() {
				out = append(out, live.data.Clone())
			}
		}
	})
	return out
}

// RegisterPendingOpen hints that the origin tab is about to open a child with
// no opener attribution. The first unattributed tab created inside the window
// is adopted.
func (c *Coordinator) RegisterPendingOpen(originTabID string) error {
	return c.call(func() {
		c.pendingOpen[originTabID] = c.now()
	})
}

// -- Run-loop internals --

func (c *Coordinator) handleEvent(ev schemas.TabEvent) {
	switch ev.Kind {
	case schemas.TabCreated:
		c.onCreated(ev.Tab)
	case schemas.TabUpdated:
		c.onUpdated(ev.Tab)
	case schemas.TabRemoved:
		c.onRemoved(ev.Tab)
	case schemas.TabActivated:
		// Focus changes carry no session semantics.
	}
}

// onCreated adopts new tabs into sessions, by opener attribution first, then
// by a live pending-open hint.
func (c *Coordinator) onCreated(tab schemas.TabSnapshot) {
	if _, tracked := c.byTab[tab.ID]; tracked {
		return
	}

	sid, ok := c.byTab[tab.OpenerID]
	if !ok {
		sid, ok = c.adoptByPendingOpen()
	}
	if !ok {
		return
	}
	live := c.sessions[sid]
	if live == nil || live.data.State.Terminal() {
		return
	}

	live.data.Children = append(live.data.Children, tab)
	c.byTab[tab.ID] = sid
	c.log.Info("Child tab adopted into session.",
		zap.String("session_id", sid),
		zap.String("tab_id", tab.ID),
		zap.String("url", tab.URL))

	if provider, isIdentity := identityProviderFor(tab.URL); isIdentity {
		c.upgradeToIdentity(live, provider)
	}
}

// adoptByPendingOpen consumes the freshest unexpired pending-open hint.
func (c *Coordinator) adoptByPendingOpen() (string, bool) {
	window := c.cfg.PendingOpenWindow
	if window <= 0 {
		window = 5 * time.Second
	}
	now := c.now()
	for originTab, hintedAt := range c.pendingOpen {
		if now.Sub(hintedAt) > window {
			delete(c.pendingOpen, originTab)
			continue
		}
		if sid, ok := c.byTab[originTab]; ok {
			delete(c.pendingOpen, originTab)
			return sid, true
		}
	}
	return "", false
}

// onUpdated refreshes the stored child snapshot and re-evaluates identity
// patterns against the new address.
func (c *Coordinator) onUpdated(tab schemas.TabSnapshot) {
	sid, ok := c.byTab[tab.ID]
	if !ok {
		return
	}
	live := c.sessions[sid]
	if live == nil || live.data.State.Terminal() {
		return
	}
	session := live.data

	for i := range session.Children {
		if session.Children[i].ID == tab.ID {
			session.Children[i].URL = tab.URL
			session.Children[i].Title = tab.Title
		}
	}

	if session.Purpose == schemas.PurposeGeneric {
		if provider, isIdentity := identityProviderFor(tab.URL); isIdentity {
			c.upgradeToIdentity(live, provider)
		}
	}
	if session.Purpose != schemas.PurposeIdentity {
		return
	}

	switch classifyFlowURL(tab.URL) {
	case flowSuccess:
		logIDToken(tab.URL, c.log)
		c.finish(live, schemas.TabStateCompleted, "identity flow returned successfully")
	case flowFailure:
		c.finish(live, schemas.TabStateFailed, "identity flow was denied or abandoned")
	}
}

// onRemoved handles tab closure: a closed origin always fails the session; the
// last identity child disappearing is implicit success.
func (c *Coordinator) onRemoved(tab schemas.TabSnapshot) {
	sid, ok := c.byTab[tab.ID]
	if !ok {
		return
	}
	live := c.sessions[sid]
	if live == nil {
		delete(c.byTab, tab.ID)
		return
	}
	session := live.data

	if session.Origin.ID == tab.ID {
		if !session.State.Terminal() {
			c.finish(live, schemas.TabStateFailed, "origin tab was closed")
		}
		return
	}

	delete(c.byTab, tab.ID)
	for i := range session.Children {
		if session.Children[i].ID == tab.ID {
			session.Children = append(session.Children[:i], session.Children[i+1:]...)
			break
		}
	}
	if session.State.Terminal() {
		return
	}
	if session.Purpose == schemas.PurposeIdentity && len(session.Children) == 0 {
		c.finish(live, schemas.TabStateCompleted, "identity popup closed")
	}
}

// upgradeToIdentity tags the session, shrinks its deadline to the identity
// budget, and fires the detection notification.
func (c *Coordinator) upgradeToIdentity(live *liveSession, provider Provider) {
	session := live.data
	if session.Purpose == schemas.PurposeIdentity {
		return
	}
	session.Purpose = schemas.PurposeIdentity
	session.Provider = provider.Name
	if c.cfg.IdentityTimeout > 0 && c.cfg.IdentityTimeout < session.Timeout {
		session.Timeout = c.cfg.IdentityTimeout
	}
	c.log.Info("Session upgraded to identity flow.",
		zap.String("session_id", session.ID),
		zap.String("provider", provider.Name))
	if c.notify != nil {
		c.notify.Notify(context.Background(), "Sign-in window detected",
			fmt.Sprintf("An identity flow with %s opened; complete it to continue the application.", provider.Name))
	}
}

// finish drives a session terminal and performs its terminal actions: child
// auto-close, origin refocus, waiter release, and index cleanup.
func (c *Coordinator) finish(live *liveSession, state schemas.TabState, reason string) {
	session := live.data
	if err := session.Transition(state); err != nil {
		c.log.Warn("Rejected illegal session transition.", zap.Error(err))
		return
	}
	session.Reason = reason
	session.EndedAt = c.now()
	live.terminalAt = session.EndedAt

	c.log.Info("Tab session ended.",
		zap.String("session_id", session.ID),
		zap.String("state", string(state)),
		zap.String("reason", reason))

	if session.AutoClose && (state == schemas.TabStateCompleted || state == schemas.TabStateCancelled) {
		c.closeChildren(session)
	}
	if session.AutoReturn && state == schemas.TabStateCompleted {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.controller.ActivateTab(ctx, session.Origin.ID); err != nil {
			c.log.Debug("Failed to refocus origin tab.",
				zap.String("tab_id", session.Origin.ID), zap.Error(err))
		}
		cancel()
	}

	// The live tab index only ever references non-terminal sessions.
	for _, tabID := range session.TabIDs() {
		if c.byTab[tabID] == session.ID {
			delete(c.byTab, tabID)
		}
	}
	delete(c.pendingOpen, session.Origin.ID)

	for _, ch := range c.waiters[session.ID] {
		ch <- session.Clone()
	}
	delete(c.waiters, session.ID)
}

// closeChildren best-effort closes every child tab. A tab that is already
// gone is a neutral signal, not an error.
func (c *Coordinator) closeChildren(session *schemas.TabSession) {
	for _, child := range session.Children {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.controller.CloseTab(ctx, child.ID); err != nil {
			c.log.Debug("Failed to close child tab; it may already be gone.",
				zap.String("tab_id", child.ID), zap.Error(err))
		}
		cancel()
	}
}

// housekeep enforces timeout budgets, evicts terminal sessions after the
// grace period, and drops long-retired sessions.
func (c *Coordinator) housekeep() {
	now := c.now()
	grace := c.cfg.EvictionGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}

	for id, live := range c.sessions {
		session := live.data
		if !session.State.Terminal() {
			if session.Timeout > 0 && now.Sub(session.StartedAt) >= session.Timeout {
				c.finish(live, schemas.TabStateFailed, "session timed out")
			}
			continue
		}
		if now.Sub(live.terminalAt) >= grace {
			c.retired[id] = retiredSession{data: session, evictedAt: now}
			delete(c.sessions, id)
		}
	}

	for id, r := range c.retired {
		if now.Sub(r.evictedAt) >= retiredTTL {
			delete(c.retired, id)
		}
	}

	window := c.cfg.PendingOpenWindow
	if window <= 0 {
		window = 5 * time.Second
	}
	for originTab, hintedAt := range c.pendingOpen {
		if now.Sub(hintedAt) > window {
			delete(c.pendingOpen, originTab)
		}
	}
}
