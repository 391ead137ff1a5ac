// File: api/schemas/interfaces.go
// Description: Service contracts shared across the automation core. The core
// never talks to a real browser directly; it operates against the
// host-provided page/tab abstractions defined here.
package schemas

import (
	"context"
	"time"
)

// -- Host page/tab abstractions --

// PageScanner captures a full snapshot of the active page in one read.
type PageScanner interface {
	// Snapshot enumerates elements and candidate containers. It must be
	// idempotent and side-effect-free on the page.
	Snapshot(ctx context.Context) (*PageSnapshot, error)
}

// PageScripter executes script against the active page.
type PageScripter interface {
	// Evaluate runs the expression and unmarshals the result into out.
	// Pass nil to discard the result.
	Evaluate(ctx context.Context, expr string, out interface{}) error
	// URL returns the page's current address.
	URL(ctx context.Context) (string, error)
}

// Page is the full host page surface handed to the orchestrator.
type Page interface {
	PageScanner
	PageScripter
	// Navigate loads a URL and waits for the document to become ready.
	Navigate(ctx context.Context, url string) error
	// TargetID is the host tab identity of this page.
	TargetID() string
}

// TabController performs best-effort tab operations on behalf of the
// coordinator. Failures on already-closed tabs are neutral signals.
type TabController interface {
	CloseTab(ctx context.Context, tabID string) error
	ActivateTab(ctx context.Context, tabID string) error
	Tab(ctx context.Context, tabID string) (*TabSnapshot, error)
}

// -- Automation core contracts --

// DiscoveryEngine locates and semantically labels interactive elements.
type DiscoveryEngine interface {
	Discover(ctx context.Context) (*FormContext, error)
}

// Detector scans the page for signatures of known challenge systems.
type Detector interface {
	// Detect returns every family currently present on the page.
	Detect(ctx context.Context) ([]ChallengeInfo, error)
	// Primary returns the highest-priority present family, or nil.
	Primary(ctx context.Context) (*ChallengeInfo, error)
}

// Resolver drives a detected challenge to a terminal status, either through a
// paid solving backend or a bounded human hand-off wait.
type Resolver interface {
	Resolve(ctx context.Context, challenge *ChallengeInfo) (*ResolveOutcome, error)
}

// Coordinator tracks auxiliary tabs spawned mid-flow and drives each session
// through its bounded-lifetime state machine.
type Coordinator interface {
	StartSession(ctx context.Context, originTabID string, purpose SessionPurpose) (*TabSession, error)
	CompleteSession(sessionID, reason string) error
	FailSession(sessionID, reason string) error
	CancelSession(sessionID, reason string) error
	// SessionForTab resolves the session tracking a tab id, if any.
	SessionForTab(tabID string) (*TabSession, bool)
	// Lookup resolves a session by its own id, including recently retired
	// sessions kept for late observers.
	Lookup(sessionID string) (*TabSession, bool)
	// Wait blocks until the session reaches a terminal state or ctx ends.
	Wait(ctx context.Context, sessionID string) (*TabSession, error)
	ActiveSessions() []*TabSession
}

// Filler is the external collaborator that enters values into a discovered
// form. Profile management and answer generation live behind it.
type Filler interface {
	Fill(ctx context.Context, page PageScripter, form *FormContext) (FillReport, error)
}

// Notifier surfaces best-effort, non-blocking notifications.
type Notifier interface {
	Notify(ctx context.Context, title, body string)
}

// SessionStore persists per-domain challenge sessions. Implementations must
// never return an expired session.
type SessionStore interface {
	// Get returns the unexpired session for a domain, or nil.
	Get(ctx context.Context, domain string) (*ChallengeSession, error)
	Put(ctx context.Context, session ChallengeSession) error
	// PruneExpired removes expired rows and reports how many were dropped.
	PruneExpired(ctx context.Context) (int, error)
}

// Clock lets state machines take time as an input in tests.
type Clock func() time.Time
