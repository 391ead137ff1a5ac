// File: api/schemas/tabs.go
// Description: Tab lifecycle events and the multi-tab automation session with
// its bounded-lifetime state machine.
package schemas

import (
	"fmt"
	"time"
)

// TabEventKind enumerates the lifecycle events the host delivers.
type TabEventKind string

const (
	TabCreated   TabEventKind = "created"
	TabUpdated   TabEventKind = "updated"
	TabActivated TabEventKind = "activated"
	TabRemoved   TabEventKind = "removed"
)

// TabSnapshot is a point-in-time view of one browser tab. Tab identities are
// host target IDs (strings).
type TabSnapshot struct {
	ID       string `json:"id"`
	OpenerID string `json:"openerId,omitempty"`
	URL      string `json:"url,omitempty"`
	Title    string `json:"title,omitempty"`
	WindowID string `json:"windowId,omitempty"`
}

// TabEvent is one delivered lifecycle event.
type TabEvent struct {
	Kind TabEventKind `json:"kind"`
	Tab  TabSnapshot  `json:"tab"`
}

// SessionPurpose tags why a tab session exists. Identity flows get a shorter
// timeout budget than generic sessions.
type SessionPurpose string

const (
	PurposeGeneric  SessionPurpose = "generic"
	PurposeIdentity SessionPurpose = "identity"
)

// TabState is the session lifecycle state:
// active -> waiting -> completed|failed|cancelled, plus a timer-driven
// active/waiting -> failed on timeout.
type TabState string

const (
	TabStateActive    TabState = "active"
	TabStateWaiting   TabState = "waiting"
	TabStateCompleted TabState = "completed"
	TabStateFailed    TabState = "failed"
	TabStateCancelled TabState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s TabState) Terminal() bool {
	return s == TabStateCompleted || s == TabStateFailed || s == TabStateCancelled
}

// TabSession is one automation episode spanning possibly-multiple tabs.
// The origin tab is immutable for the session's lifetime; a tab id maps to at
// most one active session at a time.
type TabSession struct {
	ID       string         `json:"id"`
	Origin   TabSnapshot    `json:"origin"`
	Children []TabSnapshot  `json:"children,omitempty"`
	Purpose  SessionPurpose `json:"purpose"`
	State    TabState       `json:"state"`
	Reason   string         `json:"reason,omitempty"`
	// Provider names the identity provider when the purpose was upgraded.
	Provider string `json:"provider,omitempty"`

	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt,omitempty"`
	Timeout   time.Duration `json:"timeout"`

	AutoClose  bool `json:"autoClose"`
	AutoReturn bool `json:"autoReturn"`
}

// Transition moves the session state forward, rejecting transitions out of a
// terminal state.
func (s *TabSession) Transition(next TabState) error {
	if s.State.Terminal() {
		return fmt.Errorf("session %s: illegal transition %s -> %s", s.ID, s.State, next)
	}
	s.State = next
	return nil
}

// TabIDs returns the origin tab id plus all child tab ids.
func (s *TabSession) TabIDs() []string {
	ids := make([]string, 0, len(s.Children)+1)
	ids = append(ids, s.Origin.ID)
	for _, c := range s.Children {
		ids = append(ids, c.ID)
	}
	return ids
}

// Clone returns a deep copy safe to hand to observers.
func (s *TabSession) Clone() *TabSession {
	cp := *s
	cp.Children = append([]TabSnapshot(nil), s.Children...)
	return &cp
}
