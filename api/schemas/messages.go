// File: api/schemas/messages.go
// Description: The extension-internal request/response messaging surface.
// Each request carries a payload keyed to its fixed type string; each response
// carries either a result payload or an error string.
package schemas

import "encoding/json"

// Fixed message type strings understood by the coordinator dispatcher.
const (
	MsgSessionStart    = "session.start"
	MsgSessionComplete = "session.complete"
	MsgSessionFail     = "session.fail"
	MsgSessionGet      = "session.get"
	MsgTabPendingOpen  = "tab.pendingOpen"
	MsgOAuthHandle     = "oauth.handle"
)

// Message is one request on the messaging surface.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response carries either a result payload or an error shape, never both.
type Response struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// OK wraps a result payload.
func OK(result interface{}) Response { return Response{Result: result} }

// Fail wraps an error string.
func Fail(msg string) Response { return Response{Error: msg} }

// -- Typed payloads --

// SessionStartPayload starts a session on an origin tab.
type SessionStartPayload struct {
	OriginTabID string         `json:"originTabId"`
	Purpose     SessionPurpose `json:"purpose,omitempty"`
}

// SessionEndPayload completes, fails, or cancels a session.
type SessionEndPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// SessionGetPayload fetches the session tracking a tab.
type SessionGetPayload struct {
	TabID string `json:"tabId"`
}

// PendingOpenPayload hints that a tab is about to open a child.
type PendingOpenPayload struct {
	OriginTabID string `json:"originTabId"`
}

// OAuthHandlePayload requests full OAuth-flow handling for a tab.
type OAuthHandlePayload struct {
	TabID string `json:"tabId"`
}
