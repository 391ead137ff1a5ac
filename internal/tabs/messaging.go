// File: internal/tabs/messaging.go
// Description: The request/response dispatcher for the fixed message-type
// surface. Payloads are decoded per type; every failure comes back as an
// error-shaped response, never a Go error.
package tabs

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/applypilot/applypilot-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HandleMessage services one request against the coordinator.
func (c *Coordinator) HandleMessage(ctx context.Context, msg schemas.Message) schemas.Response {
	switch msg.Type {
	case schemas.MsgSessionStart:
		var p schemas.SessionStartPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return schemas.Fail(fmt.Sprintf("bad %s payload: %v", msg.Type, err))
		}
		session, err := c.StartSession(ctx, p.OriginTabID, p.Purpose)
		if err != nil {
			return schemas.Fail(err.Error())
		}
		return schemas.OK(session)

	case schemas.MsgSessionComplete:
		var p schemas.SessionEndPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return schemas.Fail(fmt.Sprintf("bad %s payload: %v", msg.Type, err))
		}
		if err := c.CompleteSession(p.SessionID, p.Reason); err != nil {
			return schemas.Fail(err.Error())
		}
		return schemas.OK(nil)

	case schemas.MsgSessionFail:
		var p schemas.SessionEndPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return schemas.Fail(fmt.Sprintf("bad %s payload: %v", msg.Type, err))
		}
		if err := c.FailSession(p.SessionID, p.Reason); err != nil {
			return schemas.Fail(err.Error())
		}
		return schemas.OK(nil)

	case schemas.MsgSessionGet:
		var p schemas.SessionGetPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return schemas.Fail(fmt.Sprintf("bad %s payload: %v", msg.Type, err))
		}
		session, ok := c.SessionForTab(p.TabID)
		if !ok {
			return schemas.Fail(fmt.Sprintf("no session tracks tab %s", p.TabID))
		}
		return schemas.OK(session)

	case schemas.MsgTabPendingOpen:
		var p schemas.PendingOpenPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return schemas.Fail(fmt.Sprintf("bad %s payload: %v", msg.Type, err))
		}
		if err := c.RegisterPendingOpen(p.OriginTabID); err != nil {
			return schemas.Fail(err.Error())
		}
		return schemas.OK(nil)

	case schemas.MsgOAuthHandle:
		var p schemas.OAuthHandlePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return schemas.Fail(fmt.Sprintf("bad %s payload: %v", msg.Type, err))
		}
		// Full OAuth handling is an identity session rooted at the tab.
		session, err := c.StartSession(ctx, p.TabID, schemas.PurposeIdentity)
		if err != nil {
			return schemas.Fail(err.Error())
		}
		return schemas.OK(session)

	default:
		return schemas.Fail(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}
