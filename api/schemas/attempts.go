// File: api/schemas/attempts.go
package schemas

import "time"

// AttemptStatus is the single pass/fail/partial outcome of one automated
// application attempt.
type AttemptStatus string

const (
	AttemptCompleted AttemptStatus = "completed"
	AttemptPartial   AttemptStatus = "partial"
	AttemptFailed    AttemptStatus = "failed"
)

// AttemptOutcome is the orchestrator's result for one job application attempt.
// Exhausted timeouts and component failures surface here, never as an
// unhandled fault.
type AttemptOutcome struct {
	ID        string        `json:"id"`
	TargetURL string        `json:"targetUrl"`
	Status    AttemptStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`

	FieldsDiscovered int `json:"fieldsDiscovered"`
	FieldsFilled     int `json:"fieldsFilled"`

	Challenges []*ResolveOutcome `json:"challenges,omitempty"`
	Sessions   []*TabSession     `json:"sessions,omitempty"`

	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}
