// Package transcript persists conversational provenance: session records,
// transcript turns, routing decisions, guardrail events, and escalation
// events. All writes are best-effort; duplicates on retry are acceptable.
package transcript

import (
	"context"
	"time"

	"github.com/edulive-ai/tutorlive/pkg/tutor/guardrail"
	"github.com/edulive-ai/tutorlive/pkg/tutor/routing"
	"github.com/edulive-ai/tutorlive/pkg/tutor/session"
)

// Turn is one published transcript entry.
type Turn struct {
	SessionID  string `json:"session_id"`
	TurnNumber int    `json:"turn"`
	Speaker    string `json:"speaker"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	Subject    string `json:"subject,omitempty"`
}

// EscalationEvent records a human handoff, including the time-limited
// credential minted for the joining teacher.
type EscalationEvent struct {
	SessionID    string
	RoomName     string
	Reason       string
	TeacherToken string
	ExpiresAt    time.Time
}

// Store is the audit/persistence collaborator. Implementations must
// tolerate duplicate writes; idempotency is not required.
type Store interface {
	CreateSession(ctx context.Context, sessionID, roomName, studentIdentity string) error
	CloseSession(ctx context.Context, sessionID string, report session.Report) error
	SaveTurn(ctx context.Context, turn Turn) error
	SaveRoutingDecision(ctx context.Context, rec routing.DecisionRecord) error
	SaveGuardrailEvent(ctx context.Context, ev guardrail.Event) error
	SaveEscalationEvent(ctx context.Context, ev EscalationEvent) error
}
