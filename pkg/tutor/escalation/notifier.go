// Package escalation handles human teacher handoffs: minting a
// time-limited room credential, recording the event, and producing the
// calm confirmation spoken to the student.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/edulive-ai/tutorlive/pkg/tutor/transcript"
)

// DefaultTokenTTL is how long a minted teacher credential stays valid.
const DefaultTokenTTL = 2 * time.Hour

// confirmationText is always returned to the student on escalation. The
// student hears the same calm acknowledgement whether or not the backend
// notification succeeded.
const confirmationText = "I'd like to get your teacher involved to help with this. " +
	"I've sent a notification to your teacher. Please hold on for a moment."

// EventRecorder persists escalation events without blocking the caller.
type EventRecorder interface {
	RecordEscalation(ev transcript.EscalationEvent)
}

// Dependencies configures a Notifier.
type Dependencies struct {
	// APIKey and APISecret sign the teacher's room-join credential.
	APIKey    string
	APISecret string

	TokenTTL time.Duration
	Recorder EventRecorder
	Logger   *slog.Logger
}

// Notifier implements routing.Escalator. It mints a room-admin token for
// the joining teacher and records the escalation for audit.
type Notifier struct {
	apiKey    string
	apiSecret string
	tokenTTL  time.Duration
	recorder  EventRecorder
	logger    *slog.Logger
}

func NewNotifier(deps Dependencies) *Notifier {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.TokenTTL <= 0 {
		deps.TokenTTL = DefaultTokenTTL
	}
	return &Notifier{
		apiKey:    deps.APIKey,
		apiSecret: deps.APISecret,
		tokenTTL:  deps.TokenTTL,
		recorder:  deps.Recorder,
		logger:    deps.Logger,
	}
}

// Escalate mints the teacher credential, records the event, and returns
// the confirmation to speak. The returned text is always non-empty.
func (n *Notifier) Escalate(ctx context.Context, sessionID, roomName, reason string) (string, error) {
	expiresAt := time.Now().Add(n.tokenTTL)
	token, err := n.mintTeacherToken(roomName, expiresAt)
	if err != nil {
		// The audit row still lands so a human can follow up manually.
		n.logger.Error("teacher token mint failed",
			"session_id", sessionID, "room", roomName, "error", err)
		token = ""
	}

	if n.recorder != nil {
		n.recorder.RecordEscalation(transcript.EscalationEvent{
			SessionID:    sessionID,
			RoomName:     roomName,
			Reason:       reason,
			TeacherToken: token,
			ExpiresAt:    expiresAt,
		})
	}

	n.logger.Warn("teacher escalation notified",
		"session_id", sessionID, "room", roomName, "token_expires", expiresAt)
	return confirmationText, nil
}

// mintTeacherToken signs a room-scoped join credential granting the
// teacher admin rights in the student's room.
func (n *Notifier) mintTeacherToken(roomName string, expiresAt time.Time) (string, error) {
	if n.apiSecret == "" {
		return "", fmt.Errorf("api secret not configured")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": n.apiKey,
		"sub": "teacher",
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": expiresAt.Unix(),
		"video": map[string]any{
			"room":      roomName,
			"roomJoin":  true,
			"roomAdmin": true,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(n.apiSecret))
	if err != nil {
		return "", fmt.Errorf("sign teacher token: %w", err)
	}
	return signed, nil
}
