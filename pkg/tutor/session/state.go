// Package session holds the shared mutable state for one student
// conversation. A State instance is owned by the conversation's event loop
// goroutine; all mutation happens there, so the type carries no locks and
// must not be shared across goroutines without external serialization.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Subject names the routing targets understand. DefaultAgent is the root
// identity used when no specialist has spoken yet.
const (
	SubjectMath         = "math"
	SubjectHistory      = "history"
	SubjectEnglish      = "english"
	SubjectOrchestrator = "orchestrator"

	DefaultAgent = SubjectOrchestrator
)

// State is shared across all specialist handoffs within a single student
// session. It is created when the conversation begins and flushed to the
// transcript store when the conversation ends.
type State struct {
	SessionID       string
	StudentIdentity string
	RoomName        string

	// CurrentSubject is the specialist presently routed to. Empty until the
	// first routing decision.
	CurrentSubject string

	// PreviousSubjects is append-only and never contains consecutive
	// duplicates; a subject is appended only when CurrentSubject actually
	// changes.
	PreviousSubjects []string

	TurnNumber int

	// SpeakingAgent is the specialist that most recently actually spoke.
	// It deliberately lags CurrentSubject: a transition announcement is
	// spoken by the outgoing specialist after CurrentSubject already points
	// at the incoming one. Only specialist activation writes this field.
	SpeakingAgent string

	// Escalated/EscalationReason are monotonic within a conversation:
	// re-escalating only updates the reason.
	Escalated        bool
	EscalationReason string

	// SkipNextUserTurns suppresses the synthetic user turns that echo back
	// through the conversation event stream when a specialist is seeded
	// with a pending question.
	SkipNextUserTurns int

	// LastUserInputAt is set when real student speech is transcribed and
	// cleared when the matching assistant reply is attributed. Zero means
	// unset.
	LastUserInputAt time.Time

	CreatedAt time.Time
}

// NewState creates the state for a brand-new conversation with a fresh
// session ID.
func NewState(studentIdentity, roomName string) *State {
	return &State{
		SessionID:       uuid.NewString(),
		StudentIdentity: studentIdentity,
		RoomName:        roomName,
		CreatedAt:       time.Now().UTC(),
	}
}

// AdvanceTurn increments and returns the turn number. Called exactly once
// per routing or escalation decision.
func (s *State) AdvanceTurn() int {
	s.TurnNumber++
	return s.TurnNumber
}

// RouteTo records a subject routing decision. The outgoing subject is
// appended to PreviousSubjects only when it differs from the target, so
// A->B->A never produces a consecutive duplicate.
func (s *State) RouteTo(subject string) {
	if s.CurrentSubject != "" && s.CurrentSubject != subject {
		s.PreviousSubjects = append(s.PreviousSubjects, s.CurrentSubject)
	}
	s.CurrentSubject = subject
}

// SeedPendingQuestion arms suppression of exactly one synthetic user turn.
// Called by the worker that resumes a conversation with a pending question;
// proactively answering that question echoes it back through the event
// stream as if the student had just said it.
func (s *State) SeedPendingQuestion() {
	s.SkipNextUserTurns = 1
}

// ConsumeUserTurnSkip reports whether the next user-role event should be
// suppressed, decrementing the counter by exactly one when it does. The
// counter never goes below zero.
func (s *State) ConsumeUserTurnSkip() bool {
	if s.SkipNextUserTurns <= 0 {
		return false
	}
	s.SkipNextUserTurns--
	return true
}

// MarkUserInput records the transcription time of real student speech for
// end-to-end latency measurement.
func (s *State) MarkUserInput(t time.Time) {
	s.LastUserInputAt = t
}

// TakeUserInputTime returns and clears the pending user-input timestamp.
func (s *State) TakeUserInputTime() (time.Time, bool) {
	if s.LastUserInputAt.IsZero() {
		return time.Time{}, false
	}
	t := s.LastUserInputAt
	s.LastUserInputAt = time.Time{}
	return t, true
}

// ToAuditMap returns a flat serializable snapshot for persistence.
func (s *State) ToAuditMap() map[string]any {
	prev := make([]string, len(s.PreviousSubjects))
	copy(prev, s.PreviousSubjects)
	return map[string]any{
		"session_id":        s.SessionID,
		"student_identity":  s.StudentIdentity,
		"room_name":         s.RoomName,
		"current_subject":   s.CurrentSubject,
		"previous_subjects": prev,
		"turn_number":       s.TurnNumber,
		"speaking_agent":    s.SpeakingAgent,
		"escalated":         s.Escalated,
		"escalation_reason": s.EscalationReason,
		"created_at":        s.CreatedAt.Format(time.RFC3339),
	}
}

// Report is the session summary written to the store when the conversation
// closes.
type Report struct {
	SessionID        string   `json:"session_id"`
	StudentIdentity  string   `json:"student_identity"`
	RoomName         string   `json:"room_name"`
	SubjectsCovered  []string `json:"subjects_covered"`
	TotalTurns       int      `json:"total_turns"`
	Escalated        bool     `json:"escalated"`
	EscalationReason string   `json:"escalation_reason,omitempty"`
}

// BuildReport snapshots the state into a close-of-session report.
// SubjectsCovered lists each visited subject once, in first-visit order.
func (s *State) BuildReport() Report {
	seen := make(map[string]struct{}, len(s.PreviousSubjects)+1)
	covered := make([]string, 0, len(s.PreviousSubjects)+1)
	add := func(subject string) {
		if subject == "" {
			return
		}
		if _, ok := seen[subject]; ok {
			return
		}
		seen[subject] = struct{}{}
		covered = append(covered, subject)
	}
	for _, subject := range s.PreviousSubjects {
		add(subject)
	}
	add(s.CurrentSubject)

	return Report{
		SessionID:        s.SessionID,
		StudentIdentity:  s.StudentIdentity,
		RoomName:         s.RoomName,
		SubjectsCovered:  covered,
		TotalTurns:       s.TurnNumber,
		Escalated:        s.Escalated,
		EscalationReason: s.EscalationReason,
	}
}
