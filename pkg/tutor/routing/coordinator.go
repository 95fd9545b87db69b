// Package routing implements the handoff state machine: it decides which
// specialist is active, persists routing provenance, and coordinates the
// cross-process handoff to the voice-native specialist.
package routing

import (
	"context"
	"log/slog"

	"github.com/edulive-ai/tutorlive/pkg/tutor/agents"
	"github.com/edulive-ai/tutorlive/pkg/tutor/handoff"
	"github.com/edulive-ai/tutorlive/pkg/tutor/session"
)

// Worker names dispatched into rooms.
const (
	WorkerOrchestrator = "learning-orchestrator"
	WorkerEnglish      = "learning-english"
)

// EscalationTarget labels escalation rows in the routing audit trail.
const EscalationTarget = "teacher_escalation"

// EscalationFallbackText is spoken when the human-notification collaborator
// is unreachable. The student-facing behavior is a calm acknowledgement
// regardless of backend notification success.
const EscalationFallbackText = "I'd like to get your teacher involved to help with this. " +
	"I've sent a notification to your teacher. Please hold on for a moment."

// DecisionRecord is the immutable audit fact for one routing transition.
type DecisionRecord struct {
	SessionID       string
	TurnNumber      int
	FromAgent       string
	ToAgent         string
	QuestionSummary string
	PreviousSubject string
}

// AuditSink accepts routing decisions for asynchronous persistence.
// RecordRoutingDecision must not block the conversational turn and must
// never fail the caller.
type AuditSink interface {
	RecordRoutingDecision(rec DecisionRecord)
}

// Dispatcher requests that a named worker be dispatched into a room with
// an opaque metadata string. The metadata must be fully formed before the
// request is issued; there is no shared memory on the other side.
type Dispatcher interface {
	Dispatch(ctx context.Context, roomName, agentName, metadata string) error
}

// Escalator notifies a human teacher and returns the spoken confirmation.
type Escalator interface {
	Escalate(ctx context.Context, sessionID, roomName, reason string) (string, error)
}

// SessionCloser schedules the delayed graceful close of the session that
// a dispatched worker supersedes.
type SessionCloser interface {
	Schedule(reason string)
}

// Handoff is the outcome of a routing transition. Specialist is nil when
// the conversation continues in a separately dispatched worker process.
type Handoff struct {
	Specialist   *agents.Specialist
	Announcement string
}

// Dependencies configures a Coordinator.
type Dependencies struct {
	Roster     *agents.Roster
	Audit      AuditSink
	Dispatcher Dispatcher
	Escalator  Escalator
	Closer     SessionCloser
	Logger     *slog.Logger
}

// Coordinator applies routing transitions to a session's state. It never
// touches SpeakingAgent: the announcement it returns is still spoken by
// the outgoing specialist, and attribution flips only on the incoming
// specialist's activation.
type Coordinator struct {
	roster     *agents.Roster
	audit      AuditSink
	dispatcher Dispatcher
	escalator  Escalator
	closer     SessionCloser
	logger     *slog.Logger
}

func NewCoordinator(deps Dependencies) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Roster == nil {
		deps.Roster = agents.DefaultRoster()
	}
	return &Coordinator{
		roster:     deps.Roster,
		audit:      deps.Audit,
		dispatcher: deps.Dispatcher,
		escalator:  deps.Escalator,
		closer:     deps.Closer,
		logger:     deps.Logger,
	}
}

// RouteToMath hands off to the mathematics specialist within this process.
func (c *Coordinator) RouteToMath(ctx context.Context, from string, st *session.State, history []agents.Message, questionSummary string) (Handoff, error) {
	return c.routeInProcess(ctx, from, st, history, session.SubjectMath, questionSummary,
		"Let me connect you with our Mathematics tutor!")
}

// RouteToHistory hands off to the history specialist within this process.
func (c *Coordinator) RouteToHistory(ctx context.Context, from string, st *session.State, history []agents.Message, questionSummary string) (Handoff, error) {
	return c.routeInProcess(ctx, from, st, history, session.SubjectHistory, questionSummary,
		"Let me connect you with our History tutor!")
}

// RouteToOrchestrator hands back to the routing orchestrator, used by
// specialists when the student changes subject or says goodbye.
func (c *Coordinator) RouteToOrchestrator(ctx context.Context, from string, st *session.State, history []agents.Message, questionSummary string) (Handoff, error) {
	return c.routeInProcess(ctx, from, st, history, session.SubjectOrchestrator, questionSummary,
		"Let me pass you back to the main tutor who can help with that.")
}

func (c *Coordinator) routeInProcess(ctx context.Context, from string, st *session.State, history []agents.Message, target, questionSummary, announcement string) (Handoff, error) {
	previousSubject := st.CurrentSubject
	turn := st.AdvanceTurn()
	st.RouteTo(target)

	c.recordDecision(DecisionRecord{
		SessionID:       st.SessionID,
		TurnNumber:      turn,
		FromAgent:       from,
		ToAgent:         target,
		QuestionSummary: questionSummary,
		PreviousSubject: previousSubject,
	})

	sp, err := c.roster.New(target, history, questionSummary)
	if err != nil {
		return Handoff{}, err
	}

	c.logger.Info("routing to specialist",
		"session_id", st.SessionID, "from", from, "to", target, "turn", turn)
	return Handoff{Specialist: sp, Announcement: announcement}, nil
}

// RouteToEnglish dispatches the voice-native English worker into the room.
// The conversation continues in that separately dispatched process; this
// session is scheduled for a delayed graceful close so the announcement
// finishes being spoken first. If the dispatch fails, the handoff degrades
// to an in-process English specialist so the student is never left
// without a tutor.
func (c *Coordinator) RouteToEnglish(ctx context.Context, from string, st *session.State, history []agents.Message, questionSummary string) (Handoff, error) {
	previousSubject := st.CurrentSubject
	turn := st.AdvanceTurn()
	st.RouteTo(session.SubjectEnglish)

	c.recordDecision(DecisionRecord{
		SessionID:       st.SessionID,
		TurnNumber:      turn,
		FromAgent:       from,
		ToAgent:         session.SubjectEnglish,
		QuestionSummary: questionSummary,
		PreviousSubject: previousSubject,
	})

	meta := handoff.Metadata{SessionID: st.SessionID, Question: questionSummary}
	if err := c.dispatch(ctx, st.RoomName, WorkerEnglish, meta.Encode()); err != nil {
		c.logger.Error("english worker dispatch failed, falling back to in-process specialist",
			"session_id", st.SessionID, "room", st.RoomName, "error", err)
		sp, rosterErr := c.roster.New(session.SubjectEnglish, history, questionSummary)
		if rosterErr != nil {
			return Handoff{}, rosterErr
		}
		return Handoff{Specialist: sp, Announcement: "Let me connect you with our English tutor!"}, nil
	}

	c.logger.Info("dispatched english worker",
		"session_id", st.SessionID, "room", st.RoomName, "turn", turn)
	if c.closer != nil {
		c.closer.Schedule("superseded by " + WorkerEnglish)
	}
	return Handoff{Announcement: "Let me connect you with our English tutor right away!"}, nil
}

// RouteBackFromEnglish is the reverse handoff, invoked inside the
// voice-native worker: it dispatches the pipeline orchestrator back into
// the room and schedules this worker's own graceful close.
func (c *Coordinator) RouteBackFromEnglish(ctx context.Context, st *session.State, reason string) (Handoff, error) {
	previousSubject := st.CurrentSubject
	turn := st.AdvanceTurn()
	st.RouteTo(session.SubjectOrchestrator)

	c.recordDecision(DecisionRecord{
		SessionID:       st.SessionID,
		TurnNumber:      turn,
		FromAgent:       session.SubjectEnglish,
		ToAgent:         session.SubjectOrchestrator,
		QuestionSummary: reason,
		PreviousSubject: previousSubject,
	})

	meta := handoff.Metadata{ReturnFromEnglish: st.SessionID, Question: reason}
	if err := c.dispatch(ctx, st.RoomName, WorkerOrchestrator, meta.Encode()); err != nil {
		// The student keeps this session; do not silence it.
		c.logger.Error("orchestrator dispatch failed on return handoff",
			"session_id", st.SessionID, "room", st.RoomName, "error", err)
		return Handoff{Announcement: "Let me pass you back to the main tutor who can help with that."}, nil
	}

	if c.closer != nil {
		c.closer.Schedule("returned to " + WorkerOrchestrator)
	}
	return Handoff{Announcement: "Let me pass you back to the main tutor who can help with that."}, nil
}

// Escalate triggers a human handoff. Escalated/EscalationReason are
// monotonic: re-escalating only updates the reason. Escalate never fails;
// if the notification collaborator is unreachable the student still hears
// a calm confirmation.
func (c *Coordinator) Escalate(ctx context.Context, from string, st *session.State, reason string) string {
	st.Escalated = true
	st.EscalationReason = reason

	c.recordDecision(DecisionRecord{
		SessionID:       st.SessionID,
		TurnNumber:      st.AdvanceTurn(),
		FromAgent:       from,
		ToAgent:         EscalationTarget,
		QuestionSummary: reason,
		PreviousSubject: st.CurrentSubject,
	})

	c.logger.Warn("escalating to teacher",
		"session_id", st.SessionID, "from", from, "reason", truncate(reason, 100))

	if c.escalator == nil {
		return EscalationFallbackText
	}
	spoken, err := c.escalator.Escalate(ctx, st.SessionID, st.RoomName, reason)
	if err != nil || spoken == "" {
		c.logger.Error("teacher notification failed",
			"session_id", st.SessionID, "error", err)
		return EscalationFallbackText
	}
	return spoken
}

func (c *Coordinator) dispatch(ctx context.Context, roomName, agentName, metadata string) error {
	if c.dispatcher == nil {
		return errNoDispatcher
	}
	return c.dispatcher.Dispatch(ctx, roomName, agentName, metadata)
}

func (c *Coordinator) recordDecision(rec DecisionRecord) {
	if c.audit == nil {
		return
	}
	c.audit.RecordRoutingDecision(rec)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
