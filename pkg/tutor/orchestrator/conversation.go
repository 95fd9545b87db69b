// Package orchestrator runs the per-session conversation event loop. It
// owns the session state, feeds student turns to the active specialist,
// applies routing decisions, and publishes every turn to the room and the
// transcript store.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/edulive-ai/tutorlive/pkg/tutor/agents"
	"github.com/edulive-ai/tutorlive/pkg/tutor/guardrail"
	"github.com/edulive-ai/tutorlive/pkg/tutor/routing"
	"github.com/edulive-ai/tutorlive/pkg/tutor/session"
	"github.com/edulive-ai/tutorlive/pkg/tutor/transcript"
)

// Router applies routing transitions. *routing.Coordinator satisfies it.
type Router interface {
	RouteToMath(ctx context.Context, from string, st *session.State, history []agents.Message, questionSummary string) (routing.Handoff, error)
	RouteToHistory(ctx context.Context, from string, st *session.State, history []agents.Message, questionSummary string) (routing.Handoff, error)
	RouteToOrchestrator(ctx context.Context, from string, st *session.State, history []agents.Message, questionSummary string) (routing.Handoff, error)
	RouteToEnglish(ctx context.Context, from string, st *session.State, history []agents.Message, questionSummary string) (routing.Handoff, error)
	RouteBackFromEnglish(ctx context.Context, st *session.State, reason string) (routing.Handoff, error)
	Escalate(ctx context.Context, from string, st *session.State, reason string) string
}

// Publisher delivers transcript turns to the room participants.
type Publisher interface {
	PublishTranscript(ctx context.Context, roomName string, turn transcript.Turn) error
}

// TurnSink persists transcript turns without blocking the event loop.
type TurnSink interface {
	RecordTurn(turn transcript.Turn)
}

// SessionStore is the subset of the transcript store the loop needs for
// session lifecycle rows.
type SessionStore interface {
	CreateSession(ctx context.Context, sessionID, roomName, studentIdentity string) error
	CloseSession(ctx context.Context, sessionID string, report session.Report) error
}

// Voice synthesizes one safe sentence of specialist output. Nil disables
// speech and the conversation is transcript-only.
type Voice interface {
	Speak(ctx context.Context, text string) error
}

// Dependencies configures a Conversation.
type Dependencies struct {
	State      *session.State
	Specialist *agents.Specialist

	Client    agents.Client
	Router    Router
	Publisher Publisher
	Turns     TurnSink
	Sessions  SessionStore
	Voice     Voice

	// Moderator, Rewriter, and Audit build the per-specialist guardrail
	// pipeline. The pipeline is rebuilt on every activation so events carry
	// the name of the specialist that actually produced the text.
	Moderator guardrail.Moderator
	Rewriter  guardrail.Rewriter
	Audit     guardrail.Recorder

	// PostHocOnly marks a voice-native specialist whose output cannot be
	// intercepted; screening degrades to audit-only checks on
	// AgentSpeechEvent instead of in-line rewriting.
	PostHocOnly bool

	Logger *slog.Logger
}

// Conversation is the single-goroutine event loop for one student session.
// All session state mutation happens inside Run.
type Conversation struct {
	st       *session.State
	active   *agents.Specialist
	pipeline *guardrail.Pipeline
	history  []agents.Message

	client      agents.Client
	router      Router
	publisher   Publisher
	turns       TurnSink
	sessions    SessionStore
	voice       Voice
	moderator   guardrail.Moderator
	rewriter    guardrail.Rewriter
	audit       guardrail.Recorder
	postHocOnly bool
	logger      *slog.Logger
}

func NewConversation(deps Dependencies) *Conversation {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	c := &Conversation{
		st:          deps.State,
		client:      deps.Client,
		router:      deps.Router,
		publisher:   deps.Publisher,
		turns:       deps.Turns,
		sessions:    deps.Sessions,
		voice:       deps.Voice,
		moderator:   deps.Moderator,
		rewriter:    deps.Rewriter,
		audit:       deps.Audit,
		postHocOnly: deps.PostHocOnly,
		logger:      deps.Logger,
	}
	if deps.Specialist != nil {
		c.activate(deps.Specialist)
		c.history = append(c.history, deps.Specialist.History...)
	}
	return c
}

// Run processes events until the stream closes, a close is requested, or
// ctx is canceled. The session row is created on entry and the close-of-
// session report is written on exit.
func (c *Conversation) Run(ctx context.Context, events <-chan Event) {
	if c.sessions != nil {
		if err := c.sessions.CreateSession(ctx, c.st.SessionID, c.st.RoomName, c.st.StudentIdentity); err != nil {
			c.logger.Error("create session row failed",
				"session_id", c.st.SessionID, "error", err)
		}
	}
	defer c.closeSession()

	// The proactive first reply: a specialist seeded with a pending
	// question answers it on activation instead of waiting for input.
	if c.active != nil && c.active.PendingQuestion != "" {
		c.reply(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case UserTranscriptEvent:
				c.handleUserTranscript(ctx, e)
			case FunctionCallEvent:
				c.handleFunctionCall(ctx, e)
			case AgentSpeechEvent:
				c.handleAgentSpeech(ctx, e)
			case CloseRequestEvent:
				c.logger.Info("conversation close requested",
					"session_id", c.st.SessionID, "reason", e.Reason)
				return
			default:
				c.logger.Warn("unhandled conversation event",
					"session_id", c.st.SessionID, "type", ev.EventType())
			}
		}
	}
}

func (c *Conversation) handleUserTranscript(ctx context.Context, ev UserTranscriptEvent) {
	if c.st.ConsumeUserTurnSkip() {
		c.logger.Debug("suppressed synthetic user turn",
			"session_id", c.st.SessionID, "text", truncate(ev.Text, 60))
		return
	}
	if !ev.TranscribedAt.IsZero() {
		c.st.MarkUserInput(ev.TranscribedAt)
	}

	c.recordTurn(ctx, session.RoleUser, ev.Text)
	c.history = append(c.history, agents.Message{Role: session.RoleUser, Content: ev.Text})

	if c.postHocOnly {
		// The voice-native specialist generates its own reply; its speech
		// arrives later as an AgentSpeechEvent.
		return
	}
	c.reply(ctx)
}

// reply streams the active specialist's next turn through the guardrail,
// speaking each safe sentence as it clears and attributing the full text
// as one assistant turn.
func (c *Conversation) reply(ctx context.Context) {
	if c.active == nil || c.client == nil {
		return
	}
	c.active.History = c.history

	stream, err := c.active.Reply(ctx, c.client)
	if err != nil {
		c.logger.Error("specialist reply failed",
			"session_id", c.st.SessionID, "agent", c.active.Name, "error", err)
		return
	}
	guarded := agents.GuardedOutput(ctx, c.pipeline, stream)

	var full strings.Builder
	first := true
	for sentence := range guarded {
		if first {
			first = false
			if t, ok := c.st.TakeUserInputTime(); ok {
				c.logger.Info("first sentence latency",
					"session_id", c.st.SessionID, "agent", c.active.Name,
					"latency", time.Since(t))
			}
		}
		if full.Len() > 0 {
			full.WriteString(" ")
		}
		full.WriteString(strings.TrimSpace(sentence))
		c.speak(ctx, sentence)
	}

	text := full.String()
	if text == "" {
		return
	}
	c.recordTurn(ctx, session.RoleAssistant, text)
	c.history = append(c.history, agents.Message{Role: session.RoleAssistant, Content: text})
}

func (c *Conversation) handleFunctionCall(ctx context.Context, ev FunctionCallEvent) {
	from := session.ResolveSpeaker(c.st, session.RoleAssistant)

	var (
		h   routing.Handoff
		err error
	)
	switch ev.Name {
	case FuncRouteToMath:
		h, err = c.router.RouteToMath(ctx, from, c.st, c.history, ev.Argument)
	case FuncRouteToHistory:
		h, err = c.router.RouteToHistory(ctx, from, c.st, c.history, ev.Argument)
	case FuncRouteToOrchestrator:
		if c.postHocOnly {
			// The voice-native specialist runs in its own process; going
			// back means dispatching the orchestrator worker into the room,
			// not swapping a specialist in here.
			h, err = c.router.RouteBackFromEnglish(ctx, c.st, ev.Argument)
		} else {
			h, err = c.router.RouteToOrchestrator(ctx, from, c.st, c.history, ev.Argument)
		}
	case FuncRouteToEnglish:
		h, err = c.router.RouteToEnglish(ctx, from, c.st, c.history, ev.Argument)
	case FuncEscalateToTeacher:
		spoken := c.router.Escalate(ctx, from, c.st, ev.Argument)
		c.speak(ctx, spoken)
		c.recordTurn(ctx, session.RoleAssistant, spoken)
		c.history = append(c.history, agents.Message{Role: session.RoleAssistant, Content: spoken})
		return
	default:
		c.logger.Warn("unknown function call",
			"session_id", c.st.SessionID, "name", ev.Name)
		return
	}
	if err != nil {
		c.logger.Error("routing failed",
			"session_id", c.st.SessionID, "call", ev.Name, "error", err)
		return
	}

	// The announcement is spoken and attributed before activation, so it
	// belongs to the outgoing specialist.
	if h.Announcement != "" {
		c.speak(ctx, h.Announcement)
		c.recordTurn(ctx, session.RoleAssistant, h.Announcement)
		c.history = append(c.history, agents.Message{Role: session.RoleAssistant, Content: h.Announcement})
	}

	if h.Specialist == nil {
		// The conversation continues in a separately dispatched worker.
		return
	}
	c.activate(h.Specialist)
	if h.Specialist.PendingQuestion != "" {
		c.reply(ctx)
	}
}

// handleAgentSpeech persists an already-spoken voice-native utterance and
// runs the post-hoc safety check on it.
func (c *Conversation) handleAgentSpeech(ctx context.Context, ev AgentSpeechEvent) {
	c.recordTurn(ctx, session.RoleAssistant, ev.Text)
	c.history = append(c.history, agents.Message{Role: session.RoleAssistant, Content: ev.Text})
	if c.pipeline != nil {
		c.pipeline.AuditCheck(ctx, ev.Text)
	}
}

// activate flips attribution to the incoming specialist and rebuilds the
// guardrail pipeline under its name.
func (c *Conversation) activate(sp *agents.Specialist) {
	c.active = sp
	sp.Activate(c.st)
	c.pipeline = guardrail.NewPipeline(guardrail.Dependencies{
		Moderator: c.moderator,
		Rewriter:  c.rewriter,
		Audit:     c.audit,
		Logger:    c.logger,
		SessionID: c.st.SessionID,
		AgentName: sp.Name,
	})
	c.logger.Info("specialist activated",
		"session_id", c.st.SessionID, "agent", sp.Name, "subject", sp.Subject)
}

// recordTurn publishes the turn to the room and submits it for
// persistence. The turn number is the current routing epoch; only routing
// and escalation decisions advance it, so every utterance between two
// decisions carries the same number.
func (c *Conversation) recordTurn(ctx context.Context, role, content string) {
	turn := transcript.Turn{
		SessionID:  c.st.SessionID,
		TurnNumber: c.st.TurnNumber,
		Speaker:    session.ResolveSpeaker(c.st, role),
		Role:       role,
		Content:    content,
		Subject:    c.st.CurrentSubject,
	}
	if c.publisher != nil {
		if err := c.publisher.PublishTranscript(ctx, c.st.RoomName, turn); err != nil {
			c.logger.Error("transcript publish failed",
				"session_id", c.st.SessionID, "turn", turn.TurnNumber, "error", err)
		}
	}
	if c.turns != nil {
		c.turns.RecordTurn(turn)
	}
}

func (c *Conversation) speak(ctx context.Context, text string) {
	if c.voice == nil {
		return
	}
	if err := c.voice.Speak(ctx, text); err != nil {
		c.logger.Error("speech synthesis failed",
			"session_id", c.st.SessionID, "error", err)
	}
}

// closeSession writes the end-of-session report with a short independent
// deadline so shutdown is never hostage to a slow database.
func (c *Conversation) closeSession() {
	report := c.st.BuildReport()
	c.logger.Info("conversation ended",
		"session_id", c.st.SessionID,
		"turns", report.TotalTurns,
		"subjects", report.SubjectsCovered,
		"escalated", report.Escalated)
	if c.sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.sessions.CloseSession(ctx, c.st.SessionID, report); err != nil {
		c.logger.Error("close session row failed",
			"session_id", c.st.SessionID, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
