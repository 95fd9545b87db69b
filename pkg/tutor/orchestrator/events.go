package orchestrator

import "time"

// Routing tool names the specialists call.
const (
	FuncRouteToMath         = "route_to_math"
	FuncRouteToHistory      = "route_to_history"
	FuncRouteToEnglish      = "route_to_english"
	FuncRouteToOrchestrator = "route_to_orchestrator"
	FuncEscalateToTeacher   = "escalate_to_teacher"
)

// Event is one item on the conversation event stream. Implementations are
// a closed set; the event loop switches on the concrete type and uses
// EventType only for logging.
type Event interface {
	EventType() string
}

// UserTranscriptEvent is a finalized transcription of student speech.
// Seeded pending questions echo back through this same event type, which
// is why the session state carries a suppression counter.
type UserTranscriptEvent struct {
	Text          string
	TranscribedAt time.Time
}

func (UserTranscriptEvent) EventType() string { return "user_transcript" }

// FunctionCallEvent is a routing or escalation tool call emitted by the
// active specialist's model.
type FunctionCallEvent struct {
	Name string
	// Argument is the question summary for routing calls and the reason
	// for escalation calls.
	Argument string
}

func (FunctionCallEvent) EventType() string { return "function_call" }

// AgentSpeechEvent is a finalized utterance from a voice-native
// specialist. Its audio has already been synthesized; the text arrives
// here for transcript persistence and post-hoc safety screening.
type AgentSpeechEvent struct {
	Text string
}

func (AgentSpeechEvent) EventType() string { return "agent_speech" }

// CloseRequestEvent ends the conversation.
type CloseRequestEvent struct {
	Reason string
}

func (CloseRequestEvent) EventType() string { return "close_request" }
