package room

import "time"

// Inbound frame types from the room server.
const (
	FrameJobAssign      = "job.assign"
	FrameUserTranscript = "user.transcript"
	FrameFunctionCall   = "function.call"
	FrameAgentSpeech    = "agent.speech"
	FrameRoomClosed     = "room.closed"
)

// InboundFrame is one decoded frame from the room server. Fields are
// populated according to Type; unknown types are forwarded so callers can
// log them.
type InboundFrame struct {
	Type string `json:"type"`
	Room string `json:"room"`

	// job.assign
	Student  string `json:"student,omitempty"`
	Metadata string `json:"metadata,omitempty"`

	// user.transcript, agent.speech
	Text string    `json:"text,omitempty"`
	At   time.Time `json:"at,omitzero"`

	// function.call
	Name     string `json:"name,omitempty"`
	Argument string `json:"argument,omitempty"`
}
