// Package room is the transport to the media room server: publishing
// transcript entries to room participants and dispatching named workers
// into rooms.
package room

import (
	"context"
	"encoding/json"

	"github.com/edulive-ai/tutorlive/pkg/tutor/transcript"
)

// TranscriptTopic labels transcript data frames so clients can subscribe
// to them independently of other room traffic.
const TranscriptTopic = "transcript"

// Publisher delivers transcript entries to everyone in the room.
type Publisher interface {
	PublishTranscript(ctx context.Context, roomName string, turn transcript.Turn) error
}

// Frame types on the room server websocket.
const (
	frameDataPublish   = "data.publish"
	frameAgentDispatch = "agent.dispatch"
)

// envelope is the wire form of one outbound room frame.
type envelope struct {
	Type     string          `json:"type"`
	Room     string          `json:"room"`
	Topic    string          `json:"topic,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Agent    string          `json:"agent,omitempty"`
	Metadata string          `json:"metadata,omitempty"`
}
