// Package agents defines the subject specialists and the boundary to the
// external language models that power them.
package agents

import (
	"context"
	"fmt"

	"github.com/edulive-ai/tutorlive/pkg/tutor/guardrail"
	"github.com/edulive-ai/tutorlive/pkg/tutor/session"
)

// Message is one prior conversation turn seeded into a specialist.
type Message struct {
	Role    string
	Content string
}

// Specialist is a subject-matter conversational role. The routing
// orchestrator is itself a specialist whose subject is routing.
type Specialist struct {
	Name         string
	Subject      string
	Instructions string
	Model        string
	Voice        string

	// PendingQuestion, when set, makes the specialist proactively answer
	// it on activation instead of waiting silently for input.
	PendingQuestion string

	// History is the full prior conversation carried across the handoff.
	History []Message
}

// Activate marks this specialist as the one actively producing output.
// This is the only place SpeakingAgent is written: it must run after the
// outgoing specialist's transition announcement has been attributed and
// before this specialist's first reply is attributed.
func (sp *Specialist) Activate(st *session.State) {
	st.SpeakingAgent = sp.Name
}

// ReplyRequest is one generation request to the external language model.
type ReplyRequest struct {
	Instructions string
	Model        string
	Messages     []Message
}

// Client streams a specialist reply from the external language model.
// The returned channel yields text deltas and is closed when the reply
// completes or ctx is canceled.
type Client interface {
	StreamReply(ctx context.Context, req ReplyRequest) (<-chan string, error)
}

// Reply builds the generation request for the specialist's next turn. A
// pending question is appended as the final user message, then cleared so
// it is answered exactly once.
func (sp *Specialist) Reply(ctx context.Context, client Client) (<-chan string, error) {
	messages := make([]Message, len(sp.History))
	copy(messages, sp.History)
	if sp.PendingQuestion != "" {
		messages = append(messages, Message{Role: session.RoleUser, Content: sp.PendingQuestion})
		sp.PendingQuestion = ""
	}
	stream, err := client.StreamReply(ctx, ReplyRequest{
		Instructions: sp.Instructions,
		Model:        sp.Model,
		Messages:     messages,
	})
	if err != nil {
		return nil, fmt.Errorf("specialist %s reply: %w", sp.Name, err)
	}
	return stream, nil
}

// GuardedOutput wraps any specialist's reply stream with the safety
// pipeline. Composition over a base class: a specialist is "guarded"
// because its output passes through this filter, not because of what it
// inherits from.
func GuardedOutput(ctx context.Context, p *guardrail.Pipeline, in <-chan string) <-chan string {
	out := make(chan string, 8)
	go p.ScreenStream(ctx, in, out)
	return out
}
