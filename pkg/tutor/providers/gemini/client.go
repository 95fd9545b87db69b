// Package gemini backs the text specialists with the Gemini API: streamed
// reply generation and the guardrail's age-appropriate rewriter.
package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/edulive-ai/tutorlive/pkg/tutor/agents"
	"github.com/edulive-ai/tutorlive/pkg/tutor/session"
)

// Client streams specialist replies from the Gemini API.
type Client struct {
	client *genai.Client
	logger *slog.Logger
}

// NewClient connects to the Gemini API with the given key.
func NewClient(ctx context.Context, apiKey string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Client{client: gc, logger: logger}, nil
}

// StreamReply implements agents.Client. Text deltas are delivered on the
// returned channel in generation order; the channel closes when the model
// finishes or the stream fails. A mid-stream failure is logged and ends
// the reply early rather than aborting the session.
func (c *Client) StreamReply(ctx context.Context, req agents.ReplyRequest) (<-chan string, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == session.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("empty reply request")
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.Instructions, genai.RoleUser),
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for resp, err := range c.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
			if err != nil {
				c.logger.Error("gemini stream failed", "model", req.Model, "error", err)
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			select {
			case out <- text:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// rewriteInstructions prompt the model to produce a child-safe rephrasing
// of flagged tutoring content.
const rewriteInstructions = "You are a content safety assistant for an educational " +
	"platform serving students. Rewrite the given text to be appropriate for " +
	"children while preserving any educational value. Keep the rewrite short, " +
	"warm, and encouraging. Respond with only the rewritten text."

// Rewriter implements guardrail.Rewriter on the Gemini API.
type Rewriter struct {
	client *genai.Client
	model  string
}

// NewRewriter builds a Rewriter sharing the Client's connection.
func NewRewriter(c *Client, model string) *Rewriter {
	return &Rewriter{client: c.client, model: model}
}

func (r *Rewriter) Rewrite(ctx context.Context, text string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(rewriteInstructions, genai.RoleUser),
	}
	res, err := r.client.Models.GenerateContent(ctx, r.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini rewrite: %w", err)
	}
	out := res.Text()
	if out == "" {
		return "", fmt.Errorf("gemini rewrite returned empty text")
	}
	return out, nil
}
