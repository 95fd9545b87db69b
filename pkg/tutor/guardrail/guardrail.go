// Package guardrail screens specialist-generated text before it is
// vocalized. Streamed deltas are buffered into complete sentences, each
// sentence is moderated, and flagged sentences are replaced with an
// age-appropriate rewrite before they reach speech synthesis.
package guardrail

import (
	"context"
	"log/slog"
	"strings"
)

// sentenceEndings are the terminal characters that complete a buffered
// sentence. Screening fires per complete thought, not per token.
const sentenceEndings = ".!?:;"

// FallbackText is spoken when a flagged sentence cannot be rewritten.
// Flagged content never passes through, even when the rewriter is down.
const FallbackText = "I'm here to help you learn. Let me rephrase that in a better way."

// Actions recorded in guardrail audit events. Events are written for
// flagged content only; clean sentences pass through unrecorded.
const (
	ActionRewrite   = "rewrite"
	ActionFallback  = "fallback"
	ActionAuditOnly = "audit_only"
)

// CheckResult is the outcome of one moderation call.
type CheckResult struct {
	Flagged      bool
	Categories   []string
	HighestScore float64
}

// Moderator classifies text. Implementations must tolerate empty strings
// and multi-kilobyte inputs.
type Moderator interface {
	Check(ctx context.Context, text string) (CheckResult, error)
}

// Rewriter produces an age-appropriate replacement for flagged text.
type Rewriter interface {
	Rewrite(ctx context.Context, text string) (string, error)
}

// Event is the audit fact for one screening decision.
type Event struct {
	SessionID       string
	AgentName       string
	OriginalText    string
	RewrittenText   string
	Categories      []string
	ModerationScore float64
	ActionTaken     string
}

// Recorder accepts guardrail events for asynchronous persistence. Record
// must not block and must never fail the caller.
type Recorder interface {
	Record(ev Event)
}

// Dependencies configures a Pipeline.
type Dependencies struct {
	Moderator Moderator
	Rewriter  Rewriter
	Audit     Recorder
	Logger    *slog.Logger

	// SessionID and AgentName label audit events.
	SessionID string
	AgentName string
}

// Pipeline is the per-specialist screening pipeline. It is safe for a
// single stream at a time; each ScreenStream call starts fresh.
type Pipeline struct {
	moderator Moderator
	rewriter  Rewriter
	audit     Recorder
	logger    *slog.Logger
	sessionID string
	agentName string
}

func NewPipeline(deps Dependencies) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pipeline{
		moderator: deps.Moderator,
		rewriter:  deps.Rewriter,
		audit:     deps.Audit,
		logger:    deps.Logger,
		sessionID: deps.SessionID,
		agentName: deps.AgentName,
	}
}

// ScreenStream reads text deltas from in, buffers them into complete
// sentences, and writes the safe form of each sentence to out in arrival
// order. When in closes, any non-whitespace remainder is flushed through a
// final screening call so nothing is silently dropped. out is closed when
// the stream ends or ctx is canceled.
//
// Sentences are screened strictly one at a time: downstream speech
// synthesis must receive text in speaking order.
func (p *Pipeline) ScreenStream(ctx context.Context, in <-chan string, out chan<- string) {
	defer close(out)

	var buf strings.Builder
	emit := func(text string) bool {
		safe := p.CheckAndRewrite(ctx, text)
		select {
		case out <- safe:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-in:
			if !ok {
				if strings.TrimSpace(buf.String()) != "" {
					emit(buf.String())
				}
				return
			}
			buf.WriteString(chunk)
			if endsSentence(buf.String()) {
				if !emit(buf.String()) {
					return
				}
				buf.Reset()
			}
		}
	}
}

// endsSentence reports whether the right-trimmed buffer ends with a
// sentence-terminal character.
func endsSentence(buf string) bool {
	trimmed := strings.TrimRight(buf, " \t\r\n")
	if trimmed == "" {
		return false
	}
	return strings.ContainsRune(sentenceEndings, rune(trimmed[len(trimmed)-1]))
}

// CheckAndRewrite moderates one sentence and returns the text that is safe
// to speak. It never returns an error: moderation failure fails open
// (availability of the tutoring session is a deliberate policy choice over
// blocking on an infrastructure fault), and rewrite failure falls back to
// FallbackText rather than letting flagged content through.
func (p *Pipeline) CheckAndRewrite(ctx context.Context, text string) string {
	result, err := p.check(ctx, text)
	if err != nil {
		p.logger.Error("guardrail moderation failed, failing open",
			"session_id", p.sessionID, "agent", p.agentName, "error", err)
		return text
	}

	if !result.Flagged {
		return text
	}

	p.logger.Warn("guardrail flagged content",
		"session_id", p.sessionID, "agent", p.agentName,
		"categories", result.Categories, "score", result.HighestScore)

	action := ActionRewrite
	safe, err := p.rewrite(ctx, text)
	if err != nil || strings.TrimSpace(safe) == "" {
		p.logger.Error("guardrail rewrite failed, using fallback",
			"session_id", p.sessionID, "agent", p.agentName, "error", err)
		safe = FallbackText
		action = ActionFallback
	}

	p.record(Event{
		SessionID:       p.sessionID,
		AgentName:       p.agentName,
		OriginalText:    text,
		RewrittenText:   safe,
		Categories:      result.Categories,
		ModerationScore: result.HighestScore,
		ActionTaken:     action,
	})

	return safe
}

// AuditCheck runs a post-hoc moderation check on text that has already
// been spoken (the voice-native specialist synthesizes audio directly, so
// its output cannot be intercepted). Flagged content is recorded with
// action "audit_only"; the text itself is unchanged.
func (p *Pipeline) AuditCheck(ctx context.Context, text string) CheckResult {
	result, err := p.check(ctx, text)
	if err != nil {
		p.logger.Error("guardrail post-hoc check failed",
			"session_id", p.sessionID, "agent", p.agentName, "error", err)
		return CheckResult{}
	}
	if result.Flagged {
		p.record(Event{
			SessionID:       p.sessionID,
			AgentName:       p.agentName,
			OriginalText:    text,
			RewrittenText:   "[post-hoc detection only]",
			Categories:      result.Categories,
			ModerationScore: result.HighestScore,
			ActionTaken:     ActionAuditOnly,
		})
	}
	return result
}

func (p *Pipeline) check(ctx context.Context, text string) (CheckResult, error) {
	if p.moderator == nil {
		return CheckResult{}, nil
	}
	return p.moderator.Check(ctx, text)
}

func (p *Pipeline) rewrite(ctx context.Context, text string) (string, error) {
	if p.rewriter == nil {
		return "", errNoRewriter
	}
	return p.rewriter.Rewrite(ctx, text)
}

func (p *Pipeline) record(ev Event) {
	if p.audit == nil {
		return
	}
	p.audit.Record(ev)
}
