package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edulive-ai/tutorlive/pkg/tutor/guardrail"
	"github.com/edulive-ai/tutorlive/pkg/tutor/routing"
	"github.com/edulive-ai/tutorlive/pkg/tutor/session"
)

// Postgres is the production Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the database, applies pending migrations, and
// returns the store.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if err := Migrate(databaseURL); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) CreateSession(ctx context.Context, sessionID, roomName, studentIdentity string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO learning_sessions (session_id, room_name, student_identity)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO NOTHING`,
		sessionID, roomName, studentIdentity)
	if err != nil {
		return fmt.Errorf("create session %s: %w", sessionID, err)
	}
	return nil
}

func (p *Postgres) CloseSession(ctx context.Context, sessionID string, report session.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal session report: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`UPDATE learning_sessions
		 SET ended_at = $2, session_report = $3
		 WHERE session_id = $1`,
		sessionID, time.Now().UTC(), payload)
	if err != nil {
		return fmt.Errorf("close session %s: %w", sessionID, err)
	}
	return nil
}

func (p *Postgres) SaveTurn(ctx context.Context, turn Turn) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO transcript_turns (session_id, turn_number, speaker, role, content, subject_area)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))`,
		turn.SessionID, turn.TurnNumber, turn.Speaker, turn.Role, turn.Content, turn.Subject)
	if err != nil {
		return fmt.Errorf("save turn %d for session %s: %w", turn.TurnNumber, turn.SessionID, err)
	}
	return nil
}

func (p *Postgres) SaveRoutingDecision(ctx context.Context, rec routing.DecisionRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO routing_decisions (session_id, turn_number, from_agent, to_agent, question_summary, previous_subject)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.SessionID, rec.TurnNumber, rec.FromAgent, rec.ToAgent, rec.QuestionSummary, rec.PreviousSubject)
	if err != nil {
		return fmt.Errorf("save routing decision for session %s: %w", rec.SessionID, err)
	}
	return nil
}

func (p *Postgres) SaveGuardrailEvent(ctx context.Context, ev guardrail.Event) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO guardrail_events (session_id, agent_name, original_text, rewritten_text, categories_flagged, moderation_score, action_taken)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.SessionID, ev.AgentName, ev.OriginalText, ev.RewrittenText, ev.Categories, ev.ModerationScore, ev.ActionTaken)
	if err != nil {
		return fmt.Errorf("save guardrail event for session %s: %w", ev.SessionID, err)
	}
	return nil
}

func (p *Postgres) SaveEscalationEvent(ctx context.Context, ev EscalationEvent) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO escalation_events (session_id, room_name, reason, teacher_token, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.SessionID, ev.RoomName, ev.Reason, ev.TeacherToken, ev.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save escalation event for session %s: %w", ev.SessionID, err)
	}
	return nil
}
