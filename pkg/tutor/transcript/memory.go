package transcript

import (
	"context"
	"sync"

	"github.com/edulive-ai/tutorlive/pkg/tutor/guardrail"
	"github.com/edulive-ai/tutorlive/pkg/tutor/routing"
	"github.com/edulive-ai/tutorlive/pkg/tutor/session"
)

// Memory is an in-process Store for tests and the zero-config dev path.
type Memory struct {
	mu sync.Mutex

	sessions    map[string]memorySession
	turns       []Turn
	decisions   []routing.DecisionRecord
	guardrails  []guardrail.Event
	escalations []EscalationEvent
}

type memorySession struct {
	RoomName        string
	StudentIdentity string
	Closed          bool
	Report          session.Report
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]memorySession)}
}

func (m *Memory) CreateSession(_ context.Context, sessionID, roomName, studentIdentity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = memorySession{RoomName: roomName, StudentIdentity: studentIdentity}
	return nil
}

func (m *Memory) CloseSession(_ context.Context, sessionID string, report session.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[sessionID]
	s.Closed = true
	s.Report = report
	m.sessions[sessionID] = s
	return nil
}

func (m *Memory) SaveTurn(_ context.Context, turn Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn)
	return nil
}

func (m *Memory) SaveRoutingDecision(_ context.Context, rec routing.DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, rec)
	return nil
}

func (m *Memory) SaveGuardrailEvent(_ context.Context, ev guardrail.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guardrails = append(m.guardrails, ev)
	return nil
}

func (m *Memory) SaveEscalationEvent(_ context.Context, ev EscalationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalations = append(m.escalations, ev)
	return nil
}

// Snapshot accessors for tests.

func (m *Memory) Turns() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

func (m *Memory) Decisions() []routing.DecisionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]routing.DecisionRecord, len(m.decisions))
	copy(out, m.decisions)
	return out
}

func (m *Memory) GuardrailEvents() []guardrail.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]guardrail.Event, len(m.guardrails))
	copy(out, m.guardrails)
	return out
}

func (m *Memory) EscalationEvents() []EscalationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EscalationEvent, len(m.escalations))
	copy(out, m.escalations)
	return out
}

// SessionReport returns the close-of-session report, if the session was
// closed.
func (m *Memory) SessionReport(sessionID string) (session.Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.Closed {
		return session.Report{}, false
	}
	return s.Report, true
}
