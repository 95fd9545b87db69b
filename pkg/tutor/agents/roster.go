package agents

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/edulive-ai/tutorlive/pkg/tutor/session"
)

const orchestratorInstructions = `You are a friendly and encouraging educational assistant for students aged 8-16.
Welcome the student warmly and listen carefully to their question.
Route them to the appropriate subject specialist:
- English language, literature, grammar, writing, reading: route_to_english
- Mathematics, arithmetic, algebra, geometry, statistics: route_to_math
- History, historical events, civilisations: route_to_history
If the question is unclear, ask a clarifying question before routing.
If the student seems distressed or asks about something inappropriate for a
school setting, escalate to a teacher immediately.
Keep routing responses brief; the specialist handles the detailed teaching.`

const mathInstructions = `You are an expert mathematics tutor for students aged 8-16.
Explain concepts step by step with concrete examples, check understanding
before moving on, and encourage the student to try the next step themselves.
When the student asks about a different subject or wants to end the session,
call route_to_orchestrator.`

const historyInstructions = `You are an expert history tutor for students aged 8-16.
Bring historical events to life with engaging narratives, explain cause and
effect, and relate events to things the student already knows.
When the student asks about a different subject or wants to end the session,
call route_to_orchestrator.`

const englishInstructions = `You are an expert English language and literature tutor for students aged 8-16.
Help with reading comprehension, writing, grammar, and vocabulary, and build
confidence in communication skills.
When the student says goodbye or asks about another subject, always call
route_to_orchestrator.`

// Definition is the configurable part of a specialist.
type Definition struct {
	Name         string `yaml:"name"`
	Subject      string `yaml:"subject"`
	Instructions string `yaml:"instructions"`
	Model        string `yaml:"model"`
	Voice        string `yaml:"voice"`
}

type rosterFile struct {
	Specialists []Definition `yaml:"specialists"`
}

// Roster builds specialists by subject.
type Roster struct {
	defs map[string]Definition
}

// DefaultRoster returns the built-in four-specialist roster.
func DefaultRoster() *Roster {
	r := &Roster{defs: make(map[string]Definition)}
	for _, def := range []Definition{
		{Name: session.SubjectOrchestrator, Subject: session.SubjectOrchestrator, Instructions: orchestratorInstructions, Model: "gemini-2.0-flash", Voice: "ash"},
		{Name: session.SubjectMath, Subject: session.SubjectMath, Instructions: mathInstructions, Model: "gemini-2.0-flash", Voice: "alloy"},
		{Name: session.SubjectHistory, Subject: session.SubjectHistory, Instructions: historyInstructions, Model: "gemini-2.0-flash", Voice: "echo"},
		{Name: session.SubjectEnglish, Subject: session.SubjectEnglish, Instructions: englishInstructions, Model: "gemini-2.0-flash", Voice: "shimmer"},
	} {
		r.defs[def.Subject] = def
	}
	return r
}

// LoadRoster reads specialist definitions from a YAML file, overlaying
// them on the built-in defaults. Unset fields keep their default values.
func LoadRoster(path string) (*Roster, error) {
	r := DefaultRoster()
	if path == "" {
		return r, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster %q: %w", path, err)
	}
	var file rosterFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse roster %q: %w", path, err)
	}

	for _, def := range file.Specialists {
		if def.Subject == "" {
			return nil, fmt.Errorf("roster %q: specialist with empty subject", path)
		}
		base, ok := r.defs[def.Subject]
		if !ok {
			base = Definition{Name: def.Subject, Subject: def.Subject}
		}
		if def.Name != "" {
			base.Name = def.Name
		}
		if def.Instructions != "" {
			base.Instructions = def.Instructions
		}
		if def.Model != "" {
			base.Model = def.Model
		}
		if def.Voice != "" {
			base.Voice = def.Voice
		}
		r.defs[def.Subject] = base
	}
	return r, nil
}

// New constructs a specialist for the given subject, seeded with the full
// prior conversation history and an optional pending question.
func (r *Roster) New(subject string, history []Message, pendingQuestion string) (*Specialist, error) {
	def, ok := r.defs[subject]
	if !ok {
		return nil, fmt.Errorf("unknown specialist subject %q", subject)
	}
	seeded := make([]Message, len(history))
	copy(seeded, history)
	return &Specialist{
		Name:            def.Name,
		Subject:         def.Subject,
		Instructions:    def.Instructions,
		Model:           def.Model,
		Voice:           def.Voice,
		PendingQuestion: pendingQuestion,
		History:         seeded,
	}, nil
}

// Subjects returns the configured subject names.
func (r *Roster) Subjects() []string {
	out := make([]string, 0, len(r.defs))
	for subject := range r.defs {
		out = append(out, subject)
	}
	return out
}
