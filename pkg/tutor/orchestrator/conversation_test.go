package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/edulive-ai/tutorlive/pkg/tutor/agents"
	"github.com/edulive-ai/tutorlive/pkg/tutor/guardrail"
	"github.com/edulive-ai/tutorlive/pkg/tutor/handoff"
	"github.com/edulive-ai/tutorlive/pkg/tutor/routing"
	"github.com/edulive-ai/tutorlive/pkg/tutor/session"
	"github.com/edulive-ai/tutorlive/pkg/tutor/transcript"
)

type fakeClient struct {
	mu     sync.Mutex
	chunks []string
	reqs   []agents.ReplyRequest
}

func (f *fakeClient) StreamReply(_ context.Context, req agents.ReplyRequest) (<-chan string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	chunks := f.chunks
	f.mu.Unlock()

	out := make(chan string, len(chunks))
	for _, c := range chunks {
		out <- c
	}
	close(out)
	return out, nil
}

type capturedTurns struct {
	mu    sync.Mutex
	turns []transcript.Turn
}

func (c *capturedTurns) RecordTurn(turn transcript.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turn)
}

func (c *capturedTurns) all() []transcript.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transcript.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

type fakePublisher struct {
	mu    sync.Mutex
	turns []transcript.Turn
}

func (f *fakePublisher) PublishTranscript(_ context.Context, _ string, turn transcript.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turn)
	return nil
}

func (f *fakePublisher) all() []transcript.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transcript.Turn, len(f.turns))
	copy(out, f.turns)
	return out
}

func newSpecialist(t *testing.T, subject, question string) *agents.Specialist {
	t.Helper()
	sp, err := agents.DefaultRoster().New(subject, nil, question)
	if err != nil {
		t.Fatal(err)
	}
	return sp
}

// run drives a conversation to completion over the given events.
func run(t *testing.T, deps Dependencies, events ...Event) {
	t.Helper()
	ch := make(chan Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)

	done := make(chan struct{})
	go func() {
		NewConversation(deps).Run(context.Background(), ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("conversation did not finish")
	}
}

func TestRun_UserTurnProducesGuardedReply(t *testing.T) {
	t.Parallel()
	st := session.NewState("student-1", "room-1")
	turns := &capturedTurns{}
	pub := &fakePublisher{}
	client := &fakeClient{chunks: []string{"Seven times eight ", "is 56."}}

	run(t, Dependencies{
		State:      st,
		Specialist: newSpecialist(t, session.SubjectOrchestrator, ""),
		Client:     client,
		Publisher:  pub,
		Turns:      turns,
	}, UserTranscriptEvent{Text: "what is 7x8?"})

	got := turns.all()
	if len(got) != 2 {
		t.Fatalf("turns = %+v, want user + assistant", got)
	}
	if got[0].Role != session.RoleUser || got[0].Speaker != session.SpeakerStudent {
		t.Fatalf("user turn = %+v", got[0])
	}
	if got[1].Role != session.RoleAssistant || got[1].Speaker != session.SubjectOrchestrator {
		t.Fatalf("assistant turn = %+v", got[1])
	}
	if got[1].Content != "Seven times eight is 56." {
		t.Fatalf("assistant content = %q", got[1].Content)
	}
	// No routing decision has happened, so both utterances belong to
	// turn zero.
	if got[0].TurnNumber != 0 || got[1].TurnNumber != 0 {
		t.Fatalf("turn numbers = %d, %d", got[0].TurnNumber, got[1].TurnNumber)
	}
	if published := pub.all(); len(published) != 2 {
		t.Fatalf("published = %+v", published)
	}
}

// A specialist seeded with a pending question answers it proactively, and
// the echoed synthetic user turn is suppressed.
func TestRun_PendingQuestionSuppressesEcho(t *testing.T) {
	t.Parallel()
	st := session.NewState("student-1", "room-1")
	st.RouteTo(session.SubjectEnglish)
	st.SeedPendingQuestion()

	turns := &capturedTurns{}
	client := &fakeClient{chunks: []string{"Let's talk about verbs."}}

	run(t, Dependencies{
		State:      st,
		Specialist: newSpecialist(t, session.SubjectEnglish, "help me with verbs?"),
		Client:     client,
		Turns:      turns,
	}, UserTranscriptEvent{Text: "help me with verbs?"})

	got := turns.all()
	// Proactive reply only; the echoed user turn must not appear.
	if len(got) != 1 {
		t.Fatalf("turns = %+v, want only the proactive reply", got)
	}
	if got[0].Role != session.RoleAssistant {
		t.Fatalf("turn = %+v", got[0])
	}

	if len(client.reqs) != 1 {
		t.Fatalf("reqs = %+v", client.reqs)
	}
	msgs := client.reqs[0].Messages
	if len(msgs) == 0 || msgs[len(msgs)-1].Content != "help me with verbs?" {
		t.Fatalf("pending question not seeded: %+v", msgs)
	}
}

func TestRun_SecondUserTurnAfterSuppressionIsProcessed(t *testing.T) {
	t.Parallel()
	st := session.NewState("student-1", "room-1")
	st.SeedPendingQuestion()

	turns := &capturedTurns{}
	run(t, Dependencies{
		State:      st,
		Specialist: newSpecialist(t, session.SubjectOrchestrator, "echoed?"),
		Client:     &fakeClient{chunks: []string{"ok."}},
		Turns:      turns,
	},
		UserTranscriptEvent{Text: "echoed?"},
		UserTranscriptEvent{Text: "a real question"},
	)

	var userTurns []transcript.Turn
	for _, turn := range turns.all() {
		if turn.Role == session.RoleUser {
			userTurns = append(userTurns, turn)
		}
	}
	if len(userTurns) != 1 || userTurns[0].Content != "a real question" {
		t.Fatalf("user turns = %+v", userTurns)
	}
}

// The handoff announcement belongs to the outgoing specialist; the
// incoming one speaks only after activation.
func TestRun_HandoffAttributionOrdering(t *testing.T) {
	t.Parallel()
	st := session.NewState("student-1", "room-1")
	st.RouteTo(session.SubjectOrchestrator)

	turns := &capturedTurns{}
	client := &fakeClient{chunks: []string{"56."}}
	router := routing.NewCoordinator(routing.Dependencies{})

	run(t, Dependencies{
		State:      st,
		Specialist: newSpecialist(t, session.SubjectOrchestrator, ""),
		Client:     client,
		Router:     router,
		Turns:      turns,
	}, FunctionCallEvent{Name: FuncRouteToMath, Argument: "what is 7x8?"})

	got := turns.all()
	if len(got) != 2 {
		t.Fatalf("turns = %+v, want announcement + proactive reply", got)
	}
	if got[0].Speaker != session.SubjectOrchestrator {
		t.Fatalf("announcement speaker = %q, want outgoing specialist", got[0].Speaker)
	}
	if got[1].Speaker != session.SubjectMath {
		t.Fatalf("reply speaker = %q, want incoming specialist", got[1].Speaker)
	}
	if st.SpeakingAgent != session.SubjectMath {
		t.Fatalf("SpeakingAgent = %q after activation", st.SpeakingAgent)
	}
}

// The voice-native specialist cannot swap the orchestrator in locally.
// Routing back dispatches the orchestrator worker into the room with
// return metadata and schedules this session's own graceful close.
func TestRun_VoiceNativeRouteBackDispatchesOrchestrator(t *testing.T) {
	t.Parallel()
	st := session.NewState("student-1", "room-1")
	st.RouteTo(session.SubjectEnglish)

	turns := &capturedTurns{}
	disp := &recordingDispatcher{}
	closer := &recordingCloser{}
	router := routing.NewCoordinator(routing.Dependencies{
		Dispatcher: disp,
		Closer:     closer,
	})

	run(t, Dependencies{
		State:       st,
		Specialist:  newSpecialist(t, session.SubjectEnglish, ""),
		Client:      &fakeClient{},
		Router:      router,
		Turns:       turns,
		PostHocOnly: true,
	}, FunctionCallEvent{Name: FuncRouteToOrchestrator, Argument: "wants algebra help"})

	calls := disp.all()
	if len(calls) != 1 || calls[0].agent != routing.WorkerOrchestrator {
		t.Fatalf("dispatches = %+v, want one to %q", calls, routing.WorkerOrchestrator)
	}
	meta := handoff.DecodeMetadata(calls[0].metadata)
	if !meta.IsReturn() || meta.ReturnFromEnglish != st.SessionID {
		t.Fatalf("metadata = %+v, want return ref %q", meta, st.SessionID)
	}
	if meta.Question != "wants algebra help" {
		t.Fatalf("metadata question = %q", meta.Question)
	}
	if scheduled := closer.all(); len(scheduled) != 1 {
		t.Fatalf("close schedules = %v, want one", scheduled)
	}

	// No in-process activation: the announcement is the only utterance and
	// still belongs to the outgoing specialist.
	got := turns.all()
	if len(got) != 1 || got[0].Speaker != session.SubjectEnglish {
		t.Fatalf("turns = %+v", got)
	}
	if st.SpeakingAgent != session.SubjectEnglish {
		t.Fatalf("SpeakingAgent = %q, want unchanged", st.SpeakingAgent)
	}
	if st.CurrentSubject != session.SubjectOrchestrator {
		t.Fatalf("CurrentSubject = %q", st.CurrentSubject)
	}
}

// Transcript turns are stamped with the routing epoch: consecutive
// utterances share a number until a routing decision advances it.
func TestRun_TurnNumberAdvancesOnlyOnRouting(t *testing.T) {
	t.Parallel()
	st := session.NewState("student-1", "room-1")
	turns := &capturedTurns{}
	router := routing.NewCoordinator(routing.Dependencies{})

	run(t, Dependencies{
		State:      st,
		Specialist: newSpecialist(t, session.SubjectOrchestrator, ""),
		Client:     &fakeClient{chunks: []string{"Sure."}},
		Router:     router,
		Turns:      turns,
	},
		UserTranscriptEvent{Text: "hi"},
		FunctionCallEvent{Name: FuncRouteToMath, Argument: "what is 7x8?"},
		UserTranscriptEvent{Text: "thanks"},
	)

	var nums []int
	for _, turn := range turns.all() {
		nums = append(nums, turn.TurnNumber)
	}
	// User turn and reply at epoch zero, then the routing decision opens
	// epoch one: announcement, proactive reply, next user turn, its reply.
	want := []int{0, 0, 1, 1, 1, 1}
	if len(nums) != len(want) {
		t.Fatalf("turn numbers = %v, want %v", nums, want)
	}
	for i := range want {
		if nums[i] != want[i] {
			t.Fatalf("turn numbers = %v, want %v", nums, want)
		}
	}
}

func TestRun_EscalationSpeaksConfirmation(t *testing.T) {
	t.Parallel()
	st := session.NewState("student-1", "room-1")
	turns := &capturedTurns{}
	router := routing.NewCoordinator(routing.Dependencies{})

	run(t, Dependencies{
		State:      st,
		Specialist: newSpecialist(t, session.SubjectOrchestrator, ""),
		Client:     &fakeClient{},
		Router:     router,
		Turns:      turns,
	}, FunctionCallEvent{Name: FuncEscalateToTeacher, Argument: "student distressed"})

	got := turns.all()
	if len(got) != 1 || got[0].Role != session.RoleAssistant {
		t.Fatalf("turns = %+v", got)
	}
	if got[0].Content == "" {
		t.Fatal("empty escalation confirmation")
	}
	if !st.Escalated {
		t.Fatal("state not escalated")
	}
}

func TestRun_AgentSpeechIsAuditedPostHoc(t *testing.T) {
	t.Parallel()
	st := session.NewState("student-1", "room-1")
	st.RouteTo(session.SubjectEnglish)

	turns := &capturedTurns{}
	rec := &eventRecorder{}
	mod := &flagAllModerator{}

	run(t, Dependencies{
		State:       st,
		Specialist:  newSpecialist(t, session.SubjectEnglish, ""),
		Client:      &fakeClient{},
		Turns:       turns,
		Moderator:   mod,
		Audit:       rec,
		PostHocOnly: true,
	},
		UserTranscriptEvent{Text: "hello"},
		AgentSpeechEvent{Text: "something flagged"},
	)

	got := turns.all()
	if len(got) != 2 {
		t.Fatalf("turns = %+v", got)
	}
	if got[1].Role != session.RoleAssistant || got[1].Speaker != session.SubjectEnglish {
		t.Fatalf("speech turn = %+v", got[1])
	}

	events := rec.all()
	if len(events) != 1 || events[0].ActionTaken != guardrail.ActionAuditOnly {
		t.Fatalf("guardrail events = %+v", events)
	}
}

func TestRun_CloseWritesSessionReport(t *testing.T) {
	t.Parallel()
	st := session.NewState("student-1", "room-1")
	st.RouteTo(session.SubjectOrchestrator)
	store := transcript.NewMemory()

	run(t, Dependencies{
		State:      st,
		Specialist: newSpecialist(t, session.SubjectOrchestrator, ""),
		Client:     &fakeClient{chunks: []string{"hi."}},
		Router:     routing.NewCoordinator(routing.Dependencies{}),
		Sessions:   store,
	},
		UserTranscriptEvent{Text: "hello"},
		FunctionCallEvent{Name: FuncRouteToMath, Argument: "fractions"},
		CloseRequestEvent{Reason: "room closed"},
	)

	report, ok := store.SessionReport(st.SessionID)
	if !ok {
		t.Fatal("no session report written")
	}
	if report.TotalTurns != 1 {
		t.Fatalf("report = %+v", report)
	}
}

type dispatchCall struct {
	room, agent, metadata string
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
}

func (d *recordingDispatcher) Dispatch(_ context.Context, roomName, agentName, metadata string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchCall{roomName, agentName, metadata})
	return nil
}

func (d *recordingDispatcher) all() []dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]dispatchCall, len(d.calls))
	copy(out, d.calls)
	return out
}

type recordingCloser struct {
	mu      sync.Mutex
	reasons []string
}

func (c *recordingCloser) Schedule(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reasons = append(c.reasons, reason)
}

func (c *recordingCloser) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.reasons))
	copy(out, c.reasons)
	return out
}

type eventRecorder struct {
	mu     sync.Mutex
	events []guardrail.Event
}

func (e *eventRecorder) Record(ev guardrail.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventRecorder) all() []guardrail.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]guardrail.Event, len(e.events))
	copy(out, e.events)
	return out
}

type flagAllModerator struct{}

func (flagAllModerator) Check(context.Context, string) (guardrail.CheckResult, error) {
	return guardrail.CheckResult{Flagged: true, Categories: []string{"test"}, HighestScore: 0.9}, nil
}
