// Package worker is the process runtime: it registers with the room
// server under a worker identity, accepts job assignments, and runs one
// conversation event loop per assigned room.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/edulive-ai/tutorlive/pkg/tutor/agents"
	"github.com/edulive-ai/tutorlive/pkg/tutor/audit"
	"github.com/edulive-ai/tutorlive/pkg/tutor/config"
	"github.com/edulive-ai/tutorlive/pkg/tutor/escalation"
	"github.com/edulive-ai/tutorlive/pkg/tutor/guardrail"
	"github.com/edulive-ai/tutorlive/pkg/tutor/handoff"
	"github.com/edulive-ai/tutorlive/pkg/tutor/orchestrator"
	"github.com/edulive-ai/tutorlive/pkg/tutor/providers/gemini"
	"github.com/edulive-ai/tutorlive/pkg/tutor/room"
	"github.com/edulive-ai/tutorlive/pkg/tutor/routing"
	"github.com/edulive-ai/tutorlive/pkg/tutor/session"
	"github.com/edulive-ai/tutorlive/pkg/tutor/transcript"
)

// conversation is one running event loop and its feed channel.
type conversation struct {
	mu     sync.Mutex
	events chan orchestrator.Event
	closed bool
}

// send enqueues an event unless the feed has ended or is full. The feed
// must never block the shared demux loop; a full buffer drops the event.
func (c *conversation) send(ev orchestrator.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// end closes the feed exactly once; the loop drains and writes its report.
func (c *conversation) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}

// roomTransport is the slice of the room client the runtime needs. It is
// what lets the demux and routing paths run against a fake connection.
type roomTransport interface {
	orchestrator.Publisher
	routing.Dispatcher
	Inbound() <-chan room.InboundFrame
	Close()
}

// Runtime owns the shared collaborators and the per-room conversations.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	store    transcript.Store
	storeCl  func()
	queue    *audit.Queue
	recorder *transcript.AsyncRecorder
	roster   *agents.Roster
	llm      agents.Client
	rewriter guardrail.Rewriter
	moderate guardrail.Moderator
	notifier routing.Escalator
	room     roomTransport

	mu            sync.Mutex
	conversations map[string]*conversation
	wg            sync.WaitGroup
}

// New wires the runtime from configuration.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store   transcript.Store
		storeCl func()
	)
	if cfg.DatabaseURL != "" {
		pg, err := transcript.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open transcript store: %w", err)
		}
		store, storeCl = pg, pg.Close
	} else {
		logger.Warn("no database configured, transcripts are in-memory only")
		store, storeCl = transcript.NewMemory(), func() {}
	}

	queue := audit.NewQueue(cfg.AuditQueueSize, cfg.AuditJobTimeout, logger)
	recorder := transcript.NewAsyncRecorder(queue, store, logger)

	roster, err := agents.LoadRoster(cfg.RosterPath)
	if err != nil {
		return nil, err
	}

	llm, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, logger)
	if err != nil {
		return nil, err
	}

	var moderate guardrail.Moderator
	if cfg.ModerationAPIKey != "" {
		moderate = &guardrail.OpenAIModerator{
			APIKey: cfg.ModerationAPIKey,
			Model:  cfg.ModerationModel,
		}
	} else {
		logger.Warn("no moderation key configured, guardrail screening disabled")
	}

	notifier := escalation.NewNotifier(escalation.Dependencies{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Recorder:  recorder,
		Logger:    logger,
	})

	roomClient, err := room.Dial(ctx, room.Config{
		URL:          cfg.RoomURL,
		Token:        cfg.RoomToken,
		PingInterval: cfg.PingInterval,
		WriteTimeout: cfg.WriteTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		storeCl:  storeCl,
		queue:    queue,
		recorder: recorder,
		roster:   roster,
		llm:      llm,
		rewriter: gemini.NewRewriter(llm, cfg.RewriteModel),
		moderate: moderate,
		notifier: notifier,
		room:     roomClient,
	}, nil
}

// Run demultiplexes inbound room frames to per-room conversations until
// the connection ends or ctx is canceled.
func (r *Runtime) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.conversations == nil {
		r.conversations = make(map[string]*conversation)
	}
	r.mu.Unlock()

	r.logger.Info("worker ready", "role", r.cfg.Role, "room_url", r.cfg.RoomURL)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-r.room.Inbound():
			if !ok {
				return fmt.Errorf("room connection closed")
			}
			r.handleFrame(ctx, f)
		}
	}
}

func (r *Runtime) handleFrame(ctx context.Context, f room.InboundFrame) {
	switch f.Type {
	case room.FrameJobAssign:
		r.startConversation(ctx, f)
		return
	}

	conv := r.lookup(f.Room)
	if conv == nil {
		r.logger.Warn("frame for unknown room", "type", f.Type, "room", f.Room)
		return
	}

	var ev orchestrator.Event
	switch f.Type {
	case room.FrameUserTranscript:
		ev = orchestrator.UserTranscriptEvent{Text: f.Text, TranscribedAt: f.At}
	case room.FrameFunctionCall:
		ev = orchestrator.FunctionCallEvent{Name: f.Name, Argument: f.Argument}
	case room.FrameAgentSpeech:
		ev = orchestrator.AgentSpeechEvent{Text: f.Text}
	case room.FrameRoomClosed:
		conv.send(orchestrator.CloseRequestEvent{Reason: "room closed"})
		r.remove(f.Room)
		conv.end()
		return
	default:
		r.logger.Warn("unhandled room frame", "type", f.Type, "room", f.Room)
		return
	}

	if !conv.send(ev) {
		r.logger.Warn("dropping event for busy or ended conversation",
			"type", f.Type, "room", f.Room)
	}
}

// startConversation resumes or begins the session this job describes and
// launches its event loop.
func (r *Runtime) startConversation(ctx context.Context, f room.InboundFrame) {
	meta := handoff.DecodeMetadata(f.Metadata)

	subject := session.SubjectOrchestrator
	postHoc := false
	if r.cfg.Role == config.RoleEnglish {
		subject = session.SubjectEnglish
		postHoc = true
	}

	st := handoff.ResumeState(meta, f.Student, f.Room, subject)
	sp, err := r.roster.New(subject, nil, meta.Question)
	if err != nil {
		r.logger.Error("job assignment rejected", "room", f.Room, "error", err)
		return
	}

	conv := &conversation{events: make(chan orchestrator.Event, 16)}
	r.mu.Lock()
	if _, exists := r.conversations[f.Room]; exists {
		r.mu.Unlock()
		r.logger.Warn("duplicate job assignment ignored", "room", f.Room)
		return
	}
	r.conversations[f.Room] = conv
	r.mu.Unlock()

	closer := handoff.NewGraceClose(r.cfg.CloseDelay, func() error {
		r.remove(f.Room)
		conv.end()
		return nil
	}, r.logger)

	coordinator := routing.NewCoordinator(routing.Dependencies{
		Roster:     r.roster,
		Audit:      r.recorder,
		Dispatcher: r.room,
		Escalator:  r.notifier,
		Closer:     closer,
		Logger:     r.logger,
	})

	loop := orchestrator.NewConversation(orchestrator.Dependencies{
		State:       st,
		Specialist:  sp,
		Client:      r.llm,
		Router:      coordinator,
		Publisher:   r.room,
		Turns:       r.recorder,
		Sessions:    r.store,
		Moderator:   r.moderate,
		Rewriter:    r.rewriter,
		Audit:       r.recorder,
		PostHocOnly: postHoc,
		Logger:      r.logger,
	})

	r.logger.Info("conversation assigned",
		"session_id", st.SessionID, "room", f.Room,
		"student", f.Student, "resumed", meta.SessionRef() != "",
		"returning", meta.IsReturn())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.remove(f.Room)
		loop.Run(ctx, conv.events)
	}()
}

func (r *Runtime) lookup(roomName string) *conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conversations[roomName]
}

func (r *Runtime) remove(roomName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conversations, roomName)
}

// Close ends all conversations, drains the audit queue, and releases the
// transport and store.
func (r *Runtime) Close(ctx context.Context) {
	r.mu.Lock()
	for name, conv := range r.conversations {
		delete(r.conversations, name)
		conv.end()
	}
	r.mu.Unlock()
	r.wg.Wait()

	r.room.Close()
	r.queue.Close(ctx)
	r.storeCl()
}
