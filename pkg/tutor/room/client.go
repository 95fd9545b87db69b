package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edulive-ai/tutorlive/pkg/tutor/transcript"
)

type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	ReadMessage() (int, []byte, error)
	Close() error
}

// frame is one queued outbound write. done receives the write outcome
// exactly once when non-nil.
type frame struct {
	payload []byte
	done    chan error
}

// Config tunes the room client connection.
type Config struct {
	// URL is the room server websocket endpoint.
	URL string
	// Token authenticates this worker with the room server.
	Token string

	PingInterval time.Duration
	WriteTimeout time.Duration
	// QueueSize bounds the normal-priority publish queue.
	QueueSize int
}

// Client is a websocket connection to the room server. Dispatch frames
// take priority over transcript publishes: a handoff must never sit
// behind a backlog of transcript traffic.
type Client struct {
	conn   wsConn
	cfg    Config
	logger *slog.Logger

	priority chan frame
	normal   chan frame
	inbound  chan InboundFrame
	cancel   context.CancelFunc
	doneCh   chan struct{}
}

// Dial connects to the room server and starts the writer loop.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial room server %s: %w", cfg.URL, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:     conn,
		cfg:      cfg,
		logger:   logger,
		priority: make(chan frame, 16),
		normal:   make(chan frame, cfg.QueueSize),
		inbound:  make(chan InboundFrame, 64),
		cancel:   cancel,
		doneCh:   make(chan struct{}),
	}
	go c.writeLoop(runCtx)
	go c.readLoop(runCtx)
	return c, nil
}

// Inbound yields decoded frames from the room server. The channel closes
// when the connection ends.
func (c *Client) Inbound() <-chan InboundFrame {
	return c.inbound
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.inbound)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("room read failed", "error", err)
			}
			c.cancel()
			return
		}
		var f InboundFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.logger.Warn("dropping malformed room frame", "error", err)
			continue
		}
		select {
		case c.inbound <- f:
		case <-ctx.Done():
			return
		}
	}
}

// PublishTranscript sends a transcript entry as a normal-priority data
// frame on the transcript topic.
func (c *Client) PublishTranscript(ctx context.Context, roomName string, turn transcript.Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal transcript turn: %w", err)
	}
	env := envelope{
		Type:    frameDataPublish,
		Room:    roomName,
		Topic:   TranscriptTopic,
		Payload: payload,
	}
	return c.send(ctx, c.normal, env)
}

// Dispatch asks the room server to start the named worker in the room,
// carrying the opaque handoff metadata. Dispatches preempt queued
// transcript publishes.
func (c *Client) Dispatch(ctx context.Context, roomName, agentName, metadata string) error {
	env := envelope{
		Type:     frameAgentDispatch,
		Room:     roomName,
		Agent:    agentName,
		Metadata: metadata,
	}
	return c.send(ctx, c.priority, env)
}

func (c *Client) send(ctx context.Context, queue chan frame, env envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal room frame: %w", err)
	}
	f := frame{payload: raw, done: make(chan error, 1)}

	select {
	case queue <- f:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.doneCh:
		return fmt.Errorf("room client closed")
	}

	select {
	case err := <-f.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.doneCh:
		return fmt.Errorf("room client closed")
	}
}

// Close stops the writer loop and closes the connection.
func (c *Client) Close() {
	c.cancel()
	<-c.doneCh
}

func (c *Client) writeLoop(ctx context.Context) {
	defer close(c.doneCh)

	pingInterval := c.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := c.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flushPriorityOnShutdown(writeTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			_ = c.conn.Close()
			return
		default:
		}

		// Hard priority: drain dispatch frames before anything else.
		select {
		case f := <-c.priority:
			c.writeFrame(f, writeTimeout)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			continue
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				c.logger.Error("room ping failed", "error", err)
				c.cancel()
			}
		case f := <-c.priority:
			c.writeFrame(f, writeTimeout)
		case f := <-c.normal:
			c.writeFrame(f, writeTimeout)
		}
	}
}

// flushPriorityOnShutdown gives queued dispatch frames a short window to
// reach the wire before the connection closes.
func (c *Client) flushPriorityOnShutdown(writeTimeout time.Duration) {
	flushTimeout := 100 * time.Millisecond
	if writeTimeout > 0 && writeTimeout < flushTimeout {
		flushTimeout = writeTimeout
	}
	deadline := time.Now().Add(flushTimeout)

	for i := 0; i < 8 && time.Now().Before(deadline); i++ {
		select {
		case f := <-c.priority:
			c.writeFrame(f, writeTimeout)
		default:
			return
		}
	}
}

func (c *Client) writeFrame(f frame, writeTimeout time.Duration) {
	err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err == nil {
		err = c.conn.WriteMessage(websocket.TextMessage, f.payload)
	}
	if f.done != nil {
		f.done <- err
	}
	if err != nil {
		c.logger.Error("room write failed", "error", err)
	}
}
