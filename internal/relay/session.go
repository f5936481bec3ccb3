package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/audio"
	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/metrics"
	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/protocol"
)

// State represents the lifecycle phase of a call session
type State int

const (
	StateConnecting State = iota
	StateAwaitingReady
	StateStreaming
	StateClosing
	StateClosed
)

// String returns the state name for logging and monitoring
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// errSessionClosed is returned by send helpers once teardown has begun.
var errSessionClosed = errors.New("session is closing")

// Conn is the surface of a websocket connection the relay uses. It is
// satisfied by *websocket.Conn.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// DynamicContext holds the caller metadata captured at session start and sent
// once to the agent. Immutable for the session's lifetime.
type DynamicContext struct {
	Date        string `json:"date"`
	Time        string `json:"time"`
	CallerName  string `json:"caller_name"`
	CallerPhone string `json:"caller_phone"`
}

// Variables returns the context as the agent's dynamic_variables mapping.
func (d DynamicContext) Variables() map[string]string {
	return map[string]string{
		"current_date": d.Date,
		"current_time": d.Time,
		"caller_name":  d.CallerName,
		"caller_phone": d.CallerPhone,
	}
}

// Stats holds per-session counters. Monotonically increasing, diagnostic
// only; nothing reads them for control flow.
type Stats struct {
	CallerChunks  uint64 `json:"caller_chunks"`
	CallerBytes   uint64 `json:"caller_bytes"`
	CallerDropped uint64 `json:"caller_dropped"`
	AgentPayloads uint64 `json:"agent_payloads"`
	AgentBytes    uint64 `json:"agent_bytes"`
	FramesQueued  uint64 `json:"frames_queued"`
	FramesPaced   uint64 `json:"frames_paced"`
	FramesTrimmed uint64 `json:"frames_trimmed"`
	FramesFlushed uint64 `json:"frames_flushed"`
}

// Config contains per-session relay parameters
type Config struct {
	FrameInterval  time.Duration
	ReadyFallback  time.Duration
	MaxQueueFrames int
	IdleTimeout    time.Duration
}

// Session is the per-call relay: it owns both socket connections, the
// outbound frame queue, the readiness gate and the pacer. All mutation of
// shared state goes through one mutex; the two socket read loops and the
// pacer tick are the only entry points.
type Session struct {
	ID        string
	StartTime time.Time

	logger  *slog.Logger
	metrics *metrics.Metrics
	config  Config
	context DynamicContext

	twilio Conn
	agent  Conn

	gate  *ReadyGate
	pacer *Pacer

	mu           sync.Mutex
	state        State
	streamSid    string
	queue        [][]byte
	stats        Stats
	lastActivity time.Time

	// Websocket connections do not allow concurrent writers.
	twilioWrite sync.Mutex
	agentWrite  sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	onClose   func(*Session)
}

// newSession builds a session in the Connecting state. The agent socket, the
// gate and the agent read loop are attached by the manager once the upstream
// connection succeeds.
func newSession(id string, logger *slog.Logger, m *metrics.Metrics, cfg Config,
	twilioConn Conn, dynCtx DynamicContext, onClose func(*Session)) *Session {

	now := time.Now()
	s := &Session{
		ID:           id,
		StartTime:    now,
		logger:       logger.With(slog.String("session_id", id)),
		metrics:      m,
		config:       cfg,
		context:      dynCtx,
		twilio:       twilioConn,
		state:        StateConnecting,
		lastActivity: now,
		done:         make(chan struct{}),
		onClose:      onClose,
	}
	s.pacer = NewPacer(cfg.FrameInterval, s.pump)

	return s
}

// StreamSid returns the telephony stream identifier, empty until the start
// event arrives.
func (s *Session) StreamSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSid
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session reaches the Closed state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// touch updates the idle-cleanup activity timestamp.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// onGateOpen moves the session into Streaming when the readiness gate opens.
func (s *Session) onGateOpen() {
	s.mu.Lock()
	if s.state == StateAwaitingReady {
		s.state = StateStreaming
	}
	state := s.state
	s.mu.Unlock()

	s.logger.Info("Forwarding gate opened",
		slog.String("state", state.String()),
	)
}

// pump is one pacer tick: it dequeues at most one frame and transmits it as a
// media message addressed to the current stream. Ticks before the stream
// identifier is known, or while the queue is empty, do nothing. A transmission
// failure is logged and does not stop future ticks.
func (s *Session) pump() {
	s.mu.Lock()
	if s.state != StateStreaming || s.streamSid == "" || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}

	frame := s.queue[0]
	s.queue = s.queue[1:]
	streamSid := s.streamSid
	s.stats.FramesPaced++
	s.mu.Unlock()

	s.metrics.FramesPaced.Inc()

	if err := s.sendTwilio(protocol.NewMediaMessage(streamSid, frame)); err != nil && !errors.Is(err, errSessionClosed) {
		s.logger.Warn("Failed to deliver paced frame",
			slog.String("stream_sid", streamSid),
			slog.Int("frame_bytes", len(frame)),
			slog.String("error", err.Error()),
		)
	}
}

// enqueueFrames slices normalized agent audio into frames and appends them to
// the outbound queue. When the queue exceeds the configured depth the oldest
// frames are trimmed so a runaway producer cannot grow memory without bound.
func (s *Session) enqueueFrames(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state >= StateClosing {
		return
	}

	queued := 0
	for frame := range audio.Frames(raw) {
		s.queue = append(s.queue, frame)
		queued++
	}
	s.stats.FramesQueued += uint64(queued)
	s.stats.AgentPayloads++
	s.stats.AgentBytes += uint64(len(raw))

	trimmed := 0
	for len(s.queue) > s.config.MaxQueueFrames {
		s.queue = s.queue[1:]
		trimmed++
	}
	if trimmed > 0 {
		s.stats.FramesTrimmed += uint64(trimmed)
		s.metrics.FramesTrimmed.Add(float64(trimmed))
		s.logger.Warn("Outbound queue full, trimmed oldest frames",
			slog.Int("trimmed", trimmed),
			slog.Int("queue_depth", len(s.queue)),
		)
	}

	s.metrics.FramesQueued.Add(float64(queued))
}

// flushQueue discards all undelivered frames and returns how many were
// dropped.
func (s *Session) flushQueue() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	flushed := len(s.queue)
	s.queue = nil
	s.stats.FramesFlushed += uint64(flushed)
	return flushed
}

// sendTwilio writes one message to the telephony socket. Refused once
// teardown has begun; failures are logged by the caller where context exists.
func (s *Session) sendTwilio(v any) error {
	s.mu.Lock()
	if s.state >= StateClosing {
		s.mu.Unlock()
		return errSessionClosed
	}
	s.mu.Unlock()

	s.twilioWrite.Lock()
	err := s.twilio.WriteJSON(v)
	s.twilioWrite.Unlock()

	if err != nil {
		s.metrics.RecordSendError("twilio")
	}
	return err
}

// sendAgent writes one message to the agent socket.
func (s *Session) sendAgent(v any) error {
	s.mu.Lock()
	if s.state >= StateClosing || s.agent == nil {
		s.mu.Unlock()
		return errSessionClosed
	}
	s.mu.Unlock()

	s.agentWrite.Lock()
	err := s.agent.WriteJSON(v)
	s.agentWrite.Unlock()

	if err != nil {
		s.metrics.RecordSendError("agent")
	}
	return err
}

// RunTwilioLoop reads telephony messages until the socket closes or the
// session is torn down. It runs in the goroutine that accepted the media
// stream connection.
func (s *Session) RunTwilioLoop() {
	for {
		_, data, err := s.twilio.ReadMessage()
		if err != nil {
			s.Close("telephony socket closed", err)
			return
		}
		s.HandleTwilioMessage(data)
	}
}

// runAgentLoop reads agent messages until the socket closes or the session is
// torn down.
func (s *Session) runAgentLoop() {
	for {
		_, data, err := s.agent.ReadMessage()
		if err != nil {
			s.Close("agent socket closed", err)
			return
		}
		s.HandleAgentMessage(data)
	}
}

// Close tears the session down exactly once: the pacer and all timers stop,
// both sockets close, and no further queue mutation or send is permitted.
// Closing one side force-closes the other.
func (s *Session) Close(reason string, cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		streamSid := s.streamSid
		stats := s.stats
		s.mu.Unlock()

		s.pacer.Stop()
		if s.gate != nil {
			s.gate.Stop()
		}

		if err := s.twilio.Close(); err != nil {
			s.logger.Debug("Error closing telephony socket", slog.String("error", err.Error()))
		}
		if s.agent != nil {
			if err := s.agent.Close(); err != nil {
				s.logger.Debug("Error closing agent socket", slog.String("error", err.Error()))
			}
		}

		s.mu.Lock()
		s.state = StateClosed
		s.queue = nil
		s.mu.Unlock()

		close(s.done)

		duration := time.Since(s.StartTime)
		attrs := []any{
			slog.String("reason", reason),
			slog.String("stream_sid", streamSid),
			slog.Duration("duration", duration),
			slog.Uint64("caller_chunks", stats.CallerChunks),
			slog.Uint64("frames_paced", stats.FramesPaced),
		}
		if cause != nil {
			attrs = append(attrs, slog.String("cause", cause.Error()))
		}
		s.logger.Info("Session closed", attrs...)

		s.metrics.RecordSessionDestroyed(duration.Seconds())

		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	ID           string         `json:"id"`
	StreamSid    string         `json:"stream_sid"`
	State        string         `json:"state"`
	StartTime    time.Time      `json:"start_time"`
	LastActivity time.Time      `json:"last_activity"`
	Duration     time.Duration  `json:"duration"`
	QueueDepth   int            `json:"queue_depth"`
	Ready        bool           `json:"ready"`
	Context      DynamicContext `json:"context"`
	Stats        Stats          `json:"stats"`
}

// Info returns a monitoring snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready := false
	if s.gate != nil {
		ready = s.gate.Ready()
	}

	return SessionInfo{
		ID:           s.ID,
		StreamSid:    s.streamSid,
		State:        s.state.String(),
		StartTime:    s.StartTime,
		LastActivity: s.lastActivity,
		Duration:     time.Since(s.StartTime),
		QueueDepth:   len(s.queue),
		Ready:        ready,
		Context:      s.context,
		Stats:        s.stats,
	}
}
