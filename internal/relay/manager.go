package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/metrics"
	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/protocol"
)

// cleanupInterval is how often the manager scans for idle sessions.
const cleanupInterval = 30 * time.Second

// AgentDialer opens the agent-side socket for a new session. Implemented by
// the agent client; replaced by fakes in tests.
type AgentDialer func(ctx context.Context) (Conn, error)

// Manager owns all active call sessions: it orchestrates the connecting
// sequence for new calls, tracks sessions for the monitoring API and cleans
// up sessions that have gone idle.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	metrics  *metrics.Metrics
	config   Config
	dial     AgentDialer

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager and starts its cleanup routine.
func NewManager(logger *slog.Logger, m *metrics.Metrics, config Config, dial AgentDialer) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
		metrics:  m,
		config:   config,
		dial:     dial,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr
}

// StartSession runs the Connecting sequence for a freshly accepted telephony
// socket: obtain and open the agent connection, send the caller's dynamic
// context once, then arm the readiness gate and the agent read loop. A
// failure to reach the agent is fatal to this session only and moves it
// straight to Closing.
func (m *Manager) StartSession(ctx context.Context, twilioConn Conn, dynCtx DynamicContext) (*Session, error) {
	id := uuid.NewString()
	session := newSession(id, m.logger, m.metrics, m.config, twilioConn, dynCtx, m.removeSession)

	session.logger.Info("Session connecting",
		slog.String("caller_name", dynCtx.CallerName),
	)

	agentConn, err := m.dial(ctx)
	if err != nil {
		m.metrics.UpstreamFailures.Inc()
		session.Close("upstream connect failure", err)
		return nil, fmt.Errorf("failed to open agent connection: %w", err)
	}

	session.mu.Lock()
	session.agent = agentConn
	session.mu.Unlock()

	initData := protocol.NewInitiationClientData(dynCtx.Variables())
	if err := session.sendAgent(initData); err != nil {
		m.metrics.UpstreamFailures.Inc()
		session.Close("failed to send session context", err)
		return nil, fmt.Errorf("failed to send initiation data: %w", err)
	}

	session.mu.Lock()
	session.state = StateAwaitingReady
	session.gate = NewReadyGate(m.config.ReadyFallback, session.onGateOpen)
	session.mu.Unlock()

	m.mu.Lock()
	m.sessions[id] = session
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.RecordSessionCreated()
	m.metrics.SetActiveSessions(count)

	go session.runAgentLoop()

	session.logger.Info("Session awaiting agent readiness",
		slog.Int("active_sessions", count),
	)

	return session, nil
}

// GetSession retrieves an active session by its identifier.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// GetActiveSessionCount returns the number of currently active sessions.
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions (for monitoring).
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}

	return sessions
}

// removeSession drops a closed session from the registry. Invoked by the
// session's own teardown, so sessions unregister themselves regardless of
// which side failed first.
func (m *Manager) removeSession(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetActiveSessions(count)
}

// Stop gracefully stops the manager and tears down every active session.
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	for _, session := range m.GetAllSessions() {
		session.Close("service shutting down", nil)
	}

	m.cancel()
	<-m.cleanup

	m.logger.Info("Session manager stopped",
		slog.Int("remaining_sessions", m.GetActiveSessionCount()),
	)
}

// startCleanupRoutine runs in a separate goroutine to tear down idle sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("idle_timeout", m.config.IdleTimeout),
		slog.Duration("check_interval", cleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupIdleSessions()
		}
	}
}

// cleanupIdleSessions closes sessions with no socket activity beyond the
// configured timeout.
func (m *Manager) cleanupIdleSessions() {
	now := time.Now()
	var idle []*Session

	m.mu.RLock()
	for _, session := range m.sessions {
		session.mu.Lock()
		lastActivity := session.lastActivity
		session.mu.Unlock()

		if now.Sub(lastActivity) > m.config.IdleTimeout {
			idle = append(idle, session)
		}
	}
	m.mu.RUnlock()

	for _, session := range idle {
		session.Close("idle timeout", nil)
	}
}
