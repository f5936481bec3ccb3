package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/agent"
	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/config"
	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/metrics"
	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/relay"
)

// stubAgentConn blocks reads until closed and records writes, standing in for
// the upstream agent socket.
type stubAgentConn struct {
	mu        sync.Mutex
	written   []any
	reads     chan []byte
	closeOnce sync.Once
}

func newStubAgentConn() *stubAgentConn {
	return &stubAgentConn{reads: make(chan []byte)}
}

func (c *stubAgentConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.reads
	if !ok {
		return 0, nil, errors.New("use of closed connection")
	}
	return 1, data, nil
}

func (c *stubAgentConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, v)
	return nil
}

func (c *stubAgentConn) Close() error {
	c.closeOnce.Do(func() { close(c.reads) })
	return nil
}

func testServerConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:       8080,
			Address:    "127.0.0.1",
			PublicHost: "bridge.example.com",
		},
		Agent: config.AgentConfig{
			APIURL:      "https://api.example.com",
			AgentID:     "agent_123",
			APIKey:      "secret-key",
			DialTimeout: 5,
		},
		Audio: config.AudioConfig{
			SampleRate:     8000,
			Channels:       1,
			MaxQueueFrames: 500,
		},
		Session: config.SessionConfig{
			ReadyFallbackMs: 1500,
			IdleTimeout:     300,
		},
		Logging: config.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func newTestServer(t *testing.T) (*HTTPServer, *stubAgentConn) {
	t.Helper()

	cfg := testServerConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewMetrics(prometheus.NewRegistry())

	agentConn := newStubAgentConn()
	manager := relay.NewManager(logger, m, relay.Config{
		FrameInterval:  20 * time.Millisecond,
		ReadyFallback:  cfg.Session.GetReadyFallback(),
		MaxQueueFrames: cfg.Audio.MaxQueueFrames,
		IdleTimeout:    cfg.Session.GetIdleTimeout(),
	}, func(ctx context.Context) (relay.Conn, error) {
		return agentConn, nil
	})
	t.Cleanup(manager.Stop)

	client, err := agent.NewClient(agent.Config{
		APIURL:      cfg.Agent.APIURL,
		AgentID:     cfg.Agent.AgentID,
		APIKey:      cfg.Agent.APIKey,
		DialTimeout: cfg.Agent.GetDialTimeout(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	return NewHTTPServer(cfg, logger, manager, client, m), agentConn
}

func TestHandleVoice(t *testing.T) {
	server, _ := newTestServer(t)

	form := url.Values{
		"CallSid":    {"CA999"},
		"From":       {"+15551234567"},
		"CallerName": {"Alice"},
	}
	req := httptest.NewRequest(http.MethodPost, "/voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	server.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/xml" {
		t.Errorf("content type = %q, want text/xml", got)
	}

	body := rec.Body.String()
	want := `url="wss://bridge.example.com/media?caller_name=Alice&amp;caller_phone=%2B15551234567"`
	if !strings.Contains(body, want) {
		t.Errorf("TwiML answer missing stream URL:\n%s", body)
	}
	if !strings.Contains(body, "<Connect>") {
		t.Errorf("TwiML answer missing Connect verb:\n%s", body)
	}
}

func TestHandleVoiceRejectsGet(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/voice", nil)
	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleMediaStartsSession(t *testing.T) {
	server, agentConn := newTestServer(t)

	ts := httptest.NewServer(server.server.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/media?caller_name=Bob&caller_phone=%2B15550001111"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial media endpoint: %v", err)
	}
	defer conn.Close()

	// The session registers and sends the caller context upstream.
	deadline := time.After(time.Second)
	for server.manager.GetActiveSessionCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no session registered after media connect")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sessions := server.manager.GetAllSessions()
	if len(sessions) != 1 {
		t.Fatalf("active sessions = %d, want 1", len(sessions))
	}
	info := sessions[0].Info()
	if info.Context.CallerName != "Bob" {
		t.Errorf("caller name = %q, want Bob", info.Context.CallerName)
	}
	if info.Context.CallerPhone != "+15550001111" {
		t.Errorf("caller phone = %q", info.Context.CallerPhone)
	}
	if info.Context.Date == "" || info.Context.Time == "" {
		t.Error("date and time should be computed at connection time")
	}

	agentConn.mu.Lock()
	initSent := len(agentConn.written) > 0
	agentConn.mu.Unlock()
	if !initSent {
		t.Error("caller context not sent to the agent")
	}

	// Closing the telephony socket tears the session down.
	conn.Close()
	deadline = time.After(time.Second)
	for server.manager.GetActiveSessionCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("session not removed after socket close")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestMediaDefaultsCallerName(t *testing.T) {
	server, _ := newTestServer(t)

	ts := httptest.NewServer(server.server.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/media"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial media endpoint: %v", err)
	}
	defer conn.Close()

	deadline := time.After(time.Second)
	for server.manager.GetActiveSessionCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("no session registered after media connect")
		case <-time.After(5 * time.Millisecond):
		}
	}

	info := server.manager.GetAllSessions()[0].Info()
	if info.Context.CallerName != defaultCallerName {
		t.Errorf("caller name = %q, want default %q", info.Context.CallerName, defaultCallerName)
	}
}

func TestHandleHealth(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var health map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("status field = %v, want healthy", health["status"])
	}
}

func TestHandleCalls(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/calls", nil)
	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode calls response: %v", err)
	}
	if got := response["total_calls"].(float64); got != 0 {
		t.Errorf("total_calls = %v, want 0", got)
	}
}

func TestHandleCallDetailNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/calls/no-such-id", nil)
	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleConfigOmitsSecrets(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	if strings.Contains(body, "secret-key") {
		t.Error("config endpoint leaked the API key")
	}
	if !strings.Contains(body, "agent_123") {
		t.Error("config endpoint should include the agent id")
	}
}

func TestHandleStats(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var stats map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats response: %v", err)
	}
	if _, ok := stats["calls"]; !ok {
		t.Error("stats response missing calls section")
	}
}
