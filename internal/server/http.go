package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/agent"
	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/config"
	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/metrics"
	"github.com/07jkumar-dotcom/elevenlabs-twilio-ai-caller/internal/relay"
)

// HTTPServer hosts the telephony webhook, the media-stream websocket endpoint
// and the monitoring API.
type HTTPServer struct {
	server      *http.Server
	logger      *slog.Logger
	config      *config.Config
	manager     *relay.Manager
	agentClient *agent.Client
	metrics     *metrics.Metrics
	upgrader    websocket.Upgrader

	startTime time.Time
}

// NewHTTPServer creates the server with all routes configured
func NewHTTPServer(cfg *config.Config, logger *slog.Logger,
	manager *relay.Manager, agentClient *agent.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:      logger,
		config:      cfg,
		manager:     manager,
		agentClient: agentClient,
		metrics:     m,
		upgrader: websocket.Upgrader{
			// Twilio's media-stream client sends no Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
		// No read/write timeouts: the media endpoint holds its connection
		// open for the duration of a call.
	}

	return h
}

// setupRoutes configures HTTP routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Telephony entry points
	mux.HandleFunc("/voice", h.withMetrics("/voice", h.handleVoice))
	mux.HandleFunc("/media", h.handleMedia) // websocket upgrade, not wrapped

	// Monitoring endpoints
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/calls", h.withMetrics("/calls", h.handleCalls))
	mux.HandleFunc("/calls/", h.withMetrics("/calls/{id}", h.handleCallDetail))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
		slog.String("public_host", h.config.Server.PublicHost),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	agentStats := h.agentClient.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "elevenlabs-twilio-ai-caller",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"session_manager": map[string]interface{}{
				"status":       "running",
				"active_calls": h.manager.GetActiveSessionCount(),
			},
			"agent_client": map[string]interface{}{
				"status":          "running",
				"total_requests":  agentStats.TotalRequests,
				"failed_requests": agentStats.FailedRequests,
				"success_rate":    agentStats.SuccessRate,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleCalls implements the /calls endpoint
func (h *HTTPServer) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.manager.GetAllSessions()
	infos := make([]relay.SessionInfo, 0, len(sessions))

	for _, session := range sessions {
		infos = append(infos, session.Info())
	}

	response := map[string]interface{}{
		"total_calls": len(infos),
		"timestamp":   time.Now().UTC(),
		"calls":       infos,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleCallDetail implements the /calls/{id} endpoint
func (h *HTTPServer) handleCallDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Path[len("/calls/"):]
	if id == "" {
		http.Error(w, "Call ID required", http.StatusBadRequest)
		return
	}

	session, exists := h.manager.GetSession(id)
	if !exists {
		http.Error(w, "Call not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session.Info())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"port":        h.config.Server.Port,
			"address":     h.config.Server.Address,
			"public_host": h.config.Server.PublicHost,
		},
		"agent": map[string]interface{}{
			"api_url":      h.config.Agent.APIURL,
			"agent_id":     h.config.Agent.AgentID,
			"dial_timeout": h.config.Agent.DialTimeout,
			// Note: API key is intentionally omitted for security
		},
		"audio": map[string]interface{}{
			"sample_rate":      h.config.Audio.SampleRate,
			"channels":         h.config.Audio.Channels,
			"max_queue_frames": h.config.Audio.MaxQueueFrames,
		},
		"session": map[string]interface{}{
			"ready_fallback_ms": h.config.Session.ReadyFallbackMs,
			"idle_timeout":      h.config.Session.IdleTimeout,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"calls": map[string]interface{}{
			"active_count": h.manager.GetActiveSessionCount(),
		},
		"agent_client": h.agentClient.GetStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "ElevenLabs Twilio Voice Bridge",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"POST /voice":      "Twilio voice webhook, answers with a media-stream TwiML",
			"GET /media":       "Twilio media-stream websocket endpoint",
			"GET /":            "API documentation",
			"GET /health":      "Service health check",
			"GET /calls":       "List all active calls",
			"GET /calls/{id}": "Get detailed call information",
			"GET /config":      "Get service configuration",
			"GET /stats":       "Get service statistics",
			"GET /metrics":     "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
