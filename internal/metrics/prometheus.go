package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice bridge. The counters
// are diagnostic only and never drive relay control flow.
type Metrics struct {
	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionDuration   prometheus.Histogram
	UpstreamFailures  prometheus.Counter

	// Telephony-side metrics
	TwilioEvents          *prometheus.CounterVec
	CallerChunksForwarded prometheus.Counter
	CallerChunksDropped   prometheus.Counter

	// Agent-side metrics
	AgentEvents       *prometheus.CounterVec
	NormalizeFailures prometheus.Counter

	// Relay metrics
	ParseErrors   *prometheus.CounterVec
	FramesQueued  prometheus.Counter
	FramesPaced   prometheus.Counter
	FramesTrimmed prometheus.Counter
	FramesFlushed prometheus.Counter
	SendErrors    *prometheus.CounterVec

	// Signed URL issuance metrics
	SignedURLRequests prometheus.Counter
	SignedURLFailures prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the given
// registerer (prometheus.DefaultRegisterer in production).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_active_sessions",
			Help: "Current number of active call sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_sessions_created_total",
			Help: "Total number of call sessions created",
		}),
		SessionsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_sessions_destroyed_total",
			Help: "Total number of call sessions destroyed",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_session_duration_seconds",
			Help:    "Duration of call sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		UpstreamFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_upstream_connect_failures_total",
			Help: "Total number of failures obtaining or opening the agent connection",
		}),

		// Telephony-side metrics
		TwilioEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_twilio_events_total",
			Help: "Total number of Twilio media-stream events received",
		}, []string{"event"}),
		CallerChunksForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_caller_chunks_forwarded_total",
			Help: "Total number of caller audio chunks forwarded to the agent",
		}),
		CallerChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_caller_chunks_dropped_total",
			Help: "Total number of caller audio chunks dropped before the agent was ready",
		}),

		// Agent-side metrics
		AgentEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_agent_events_total",
			Help: "Total number of agent events received by kind",
		}, []string{"kind"}),
		NormalizeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_normalize_failures_total",
			Help: "Total number of agent audio payloads dropped by the container normalizer",
		}),

		// Relay metrics
		ParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_parse_errors_total",
			Help: "Total number of malformed socket messages by side",
		}, []string{"side"}),
		FramesQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_frames_queued_total",
			Help: "Total number of agent audio frames appended to outbound queues",
		}),
		FramesPaced: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_frames_paced_total",
			Help: "Total number of frames delivered to Twilio by the pacer",
		}),
		FramesTrimmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_frames_trimmed_total",
			Help: "Total number of oldest frames trimmed from full outbound queues",
		}),
		FramesFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_frames_flushed_total",
			Help: "Total number of undelivered frames flushed on interruption",
		}),
		SendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_send_errors_total",
			Help: "Total number of failed socket sends by side",
		}, []string{"side"}),

		// Signed URL issuance metrics
		SignedURLRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_signed_url_requests_total",
			Help: "Total number of signed connection URL requests",
		}),
		SignedURLFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_signed_url_failures_total",
			Help: "Total number of failed signed connection URL requests",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the destroyed counter and records duration
func (m *Metrics) RecordSessionDestroyed(durationSeconds float64) {
	m.SessionsDestroyed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordTwilioEvent counts one inbound Twilio event
func (m *Metrics) RecordTwilioEvent(event string) {
	m.TwilioEvents.WithLabelValues(event).Inc()
}

// RecordAgentEvent counts one inbound agent event by normalized kind
func (m *Metrics) RecordAgentEvent(kind string) {
	m.AgentEvents.WithLabelValues(kind).Inc()
}

// RecordParseError counts a malformed message on the given side
func (m *Metrics) RecordParseError(side string) {
	m.ParseErrors.WithLabelValues(side).Inc()
}

// RecordSendError counts a failed socket send on the given side
func (m *Metrics) RecordSendError(side string) {
	m.SendErrors.WithLabelValues(side).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
