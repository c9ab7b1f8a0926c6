// Package metrics defines the Prometheus instrumentation of the voice reminder service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Statuses reported by the session status gauge
var sessionStatuses = []string{
	"idle", "starting", "capturing", "transcribing",
	"awaiting_reply", "synthesizing", "playing", "failed",
}

// Metrics contains all Prometheus metrics for the voice reminder service
type Metrics struct {
	// Media endpoint metrics
	PacketsReceived prometheus.Counter
	PacketsSent     prometheus.Counter
	ParseErrors     prometheus.Counter

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsFailed  prometheus.Counter
	TurnsCompleted  prometheus.Counter
	SessionStatus   *prometheus.GaugeVec
	StepDuration    *prometheus.HistogramVec
	StepFailures    *prometheus.CounterVec

	// Audio metrics
	ClipDuration     prometheus.Histogram
	ClipVoiceRatio   prometheus.Histogram
	PlaybackDuration prometheus.Histogram

	// Gateway metrics
	GatewayRequests *prometheus.CounterVec
	GatewayDuration *prometheus.HistogramVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_reminder_media_packets_received_total",
			Help: "Total number of media packets received",
		}),
		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_reminder_media_packets_sent_total",
			Help: "Total number of media packets sent",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_reminder_media_parse_errors_total",
			Help: "Total number of media packet parsing errors",
		}),

		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_reminder_sessions_started_total",
			Help: "Total number of sessions started",
		}),
		SessionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_reminder_sessions_failed_total",
			Help: "Total number of sessions that failed to save the client record",
		}),
		TurnsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_reminder_turns_completed_total",
			Help: "Total number of assistant turns appended to a transcript",
		}),
		SessionStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voice_reminder_session_status",
			Help: "Current session status (1 for the active status)",
		}, []string{"status"}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_reminder_step_duration_seconds",
			Help:    "Duration of conversation steps",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"step"}),
		StepFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_reminder_step_failures_total",
			Help: "Total number of failed conversation steps",
		}, []string{"step"}),

		ClipDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_reminder_clip_duration_seconds",
			Help:    "Duration of captured clips",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),
		ClipVoiceRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_reminder_clip_voice_ratio",
			Help:    "Fraction of voiced windows in captured clips",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),
		PlaybackDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_reminder_playback_duration_seconds",
			Help:    "Duration of played speech",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),

		GatewayRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_reminder_gateway_requests_total",
			Help: "Total number of conversational backend requests",
		}, []string{"operation", "result"}),
		GatewayDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_reminder_gateway_request_duration_seconds",
			Help:    "Duration of conversational backend requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"operation"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_reminder_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_reminder_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_reminder_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordPacketSent increments the packets sent counter
func (m *Metrics) RecordPacketSent() {
	m.PacketsSent.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionFailed increments the sessions failed counter
func (m *Metrics) RecordSessionFailed() {
	m.SessionsFailed.Inc()
}

// RecordTurnCompleted increments the turns completed counter
func (m *Metrics) RecordTurnCompleted() {
	m.TurnsCompleted.Inc()
}

// SetStatus marks status as the active session status
func (m *Metrics) SetStatus(status string) {
	for _, s := range sessionStatuses {
		value := 0.0
		if s == status {
			value = 1
		}
		m.SessionStatus.WithLabelValues(s).Set(value)
	}
}

// RecordStep records the outcome and duration of one conversation step
func (m *Metrics) RecordStep(step string, success bool, durationSeconds float64) {
	m.StepDuration.WithLabelValues(step).Observe(durationSeconds)
	if !success {
		m.StepFailures.WithLabelValues(step).Inc()
	}
}

// RecordClip records a captured clip
func (m *Metrics) RecordClip(durationSeconds, voiceRatio float64) {
	m.ClipDuration.Observe(durationSeconds)
	m.ClipVoiceRatio.Observe(voiceRatio)
}

// RecordPlayback records completed playback
func (m *Metrics) RecordPlayback(durationSeconds float64) {
	m.PlaybackDuration.Observe(durationSeconds)
}

// RecordGatewayRequest records a backend request
func (m *Metrics) RecordGatewayRequest(operation string, success bool, durationSeconds float64) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.GatewayRequests.WithLabelValues(operation, result).Inc()
	m.GatewayDuration.WithLabelValues(operation).Observe(durationSeconds)
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
