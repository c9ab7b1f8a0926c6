package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/voice-reminder-service/internal/capture"
	"github.com/skypro1111/voice-reminder-service/internal/config"
	"github.com/skypro1111/voice-reminder-service/internal/gateway"
	"github.com/skypro1111/voice-reminder-service/internal/media"
	"github.com/skypro1111/voice-reminder-service/internal/metrics"
	"github.com/skypro1111/voice-reminder-service/internal/notify"
	"github.com/skypro1111/voice-reminder-service/internal/playback"
	"github.com/skypro1111/voice-reminder-service/internal/session"
	"github.com/skypro1111/voice-reminder-service/internal/transcript"
)

const (
	serviceName    = "voice-reminder-service"
	serviceVersion = "1.0.0"

	maxRequestBody = 64 << 10
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// Conversation is the session surface exposed over HTTP
type Conversation interface {
	StartSession(details session.SessionDetails) error
	BeginCapture() error
	EndCapture() error
	Teardown()
	Info() session.Info
	Transcript() []transcript.Entry
}

// Components are the parts of the service the API reports on. Media, Capture,
// Player and Gateway may be nil.
type Components struct {
	Conversation Conversation
	Hub          *notify.Hub
	Gateway      *gateway.Client
	Media        *media.Endpoint
	Capture      *capture.Controller
	Player       *playback.Player
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
}

// HTTPServer serves the session API, notifications and monitoring endpoints
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	components Components
	upgrader   websocket.Upgrader

	// Server state
	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(appConfig *config.Config, components Components, logger *slog.Logger) *HTTPServer {
	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		components: components,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startTime: time.Now(),
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the router with every route registered
func (h *HTTPServer) Handler() http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/session", h.withMetrics("/api/session", h.handleStartSession)).Methods(http.MethodPost)
	api.HandleFunc("/session", h.withMetrics("/api/session", h.handleSessionInfo)).Methods(http.MethodGet)
	api.HandleFunc("/session", h.withMetrics("/api/session", h.handleTeardown)).Methods(http.MethodDelete)
	api.HandleFunc("/session/capture", h.withMetrics("/api/session/capture", h.handleBeginCapture)).Methods(http.MethodPost)
	api.HandleFunc("/session/capture", h.withMetrics("/api/session/capture", h.handleEndCapture)).Methods(http.MethodDelete)
	api.HandleFunc("/session/transcript", h.withMetrics("/api/session/transcript", h.handleTranscript)).Methods(http.MethodGet)
	api.HandleFunc("/notifications", h.withMetrics("/api/notifications", h.handleNotifications)).Methods(http.MethodGet)

	// The websocket handler hijacks the connection, so it is not wrapped
	api.HandleFunc("/notifications/ws", h.handleNotificationStream).Methods(http.MethodGet)

	router.HandleFunc("/health", h.withMetrics("/health", h.handleHealth)).Methods(http.MethodGet)
	router.HandleFunc("/config", h.withMetrics("/config", h.handleConfig)).Methods(http.MethodGet)
	router.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(h.components.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/", h.withMetrics("/", h.handleRoot)).Methods(http.MethodGet)

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return router
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.components.Metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.components.Metrics.RecordHTTPError(r.Method, endpoint, errorType)
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
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleStartSession implements POST /api/session
func (h *HTTPServer) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var details session.SessionDetails
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(&details); err != nil {
		writeError(w, http.StatusBadRequest, "invalid session details: "+err.Error())
		return
	}

	err := h.components.Conversation.StartSession(details)

	var validationErr *session.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": validationErr.Error(),
			"field": validationErr.Field,
		})
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, h.components.Conversation.Info())
	}
}

// handleSessionInfo implements GET /api/session
func (h *HTTPServer) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.components.Conversation.Info())
}

// handleTeardown implements DELETE /api/session
func (h *HTTPServer) handleTeardown(w http.ResponseWriter, r *http.Request) {
	h.components.Conversation.Teardown()
	w.WriteHeader(http.StatusNoContent)
}

// handleBeginCapture implements POST /api/session/capture
func (h *HTTPServer) handleBeginCapture(w http.ResponseWriter, r *http.Request) {
	err := h.components.Conversation.BeginCapture()
	switch {
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrNoSession):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, h.components.Conversation.Info())
	}
}

// handleEndCapture implements DELETE /api/session/capture
func (h *HTTPServer) handleEndCapture(w http.ResponseWriter, r *http.Request) {
	err := h.components.Conversation.EndCapture()
	switch {
	case errors.Is(err, session.ErrNotCapturing):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, h.components.Conversation.Info())
	}
}

// handleTranscript implements GET /api/session/transcript
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	info := h.components.Conversation.Info()
	entries := h.components.Conversation.Transcript()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": info.SessionID,
		"status":     info.Status,
		"count":      len(entries),
		"entries":    entries,
	})
}

// handleNotifications implements GET /api/notifications?after={seq}
func (h *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	after, err := afterParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	notifications := make([]notify.Notification, 0)
	for _, n := range h.components.Hub.Recent() {
		if n.Seq > after {
			notifications = append(notifications, n)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"timestamp":     time.Now().UTC(),
	})
}

// handleNotificationStream implements GET /api/notifications/ws. Each notification
// is sent as one JSON text frame; the backlog after ?after= is replayed first.
func (h *HTTPServer) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	after, err := afterParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.components.Metrics.RecordHTTPError(r.Method, "/api/notifications/ws", "upgrade_failed")
		return
	}
	defer conn.Close()

	notifications, unsubscribe := h.components.Hub.Subscribe(after)
	defer unsubscribe()

	h.logger.Debug("Notification subscriber connected", slog.String("remote_addr", r.RemoteAddr))

	// The client sends nothing; reading detects when it goes away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-closed:
			h.logger.Debug("Notification subscriber disconnected", slog.String("remote_addr", r.RemoteAddr))
			return
		}
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := h.components.Conversation.Info()

	components := map[string]interface{}{
		"session": map[string]interface{}{
			"status": info.Status,
			"active": info.Active,
		},
	}

	if h.components.Capture != nil {
		components["capture"] = map[string]interface{}{
			"active": h.components.Capture.Active(),
		}
	}

	if h.components.Media != nil {
		stats := h.components.Media.Statistics()
		components["media"] = map[string]interface{}{
			"status":           "running",
			"packets_received": stats.PacketsReceived,
			"packets_sent":     stats.PacketsSent,
			"parse_errors":     stats.ParseErrors,
			"peer":             stats.Peer,
		}
	}

	if h.components.Gateway != nil {
		stats := h.components.Gateway.GetStats()
		components["gateway"] = map[string]interface{}{
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	apiKey := ""
	if h.config.Gateway.APIKey != "" {
		apiKey = "[redacted]"
	}

	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":    h.config.HTTP.Port,
			"address": h.config.HTTP.Address,
		},
		"media": map[string]interface{}{
			"enabled":           h.config.Media.Enabled,
			"bind_address":      h.config.Media.BindAddress,
			"udp_port":          h.config.Media.UDPPort,
			"remote_address":    h.config.Media.RemoteAddress,
			"stream_id":         h.config.Media.StreamID,
			"capture_enabled":   h.config.Media.CaptureEnabled,
			"frame_duration_ms": h.config.Media.FrameDurationMs,
		},
		"audio": map[string]interface{}{
			"sample_rate":       h.config.Audio.SampleRate,
			"max_clip_duration": h.config.Audio.MaxClipDuration,
		},
		"vad": map[string]interface{}{
			"threshold":   h.config.VAD.Threshold,
			"window_size": h.config.VAD.WindowSize,
		},
		"gateway": map[string]interface{}{
			"base_url":       h.config.Gateway.BaseURL,
			"api_key":        apiKey,
			"timeout":        h.config.Gateway.Timeout,
			"max_concurrent": h.config.Gateway.MaxConcurrent,
			"language":       h.config.Gateway.Language,
			"voice":          h.config.Gateway.Voice,
		},
		"conversation": map[string]interface{}{
			"seed_message":         h.config.Conversation.SeedMessage,
			"step_timeout":         h.config.Conversation.StepTimeout,
			"notification_backlog": h.config.Conversation.NotificationBacklog,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	published, dropped, subscribers := h.components.Hub.Stats()

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"session":   h.components.Conversation.Info(),
		"notifications": map[string]interface{}{
			"published":   published,
			"dropped":     dropped,
			"subscribers": subscribers,
		},
	}

	if h.components.Gateway != nil {
		stats["gateway"] = h.components.Gateway.GetStats()
	}
	if h.components.Media != nil {
		stats["media"] = h.components.Media.Statistics()
	}
	if h.components.Capture != nil {
		stats["capture"] = h.components.Capture.Stats()
	}
	if h.components.Player != nil {
		stats["playback"] = h.components.Player.Stats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "Voice EMI Reminder Service",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                            "API documentation",
			"POST /api/session":                "Start a session with loan details",
			"GET /api/session":                 "Current session status",
			"DELETE /api/session":              "Tear down the session",
			"POST /api/session/capture":        "Start recording the reply",
			"DELETE /api/session/capture":      "Stop recording and send the reply",
			"GET /api/session/transcript":      "Conversation transcript",
			"GET /api/notifications?after=":    "Recent notifications",
			"GET /api/notifications/ws?after=": "Notification stream (WebSocket)",
			"GET /health":                      "Service health check",
			"GET /config":                      "Get service configuration",
			"GET /stats":                       "Get service statistics",
			"GET /metrics":                     "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func afterParam(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("after")
	if raw == "" {
		return 0, nil
	}
	after, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid after parameter %q", raw)
	}
	return after, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
