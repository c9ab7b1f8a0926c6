package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-reminder-service/internal/audio"
	"github.com/skypro1111/voice-reminder-service/internal/session"
)

// Operation names used in errors, logs and metrics
const (
	OpSaveClient = "save_client"
	OpTranscribe = "transcribe"
	OpChat       = "chat"
	OpSynthesize = "synthesize"
	OpDownload   = "download_speech"
)

const maxResponseSize = 32 << 20

// Recorder receives per-request metrics
type Recorder interface {
	RecordGatewayRequest(operation string, success bool, durationSeconds float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordGatewayRequest(string, bool, float64) {}

// Config contains backend client configuration
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	MaxConcurrent int
	Language      string
	Voice         string
}

// Client talks to the conversational backend over HTTP. It never retries:
// a failed call is reported once and the caller decides what happens next.
type Client struct {
	config     Config
	baseURL    *url.URL
	httpClient *http.Client
	semaphore  chan struct{} // bounds concurrent requests
	logger     *slog.Logger
	recorder   Recorder

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

var _ session.Gateway = (*Client)(nil)

// NewClient creates a new backend HTTP client
func NewClient(config Config, logger *slog.Logger, recorder Recorder) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	baseURL, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", config.BaseURL)
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if recorder == nil {
		recorder = nopRecorder{}
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		baseURL:    baseURL,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger,
		recorder:   recorder,
	}, nil
}

// SaveClient persists the debtor record and returns the backend's client ID
func (c *Client) SaveClient(ctx context.Context, details session.SessionDetails) (string, error) {
	resp, err := c.postJSON(ctx, OpSaveClient, "/emi-reminder", details)
	if err != nil {
		return "", err
	}

	var body map[string]any
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return "", emptyResponse(OpSaveClient, resp.status, "response is not a JSON object")
	}

	id := firstString(body, "client_id", "clientId", "id")
	if id == "" {
		return "", emptyResponse(OpSaveClient, resp.status, "response has no client id")
	}
	return id, nil
}

// Transcribe uploads a clip and returns its text
func (c *Client) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	if len(clip.Data) == 0 {
		return "", emptyResponse(OpTranscribe, 0, "clip has no audio")
	}

	requestID := uuid.NewString()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", requestID+extension(clip.ContentType))
	if err != nil {
		return "", networkError(OpTranscribe, 0, fmt.Errorf("failed to create form file: %w", err))
	}
	if _, err := fileWriter.Write(clip.Data); err != nil {
		return "", networkError(OpTranscribe, 0, fmt.Errorf("failed to write audio data: %w", err))
	}

	fields := map[string]string{
		"request_id":  requestID,
		"sample_rate": fmt.Sprintf("%d", clip.SampleRate),
		"duration":    fmt.Sprintf("%.3f", clip.Duration.Seconds()),
		"voice_ratio": fmt.Sprintf("%.3f", clip.VoiceRatio),
	}
	if c.config.Language != "" {
		fields["language"] = c.config.Language
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return "", networkError(OpTranscribe, 0, fmt.Errorf("failed to write field %s: %w", key, err))
		}
	}
	if err := writer.Close(); err != nil {
		return "", networkError(OpTranscribe, 0, fmt.Errorf("failed to close multipart writer: %w", err))
	}

	resp, err := c.do(ctx, OpTranscribe, http.MethodPost, c.endpoint("/transcribe"), &buf, writer.FormDataContentType(), requestID)
	if err != nil {
		return "", err
	}

	text := resp.text("text", "transcript", "transcription")
	if text == "" {
		return "", emptyResponse(OpTranscribe, resp.status, "no transcription text")
	}
	return text, nil
}

// Chat sends the latest utterance and returns the backend's reply
func (c *Client) Chat(ctx context.Context, clientID, message string) (string, error) {
	request := struct {
		ClientID string `json:"client_id,omitempty"`
		Message  string `json:"message"`
	}{clientID, message}

	resp, err := c.postJSON(ctx, OpChat, "/chat", request)
	if err != nil {
		return "", err
	}

	reply := resp.text("reply", "response", "text")
	if reply == "" {
		return "", emptyResponse(OpChat, resp.status, "no reply text")
	}
	return reply, nil
}

// Synthesize converts text to speech. A response carrying an audio URL is
// downloaded so the caller always receives audio bytes.
func (c *Client) Synthesize(ctx context.Context, text string) (audio.Speech, error) {
	request := struct {
		Text  string `json:"text"`
		Voice string `json:"voice,omitempty"`
	}{text, c.config.Voice}

	resp, err := c.postJSON(ctx, OpSynthesize, "/synthesize", request)
	if err != nil {
		return audio.Speech{}, err
	}

	if !resp.isJSON() {
		if len(resp.body) == 0 {
			return audio.Speech{}, emptyResponse(OpSynthesize, resp.status, "no audio in response")
		}
		return audio.Speech{Audio: resp.body, ContentType: resp.contentType}, nil
	}

	var body map[string]any
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return audio.Speech{}, emptyResponse(OpSynthesize, resp.status, "response is not a JSON object")
	}
	audioURL := firstString(body, "audio_url", "audioUrl", "url")
	if audioURL == "" {
		return audio.Speech{}, emptyResponse(OpSynthesize, resp.status, "response has no audio url")
	}

	return c.download(ctx, audioURL)
}

// download fetches synthesized audio from a URL returned by the backend
func (c *Client) download(ctx context.Context, rawURL string) (audio.Speech, error) {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return audio.Speech{}, emptyResponse(OpDownload, 0, fmt.Sprintf("invalid audio url %q", rawURL))
	}
	target := c.baseURL.ResolveReference(ref).String()

	resp, err := c.do(ctx, OpDownload, http.MethodGet, target, nil, "", uuid.NewString())
	if err != nil {
		return audio.Speech{}, err
	}
	if len(resp.body) == 0 {
		return audio.Speech{}, emptyResponse(OpDownload, resp.status, "downloaded audio is empty")
	}

	return audio.Speech{Audio: resp.body, ContentType: resp.contentType, URL: target}, nil
}

// response is a successful HTTP exchange
type response struct {
	status      int
	contentType string
	body        []byte
}

func (r *response) isJSON() bool {
	return r.contentType == "application/json" || strings.HasSuffix(r.contentType, "+json")
}

// text extracts a string field from a JSON body, or the whole body when it is plain text
func (r *response) text(keys ...string) string {
	if !r.isJSON() {
		if strings.HasPrefix(r.contentType, "text/") {
			return strings.TrimSpace(string(r.body))
		}
		return ""
	}

	var body map[string]any
	if err := json.Unmarshal(r.body, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(firstString(body, keys...))
}

func (c *Client) postJSON(ctx context.Context, op, path string, payload any) (*response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, networkError(op, 0, fmt.Errorf("failed to encode request: %w", err))
	}
	return c.do(ctx, op, http.MethodPost, c.endpoint(path), bytes.NewReader(data), "application/json", uuid.NewString())
}

// do performs one HTTP request under the concurrency limit
func (c *Client) do(ctx context.Context, op, method, target string, body io.Reader, contentType, requestID string) (*response, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, networkError(op, 0, ctx.Err())
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	resp, err := c.roundTrip(ctx, op, method, target, body, contentType, requestID)
	elapsed := time.Since(startTime)
	c.recorder.RecordGatewayRequest(op, err == nil, elapsed.Seconds())

	if err != nil {
		c.incrementFailedRequests()
		c.logger.Warn("Backend request failed",
			slog.String("operation", op),
			slog.String("request_id", requestID),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(elapsed)

	c.logger.Debug("Backend request completed",
		slog.String("operation", op),
		slog.String("request_id", requestID),
		slog.Int("status", resp.status),
		slog.Int("bytes", len(resp.body)),
		slog.Duration("elapsed", elapsed),
	)
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, target string, body io.Reader, contentType, requestID string) (*response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, networkError(op, 0, fmt.Errorf("failed to create HTTP request: %w", err))
	}

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	httpReq.Header.Set("X-Request-ID", requestID)
	httpReq.Header.Set("User-Agent", "Voice-Reminder-Service/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, networkError(op, 0, fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, networkError(op, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, networkError(op, resp.StatusCode, errors.New(truncate(strings.TrimSpace(string(respBody)), 200)))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	return &response{
		status:      resp.StatusCode,
		contentType: strings.ToLower(mediaType),
		body:        respBody,
	}, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

// firstString returns the first non-empty value among keys, accepting numeric IDs
func firstString(body map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := body[key].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

func extension(contentType string) string {
	switch contentType {
	case audio.ContentTypeMPEG:
		return ".mp3"
	default:
		return ".wav"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}
