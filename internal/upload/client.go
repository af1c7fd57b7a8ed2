package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/liamhowell4/budget-master-sub003/internal/metrics"
)

// ProcessPath is the expense-processing endpoint relative to the backend base URL.
const ProcessPath = "/api/expenses/process"

// AudioFilename is the form filename the backend expects for voice artifacts.
const AudioFilename = "voice.m4a"

// Client performs one-shot expense uploads. Failed uploads are not retried
// here: retry is caller-driven (the next user action), so a transient failure
// never turns into a background retry storm on a battery-powered device.
type Client struct {
	config     Config
	httpClient *http.Client
	metrics    *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains upload client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Request represents one expense-processing submission. All fields are
// optional, but at least one of Text, Audio, or Image must be set.
type Request struct {
	Text           string
	Audio          []byte // finished audio artifact, sent as voice.m4a
	Image          []byte
	ConversationID string
}

// Response is the backend's reply. ExpenseID is empty when the backend
// answered conversationally without recording an expense.
type Response struct {
	ExpenseID string `json:"expense_id,omitempty"`
	Message   string `json:"message"`
}

// ClientStats represents upload client statistics.
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// NewClient creates a new one-shot upload client.
func NewClient(config Config, m *metrics.Metrics) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		metrics:    m,
	}, nil
}

// Process ships one submission to the expense-processing endpoint using the
// given bearer credential.
func (c *Client) Process(ctx context.Context, token string, request *Request) (*Response, error) {
	if request.Text == "" && len(request.Audio) == 0 && len(request.Image) == 0 {
		return nil, fmt.Errorf("request must carry text, audio, or an image")
	}

	startTime := time.Now()
	c.incrementTotalRequests()
	c.metrics.RecordUploadRequest()

	response, err := c.doRequest(ctx, token, request)
	elapsed := time.Since(startTime)

	if err != nil {
		c.incrementFailedRequests()
		c.metrics.RecordUploadFailure(elapsed.Seconds())
		return nil, err
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(elapsed)
	c.metrics.RecordUploadSuccess(elapsed.Seconds())

	return response, nil
}

// doRequest performs a single HTTP request to the expense-processing endpoint.
func (c *Client) doRequest(ctx context.Context, token string, request *Request) (*Response, error) {
	body, contentType, err := c.createMultipartRequest(request)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	endpoint := strings.TrimSuffix(c.config.BaseURL, "/") + ProcessPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	// Non-success statuses are surfaced verbatim as server-reported errors.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var processResp Response
	if err := json.Unmarshal(respBody, &processResp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return &processResp, nil
}

// createMultipartRequest creates a multipart/form-data request body.
func (c *Client) createMultipartRequest(request *Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if len(request.Audio) > 0 {
		fileWriter, err := writer.CreateFormFile("audio", AudioFilename)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create audio form file: %w", err)
		}

		if _, err := fileWriter.Write(request.Audio); err != nil {
			return nil, "", fmt.Errorf("failed to write audio data: %w", err)
		}
	}

	if len(request.Image) > 0 {
		fileWriter, err := writer.CreateFormFile("image", "receipt.jpg")
		if err != nil {
			return nil, "", fmt.Errorf("failed to create image form file: %w", err)
		}

		if _, err := fileWriter.Write(request.Image); err != nil {
			return nil, "", fmt.Errorf("failed to write image data: %w", err)
		}
	}

	if request.Text != "" {
		if err := writer.WriteField("text", request.Text); err != nil {
			return nil, "", fmt.Errorf("failed to write text field: %w", err)
		}
	}

	if request.ConversationID != "" {
		if err := writer.WriteField("conversation_id", request.ConversationID); err != nil {
			return nil, "", fmt.Errorf("failed to write conversation_id field: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
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

// GetStats returns current client statistics.
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
	}
}
