package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/lamim/pairforge/internal/config"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests
	DefaultHTTPTimeout = 120 * time.Second
	// DefaultMaxRetries is the default maximum number of retry attempts
	DefaultMaxRetries = 3
	// DefaultBaseRetryDelay is the base delay for exponential backoff
	DefaultBaseRetryDelay = 2 * time.Second
	// RateLimitBackoffMultiplier is the multiplier for rate limit backoff (3^n)
	RateLimitBackoffMultiplier = 3
)

// Client handles HTTP requests to OpenAI-compatible API endpoints
type Client struct {
	httpClient      *http.Client
	rateLimiterPool *RateLimiterPool
	logger          *slog.Logger
	maxRetries      int
	baseRetryDelay  time.Duration
}

// NewClient creates a new API client
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: DefaultHTTPTimeout,
		},
		rateLimiterPool: NewRateLimiterPool(logger),
		logger:          logger,
		maxRetries:      DefaultMaxRetries,
		baseRetryDelay:  DefaultBaseRetryDelay,
	}
}

// ChatCompletion sends a chat completion request to the specified model
func (c *Client) ChatCompletion(
	ctx context.Context,
	modelCfg config.ModelConfig,
	apiKey string,
	messages []Message,
) (*ChatCompletionResponse, error) {
	// Generate a unique model ID for rate limiting
	modelID := fmt.Sprintf("%s:%s", modelCfg.BaseURL, modelCfg.ModelName)

	if err := c.rateLimiterPool.Wait(ctx, modelID, modelCfg.RateLimitPerMinute); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req := NewChatRequest(modelCfg, messages)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp ChatCompletionResponse
	err = c.withRetry(ctx, modelCfg.ModelName, c.retriesFor(modelCfg), func() error {
		reqCtx, cancel := c.requestContext(ctx, modelCfg)
		defer cancel()

		resp = ChatCompletionResponse{}
		if err := c.doJSON(reqCtx, http.MethodPost, endpointURL(modelCfg.BaseURL, "chat/completions"),
			apiKey, "application/json", body, &resp); err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("no choices returned in response")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// NewChatRequest builds the request body for modelCfg. It is shared by the
// real-time path and batch request files so both ask for the same thing.
func NewChatRequest(modelCfg config.ModelConfig, messages []Message) ChatCompletionRequest {
	req := ChatCompletionRequest{
		Model:       modelCfg.ModelName,
		Messages:    messages,
		Temperature: modelCfg.Temperature,
		TopP:        modelCfg.TopP,
		MaxTokens:   modelCfg.MaxOutputTokens,
	}
	if modelCfg.UseJSONMode {
		req.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}
	return req
}

// withRetry runs fn until it succeeds, returns a non-retryable error, or
// maxRetries retries have been spent
func (c *Client) withRetry(ctx context.Context, label string, maxRetries int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Calculate backoff with jitter
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseRetryDelay

			// For rate limit errors, use longer delays (3^n: 6s, 18s, 54s)
			if c.isRateLimitError(lastErr) {
				backoff = time.Duration(math.Pow(RateLimitBackoffMultiplier, float64(attempt))) * c.baseRetryDelay
			}

			jitter := time.Duration(float64(backoff) * 0.1 * (2*float64(time.Now().UnixNano()%100)/100 - 1))
			sleepDuration := backoff + jitter

			c.logger.Warn("Retrying API request",
				"attempt", attempt,
				"max_retries", maxRetries,
				"backoff", sleepDuration,
				"target", label,
				"is_rate_limit", c.isRateLimitError(lastErr))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleepDuration):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !IsRetryable(err) {
			return err
		}
	}

	if maxRetries <= 0 {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// retriesFor maps the configured retry count; negative disables retries
func (c *Client) retriesFor(modelCfg config.ModelConfig) int {
	switch {
	case modelCfg.MaxRetries < 0:
		return 0
	case modelCfg.MaxRetries == 0:
		return c.maxRetries
	default:
		return modelCfg.MaxRetries
	}
}

func (c *Client) requestContext(ctx context.Context, modelCfg config.ModelConfig) (context.Context, context.CancelFunc) {
	if modelCfg.HTTPTimeoutSeconds > 0 {
		return context.WithTimeout(ctx, time.Duration(modelCfg.HTTPTimeoutSeconds)*time.Second)
	}
	return context.WithCancel(ctx)
}

// doJSON performs one request and decodes a JSON response into out
func (c *Client) doJSON(
	ctx context.Context,
	method, endpoint, apiKey, contentType string,
	body []byte,
	out any,
) error {
	httpResp, err := c.send(ctx, method, endpoint, apiKey, contentType, body)
	if err != nil {
		return err
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return &APIError{
			Message:   fmt.Sprintf("failed to read response: %v", err),
			Retryable: true,
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// send performs one request and returns the response when the status is 2xx.
// Callers own the response body.
func (c *Client) send(
	ctx context.Context,
	method, endpoint, apiKey, contentType string,
	body []byte,
) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
		c.logger.Debug("API request", "method", method, "endpoint", endpoint, "has_key", true)
	} else {
		c.logger.Warn("API request without key", "endpoint", endpoint)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &APIError{
			Message:    fmt.Sprintf("request failed: %v", err),
			StatusCode: 0,
			Retryable:  true,
		}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer func() { _ = httpResp.Body.Close() }()
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, newAPIError(httpResp.StatusCode, respBody)
	}

	return httpResp, nil
}

func newAPIError(statusCode int, respBody []byte) *APIError {
	isRetryable := isStatusCodeRetryable(statusCode)

	var errResp ErrorResponse
	if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
		return &APIError{
			Message:    errResp.Error.Message,
			StatusCode: statusCode,
			Type:       errResp.Error.Type,
			Code:       errResp.Error.Code,
			Retryable:  isRetryable,
		}
	}

	return &APIError{
		Message:    fmt.Sprintf("API request failed with status %d: %s", statusCode, string(respBody)),
		StatusCode: statusCode,
		Retryable:  isRetryable,
	}
}

func endpointURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// IsRetryable reports whether err is a transient API error
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return false
}

func (c *Client) isRateLimitError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

func isStatusCodeRetryable(statusCode int) bool {
	// Retry on rate limits and server errors
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

// APIError represents an error returned by the API
type APIError struct {
	Message    string
	StatusCode int
	Type       string
	Code       string
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}
