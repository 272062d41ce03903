package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dentprep/exam-service/internal/config"
)

const chatCompletionsPath = "/v1/chat/completions"

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	baseURL      string
	apiKey       string
	model        string
	timeout      time.Duration
	maxRetries   int
	retryBackoff time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

func NewOpenAIClient(cfg config.AIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("openai: base url required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIClient{
		baseURL:      baseURL,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		model:        cfg.Model,
		timeout:      timeout,
		maxRetries:   maxRetries,
		retryBackoff: time.Second,
		httpClient:   &http.Client{Transport: tr},
		logger:       logger.With("component", "OpenAIClient"),
	}, nil
}

// NewWithHTTPClient is intended for tests; it swaps the transport and
// shortens the retry backoff.
func NewWithHTTPClient(cfg config.AIConfig, httpClient *http.Client, backoff time.Duration) (*OpenAIClient, error) {
	c, err := NewOpenAIClient(cfg, nil)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.httpClient = httpClient
	}
	c.retryBackoff = backoff
	return c, nil
}

func (c *OpenAIClient) Name() string {
	return "openai:" + c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// CompleteJSON sends the request in JSON mode and returns the message content.
// 429 and 5xx answers are retried with linear backoff.
func (c *OpenAIClient) CompleteJSON(ctx context.Context, req Request) (string, error) {
	body := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature:    0.2,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * c.retryBackoff
			c.logger.WarnContext(ctx, "Completion request retrying",
				"attempt", attempt,
				"wait", wait.String(),
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		var resp chatCompletionResponse
		err := c.doJSON(ctx, body, &resp)
		if err == nil {
			if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
				return "", ErrEmptyCompletion
			}
			return resp.Choices[0].Message.Content, nil
		}

		lastErr = err
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || !httpErr.Retryable() {
			return "", err
		}
	}
	return "", fmt.Errorf("completion failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *OpenAIClient) doJSON(ctx context.Context, body any, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatCompletionsPath, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
