package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// BaseBackoff is the first retry delay; each subsequent retry doubles it.
const BaseBackoff = 1 * time.Second

// QueryOptions are the per-call tunables for a gateway request.
type QueryOptions struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// GatewayResult is the outcome of one gateway call. The gateway never
// returns a Go error: failures are carried in the Error field so the stages
// can treat every call uniformly.
type GatewayResult struct {
	Model     string
	Response  string
	Timestamp string
	Error     string
}

// RetryFunc receives an interim notice before each retry attempt.
type RetryFunc func(notice RetryNotice)

// ModelQuerier is the capability the stages depend on: send one chat
// completion, get text or an error string back.
type ModelQuerier interface {
	Query(ctx context.Context, endpoint ModelEndpoint, messages []ChatMessage, opts QueryOptions, onRetry RetryFunc) GatewayResult
}

// Gateway sends chat-completion requests to openai- and anthropic-dialect
// endpoints with bounded retry and exponential backoff. Stateless per call.
type Gateway struct {
	client *http.Client
}

// NewGateway returns a gateway backed by a shared HTTP client. Per-call
// deadlines come from QueryOptions.Timeout, not the client.
func NewGateway() *Gateway {
	return &Gateway{client: &http.Client{}}
}

// openaiResponse is the subset of an openai-dialect completion we read.
type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
}

// anthropicResponse is the subset of an anthropic-dialect completion we read.
type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// apiModelName strips the "/provider" suffix from a composite identifier.
// The model name itself may contain slashes (e.g. "Qwen/Qwen3-VL/siliconflow"),
// so only the last segment is removed.
func apiModelName(name string) string {
	if i := strings.LastIndex(name, "/"); i > 0 {
		return name[:i]
	}
	return name
}

// Query sends one chat completion to the endpoint, retrying failed attempts
// up to opts.MaxRetries with exponential backoff. Endpoint configuration
// errors fail immediately without retry.
func (g *Gateway) Query(ctx context.Context, endpoint ModelEndpoint, messages []ChatMessage, opts QueryOptions, onRetry RetryFunc) GatewayResult {
	if endpoint.URL == "" || endpoint.APIKey == "" {
		msg := fmt.Sprintf("model %s configuration incomplete", endpoint.Name)
		log.Print(msg)
		return GatewayResult{Model: endpoint.Name, Timestamp: IsoTimestamp(), Error: msg}
	}

	maxRetries := opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastError string
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 && onRetry != nil {
			onRetry(RetryNotice{Model: endpoint.Name, Attempt: attempt, MaxRetries: maxRetries - 1})
		}

		log.Printf("Querying model %s (attempt %d/%d)", endpoint.Name, attempt+1, maxRetries)

		content, err := g.attempt(ctx, endpoint, messages, opts)
		if err == nil {
			return GatewayResult{Model: endpoint.Name, Response: content, Timestamp: IsoTimestamp()}
		}

		lastError = err.Error()
		log.Printf("Model %s attempt %d/%d failed: %s", endpoint.Name, attempt+1, maxRetries, lastError)

		if ctx.Err() != nil {
			break
		}
		if attempt < maxRetries-1 {
			backoff := BaseBackoff << uint(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return GatewayResult{Model: endpoint.Name, Timestamp: IsoTimestamp(), Error: ctx.Err().Error()}
			}
		}
	}

	msg := fmt.Sprintf("query failed after %d attempts: %s", maxRetries, lastError)
	log.Printf("Model %s %s", endpoint.Name, msg)
	return GatewayResult{Model: endpoint.Name, Timestamp: IsoTimestamp(), Error: msg}
}

// attempt issues a single request and extracts the completion text.
func (g *Gateway) attempt(ctx context.Context, endpoint ModelEndpoint, messages []ChatMessage, opts QueryOptions) (string, error) {
	body := map[string]any{
		"model":       apiModelName(endpoint.Name),
		"messages":    messages,
		"temperature": opts.Temperature,
	}
	if endpoint.Dialect == DialectAnthropic {
		maxTokens := opts.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 4096
		}
		body["max_tokens"] = maxTokens
	} else if opts.MaxTokens > 0 {
		body["max_tokens"] = opts.MaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	attemptCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if endpoint.Dialect == DialectAnthropic {
		req.Header.Set("x-api-key", endpoint.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	} else {
		req.Header.Set("Authorization", "Bearer "+endpoint.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiErrorDetail(raw))
	}

	return extractContent(endpoint.Dialect, raw)
}

// apiErrorDetail pulls a short message out of an error body, avoiding
// echoing whole HTML error pages into logs and results.
func apiErrorDetail(raw []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if parsed.Error.Message != "" {
			return parsed.Error.Message
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// extractContent reads the completion text per dialect. Missing fields yield
// empty content, not an error: a syntactically valid but hollow response is
// the provider's answer, not a transport failure.
func extractContent(dialect string, raw []byte) (string, error) {
	if dialect == DialectAnthropic {
		var parsed anthropicResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if len(parsed.Content) == 0 {
			return "", nil
		}
		return parsed.Content[0].Text, nil
	}

	var parsed openaiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	choice := parsed.Choices[0]
	if choice.Message.Content != "" {
		return choice.Message.Content, nil
	}
	return choice.Text, nil
}
