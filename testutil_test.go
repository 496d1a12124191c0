package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// queryFunc adapts a function to the ModelQuerier interface for tests.
type queryFunc func(ctx context.Context, endpoint ModelEndpoint, messages []ChatMessage, opts QueryOptions, onRetry RetryFunc) GatewayResult

func (f queryFunc) Query(ctx context.Context, endpoint ModelEndpoint, messages []ChatMessage, opts QueryOptions, onRetry RetryFunc) GatewayResult {
	return f(ctx, endpoint, messages, opts, onRetry)
}

// fixedQuerier returns a canned response per model name; unknown models fail.
func fixedQuerier(responses map[string]string) queryFunc {
	return func(ctx context.Context, endpoint ModelEndpoint, messages []ChatMessage, opts QueryOptions, onRetry RetryFunc) GatewayResult {
		if response, ok := responses[endpoint.Name]; ok {
			return GatewayResult{Model: endpoint.Name, Response: response, Timestamp: IsoTimestamp()}
		}
		return GatewayResult{Model: endpoint.Name, Timestamp: IsoTimestamp(), Error: "upstream unavailable"}
	}
}

// concurrencyTracker counts in-flight Query calls and remembers the peak.
type concurrencyTracker struct {
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (tr *concurrencyTracker) enter() {
	tr.mu.Lock()
	tr.inFlight++
	if tr.inFlight > tr.peak {
		tr.peak = tr.inFlight
	}
	tr.mu.Unlock()
}

func (tr *concurrencyTracker) exit() {
	tr.mu.Lock()
	tr.inFlight--
	tr.mu.Unlock()
}

func (tr *concurrencyTracker) peakSeen() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.peak
}

// testConfigs builds an endpoint map where every listed model is configured.
func testConfigs(models ...string) map[string]ModelEndpoint {
	configs := make(map[string]ModelEndpoint, len(models))
	for _, name := range models {
		configs[name] = ModelEndpoint{
			Name:    name,
			URL:     "http://example.invalid/v1/chat/completions",
			APIKey:  "test-key",
			Dialect: DialectOpenAI,
		}
	}
	return configs
}

// testSettings are fast-failing settings for tests.
func testSettings() Settings {
	return Settings{Temperature: 0.5, Timeout: 5, MaxRetries: 1, MaxConcurrent: 10}
}

// newOpenAIServer serves a fixed openai-dialect completion and records the
// last request for assertions.
func newOpenAIServer(t *testing.T, content string, lastReq *capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if lastReq != nil {
			lastReq.capture(r)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

// newAnthropicServer serves a fixed anthropic-dialect completion.
func newAnthropicServer(t *testing.T, content string, lastReq *capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if lastReq != nil {
			lastReq.capture(r)
		}
		resp := map[string]any{
			"content": []map[string]any{{"text": content}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

// capturedRequest records headers and the decoded JSON body of one request.
type capturedRequest struct {
	mu     sync.Mutex
	header http.Header
	body   map[string]any
}

func (cr *capturedRequest) capture(r *http.Request) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.header = r.Header.Clone()
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	cr.body = body
}

func (cr *capturedRequest) headerValue(key string) string {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.header == nil {
		return ""
	}
	return cr.header.Get(key)
}

func (cr *capturedRequest) bodyField(key string) any {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.body == nil {
		return nil
	}
	return cr.body[key]
}

// waitForStatus polls the registry until the meeting reaches the wanted
// status or the deadline passes.
func waitForStatus(t *testing.T, registry *MeetingRegistry, id string, want MeetingStatus) MeetingView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		view, ok := registry.Get(id)
		if ok && view.Status == want {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	view, _ := registry.Get(id)
	t.Fatalf("meeting %s never reached status %q (last: %q)", id, want, view.Status)
	return MeetingView{}
}

// scoreLine formats one review line the way reviewers are instructed to.
func scoreLine(label string, score float64) string {
	return fmt.Sprintf("%s: %.1f - solid answer.\n", label, score)
}
