package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestModelsEndpoint(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"https://api.openai.com/v1/chat/completions", "https://api.openai.com/v1/models"},
		{"https://api.anthropic.com/v1/messages", "https://api.anthropic.com/v1/models"},
		{"https://api.example.com/v1/chat/completions/", "https://api.example.com/v1/models"},
	}
	for _, tt := range tests {
		if got := modelsEndpoint(tt.input); got != tt.expected {
			t.Errorf("modelsEndpoint(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestFetchProviderModels(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "zeta-model"},
				{"id": "alpha-model", "display_name": "Alpha"},
				{"id": ""},
			},
		})
	}))
	defer server.Close()

	provider := Provider{
		Name:    "test",
		URL:     server.URL + "/v1/chat/completions",
		APIKey:  "pk-1",
		APIType: DialectOpenAI,
	}

	models, err := FetchProviderModels(context.Background(), provider)
	if err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer pk-1" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	// Sorted by name, nameless entries dropped.
	if len(models) != 2 || models[0].Name != "alpha-model" || models[1].Name != "zeta-model" {
		t.Errorf("models = %+v", models)
	}
	if models[0].DisplayName != "Alpha" {
		t.Errorf("display name = %q", models[0].DisplayName)
	}
}

func TestFetchProviderModelsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	provider := Provider{Name: "test", URL: server.URL + "/v1/chat/completions", APIKey: "bad", APIType: DialectOpenAI}
	if _, err := FetchProviderModels(context.Background(), provider); err == nil {
		t.Error("expected error for HTTP 401")
	}
}

func TestTestModel(t *testing.T) {
	var captured capturedRequest
	server := newOpenAIServer(t, "ok", &captured)
	defer server.Close()

	provider := Provider{Name: "test", URL: server.URL, APIKey: "pk-1", APIType: DialectOpenAI}
	result := TestModel(context.Background(), NewGateway(), provider, "probe-model")

	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Response != "ok" {
		t.Errorf("response = %q", result.Response)
	}
	if got := captured.bodyField("model"); got != "probe-model" {
		t.Errorf("body model = %v", got)
	}
}
