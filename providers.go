package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// modelsEndpoint derives the catalog URL from a provider's chat-completions
// URL. Anthropic-dialect providers expose /v1/models the same way.
func modelsEndpoint(url string) string {
	url = strings.TrimSuffix(url, "/")
	url = strings.TrimSuffix(url, "/chat/completions")
	url = strings.TrimSuffix(url, "/messages")
	return url + "/models"
}

// FetchProviderModels asks a provider for the models it currently offers.
func FetchProviderModels(ctx context.Context, provider Provider) ([]ProviderModel, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, modelsEndpoint(provider.URL), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build models request: %w", err)
	}
	switch provider.APIType {
	case DialectAnthropic:
		req.Header.Set("x-api-key", provider.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	default:
		req.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch models from %s: %w", provider.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read models response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("models request to %s failed: HTTP %d", provider.Name, resp.StatusCode)
	}

	var parsed struct {
		Data []struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
			Description string `json:"description"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse models response from %s: %w", provider.Name, err)
	}

	models := make([]ProviderModel, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		if m.ID == "" {
			continue
		}
		models = append(models, ProviderModel{
			Name:        m.ID,
			DisplayName: m.DisplayName,
			Description: m.Description,
		})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models, nil
}

// TestModel sends a trivial prompt through the gateway to verify a provider
// credential and model name work end to end.
func TestModel(ctx context.Context, gateway ModelQuerier, provider Provider, model string) GatewayResult {
	endpoint := ModelEndpoint{
		Name:     model + "/" + provider.Name,
		URL:      provider.URL,
		APIKey:   provider.APIKey,
		Dialect:  provider.APIType,
		Provider: provider.Name,
	}
	opts := QueryOptions{
		Temperature: 0,
		MaxTokens:   16,
		Timeout:     20 * time.Second,
		MaxRetries:  1,
	}
	return gateway.Query(ctx, endpoint, []ChatMessage{{Role: "user", Content: "Reply with the single word: ok"}}, opts, nil)
}
