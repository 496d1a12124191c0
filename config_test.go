package main

import (
	"os"
	"path/filepath"
	"testing"
)

const testCouncilYAML = `providers:
  - name: openai
    url: https://api.openai.com/v1/chat/completions
    api_key: file-key
    api_type: openai
    models:
      - name: gpt-4o
      - name: gpt-4o-mini
  - name: anthropic
    url: https://api.anthropic.com/v1/messages
    api_type: anthropic
    models:
      - name: claude-sonnet
chairman: gpt-4o/openai
settings:
  temperature: 0.5
  timeout: 60
  max_retries: 2
  max_concurrent: 4
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "council.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("COUNCIL_CONFIG", writeTestConfig(t, testCouncilYAML))
	t.Setenv("ANTHROPIC_API_KEY", "env-key")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Chairman() != "gpt-4o/openai" {
		t.Errorf("chairman = %q", cfg.Chairman())
	}
	settings := cfg.Settings()
	if settings.Temperature != 0.5 || settings.Timeout != 60 || settings.MaxRetries != 2 || settings.MaxConcurrent != 4 {
		t.Errorf("settings = %+v", settings)
	}

	providers := cfg.Providers()
	if len(providers) != 2 {
		t.Fatalf("got %d providers", len(providers))
	}
	if providers[0].APIKey != "file-key" {
		t.Errorf("openai key = %q", providers[0].APIKey)
	}
	// Key absent from the file comes from the environment.
	if providers[1].APIKey != "env-key" {
		t.Errorf("anthropic key = %q", providers[1].APIKey)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("COUNCIL_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("missing config should fall back to defaults: %v", err)
	}
	if cfg.Settings() != DefaultSettings() {
		t.Errorf("settings = %+v", cfg.Settings())
	}
	if len(cfg.Providers()) != 0 {
		t.Errorf("providers = %+v", cfg.Providers())
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("COUNCIL_CONFIG", writeTestConfig(t, testCouncilYAML))
	t.Setenv("PORT", "9090")
	t.Setenv("DATA_DIR", "/tmp/council-data")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.DataDir != "/tmp/council-data" {
		t.Errorf("data dir = %q", cfg.DataDir)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("origins = %v", cfg.CORSOrigins)
	}
}

func TestModelConfigs(t *testing.T) {
	t.Setenv("COUNCIL_CONFIG", writeTestConfig(t, testCouncilYAML))

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}

	configs := cfg.ModelConfigs()
	if len(configs) != 3 {
		t.Fatalf("got %d model configs", len(configs))
	}

	endpoint, ok := configs["claude-sonnet/anthropic"]
	if !ok {
		t.Fatal("missing composite model identifier")
	}
	if endpoint.Dialect != DialectAnthropic || endpoint.Provider != "anthropic" {
		t.Errorf("endpoint = %+v", endpoint)
	}
	if endpoint.URL != "https://api.anthropic.com/v1/messages" {
		t.Errorf("url = %q", endpoint.URL)
	}
}

func TestUpdateSettingsPersists(t *testing.T) {
	path := writeTestConfig(t, testCouncilYAML)
	t.Setenv("COUNCIL_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}

	updated := Settings{Temperature: 1.0, Timeout: 30, MaxRetries: 1, MaxConcurrent: 2}
	if err := cfg.UpdateSettings(updated); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Settings() != updated {
		t.Errorf("settings after reload = %+v", reloaded.Settings())
	}
	// The provider list survives the round trip.
	if len(reloaded.Providers()) != 2 {
		t.Errorf("providers after reload = %d", len(reloaded.Providers()))
	}
}

func TestProviderLookup(t *testing.T) {
	t.Setenv("COUNCIL_CONFIG", writeTestConfig(t, testCouncilYAML))

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := cfg.Provider("openai"); !ok {
		t.Error("openai provider not found")
	}
	if _, ok := cfg.Provider("nonexistent"); ok {
		t.Error("unexpected provider match")
	}
}
