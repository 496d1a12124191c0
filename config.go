package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const (
	// DefaultConfigPath is where the council configuration lives unless
	// COUNCIL_CONFIG overrides it.
	DefaultConfigPath = "data/council.yaml"

	// DefaultDataDir holds conversation JSON files unless DATA_DIR
	// overrides it.
	DefaultDataDir = "data/conversations"

	// MaxRequestBodySize is the maximum allowed request body size (10MB;
	// attachments ride inside message bodies).
	MaxRequestBodySize int64 = 10 << 20
)

// Settings are the pipeline tunables. Timeout is in seconds to match the
// persisted configuration format.
type Settings struct {
	Temperature   float64 `json:"temperature" yaml:"temperature"`
	Timeout       int     `json:"timeout" yaml:"timeout"`
	MaxRetries    int     `json:"max_retries" yaml:"max_retries"`
	MaxConcurrent int     `json:"max_concurrent" yaml:"max_concurrent"`
}

// DefaultSettings mirror the original deployment defaults.
func DefaultSettings() Settings {
	return Settings{Temperature: 0.7, Timeout: 120, MaxRetries: 3, MaxConcurrent: 10}
}

// QueryOptions converts the settings into per-call gateway options.
func (s Settings) QueryOptions() QueryOptions {
	return QueryOptions{
		Temperature: s.Temperature,
		Timeout:     time.Duration(s.Timeout) * time.Second,
		MaxRetries:  s.MaxRetries,
	}
}

// ProviderModel is one model offered by a provider.
type ProviderModel struct {
	Name        string `json:"name" yaml:"name"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Provider is one configured upstream API.
type Provider struct {
	Name    string          `json:"name" yaml:"name"`
	URL     string          `json:"url" yaml:"url"`
	APIKey  string          `json:"-" yaml:"api_key"`
	APIType string          `json:"api_type" yaml:"api_type"`
	Models  []ProviderModel `json:"models" yaml:"models"`
}

// councilFile is the on-disk shape of the council configuration.
type councilFile struct {
	Providers []Provider `yaml:"providers"`
	Chairman  string     `yaml:"chairman"`
	Settings  Settings   `yaml:"settings"`
}

// Config holds the loaded council configuration. Reads take the lock briefly
// and copy out; settings updates persist back to the YAML file.
type Config struct {
	mu        sync.RWMutex
	path      string
	providers []Provider
	chairman  string
	settings  Settings

	DataDir     string
	ListenAddr  string
	CORSOrigins []string
}

// LoadConfig loads .env (current directory, then the parent),
// then the council YAML file. A missing file yields defaults; per-provider
// API keys may be overridden with <PROVIDER>_API_KEY environment variables.
func LoadConfig() (*Config, error) {
	envLoaded := false
	for _, envPath := range []string{".env", "../.env"} {
		abs, err := filepath.Abs(envPath)
		if err != nil {
			continue
		}
		if _, err := os.Stat(abs); err == nil {
			if err := godotenv.Load(abs); err == nil {
				log.Printf("Loaded .env from: %s", abs)
				envLoaded = true
				break
			}
		}
	}
	if !envLoaded {
		log.Printf("Warning: .env file not found in any expected location")
	}

	cfg := &Config{
		path:       DefaultConfigPath,
		settings:   DefaultSettings(),
		DataDir:    DefaultDataDir,
		ListenAddr: ":8001",
	}
	if p := os.Getenv("COUNCIL_CONFIG"); p != "" {
		cfg.path = p
	}
	if d := os.Getenv("DATA_DIR"); d != "" {
		cfg.DataDir = d
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.ListenAddr = ":" + port
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
			}
		}
	}

	data, err := os.ReadFile(cfg.path)
	if os.IsNotExist(err) {
		log.Printf("Council config %s not found, starting with defaults", cfg.path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read council config: %w", err)
	}

	var file councilFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse council config: %w", err)
	}

	cfg.providers = file.Providers
	cfg.chairman = file.Chairman
	if file.Settings != (Settings{}) {
		cfg.settings = file.Settings
	}

	for i := range cfg.providers {
		envKey := strings.ToUpper(strings.ReplaceAll(cfg.providers[i].Name, "-", "_")) + "_API_KEY"
		if key := os.Getenv(envKey); key != "" {
			cfg.providers[i].APIKey = key
		}
		if cfg.providers[i].APIType == "" {
			cfg.providers[i].APIType = DialectOpenAI
		}
	}

	log.Printf("Configuration loaded: %d providers, chairman=%q", len(cfg.providers), cfg.chairman)
	return cfg, nil
}

// Save writes the current configuration back to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	file := councilFile{Providers: c.providers, Chairman: c.chairman, Settings: c.settings}
	path := c.path
	c.mu.RUnlock()

	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal council config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write council config: %w", err)
	}
	return nil
}

// Settings returns a copy of the current tunables.
func (c *Config) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// UpdateSettings replaces the tunables and persists them.
func (c *Config) UpdateSettings(s Settings) error {
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
	return c.Save()
}

// Chairman returns the designated synthesis model identifier.
func (c *Config) Chairman() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chairman
}

// Providers returns a copy of the provider list.
func (c *Config) Providers() []Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

// Provider looks up one provider by name.
func (c *Config) Provider(name string) (Provider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.providers {
		if p.Name == name {
			return p, true
		}
	}
	return Provider{}, false
}

// ModelConfigs expands the provider list into the per-model endpoint map the
// pipeline consumes. Identifiers are composite "model/provider" names.
func (c *Config) ModelConfigs() map[string]ModelEndpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	configs := make(map[string]ModelEndpoint)
	for _, provider := range c.providers {
		for _, model := range provider.Models {
			full := model.Name + "/" + provider.Name
			configs[full] = ModelEndpoint{
				Name:     full,
				URL:      provider.URL,
				APIKey:   provider.APIKey,
				Dialect:  provider.APIType,
				Provider: provider.Name,
			}
		}
	}
	return configs
}
