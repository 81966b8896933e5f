package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the sidechat service.
type Config struct {
	// Service settings
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"sidechat"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"SIDECHAT_PORT" envDefault:"8190"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"console"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// OpenTelemetry
	EnableTracing bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint  string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`

	// Provider upstream
	ProviderBaseURL string        `env:"PROVIDER_BASE_URL" envDefault:"https://api.openai.com/v1"`
	ProviderAPIKey  string        `env:"PROVIDER_API_KEY"`
	DefaultModel    string        `env:"DEFAULT_MODEL" envDefault:"gpt-4o-mini"`
	DefaultAPIMode  string        `env:"DEFAULT_API_MODE" envDefault:"chat_completions"`
	RequestTimeout  time.Duration `env:"PROVIDER_REQUEST_TIMEOUT" envDefault:"5m"`
	ModelCatalog    string        `env:"MODEL_CATALOG_FILE" envDefault:""`

	// Transport selection: "websocket" dials the relay endpoint, "inproc"
	// runs the provider pipeline in the same process.
	TransportMode     string        `env:"TRANSPORT_MODE" envDefault:"inproc"`
	RelayURL          string        `env:"RELAY_WS_URL" envDefault:"ws://localhost:8190/v1/stream"`
	KeepAliveInterval time.Duration `env:"KEEPALIVE_INTERVAL" envDefault:"20s"`

	// Retry behaviour
	RetryCooldown time.Duration `env:"RETRY_COOLDOWN" envDefault:"1s"`

	// Persistence
	DBEnabled     bool          `env:"DB_ENABLED" envDefault:"false"`
	DatabaseURL   string        `env:"DATABASE_URL" envDefault:""`
	DBMaxOpen     int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdle     int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLife time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// APIModeChatCompletions is the streaming mode the provider pipeline
// implements. Catalog entries may name other modes; the runner rejects them.
const APIModeChatCompletions = "chat_completions"

// ModelEntry is one model definition from the optional catalog file.
type ModelEntry struct {
	Name    string `yaml:"name"`
	APIMode string `yaml:"api_mode"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// Catalog maps model names to their provider routing.
type Catalog struct {
	Models []ModelEntry `yaml:"models"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	switch cfg.TransportMode {
	case "websocket", "inproc":
	default:
		return nil, fmt.Errorf("TRANSPORT_MODE must be 'websocket' or 'inproc', got %q", cfg.TransportMode)
	}

	if cfg.TransportMode == "websocket" && strings.TrimSpace(cfg.RelayURL) == "" {
		return nil, fmt.Errorf("RELAY_WS_URL is required when TRANSPORT_MODE is 'websocket'")
	}

	if cfg.DBEnabled && strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when DB_ENABLED is true")
	}

	if cfg.RetryCooldown <= 0 {
		return nil, fmt.Errorf("RETRY_COOLDOWN must be positive")
	}

	return cfg, nil
}

// LoadCatalog reads the model catalog file if one is configured.
// A missing configuration is not an error; the defaults apply.
func (c *Config) LoadCatalog() (*Catalog, error) {
	if strings.TrimSpace(c.ModelCatalog) == "" {
		return &Catalog{}, nil
	}

	data, err := os.ReadFile(c.ModelCatalog)
	if err != nil {
		return nil, fmt.Errorf("read model catalog %s: %w", c.ModelCatalog, err)
	}

	catalog := &Catalog{}
	if err := yaml.Unmarshal(data, catalog); err != nil {
		return nil, fmt.Errorf("parse model catalog %s: %w", c.ModelCatalog, err)
	}

	for i, m := range catalog.Models {
		if strings.TrimSpace(m.Name) == "" {
			return nil, fmt.Errorf("model catalog entry %d has no name", i)
		}
	}

	return catalog, nil
}

// Resolve returns the api mode and base URL for a model name, falling back
// to the configured defaults when the catalog has no entry.
func (c *Config) Resolve(catalog *Catalog, model string) (apiMode, baseURL string) {
	apiMode = c.DefaultAPIMode
	baseURL = c.ProviderBaseURL
	if catalog == nil {
		return apiMode, baseURL
	}
	for _, m := range catalog.Models {
		if m.Name == model {
			if m.APIMode != "" {
				apiMode = m.APIMode
			}
			if m.BaseURL != "" {
				baseURL = m.BaseURL
			}
			return apiMode, baseURL
		}
	}
	return apiMode, baseURL
}

// Addr returns the HTTP server address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
