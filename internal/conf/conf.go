package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/brunobiu/chatbotprincipal/internal/biz/usecase"
	"github.com/brunobiu/chatbotprincipal/internal/retry"
)

// EnvPrefix prefixes every environment override. Nested keys use a double
// underscore, e.g. CHATBOT_OPENAI__API_KEY sets openai.api_key.
const EnvPrefix = "CHATBOT_"

// Config represents application configuration
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	OpenAI   OpenAIConfig   `koanf:"openai"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Delivery DeliveryConfig `koanf:"delivery"`
	WhatsApp WhatsAppConfig `koanf:"whatsapp"`
	Feishu   FeishuConfig   `koanf:"feishu"`
	Log      LogConfig      `koanf:"log"`

	// Pricing maps model name to token prices, "default" applies to unknown models
	Pricing map[string]usecase.ModelPrice `koanf:"pricing"`

	// TenantsFile seeds tenant configs on startup (YAML)
	TenantsFile string `koanf:"tenants_file"`
	// PromptsFile overrides prompt templates (YAML)
	PromptsFile string `koanf:"prompts_file"`
}

// ServerConfig contains HTTP API configuration
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig contains SQLite configuration
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// OpenAIConfig contains model API configuration
type OpenAIConfig struct {
	APIKey         string `koanf:"api_key"`
	BaseURL        string `koanf:"base_url"`
	Model          string `koanf:"model"`
	EmbeddingModel string `koanf:"embedding_model"`
	// Embeddings enables semantic retrieval, lexical ranking is used otherwise
	Embeddings bool `koanf:"embeddings"`
}

// PipelineConfig contains orchestration timing
type PipelineConfig struct {
	GenerationTimeout time.Duration `koanf:"generation_timeout"`
	RetrieveTimeout   time.Duration `koanf:"retrieve_timeout"`
	FlushTimeout      time.Duration `koanf:"flush_timeout"`
	ReclaimInterval   time.Duration `koanf:"reclaim_interval"`
	ConfigCacheTTL    time.Duration `koanf:"config_cache_ttl"`
	Persist           retry.Config  `koanf:"persist"`
}

// DeliveryConfig contains outbound pacing
type DeliveryConfig struct {
	RatePerSecond float64 `koanf:"rate_per_second"`
	Burst         int     `koanf:"burst"`
}

// WhatsAppConfig contains the bridge endpoint
type WhatsAppConfig struct {
	BridgeURL string `koanf:"bridge_url"`
}

// FeishuConfig contains Feishu configuration
type FeishuConfig struct {
	AppID     string `koanf:"app_id"`
	AppSecret string `koanf:"app_secret"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

func defaults() map[string]interface{} {
	homeDir, _ := os.UserHomeDir()
	return map[string]interface{}{
		"server.addr":                       ":8080",
		"server.shutdown_timeout":           "30s",
		"database.path":                     filepath.Join(homeDir, ".chatbot", "chatbot.db"),
		"openai.model":                      "gpt-4o-mini",
		"openai.embedding_model":            "text-embedding-3-small",
		"openai.embeddings":                 false,
		"pipeline.generation_timeout":       "30s",
		"pipeline.retrieve_timeout":         "5s",
		"pipeline.flush_timeout":            "2m",
		"pipeline.reclaim_interval":         "1m",
		"pipeline.config_cache_ttl":         "1m",
		"pipeline.persist.max_retries":      3,
		"pipeline.persist.base_delay":       "200ms",
		"pipeline.persist.max_delay":        "5s",
		"pipeline.persist.multiplier":       2.0,
		"pipeline.persist.jitter":           true,
		"delivery.rate_per_second":          5.0,
		"delivery.burst":                    10,
		"log.level":                         "info",
		"log.pretty":                        false,
		"pricing.default.prompt_per_1k":     0.00015,
		"pricing.default.completion_per_1k": 0.0006,
	}
}

// Load loads configuration from defaults, an optional TOML file, then the environment.
// An explicit path must exist; without one the default locations are tried.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
		}
	} else {
		for _, path := range []string{"./chatbot.toml", "./configs/chatbot.toml", "$HOME/.chatbot/chatbot.toml"} {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
					return nil, fmt.Errorf("failed to load config %s: %w", path, err)
				}
				break
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// envKey maps CHATBOT_PIPELINE__GENERATION_TIMEOUT to pipeline.generation_timeout
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return &ConfigError{Field: "openai.api_key", Message: "required"}
	}
	if c.Database.Path == "" {
		return &ConfigError{Field: "database.path", Message: "required"}
	}
	if c.WhatsApp.BridgeURL == "" && (c.Feishu.AppID == "" || c.Feishu.AppSecret == "") {
		return &ConfigError{Field: "whatsapp.bridge_url/feishu.app_id", Message: "at least one delivery channel is required"}
	}
	if c.Pipeline.GenerationTimeout <= 0 {
		return &ConfigError{Field: "pipeline.generation_timeout", Message: "must be positive"}
	}
	return nil
}

// Prices splits Pricing into per-model prices and the fallback price
func (c *Config) Prices() (map[string]usecase.ModelPrice, usecase.ModelPrice) {
	prices := make(map[string]usecase.ModelPrice, len(c.Pricing))
	var fallback usecase.ModelPrice
	for model, p := range c.Pricing {
		if model == "default" {
			fallback = p
			continue
		}
		prices[model] = p
	}
	return prices, fallback
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
