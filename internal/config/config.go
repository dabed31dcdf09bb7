// Package config loads StudyBuddy configuration from YAML with environment
// overrides. The config file lives at .studybuddy/config.yaml in the workspace.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all StudyBuddy configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP/SSE server.
type ServerConfig struct {
	Addr            string `yaml:"addr"`             // listen address, e.g. ":8080"
	ShutdownTimeout string `yaml:"shutdown_timeout"` // graceful shutdown window
	CORSOrigin      string `yaml:"cors_origin"`      // Access-Control-Allow-Origin value, empty disables
}

// LLMConfig configures the generation model.
type LLMConfig struct {
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`            // chat model id
	TitleModel      string `yaml:"title_model"`      // cheaper model for session titles
	Timeout         string `yaml:"timeout"`          // per-run wall clock
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	Thinking        bool   `yaml:"thinking"` // request reasoning traces when supported
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"`        // "genai" or "ollama"
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`     // default "gemini-embedding-001"
	OllamaEndpoint string `yaml:"ollama_endpoint"` // default "http://localhost:11434"
	OllamaModel    string `yaml:"ollama_model"`    // default "embeddinggemma"
}

// RetrievalConfig configures corpus search.
type RetrievalConfig struct {
	MaxResults int    `yaml:"max_results"` // per corpus, default 5
	Ordering   string `yaml:"ordering"`    // "chronological" or "relevance"
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures the categorized debug logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "StudyBuddy",
		Version: "1.0.0",

		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: "10s",
		},

		LLM: LLMConfig{
			Model:           "gemini-2.5-pro",
			TitleModel:      "gemini-2.5-flash",
			Timeout:         "120s",
			MaxOutputTokens: 8192,
		},

		Embedding: EmbeddingConfig{
			Provider:       "genai",
			GenAIModel:     "gemini-embedding-001",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
		},

		Retrieval: RetrievalConfig{
			MaxResults: 5,
			Ordering:   "chronological",
		},

		Database: DatabaseConfig{
			Path: "data/studybuddy.db",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath is where Load looks when no --config flag is given.
func DefaultPath() string {
	return filepath.Join(".studybuddy", "config.yaml")
}

// Load loads configuration from a YAML file, falling back to defaults when the
// file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.Embedding.GenAIAPIKey == "" {
			c.Embedding.GenAIAPIKey = key
		}
	}
	if key := os.Getenv("STUDYBUDDY_EMBEDDING_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
	}
	if addr := os.Getenv("STUDYBUDDY_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if path := os.Getenv("STUDYBUDDY_DB"); path != "" {
		c.Database.Path = path
	}
	if origin := os.Getenv("STUDYBUDDY_CORS_ORIGIN"); origin != "" {
		c.Server.CORSOrigin = origin
	}
}

// GetLLMTimeout returns the generation timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetShutdownTimeout returns the graceful shutdown window as a duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY or llm.api_key)")
	}
	switch c.Retrieval.Ordering {
	case "chronological", "relevance":
	default:
		return fmt.Errorf("invalid retrieval ordering: %s (valid: chronological, relevance)", c.Retrieval.Ordering)
	}
	return nil
}
