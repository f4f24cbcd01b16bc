// Package config provides configuration management for Questweaver.
// Settings load from an optional YAML file and environment variables with
// the QUESTWEAVER_ prefix; environment variables take precedence over the
// file, and sensible defaults cover everything else.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Questweaver service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Narrator  NarratorConfig  `yaml:"narrator"`
	Memory    MemoryConfig    `yaml:"memory"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Validator ValidatorConfig `yaml:"validator"`
	Cache     CacheConfig     `yaml:"cache"`
	Intake    IntakeConfig    `yaml:"intake"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port     int     `yaml:"port"`      // default: 7474
	Host     string  `yaml:"host"`      // default: 127.0.0.1
	APIToken string  `yaml:"api_token"` // static bearer token; empty disables auth
	RateRPS  float64 `yaml:"rate_rps"`  // requests per second per client (default: 5)
}

// StorageConfig contains database configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // sqlite or postgres (default: sqlite)
	DataPath    string `yaml:"data_path"`    // sqlite data directory (default: ./data)
	PostgresDSN string `yaml:"postgres_dsn"` // connection string for the postgres engine
}

// NarratorConfig contains generative model configuration.
type NarratorConfig struct {
	Provider        string        `yaml:"provider"`         // ollama, openai, anthropic (default: ollama)
	OllamaURL       string        `yaml:"ollama_url"`       // default: http://localhost:11434
	OllamaModel     string        `yaml:"ollama_model"`     // default: qwen2.5:7b
	EmbeddingModel  string        `yaml:"embedding_model"`  // default: nomic-embed-text
	OpenAIAPIKey    string        `yaml:"openai_api_key"`
	OpenAIModel     string        `yaml:"openai_model"`     // default: gpt-4o-mini
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`
	AnthropicModel  string        `yaml:"anthropic_model"`  // default: claude-3-5-sonnet-20241022
	Timeout         time.Duration `yaml:"timeout"`          // per-call timeout (default: 5s)
	MaxRetries      int           `yaml:"max_retries"`      // default: 2
	BackoffBase     time.Duration `yaml:"backoff_base"`     // default: 250ms
	RatePerMinute   int           `yaml:"rate_per_minute"`  // model calls per minute (default: 30)
	MaxTokens       int           `yaml:"max_tokens"`       // default: 700
	Temperature     float64       `yaml:"temperature"`      // default: 0.8
}

// MemoryConfig contains tiered memory settings.
type MemoryConfig struct {
	WorkingCap        int           `yaml:"working_cap"`         // working records kept per subject (default: 10)
	EpisodeBatchMin   int           `yaml:"episode_batch_min"`   // minimum events per episode (default: 10)
	SummaryWordBudget int           `yaml:"summary_word_budget"` // rolling summary length (default: 500)
	WorkingTTL        time.Duration `yaml:"working_ttl"`         // working record expiry (default: 720h)
	EpisodeTTL        time.Duration `yaml:"episode_ttl"`         // episode record expiry (default: 4320h)
	CompressAfter     time.Duration `yaml:"compress_after"`      // minimum age before compression (default: 1h)
	ReinforceDelta    float64       `yaml:"reinforce_delta"`     // importance gain per access (default: 0.1)
}

// RetrievalConfig contains hybrid retrieval settings.
type RetrievalConfig struct {
	TopK             int     `yaml:"top_k"`             // default: 8
	WindowDays       int     `yaml:"window_days"`       // candidate window (default: 30)
	SemanticWeight   float64 `yaml:"semantic_weight"`   // default: 0.6
	KeywordWeight    float64 `yaml:"keyword_weight"`    // default: 0.4
	RecencyWeight    float64 `yaml:"recency_weight"`    // composite weight (default: 0.3)
	RelevanceWeight  float64 `yaml:"relevance_weight"`  // composite weight (default: 0.5)
	ImportanceWeight float64 `yaml:"importance_weight"` // composite weight (default: 0.2)
}

// ValidatorConfig contains consistency gate settings.
type ValidatorConfig struct {
	PassThreshold        int `yaml:"pass_threshold"`        // default: 85
	MaxRevisions         int `yaml:"max_revisions"`         // default: 2
	ContradictionPenalty int `yaml:"contradiction_penalty"` // per major violation (default: 15)
	TonePenalty          int `yaml:"tone_penalty"`          // per minor violation (default: 5)
}

// CacheConfig contains response cache settings.
type CacheConfig struct {
	ExactTTL            time.Duration `yaml:"exact_ttl"`            // default: 6h
	SemanticTTL         time.Duration `yaml:"semantic_ttl"`         // default: 1h
	StaticTTL           time.Duration `yaml:"static_ttl"`           // default: 24h
	SimilarityThreshold float64       `yaml:"similarity_threshold"` // default: 0.85
	ExactSize           int           `yaml:"exact_size"`           // LRU capacity (default: 1024)
	SemanticSize        int           `yaml:"semantic_size"`        // recent entries scanned (default: 256)
}

// IntakeConfig contains the activity drop-folder settings.
type IntakeConfig struct {
	Enabled  bool   `yaml:"enabled"`   // default: false
	DropPath string `yaml:"drop_path"` // watched directory (default: ./intake)
}

// Load reads configuration from the optional YAML file at path (skipped
// when path is empty or missing), then applies environment variable
// overrides on top of defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres engine requires postgres_dsn")
	}
	if c.Memory.WorkingCap < 1 {
		return fmt.Errorf("config: working cap must be at least 1")
	}
	if c.Validator.PassThreshold < 0 || c.Validator.PassThreshold > 100 {
		return fmt.Errorf("config: pass threshold must be within [0,100]")
	}
	if c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("config: similarity threshold must be within (0,1]")
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    7474,
			Host:    "127.0.0.1",
			RateRPS: 5,
		},
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Narrator: NarratorConfig{
			Provider:       "ollama",
			OllamaURL:      "http://localhost:11434",
			OllamaModel:    "qwen2.5:7b",
			EmbeddingModel: "nomic-embed-text",
			OpenAIModel:    "gpt-4o-mini",
			AnthropicModel: "claude-3-5-sonnet-20241022",
			Timeout:        5 * time.Second,
			MaxRetries:     2,
			BackoffBase:    250 * time.Millisecond,
			RatePerMinute:  30,
			MaxTokens:      700,
			Temperature:    0.8,
		},
		Memory: MemoryConfig{
			WorkingCap:        10,
			EpisodeBatchMin:   10,
			SummaryWordBudget: 500,
			WorkingTTL:        30 * 24 * time.Hour,
			EpisodeTTL:        180 * 24 * time.Hour,
			CompressAfter:     time.Hour,
			ReinforceDelta:    0.1,
		},
		Retrieval: RetrievalConfig{
			TopK:             8,
			WindowDays:       30,
			SemanticWeight:   0.6,
			KeywordWeight:    0.4,
			RecencyWeight:    0.3,
			RelevanceWeight:  0.5,
			ImportanceWeight: 0.2,
		},
		Validator: ValidatorConfig{
			PassThreshold:        85,
			MaxRevisions:         2,
			ContradictionPenalty: 15,
			TonePenalty:          5,
		},
		Cache: CacheConfig{
			ExactTTL:            6 * time.Hour,
			SemanticTTL:         time.Hour,
			StaticTTL:           24 * time.Hour,
			SimilarityThreshold: 0.85,
			ExactSize:           1024,
			SemanticSize:        256,
		},
		Intake: IntakeConfig{
			Enabled:  false,
			DropPath: "./intake",
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("QUESTWEAVER_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("QUESTWEAVER_HOST", cfg.Server.Host)
	cfg.Server.APIToken = getEnv("QUESTWEAVER_API_TOKEN", cfg.Server.APIToken)

	cfg.Storage.Engine = getEnv("QUESTWEAVER_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("QUESTWEAVER_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("QUESTWEAVER_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Narrator.Provider = getEnv("QUESTWEAVER_NARRATOR_PROVIDER", cfg.Narrator.Provider)
	cfg.Narrator.OllamaURL = getEnv("QUESTWEAVER_OLLAMA_URL", cfg.Narrator.OllamaURL)
	cfg.Narrator.OllamaModel = getEnv("QUESTWEAVER_OLLAMA_MODEL", cfg.Narrator.OllamaModel)
	cfg.Narrator.EmbeddingModel = getEnv("QUESTWEAVER_EMBEDDING_MODEL", cfg.Narrator.EmbeddingModel)
	cfg.Narrator.OpenAIAPIKey = getEnv("QUESTWEAVER_OPENAI_API_KEY", cfg.Narrator.OpenAIAPIKey)
	cfg.Narrator.OpenAIModel = getEnv("QUESTWEAVER_OPENAI_MODEL", cfg.Narrator.OpenAIModel)
	cfg.Narrator.AnthropicAPIKey = getEnv("QUESTWEAVER_ANTHROPIC_API_KEY", cfg.Narrator.AnthropicAPIKey)
	cfg.Narrator.AnthropicModel = getEnv("QUESTWEAVER_ANTHROPIC_MODEL", cfg.Narrator.AnthropicModel)
	cfg.Narrator.Timeout = getEnvDuration("QUESTWEAVER_NARRATOR_TIMEOUT", cfg.Narrator.Timeout)
	cfg.Narrator.MaxRetries = getEnvInt("QUESTWEAVER_NARRATOR_MAX_RETRIES", cfg.Narrator.MaxRetries)

	cfg.Memory.WorkingCap = getEnvInt("QUESTWEAVER_WORKING_CAP", cfg.Memory.WorkingCap)
	cfg.Memory.EpisodeBatchMin = getEnvInt("QUESTWEAVER_EPISODE_BATCH_MIN", cfg.Memory.EpisodeBatchMin)
	cfg.Memory.SummaryWordBudget = getEnvInt("QUESTWEAVER_SUMMARY_WORD_BUDGET", cfg.Memory.SummaryWordBudget)

	cfg.Retrieval.TopK = getEnvInt("QUESTWEAVER_RETRIEVAL_TOP_K", cfg.Retrieval.TopK)

	cfg.Validator.PassThreshold = getEnvInt("QUESTWEAVER_VALIDATOR_THRESHOLD", cfg.Validator.PassThreshold)
	cfg.Validator.MaxRevisions = getEnvInt("QUESTWEAVER_VALIDATOR_MAX_REVISIONS", cfg.Validator.MaxRevisions)

	cfg.Intake.Enabled = getEnvBool("QUESTWEAVER_INTAKE_ENABLED", cfg.Intake.Enabled)
	cfg.Intake.DropPath = getEnv("QUESTWEAVER_INTAKE_PATH", cfg.Intake.DropPath)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns a
// default. Unparseable values fall back to the default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
