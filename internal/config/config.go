// internal/config/config.go
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forensiq/forensiq/internal/monitor"
)

// AIEndpoint represents one OpenAI-compatible provider in the fallback chain
type AIEndpoint struct {
	URL            string `yaml:"url"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
	APIKeyEnv      string `yaml:"api_key_env"` // env var name for API key
	APIKey         string `yaml:"-"`           // resolved at load time
}

// MonitoringConfig controls the continuous monitoring loop
type MonitoringConfig struct {
	Sources              []monitor.Source `yaml:"sources"`
	StateFile            string           `yaml:"state_file"`
	BaseInterval         time.Duration    `yaml:"base_interval"`
	MinInterval          time.Duration    `yaml:"min_interval"`
	MaxInterval          time.Duration    `yaml:"max_interval"`
	MaxBackoff           time.Duration    `yaml:"max_backoff"`
	MaxConsecutiveErrors int              `yaml:"max_consecutive_errors"`
}

// ServerConfig controls the HTTP analysis server
type ServerConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	MaxPayloadBytes int64  `yaml:"max_payload_bytes"`
	TLSCert         string `yaml:"tls_cert"`
	TLSKey          string `yaml:"tls_key"`
	APIKey          string `yaml:"-"` // from env only
}

// Config is the full service configuration
type Config struct {
	CorpusPath   string           `yaml:"corpus_path"`
	DBPath       string           `yaml:"db_path"`
	MaxLogLength int              `yaml:"max_log_length"`
	MaxResults   int              `yaml:"max_results"`
	MinRelevance float64          `yaml:"min_relevance"`
	AutoEnhance  bool             `yaml:"auto_enhance"`
	AIEndpoints  []AIEndpoint     `yaml:"ai_endpoints"`
	Monitoring   MonitoringConfig `yaml:"monitoring"`
	Server       ServerConfig     `yaml:"server"`
}

// Load reads YAML config with env overrides and defaults applied
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Env overrides
	if key := os.Getenv("FORENSIQ_API_KEY"); key != "" {
		cfg.Server.APIKey = key
	}

	// Resolve API keys for each AI endpoint from env vars
	for i := range cfg.AIEndpoints {
		if cfg.AIEndpoints[i].APIKeyEnv != "" {
			cfg.AIEndpoints[i].APIKey = os.Getenv(cfg.AIEndpoints[i].APIKeyEnv)
		}
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "forensiq.db"
	}
	if cfg.MaxLogLength <= 0 {
		cfg.MaxLogLength = 10000
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Monitoring.StateFile == "" {
		cfg.Monitoring.StateFile = "forensiq-checkpoints.json"
	}
	if cfg.Monitoring.BaseInterval <= 0 {
		cfg.Monitoring.BaseInterval = 5 * time.Minute
	}
	if cfg.Monitoring.MinInterval <= 0 {
		cfg.Monitoring.MinInterval = time.Minute
	}
	if cfg.Monitoring.MaxInterval <= 0 {
		cfg.Monitoring.MaxInterval = 30 * time.Minute
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8443"
	}
	if cfg.Server.MaxPayloadBytes <= 0 {
		cfg.Server.MaxPayloadBytes = 1 << 20
	}
}
