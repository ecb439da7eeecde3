package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/HsiangNianian/acp/internal/logging"
	"github.com/kelseyhightower/envconfig"
	"github.com/tailscale/hujson"
)

// EnvPrefix prefixes every environment override, e.g. ACP_AGENT_ID.
const EnvPrefix = "ACP"

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Server    ServerConfig    `json:"server"`
	Transport TransportConfig `json:"transport"`
	Store     StoreConfig     `json:"store"`
	Trace     TraceConfig     `json:"trace"`
	Log       logging.Config  `json:"log"`
}

type AgentConfig struct {
	ID                   string   `json:"id" split_words:"true"`
	Capabilities         []string `json:"capabilities" split_words:"true"`
	MaxNegotiationRounds int      `json:"max_negotiation_rounds" split_words:"true"`
	// SessionGate only adopts session tokens from replies to our own requests.
	SessionGate bool `json:"session_gate" split_words:"true"`
}

type ServerConfig struct {
	ListenAddr string `json:"listen_addr" split_words:"true"`
	Host       string `json:"host" split_words:"true"`
	Port       int    `json:"port" split_words:"true"`
	Path       string `json:"path" split_words:"true"`
	WSPath     string `json:"ws_path" split_words:"true"`
}

type TransportConfig struct {
	Kind           string `json:"kind" split_words:"true"`
	BaseURL        string `json:"base_url" split_words:"true"`
	TimeoutSeconds int    `json:"timeout_seconds" split_words:"true"`
}

type StoreConfig struct {
	RedisAddr       string `json:"redis_addr" split_words:"true"`
	RedisTTLSeconds int    `json:"redis_ttl_seconds" split_words:"true"`
	TaskDBPath      string `json:"task_db_path" split_words:"true"`
}

type TraceConfig struct {
	KafkaBrokers string `json:"kafka_brokers" split_words:"true"`
	Topic        string `json:"topic" split_words:"true"`
}

func Default() Config {
	return Config{
		Agent: AgentConfig{
			ID:                   "agent",
			MaxNegotiationRounds: 3,
		},
		Server: ServerConfig{
			ListenAddr: ":8000",
			Path:       "/",
			WSPath:     "/ws",
		},
		Transport: TransportConfig{
			Kind:           "http",
			BaseURL:        "http://localhost:8000",
			TimeoutSeconds: 30,
		},
		Trace: TraceConfig{
			Topic: "acp.dispatch",
		},
		Log: logging.Config{Level: "info"},
	}
}

// Load reads a HuJSON file (JSON with comments and trailing commas) over the
// defaults, then applies ACP_* environment overrides. An empty path skips
// the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config failed: %w", err)
		}
		std, err := hujson.Standardize(content)
		if err != nil {
			return Config{}, fmt.Errorf("parse config failed: %w", err)
		}
		if err := json.Unmarshal(std, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config failed: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.Server.Path == "" {
		cfg.Server.Path = "/"
	}
	if cfg.Server.ListenAddr == "" {
		if cfg.Server.Host != "" && cfg.Server.Port > 0 {
			cfg.Server.ListenAddr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		} else {
			cfg.Server.ListenAddr = ":8000"
		}
	}
	if cfg.Agent.MaxNegotiationRounds <= 0 {
		cfg.Agent.MaxNegotiationRounds = 3
	}
	if cfg.Transport.TimeoutSeconds <= 0 {
		cfg.Transport.TimeoutSeconds = 30
	}
	if cfg.Transport.BaseURL == "" {
		cfg.Transport.BaseURL = "http://localhost:8000"
	}
	return cfg, nil
}

// applyEnv processes each section under its own prefix, so only the fully
// qualified ACP_<SECTION>_<FIELD> names are read.
func applyEnv(cfg *Config) error {
	sections := []struct {
		name string
		spec any
	}{
		{"AGENT", &cfg.Agent},
		{"SERVER", &cfg.Server},
		{"TRANSPORT", &cfg.Transport},
		{"STORE", &cfg.Store},
		{"TRACE", &cfg.Trace},
		{"LOG", &cfg.Log},
	}
	for _, s := range sections {
		if err := envconfig.Process(EnvPrefix+"_"+s.name, s.spec); err != nil {
			return fmt.Errorf("env config failed: %w", err)
		}
	}
	return nil
}

func (c TransportConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c StoreConfig) RedisTTL() time.Duration {
	return time.Duration(c.RedisTTLSeconds) * time.Second
}
