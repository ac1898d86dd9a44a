// ABOUTME: Configuration loading and parsing for converse-gateway
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Replay backends
const (
	ReplayBackendMemory = "memory"
	ReplayBackendRedis  = "redis"
	ReplayBackendSQLite = "sqlite"
)

// Generator providers
const (
	ProviderScripted  = "scripted"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Cancel policies decide what happens to buffered text when a turn is cancelled.
const (
	CancelPolicyDiscard = "discard"
	CancelPolicyFlush   = "flush"
)

// Carriage-return normalization modes
const (
	NormalizeCRStrip   = "strip"
	NormalizeCRNewline = "newline"
)

// Default values applied by Load when a field is left empty.
const (
	DefaultStreamPath       = "/chat/stream"
	DefaultReplayTTL        = 300 * time.Second
	DefaultCleanupInterval  = 30 * time.Second
	DefaultReplayKeyPrefix  = "conv:"
	DefaultFlushMaxChars    = 160
	DefaultMinSentenceChars = 25
	DefaultUserID           = "anonymous"
	DefaultMetricsPath      = "/metrics"
	DefaultMaxTokens        = 2000
)

// Config represents the complete converse-gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale"`
	Replay       ReplayConfig       `yaml:"replay"`
	Flush        FlushConfig        `yaml:"flush"`
	Conversation ConversationConfig `yaml:"conversation"`
	Generator    GeneratorConfig    `yaml:"generator"`
	Auth         AuthConfig         `yaml:"auth"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	GRPCAddr       string   `yaml:"grpc_addr"` // optional, serves grpc.health.v1
	StreamPath     string   `yaml:"stream_path"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`
	Funnel    bool   `yaml:"funnel"`
}

// ReplayConfig selects and tunes the replay store backend
type ReplayConfig struct {
	Backend    string `yaml:"backend"`
	RedisURL   string `yaml:"redis_url"`
	KeyPrefix  string `yaml:"key_prefix"`
	SQLitePath string `yaml:"sqlite_path"`

	TTL             time.Duration `yaml:"-"`
	CleanupInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TTLRaw             string `yaml:"ttl"`
	CleanupIntervalRaw string `yaml:"cleanup_interval"`
}

// FlushConfig tunes when buffered generation text is cut into token events
type FlushConfig struct {
	MaxChars         int    `yaml:"max_chars"`
	MinSentenceChars int    `yaml:"min_sentence_chars"`
	NormalizeCR      string `yaml:"normalize_cr"`
}

// ConversationConfig holds conversation lifecycle settings
type ConversationConfig struct {
	CancelPolicy  string `yaml:"cancel_policy"`
	DefaultUserID string `yaml:"default_user_id"`

	IdleTimeout    time.Duration `yaml:"-"`
	IdleTimeoutRaw string        `yaml:"idle_timeout"`
}

// GeneratorConfig selects the answer-generation backend
type GeneratorConfig struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	SystemPrompt string `yaml:"system_prompt"`
	MaxTokens    int64  `yaml:"max_tokens"`

	// FragmentDelay paces the scripted provider so demo output streams visibly
	FragmentDelay    time.Duration `yaml:"-"`
	FragmentDelayRaw string        `yaml:"fragment_delay"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw YAML configuration, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// envVarPattern matches ${VAR_NAME}
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields with their documented defaults
func (c *Config) applyDefaults() {
	if c.Server.StreamPath == "" {
		c.Server.StreamPath = DefaultStreamPath
	}

	if c.Replay.Backend == "" {
		c.Replay.Backend = ReplayBackendMemory
	}
	if c.Replay.TTL == 0 {
		c.Replay.TTL = DefaultReplayTTL
	}
	if c.Replay.CleanupInterval == 0 {
		c.Replay.CleanupInterval = DefaultCleanupInterval
	}
	if c.Replay.KeyPrefix == "" {
		c.Replay.KeyPrefix = DefaultReplayKeyPrefix
	}

	if c.Flush.MaxChars == 0 {
		c.Flush.MaxChars = DefaultFlushMaxChars
	}
	if c.Flush.MinSentenceChars == 0 {
		c.Flush.MinSentenceChars = DefaultMinSentenceChars
	}
	if c.Flush.NormalizeCR == "" {
		c.Flush.NormalizeCR = NormalizeCRStrip
	}

	if c.Conversation.CancelPolicy == "" {
		c.Conversation.CancelPolicy = CancelPolicyDiscard
	}
	if c.Conversation.DefaultUserID == "" {
		c.Conversation.DefaultUserID = DefaultUserID
	}
	// Idle conversations outlive their replay log by nothing, so the two windows match
	if c.Conversation.IdleTimeout == 0 {
		c.Conversation.IdleTimeout = c.Replay.TTL
	}

	if c.Generator.Provider == "" {
		c.Generator.Provider = ProviderScripted
	}
	if c.Generator.MaxTokens == 0 {
		c.Generator.MaxTokens = DefaultMaxTokens
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Replay.Backend {
	case ReplayBackendMemory:
	case ReplayBackendRedis:
		if c.Replay.RedisURL == "" {
			return fmt.Errorf("replay.redis_url is required for the redis backend")
		}
	case ReplayBackendSQLite:
		if c.Replay.SQLitePath == "" {
			return fmt.Errorf("replay.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("replay.backend %q is not one of memory, redis, sqlite", c.Replay.Backend)
	}

	if c.Replay.TTL < 0 {
		return fmt.Errorf("replay.ttl must be positive")
	}

	if c.Flush.MaxChars < 1 {
		return fmt.Errorf("flush.max_chars must be at least 1")
	}
	if c.Flush.MinSentenceChars < 0 {
		return fmt.Errorf("flush.min_sentence_chars must not be negative")
	}
	if c.Flush.NormalizeCR != NormalizeCRStrip && c.Flush.NormalizeCR != NormalizeCRNewline {
		return fmt.Errorf("flush.normalize_cr %q is not one of strip, newline", c.Flush.NormalizeCR)
	}

	if c.Conversation.CancelPolicy != CancelPolicyDiscard && c.Conversation.CancelPolicy != CancelPolicyFlush {
		return fmt.Errorf("conversation.cancel_policy %q is not one of discard, flush", c.Conversation.CancelPolicy)
	}

	switch c.Generator.Provider {
	case ProviderScripted:
	case ProviderOpenAI, ProviderAnthropic:
		if c.Generator.APIKey == "" {
			return fmt.Errorf("generator.api_key is required for provider %q", c.Generator.Provider)
		}
		if c.Generator.Model == "" {
			return fmt.Errorf("generator.model is required for provider %q", c.Generator.Provider)
		}
	default:
		return fmt.Errorf("generator.provider %q is not one of scripted, openai, anthropic", c.Generator.Provider)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"replay.ttl", cfg.Replay.TTLRaw, &cfg.Replay.TTL},
		{"replay.cleanup_interval", cfg.Replay.CleanupIntervalRaw, &cfg.Replay.CleanupInterval},
		{"conversation.idle_timeout", cfg.Conversation.IdleTimeoutRaw, &cfg.Conversation.IdleTimeout},
		{"generator.fragment_delay", cfg.Generator.FragmentDelayRaw, &cfg.Generator.FragmentDelay},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
