package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8082

	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultAPIVersion = "2025-01-01-preview"

	DefaultBigModel    = "gpt-4.1"
	DefaultMiddleModel = "gpt-4.1"
	DefaultSmallModel  = "gpt-4.1-mini"

	DefaultMinTokensLimit = 4096
	DefaultMaxTokensLimit = 512000

	DefaultToolRetryAttempts = 3
	DefaultToolTimeout       = 30 * time.Second
	DefaultProxyTimeout      = 120 * time.Second

	// MaxProxyTimeout caps AMPLIHACK_PROXY_TIMEOUT so a misconfigured value
	// cannot hold connections open indefinitely.
	MaxProxyTimeout = 30 * time.Minute
)

// Config is an immutable snapshot of the gateway configuration. Fixed at
// startup; routing decisions may be memoized against it for the process
// lifetime.
type Config struct {
	Host   string
	Port   int
	APIKey string // inbound gateway key; empty disables auth

	OpenAIAPIKey string
	GitHubToken  string
	BaseURL      string
	APIVersion   string

	BigModel    string
	MiddleModel string
	SmallModel  string

	MinTokensLimit int
	MaxTokensLimit int

	PreferredProvider string
	UseGitHubModels   bool

	ToolRetryAttempts int
	ToolTimeout       time.Duration
	ToolFallback      bool
	ProxyTimeout      time.Duration

	StrictTools bool
}

// Manager holds the active configuration snapshot. The snapshot is replaced
// atomically on Load and never mutated in place.
type Manager struct {
	configValue atomic.Value
}

func NewManager() *Manager {
	return &Manager{}
}

// Load reads the environment (optionally seeded from a .env file in the
// working directory) into a fresh snapshot.
func (m *Manager) Load() (*Config, error) {
	// Missing .env is fine; explicit env vars win either way.
	_ = godotenv.Load()

	cfg := &Config{
		Host:   envString("HOST", DefaultHost),
		APIKey: os.Getenv("GATEWAY_API_KEY"),

		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		GitHubToken:  os.Getenv("GITHUB_TOKEN"),
		BaseURL:      strings.TrimRight(envString("OPENAI_BASE_URL", DefaultBaseURL), "/"),
		APIVersion:   envString("AZURE_API_VERSION", DefaultAPIVersion),

		BigModel:    envString("BIG_MODEL", DefaultBigModel),
		MiddleModel: envString("MIDDLE_MODEL", DefaultMiddleModel),
		SmallModel:  envString("SMALL_MODEL", DefaultSmallModel),

		PreferredProvider: strings.ToLower(envString("PREFERRED_PROVIDER", "openai")),
		UseGitHubModels:   envBool("AMPLIHACK_USE_GITHUB_MODELS", false),

		ToolFallback: envBool("AMPLIHACK_TOOL_FALLBACK", true),
		StrictTools:  envBool("AMPLIHACK_STRICT_TOOLS", false),
	}

	var err error

	if cfg.Port, err = envInt("PORT", DefaultPort); err != nil {
		return nil, err
	}

	if cfg.MinTokensLimit, err = envInt("MIN_TOKENS_LIMIT", DefaultMinTokensLimit); err != nil {
		return nil, err
	}

	if cfg.MaxTokensLimit, err = envInt("MAX_TOKENS_LIMIT", DefaultMaxTokensLimit); err != nil {
		return nil, err
	}

	if cfg.MinTokensLimit > cfg.MaxTokensLimit {
		return nil, fmt.Errorf("MIN_TOKENS_LIMIT %d exceeds MAX_TOKENS_LIMIT %d",
			cfg.MinTokensLimit, cfg.MaxTokensLimit)
	}

	if cfg.ToolRetryAttempts, err = envInt("AMPLIHACK_TOOL_RETRY_ATTEMPTS", DefaultToolRetryAttempts); err != nil {
		return nil, err
	}

	if cfg.ToolRetryAttempts < 1 {
		cfg.ToolRetryAttempts = 1
	} else if cfg.ToolRetryAttempts > 10 {
		cfg.ToolRetryAttempts = 10
	}

	if cfg.ToolTimeout, err = envSeconds("AMPLIHACK_TOOL_TIMEOUT", DefaultToolTimeout); err != nil {
		return nil, err
	}

	if cfg.ProxyTimeout, err = envSeconds("AMPLIHACK_PROXY_TIMEOUT", DefaultProxyTimeout); err != nil {
		return nil, err
	}

	if cfg.ProxyTimeout > MaxProxyTimeout {
		cfg.ProxyTimeout = MaxProxyTimeout
	}

	switch cfg.PreferredProvider {
	case "openai", "azure", "github":
	default:
		return nil, fmt.Errorf("PREFERRED_PROVIDER %q is not one of openai, azure, github", cfg.PreferredProvider)
	}

	m.configValue.Store(cfg)

	return cfg, nil
}

// Get returns the active snapshot, loading once if Load was never called.
func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		return Defaults()
	}

	return cfg
}

// Store replaces the active snapshot. Used by tests to inject configuration
// without touching the environment.
func (m *Manager) Store(cfg *Config) {
	m.configValue.Store(cfg)
}

// Defaults returns a snapshot with every field at its default.
func Defaults() *Config {
	return &Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		BaseURL:        DefaultBaseURL,
		APIVersion:     DefaultAPIVersion,
		BigModel:       DefaultBigModel,
		MiddleModel:    DefaultMiddleModel,
		SmallModel:     DefaultSmallModel,
		MinTokensLimit: DefaultMinTokensLimit,
		MaxTokensLimit: DefaultMaxTokensLimit,

		PreferredProvider: "openai",
		ToolRetryAttempts: DefaultToolRetryAttempts,
		ToolTimeout:       DefaultToolTimeout,
		ToolFallback:      true,
		ProxyTimeout:      DefaultProxyTimeout,
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}

	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}

	return n, nil
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}

	return time.Duration(n) * time.Second, nil
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback
	}

	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}

	return fallback
}
