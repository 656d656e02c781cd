// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Search  SearchConfig  `mapstructure:"search" yaml:"search"`
	Policy  PolicyConfig  `mapstructure:"policy" yaml:"policy"`
	Planner PlannerConfig `mapstructure:"planner" yaml:"planner"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// RemoteBackendConfig describes one managed-browser service.
type RemoteBackendConfig struct {
	BaseURL  string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey   string        `mapstructure:"api_key" yaml:"-"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	LiveView bool          `mapstructure:"live_view" yaml:"live_view"`
}

// Configured reports whether the service can be probed at all.
func (r RemoteBackendConfig) Configured() bool { return r.BaseURL != "" }

// BrowserConfig holds settings for browser sessions across all backends.
type BrowserConfig struct {
	Headless          bool                `mapstructure:"headless" yaml:"headless"`
	BackendPreference string              `mapstructure:"backend_preference" yaml:"backend_preference"`
	FallbackOnError   bool                `mapstructure:"fallback_on_error" yaml:"fallback_on_error"`
	DefaultProfileID  string              `mapstructure:"default_profile_id" yaml:"default_profile_id"`
	Locale            string              `mapstructure:"locale" yaml:"locale"`
	Timezone          string              `mapstructure:"timezone" yaml:"timezone"`
	ViewportWidth     int                 `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int                 `mapstructure:"viewport_height" yaml:"viewport_height"`
	MaxSessions       int                 `mapstructure:"max_sessions" yaml:"max_sessions"`
	NavigationTimeout time.Duration       `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SettleTime        time.Duration       `mapstructure:"settle_time" yaml:"settle_time"`
	StateDir          string              `mapstructure:"state_dir" yaml:"state_dir"`
	Args              []string            `mapstructure:"args" yaml:"args"`
	BrowserWire       RemoteBackendConfig `mapstructure:"browserwire" yaml:"browserwire"`
	SessionForge      RemoteBackendConfig `mapstructure:"sessionforge" yaml:"sessionforge"`
}

// SearchConfig tunes the multi-provider search service.
type SearchConfig struct {
	DirectAPIKey      string        `mapstructure:"direct_api_key" yaml:"-"`
	DirectAPIURL      string        `mapstructure:"direct_api_url" yaml:"direct_api_url"`
	ManagedAPIURL     string        `mapstructure:"managed_api_url" yaml:"managed_api_url"`
	ManagedAPIKey     string        `mapstructure:"managed_api_key" yaml:"-"`
	DefaultLimit      int           `mapstructure:"default_limit" yaml:"default_limit"`
	ProviderTimeout   time.Duration `mapstructure:"provider_timeout" yaml:"provider_timeout"`
	ProviderRateLimit float64       `mapstructure:"provider_rate_limit" yaml:"provider_rate_limit"`
}

// PolicyConfig configures action risk gating.
type PolicyConfig struct {
	// SigningSecret keys the HMAC over sessionId:actionDigest. Required for
	// high-risk actions to ever be confirmable.
	SigningSecret string        `mapstructure:"signing_secret" yaml:"-"`
	ApprovalTTL   time.Duration `mapstructure:"approval_ttl" yaml:"approval_ttl"`
}

// PlannerConfig bounds the navigation loop.
type PlannerConfig struct {
	MaxActions        int           `mapstructure:"max_actions" yaml:"max_actions"`
	MaxCandidates     int           `mapstructure:"max_candidates" yaml:"max_candidates"`
	CoverageThreshold float64       `mapstructure:"coverage_threshold" yaml:"coverage_threshold"`
	MinPageText       int           `mapstructure:"min_page_text" yaml:"min_page_text"`
	FrameTTL          time.Duration `mapstructure:"frame_ttl" yaml:"frame_ttl"`
	FrameCapacity     int           `mapstructure:"frame_capacity" yaml:"frame_capacity"`
}

// EngineConfig configures the tool execution pools.
type EngineConfig struct {
	WorkerConcurrency  int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	BrowserConcurrency int           `mapstructure:"browser_concurrency" yaml:"browser_concurrency"`
	ToolTimeout        time.Duration `mapstructure:"tool_timeout" yaml:"tool_timeout"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.backend_preference", "auto")
	v.SetDefault("browser.fallback_on_error", true)
	v.SetDefault("browser.default_profile_id", "default")
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone", "UTC")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.max_sessions", 4)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.settle_time", "1500ms")
	v.SetDefault("browser.browserwire.timeout", "20s")
	v.SetDefault("browser.browserwire.live_view", true)
	v.SetDefault("browser.sessionforge.timeout", "20s")
	v.SetDefault("browser.sessionforge.live_view", false)

	// -- Search --
	v.SetDefault("search.direct_api_url", "https://api.search.brave.com/res/v1/web/search")
	v.SetDefault("search.default_limit", 8)
	v.SetDefault("search.provider_timeout", "8s")
	v.SetDefault("search.provider_rate_limit", 1.0)

	// -- Policy --
	v.SetDefault("policy.approval_ttl", "5m")

	// -- Planner --
	v.SetDefault("planner.max_actions", 6)
	v.SetDefault("planner.max_candidates", 12)
	v.SetDefault("planner.coverage_threshold", 0.62)
	v.SetDefault("planner.min_page_text", 220)
	v.SetDefault("planner.frame_ttl", "30m")
	v.SetDefault("planner.frame_capacity", 256)
}

// NewDefaultConfig creates a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	cfg.Engine = defaultEngineConfig()
	cfg.applyStateDir()
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object,
// binding secret material from the environment.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("search.direct_api_key", "WEBPILOT_SEARCH_API_KEY")
	v.BindEnv("search.managed_api_key", "WEBPILOT_MANAGED_SEARCH_API_KEY")
	v.BindEnv("policy.signing_secret", "WEBPILOT_POLICY_SECRET")
	v.BindEnv("browser.browserwire.api_key", "WEBPILOT_BROWSERWIRE_API_KEY")
	v.BindEnv("browser.sessionforge.api_key", "WEBPILOT_SESSIONFORGE_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.Engine.WorkerConcurrency == 0 && cfg.Engine.BrowserConcurrency == 0 && cfg.Engine.ToolTimeout == 0 {
		cfg.Engine = defaultEngineConfig()
	}
	cfg.applyStateDir()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func defaultEngineConfig() EngineConfig {
	return EngineConfig{
		WorkerConcurrency:  4,
		BrowserConcurrency: 1,
		ToolTimeout:        90 * time.Second,
	}
}

// applyStateDir resolves the on-disk state directory, defaulting to
// ~/.webpilot. A failed home lookup falls back to the working directory.
func (c *Config) applyStateDir() {
	if c.Browser.StateDir != "" {
		return
	}
	home, err := homedir.Dir()
	if err != nil {
		c.Browser.StateDir = ".webpilot"
		return
	}
	c.Browser.StateDir = filepath.Join(home, ".webpilot")
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.Engine.BrowserConcurrency <= 0 {
		return fmt.Errorf("engine.browser_concurrency must be a positive integer")
	}
	if c.Browser.MaxSessions <= 0 {
		return fmt.Errorf("browser.max_sessions must be a positive integer")
	}
	if c.Planner.CoverageThreshold <= 0 || c.Planner.CoverageThreshold > 1 {
		return fmt.Errorf("planner.coverage_threshold must be in (0, 1]")
	}
	if c.Planner.MaxActions <= 0 {
		return fmt.Errorf("planner.max_actions must be a positive integer")
	}
	return nil
}
