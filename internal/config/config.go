// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/applypilot/applypilot-cli/api/schemas"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Challenge ChallengeConfig `mapstructure:"challenge" yaml:"challenge"`
	Solver    SolverConfig    `mapstructure:"solver" yaml:"solver"`
	Tabs      TabsConfig      `mapstructure:"tabs" yaml:"tabs"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Filler    FillerConfig    `mapstructure:"filler" yaml:"filler"`
	Notify    NotifyConfig    `mapstructure:"notify" yaml:"notify"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool     `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserDataDir     string   `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args            []string `mapstructure:"args" yaml:"args"`
	ViewportWidth   int      `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int      `mapstructure:"viewport_height" yaml:"viewport_height"`
	Debug           bool     `mapstructure:"debug" yaml:"debug"`
}

// NetworkConfig tunes navigation behavior.
type NetworkConfig struct {
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration     `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
}

// DiscoveryConfig configures the field discovery engine.
type DiscoveryConfig struct {
	MaxElements int `mapstructure:"max_elements" yaml:"max_elements"`
	// ExtraWidgets extends the built-in widget signature catalogue without
	// touching control flow.
	ExtraWidgets []schemas.WidgetSignature `mapstructure:"extra_widgets" yaml:"extra_widgets"`
	// Vocabulary overrides the job-application keyword list used to score
	// candidate form containers. Empty means the built-in list.
	Vocabulary []string `mapstructure:"vocabulary" yaml:"vocabulary"`
}

// ChallengeConfig configures obstacle detection and resolution.
type ChallengeConfig struct {
	SessionTTL        time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	HumanWaitTimeout  time.Duration `mapstructure:"human_wait_timeout" yaml:"human_wait_timeout"`
	HumanPollInterval time.Duration `mapstructure:"human_poll_interval" yaml:"human_poll_interval"`
	WatchInterval     time.Duration `mapstructure:"watch_interval" yaml:"watch_interval"`
}

// BackendConfig holds credentials for one paid solving backend.
type BackendConfig struct {
	Kind     string `mapstructure:"kind" yaml:"kind"`
	APIKey   string `mapstructure:"api_key" yaml:"-"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// SolverConfig configures the paid-solving protocol client. Backends are
// keyed by name; Backend selects the active one, empty disables automatic
// solving entirely (human hand-off only).
type SolverConfig struct {
	Backend           string                   `mapstructure:"backend" yaml:"backend"`
	Backends          map[string]BackendConfig `mapstructure:"backends" yaml:"backends"`
	PollInterval      time.Duration            `mapstructure:"poll_interval" yaml:"poll_interval"`
	AttemptTimeout    time.Duration            `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
	RequestsPerSecond float64                  `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// TabsConfig configures the tab/session coordinator.
type TabsConfig struct {
	DefaultTimeout    time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	IdentityTimeout   time.Duration `mapstructure:"identity_timeout" yaml:"identity_timeout"`
	EvictionGrace     time.Duration `mapstructure:"eviction_grace" yaml:"eviction_grace"`
	PendingOpenWindow time.Duration `mapstructure:"pending_open_window" yaml:"pending_open_window"`
	CheckInterval     time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
	AutoClose         bool          `mapstructure:"auto_close" yaml:"auto_close"`
	AutoReturn        bool          `mapstructure:"auto_return" yaml:"auto_return"`
}

// StoreConfig selects the challenge-session cache backend.
type StoreConfig struct {
	// Type is "memory" or "postgres".
	Type string `mapstructure:"type" yaml:"type"`
	URL  string `mapstructure:"url" yaml:"url"`
}

// FillerConfig drives the built-in keyword filler.
type FillerConfig struct {
	// Profile maps label/name keywords to the values to enter.
	Profile map[string]string `mapstructure:"profile" yaml:"profile"`
}

// NotifyConfig configures the notification surface.
type NotifyConfig struct {
	Desktop bool `mapstructure:"desktop" yaml:"desktop"`
	Overlay bool `mapstructure:"overlay" yaml:"overlay"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults, but fail loudly if it ever does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "applypilot")
	v.SetDefault("logger.log_file", "applypilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.debug", false)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "90s")
	v.SetDefault("network.post_load_wait", "2s")

	// -- Discovery --
	v.SetDefault("discovery.max_elements", 400)

	// -- Challenge --
	v.SetDefault("challenge.session_ttl", "110s")
	v.SetDefault("challenge.human_wait_timeout", "3m")
	v.SetDefault("challenge.human_poll_interval", "2s")
	v.SetDefault("challenge.watch_interval", "1500ms")

	// -- Solver --
	v.SetDefault("solver.backend", "")
	v.SetDefault("solver.poll_interval", "5s")
	v.SetDefault("solver.attempt_timeout", "2m")
	v.SetDefault("solver.requests_per_second", 1.0)

	// -- Tabs --
	v.SetDefault("tabs.default_timeout", "10m")
	v.SetDefault("tabs.identity_timeout", "3m")
	v.SetDefault("tabs.eviction_grace", "30s")
	v.SetDefault("tabs.pending_open_window", "5s")
	v.SetDefault("tabs.check_interval", "1s")
	v.SetDefault("tabs.auto_close", true)
	v.SetDefault("tabs.auto_return", true)

	// -- Store --
	v.SetDefault("store.type", "memory")

	// -- Notify --
	v.SetDefault("notify.desktop", true)
	v.SetDefault("notify.overlay", true)
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	_ = v.BindEnv("store.url", "APPLYPILOT_STORE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Tabs.DefaultTimeout <= 0 || c.Tabs.IdentityTimeout <= 0 {
		return fmt.Errorf("tabs timeouts must be positive durations")
	}
	if c.Tabs.IdentityTimeout > c.Tabs.DefaultTimeout {
		return fmt.Errorf("tabs.identity_timeout must not exceed tabs.default_timeout")
	}
	if c.Challenge.HumanPollInterval <= 0 || c.Challenge.HumanWaitTimeout <= 0 {
		return fmt.Errorf("challenge wait settings must be positive durations")
	}
	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("solver configuration invalid: %w", err)
	}
	switch c.Store.Type {
	case "", "memory":
	case "postgres":
		if c.Store.URL == "" {
			return fmt.Errorf("store.url is required when store.type is postgres")
		}
	default:
		return fmt.Errorf("store.type must be \"memory\" or \"postgres\", got %q", c.Store.Type)
	}
	return nil
}

// Validate checks the solver configuration. An empty Backend means automatic
// solving is disabled and nothing further is required.
func (s *SolverConfig) Validate() error {
	if s.Backend == "" {
		return nil
	}
	b, ok := s.Backends[s.Backend]
	if !ok {
		return fmt.Errorf("solver.backend %q has no entry under solver.backends", s.Backend)
	}
	if b.Kind == "" {
		return fmt.Errorf("solver.backends.%s.kind is required", s.Backend)
	}
	if b.APIKey == "" {
		return fmt.Errorf("solver.backends.%s.api_key is required", s.Backend)
	}
	if s.PollInterval <= 0 || s.AttemptTimeout <= 0 {
		return fmt.Errorf("solver.poll_interval and solver.attempt_timeout must be positive")
	}
	return nil
}

// ActiveBackend returns the selected backend config, or false when automatic
// solving is not configured.
func (s *SolverConfig) ActiveBackend() (BackendConfig, bool) {
	if s.Backend == "" {
		return BackendConfig{}, false
	}
	b, ok := s.Backends[s.Backend]
	return b, ok
}
