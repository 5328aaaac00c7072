// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface is the read-only contract components use to access configuration.
// It exists so tests can substitute a stub without touching viper.
type Interface interface {
	Logger() LoggerConfig
	Agent() AgentConfig
	Vision() VisionConfig
	Engine() EngineConfig
	Scheduler() SchedulerConfig
	Preview() PreviewConfig
}

// Config is the root of the application configuration, loaded from
// config.yaml and BENCHCTL_* environment variables.
type Config struct {
	LoggerSection    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	AgentSection     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	VisionSection    VisionConfig    `mapstructure:"vision" yaml:"vision"`
	EngineSection    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	SchedulerSection SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	PreviewSection   PreviewConfig   `mapstructure:"preview" yaml:"preview"`
}

func (c *Config) Logger() LoggerConfig       { return c.LoggerSection }
func (c *Config) Agent() AgentConfig         { return c.AgentSection }
func (c *Config) Vision() VisionConfig       { return c.VisionSection }
func (c *Config) Engine() EngineConfig       { return c.EngineSection }
func (c *Config) Scheduler() SchedulerConfig { return c.SchedulerSection }
func (c *Config) Preview() PreviewConfig     { return c.PreviewSection }

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`

	// File output, rotated by lumberjack when LogFile is set.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// AgentConfig bounds every controller↔agent call.
type AgentConfig struct {
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ScreenshotTimeout time.Duration `mapstructure:"screenshot_timeout" yaml:"screenshot_timeout"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	HealthTimeout     time.Duration `mapstructure:"health_timeout" yaml:"health_timeout"`

	// HealthFailureThreshold is how many consecutive failed health checks mark
	// a SUT disconnected mid-session.
	HealthFailureThreshold int `mapstructure:"health_failure_threshold" yaml:"health_failure_threshold"`
	// HealthInterval is the cadence of the worker's mid-session health probe.
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
}

// VisionConfig selects and bounds the external detection service.
type VisionConfig struct {
	Backend  string        `mapstructure:"backend" yaml:"backend"` // "omniparser" or "lmstudio"
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// MinConfidence filters low-confidence detections before matching.
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
}

// EngineConfig tunes the find→decide→act→wait loop shared by both engines.
type EngineConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	DefaultStepTimeout time.Duration `mapstructure:"default_step_timeout" yaml:"default_step_timeout"`

	// DefaultRetryInterval is the fixed delay between step re-attempts when a
	// step does not set its own. Fixed-interval is the documented default
	// curve; steps opt into exponential individually.
	DefaultRetryInterval time.Duration `mapstructure:"default_retry_interval" yaml:"default_retry_interval"`

	// MaxSessionDuration is the global backstop against infinite state-machine
	// loops, independent of any single state's timeout.
	MaxSessionDuration time.Duration `mapstructure:"max_session_duration" yaml:"max_session_duration"`
}

// SchedulerConfig holds campaign-level defaults.
type SchedulerConfig struct {
	DefaultRunCount   int           `mapstructure:"default_run_count" yaml:"default_run_count"`
	DefaultRunDelay   time.Duration `mapstructure:"default_run_delay" yaml:"default_run_delay"`
	DelayBetweenGames time.Duration `mapstructure:"delay_between_games" yaml:"delay_between_games"`
	ContinueOnFailure bool          `mapstructure:"continue_on_failure" yaml:"continue_on_failure"`
}

// PreviewConfig controls the live screenshot streaming poller.
type PreviewConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// Load reads configuration from the given file (or ./config.yaml when empty)
// plus the environment, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("BENCHCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No file is fine; defaults and env vars carry the day.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config populated purely from defaults. Used by tests and
// by callers that wire everything programmatically.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Unmarshal of registered defaults cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "benchctl")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("agent.request_timeout", 10*time.Second)
	v.SetDefault("agent.screenshot_timeout", 15*time.Second)
	v.SetDefault("agent.launch_timeout", 90*time.Second)
	v.SetDefault("agent.health_timeout", 5*time.Second)
	v.SetDefault("agent.health_failure_threshold", 3)
	v.SetDefault("agent.health_interval", 10*time.Second)

	v.SetDefault("vision.backend", "omniparser")
	v.SetDefault("vision.endpoint", "http://127.0.0.1:8800")
	v.SetDefault("vision.timeout", 30*time.Second)
	v.SetDefault("vision.min_confidence", 0.0)

	v.SetDefault("engine.poll_interval", 2*time.Second)
	v.SetDefault("engine.default_step_timeout", 20*time.Second)
	v.SetDefault("engine.default_retry_interval", 5*time.Second)
	v.SetDefault("engine.max_session_duration", 30*time.Minute)

	v.SetDefault("scheduler.default_run_count", 3)
	v.SetDefault("scheduler.default_run_delay", 30*time.Second)
	v.SetDefault("scheduler.delay_between_games", 2*time.Minute)
	v.SetDefault("scheduler.continue_on_failure", true)

	v.SetDefault("preview.enabled", false)
	v.SetDefault("preview.interval", 2*time.Second)
}

// Validate rejects configurations that would stall or spin the engines.
func (c *Config) Validate() error {
	if c.EngineSection.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be positive, got %s", c.EngineSection.PollInterval)
	}
	if c.EngineSection.MaxSessionDuration <= 0 {
		return fmt.Errorf("engine.max_session_duration must be positive, got %s", c.EngineSection.MaxSessionDuration)
	}
	if c.AgentSection.HealthFailureThreshold <= 0 {
		return fmt.Errorf("agent.health_failure_threshold must be positive, got %d", c.AgentSection.HealthFailureThreshold)
	}
	switch c.VisionSection.Backend {
	case "omniparser", "lmstudio":
	default:
		return fmt.Errorf("vision.backend must be one of omniparser, lmstudio; got %q", c.VisionSection.Backend)
	}
	return nil
}
