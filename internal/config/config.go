// Package config loads refiner configuration from file, environment and flags
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rskrny/aipromptai/pkg/agents"
	"github.com/rskrny/aipromptai/pkg/archive"
	"github.com/rskrny/aipromptai/pkg/capture"
	"github.com/rskrny/aipromptai/pkg/depinstall"
	"github.com/rskrny/aipromptai/pkg/events"
	"github.com/rskrny/aipromptai/pkg/health"
	"github.com/rskrny/aipromptai/pkg/history"
	"github.com/rskrny/aipromptai/pkg/procmgr"
	"github.com/rskrny/aipromptai/pkg/refiner"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. AIPROMPT_REFINER_MAX_ITERATIONS
const EnvPrefix = "AIPROMPT"

// Archive backends
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveS3    = "s3"
)

// Config holds the refiner configuration
type Config struct {
	Log           LogConfig           `mapstructure:"log"`
	Refiner       RefinerConfig       `mapstructure:"refiner"`
	LLM           agents.Config       `mapstructure:"llm"`
	Install       InstallConfig       `mapstructure:"install"`
	Capture       CaptureConfig       `mapstructure:"capture"`
	History       HistoryConfig       `mapstructure:"history"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Events        EventsConfig        `mapstructure:"events"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// RefinerConfig holds the iteration controller settings
type RefinerConfig struct {
	MaxIterations  int           `mapstructure:"max_iterations"`
	Workspace      string        `mapstructure:"workspace"`
	ProgramFile    string        `mapstructure:"program_file"`
	ArtifactFile   string        `mapstructure:"artifact_file"`
	Interpreter    []string      `mapstructure:"interpreter"`
	PortEnv        string        `mapstructure:"port_env"`
	HealthDeadline time.Duration `mapstructure:"health_deadline"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
	CaptureTimeout time.Duration `mapstructure:"capture_timeout"`
	KeepAlive      bool          `mapstructure:"keep_alive"`
}

// InstallConfig holds dependency installer settings
type InstallConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Command        []string      `mapstructure:"command"`
	PackageTimeout time.Duration `mapstructure:"package_timeout"`
}

// CaptureConfig holds the capture child command
type CaptureConfig struct {
	Command []string `mapstructure:"command"`
}

// HistoryConfig holds the run history store location
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ArchiveConfig selects where captured artifacts are kept
type ArchiveConfig struct {
	Backend string           `mapstructure:"backend"`
	Dir     string           `mapstructure:"dir"`
	S3      archive.S3Config `mapstructure:"s3"`
}

// EventsConfig holds the progress event publisher settings
type EventsConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	NATS    events.NATSConfig `mapstructure:"nats"`
}

// ObservabilityConfig holds metrics and tracing settings
type ObservabilityConfig struct {
	ServiceName   string `mapstructure:"service_name"`
	MetricsPort   int    `mapstructure:"metrics_port"` // 0 disables
	EnableTracing bool   `mapstructure:"enable_tracing"`
}

// Dir returns ~/.aipromptai, falling back to the working directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aipromptai"
	}
	return filepath.Join(home, ".aipromptai")
}

// New returns a viper instance carrying every default and the environment
// binding. Flags may be bound to it before Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetConfigName("refiner")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(Dir())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	ctrl := refiner.DefaultConfig()

	v.SetDefault("log.level", "info")

	v.SetDefault("refiner.max_iterations", ctrl.MaxIterations)
	v.SetDefault("refiner.workspace", ctrl.Workspace)
	v.SetDefault("refiner.program_file", ctrl.ProgramFile)
	v.SetDefault("refiner.artifact_file", ctrl.ArtifactFile)
	v.SetDefault("refiner.interpreter", ctrl.Interpreter)
	v.SetDefault("refiner.port_env", procmgr.DefaultPortEnv)
	v.SetDefault("refiner.health_deadline", health.DefaultDeadline)
	v.SetDefault("refiner.drain_timeout", ctrl.DrainTimeout)
	v.SetDefault("refiner.capture_timeout", capture.DefaultTimeout)
	v.SetDefault("refiner.keep_alive", ctrl.KeepAlive)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", agents.DefaultModel)
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.requests_per_minute", 20)

	v.SetDefault("install.enabled", true)
	v.SetDefault("install.command", depinstall.DefaultCommand)
	v.SetDefault("install.package_timeout", depinstall.DefaultPackageTimeout)

	v.SetDefault("capture.command", []string{capture.DefaultCommand})

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", history.DefaultPath())

	v.SetDefault("archive.backend", ArchiveLocal)
	v.SetDefault("archive.dir", filepath.Join(Dir(), "artifacts"))
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.prefix", "aipromptai")
	v.SetDefault("archive.s3.region", "us-east-1")
	v.SetDefault("archive.s3.endpoint", "")
	v.SetDefault("archive.s3.access_key_id", "")
	v.SetDefault("archive.s3.secret_access_key", "")
	v.SetDefault("archive.s3.force_path_style", false)

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("events.nats.subject_prefix", events.DefaultSubjectPrefix)
	v.SetDefault("events.nats.max_reconnects", 10)
	v.SetDefault("events.nats.reconnect_wait", 2*time.Second)
	v.SetDefault("events.nats.timeout", 5*time.Second)

	v.SetDefault("observability.service_name", "aipromptai-refiner")
	v.SetDefault("observability.metrics_port", 0)
	v.SetDefault("observability.enable_tracing", false)

	return v
}

// Load reads configuration into a Config. An explicit file must exist;
// without one the search paths are tried and a missing file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded values
func (c *Config) Validate() error {
	if _, err := c.LogLevel(); err != nil {
		return refiner.ErrInvalidConfiguration("log.level", c.Log.Level, err.Error())
	}

	if err := c.ControllerConfig().Validate(); err != nil {
		return err
	}
	if len(c.Refiner.Interpreter) == 0 {
		return refiner.ErrInvalidConfiguration("refiner.interpreter", c.Refiner.Interpreter, "interpreter must not be empty")
	}

	if c.Install.Enabled && len(c.Install.Command) == 0 {
		return refiner.ErrInvalidConfiguration("install.command", c.Install.Command, "install command must not be empty")
	}

	switch c.Archive.Backend {
	case ArchiveNone:
	case ArchiveLocal:
		if c.Archive.Dir == "" {
			return refiner.ErrInvalidConfiguration("archive.dir", c.Archive.Dir, "local archive needs a directory")
		}
	case ArchiveS3:
		if c.Archive.S3.Bucket == "" {
			return refiner.ErrInvalidConfiguration("archive.s3.bucket", c.Archive.S3.Bucket, "s3 archive needs a bucket")
		}
	default:
		return refiner.ErrInvalidConfiguration("archive.backend", c.Archive.Backend,
			fmt.Sprintf("unknown backend (want %s, %s or %s)", ArchiveNone, ArchiveLocal, ArchiveS3))
	}

	if p := c.Observability.MetricsPort; p < 0 || p > 65535 {
		return refiner.ErrInvalidConfiguration("observability.metrics_port", p, "port must be between 0 and 65535")
	}

	return nil
}

// LogLevel parses log.level
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.Log.Level))
	return level, err
}

// ControllerConfig converts the refiner section into controller settings.
func (c *Config) ControllerConfig() refiner.Config {
	ctrl := refiner.DefaultConfig()
	ctrl.MaxIterations = c.Refiner.MaxIterations
	ctrl.Workspace = c.Refiner.Workspace
	ctrl.ProgramFile = c.Refiner.ProgramFile
	ctrl.ArtifactFile = c.Refiner.ArtifactFile
	ctrl.Interpreter = c.Refiner.Interpreter
	ctrl.PortEnv = c.Refiner.PortEnv
	ctrl.HealthDeadline = c.Refiner.HealthDeadline
	ctrl.DrainTimeout = c.Refiner.DrainTimeout
	ctrl.CaptureTimeout = c.Refiner.CaptureTimeout
	ctrl.KeepAlive = c.Refiner.KeepAlive
	return ctrl
}

// MetricsAddr is the listen address for the metrics server, or "" when disabled.
func (c *Config) MetricsAddr() string {
	if c.Observability.MetricsPort == 0 {
		return ""
	}
	return fmt.Sprintf(":%d", c.Observability.MetricsPort)
}

// WriteDefault writes the default configuration as YAML to path. An existing
// file is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	data, err := yaml.Marshal(plain(New().AllSettings()))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// plain renders durations as "10s" so the written file reads back the same.
func plain(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = plain(val)
		}
		return out
	case time.Duration:
		return t.String()
	default:
		return v
	}
}
