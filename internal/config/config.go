package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/alfred/internal/logger"
)

// Config is the top-level TOML structure for alfred.
//
//	[backend]
//	python = "python3"
//	script = "backend/main.py"
//	work_dir = "/opt/alfred"
//	base_url = "http://127.0.0.1:8000"
//
//	[readiness]
//	interval = "2s"
//	max_attempts = 60
//
//	[supervisor]
//	startup_timeout = "30m"
//	max_retries = 3
type Config struct {
	Backend    BackendConfig    `mapstructure:"backend"`
	Readiness  ReadinessConfig  `mapstructure:"readiness"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        logger.Options   `mapstructure:"log"`
	History    HistoryConfig    `mapstructure:"history"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// BackendConfig describes how the Python backend is launched and reached.
type BackendConfig struct {
	Name           string        `mapstructure:"name"`
	Python         string        `mapstructure:"python"`
	Script         string        `mapstructure:"script"`
	Args           []string      `mapstructure:"args"`
	WorkDir        string        `mapstructure:"work_dir"`
	Env            []string      `mapstructure:"env"`
	PIDFile        string        `mapstructure:"pid_file"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Log            logger.Config `mapstructure:"log"`
}

// ReadinessConfig bounds the health polling loop.
type ReadinessConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

// SupervisorConfig holds process lifecycle budgets.
type SupervisorConfig struct {
	AutoStart       bool          `mapstructure:"auto_start"`
	StartupTimeout  time.Duration `mapstructure:"startup_timeout"`
	StopGrace       time.Duration `mapstructure:"stop_grace"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	RestartMinDelay time.Duration `mapstructure:"restart_min_delay"`
}

// ServerConfig configures the local control API used by UI processes.
type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
	LockFile string `mapstructure:"lock_file"`
}

// HistoryConfig selects an optional supervision history sink.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// MetricsConfig toggles Prometheus metrics and the backend resource sampler.
type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

// Default returns a configuration that works for a backend checked out next to the binary.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			Name:           "alfred-backend",
			Python:         "python3",
			Script:         "backend/main.py",
			WorkDir:        ".",
			BaseURL:        "http://127.0.0.1:8000",
			RequestTimeout: 5 * time.Minute,
		},
		Readiness: ReadinessConfig{
			Interval:       2 * time.Second,
			MaxAttempts:    60,
			StatusInterval: 30 * time.Second,
		},
		Supervisor: SupervisorConfig{
			AutoStart:       true,
			StartupTimeout:  30 * time.Minute,
			StopGrace:       5 * time.Second,
			MaxRetries:      3,
			RetryDelay:      3 * time.Second,
			RestartMinDelay: time.Second,
		},
		Server: ServerConfig{
			Listen:   "127.0.0.1:7733",
			BasePath: "/api",
		},
		Log: logger.Options{Level: "info", Format: "text", Color: true},
		Metrics: MetricsConfig{
			Enabled:        true,
			SampleInterval: 10 * time.Second,
		},
	}
}

// Load reads a TOML config file on top of Default. An empty path yields the
// defaults plus ALFRED_* environment overrides.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ALFRED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only applies to keys viper knows about; seed them from the defaults.
	d := Default()
	v.SetDefault("backend.name", d.Backend.Name)
	v.SetDefault("backend.python", d.Backend.Python)
	v.SetDefault("backend.script", d.Backend.Script)
	v.SetDefault("backend.work_dir", d.Backend.WorkDir)
	v.SetDefault("backend.pid_file", d.Backend.PIDFile)
	v.SetDefault("backend.base_url", d.Backend.BaseURL)
	v.SetDefault("backend.request_timeout", d.Backend.RequestTimeout)
	v.SetDefault("readiness.interval", d.Readiness.Interval)
	v.SetDefault("readiness.max_attempts", d.Readiness.MaxAttempts)
	v.SetDefault("readiness.status_interval", d.Readiness.StatusInterval)
	v.SetDefault("supervisor.auto_start", d.Supervisor.AutoStart)
	v.SetDefault("supervisor.startup_timeout", d.Supervisor.StartupTimeout)
	v.SetDefault("supervisor.stop_grace", d.Supervisor.StopGrace)
	v.SetDefault("supervisor.max_retries", d.Supervisor.MaxRetries)
	v.SetDefault("supervisor.retry_delay", d.Supervisor.RetryDelay)
	v.SetDefault("supervisor.restart_min_delay", d.Supervisor.RestartMinDelay)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.lock_file", d.Server.LockFile)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.color", d.Log.Color)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.dsn", d.History.DSN)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.sample_interval", d.Metrics.SampleInterval)
	return v
}

// Validate rejects settings that would make supervision loop forever or never poll.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Backend.Script) == "" {
		errs = append(errs, errors.New("backend.script is required"))
	}
	if strings.TrimSpace(c.Backend.Python) == "" {
		errs = append(errs, errors.New("backend.python is required"))
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("backend.base_url must be an http(s) URL, got %q", c.Backend.BaseURL))
	}
	if c.Readiness.Interval <= 0 {
		errs = append(errs, errors.New("readiness.interval must be positive"))
	}
	if c.Readiness.MaxAttempts <= 0 {
		errs = append(errs, errors.New("readiness.max_attempts must be positive"))
	}
	if c.Supervisor.MaxRetries <= 0 {
		errs = append(errs, errors.New("supervisor.max_retries must be positive"))
	}
	if c.Supervisor.StartupTimeout <= 0 {
		errs = append(errs, errors.New("supervisor.startup_timeout must be positive"))
	}
	if c.Supervisor.StopGrace < 0 || c.Supervisor.RetryDelay < 0 || c.Supervisor.RestartMinDelay < 0 {
		errs = append(errs, errors.New("supervisor delays cannot be negative"))
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		errs = append(errs, errors.New("history.dsn is required when history is enabled"))
	}
	return errors.Join(errs...)
}

// ReadinessCeiling is the longest the readiness gate may poll before giving up.
func (c *Config) ReadinessCeiling() time.Duration {
	return time.Duration(c.Readiness.MaxAttempts) * c.Readiness.Interval
}
