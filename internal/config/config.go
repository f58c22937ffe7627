package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Global configuration structure.
type Global struct {
	// HTTP server
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	// Model repository holding analyze.py
	ModelRepo        string `mapstructure:"model_repo" yaml:"model_repo"`
	ModelRevision    string `mapstructure:"model_revision" yaml:"model_revision"`
	HubEndpoint      string `mapstructure:"hub_endpoint" yaml:"hub_endpoint"`
	HubToken         string `mapstructure:"hub_token" yaml:"hub_token"`
	CacheDir         string `mapstructure:"cache_dir" yaml:"cache_dir"`
	VerifyCache      bool   `mapstructure:"verify_cache" yaml:"verify_cache"`
	FetchTimeoutSec  int    `mapstructure:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`
	FetchConcurrency int    `mapstructure:"fetch_concurrency" yaml:"fetch_concurrency"`

	// External analysis script
	Python        string   `mapstructure:"python" yaml:"python"`
	ScriptName    string   `mapstructure:"script_name" yaml:"script_name"`
	ScriptArgs    []string `mapstructure:"script_args" yaml:"script_args"`
	RunTimeoutSec int      `mapstructure:"run_timeout_sec" yaml:"run_timeout_sec"`
	MaxConcurrent int      `mapstructure:"max_concurrent" yaml:"max_concurrent"`

	// Per-run files and history
	WorkDir            string `mapstructure:"work_dir" yaml:"work_dir"`
	RunTTLMin          int    `mapstructure:"run_ttl_min" yaml:"run_ttl_min"`
	JanitorIntervalMin int    `mapstructure:"janitor_interval_min" yaml:"janitor_interval_min"`
	MaxUploadMB        int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	HistoryPath        string `mapstructure:"history_path" yaml:"history_path"`
	ReuseResults       bool   `mapstructure:"reuse_results" yaml:"reuse_results"`

	// Rendering
	PDFWrapWidth int `mapstructure:"pdf_wrap_width" yaml:"pdf_wrap_width"`

	// Logging
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

// Addr returns the listen address for the dashboard.
func (c *Global) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RunTimeout returns the subprocess timeout; zero disables it.
func (c *Global) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSec) * time.Second
}

// FetchTimeout bounds a complete artifact fetch.
func (c *Global) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// RunTTL is how long per-run files are kept on disk.
func (c *Global) RunTTL() time.Duration {
	return time.Duration(c.RunTTLMin) * time.Minute
}

func (c *Global) JanitorInterval() time.Duration {
	return time.Duration(c.JanitorIntervalMin) * time.Minute
}

// MaxUploadBytes converts MaxUploadMB to bytes.
func (c *Global) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// BaseDir returns ~/.mpie, the home of the default config, cache and runs.
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".mpie"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.mpie/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	var path string
	if cfgFile != "" {
		path = cfgFile
	} else {
		dir, err := BaseDir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults. Flags are applied by the caller.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("MPIE")
	v.AutomaticEnv()
	// Hosting platforms hand the port over as a bare PORT.
	_ = v.BindEnv("port", "MPIE_PORT", "PORT")
	_ = v.BindEnv("hub_token", "MPIE_HUB_TOKEN", "HF_TOKEN")

	// Defaults
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 7860)
	v.SetDefault("model_repo", "rahuljishu/mpie_iitj")
	v.SetDefault("model_revision", "main")
	v.SetDefault("hub_endpoint", "https://huggingface.co")
	v.SetDefault("hub_token", "")
	v.SetDefault("verify_cache", false)
	v.SetDefault("fetch_timeout_sec", 300)
	v.SetDefault("fetch_concurrency", 4)
	v.SetDefault("python", "python")
	v.SetDefault("script_name", "analyze.py")
	v.SetDefault("script_args", []string{})
	v.SetDefault("run_timeout_sec", 300)
	v.SetDefault("max_concurrent", 1)
	v.SetDefault("run_ttl_min", 60)
	v.SetDefault("janitor_interval_min", 10)
	v.SetDefault("max_upload_mb", 32)
	v.SetDefault("reuse_results", true)
	v.SetDefault("pdf_wrap_width", 95)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	base, err := BaseDir()
	if err != nil {
		return nil, err
	}

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		_ = os.MkdirAll(base, 0o755)
		v.AddConfigPath(base)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// optional read
	_ = v.ReadInConfig()

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// Resolve directory defaults under ~/.mpie
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(base, "hf_cache")
	}
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(base, "runs")
	}
	if c.HistoryPath == "" {
		c.HistoryPath = filepath.Join(base, "history.db")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects values the server cannot start with.
func (c *Global) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.ModelRepo == "" {
		return fmt.Errorf("model_repo must not be empty")
	}
	if c.ScriptName == "" {
		return fmt.Errorf("script_name must not be empty")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.MaxConcurrent)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	if c.RunTimeoutSec < 0 {
		return fmt.Errorf("run_timeout_sec must not be negative")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format: %s (use text or json)", c.LogFormat)
	}
	return nil
}
