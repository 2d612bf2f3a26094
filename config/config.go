package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CODERUN_SANDBOX_TIMEOUT_SEC.
const EnvPrefix = "CODERUN"

// Config represents the application configuration
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Sandbox   SandboxConfig       `mapstructure:"sandbox"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Metrics   MetricsConfig       `mapstructure:"metrics"`
	Languages map[string]Language `mapstructure:"languages"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	HTTPPort           int    `mapstructure:"http_port"`
	Release            bool   `mapstructure:"release"`
	MCPTransport       string `mapstructure:"mcp_transport"`
	MCPHTTPPort        int    `mapstructure:"mcp_http_port"`
	ShutdownTimeoutSec int    `mapstructure:"shutdown_timeout_sec"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	Backend             string `mapstructure:"backend"`
	DockerHost          string `mapstructure:"docker_host"`
	TimeoutSec          int    `mapstructure:"timeout_sec"`
	ProvisionTimeoutSec int    `mapstructure:"provision_timeout_sec"`
	TeardownTimeoutSec  int    `mapstructure:"teardown_timeout_sec"`
	StopTimeoutSec      int    `mapstructure:"stop_timeout_sec"`
	MemoryMB            int    `mapstructure:"memory_mb"`
	CPUShares           int    `mapstructure:"cpu_shares"`
	PidsLimit           int    `mapstructure:"pids_limit"`
	MaxOutputKB         int    `mapstructure:"max_output_kb"`
	MaxConcurrent       int    `mapstructure:"max_concurrent"`
	PullImages          bool   `mapstructure:"pull_images"`
	SeccompProfile      string `mapstructure:"seccomp_profile"`
	Demux               string `mapstructure:"demux"`
	EnableLocalBackend  bool   `mapstructure:"enable_local_backend"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Language overrides or adds a language profile
type Language struct {
	Image      string `mapstructure:"image"`
	Command    string `mapstructure:"command"`
	Source     string `mapstructure:"source"`
	Build      string `mapstructure:"build"`
	Run        string `mapstructure:"run"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// New loads the configuration from config.yaml in the working directory or ./config
func New() (*Config, error) {
	return Load("")
}

// Load loads and validates the configuration. An empty path searches the
// default locations and tolerates a missing file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8000)
	v.SetDefault("server.release", true)
	v.SetDefault("server.mcp_transport", "none")
	v.SetDefault("server.mcp_http_port", 8081)
	v.SetDefault("server.shutdown_timeout_sec", 10)

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.docker_host", "")
	v.SetDefault("sandbox.timeout_sec", 30)
	v.SetDefault("sandbox.provision_timeout_sec", 120)
	v.SetDefault("sandbox.teardown_timeout_sec", 10)
	v.SetDefault("sandbox.stop_timeout_sec", 1)
	v.SetDefault("sandbox.memory_mb", 64)
	v.SetDefault("sandbox.cpu_shares", 512)
	v.SetDefault("sandbox.pids_limit", 64)
	v.SetDefault("sandbox.max_output_kb", 1024)
	v.SetDefault("sandbox.max_concurrent", 4)
	v.SetDefault("sandbox.pull_images", true)
	v.SetDefault("sandbox.seccomp_profile", "")
	v.SetDefault("sandbox.demux", "keyword")
	v.SetDefault("sandbox.enable_local_backend", false)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid server.http_port: %d", c.Server.HTTPPort)
	}

	switch c.Server.MCPTransport {
	case "none", "stdio", "http":
	default:
		return fmt.Errorf("invalid server.mcp_transport: %s, must be 'none', 'stdio' or 'http'", c.Server.MCPTransport)
	}

	if c.Server.MCPTransport == "http" && c.Server.MCPHTTPPort == c.Server.HTTPPort {
		return fmt.Errorf("server.mcp_http_port must differ from server.http_port")
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.CPUShares < 2 {
		return fmt.Errorf("sandbox.cpu_shares must be at least 2, got: %d", c.Sandbox.CPUShares)
	}

	if c.Sandbox.MaxOutputKB <= 0 {
		return fmt.Errorf("sandbox.max_output_kb must be positive, got: %d", c.Sandbox.MaxOutputKB)
	}

	if c.Sandbox.MaxConcurrent < 0 {
		return fmt.Errorf("sandbox.max_concurrent must not be negative, got: %d", c.Sandbox.MaxConcurrent)
	}

	if c.Sandbox.Demux != "keyword" && c.Sandbox.Demux != "stream" {
		return fmt.Errorf("invalid sandbox.demux: %s, must be 'keyword' or 'stream'", c.Sandbox.Demux)
	}

	supportedBackends := map[string]bool{
		"docker": true,
		"podman": true,
		"local":  c.Sandbox.EnableLocalBackend, // local only enabled if specifically allowed
	}

	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	switch c.Logging.Mode {
	case "production", "development":
	default:
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	for name, lang := range c.Languages {
		if lang.TimeoutSec < 0 {
			return fmt.Errorf("languages.%s.timeout_sec must not be negative, got: %d", name, lang.TimeoutSec)
		}
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// GetShutdownTimeout returns the graceful shutdown budget as a duration
func (c *Config) GetShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}
