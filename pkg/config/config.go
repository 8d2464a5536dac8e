package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServiceName is used for config file discovery and env var prefixes
const ServiceName = "mycontrol"

// Config contains all configuration for the mycontrol service
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	SSH        SSHConfig        `yaml:"ssh"`
	IPMI       IPMIConfig       `yaml:"ipmi"`
	Probe      ProbeConfig      `yaml:"probe"`
	Docker     DockerConfig     `yaml:"docker"`
	Terminal   TerminalConfig   `yaml:"terminal"`
	Auth       AuthConfig       `yaml:"auth"`
	History    HistoryConfig    `yaml:"history"`
	Dashboards DashboardsConfig `yaml:"dashboards"`

	Hosts             []HostConfig      `yaml:"hosts"`
	GrafanaDashboards []DashboardConfig `yaml:"grafana_dashboard_urls"`
}

// LogConfig configures logging behavior
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" default:"console"`
	Debug  bool   `yaml:"debug" default:"false"`
}

// ConfigureZerolog applies the level and output format to the global logger
func (c *LogConfig) ConfigureZerolog() {
	level := zerolog.InfoLevel
	if c.Debug {
		level = zerolog.DebugLevel
	} else {
		switch strings.ToLower(c.Level) {
		case "trace":
			level = zerolog.TraceLevel
		case "debug":
			level = zerolog.DebugLevel
		case "info":
			level = zerolog.InfoLevel
		case "warn", "warning":
			level = zerolog.WarnLevel
		case "error":
			level = zerolog.ErrorLevel
		case "fatal":
			level = zerolog.FatalLevel
		case "panic":
			level = zerolog.PanicLevel
		}
	}
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(c.Format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Host            string          `yaml:"host" default:"0.0.0.0"`
	Port            int             `yaml:"port" env:"PORT" default:"5010"`
	ExternalURL     string          `yaml:"external_url" env:"EXTERNAL_URL"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" default:"10s"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig limits power-on and terminal starts per host
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" default:"true"`
	RequestsPerMinute int  `yaml:"requests_per_minute" default:"6"`
	Burst             int  `yaml:"burst" default:"3"`
}

// SSHConfig configures SSH connections to managed hosts
type SSHConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"SSH_TIMEOUT" default:"10s"`
	CommandTimeout time.Duration `yaml:"command_timeout" default:"15s"`
	KnownHostsFile string        `yaml:"known_hosts_file"`
	UseAgent       bool          `yaml:"use_agent" default:"true"`
}

// IPMIConfig configures out-of-band power control
type IPMIConfig struct {
	Driver   string        `yaml:"driver" default:"ipmitool"`
	ToolPath string        `yaml:"ipmitool_path" env:"IPMITOOL_PATH" default:"ipmitool"`
	Timeout  time.Duration `yaml:"timeout" default:"15s"`
}

// ProbeConfig configures liveness probes
type ProbeConfig struct {
	Method   string        `yaml:"method" default:"icmp"`
	PingPath string        `yaml:"ping_path" default:"ping"`
	Timeout  time.Duration `yaml:"timeout" default:"5s"`
	CacheTTL time.Duration `yaml:"cache_ttl" default:"5s"`
}

// DockerConfig configures container lifecycle actions
type DockerConfig struct {
	ActionTimeout time.Duration `yaml:"action_timeout" default:"30s"`
}

// TerminalConfig configures the terminal session broker
type TerminalConfig struct {
	NvtopPath        string        `yaml:"nvtop_path" env:"NVTOP_PATH" default:"nvtop"`
	TermType         string        `yaml:"term_type" default:"xterm-256color"`
	Cols             int           `yaml:"cols" default:"120"`
	Rows             int           `yaml:"rows" default:"40"`
	IdleTimeout      time.Duration `yaml:"idle_timeout" default:"15m"`
	SweepInterval    time.Duration `yaml:"sweep_interval" default:"30s"`
	ReplayBufferSize int           `yaml:"replay_buffer_size" default:"65536"`
	CloseOnDetach    bool          `yaml:"close_on_detach" default:"true"`
}

// AuthConfig configures terminal access tokens
type AuthConfig struct {
	JWTSecretKey string        `yaml:"-" env:"JWT_SECRET_KEY"`
	// TokenTTL bounds token age. Zero keeps a token valid for the whole
	// session.
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

// HistoryConfig configures the action history database
type HistoryConfig struct {
	DatabasePath string `yaml:"database_path" env:"HISTORY_DATABASE_PATH" default:"mycontrol.db"`
	Debug        bool   `yaml:"debug" default:"false"`
}

// DashboardsConfig configures Grafana dashboard links
type DashboardsConfig struct {
	Window time.Duration `yaml:"window" default:"30m"`
}

// DashboardConfig is a single Grafana dashboard link
type DashboardConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Height int    `yaml:"height" default:"400"`
}

// HostConfig describes a managed host
type HostConfig struct {
	Name           string   `yaml:"name"`
	IPMIHost       string   `yaml:"ipmi_host"`
	IPMIPort       int      `yaml:"ipmi_port" default:"623"`
	IPMIUsername   string   `yaml:"ipmi_username"`
	IPMIPassword   string   `yaml:"ipmi_password"`
	SSHHost        string   `yaml:"ssh_host"`
	SSHPort        int      `yaml:"ssh_port" default:"22"`
	SSHUsername    string   `yaml:"ssh_username"`
	SSHPassword    string   `yaml:"ssh_password"`
	SSHKeyFile     string   `yaml:"ssh_key_file"`
	DockerEndpoint string   `yaml:"docker_endpoint"`
	Capabilities   []string `yaml:"capabilities"`
}

// Load loads the configuration from multiple sources
func Load(configFile, envFile string) (*Config, error) {
	cfg := &Config{}

	loader := NewConfigLoader(LoaderConfig{
		ConfigFile:      configFile,
		EnvironmentFile: envFile,
		ServiceName:     ServiceName,
	})

	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.RequestsPerMinute <= 0 || c.Server.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requests per minute and burst must be positive")
	}

	timeouts := map[string]time.Duration{
		"ssh connect timeout":     c.SSH.ConnectTimeout,
		"ssh command timeout":     c.SSH.CommandTimeout,
		"ipmi timeout":            c.IPMI.Timeout,
		"probe timeout":           c.Probe.Timeout,
		"docker action timeout":   c.Docker.ActionTimeout,
		"terminal idle timeout":   c.Terminal.IdleTimeout,
		"terminal sweep interval": c.Terminal.SweepInterval,
	}
	for name, value := range timeouts {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.Probe.CacheTTL < 0 {
		return fmt.Errorf("probe cache ttl must not be negative")
	}

	switch c.IPMI.Driver {
	case "ipmitool", "native":
	default:
		return fmt.Errorf("invalid IPMI driver: %s", c.IPMI.Driver)
	}

	switch c.Probe.Method {
	case "icmp", "tcp":
	default:
		return fmt.Errorf("invalid probe method: %s", c.Probe.Method)
	}

	if c.Terminal.ReplayBufferSize <= 0 {
		return fmt.Errorf("terminal replay buffer size must be positive")
	}

	if c.Terminal.Cols <= 0 || c.Terminal.Rows <= 0 {
		return fmt.Errorf("terminal size must be positive")
	}

	seen := make(map[string]bool, len(c.Hosts))
	for i, host := range c.Hosts {
		if host.IPMIHost == "" && host.SSHHost == "" {
			return fmt.Errorf("host %d (%s) needs an ipmi_host or ssh_host", i, host.Name)
		}

		name := host.DisplayName()
		if seen[name] {
			return fmt.Errorf("duplicate host name: %s", name)
		}
		seen[name] = true

		for _, capability := range host.Capabilities {
			switch capability {
			case "gpu", "docker":
			default:
				return fmt.Errorf("host %s: unknown capability %q", name, capability)
			}
		}
	}

	return nil
}

// DisplayName returns the configured name, falling back to the IPMI or SSH address
func (h *HostConfig) DisplayName() string {
	if h.Name != "" {
		return h.Name
	}
	if h.IPMIHost != "" {
		return h.IPMIHost
	}
	return h.SSHHost
}

// GetListenAddress returns the address the HTTP server listens on
func (c *Config) GetListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
