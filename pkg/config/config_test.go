package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, 5010, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:5010", cfg.GetListenAddress())
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 10*time.Second, cfg.SSH.ConnectTimeout)
	assert.Equal(t, 15*time.Second, cfg.SSH.CommandTimeout)
	assert.Equal(t, "ipmitool", cfg.IPMI.Driver)
	assert.Equal(t, "ipmitool", cfg.IPMI.ToolPath)
	assert.Equal(t, "icmp", cfg.Probe.Method)
	assert.Equal(t, 5*time.Second, cfg.Probe.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Probe.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.Docker.ActionTimeout)
	assert.Equal(t, "nvtop", cfg.Terminal.NvtopPath)
	assert.Equal(t, 120, cfg.Terminal.Cols)
	assert.Equal(t, 40, cfg.Terminal.Rows)
	assert.Equal(t, 15*time.Minute, cfg.Terminal.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.Terminal.SweepInterval)
	assert.Equal(t, 65536, cfg.Terminal.ReplayBufferSize)
	assert.True(t, cfg.Terminal.CloseOnDetach)
	assert.Equal(t, "mycontrol.db", cfg.History.DatabasePath)
	assert.Equal(t, 30*time.Minute, cfg.Dashboards.Window)
	assert.Empty(t, cfg.Hosts)
}

func TestLoad_HostsFile(t *testing.T) {
	dir := t.TempDir()
	configFile := writeFile(t, dir, "mycontrol.yaml", `
server:
  port: 6000
  external_url: http://dash.example:6000
hosts:
  - name: gpu01
    ipmi_host: 10.0.0.11
    ipmi_username: admin
    ipmi_password: secret
    ssh_host: 10.0.1.11
    ssh_username: root
    capabilities: [gpu]
  - ssh_host: 10.0.1.12
    ssh_port: 2222
    ssh_username: ops
grafana_dashboard_urls:
  - name: Fleet
    url: http://grafana/d/fleet
`)
	envFile := writeFile(t, dir, "mycontrol.env", "MYCONTROL_JWT_SECRET_KEY=from-env-file\n")
	t.Setenv("MYCONTROL_JWT_SECRET_KEY", "")
	t.Setenv("IPMITOOL_PATH", "/opt/bin/ipmitool")

	cfg, err := Load(configFile, envFile)
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, "http://dash.example:6000", cfg.Server.ExternalURL)
	assert.Equal(t, "/opt/bin/ipmitool", cfg.IPMI.ToolPath)
	// An empty value is still an existing variable and wins over the env file.
	assert.Equal(t, "", cfg.Auth.JWTSecretKey)

	require.Len(t, cfg.Hosts, 2)
	assert.Equal(t, "gpu01", cfg.Hosts[0].DisplayName())
	assert.Equal(t, 623, cfg.Hosts[0].IPMIPort)
	assert.Equal(t, 22, cfg.Hosts[0].SSHPort)
	assert.Equal(t, []string{"gpu"}, cfg.Hosts[0].Capabilities)

	assert.Equal(t, "10.0.1.12", cfg.Hosts[1].DisplayName())
	assert.Equal(t, 2222, cfg.Hosts[1].SSHPort)

	require.Len(t, cfg.GrafanaDashboards, 1)
	assert.Equal(t, 400, cfg.GrafanaDashboards[0].Height)
}

func TestLoad_SecretFromEnvironmentFile(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, "mycontrol.env", "JWT_SECRET_KEY=from-env-file\n")
	t.Setenv("JWT_SECRET_KEY", "")
	t.Setenv("MYCONTROL_JWT_SECRET_KEY", "")
	os.Unsetenv("JWT_SECRET_KEY")
	os.Unsetenv("MYCONTROL_JWT_SECRET_KEY")

	cfg, err := Load(filepath.Join(dir, "missing.yaml"), envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-env-file", cfg.Auth.JWTSecretKey)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server port",
		},
		{
			name:    "unknown ipmi driver",
			mutate:  func(c *Config) { c.IPMI.Driver = "redfish" },
			wantErr: "invalid IPMI driver",
		},
		{
			name:    "unknown probe method",
			mutate:  func(c *Config) { c.Probe.Method = "arp" },
			wantErr: "invalid probe method",
		},
		{
			name:    "zero command timeout",
			mutate:  func(c *Config) { c.SSH.CommandTimeout = 0 },
			wantErr: "ssh command timeout must be positive",
		},
		{
			name:    "host without address",
			mutate:  func(c *Config) { c.Hosts = []HostConfig{{Name: "lonely"}} },
			wantErr: "needs an ipmi_host or ssh_host",
		},
		{
			name: "duplicate host names",
			mutate: func(c *Config) {
				c.Hosts = []HostConfig{
					{Name: "a", SSHHost: "10.0.0.1"},
					{Name: "a", SSHHost: "10.0.0.2"},
				}
			},
			wantErr: "duplicate host name",
		},
		{
			name: "unknown capability",
			mutate: func(c *Config) {
				c.Hosts = []HostConfig{{Name: "a", SSHHost: "10.0.0.1", Capabilities: []string{"fpga"}}}
			},
			wantErr: "unknown capability",
		},
		{
			name:    "rate limit disabled ignores zero burst",
			mutate:  func(c *Config) { c.Server.RateLimit = RateLimitConfig{Enabled: false} },
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			require.NoError(t, NewConfigLoader(LoaderConfig{}).setDefaults(cfg))
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
