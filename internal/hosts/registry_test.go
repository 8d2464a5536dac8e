package hosts

import (
	"errors"
	"testing"

	"github.com/samsyeung/mycontrol/pkg/config"
)

func testConfigs() []config.HostConfig {
	return []config.HostConfig{
		{
			Name:         "gpu01",
			IPMIHost:     "10.0.0.11",
			IPMIUsername: "admin",
			IPMIPassword: "secret",
			SSHHost:      "10.0.1.11",
			SSHPort:      22,
			SSHUsername:  "root",
			Capabilities: []string{"GPU"},
		},
		{
			IPMIHost: "10.0.0.12",
		},
		{
			Name:        "builder",
			SSHHost:     "builder.lan",
			SSHPort:     2222,
			SSHUsername: "ops",
		},
	}
}

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry(testConfigs())
	if registry == nil {
		t.Fatal("NewRegistry returned nil")
	}

	if registry.Count() != 3 {
		t.Errorf("Expected count 3, got %d", registry.Count())
	}

	list := registry.List()
	if list[1].Name != "10.0.0.12" {
		t.Errorf("Expected unnamed host to fall back to IPMI address, got '%s'", list[1].Name)
	}
}

func TestRegistry_Lookup(t *testing.T) {
	registry := NewRegistry(testConfigs())

	tests := []struct {
		hostname string
		want     string
	}{
		{"gpu01", "gpu01"},
		{"10.0.0.11", "gpu01"},
		{"10.0.1.11", "gpu01"},
		{"10.0.0.12", "10.0.0.12"},
		{"builder.lan", "builder"},
	}

	for _, tt := range tests {
		host, err := registry.Lookup(tt.hostname)
		if err != nil {
			t.Errorf("Lookup(%q) failed: %v", tt.hostname, err)
			continue
		}
		if host.Name != tt.want {
			t.Errorf("Lookup(%q) = %s, want %s", tt.hostname, host.Name, tt.want)
		}
	}

	for _, hostname := range []string{"", "unknown", "GPU01"} {
		if _, err := registry.Lookup(hostname); !errors.Is(err, ErrHostNotFound) {
			t.Errorf("Lookup(%q) expected ErrHostNotFound, got %v", hostname, err)
		}
	}
}

func TestRegistry_LookupReturnsCopy(t *testing.T) {
	registry := NewRegistry(testConfigs())

	host, err := registry.Lookup("gpu01")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	host.SSHHost = "changed"

	again, _ := registry.Lookup("gpu01")
	if again.SSHHost != "10.0.1.11" {
		t.Errorf("Registry was modified through a returned host: %s", again.SSHHost)
	}
}

func TestHost_Helpers(t *testing.T) {
	registry := NewRegistry(testConfigs())

	gpu, _ := registry.Lookup("gpu01")
	if !gpu.HasIPMICredentials() || !gpu.HasSSH() {
		t.Error("Expected gpu01 to have IPMI credentials and SSH")
	}
	if gpu.ProbeAddress() != "10.0.1.11" {
		t.Errorf("Expected probe address to prefer SSH host, got %s", gpu.ProbeAddress())
	}
	if !gpu.Supports(CapabilityGPU) {
		t.Error("Expected gpu01 to support gpu (capabilities are case-insensitive)")
	}
	if gpu.Supports(CapabilityDocker) {
		t.Error("Expected gpu01 not to support docker")
	}

	bmcOnly, _ := registry.Lookup("10.0.0.12")
	if bmcOnly.HasIPMICredentials() {
		t.Error("Expected host without credentials to report none")
	}
	if bmcOnly.HasSSH() {
		t.Error("Expected host without SSH")
	}
	if bmcOnly.ProbeAddress() != "10.0.0.12" {
		t.Errorf("Expected probe address to fall back to IPMI host, got %s", bmcOnly.ProbeAddress())
	}
	if !bmcOnly.Supports(CapabilityDocker) {
		t.Error("Expected empty capability list to allow everything")
	}

	builder, _ := registry.Lookup("builder")
	if builder.SSHAddress() != "builder.lan:2222" {
		t.Errorf("Expected builder.lan:2222, got %s", builder.SSHAddress())
	}
}
