package hosts

import (
	"net"
	"strconv"
	"strings"

	"github.com/samsyeung/mycontrol/pkg/config"
	"github.com/samsyeung/mycontrol/pkg/remote"
)

// Capability names a per-host feature that can be switched off in config
type Capability string

const (
	CapabilityGPU    Capability = "gpu"
	CapabilityDocker Capability = "docker"
)

// Host represents a managed machine
type Host struct {
	Name           string
	IPMIHost       string
	IPMIPort       int
	IPMIUsername   string
	IPMIPassword   string
	SSHHost        string
	SSHPort        int
	SSHUsername    string
	SSHPassword    string
	SSHKeyFile     string
	DockerEndpoint string
	Capabilities   []Capability
}

// HasIPMICredentials reports whether the host can be power controlled
func (h *Host) HasIPMICredentials() bool {
	return h.IPMIHost != "" && h.IPMIUsername != "" && h.IPMIPassword != ""
}

// HasSSH reports whether both an SSH address and user are configured
func (h *Host) HasSSH() bool {
	return h.SSHHost != "" && h.SSHUsername != ""
}

// ProbeAddress is the address used for liveness checks
func (h *Host) ProbeAddress() string {
	if h.SSHHost != "" {
		return h.SSHHost
	}
	return h.IPMIHost
}

// SSHAddress returns host:port for SSH dialing
func (h *Host) SSHAddress() string {
	port := h.SSHPort
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(h.SSHHost, strconv.Itoa(port))
}

// SSHTarget returns the credentials used for SSH commands and terminals
func (h *Host) SSHTarget() remote.Target {
	return remote.Target{
		Address:  h.SSHAddress(),
		Username: h.SSHUsername,
		Password: h.SSHPassword,
		KeyFile:  h.SSHKeyFile,
	}
}

// Supports reports whether a capability is enabled. No capabilities means all.
func (h *Host) Supports(c Capability) bool {
	if len(h.Capabilities) == 0 {
		return true
	}
	for _, capability := range h.Capabilities {
		if capability == c {
			return true
		}
	}
	return false
}

// Registry holds the configured hosts. It is built once and never modified.
type Registry struct {
	hosts []*Host
}

// NewRegistry builds a registry from the host list in config order
func NewRegistry(configs []config.HostConfig) *Registry {
	r := &Registry{hosts: make([]*Host, 0, len(configs))}

	for _, hc := range configs {
		host := &Host{
			Name:           hc.DisplayName(),
			IPMIHost:       hc.IPMIHost,
			IPMIPort:       hc.IPMIPort,
			IPMIUsername:   hc.IPMIUsername,
			IPMIPassword:   hc.IPMIPassword,
			SSHHost:        hc.SSHHost,
			SSHPort:        hc.SSHPort,
			SSHUsername:    hc.SSHUsername,
			SSHPassword:    hc.SSHPassword,
			SSHKeyFile:     hc.SSHKeyFile,
			DockerEndpoint: hc.DockerEndpoint,
		}
		for _, c := range hc.Capabilities {
			host.Capabilities = append(host.Capabilities, Capability(strings.ToLower(c)))
		}
		r.hosts = append(r.hosts, host)
	}

	return r
}

// Lookup finds a host by name, IPMI address or SSH address. The first
// configured match wins.
func (r *Registry) Lookup(hostname string) (*Host, error) {
	if hostname == "" {
		return nil, ErrHostNotFound
	}

	for _, host := range r.hosts {
		if host.Name == hostname || host.IPMIHost == hostname || host.SSHHost == hostname {
			h := *host
			return &h, nil
		}
	}

	return nil, ErrHostNotFound
}

// List returns copies of all hosts in config order
func (r *Registry) List() []*Host {
	hosts := make([]*Host, 0, len(r.hosts))
	for _, host := range r.hosts {
		h := *host
		hosts = append(hosts, &h)
	}
	return hosts
}

// Count returns the number of configured hosts
func (r *Registry) Count() int {
	return len(r.hosts)
}

// Common errors
var (
	ErrHostNotFound = &Error{Code: "host_not_found", Message: "Host not found in configuration"}
)

// Error represents a registry lookup error
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
