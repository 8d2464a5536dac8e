package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/samsyeung/mycontrol/internal/hosts"
	"github.com/samsyeung/mycontrol/internal/metrics"
	"github.com/samsyeung/mycontrol/pkg/dockerengine"
	"github.com/samsyeung/mycontrol/pkg/remote"
)

const (
	commandGPUInfo     = "nvidia-smi"
	commandGPUTopology = "nvidia-smi topo -m"
	commandDockerList  = "docker ps -a --format json"
)

// Result is the reply to an inventory read. Output carries plain command
// output, HTML carries the rendered docker table.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	HTML    string `json:"html,omitempty"`
	Message string `json:"message,omitempty"`
}

func failure(message string) Result {
	return Result{Success: false, Message: message}
}

// Options configures the inventory service
type Options struct {
	CommandTimeout time.Duration
	Connector      dockerengine.Connector
}

// Service reads GPU and container inventory from hosts
type Service struct {
	registry *hosts.Registry
	runner   remote.Runner
	opts     Options
}

// NewService creates an inventory service
func NewService(registry *hosts.Registry, runner remote.Runner, opts Options) *Service {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 15 * time.Second
	}
	if opts.Connector == nil {
		opts.Connector = dockerengine.Connect
	}
	return &Service{
		registry: registry,
		runner:   runner,
		opts:     opts,
	}
}

// GPUInfo returns the output of nvidia-smi
func (s *Service) GPUInfo(ctx context.Context, hostname string) Result {
	host, res := s.resolve(hostname, hosts.CapabilityGPU)
	if host == nil {
		return res
	}
	return s.runText(ctx, host, "gpu_info", commandGPUInfo, "nvidia-smi command failed")
}

// GPUTopology returns the output of nvidia-smi topo -m
func (s *Service) GPUTopology(ctx context.Context, hostname string) Result {
	host, res := s.resolve(hostname, hosts.CapabilityGPU)
	if host == nil {
		return res
	}
	return s.runText(ctx, host, "gpu_topology", commandGPUTopology, "nvidia-smi topo -m command failed")
}

// DockerList returns every container on the host rendered as an HTML table.
// Hosts with a Docker endpoint are listed through the Engine API.
func (s *Service) DockerList(ctx context.Context, hostname string) Result {
	host, err := s.registry.Lookup(hostname)
	if err != nil {
		return failure("Host not found in configuration")
	}
	if !host.Supports(hosts.CapabilityDocker) {
		return failure("Docker inventory not enabled for this host")
	}

	var containers []dockerengine.Container
	if host.DockerEndpoint != "" {
		containers, err = s.listFromEngine(ctx, host)
		if err != nil {
			return failure(engineFailure(err))
		}
	} else {
		if msg := sshConfigProblem(host); msg != "" {
			return failure(msg)
		}
		res := s.runText(ctx, host, "docker_list", commandDockerList, "docker ps -a command failed")
		if !res.Success {
			return res
		}
		containers = ParseContainers(res.Output)
	}

	html, err := RenderDockerTable(hostname, containers)
	if err != nil {
		log.Error().Err(err).Str("hostname", host.Name).Msg("Failed to render docker table")
		return failure(fmt.Sprintf("Error rendering Docker output: %v", err))
	}

	return Result{Success: true, HTML: html}
}

func (s *Service) resolve(hostname string, capability hosts.Capability) (*hosts.Host, Result) {
	host, err := s.registry.Lookup(hostname)
	if err != nil {
		return nil, failure("Host not found in configuration")
	}
	if !host.Supports(capability) {
		return nil, failure("GPU inventory not enabled for this host")
	}
	if msg := sshConfigProblem(host); msg != "" {
		return nil, failure(msg)
	}
	return host, Result{}
}

func sshConfigProblem(host *hosts.Host) string {
	if host.SSHHost == "" {
		return "No SSH host configured for this server"
	}
	if host.SSHUsername == "" {
		return "No SSH username configured for this server"
	}
	return ""
}

// runText runs a read-only command and maps the outcome to a Result. fallback
// is used when the command fails without writing to stderr.
func (s *Service) runText(ctx context.Context, host *hosts.Host, kind, command, fallback string) Result {
	timeoutCtx, cancel := context.WithTimeout(ctx, s.opts.CommandTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.runner.Run(timeoutCtx, host.SSHTarget(), command)
	metrics.RemoteCommandDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, remote.ErrTimeout):
		metrics.RemoteCommandsTotal.WithLabelValues(kind, "timeout").Inc()
		return failure("Command timed out")
	case remote.IsConnectError(err):
		metrics.RemoteCommandsTotal.WithLabelValues(kind, "connect_error").Inc()
		log.Warn().Err(err).Str("hostname", host.Name).Str("command", command).Msg("SSH connection failed")
		return failure("SSH connection failed: " + remote.Describe(err))
	case err != nil:
		metrics.RemoteCommandsTotal.WithLabelValues(kind, "error").Inc()
		log.Error().Err(err).Str("hostname", host.Name).Str("command", command).Msg("Remote command error")
		return failure("Unexpected error: " + remote.Describe(err))
	case result.ExitCode != 0:
		metrics.RemoteCommandsTotal.WithLabelValues(kind, "failed").Inc()
		reason := strings.TrimSpace(result.Stderr)
		if reason == "" {
			reason = fallback
		}
		return failure(fmt.Sprintf("Command failed: %s", reason))
	}

	metrics.RemoteCommandsTotal.WithLabelValues(kind, "success").Inc()
	return Result{Success: true, Output: result.Stdout}
}

func (s *Service) listFromEngine(ctx context.Context, host *hosts.Host) ([]dockerengine.Container, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, s.opts.CommandTimeout)
	defer cancel()

	engine, err := s.opts.Connector(host.DockerEndpoint)
	if err != nil {
		metrics.RemoteCommandsTotal.WithLabelValues("docker_list", "connect_error").Inc()
		return nil, err
	}
	defer engine.Close()

	start := time.Now()
	containers, err := engine.List(timeoutCtx)
	metrics.RemoteCommandDuration.WithLabelValues("docker_list").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			metrics.RemoteCommandsTotal.WithLabelValues("docker_list", "timeout").Inc()
			return nil, remote.ErrTimeout
		}
		metrics.RemoteCommandsTotal.WithLabelValues("docker_list", "error").Inc()
		log.Warn().Err(err).Str("hostname", host.Name).Str("endpoint", host.DockerEndpoint).Msg("Docker API list failed")
		return nil, err
	}

	metrics.RemoteCommandsTotal.WithLabelValues("docker_list", "success").Inc()
	return containers, nil
}

func engineFailure(err error) string {
	if errors.Is(err, remote.ErrTimeout) {
		return "Command timed out"
	}
	return fmt.Sprintf("Command failed: %v", err)
}
