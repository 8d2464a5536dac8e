package containers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/samsyeung/mycontrol/internal/hosts"
	"github.com/samsyeung/mycontrol/internal/metrics"
	"github.com/samsyeung/mycontrol/pkg/dockerengine"
	"github.com/samsyeung/mycontrol/pkg/remote"
)

// Action is a container lifecycle operation
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

var containerIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Outcome is the reply to a container action
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func failure(message string) Outcome {
	return Outcome{Success: false, Message: message}
}

// Options configures the container action service
type Options struct {
	ActionTimeout time.Duration
	Connector     dockerengine.Connector
}

// Service starts and stops containers on hosts
type Service struct {
	registry *hosts.Registry
	runner   remote.Runner
	opts     Options
}

// NewService creates a container action service
func NewService(registry *hosts.Registry, runner remote.Runner, opts Options) *Service {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 30 * time.Second
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

// Act starts or stops a container. Docker's own result is reported as is;
// starting a running container is not treated specially.
func (s *Service) Act(ctx context.Context, hostname, containerID, action string) Outcome {
	if containerID == "" || action == "" {
		return failure("Missing container_id or action")
	}

	act := Action(action)
	if act != ActionStart && act != ActionStop {
		return failure("Invalid action. Must be start or stop")
	}

	if !containerIDPattern.MatchString(containerID) {
		return failure("Invalid container_id")
	}

	host, err := s.registry.Lookup(hostname)
	if err != nil {
		return failure("Host not found in configuration")
	}

	if !host.Supports(hosts.CapabilityDocker) {
		return failure("Docker inventory not enabled for this host")
	}

	log.Info().
		Str("hostname", host.Name).
		Str("container_id", containerID).
		Str("action", action).
		Msg("Running container action")

	if host.DockerEndpoint != "" {
		return s.actViaEngine(ctx, host, containerID, act)
	}

	if host.SSHHost == "" {
		return failure("No SSH host configured for this server")
	}
	if host.SSHUsername == "" {
		return failure("No SSH username configured for this server")
	}

	return s.actViaSSH(ctx, host, containerID, act)
}

func (s *Service) actViaSSH(ctx context.Context, host *hosts.Host, containerID string, act Action) Outcome {
	timeoutCtx, cancel := context.WithTimeout(ctx, s.opts.ActionTimeout)
	defer cancel()

	command := fmt.Sprintf("docker %s %s", act, containerID)

	start := time.Now()
	result, err := s.runner.Run(timeoutCtx, host.SSHTarget(), command)
	metrics.RemoteCommandDuration.WithLabelValues("docker_action").Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, remote.ErrTimeout):
		metrics.RemoteCommandsTotal.WithLabelValues("docker_action", "timeout").Inc()
		return failure(fmt.Sprintf("Docker %s command timed out", act))
	case remote.IsConnectError(err):
		metrics.RemoteCommandsTotal.WithLabelValues("docker_action", "connect_error").Inc()
		log.Warn().Err(err).Str("hostname", host.Name).Msg("SSH connection failed")
		return failure("SSH connection failed: " + remote.Describe(err))
	case err != nil:
		metrics.RemoteCommandsTotal.WithLabelValues("docker_action", "error").Inc()
		log.Error().Err(err).Str("hostname", host.Name).Msg("Container action error")
		return failure("Unexpected error: " + remote.Describe(err))
	case result.ExitCode != 0:
		metrics.RemoteCommandsTotal.WithLabelValues("docker_action", "failed").Inc()
		reason := strings.TrimSpace(result.Stderr)
		if reason == "" {
			reason = fmt.Sprintf("docker %s command failed", act)
		}
		return failure(fmt.Sprintf("Command failed: %s", reason))
	}

	metrics.RemoteCommandsTotal.WithLabelValues("docker_action", "success").Inc()
	return Outcome{Success: true, Message: fmt.Sprintf("Container %s successful", act)}
}

func (s *Service) actViaEngine(ctx context.Context, host *hosts.Host, containerID string, act Action) Outcome {
	timeoutCtx, cancel := context.WithTimeout(ctx, s.opts.ActionTimeout)
	defer cancel()

	engine, err := s.opts.Connector(host.DockerEndpoint)
	if err != nil {
		metrics.RemoteCommandsTotal.WithLabelValues("docker_action", "connect_error").Inc()
		return failure(fmt.Sprintf("Command failed: %v", err))
	}
	defer engine.Close()

	start := time.Now()
	if act == ActionStart {
		err = engine.Start(timeoutCtx, containerID)
	} else {
		err = engine.Stop(timeoutCtx, containerID)
	}
	metrics.RemoteCommandDuration.WithLabelValues("docker_action").Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.RemoteCommandsTotal.WithLabelValues("docker_action", "success").Inc()
		return Outcome{Success: true, Message: fmt.Sprintf("Container %s successful", act)}
	case errors.Is(timeoutCtx.Err(), context.DeadlineExceeded):
		metrics.RemoteCommandsTotal.WithLabelValues("docker_action", "timeout").Inc()
		return failure(fmt.Sprintf("Docker %s command timed out", act))
	default:
		metrics.RemoteCommandsTotal.WithLabelValues("docker_action", "failed").Inc()
		log.Warn().Err(err).Str("hostname", host.Name).Str("endpoint", host.DockerEndpoint).Msg("Docker API action failed")
		return failure(fmt.Sprintf("Command failed: %v", err))
	}
}
