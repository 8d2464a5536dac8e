package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/samsyeung/mycontrol/internal/hosts"
	"github.com/samsyeung/mycontrol/internal/metrics"
	"github.com/samsyeung/mycontrol/pkg/remote"
)

// Result is the reply to a ping request
type Result struct {
	Success   bool      `json:"success"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Hostname  string    `json:"-"`
	Timestamp time.Time `json:"-"`
}

// UptimeResult always carries a renderable uptime string
type UptimeResult struct {
	Success bool   `json:"success"`
	Uptime  string `json:"uptime"`
}

// HostStatus is one row of the fleet status view
type HostStatus struct {
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
}

// PowerReader reports the chassis power state of a host by name
type PowerReader interface {
	PowerState(ctx context.Context, hostname string) string
}

// Options configures the probe service
type Options struct {
	CacheTTL       time.Duration
	CommandTimeout time.Duration
	TCP            bool
	Power          PowerReader
}

// Service answers liveness, uptime and fleet status queries
type Service struct {
	registry *hosts.Registry
	pinger   Pinger
	runner   remote.Runner
	cache    *resultCache
	opts     Options
}

// NewService creates a probe service
func NewService(registry *hosts.Registry, pinger Pinger, runner remote.Runner, opts Options) *Service {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 15 * time.Second
	}
	return &Service{
		registry: registry,
		pinger:   pinger,
		runner:   runner,
		cache:    newResultCache(opts.CacheTTL),
		opts:     opts,
	}
}

// Ping checks host reachability, serving recent results from the cache
func (s *Service) Ping(ctx context.Context, hostname string) Result {
	host, err := s.registry.Lookup(hostname)
	if err != nil {
		return Result{Success: false, Status: StatusError, Message: "Host not found", Hostname: hostname, Timestamp: time.Now()}
	}

	return s.pingHost(ctx, hostname, host)
}

func (s *Service) pingHost(ctx context.Context, hostname string, host *hosts.Host) Result {
	address := host.ProbeAddress()
	if address == "" {
		return Result{Success: false, Status: StatusError, Message: "No host address configured", Hostname: hostname, Timestamp: time.Now()}
	}

	target := Target{Host: address}
	key := address
	if s.opts.TCP && host.SSHHost != "" {
		target.Port = host.SSHPort
		key = net.JoinHostPort(address, strconv.Itoa(target.Port))
	}

	if outcome, checkedAt, ok := s.cache.get(key); ok {
		metrics.ProbeCacheHitsTotal.Inc()
		return s.result(hostname, outcome, checkedAt)
	}

	outcome := s.pinger.Ping(ctx, target)
	checkedAt := s.cache.now()
	s.cache.put(key, outcome, checkedAt)

	metrics.ProbeResultsTotal.WithLabelValues(string(outcome.Status)).Inc()
	log.Debug().
		Str("hostname", hostname).
		Str("address", address).
		Str("status", string(outcome.Status)).
		Msg("Probed host")

	return s.result(hostname, outcome, checkedAt)
}

func (s *Service) result(hostname string, outcome Outcome, checkedAt time.Time) Result {
	return Result{
		Success:   outcome.Status != StatusError,
		Status:    outcome.Status,
		Message:   outcome.Message,
		Hostname:  hostname,
		Timestamp: checkedAt,
	}
}

// Uptime returns the remote uptime line for hosts that answer a ping
func (s *Service) Uptime(ctx context.Context, hostname string) UptimeResult {
	host, err := s.registry.Lookup(hostname)
	if err != nil {
		return UptimeResult{Success: false, Uptime: "Host not found"}
	}

	if !host.HasSSH() {
		return UptimeResult{Success: false, Uptime: "No SSH config"}
	}

	if ping := s.pingHost(ctx, hostname, host); ping.Status != StatusOnline {
		return UptimeResult{Success: false, Uptime: "Host unreachable"}
	}

	return UptimeResult{Success: true, Uptime: s.remoteUptime(ctx, host)}
}

func (s *Service) remoteUptime(ctx context.Context, host *hosts.Host) string {
	timeoutCtx, cancel := context.WithTimeout(ctx, s.opts.CommandTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.runner.Run(timeoutCtx, host.SSHTarget(), "uptime")
	metrics.RemoteCommandDuration.WithLabelValues("uptime").Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, remote.ErrTimeout):
		metrics.RemoteCommandsTotal.WithLabelValues("uptime", "timeout").Inc()
		return "SSH timeout"
	case remote.IsConnectError(err):
		metrics.RemoteCommandsTotal.WithLabelValues("uptime", "connect_error").Inc()
		log.Debug().Err(err).Str("hostname", host.Name).Msg("Uptime SSH connection failed")
		return "SSH error: " + remote.Describe(err)
	case err != nil:
		metrics.RemoteCommandsTotal.WithLabelValues("uptime", "error").Inc()
		log.Warn().Err(err).Str("hostname", host.Name).Msg("Uptime command failed")
		return "Error: " + remote.Describe(err)
	case result.ExitCode != 0:
		metrics.RemoteCommandsTotal.WithLabelValues("uptime", "failed").Inc()
		reason := strings.TrimSpace(result.Stderr)
		if reason == "" {
			reason = fmt.Sprintf("uptime exited with status %d", result.ExitCode)
		}
		return fmt.Sprintf("SSH error: %s", reason)
	}

	metrics.RemoteCommandsTotal.WithLabelValues("uptime", "success").Inc()
	return strings.TrimSpace(result.Stdout)
}

// Status gathers power state and uptime for every host concurrently
func (s *Service) Status(ctx context.Context) []HostStatus {
	list := s.registry.List()
	statuses := make([]HostStatus, len(list))

	var wg sync.WaitGroup
	for i, host := range list {
		wg.Add(1)
		go func(i int, host *hosts.Host) {
			defer wg.Done()

			hostname := host.IPMIHost
			if hostname == "" {
				hostname = host.SSHHost
			}

			power := "config_error"
			if s.opts.Power != nil {
				power = s.opts.Power.PowerState(ctx, host.Name)
			}

			uptime := "No SSH config"
			if host.HasSSH() {
				uptime = s.remoteUptime(ctx, host)
			}

			statuses[i] = HostStatus{
				Name:     host.Name,
				Hostname: hostname,
				Status:   power,
				Uptime:   uptime,
			}
		}(i, host)
	}
	wg.Wait()

	return statuses
}
