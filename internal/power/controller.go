package power

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/samsyeung/mycontrol/internal/hosts"
	"github.com/samsyeung/mycontrol/internal/metrics"
	"github.com/samsyeung/mycontrol/pkg/ipmi"
)

// Power states reported by PowerState in addition to ipmi.PowerState values
const (
	StateError       = "error"
	StateTimeout     = "timeout"
	StateConfigError = "config_error"
)

// Outcome is the reply to a power action
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Controller issues power commands to host BMCs
type Controller struct {
	registry   *hosts.Registry
	driver     ipmi.Driver
	driverName string
}

// NewController creates a power controller using the given IPMI driver
func NewController(registry *hosts.Registry, driver ipmi.Driver, driverName string) *Controller {
	return &Controller{
		registry:   registry,
		driver:     driver,
		driverName: driverName,
	}
}

func endpointFor(host *hosts.Host) ipmi.Endpoint {
	return ipmi.Endpoint{
		Host:     host.IPMIHost,
		Port:     host.IPMIPort,
		Username: host.IPMIUsername,
		Password: host.IPMIPassword,
	}
}

// PowerOn asks the BMC to power the chassis up. Success means the BMC
// accepted the command; the resulting power state is not awaited.
func (c *Controller) PowerOn(ctx context.Context, hostname string) Outcome {
	host, err := c.registry.Lookup(hostname)
	if err != nil {
		return Outcome{Success: false, Message: "Host not found in configuration"}
	}

	if !host.HasIPMICredentials() {
		return Outcome{Success: false, Message: "Missing credentials in configuration"}
	}

	log.Info().Str("hostname", host.Name).Str("ipmi_host", host.IPMIHost).Msg("Powering on host")

	start := time.Now()
	err = c.driver.PowerOn(ctx, endpointFor(host))
	metrics.PowerOperationDuration.WithLabelValues(c.driverName, "power_on").Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.PowerOperationsTotal.WithLabelValues(c.driverName, "power_on", "success").Inc()
		return Outcome{Success: true, Message: "Power on command sent successfully"}
	case errors.Is(err, ipmi.ErrTimeout):
		metrics.PowerOperationsTotal.WithLabelValues(c.driverName, "power_on", "timeout").Inc()
		log.Error().Str("hostname", host.Name).Msg("Power on timed out")
		return Outcome{Success: false, Message: "Command timed out"}
	default:
		metrics.PowerOperationsTotal.WithLabelValues(c.driverName, "power_on", "error").Inc()
		log.Error().Err(err).Str("hostname", host.Name).Msg("Power on failed")
		return Outcome{Success: false, Message: fmt.Sprintf("Power on failed: %s", failureReason(err))}
	}
}

// PowerState reports on, off, unknown, error, timeout or config_error
func (c *Controller) PowerState(ctx context.Context, hostname string) string {
	host, err := c.registry.Lookup(hostname)
	if err != nil || !host.HasIPMICredentials() {
		return StateConfigError
	}

	start := time.Now()
	state, err := c.driver.GetPowerState(ctx, endpointFor(host))
	metrics.PowerOperationDuration.WithLabelValues(c.driverName, "power_status").Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.PowerOperationsTotal.WithLabelValues(c.driverName, "power_status", "success").Inc()
		return string(state)
	case errors.Is(err, ipmi.ErrTimeout):
		metrics.PowerOperationsTotal.WithLabelValues(c.driverName, "power_status", "timeout").Inc()
		return StateTimeout
	default:
		metrics.PowerOperationsTotal.WithLabelValues(c.driverName, "power_status", "error").Inc()
		log.Warn().Err(err).Str("hostname", host.Name).Msg("Failed to read power state")
		return StateError
	}
}

// failureReason prefers the BMC tool's own stderr over the wrapped error chain
func failureReason(err error) string {
	var cmdErr *ipmi.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Error()
	}
	return err.Error()
}
