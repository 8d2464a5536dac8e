package ipmi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SubprocessClient implements IPMI operations by running ipmitool
type SubprocessClient struct {
	toolPath string
	timeout  time.Duration
}

// NewSubprocessClient creates a new ipmitool based client
func NewSubprocessClient(toolPath string, timeout time.Duration) *SubprocessClient {
	if toolPath == "" {
		toolPath = "ipmitool"
	}
	return &SubprocessClient{
		toolPath: toolPath,
		timeout:  timeout,
	}
}

// CommandError carries the stderr of a failed ipmitool run
type CommandError struct {
	Err    error
	Stderr string
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// runIPMITool executes ipmitool over lanplus and falls back to the legacy lan
// interface when that fails
func (c *SubprocessClient) runIPMITool(ctx context.Context, ep Endpoint, args ...string) (string, error) {
	cmdArgs := []string{
		"-I", "lanplus",
		"-H", ep.Host,
		"-U", ep.Username,
		"-P", ep.Password,
	}
	if ep.Port != 0 && ep.Port != 623 {
		cmdArgs = append(cmdArgs, "-p", strconv.Itoa(ep.Port))
	}
	cmdArgs = append(cmdArgs, args...)

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	log.Debug().
		Str("host", ep.Host).
		Strs("args", args).
		Msg("Executing ipmitool command")

	stdout, stderr, err := c.exec(timeoutCtx, cmdArgs)
	if err != nil {
		if timeoutCtx.Err() != nil {
			return "", ErrTimeout
		}

		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// ipmitool could not be started at all
			return "", &CommandError{Err: err}
		}

		log.Debug().Str("host", ep.Host).Msg("Trying legacy lan interface")
		cmdArgs[1] = "lan"

		stdout, stderr, err = c.exec(timeoutCtx, cmdArgs)
		if err != nil {
			if timeoutCtx.Err() != nil {
				return "", ErrTimeout
			}
			return "", &CommandError{Err: err, Stderr: strings.TrimSpace(stderr)}
		}
	}

	return strings.TrimSpace(stdout), nil
}

func (c *SubprocessClient) exec(ctx context.Context, args []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, c.toolPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// PowerOn sends chassis power on
func (c *SubprocessClient) PowerOn(ctx context.Context, ep Endpoint) error {
	log.Debug().Str("host", ep.Host).Msg("Powering on server via ipmitool")

	if _, err := c.runIPMITool(ctx, ep, "chassis", "power", "on"); err != nil {
		if errors.Is(err, ErrTimeout) {
			return err
		}
		return fmt.Errorf("failed to power on: %w", err)
	}

	log.Info().Str("host", ep.Host).Msg("Power on command accepted")
	return nil
}

// GetPowerState reads chassis power status
func (c *SubprocessClient) GetPowerState(ctx context.Context, ep Endpoint) (PowerState, error) {
	output, err := c.runIPMITool(ctx, ep, "chassis", "power", "status")
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return PowerStateUnknown, err
		}
		return PowerStateUnknown, fmt.Errorf("failed to get power state: %w", err)
	}

	// "Chassis Power is on" or "Chassis Power is off"
	outputLower := strings.ToLower(output)
	if strings.Contains(outputLower, "is on") {
		return PowerStateOn, nil
	} else if strings.Contains(outputLower, "is off") {
		return PowerStateOff, nil
	}

	log.Warn().Str("output", output).Msg("Unknown power state output")
	return PowerStateUnknown, nil
}
