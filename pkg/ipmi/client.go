package ipmi

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PowerState represents the chassis power state of a server
type PowerState string

const (
	PowerStateOn      PowerState = "on"
	PowerStateOff     PowerState = "off"
	PowerStateUnknown PowerState = "unknown"
)

// Endpoint identifies a BMC and its credentials
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Driver performs chassis operations against a BMC
type Driver interface {
	PowerOn(ctx context.Context, ep Endpoint) error
	GetPowerState(ctx context.Context, ep Endpoint) (PowerState, error)
}

const (
	DriverIPMITool = "ipmitool"
	DriverNative   = "native"
)

// ErrTimeout is returned when the BMC does not answer within the driver timeout
var ErrTimeout = errors.New("ipmi command timed out")

// NewDriver returns the driver selected by name
func NewDriver(name, toolPath string, timeout time.Duration) (Driver, error) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	switch name {
	case DriverIPMITool, "":
		return NewSubprocessClient(toolPath, timeout), nil
	case DriverNative:
		return NewNativeClient(timeout), nil
	default:
		return nil, fmt.Errorf("unknown IPMI driver: %s", name)
	}
}
