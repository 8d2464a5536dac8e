package power

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/samsyeung/mycontrol/internal/hosts"
	"github.com/samsyeung/mycontrol/pkg/config"
	"github.com/samsyeung/mycontrol/pkg/ipmi"
)

type fakeDriver struct {
	mu       sync.Mutex
	powerOns []ipmi.Endpoint
	powerErr error
	state    ipmi.PowerState
	stateErr error
}

func (f *fakeDriver) PowerOn(ctx context.Context, ep ipmi.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.powerOns = append(f.powerOns, ep)
	return f.powerErr
}

func (f *fakeDriver) GetPowerState(ctx context.Context, ep ipmi.Endpoint) (ipmi.PowerState, error) {
	return f.state, f.stateErr
}

func testRegistry() *hosts.Registry {
	return hosts.NewRegistry([]config.HostConfig{
		{Name: "gpu01", IPMIHost: "10.0.0.11", IPMIPort: 623, IPMIUsername: "admin", IPMIPassword: "secret"},
		{Name: "nocreds", IPMIHost: "10.0.0.12"},
	})
}

func TestController_PowerOn(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		err      error
		want     Outcome
		calls    int
	}{
		{
			name:     "success",
			hostname: "gpu01",
			want:     Outcome{Success: true, Message: "Power on command sent successfully"},
			calls:    1,
		},
		{
			name:     "lookup by ipmi address",
			hostname: "10.0.0.11",
			want:     Outcome{Success: true, Message: "Power on command sent successfully"},
			calls:    1,
		},
		{
			name:     "unknown host",
			hostname: "missing",
			want:     Outcome{Success: false, Message: "Host not found in configuration"},
		},
		{
			name:     "missing credentials",
			hostname: "nocreds",
			want:     Outcome{Success: false, Message: "Missing credentials in configuration"},
		},
		{
			name:     "timeout",
			hostname: "gpu01",
			err:      ipmi.ErrTimeout,
			want:     Outcome{Success: false, Message: "Command timed out"},
			calls:    1,
		},
		{
			name:     "bmc rejects",
			hostname: "gpu01",
			err:      fmt.Errorf("failed to power on: %w", &ipmi.CommandError{Err: errors.New("exit status 1"), Stderr: "Unable to establish LAN session"}),
			want:     Outcome{Success: false, Message: "Power on failed: Unable to establish LAN session"},
			calls:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver := &fakeDriver{powerErr: tt.err}
			controller := NewController(testRegistry(), driver, "fake")

			got := controller.PowerOn(context.Background(), tt.hostname)
			assert.Equal(t, tt.want, got)
			assert.Len(t, driver.powerOns, tt.calls)
		})
	}
}

func TestController_PowerOnPassesEndpoint(t *testing.T) {
	driver := &fakeDriver{}
	controller := NewController(testRegistry(), driver, "fake")

	controller.PowerOn(context.Background(), "gpu01")

	assert.Equal(t, []ipmi.Endpoint{{Host: "10.0.0.11", Port: 623, Username: "admin", Password: "secret"}}, driver.powerOns)
}

func TestController_PowerState(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		state    ipmi.PowerState
		err      error
		want     string
	}{
		{"on", "gpu01", ipmi.PowerStateOn, nil, "on"},
		{"off", "gpu01", ipmi.PowerStateOff, nil, "off"},
		{"unknown", "gpu01", ipmi.PowerStateUnknown, nil, "unknown"},
		{"timeout", "gpu01", ipmi.PowerStateUnknown, ipmi.ErrTimeout, "timeout"},
		{"error", "gpu01", ipmi.PowerStateUnknown, errors.New("boom"), "error"},
		{"no credentials", "nocreds", ipmi.PowerStateOn, nil, "config_error"},
		{"unknown host", "missing", ipmi.PowerStateOn, nil, "config_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			controller := NewController(testRegistry(), &fakeDriver{state: tt.state, stateErr: tt.err}, "fake")
			assert.Equal(t, tt.want, controller.PowerState(context.Background(), tt.hostname))
		})
	}
}
