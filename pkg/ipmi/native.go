package ipmi

import (
	"context"
	"errors"
	"fmt"
	"time"

	goipmi "github.com/bougou/go-ipmi"
	"github.com/rs/zerolog/log"
)

// NativeClient talks RMCP+ directly using github.com/bougou/go-ipmi
type NativeClient struct {
	timeout time.Duration
}

// NewNativeClient creates a client that needs no ipmitool binary
func NewNativeClient(timeout time.Duration) *NativeClient {
	return &NativeClient{timeout: timeout}
}

func (c *NativeClient) connect(ctx context.Context, ep Endpoint) (*goipmi.Client, error) {
	port := ep.Port
	if port == 0 {
		port = 623
	}

	client, err := goipmi.NewClient(ep.Host, port, ep.Username, ep.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to create ipmi client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to BMC %s: %w", ep.Host, err)
	}

	return client, nil
}

// PowerOn issues a chassis power up
func (c *NativeClient) PowerOn(ctx context.Context, ep Endpoint) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := c.connect(timeoutCtx, ep)
	if err != nil {
		return c.mapError(timeoutCtx, err)
	}
	defer client.Close(context.Background())

	if _, err := client.ChassisControl(timeoutCtx, goipmi.ChassisControlPowerUp); err != nil {
		return c.mapError(timeoutCtx, fmt.Errorf("failed to power on: %w", err))
	}

	log.Info().Str("host", ep.Host).Msg("Power on command accepted")
	return nil
}

// GetPowerState reads the chassis status
func (c *NativeClient) GetPowerState(ctx context.Context, ep Endpoint) (PowerState, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := c.connect(timeoutCtx, ep)
	if err != nil {
		return PowerStateUnknown, c.mapError(timeoutCtx, err)
	}
	defer client.Close(context.Background())

	res, err := client.GetChassisStatus(timeoutCtx)
	if err != nil {
		return PowerStateUnknown, c.mapError(timeoutCtx, fmt.Errorf("failed to get chassis status: %w", err))
	}

	if res.PowerIsOn {
		return PowerStateOn, nil
	}
	return PowerStateOff, nil
}

func (c *NativeClient) mapError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}
