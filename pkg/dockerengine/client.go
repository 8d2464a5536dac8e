package dockerengine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Container is one row of a container listing. The JSON tags match the
// output of `docker ps --format json`.
type Container struct {
	ID        string `json:"ID"`
	Names     string `json:"Names"`
	Image     string `json:"Image"`
	Status    string `json:"Status"`
	State     string `json:"State"`
	Ports     string `json:"Ports"`
	CreatedAt string `json:"CreatedAt"`
}

// Engine performs container operations against one Docker daemon
type Engine interface {
	List(ctx context.Context) ([]Container, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Close() error
}

// Connector opens an Engine for a daemon endpoint such as tcp://host:2375
type Connector func(endpoint string) (Engine, error)

// Client implements Engine using the Docker SDK
type Client struct {
	cli *client.Client
}

// Connect is the default Connector
func Connect(endpoint string) (Engine, error) {
	return NewClient(endpoint)
}

// NewClient creates a client for the given daemon endpoint
func NewClient(endpoint string) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.WithHost(endpoint), client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{cli: cli}, nil
}

// List returns all containers, running or not
func (c *Client) List(ctx context.Context) ([]Container, error) {
	containers, err := c.cli.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]Container, 0, len(containers))
	for _, ctr := range containers {
		names := make([]string, 0, len(ctr.Names))
		for _, name := range ctr.Names {
			names = append(names, strings.TrimPrefix(name, "/"))
		}

		result = append(result, Container{
			ID:        ctr.ID,
			Names:     strings.Join(names, ","),
			Image:     ctr.Image,
			Status:    ctr.Status,
			State:     ctr.State,
			Ports:     formatPorts(ctr.Ports),
			CreatedAt: time.Unix(ctr.Created, 0).Format("2006-01-02 15:04:05 -0700 MST"),
		})
	}
	return result, nil
}

// Start starts a stopped container
func (c *Client) Start(ctx context.Context, id string) error {
	if err := c.cli.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// Stop stops a running container using the daemon's default grace period
func (c *Client) Stop(ctx context.Context, id string) error {
	if err := c.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Close releases the underlying HTTP transport
func (c *Client) Close() error {
	return c.cli.Close()
}

// formatPorts renders port bindings the way `docker ps` does
func formatPorts(ports []types.Port) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		if p.PublicPort != 0 {
			ip := p.IP
			if ip == "" {
				ip = "0.0.0.0"
			}
			parts = append(parts, fmt.Sprintf("%s:%d->%d/%s", ip, p.PublicPort, p.PrivatePort, p.Type))
			continue
		}
		parts = append(parts, fmt.Sprintf("%d/%s", p.PrivatePort, p.Type))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
