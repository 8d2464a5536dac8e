package commands

import (
	"fmt"

	"github.com/samsyeung/mycontrol/internal/containers"
	"github.com/samsyeung/mycontrol/internal/hosts"
	"github.com/samsyeung/mycontrol/internal/inventory"
	"github.com/samsyeung/mycontrol/internal/power"
	"github.com/samsyeung/mycontrol/internal/probe"
	"github.com/samsyeung/mycontrol/internal/terminal"
	"github.com/samsyeung/mycontrol/pkg/config"
	"github.com/samsyeung/mycontrol/pkg/ipmi"
	"github.com/samsyeung/mycontrol/pkg/remote"
)

// services holds the stateless components shared by every command
type services struct {
	registry   *hosts.Registry
	ssh        *remote.Client
	power      *power.Controller
	probe      *probe.Service
	inventory  *inventory.Service
	containers *containers.Service
	opener     *terminal.SSHOpener
}

func buildServices(cfg *config.Config) (*services, error) {
	registry := hosts.NewRegistry(cfg.Hosts)

	sshClient := remote.NewClient(remote.Options{
		ConnectTimeout: cfg.SSH.ConnectTimeout,
		KnownHostsFile: cfg.SSH.KnownHostsFile,
		UseAgent:       cfg.SSH.UseAgent,
	})

	driver, err := ipmi.NewDriver(cfg.IPMI.Driver, cfg.IPMI.ToolPath, cfg.IPMI.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create IPMI driver: %w", err)
	}
	powerController := power.NewController(registry, driver, cfg.IPMI.Driver)

	var pinger probe.Pinger
	if cfg.Probe.Method == "tcp" {
		pinger = probe.NewTCPPinger(cfg.Probe.Timeout)
	} else {
		pinger = probe.NewExecPinger(cfg.Probe.PingPath, cfg.Probe.Timeout)
	}

	return &services{
		registry: registry,
		ssh:      sshClient,
		power:    powerController,
		probe: probe.NewService(registry, pinger, sshClient, probe.Options{
			CacheTTL:       cfg.Probe.CacheTTL,
			CommandTimeout: cfg.SSH.CommandTimeout,
			TCP:            cfg.Probe.Method == "tcp",
			Power:          powerController,
		}),
		inventory: inventory.NewService(registry, sshClient, inventory.Options{
			CommandTimeout: cfg.SSH.CommandTimeout,
		}),
		containers: containers.NewService(registry, sshClient, containers.Options{
			ActionTimeout: cfg.Docker.ActionTimeout,
		}),
		opener: terminal.NewSSHOpener(sshClient, terminal.PTYConfig{
			Term: cfg.Terminal.TermType,
			Cols: cfg.Terminal.Cols,
			Rows: cfg.Terminal.Rows,
		}, cfg.Terminal.NvtopPath),
	}, nil
}
