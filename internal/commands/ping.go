package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/samsyeung/mycontrol/internal/probe"
)

var pingCmd = &cobra.Command{
	Use:   "ping <host>",
	Short: "Check whether a host is reachable",
	Long:  "Run a single liveness probe against the host's SSH address, or its IPMI address when no SSH host is configured.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hostname := args[0]

		svc, err := buildServices(cfg)
		if err != nil {
			return err
		}

		result := svc.probe.Ping(cmd.Context(), hostname)
		if err := formatter.Result(result, fmt.Sprintf("%s: %s (%s)", hostname, result.Status, result.Message)); err != nil {
			return err
		}

		if result.Status != probe.StatusOnline {
			return fmt.Errorf("host %s is %s", hostname, result.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
