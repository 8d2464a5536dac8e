package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var powerOnCmd = &cobra.Command{
	Use:   "power-on <host>",
	Short: "Power on a host through its BMC",
	Long:  "Send an IPMI chassis power on command. The command returns once the BMC accepts it; the host may take minutes to boot.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hostname := args[0]

		svc, err := buildServices(cfg)
		if err != nil {
			return err
		}

		outcome := svc.power.PowerOn(cmd.Context(), hostname)
		if err := formatter.Result(outcome, fmt.Sprintf("%s: %s", hostname, outcome.Message)); err != nil {
			return err
		}

		if !outcome.Success {
			return errors.New(outcome.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(powerOnCmd)
}
