package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/samsyeung/mycontrol/internal/localterm"
	"github.com/samsyeung/mycontrol/internal/terminal"
)

var shellCmd = &cobra.Command{
	Use:   "shell <host>",
	Short: "Open an interactive SSH shell on a host",
	Long:  "Open a login shell on the host using the same PTY settings as browser terminals. Press Ctrl+] then 'q' to exit.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices(cfg)
		if err != nil {
			return err
		}

		host, err := svc.registry.Lookup(args[0])
		if err != nil {
			return fmt.Errorf("host %s not found in configuration", args[0])
		}
		if !host.HasSSH() {
			return fmt.Errorf("no SSH host or username configured for %s", host.Name)
		}

		if !localterm.IsTerminal(os.Stdin) {
			return errors.New("stdin is not a terminal")
		}

		remote, err := svc.opener.Open(cmd.Context(), host.SSHTarget(), terminal.KindSSH)
		if err != nil {
			return fmt.Errorf("failed to open terminal: %w", err)
		}

		term := localterm.New(remote)
		defer term.Close()

		return term.Start(cmd.Context(), fmt.Sprintf("Connected to %s.", host.Name))
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}
