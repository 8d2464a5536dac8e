package commands

import (
	"strings"

	"github.com/spf13/cobra"
)

type hostView struct {
	Name           string   `json:"name"`
	IPMIHost       string   `json:"ipmi_host,omitempty"`
	SSHHost        string   `json:"ssh_host,omitempty"`
	SSHUsername    string   `json:"ssh_username,omitempty"`
	DockerEndpoint string   `json:"docker_endpoint,omitempty"`
	Capabilities   []string `json:"capabilities"`
}

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List configured hosts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices(cfg)
		if err != nil {
			return err
		}

		views := []hostView{}
		rows := [][]string{}
		for _, host := range svc.registry.List() {
			capabilities := []string{"gpu", "docker"}
			if len(host.Capabilities) > 0 {
				capabilities = capabilities[:0]
				for _, c := range host.Capabilities {
					capabilities = append(capabilities, string(c))
				}
			}

			views = append(views, hostView{
				Name:           host.Name,
				IPMIHost:       host.IPMIHost,
				SSHHost:        host.SSHHost,
				SSHUsername:    host.SSHUsername,
				DockerEndpoint: host.DockerEndpoint,
				Capabilities:   capabilities,
			})
			rows = append(rows, []string{
				host.Name,
				orDash(host.IPMIHost),
				orDash(host.SSHHost),
				orDash(host.SSHUsername),
				strings.Join(capabilities, ","),
			})
		}

		return formatter.Table(views, []string{"NAME", "IPMI HOST", "SSH HOST", "SSH USER", "CAPABILITIES"}, rows)
	},
}

func init() {
	rootCmd.AddCommand(hostsCmd)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
