package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/samsyeung/mycontrol/internal/output"
	"github.com/samsyeung/mycontrol/pkg/config"
)

var (
	cfg       *config.Config
	formatter *output.Formatter
)

var rootCmd = &cobra.Command{
	Use:   "mycontrol",
	Short: "Fleet control backend for GPU hosts",
	Long: `mycontrol serves the fleet dashboard API: IPMI power-on, liveness and uptime
probes, GPU and docker inventory, container start/stop and browser terminals
bridged over SSH. Run without a subcommand to start the server.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runServe,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().String("config", "", "config file (default: search ., config/, configs/, /etc/mycontrol/, ~/.mycontrol/)")
	rootCmd.PersistentFlags().String("env-file", "", "environment file (default: search the config locations for mycontrol.env)")
	rootCmd.PersistentFlags().StringP("output", "o", "text", "Output format (text|json)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("env_file", rootCmd.PersistentFlags().Lookup("env-file"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
}

func initViper() {
	viper.SetEnvPrefix(strings.ToUpper(config.ServiceName))
	viper.AutomaticEnv()
}

func loadConfig(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(viper.GetString("output"))
	if err != nil {
		return err
	}
	formatter = output.New(format)
	formatter.SetWriter(cmd.OutOrStdout())

	configFile := viper.GetString("config")
	if configFile == "" {
		configFile = config.FindConfigFile(config.ServiceName)
	}
	envFile := viper.GetString("env_file")
	if envFile == "" {
		envFile = config.FindEnvironmentFile(config.ServiceName)
	}

	cfg, err = config.Load(configFile, envFile)
	if err != nil {
		return err
	}

	cfg.Log.ConfigureZerolog()

	log.Debug().
		Str("config_file", configFile).
		Str("env_file", envFile).
		Int("hosts", len(cfg.Hosts)).
		Msg("Configuration loaded")
	return nil
}
