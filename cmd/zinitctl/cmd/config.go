package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/zinitctl/pkg/logging"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect zinitctl configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  `Prints the configuration after merging defaults, the config file and ZINITCTL_* environment variables.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configLogrotateCmd = &cobra.Command{
	Use:   "logrotate [component]",
	Short: "Print a logrotate snippet for zinitctl log files",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigLogrotate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configLogrotateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if IsJSONOutput() {
		return printJSON(cmd.OutOrStdout(), cfg)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigLogrotate(cmd *cobra.Command, args []string) error {
	component := "agent"
	if len(args) == 1 {
		component = args[0]
	}
	fmt.Fprint(cmd.OutOrStdout(), logging.GenerateLogrotateConfig(component))
	return nil
}
