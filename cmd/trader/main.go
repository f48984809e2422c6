package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootConfig carries the persistent flags shared by every subcommand.
type rootConfig struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	rc := &rootConfig{}
	cmd := &cobra.Command{
		Use:           "trader",
		Short:         "Paper trading engine with risk management and an autonomous strategy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&rc.configPath, "config", "./configs", "directory holding config.yml")

	cmd.AddCommand(
		newRunCmd(rc),
		newStatusCmd(rc),
		newResetCmd(rc),
		newFeedbackCmd(rc),
		newConfigCmd(rc),
	)
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
