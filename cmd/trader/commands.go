package main

import (
	"fmt"
	"strings"

	json "github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"paper-trade-engine-go/internal/ledger"
	"paper-trade-engine-go/internal/trader"
)

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.ConfigDefault.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

func newStatusCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the saved portfolio and trade statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), rc)
			if err != nil {
				return err
			}
			defer a.close()

			return printJSON(cmd, struct {
				Status     trader.Status     `json:"status"`
				Portfolio  ledger.Portfolio  `json:"portfolio"`
				Statistics trader.Statistics `json:"statistics"`
			}{a.engine.Status(), a.engine.Portfolio(), a.engine.Statistics()})
		},
	}
}

func newResetCmd(rc *rootConfig) *cobra.Command {
	var wipe bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reload the saved portfolio, or start over from the starting cash with --wipe",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), rc)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.engine.Reset(cmd.Context(), wipe); err != nil {
				return err
			}
			return printJSON(cmd, a.engine.Portfolio())
		},
	}
	cmd.Flags().BoolVar(&wipe, "wipe", false, "delete the saved portfolio, transactions and settings first")
	return cmd
}

func newFeedbackCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <tx-id> <GOOD|BAD>",
		Short: "Rate a past transaction and adjust the learning weights",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), rc)
			if err != nil {
				return err
			}
			defer a.close()

			params, err := a.engine.Feedback(cmd.Context(), args[0], ledger.Feedback(strings.ToUpper(args[1])))
			if err != nil {
				return err
			}
			return printJSON(cmd, params)
		},
	}
}

func newConfigCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration without secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(rc)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
