package main

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/HolyFlex-tecjh/axion/internal/app"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the moderation configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file and rule set",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rules, err := app.BuildRules(cfg.Rules)
		if err != nil {
			return err
		}
		file := viper.ConfigFileUsed()
		if file == "" {
			file = "(built-in defaults)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d rules)\n", file, len(rules))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Output.Redis.Password != "" {
			cfg.Output.Redis.Password = "********"
		}
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
