package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/heron/internal/scoring"
)

var ruleSetCmd = &cobra.Command{
	Use:   "ruleset",
	Short: "Inspect and validate scoring rule sets",
}

var ruleSetValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Compile every expression in a rule set file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := readRuleSet(args[0])
		if err != nil {
			return err
		}
		engine, err := scoring.NewEngine()
		if err != nil {
			return err
		}
		if err := engine.Validate(rs); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rule set %s is valid: %d groups, %d overrides\n",
			rs.Version, len(rs.Groups), len(rs.Overrides))
		return nil
	},
}

var ruleSetBuiltinCmd = &cobra.Command{
	Use:   "builtin",
	Short: "Print the built-in rule set as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(scoring.BuiltinRuleSet())
	},
}

func init() {
	ruleSetCmd.AddCommand(ruleSetValidateCmd, ruleSetBuiltinCmd)
	rootCmd.AddCommand(ruleSetCmd)
}
