package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// rulesCmd represents the rules command
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the registered rules in run order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogger(os.Stderr, cfg.Logging)

		engine, _, err := buildEngine(cfg.Engine, ruleOptions)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDESCRIPTION")
		for _, info := range engine.RulesInfo() {
			fmt.Fprintf(tw, "%s\t%s\n", info.Name, info.Description)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d rules\n", engine.RulesCount())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	addRuleFlags(rulesCmd)
}
