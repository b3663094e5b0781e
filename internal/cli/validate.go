package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/spf13/cobra"
)

var (
	schemaName  string
	shapeName   string
	ruleOptions engineFlags
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate <file.json>",
	Short: "Validate one extracted record offline",
	Long: `Validate runs one extracted record through the rule engine and prints
the verdict as JSON. Nothing is stored.

The exit code is 1 when the record is invalid.

Example:
  kestrel validate invoice.json
  kestrel validate receipt.json --schema receipt
  kestrel validate po.json --schema PurchaseOrder --shape invoice --rules rules.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	addRecordFlags(validateCmd)
}

func addRecordFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&schemaName, "schema", "invoice", "schema name (invoice, receipt or a custom name with --shape)")
	cmd.Flags().StringVar(&shapeName, "shape", "", "shape of a custom schema (invoice or receipt)")
	addRuleFlags(cmd)
}

func addRuleFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&ruleOptions.rulesFile, "rules", "", "YAML file of expression rules")
	cmd.Flags().BoolVar(&ruleOptions.noDefaults, "no-defaults", false, "skip the built-in rules")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogger(os.Stderr, cfg.Logging)

	schema, err := domain.ResolveSchema(schemaName, shapeName)
	if err != nil {
		return fmt.Errorf("schema %q: %w", schemaName, err)
	}

	engine, _, err := buildEngine(cfg.Engine, ruleOptions)
	if err != nil {
		return err
	}

	data, err := readRecord(args[0])
	if err != nil {
		return err
	}

	verdict := engine.Validate(data, schema)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(verdict); err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}

	if !verdict.IsValid {
		return ErrInvalidDocument
	}
	return nil
}
