package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	initPath  string
	initForce bool
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Kestrel configuration",
	Long: `Manage Kestrel configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. Environment variables (KESTREL_*, also read from .env)
2. Config file (./kestrel.yaml or --config)
3. Tier defaults (KESTREL_TIER=community|pro)`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		yamlData, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}

		_, err = cmd.OutOrStdout().Write(yamlData)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(initPath); err == nil && !initForce {
			return fmt.Errorf("config file already exists: %s\nUse --force to overwrite it", initPath)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		yamlData, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}

		header := []byte("# Kestrel configuration\n# Every key can be overridden with KESTREL_<SECTION>_<KEY>, e.g. KESTREL_SERVER_PORT.\n\n")
		if err := os.WriteFile(initPath, append(header, yamlData...), 0o644); err != nil {
			return fmt.Errorf("error writing config file: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", initPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().StringVar(&initPath, "path", DefaultConfigFile, "where to write the file")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
}
