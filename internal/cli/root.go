// Package cli implements the kestrel command line.
package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file looked up in the working directory.
const DefaultConfigFile = "kestrel.yaml"

// ErrInvalidDocument is returned by validate and batch when a record fails validation.
var ErrInvalidDocument = errors.New("document failed validation")

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "kestrel",
	Short: "Kestrel - Validation and fraud-risk scoring for extracted documents",
	Long: `Kestrel checks invoices and receipts produced by document extraction.

Every record runs through arithmetic, format, business-logic and anomaly
rules plus any user expression rules. The verdict tells whether the record
is valid, how much to trust the extraction and how likely it is fraudulent.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "kestrel %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./"+DefaultConfigFile+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

// initConfig loads .env into the environment. A missing file is not an error.
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
	}
}

// loadConfig builds the effective configuration. The tier defaults
// (KESTREL_TIER) are overlaid by the config file, then by KESTREL_* variables,
// e.g. KESTREL_SERVER_PORT or KESTREL_CACHE_TYPE.
func loadConfig() (*domain.Config, error) {
	base := domain.DefaultConfig()
	if domain.Tier(os.Getenv("KESTREL_TIER")) == domain.TierPro {
		base = domain.ProConfig()
	}

	// Every key must be known to viper for env overrides to apply.
	defaults, err := yaml.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("read defaults: %w", err)
	}

	v.SetEnvPrefix("KESTREL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := cfgFile
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", path)
		}
	}

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if _, ok := domain.ParseFraudRisk(string(cfg.Validation.AlertRisk)); !ok {
		return nil, fmt.Errorf("unknown validation.alertRisk %q", cfg.Validation.AlertRisk)
	}
	if _, err := cfg.RateLimit.Overrides(); err != nil {
		return nil, fmt.Errorf("invalid rateLimit.tenantRates: %w", err)
	}
	return cfg, nil
}

// setupLogger installs the default slog logger writing to w.
func setupLogger(w io.Writer, cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("KESTREL_DEBUG") == "true" || verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
