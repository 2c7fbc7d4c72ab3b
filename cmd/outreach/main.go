package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/outreach/internal/config"
	"github.com/foxzi/outreach/internal/storage"
)

var (
	cfgFile   string
	envFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "outreach",
	Short: "Outreach - personalized campaign sender",
	Long: `Outreach sends a personalized cover letter to every recipient of a CSV file.
It remembers who was contacted, caches generated letters and paces sends.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv(envFile)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("outreach version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "outreach.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "environment file loaded before the config")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the state file. Inspection commands open it read-only; a
// running campaign holds the file lock, so they time out until it finishes.
func openStore(readOnly bool) (*config.Config, *storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.Open(cfg.Storage.Path, &storage.Options{ReadOnly: readOnly})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return cfg, store, nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Sender:    %s\n", cfg.Sender.Email)
	fmt.Printf("  Transport: %s\n", cfg.Transport.Provider)
	fmt.Printf("  Backend:   %s\n", cfg.LLM.Provider)
	fmt.Printf("  Cache:     %v (scope %s)\n", cfg.CacheEnabled(), cfg.Cache.Scope)
	fmt.Printf("  Delay:     %s..%s per worker\n", cfg.Campaign.Delay.Min, cfg.Campaign.Delay.Max)
	fmt.Printf("  Storage:   %s\n", cfg.Storage.Path)

	if err := cfg.ValidateForSend(); err != nil {
		fmt.Printf("\nWarning: not ready to send: %v\n", err)
	}

	return nil
}
