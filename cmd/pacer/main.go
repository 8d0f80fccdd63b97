package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/pacer/internal/app"
	"github.com/foxzi/pacer/internal/config"
)

var (
	cfgFile   string
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
	Use:   "pacer",
	Short: "Pacer - outbound campaign controller",
	Long: `Pacer paces a simulated outbound messaging campaign: it walks a
recipient list with configurable delays, alternates two message templates,
can be paused, resumed, skipped or stopped, and keeps an activity log.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the campaign server",
	Long:  `Start the pacer HTTP API (and metrics server when enabled).`,
	RunE:  runServe,
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
		fmt.Printf("pacer version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults and PACER_* environment when omitted)")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

// loadConfig loads the -c file, or defaults plus environment when none is given
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  API: %s\n", cfg.API.ListenAddr)
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics: %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}
	if cfg.Storage.Path != "" {
		fmt.Printf("  Archive: %s\n", cfg.Storage.Path)
	} else {
		fmt.Printf("  Archive: disabled\n")
	}

	if cfg.Campaign.File != "" {
		camp, err := app.LoadCampaign(cfg.Campaign.File, cfg.Campaign.RecipientsFile, cfg.Campaign.MaxRecipients)
		if err != nil {
			return fmt.Errorf("default campaign is invalid: %w", err)
		}
		if err := camp.Validate(); err != nil {
			return fmt.Errorf("default campaign is invalid: %w", err)
		}
		fmt.Printf("  Campaign: %s (%d recipients)\n", cfg.Campaign.File, len(camp.Recipients))
	}

	return nil
}
