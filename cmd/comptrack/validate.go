package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/goodtune/comptrack/internal/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the comptrack configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	if err := checkComponents(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	unknownKeys, err := config.UnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	monitor := registryConfig(cfg.Session).Monitor
	cyan := color.New(color.FgCyan)
	fmt.Fprintln(os.Stdout)
	cyan.Fprintf(os.Stdout, "Session timeout:  %s (warning %s before)\n", monitor.Timeout, monitor.WarningTime)
	cyan.Fprintf(os.Stdout, "Day cutover:      %02d:00 at UTC%s\n", cfg.OperationalDay.CutoverHour, cfg.OperationalDay.UTCOffset)
	if cfg.Ledger.RetentionDays > 0 {
		cyan.Fprintf(os.Stdout, "Ledger retention: %d days\n", cfg.Ledger.RetentionDays)
	} else {
		cyan.Fprintln(os.Stdout, "Ledger retention: keep all")
	}

	return nil
}

// checkComponents builds the settings the server hands to the day resolver
// and the session registry and validates them the same way.
func checkComponents(cfg *config.Config) error {
	dayConfig, err := resolverConfig(cfg.OperationalDay)
	if err != nil {
		return err
	}
	if err := dayConfig.Validate(); err != nil {
		return fmt.Errorf("invalid operational_day: %w", err)
	}

	if err := registryConfig(cfg.Session).Monitor.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	return nil
}
