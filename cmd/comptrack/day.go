package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/comptrack/internal/clock"
	"github.com/goodtune/comptrack/internal/config"
	"github.com/goodtune/comptrack/internal/opday"
	"github.com/spf13/cobra"
)

var dayAt string

var dayCmd = &cobra.Command{
	Use:   "day",
	Short: "Show the operational day for an instant",
	Long:  `Show which operational day and turn an instant belongs to, using the configured boundaries.`,
	Example: `  comptrack day
  comptrack day --at 2024-05-02T04:30:00-03:00`,
	Args: cobra.NoArgs,
	RunE: runDay,
}

func init() {
	dayCmd.Flags().StringVar(&dayAt, "at", "", "RFC 3339 timestamp (defaults to now)")
	rootCmd.AddCommand(dayCmd)
}

func runDay(cmd *cobra.Command, args []string) error {
	at := time.Now()
	if dayAt != "" {
		parsed, err := time.Parse(time.RFC3339, dayAt)
		if err != nil {
			return fmt.Errorf("invalid --at timestamp: %w", err)
		}
		at = parsed
	}

	// The day command only needs the day boundaries, so a missing secret
	// or storage section must not stop it.
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Defaults()
	}

	dayConfig, err := resolverConfig(cfg.OperationalDay)
	if err != nil {
		return err
	}
	resolver, err := opday.New(dayConfig, clock.Real{})
	if err != nil {
		return fmt.Errorf("invalid operational day configuration: %w", err)
	}

	printDayInfo(resolver.Describe(at))
	return nil
}

// printDayInfo prints the resolved day with colors
func printDayInfo(info opday.Info) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("OPERATIONAL DAY")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Instant:  %s\n", info.At.Format(time.RFC3339))
	fmt.Printf("Day:      ")
	green.Println(info.Day.String())
	fmt.Printf("Range:    %s\n", info.Label)
	fmt.Printf("Turn:     ")
	if info.Turn == opday.TurnMorning {
		yellow.Println(info.Turn)
	} else {
		cyan.Println(info.Turn)
	}
	fmt.Printf("Starts:   %s\n", info.Start.Format(time.RFC3339))
	fmt.Printf("Ends:     %s\n", info.End.Format(time.RFC3339))
	fmt.Println()
}
