// cmd/jobs.go
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"staking-reward-ledger/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			fmt.Println("✅ schema is up to date")
			return nil
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve pending claims against the chain once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.claims.Reconcile(cmd.Context())
			if printErr := printJSON(report); printErr != nil {
				return printErr
			}
			return err
		},
	}
}

var jobDay string

func newAccrueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accrue",
		Short: "Credit staking rewards for one UTC day",
		Long: `Credit staking rewards for one UTC day. Safe to repeat: a day that
was already accrued is reported as duplicates.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDay(jobDay)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.accrual.AccrueDay(cmd.Context(), day)
			if printErr := printJSON(report); printErr != nil {
				return printErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&jobDay, "day", "", "Day as YYYY-MM-DD (default: today, UTC)")
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Upload one day of settled claims to R2",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDay(jobDay)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.exporter == nil {
				return errors.New("R2 is not configured")
			}

			key, n, err := a.exporter.ExportDay(cmd.Context(), day)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"key": key, "claims": n})
		},
	}
	cmd.Flags().StringVar(&jobDay, "day", "", "Day as YYYY-MM-DD (default: today, UTC)")
	return cmd
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	day, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--day: %w", err)
	}
	return day, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
