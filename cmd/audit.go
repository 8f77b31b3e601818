package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/parlock/core/audit"
	infraaudit "github.com/kilianp07/parlock/infra/audit"
	"github.com/kilianp07/parlock/pkg/export"
)

var (
	auditUnit   string
	auditSince  time.Duration
	auditFormat string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print recorded transactions as JSON lines or CSV",
	RunE:  auditQuery,
}

func init() {
	auditCmd.Flags().StringVar(&auditUnit, "unit", "", "only transactions on this unit")
	auditCmd.Flags().DurationVar(&auditSince, "since", 24*time.Hour, "how far back to look; 0 for everything")
	auditCmd.Flags().StringVar(&auditFormat, "format", "json", "output format: json or csv")
	rootCmd.AddCommand(auditCmd)
}

func auditQuery(cmd *cobra.Command, args []string) error {
	if auditFormat != "json" && auditFormat != "csv" {
		return fmt.Errorf("unknown format %q", auditFormat)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := infraaudit.New(cfg.Audit)
	if err != nil {
		return fmt.Errorf("audit store: %w", err)
	}
	defer func() { _ = store.Close() }()

	q := audit.Query{UnitID: auditUnit}
	if auditSince > 0 {
		q.Start = time.Now().Add(-auditSince)
	}
	recs, err := store.Query(context.Background(), q)
	if err != nil {
		return err
	}
	if auditFormat == "csv" {
		return export.WriteCSV(cmd.OutOrStdout(), recs)
	}
	return export.WriteJSON(cmd.OutOrStdout(), recs)
}
