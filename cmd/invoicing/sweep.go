package main

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
	"github.com/smallbiznis/invoicing/internal/auditcontext"
	invoicedomain "github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark past-due sent invoices as overdue",
	Long: `sweep runs the overdue sweep once and exits.

Without --org every organization is swept.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().String("org", "", "organization id to sweep (default: all)")
	sweepCmd.Flags().Duration("timeout", 5*time.Minute, "maximum time for the sweep")
}

func runSweep(cmd *cobra.Command, args []string) error {
	rawOrg, _ := cmd.Flags().GetString("org")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	var orgID snowflake.ID
	if rawOrg = strings.TrimSpace(rawOrg); rawOrg != "" {
		parsed, err := snowflake.ParseString(rawOrg)
		if err != nil || parsed == 0 {
			return invoicedomain.ErrInvalidOrganization
		}
		orgID = parsed
	}

	var (
		svc invoicedomain.Service
		log *zap.Logger
	)
	app := fx.New(
		infrastructure(),
		domains(),
		fx.Populate(&svc, &log),
		fx.NopLogger,
	)

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer app.Stop(context.Background())

	ctx = auditcontext.WithActor(ctx, auditdomain.ActorTypeSystem, "")

	var (
		result invoicedomain.SweepResult
		err    error
	)
	started := time.Now()
	if orgID != 0 {
		result, err = svc.SweepOverdue(ctx, orgID)
	} else {
		result, err = svc.SweepOverdueAll(ctx)
	}
	if err != nil {
		log.Error("overdue sweep failed", zap.Error(err))
		return err
	}

	log.Info("overdue sweep finished",
		zap.String("org_id", rawOrg),
		zap.Int("scanned", result.Scanned),
		zap.Int("transitioned", result.Transitioned),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", time.Since(started)),
	)
	return nil
}
