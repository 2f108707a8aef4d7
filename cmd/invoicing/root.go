package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/audit"
	"github.com/smallbiznis/invoicing/internal/authorization"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/config"
	"github.com/smallbiznis/invoicing/internal/customer"
	"github.com/smallbiznis/invoicing/internal/exchangerate"
	"github.com/smallbiznis/invoicing/internal/invoice"
	"github.com/smallbiznis/invoicing/internal/observability"
	"github.com/smallbiznis/invoicing/internal/organization"
	"github.com/smallbiznis/invoicing/internal/payment"
	"github.com/smallbiznis/invoicing/internal/providers"
	"github.com/smallbiznis/invoicing/internal/ratelimit"
	"github.com/smallbiznis/invoicing/internal/reporting"
	"github.com/smallbiznis/invoicing/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var rootCmd = &cobra.Command{
	Use:   "invoicing",
	Short: "Multi-tenant invoicing and payments engine",
	Long: `invoicing manages invoices, payments, exchange rates and revenue reports
for many organizations from a single deployment.

Configuration is read from the environment (and an optional .env file).`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(bootstrapCmd)
}

// infrastructure is shared by every command that touches the database.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
	)
}

// domains wires the business services without any transport.
func domains() fx.Option {
	return fx.Options(
		authorization.Module,
		audit.Module,
		organization.Module,
		customer.Module,
		exchangerate.Module,
		invoice.Module,
		payment.Module,
		reporting.Module,
		providers.Module,
		ratelimit.Module,
	)
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
