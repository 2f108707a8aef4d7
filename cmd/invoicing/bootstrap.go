package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
	"github.com/smallbiznis/invoicing/internal/auditcontext"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/migration"
	organizationdomain "github.com/smallbiznis/invoicing/internal/organization/domain"
	"github.com/smallbiznis/invoicing/internal/seed"
	"github.com/smallbiznis/invoicing/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create an organization for an owner and print an API token",
	Long: `bootstrap creates the owner's organization if it does not exist yet and
prints a bearer token scoped to it. Re-running it only mints a new token.`,
	RunE: runBootstrap,
}

func init() {
	bootstrapCmd.Flags().String("owner", "", "owner user id (required)")
	bootstrapCmd.Flags().String("name", seed.DefaultOrgName, "organization name")
	bootstrapCmd.Flags().String("currency", seed.DefaultBaseCurrency, "organization base currency")
	bootstrapCmd.Flags().String("timezone", organizationdomain.DefaultTimezone, "organization timezone")
	bootstrapCmd.Flags().Duration("ttl", seed.DefaultTokenTTL, "token lifetime")
	_ = bootstrapCmd.MarkFlagRequired("owner")
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	rawOwner, _ := cmd.Flags().GetString("owner")
	name, _ := cmd.Flags().GetString("name")
	currency, _ := cmd.Flags().GetString("currency")
	timezone, _ := cmd.Flags().GetString("timezone")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	ownerID, err := snowflake.ParseString(rawOwner)
	if err != nil || ownerID == 0 {
		return seed.ErrInvalidOwner
	}

	var (
		orgs   organizationdomain.Service
		tokens *server.TokenVerifier
		clk    clock.Clock
		log    *zap.Logger
	)
	app := fx.New(
		infrastructure(),
		migration.Module,
		domains(),
		fx.Provide(server.NewTokenVerifier),
		fx.Populate(&orgs, &tokens, &clk, &log),
		fx.NopLogger,
	)

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer app.Stop(context.Background())

	ctx = auditcontext.WithActor(ctx, auditdomain.ActorTypeSystem, "")
	result, err := seed.Bootstrap(ctx, orgs, tokens, clk.Now(), seed.Input{
		OwnerID:      ownerID,
		OrgName:      name,
		BaseCurrency: currency,
		Timezone:     timezone,
		TokenTTL:     ttl,
	})
	if err != nil {
		return err
	}

	log.Info("organization ready",
		zap.String("org_id", result.Organization.ID),
		zap.Bool("created", result.Created),
		zap.Time("token_expires_at", result.ExpiresAt),
	)
	fmt.Fprintln(cmd.OutOrStdout(), result.Token)
	return nil
}
