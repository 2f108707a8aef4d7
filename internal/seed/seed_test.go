package seed

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/audit/audittest"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/dbtest"
	organizationdomain "github.com/smallbiznis/invoicing/internal/organization/domain"
	"github.com/smallbiznis/invoicing/internal/organization/repository"
	"github.com/smallbiznis/invoicing/internal/organization/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingIssuer struct {
	subjects []string
	orgIDs   []snowflake.ID
}

func (r *recordingIssuer) Issue(subject string, orgID snowflake.ID, now time.Time, ttl time.Duration) (string, error) {
	r.subjects = append(r.subjects, subject)
	r.orgIDs = append(r.orgIDs, orgID)
	return "token-" + subject + "-" + orgID.String(), nil
}

func newOrgService(t *testing.T) organizationdomain.Service {
	t.Helper()
	db := dbtest.Open(t,
		&organizationdomain.Organization{},
		&organizationdomain.OrganizationMember{},
		&organizationdomain.OrganizationBillingPreferences{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return service.NewService(service.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Repo:     repository.NewRepository(db),
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)),
		AuditSvc: &audittest.Recorder{},
	})
}

func TestBootstrapCreatesOrganizationOnce(t *testing.T) {
	orgs := newOrgService(t)
	issuer := &recordingIssuer{}
	ctx := context.Background()
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	first, err := Bootstrap(ctx, orgs, issuer, now, Input{OwnerID: 42, BaseCurrency: "eur"})
	require.NoError(t, err)
	require.True(t, first.Created)
	require.Equal(t, DefaultOrgName, first.Organization.Name)
	require.Equal(t, "EUR", first.Organization.BaseCurrency)
	require.Equal(t, now.Add(DefaultTokenTTL), first.ExpiresAt)
	require.Equal(t, "token-42-"+first.Organization.ID, first.Token)

	second, err := Bootstrap(ctx, orgs, issuer, now, Input{OwnerID: 42, OrgName: "main"})
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.Organization.ID, second.Organization.ID)
	require.Equal(t, []string{"42", "42"}, issuer.subjects)
}

func TestBootstrapRequiresOwner(t *testing.T) {
	_, err := Bootstrap(context.Background(), newOrgService(t), &recordingIssuer{}, time.Now(), Input{})
	require.ErrorIs(t, err, ErrInvalidOwner)
}
