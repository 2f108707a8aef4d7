// Package seed bootstraps a tenant so a fresh deployment can be used right away.
package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	organizationdomain "github.com/smallbiznis/invoicing/internal/organization/domain"
)

const (
	DefaultOrgName      = "Main"
	DefaultBaseCurrency = "USD"
	DefaultTokenTTL     = 30 * 24 * time.Hour
)

var ErrInvalidOwner = errors.New("seed owner user id is required")

// TokenIssuer mints API tokens. *server.TokenVerifier satisfies it.
type TokenIssuer interface {
	Issue(subject string, orgID snowflake.ID, now time.Time, ttl time.Duration) (string, error)
}

type Input struct {
	OwnerID      snowflake.ID
	OrgName      string
	BaseCurrency string
	Timezone     string
	TokenTTL     time.Duration
}

type Result struct {
	Organization *organizationdomain.OrganizationResponse
	Created      bool
	Token        string
	ExpiresAt    time.Time
}

// Bootstrap makes sure the owner has an organization with the given name and
// returns a bearer token for it. Running it twice reuses the organization.
func Bootstrap(ctx context.Context, orgs organizationdomain.Service, tokens TokenIssuer, now time.Time, in Input) (*Result, error) {
	if in.OwnerID == 0 {
		return nil, ErrInvalidOwner
	}
	name := strings.TrimSpace(in.OrgName)
	if name == "" {
		name = DefaultOrgName
	}
	ttl := in.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	org, err := findOwned(ctx, orgs, in.OwnerID, name)
	if err != nil {
		return nil, err
	}
	created := false
	if org == nil {
		baseCurrency := strings.TrimSpace(in.BaseCurrency)
		if baseCurrency == "" {
			baseCurrency = DefaultBaseCurrency
		}
		org, err = orgs.Create(ctx, in.OwnerID, organizationdomain.CreateOrganizationRequest{
			Name:         name,
			BaseCurrency: baseCurrency,
			Timezone:     in.Timezone,
		})
		if err != nil {
			return nil, err
		}
		created = true
	}

	orgID, err := snowflake.ParseString(org.ID)
	if err != nil {
		return nil, err
	}
	token, err := tokens.Issue(in.OwnerID.String(), orgID, now, ttl)
	if err != nil {
		return nil, err
	}

	return &Result{
		Organization: org,
		Created:      created,
		Token:        token,
		ExpiresAt:    now.Add(ttl),
	}, nil
}

func findOwned(ctx context.Context, orgs organizationdomain.Service, ownerID snowflake.ID, name string) (*organizationdomain.OrganizationResponse, error) {
	items, err := orgs.ListOrganizationsByUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.Role != organizationdomain.RoleOwner || !strings.EqualFold(item.Name, name) {
			continue
		}
		return orgs.GetByID(ctx, item.ID)
	}
	return nil, nil
}
