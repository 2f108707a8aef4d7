package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	RoleOwner  = "OWNER"
	RoleAdmin  = "ADMIN"
	RoleFinOps = "FINOPS" // invoices, payments, rates
	RoleMember = "MEMBER" // read-only
)

const DefaultTimezone = "UTC"

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateOrganizationRequest) (*OrganizationResponse, error)
	GetByID(ctx context.Context, id string) (*OrganizationResponse, error)
	ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListResponseItem, error)
	AddMember(ctx context.Context, req AddMemberRequest) error
	SetBaseCurrency(ctx context.Context, currency string) (*OrganizationResponse, error)
	// BaseCurrency returns the currency all cross-currency reporting normalizes to.
	BaseCurrency(ctx context.Context, orgID snowflake.ID) (string, error)
}

type CreateOrganizationRequest struct {
	Name         string
	SupportEmail string
	BaseCurrency string
	Timezone     string
}

type AddMemberRequest struct {
	UserID snowflake.ID
	Role   string
}

type OrganizationResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	SupportEmail string    `json:"support_email,omitempty"`
	BaseCurrency string    `json:"base_currency"`
	Timezone     string    `json:"timezone"`
	CreatedAt    time.Time `json:"created_at"`
}

type OrganizationListResponseItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidTimezone      = errors.New("invalid_timezone")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidRole          = errors.New("invalid_role")
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrBaseCurrencyNotSet   = errors.New("base_currency_not_set")
	ErrMemberAlreadyExists  = errors.New("member_already_exists")
)
