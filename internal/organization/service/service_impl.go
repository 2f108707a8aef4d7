package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/organization/domain"
	"github.com/smallbiznis/invoicing/internal/orgcontext"
	"github.com/smallbiznis/invoicing/pkg/currency"
	"github.com/smallbiznis/invoicing/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     domain.Repository
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service `optional:"true"`
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	genID    *snowflake.Node
	clock    clock.Clock
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("organization.service"),
		repo:     p.Repo,
		genID:    p.GenID,
		clock:    p.Clock,
		auditSvc: p.AuditSvc,
	}
}

func (s *service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	baseCurrency, err := currency.Normalize(req.BaseCurrency)
	if err != nil {
		return nil, domain.ErrInvalidCurrency
	}

	timezone, err := normalizeTimezone(req.Timezone)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	orgID := s.genID.Generate()
	org := domain.Organization{
		ID:           orgID,
		Name:         name,
		Slug:         slug.Make(name) + "-" + orgID.Base36(),
		SupportEmail: strings.TrimSpace(req.SupportEmail),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	prefs := domain.OrganizationBillingPreferences{
		OrgID:     orgID,
		Currency:  baseCurrency,
		Timezone:  timezone,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateOrganization(ctx, org); err != nil {
			return err
		}
		if err := repo.UpsertBillingPreferences(ctx, prefs); err != nil {
			return err
		}
		return repo.AddMember(ctx, domain.OrganizationMember{
			ID:        s.genID.Generate(),
			OrgID:     orgID,
			UserID:    userID,
			Role:      domain.RoleOwner,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, orgID, "organization.created", map[string]any{
		"name":          name,
		"base_currency": baseCurrency,
		"owner_user_id": userID.String(),
	})

	return toResponse(org, &prefs), nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.OrganizationResponse, error) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.load(ctx, orgID)
}

func (s *service) ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListResponseItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	items, err := s.repo.ListOrganizationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.OrganizationListResponseItem, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.OrganizationListResponseItem{
			ID:        item.ID.String(),
			Name:      item.Name,
			Role:      item.Role,
			CreatedAt: item.CreatedAt,
		})
	}
	return resp, nil
}

func (s *service) AddMember(ctx context.Context, req domain.AddMemberRequest) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.ErrInvalidOrganization
	}
	if req.UserID == 0 {
		return domain.ErrInvalidUser
	}
	role, err := normalizeRole(req.Role)
	if err != nil {
		return err
	}

	err = s.repo.AddMember(ctx, domain.OrganizationMember{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		UserID:    req.UserID,
		Role:      role,
		CreatedAt: s.clock.Now().UTC(),
	})
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrMemberAlreadyExists
	}
	if err != nil {
		return err
	}

	s.emitAudit(ctx, orgID, "organization.member_added", map[string]any{
		"user_id": req.UserID.String(),
		"role":    role,
	})
	return nil
}

// SetBaseCurrency changes the reporting currency. Snapshots already frozen on
// invoices keep the rate they were written with.
func (s *service) SetBaseCurrency(ctx context.Context, code string) (*domain.OrganizationResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}
	baseCurrency, err := currency.Normalize(code)
	if err != nil {
		return nil, domain.ErrInvalidCurrency
	}

	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, domain.ErrOrganizationNotFound
	}

	prefs, err := s.repo.GetBillingPreferences(ctx, orgID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	previous := ""
	if prefs == nil {
		prefs = &domain.OrganizationBillingPreferences{OrgID: orgID, Timezone: domain.DefaultTimezone, CreatedAt: now}
	} else {
		previous = prefs.Currency
	}
	prefs.Currency = baseCurrency
	prefs.UpdatedAt = now

	if err := s.repo.UpsertBillingPreferences(ctx, *prefs); err != nil {
		return nil, err
	}

	if previous != baseCurrency {
		s.emitAudit(ctx, orgID, "organization.base_currency_changed", map[string]any{
			"from": previous,
			"to":   baseCurrency,
		})
	}
	return toResponse(*org, prefs), nil
}

func (s *service) BaseCurrency(ctx context.Context, orgID snowflake.ID) (string, error) {
	if orgID == 0 {
		return "", domain.ErrInvalidOrganization
	}
	prefs, err := s.repo.GetBillingPreferences(ctx, orgID)
	if err != nil {
		return "", err
	}
	if prefs == nil || strings.TrimSpace(prefs.Currency) == "" {
		return "", domain.ErrBaseCurrencyNotSet
	}
	return prefs.Currency, nil
}

func (s *service) load(ctx context.Context, orgID snowflake.ID) (*domain.OrganizationResponse, error) {
	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, domain.ErrOrganizationNotFound
	}
	prefs, err := s.repo.GetBillingPreferences(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return toResponse(*org, prefs), nil
}

func (s *service) emitAudit(ctx context.Context, orgID snowflake.ID, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	target := orgID.String()
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "organization", &target, metadata); err != nil {
		s.log.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func toResponse(org domain.Organization, prefs *domain.OrganizationBillingPreferences) *domain.OrganizationResponse {
	resp := &domain.OrganizationResponse{
		ID:           org.ID.String(),
		Name:         org.Name,
		Slug:         org.Slug,
		SupportEmail: org.SupportEmail,
		Timezone:     domain.DefaultTimezone,
		CreatedAt:    org.CreatedAt,
	}
	if prefs != nil {
		resp.BaseCurrency = prefs.Currency
		resp.Timezone = prefs.Timezone
	}
	return resp
}

func normalizeTimezone(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.DefaultTimezone, nil
	}
	if _, err := time.LoadLocation(name); err != nil {
		return "", domain.ErrInvalidTimezone
	}
	return name, nil
}

func normalizeRole(role string) (string, error) {
	role = strings.ToUpper(strings.TrimSpace(role))
	switch role {
	case domain.RoleOwner, domain.RoleAdmin, domain.RoleFinOps, domain.RoleMember:
		return role, nil
	}
	return "", domain.ErrInvalidRole
}
