package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/exchangerate/domain"
	"github.com/smallbiznis/invoicing/internal/observability/metrics"
	"github.com/smallbiznis/invoicing/internal/orgcontext"
	"github.com/smallbiznis/invoicing/pkg/currency"
	"github.com/smallbiznis/invoicing/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Base     domain.BaseCurrencyProvider
	Metrics  *metrics.Metrics    `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	base     domain.BaseCurrencyProvider
	metrics  *metrics.Metrics
	auditSvc auditdomain.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("exchangerate.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		base:     p.Base,
		metrics:  p.Metrics,
		auditSvc: p.AuditSvc,
	}
}

// Upsert records the rate of FromCurrency against the current base currency.
// A second submission for the same day overwrites that day's rate.
func (s *Service) Upsert(ctx context.Context, req domain.UpsertExchangeRateRequest) (domain.ExchangeRate, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.ExchangeRate{}, domain.ErrInvalidOrganization
	}
	from, err := currency.Normalize(req.FromCurrency)
	if err != nil {
		return domain.ExchangeRate{}, domain.ErrInvalidCurrency
	}
	if !req.Rate.IsPositive() {
		return domain.ExchangeRate{}, domain.ErrInvalidRate
	}
	rate := req.Rate.Round(domain.RatePlaces)
	if !rate.IsPositive() {
		return domain.ExchangeRate{}, domain.ErrInvalidRate
	}

	today := clock.Today(s.clock)
	effective := today
	if req.EffectiveDate != nil {
		effective = clock.StartOfDay(*req.EffectiveDate)
		if effective.After(today) {
			return domain.ExchangeRate{}, domain.ErrInvalidEffectiveDate
		}
	}

	base, err := s.base.BaseCurrency(ctx, orgID)
	if err != nil {
		return domain.ExchangeRate{}, err
	}
	if from == base {
		return domain.ExchangeRate{}, domain.ErrBaseCurrencyRate
	}

	now := s.clock.Now().UTC()
	row := domain.ExchangeRate{
		ID:            s.genID.Generate(),
		OrgID:         orgID,
		FromCurrency:  from,
		ToCurrency:    base,
		EffectiveDate: effective,
		Rate:          rate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Upsert(ctx, s.db, &row); err != nil {
		return domain.ExchangeRate{}, err
	}

	var stored domain.ExchangeRate
	err = s.db.WithContext(ctx).
		Where("org_id = ? AND from_currency = ? AND to_currency = ? AND effective_date = ?", orgID, from, base, effective).
		First(&stored).Error
	if err != nil {
		return domain.ExchangeRate{}, err
	}

	if s.auditSvc != nil {
		target := stored.ID.String()
		err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, "exchange_rate.upserted", "exchange_rate", &target, map[string]any{
			"from_currency":  from,
			"to_currency":    base,
			"rate":           rate.String(),
			"effective_date": effective.Format("2006-01-02"),
		})
		if err != nil {
			s.log.Warn("failed to record exchange rate audit", zap.String("from_currency", from), zap.Error(err))
		}
	}
	return stored, nil
}

func (s *Service) List(ctx context.Context, req domain.ListExchangeRateRequest) (domain.ListExchangeRateResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.ListExchangeRateResponse{}, domain.ErrInvalidOrganization
	}
	var from string
	if strings.TrimSpace(req.Currency) != "" {
		code, err := currency.Normalize(req.Currency)
		if err != nil {
			return domain.ListExchangeRateResponse{}, domain.ErrInvalidCurrency
		}
		from = code
	}

	base, err := s.base.BaseCurrency(ctx, orgID)
	if err != nil {
		return domain.ListExchangeRateResponse{}, err
	}

	limit := req.Size()
	if req.PageSize <= 0 {
		limit = pagination.MaxPageSize
	}
	rows, err := s.repo.List(ctx, s.db, orgID, base, from, limit)
	if err != nil {
		return domain.ListExchangeRateResponse{}, err
	}

	rates := make([]domain.ExchangeRate, 0, len(rows))
	for _, row := range rows {
		rates = append(rates, *row)
	}
	return domain.ListExchangeRateResponse{BaseCurrency: base, Rates: rates}, nil
}

func (s *Service) GetCurrentRate(ctx context.Context, code string) (domain.ExchangeRate, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return domain.ExchangeRate{}, domain.ErrInvalidOrganization
	}
	from, err := currency.Normalize(code)
	if err != nil {
		return domain.ExchangeRate{}, domain.ErrInvalidCurrency
	}
	base, err := s.base.BaseCurrency(ctx, orgID)
	if err != nil {
		return domain.ExchangeRate{}, err
	}
	if from == base {
		return domain.ExchangeRate{
			OrgID:         orgID,
			FromCurrency:  from,
			ToCurrency:    base,
			EffectiveDate: clock.Today(s.clock),
			Rate:          decimal.NewFromInt(1),
		}, nil
	}

	row, err := s.repo.Latest(ctx, s.db, orgID, from, base)
	if err != nil {
		return domain.ExchangeRate{}, err
	}
	if row == nil {
		return domain.ExchangeRate{}, domain.ErrExchangeRateNotFound
	}
	return *row, nil
}
