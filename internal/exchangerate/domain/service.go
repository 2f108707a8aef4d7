package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicing/pkg/db/pagination"
	"gorm.io/gorm"
)

// RatePlaces is the precision rates are stored and applied with.
const RatePlaces = 6

type UpsertExchangeRateRequest struct {
	FromCurrency  string          `json:"from_currency"`
	Rate          decimal.Decimal `json:"rate"`
	EffectiveDate *time.Time      `json:"effective_date,omitempty"`
}

type ListExchangeRateRequest struct {
	pagination.Pagination
	Currency string `form:"currency"`
}

type ListExchangeRateResponse struct {
	BaseCurrency string         `json:"base_currency"`
	Rates        []ExchangeRate `json:"rates"`
}

// Snapshot is the conversion frozen onto an invoice. Both fields are nil when
// no rate was available at write time.
type Snapshot struct {
	RateToBase  *decimal.Decimal
	TotalInBase *decimal.Decimal
}

func (s Snapshot) Missing() bool { return s.RateToBase == nil }

type Service interface {
	Upsert(ctx context.Context, req UpsertExchangeRateRequest) (ExchangeRate, error)
	List(ctx context.Context, req ListExchangeRateRequest) (ListExchangeRateResponse, error)
	GetCurrentRate(ctx context.Context, currency string) (ExchangeRate, error)
	ResolveSnapshot(ctx context.Context, orgID snowflake.ID, currency string, total decimal.Decimal) (Snapshot, error)
}

// BaseCurrencyProvider looks up an organization's reporting currency.
type BaseCurrencyProvider interface {
	BaseCurrency(ctx context.Context, orgID snowflake.ID) (string, error)
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, rate *ExchangeRate) error
	Latest(ctx context.Context, db *gorm.DB, orgID snowflake.ID, from, to string) (*ExchangeRate, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, to string, from string, limit int) ([]*ExchangeRate, error)
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidRate          = errors.New("invalid_rate")
	ErrInvalidEffectiveDate = errors.New("invalid_effective_date")
	ErrBaseCurrencyRate     = errors.New("base_currency_rate")
	ErrExchangeRateNotFound = errors.New("exchange_rate_not_found")
)
