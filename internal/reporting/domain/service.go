package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Granularity string

const (
	GranularityMonth Granularity = "month"
	GranularityYear  Granularity = "year"
)

// Filters narrows every report. Zero values mean "no filter".
type Filters struct {
	CustomerID string
	Currency   string
	From       *time.Time
	To         *time.Time
}

// Amounts is a sum kept both per invoice currency and normalized to the
// organization base currency.
type Amounts struct {
	ByCurrency map[string]decimal.Decimal `json:"by_currency"`
	BaseTotal  decimal.Decimal            `json:"base_total"`
}

// MissingRate identifies an invoice that could not be normalized because no
// exchange rate was frozen on it. It is reported, never converted.
type MissingRate struct {
	InvoiceID     string          `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Currency      string          `json:"currency"`
	Total         decimal.Decimal `json:"total"`
	Status        string          `json:"status"`
}

type InvoiceStats struct {
	BaseCurrency           string           `json:"base_currency"`
	CountByStatus          map[string]int64 `json:"count_by_status"`
	Paid                   Amounts          `json:"paid"`
	Outstanding            Amounts          `json:"outstanding"`
	MissingHistoricalRates []MissingRate    `json:"missing_historical_rates"`
}

type RevenueBucket struct {
	Period       string          `json:"period"`
	Start        time.Time       `json:"start"`
	Revenue      decimal.Decimal `json:"revenue"`
	Outstanding  decimal.Decimal `json:"outstanding"`
	InvoiceCount int64           `json:"invoice_count"`
}

type RevenueSeries struct {
	BaseCurrency           string          `json:"base_currency"`
	Granularity            Granularity     `json:"granularity"`
	Buckets                []RevenueBucket `json:"buckets"`
	MissingHistoricalRates []MissingRate   `json:"missing_historical_rates"`
}

type Service interface {
	GetInvoiceStats(ctx context.Context, filters Filters) (InvoiceStats, error)
	// GetMonthlyRevenueStats returns one bucket per month ending at the current
	// month. months <= 0 selects the configured default.
	GetMonthlyRevenueStats(ctx context.Context, months int, filters Filters) (RevenueSeries, error)
	GetYearlyRevenueStats(ctx context.Context, years int, filters Filters) (RevenueSeries, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidCustomer     = errors.New("invalid_customer")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidDateRange    = errors.New("invalid_date_range")
	ErrInvalidWindow       = errors.New("invalid_window")
)
