package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Query is the resolved, org-scoped form of Filters.
type Query struct {
	OrgID      snowflake.ID
	CustomerID snowflake.ID
	Currency   string
	From       *time.Time
	To         *time.Time
}

// StatusCurrencyTotal is one status/currency group. Unsnapshotted counts the
// invoices in the group without a frozen base total.
type StatusCurrencyTotal struct {
	Status             string
	Currency           string
	Count              int64
	Total              decimal.Decimal
	BaseTotal          decimal.Decimal
	Unsnapshotted      int64
	UnsnapshottedTotal decimal.Decimal
}

type InvoiceRow struct {
	ID                  snowflake.ID
	InvoiceNumber       string
	Currency            string
	Status              string
	Total               decimal.Decimal
	TotalInBaseCurrency decimal.NullDecimal
	IssueDate           time.Time
}

type Repository interface {
	TotalsByStatusCurrency(ctx context.Context, db *gorm.DB, q Query) ([]StatusCurrencyTotal, error)
	// ListUnsnapshotted returns invoices of any status whose currency differs
	// from base and that carry no frozen base total.
	ListUnsnapshotted(ctx context.Context, db *gorm.DB, q Query, base string) ([]InvoiceRow, error)
	ListIssuedBetween(ctx context.Context, db *gorm.DB, q Query, start, end time.Time) ([]InvoiceRow, error)
}
