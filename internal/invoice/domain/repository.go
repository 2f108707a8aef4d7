package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OverdueFilter selects SENT invoices due before DueBefore. A zero OrgID scans
// every organization.
type OverdueFilter struct {
	OrgID     snowflake.ID
	DueBefore time.Time
	AfterID   snowflake.ID
	Limit     int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	UpdateDraft(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	Delete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListInvoiceFilter) ([]*Invoice, error)
	ReplaceItems(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	ListItems(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) ([]InvoiceItem, error)
	ListTransitions(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) ([]InvoiceStatusTransition, error)
	NextSequence(ctx context.Context, db *gorm.DB, orgID snowflake.ID, year int, now time.Time) (int64, error)
	ListOverdueCandidates(ctx context.Context, db *gorm.DB, filter OverdueFilter) ([]*Invoice, error)
	LockOverdueCandidate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	PaymentTotals(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) (PaymentTotals, error)
}

// PaymentTotals aggregates the payments recorded against one invoice.
type PaymentTotals struct {
	Count  int64
	Amount decimal.Decimal
}
