package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicing/pkg/db/pagination"
	"gorm.io/gorm"
)

// Tolerance absorbs rounding when comparing payment sums with invoice totals.
var Tolerance = decimal.RequireFromString("0.01")

type CreatePaymentRequest struct {
	InvoiceID      string          `json:"invoice_id"`
	Amount         decimal.Decimal `json:"amount"`
	Method         Method          `json:"method"`
	PaymentDate    *time.Time      `json:"payment_date,omitempty"`
	Reference      string          `json:"reference,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type ListPaymentRequest struct {
	pagination.Pagination
	InvoiceID string `form:"invoice_id"`
}

type ListPaymentResponse struct {
	pagination.PageInfo
	Payments []Payment `json:"payments"`
}

type ListPaymentFilter struct {
	InvoiceID snowflake.ID
	Cursor    *Cursor
	Limit     int
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type Summary struct {
	InvoiceID       string          `json:"invoice_id"`
	Currency        string          `json:"currency"`
	Total           decimal.Decimal `json:"total"`
	TotalPaid       decimal.Decimal `json:"total_paid"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	PaymentCount    int64           `json:"payment_count"`
	IsFullyPaid     bool            `json:"is_fully_paid"`
}

type Receipt struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Service interface {
	Create(ctx context.Context, req CreatePaymentRequest) (Payment, error)
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (Payment, error)
	List(ctx context.Context, req ListPaymentRequest) (ListPaymentResponse, error)
	GetSummary(ctx context.Context, invoiceID string) (Summary, error)
	RenderReceipt(ctx context.Context, id string) (Receipt, error)
	SendReceipt(ctx context.Context, id string) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	Delete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Payment, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*Payment, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListPaymentFilter) ([]*Payment, error)
	SumByInvoice(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, excludeID snowflake.ID) (decimal.Decimal, int64, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidMethod       = errors.New("invalid_method")
	ErrInvalidPaymentDate  = errors.New("invalid_payment_date")
	ErrInvoiceNotPayable   = errors.New("invoice_not_payable")
	ErrOverpayment         = errors.New("overpayment")
	ErrPaymentNotFound     = errors.New("payment_not_found")
	ErrIdempotencyConflict = errors.New("idempotency_key_conflict")
)

// OverpaymentError reports the balance a rejected payment exceeded.
type OverpaymentError struct {
	Remaining decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("overpayment: remaining balance is %s", e.Remaining.StringFixed(2))
}

func (e *OverpaymentError) Unwrap() error { return ErrOverpayment }
