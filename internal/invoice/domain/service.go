package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicing/pkg/db/pagination"
)

const MaxItemsPerInvoice = 500

type CreateInvoiceRequest struct {
	CustomerID string          `json:"customer_id"`
	Currency   string          `json:"currency"`
	IssueDate  *time.Time      `json:"issue_date,omitempty"`
	DueDate    time.Time       `json:"due_date"`
	TaxRate    decimal.Decimal `json:"tax_rate"`
	Discount   *Discount       `json:"discount,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	Items      []ItemInput     `json:"items"`
}

// UpdateInvoiceRequest replaces every editable field of a draft.
type UpdateInvoiceRequest = CreateInvoiceRequest

type ListInvoiceRequest struct {
	pagination.Pagination
	Status     string `form:"status"`
	CustomerID string `form:"customer_id"`
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type ListInvoiceFilter struct {
	Status     InvoiceStatus
	CustomerID snowflake.ID
	Cursor     *Cursor
	Limit      int
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type SweepResult struct {
	Scanned      int `json:"scanned"`
	Transitioned int `json:"transitioned"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
}

// Rendered is a generated invoice document.
type Rendered struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	Update(ctx context.Context, id string, req UpdateInvoiceRequest) (Invoice, error)
	UpdateStatus(ctx context.Context, id string, status InvoiceStatus) (Invoice, error)
	Send(ctx context.Context, id string) (Invoice, error)
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	ListTransitions(ctx context.Context, id string) ([]InvoiceStatusTransition, error)
	RenderPDF(ctx context.Context, id string) (Rendered, error)
	SweepOverdue(ctx context.Context, orgID snowflake.ID) (SweepResult, error)
	SweepOverdueAll(ctx context.Context) (SweepResult, error)
}

var (
	ErrInvalidOrganization    = errors.New("invalid_organization")
	ErrInvalidID              = errors.New("invalid_id")
	ErrInvalidCustomer        = errors.New("invalid_customer")
	ErrCustomerNotFound       = errors.New("customer_not_found")
	ErrInvalidCurrency        = errors.New("invalid_currency")
	ErrInvalidDueDate         = errors.New("invalid_due_date")
	ErrEmptyItems             = errors.New("empty_items")
	ErrTooManyItems           = errors.New("too_many_items")
	ErrInvalidDescription     = errors.New("invalid_description")
	ErrInvalidQuantity        = errors.New("invalid_quantity")
	ErrInvalidUnitPrice       = errors.New("invalid_unit_price")
	ErrInvalidTaxRate         = errors.New("invalid_tax_rate")
	ErrInvalidDiscount        = errors.New("invalid_discount")
	ErrInvalidStatus          = errors.New("invalid_status")
	ErrInvalidTransition      = errors.New("invalid_transition")
	ErrCannotEdit             = errors.New("cannot_edit")
	ErrCannotDelete           = errors.New("cannot_delete")
	ErrInvoiceNotFound        = errors.New("invoice_not_found")
	ErrInvoiceHasPayments     = errors.New("invoice_has_payments")
	ErrConcurrentModification = errors.New("concurrent_modification")
)
