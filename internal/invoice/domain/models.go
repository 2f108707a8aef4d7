// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusSent      InvoiceStatus = "SENT"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []InvoiceStatus{
	InvoiceStatusDraft,
	InvoiceStatusSent,
	InvoiceStatusPaid,
	InvoiceStatusOverdue,
	InvoiceStatusCancelled,
}

func (s InvoiceStatus) Valid() bool {
	for _, status := range AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

type DiscountType string

const (
	DiscountTypePercentage DiscountType = "PERCENTAGE"
	DiscountTypeFixed      DiscountType = "FIXED"
)

// Invoice is a customer bill. Monetary columns are fixed-point; the
// exchange-rate snapshot is nil when no rate existed at write time.
type Invoice struct {
	ID                  snowflake.ID     `gorm:"primaryKey" json:"id"`
	OrgID               snowflake.ID     `gorm:"not null;index;uniqueIndex:ux_invoices_org_number,priority:1" json:"organization_id"`
	CustomerID          snowflake.ID     `gorm:"not null;index" json:"customer_id"`
	InvoiceNumber       string           `gorm:"type:text;not null;uniqueIndex:ux_invoices_org_number,priority:2" json:"invoice_number"`
	Currency            string           `gorm:"type:text;not null" json:"currency"`
	IssueDate           time.Time        `gorm:"type:date;not null" json:"issue_date"`
	DueDate             time.Time        `gorm:"type:date;not null;index" json:"due_date"`
	DiscountType        *DiscountType    `gorm:"type:text" json:"discount_type,omitempty"`
	DiscountValue       decimal.Decimal  `gorm:"type:numeric(18,2);not null" json:"discount_value"`
	DiscountAmount      decimal.Decimal  `gorm:"type:numeric(18,2);not null" json:"discount_amount"`
	TaxRate             decimal.Decimal  `gorm:"type:numeric(5,2);not null" json:"tax_rate"`
	Subtotal            decimal.Decimal  `gorm:"type:numeric(18,2);not null" json:"subtotal"`
	TaxAmount           decimal.Decimal  `gorm:"type:numeric(18,2);not null" json:"tax_amount"`
	Total               decimal.Decimal  `gorm:"type:numeric(18,2);not null" json:"total"`
	ExchangeRateToBase  *decimal.Decimal `gorm:"type:numeric(18,6)" json:"exchange_rate_to_base"`
	TotalInBaseCurrency *decimal.Decimal `gorm:"type:numeric(18,2)" json:"total_in_base_currency"`
	Status              InvoiceStatus    `gorm:"type:text;not null;index" json:"status"`
	Notes               string           `gorm:"type:text" json:"notes,omitempty"`
	SentAt              *time.Time       `json:"sent_at,omitempty"`
	PaidAt              *time.Time       `json:"paid_at,omitempty"`
	CreatedAt           time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"not null" json:"updated_at"`

	Items []InvoiceItem `gorm:"-" json:"items,omitempty"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// HasSnapshot reports whether a base-currency total was frozen on the invoice.
func (i Invoice) HasSnapshot() bool {
	return i.ExchangeRateToBase != nil && i.TotalInBaseCurrency != nil
}

// InvoiceItem is a line on an invoice. Items are replaced wholesale on edit.
type InvoiceItem struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID    `gorm:"not null;index" json:"-"`
	InvoiceID   snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Position    int             `gorm:"not null" json:"position"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"unit_price"`
	Total       decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"total"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

// InvoiceStatusTransition is the append-only history of status changes.
type InvoiceStatusTransition struct {
	ID         snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID  `gorm:"not null;index" json:"-"`
	InvoiceID  snowflake.ID  `gorm:"not null;index" json:"invoice_id"`
	FromStatus InvoiceStatus `gorm:"type:text;not null" json:"from_status"`
	ToStatus   InvoiceStatus `gorm:"type:text;not null" json:"to_status"`
	Trigger    Trigger       `gorm:"type:text;not null" json:"trigger"`
	ActorType  string        `gorm:"type:text;not null" json:"actor_type"`
	ActorID    *string       `gorm:"type:text" json:"actor_id,omitempty"`
	Reason     string        `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt  time.Time     `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceStatusTransition) TableName() string { return "invoice_status_transitions" }

// InvoiceSequence is the per-organization, per-year invoice number counter.
type InvoiceSequence struct {
	OrgID     snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Year      int          `gorm:"primaryKey;autoIncrement:false"`
	LastValue int64        `gorm:"not null"`
	UpdatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (InvoiceSequence) TableName() string { return "invoice_sequences" }
