package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodCash         Method = "CASH"
	MethodBankTransfer Method = "BANK_TRANSFER"
	MethodCard         Method = "CARD"
	MethodCheck        Method = "CHECK"
	MethodOther        Method = "OTHER"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCash, MethodBankTransfer, MethodCard, MethodCheck, MethodOther:
		return true
	}
	return false
}

// Payment is an amount received against one invoice. Rows are inserted and
// deleted, never updated.
type Payment struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_payments_org_idempotency,priority:1" json:"organization_id"`
	InvoiceID      snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	Amount         decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	Currency       string          `gorm:"type:text;not null" json:"currency"`
	Method         Method          `gorm:"type:text;not null" json:"method"`
	PaymentDate    time.Time       `gorm:"type:date;not null" json:"payment_date"`
	Reference      string          `gorm:"type:text" json:"reference,omitempty"`
	Notes          string          `gorm:"type:text" json:"notes,omitempty"`
	IdempotencyKey *string         `gorm:"type:text;uniqueIndex:ux_payments_org_idempotency,priority:2" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
}

func (Payment) TableName() string { return "payments" }
