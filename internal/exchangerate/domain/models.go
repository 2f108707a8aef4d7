// Package domain contains the organization exchange-rate table.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// ExchangeRate converts one unit of FromCurrency into the organization's base
// currency. Rows are history: one per pair and effective day.
type ExchangeRate struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID    `gorm:"not null;uniqueIndex:ux_exchange_rates_pair_day,priority:1" json:"organization_id"`
	FromCurrency  string          `gorm:"type:text;not null;uniqueIndex:ux_exchange_rates_pair_day,priority:2" json:"from_currency"`
	ToCurrency    string          `gorm:"type:text;not null;uniqueIndex:ux_exchange_rates_pair_day,priority:3" json:"to_currency"`
	EffectiveDate time.Time       `gorm:"type:date;not null;uniqueIndex:ux_exchange_rates_pair_day,priority:4" json:"effective_date"`
	Rate          decimal.Decimal `gorm:"type:numeric(18,6);not null" json:"rate"`
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (ExchangeRate) TableName() string { return "exchange_rates" }
