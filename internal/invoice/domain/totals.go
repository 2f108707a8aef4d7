package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	hundred     = decimal.NewFromInt(100)
	maxQuantity = decimal.NewFromInt(999999)
)

type ItemInput struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type Discount struct {
	Type  DiscountType    `json:"type"`
	Value decimal.Decimal `json:"value"`
}

type Totals struct {
	LineTotals     []decimal.Decimal
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
	Total          decimal.Decimal
}

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// fitsCents reports whether d is representable in a two-decimal column.
func fitsCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// ComputeTotals derives invoice amounts from line items. Every derived field is
// rounded to cents exactly once.
func ComputeTotals(items []ItemInput, taxRate decimal.Decimal, discount *Discount) (Totals, error) {
	if len(items) == 0 {
		return Totals{}, ErrEmptyItems
	}
	if taxRate.IsNegative() || taxRate.GreaterThan(hundred) || !fitsCents(taxRate) {
		return Totals{}, ErrInvalidTaxRate
	}

	totals := Totals{LineTotals: make([]decimal.Decimal, len(items))}
	subtotal := decimal.Zero
	for i, item := range items {
		if strings.TrimSpace(item.Description) == "" {
			return Totals{}, ErrInvalidDescription
		}
		if !item.Quantity.IsPositive() || item.Quantity.GreaterThan(maxQuantity) || !fitsCents(item.Quantity) {
			return Totals{}, ErrInvalidQuantity
		}
		if item.UnitPrice.IsNegative() || !fitsCents(item.UnitPrice) {
			return Totals{}, ErrInvalidUnitPrice
		}
		line := Round2(item.Quantity.Mul(item.UnitPrice))
		totals.LineTotals[i] = line
		subtotal = subtotal.Add(line)
	}
	totals.Subtotal = Round2(subtotal)

	discountAmount, err := discountFor(totals.Subtotal, discount)
	if err != nil {
		return Totals{}, err
	}
	totals.DiscountAmount = discountAmount

	taxable := totals.Subtotal.Sub(discountAmount)
	totals.TaxAmount = Round2(taxable.Mul(taxRate).Div(hundred))
	totals.Total = Round2(taxable.Add(totals.TaxAmount))
	return totals, nil
}

func discountFor(subtotal decimal.Decimal, discount *Discount) (decimal.Decimal, error) {
	if discount == nil || discount.Type == "" {
		return decimal.Zero, nil
	}
	if discount.Value.IsNegative() || !fitsCents(discount.Value) {
		return decimal.Zero, ErrInvalidDiscount
	}
	switch discount.Type {
	case DiscountTypePercentage:
		if discount.Value.GreaterThan(hundred) {
			return decimal.Zero, ErrInvalidDiscount
		}
		return Round2(subtotal.Mul(discount.Value).Div(hundred)), nil
	case DiscountTypeFixed:
		return Round2(decimal.Min(discount.Value, subtotal)), nil
	default:
		return decimal.Zero, ErrInvalidDiscount
	}
}
