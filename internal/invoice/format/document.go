package format

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	customerdomain "github.com/smallbiznis/invoicing/internal/customer/domain"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/providers/pdf"
)

// BuildDocument formats an invoice for rendering. Amounts are shown with two
// decimals prefixed by the currency code.
func BuildDocument(invoice *domain.Invoice, orgName, orgEmail, baseCurrency string, customer *customerdomain.Customer, paid decimal.Decimal) pdf.InvoiceDocument {
	money := func(d decimal.Decimal) string {
		return invoice.Currency + " " + d.StringFixed(2)
	}

	doc := pdf.InvoiceDocument{
		OrgName:       orgName,
		OrgEmail:      orgEmail,
		InvoiceNumber: invoice.InvoiceNumber,
		Status:        string(invoice.Status),
		IssueDate:     invoice.IssueDate.Format(time.DateOnly),
		DueDate:       invoice.DueDate.Format(time.DateOnly),
		BillToName:    customer.Name,
		BillToEmail:   customer.Email,
		Subtotal:      money(invoice.Subtotal),
		TaxLabel:      fmt.Sprintf("Tax (%s%%)", invoice.TaxRate.String()),
		Tax:           money(invoice.TaxAmount),
		Total:         money(invoice.Total),
		AmountDue:     money(decimal.Max(invoice.Total.Sub(paid), decimal.Zero)),
		Notes:         invoice.Notes,
	}
	if invoice.DiscountAmount.IsPositive() {
		doc.Discount = money(invoice.DiscountAmount)
	}
	if paid.IsPositive() {
		doc.AmountPaid = money(paid)
	}
	if invoice.HasSnapshot() && baseCurrency != "" && baseCurrency != invoice.Currency {
		doc.BaseCurrencyNote = fmt.Sprintf("Equivalent to %s %s at %s %s/%s on the issue date.",
			baseCurrency,
			invoice.TotalInBaseCurrency.StringFixed(2),
			invoice.ExchangeRateToBase.String(),
			baseCurrency,
			invoice.Currency,
		)
	}
	for _, item := range invoice.Items {
		doc.Items = append(doc.Items, pdf.LineItem{
			Description: item.Description,
			Quantity:    item.Quantity.String(),
			UnitPrice:   money(item.UnitPrice),
			Amount:      money(item.Total),
		})
	}
	return doc
}
