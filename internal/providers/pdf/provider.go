package pdf

import "context"

// Provider renders customer-facing documents.
type Provider interface {
	RenderInvoice(ctx context.Context, doc InvoiceDocument) ([]byte, error)
	RenderReceipt(ctx context.Context, doc ReceiptDocument) ([]byte, error)
}

// LineItem is a pre-formatted invoice line.
type LineItem struct {
	Description string
	Quantity    string
	UnitPrice   string
	Amount      string
}

// InvoiceDocument carries display strings only; callers format money.
type InvoiceDocument struct {
	OrgName       string
	OrgEmail      string
	InvoiceNumber string
	Status        string
	IssueDate     string
	DueDate       string

	BillToName  string
	BillToEmail string

	Items []LineItem

	Subtotal   string
	Discount   string
	TaxLabel   string
	Tax        string
	Total      string
	AmountPaid string
	AmountDue  string

	BaseCurrencyNote string
	Notes            string
}

type ReceiptDocument struct {
	InvoiceDocument
	PaymentDate      string
	PaymentMethod    string
	PaymentReference string
	PaymentAmount    string
}

const ContentType = "application/pdf"
