package pdf

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleInvoice() InvoiceDocument {
	return InvoiceDocument{
		OrgName:       "Acme Studio",
		OrgEmail:      "billing@acme.test",
		InvoiceNumber: "INV-2025-0001",
		Status:        "SENT",
		IssueDate:     "2025-03-01",
		DueDate:       "2025-03-31",
		BillToName:    "Globex",
		BillToEmail:   "ap@globex.test",
		Items: []LineItem{
			{Description: "Consulting", Quantity: "2", UnitPrice: "50.00", Amount: "100.00"},
		},
		Subtotal:  "USD 100.00",
		TaxLabel:  "Tax (18%)",
		Tax:       "USD 18.00",
		Total:     "USD 118.00",
		AmountDue: "USD 118.00",
		Notes:     "Thank you for your business.",
	}
}

func TestRenderInvoiceProducesPDF(t *testing.T) {
	out, err := New().RenderInvoice(context.Background(), sampleInvoice())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderReceiptProducesPDF(t *testing.T) {
	out, err := New().RenderReceipt(context.Background(), ReceiptDocument{
		InvoiceDocument:  sampleInvoice(),
		PaymentDate:      "2025-03-10",
		PaymentMethod:    "BANK_TRANSFER",
		PaymentReference: "****7781",
		PaymentAmount:    "USD 118.00",
	})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}
