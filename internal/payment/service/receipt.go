package service

import (
	"context"
	"fmt"
	"time"

	customerdomain "github.com/smallbiznis/invoicing/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/invoice/format"
	paymentdomain "github.com/smallbiznis/invoicing/internal/payment/domain"
	"github.com/smallbiznis/invoicing/internal/providers/email"
	"github.com/smallbiznis/invoicing/internal/providers/pdf"
)

func (s *Service) RenderReceipt(ctx context.Context, id string) (paymentdomain.Receipt, error) {
	receipt, _, err := s.receipt(ctx, id)
	return receipt, err
}

// SendReceipt mails the receipt PDF to the invoice's customer.
func (s *Service) SendReceipt(ctx context.Context, id string) error {
	receipt, doc, err := s.receipt(ctx, id)
	if err != nil {
		return err
	}
	if doc.BillToEmail == "" {
		return nil
	}
	return s.email.SendTemplate(ctx, []string{doc.BillToEmail}, "payment_receipt", map[string]any{
		"subject":        fmt.Sprintf("Payment received for %s", doc.InvoiceNumber),
		"customer_name":  doc.BillToName,
		"invoice_number": doc.InvoiceNumber,
		"amount":         doc.PaymentAmount,
		"remaining":      doc.AmountDue,
	}, email.Attachment{
		Filename:    receipt.Filename,
		ContentType: receipt.ContentType,
		Content:     receipt.Content,
	})
}

func (s *Service) receipt(ctx context.Context, id string) (paymentdomain.Receipt, pdf.ReceiptDocument, error) {
	payment, err := s.GetByID(ctx, id)
	if err != nil {
		return paymentdomain.Receipt{}, pdf.ReceiptDocument{}, err
	}
	invoice, err := s.invoices.FindByID(ctx, s.db, payment.OrgID, payment.InvoiceID)
	if err != nil {
		return paymentdomain.Receipt{}, pdf.ReceiptDocument{}, err
	}
	if invoice == nil {
		return paymentdomain.Receipt{}, pdf.ReceiptDocument{}, invoicedomain.ErrInvoiceNotFound
	}
	org, err := s.orgs.GetByID(ctx, payment.OrgID.String())
	if err != nil {
		return paymentdomain.Receipt{}, pdf.ReceiptDocument{}, err
	}
	customer, err := s.customers.FindByID(ctx, s.db, payment.OrgID, invoice.CustomerID)
	if err != nil {
		return paymentdomain.Receipt{}, pdf.ReceiptDocument{}, err
	}
	if customer == nil {
		customer = &customerdomain.Customer{}
	}
	paid, _, err := s.repo.SumByInvoice(ctx, s.db, payment.OrgID, invoice.ID, 0)
	if err != nil {
		return paymentdomain.Receipt{}, pdf.ReceiptDocument{}, err
	}

	doc := pdf.ReceiptDocument{
		InvoiceDocument:  format.BuildDocument(invoice, org.Name, org.SupportEmail, org.BaseCurrency, customer, paid),
		PaymentDate:      payment.PaymentDate.Format(time.DateOnly),
		PaymentMethod:    string(payment.Method),
		PaymentReference: payment.Reference,
		PaymentAmount:    payment.Currency + " " + payment.Amount.StringFixed(2),
	}
	content, err := s.pdf.RenderReceipt(ctx, doc)
	if err != nil {
		return paymentdomain.Receipt{}, pdf.ReceiptDocument{}, err
	}
	return paymentdomain.Receipt{
		Filename:    fmt.Sprintf("receipt-%s-%s.pdf", invoice.InvoiceNumber, payment.ID.String()),
		ContentType: pdf.ContentType,
		Content:     content,
	}, doc, nil
}
