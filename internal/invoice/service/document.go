package service

import (
	"context"
	"fmt"

	customerdomain "github.com/smallbiznis/invoicing/internal/customer/domain"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/invoice/format"
	"github.com/smallbiznis/invoicing/internal/providers/email"
	"github.com/smallbiznis/invoicing/internal/providers/pdf"
)

func (s *Service) RenderPDF(ctx context.Context, id string) (domain.Rendered, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return domain.Rendered{}, err
	}
	invoiceID, err := parseID(id)
	if err != nil {
		return domain.Rendered{}, err
	}
	invoice, err := s.load(ctx, orgID, invoiceID)
	if err != nil {
		return domain.Rendered{}, err
	}
	rendered, _, err := s.render(ctx, invoice)
	return rendered, err
}

func (s *Service) deliver(ctx context.Context, invoice *domain.Invoice) error {
	items, err := s.repo.ListItems(ctx, s.db, invoice.OrgID, invoice.ID)
	if err != nil {
		return err
	}
	invoice.Items = items

	rendered, doc, err := s.render(ctx, invoice)
	if err != nil {
		return err
	}
	if doc.BillToEmail == "" {
		return nil
	}

	return s.email.SendTemplate(ctx, []string{doc.BillToEmail}, "invoice_sent", map[string]any{
		"subject":        fmt.Sprintf("Invoice %s from %s", invoice.InvoiceNumber, doc.OrgName),
		"customer_name":  doc.BillToName,
		"org_name":       doc.OrgName,
		"invoice_number": invoice.InvoiceNumber,
		"total":          doc.Total,
		"due_date":       doc.DueDate,
		"support_email":  doc.OrgEmail,
	}, email.Attachment{
		Filename:    rendered.Filename,
		ContentType: rendered.ContentType,
		Content:     rendered.Content,
	})
}

func (s *Service) render(ctx context.Context, invoice *domain.Invoice) (domain.Rendered, pdf.InvoiceDocument, error) {
	doc, err := s.document(ctx, invoice)
	if err != nil {
		return domain.Rendered{}, pdf.InvoiceDocument{}, err
	}
	content, err := s.pdf.RenderInvoice(ctx, doc)
	if err != nil {
		return domain.Rendered{}, pdf.InvoiceDocument{}, err
	}
	return domain.Rendered{
		Filename:    invoice.InvoiceNumber + ".pdf",
		ContentType: pdf.ContentType,
		Content:     content,
	}, doc, nil
}

func (s *Service) document(ctx context.Context, invoice *domain.Invoice) (pdf.InvoiceDocument, error) {
	org, err := s.orgs.GetByID(ctx, invoice.OrgID.String())
	if err != nil {
		return pdf.InvoiceDocument{}, err
	}
	customer, err := s.customers.FindByID(ctx, s.db, invoice.OrgID, invoice.CustomerID)
	if err != nil {
		return pdf.InvoiceDocument{}, err
	}
	if customer == nil {
		customer = &customerdomain.Customer{}
	}
	paid, err := s.repo.PaymentTotals(ctx, s.db, invoice.OrgID, invoice.ID)
	if err != nil {
		return pdf.InvoiceDocument{}, err
	}

	return format.BuildDocument(invoice, org.Name, org.SupportEmail, org.BaseCurrency, customer, paid.Amount), nil
}
