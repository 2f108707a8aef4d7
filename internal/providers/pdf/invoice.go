package pdf

import (
	"context"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

var (
	colorPrimary = &props.Color{Red: 17, Green: 24, Blue: 39}
	colorMuted   = &props.Color{Red: 107, Green: 114, Blue: 128}
)

type MarotoProvider struct{}

func New() Provider {
	return &MarotoProvider{}
}

func (p *MarotoProvider) RenderInvoice(_ context.Context, doc InvoiceDocument) ([]byte, error) {
	m := newDocument(doc.OrgName, "Invoice "+doc.InvoiceNumber)

	m.AddRows(titleRow("Invoice", doc.Status))
	m.AddRows(metaRow(doc))
	m.AddRows(partiesRow(doc))
	m.AddRows(line.NewRow(2, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(itemRows(doc.Items)...)
	m.AddRows(line.NewRow(2, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalRows(doc)...)
	m.AddRows(footerRows(doc)...)

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: render invoice: %w", err)
	}
	return out.GetBytes(), nil
}

func (p *MarotoProvider) RenderReceipt(_ context.Context, doc ReceiptDocument) ([]byte, error) {
	m := newDocument(doc.OrgName, "Receipt "+doc.InvoiceNumber)

	m.AddRows(titleRow("Receipt", ""))
	m.AddRows(metaRow(doc.InvoiceDocument))
	m.AddRows(partiesRow(doc.InvoiceDocument))
	m.AddRows(line.NewRow(2, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(
		summaryRow("Payment date", doc.PaymentDate, false),
		summaryRow("Method", doc.PaymentMethod, false),
		summaryRow("Reference", doc.PaymentReference, false),
		summaryRow("Amount received", doc.PaymentAmount, true),
		summaryRow("Invoice total", doc.Total, false),
		summaryRow("Balance remaining", doc.AmountDue, true),
	)

	out, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: render receipt: %w", err)
	}
	return out.GetBytes(), nil
}

func newDocument(author, title string) core.Maroto {
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(12).WithRightMargin(12).WithTopMargin(12).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle(title, true).
		WithAuthor(author, true).
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	return maroto.New(cfg)
}

func titleRow(title, status string) core.Row {
	return row.New(14).Add(
		text.NewCol(8, title, props.Text{Size: 20, Style: fontstyle.Bold, Color: colorPrimary}),
		text.NewCol(4, status, props.Text{Size: 10, Style: fontstyle.Bold, Align: align.Right, Top: 4, Color: colorMuted}),
	)
}

func metaRow(doc InvoiceDocument) core.Row {
	return row.New(18).Add(
		col.New(6).Add(
			text.New("Invoice number: "+doc.InvoiceNumber, props.Text{Top: 0}),
			text.New("Date of issue: "+doc.IssueDate, props.Text{Top: 5}),
			text.New("Date due: "+doc.DueDate, props.Text{Top: 10}),
		),
		col.New(6),
	)
}

func partiesRow(doc InvoiceDocument) core.Row {
	return row.New(20).Add(
		col.New(6).Add(
			text.New(doc.OrgName, props.Text{Style: fontstyle.Bold}),
			text.New(doc.OrgEmail, props.Text{Top: 5, Color: colorMuted}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(doc.BillToName, props.Text{Top: 5}),
			text.New(doc.BillToEmail, props.Text{Top: 10, Color: colorMuted}),
		),
	)
}

func itemRows(items []LineItem) []core.Row {
	header := func(label string, size int, a align.Type) core.Col {
		return text.NewCol(size, label, props.Text{Style: fontstyle.Bold, Size: 9, Align: a})
	}
	rows := []core.Row{
		row.New(8).Add(
			header("Description", 6, align.Left),
			header("Qty", 2, align.Right),
			header("Unit price", 2, align.Right),
			header("Amount", 2, align.Right),
		),
	}
	for _, item := range items {
		rows = append(rows, row.New(7).Add(
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, item.Quantity, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
		))
	}
	return rows
}

func totalRows(doc InvoiceDocument) []core.Row {
	rows := []core.Row{summaryRow("Subtotal", doc.Subtotal, false)}
	if doc.Discount != "" {
		rows = append(rows, summaryRow("Discount", "-"+doc.Discount, false))
	}
	rows = append(rows,
		summaryRow(doc.TaxLabel, doc.Tax, false),
		summaryRow("Total", doc.Total, true),
	)
	if doc.AmountPaid != "" {
		rows = append(rows, summaryRow("Paid", doc.AmountPaid, false))
	}
	rows = append(rows, summaryRow("Amount due", doc.AmountDue, true))
	return rows
}

func summaryRow(label, value string, strong bool) core.Row {
	style := fontstyle.Normal
	if strong {
		style = fontstyle.Bold
	}
	return row.New(7).Add(
		col.New(7),
		text.NewCol(3, label, props.Text{Size: 9, Style: style}),
		text.NewCol(2, value, props.Text{Size: 9, Style: style, Align: align.Right}),
	)
}

func footerRows(doc InvoiceDocument) []core.Row {
	var rows []core.Row
	if doc.BaseCurrencyNote != "" {
		rows = append(rows, row.New(8).Add(
			text.NewCol(12, doc.BaseCurrencyNote, props.Text{Size: 8, Top: 3, Color: colorMuted}),
		))
	}
	if doc.Notes != "" {
		rows = append(rows, row.New(14).Add(
			col.New(12).Add(
				text.New("Notes", props.Text{Style: fontstyle.Bold, Top: 3}),
				text.New(doc.Notes, props.Text{Top: 8, Size: 8}),
			),
		))
	}
	return rows
}
