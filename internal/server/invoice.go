package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicing/internal/authorization"
	invoicedomain "github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/invoicing/internal/payment/domain"
	"github.com/smallbiznis/invoicing/pkg/db/pagination"
)

type invoiceRequest struct {
	CustomerID string                    `json:"customer_id"`
	Currency   string                    `json:"currency"`
	IssueDate  string                    `json:"issue_date"`
	DueDate    string                    `json:"due_date"`
	TaxRate    decimal.Decimal           `json:"tax_rate"`
	Discount   *invoicedomain.Discount   `json:"discount"`
	Notes      string                    `json:"notes"`
	Items      []invoicedomain.ItemInput `json:"items"`
}

func (r invoiceRequest) toDomain() (invoicedomain.CreateInvoiceRequest, error) {
	issueDate, err := parseOptionalTime(r.IssueDate, false)
	if err != nil {
		return invoicedomain.CreateInvoiceRequest{}, newValidationError("issue_date", "invalid_issue_date", "invalid issue_date")
	}
	dueDate, err := parseOptionalTime(r.DueDate, false)
	if err != nil || dueDate == nil {
		return invoicedomain.CreateInvoiceRequest{}, newValidationError("due_date", "invalid_due_date", "due_date is required")
	}
	return invoicedomain.CreateInvoiceRequest{
		CustomerID: strings.TrimSpace(r.CustomerID),
		Currency:   strings.TrimSpace(r.Currency),
		IssueDate:  issueDate,
		DueDate:    *dueDate,
		TaxRate:    r.TaxRate,
		Discount:   r.Discount,
		Notes:      strings.TrimSpace(r.Notes),
		Items:      r.Items,
	}, nil
}

type updateInvoiceStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req invoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	input, err := req.toDomain()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.invoiceSvc.Create(c.Request.Context(), input)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": invoice})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query invoicedomain.ListInvoiceRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	query.Status = strings.ToUpper(strings.TrimSpace(query.Status))
	query.CustomerID = strings.TrimSpace(query.CustomerID)

	resp, err := s.invoiceSvc.List(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	invoice, err := s.invoiceSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) UpdateInvoice(c *gin.Context) {
	var req invoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	input, err := req.toDomain()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.invoiceSvc.Update(c.Request.Context(), strings.TrimSpace(c.Param("id")), input)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) DeleteInvoice(c *gin.Context) {
	if err := s.invoiceSvc.Delete(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateInvoiceStatus applies a manual transition. Cancelling needs its own grant.
func (s *Server) UpdateInvoiceStatus(c *gin.Context) {
	var req updateInvoiceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	status := invoicedomain.InvoiceStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if status == invoicedomain.InvoiceStatusCancelled {
		if err := s.authorizeOrgActionWithContext(c, authorization.ObjectInvoice, authorization.ActionInvoiceCancel); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	invoice, err := s.invoiceSvc.UpdateStatus(c.Request.Context(), strings.TrimSpace(c.Param("id")), status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) SendInvoice(c *gin.Context) {
	invoice, err := s.invoiceSvc.Send(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) DownloadInvoicePDF(c *gin.Context) {
	doc, err := s.invoiceSvc.RenderPDF(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+doc.Filename+`"`)
	c.Data(http.StatusOK, doc.ContentType, doc.Content)
}

func (s *Server) ListInvoiceTransitions(c *gin.Context) {
	transitions, err := s.invoiceSvc.ListTransitions(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": transitions})
}

func (s *Server) ListInvoicePayments(c *gin.Context) {
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.List(c.Request.Context(), paymentdomain.ListPaymentRequest{
		Pagination: query,
		InvoiceID:  strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Payments, "page_info": resp.PageInfo})
}

func (s *Server) GetInvoicePaymentSummary(c *gin.Context) {
	summary, err := s.paymentSvc.GetSummary(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

// SweepOverdueInvoices runs the overdue sweep for the caller's organization on demand.
func (s *Server) SweepOverdueInvoices(c *gin.Context) {
	ctx := c.Request.Context()
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		AbortWithError(c, ErrOrgRequired)
		return
	}

	started := time.Now()
	result, err := s.invoiceSvc.SweepOverdue(ctx, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":        result,
		"duration_ms": time.Since(started).Milliseconds(),
	})
}
