package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	reportingdomain "github.com/smallbiznis/invoicing/internal/reporting/domain"
)

type reportQuery struct {
	CustomerID string `form:"customer_id"`
	Currency   string `form:"currency"`
	From       string `form:"from"`
	To         string `form:"to"`
	Months     string `form:"months"`
	Years      string `form:"years"`
}

func (q reportQuery) filters() (reportingdomain.Filters, error) {
	from, err := parseOptionalTime(q.From, false)
	if err != nil {
		return reportingdomain.Filters{}, newValidationError("from", "invalid_from", "invalid from")
	}
	to, err := parseOptionalTime(q.To, true)
	if err != nil {
		return reportingdomain.Filters{}, newValidationError("to", "invalid_to", "invalid to")
	}
	return reportingdomain.Filters{
		CustomerID: strings.TrimSpace(q.CustomerID),
		Currency:   strings.TrimSpace(q.Currency),
		From:       from,
		To:         to,
	}, nil
}

func (s *Server) bindReportQuery(c *gin.Context) (reportQuery, reportingdomain.Filters, bool) {
	var query reportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return reportQuery{}, reportingdomain.Filters{}, false
	}
	filters, err := query.filters()
	if err != nil {
		AbortWithError(c, err)
		return reportQuery{}, reportingdomain.Filters{}, false
	}
	return query, filters, true
}

func (s *Server) GetInvoiceStats(c *gin.Context) {
	_, filters, ok := s.bindReportQuery(c)
	if !ok {
		return
	}

	stats, err := s.reportingSvc.GetInvoiceStats(c.Request.Context(), filters)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (s *Server) GetMonthlyRevenue(c *gin.Context) {
	query, filters, ok := s.bindReportQuery(c)
	if !ok {
		return
	}
	months, err := parseOptionalInt64(query.Months)
	if err != nil {
		AbortWithError(c, newValidationError("months", "invalid_months", "invalid months"))
		return
	}

	series, err := s.reportingSvc.GetMonthlyRevenueStats(c.Request.Context(), int(valueOrZero(months)), filters)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": series})
}

func (s *Server) GetYearlyRevenue(c *gin.Context) {
	query, filters, ok := s.bindReportQuery(c)
	if !ok {
		return
	}
	years, err := parseOptionalInt64(query.Years)
	if err != nil {
		AbortWithError(c, newValidationError("years", "invalid_years", "invalid years"))
		return
	}

	series, err := s.reportingSvc.GetYearlyRevenueStats(c.Request.Context(), int(valueOrZero(years)), filters)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": series})
}
