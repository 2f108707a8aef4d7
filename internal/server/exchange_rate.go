package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	exchangeratedomain "github.com/smallbiznis/invoicing/internal/exchangerate/domain"
)

type upsertExchangeRateRequest struct {
	FromCurrency  string          `json:"from_currency"`
	Rate          decimal.Decimal `json:"rate"`
	EffectiveDate string          `json:"effective_date"`
}

// UpsertExchangeRate records today's (or the given day's) rate into the base currency.
func (s *Server) UpsertExchangeRate(c *gin.Context) {
	var req upsertExchangeRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	effective, err := parseOptionalTime(req.EffectiveDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("effective_date", "invalid_effective_date", "invalid effective_date"))
		return
	}

	rate, err := s.exchangeRateSvc.Upsert(c.Request.Context(), exchangeratedomain.UpsertExchangeRateRequest{
		FromCurrency:  strings.TrimSpace(req.FromCurrency),
		Rate:          req.Rate,
		EffectiveDate: effective,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rate})
}

func (s *Server) ListExchangeRates(c *gin.Context) {
	var query exchangeratedomain.ListExchangeRateRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	query.Currency = strings.TrimSpace(query.Currency)

	resp, err := s.exchangeRateSvc.List(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Rates, "base_currency": resp.BaseCurrency})
}

func (s *Server) GetCurrentExchangeRate(c *gin.Context) {
	rate, err := s.exchangeRateSvc.GetCurrentRate(c.Request.Context(), strings.TrimSpace(c.Param("currency")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rate})
}
