package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
	"github.com/smallbiznis/invoicing/internal/authorization"
	customerdomain "github.com/smallbiznis/invoicing/internal/customer/domain"
	exchangeratedomain "github.com/smallbiznis/invoicing/internal/exchangerate/domain"
	invoicedomain "github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/observability/logger"
	organizationdomain "github.com/smallbiznis/invoicing/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/invoicing/internal/payment/domain"
	reportingdomain "github.com/smallbiznis/invoicing/internal/reporting/domain"
	"github.com/smallbiznis/invoicing/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrOrgRequired        = errors.New("organization_required")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if status >= http.StatusInternalServerError {
			logger.FromContext(c.Request.Context()).Error("request failed",
				zap.String("route", c.FullPath()),
				zap.Error(lastErr.Err),
			)
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var overpayment *paymentdomain.OverpaymentError
	if errors.As(err, &overpayment) {
		remaining := overpayment.Remaining.StringFixed(2)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "payment exceeds the remaining balance",
			Errors: []ValidationError{{
				Field:   "amount",
				Code:    "overpayment",
				Message: "amount exceeds remaining balance of " + remaining,
			}},
			Details: map[string]any{"remaining_amount": remaining},
		}
	}

	if sentinel := matchSentinel(err, validationSentinels); sentinel != nil {
		code := sentinel.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	if sentinel := matchSentinel(err, conflictSentinels); sentinel != nil {
		return http.StatusConflict, errorPayload{
			Type:    sentinel.Error(),
			Message: strings.ReplaceAll(sentinel.Error(), "_", " "),
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request log with the same taxonomy clients see.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationSentinels = []error{
	ErrInvalidRequest,
	ErrOrgRequired,
	pagination.ErrInvalidPageToken,

	invoicedomain.ErrInvalidOrganization,
	invoicedomain.ErrInvalidID,
	invoicedomain.ErrInvalidCustomer,
	invoicedomain.ErrInvalidCurrency,
	invoicedomain.ErrInvalidDueDate,
	invoicedomain.ErrEmptyItems,
	invoicedomain.ErrTooManyItems,
	invoicedomain.ErrInvalidDescription,
	invoicedomain.ErrInvalidQuantity,
	invoicedomain.ErrInvalidUnitPrice,
	invoicedomain.ErrInvalidTaxRate,
	invoicedomain.ErrInvalidDiscount,
	invoicedomain.ErrInvalidStatus,

	paymentdomain.ErrInvalidOrganization,
	paymentdomain.ErrInvalidID,
	paymentdomain.ErrInvalidInvoice,
	paymentdomain.ErrInvalidAmount,
	paymentdomain.ErrInvalidMethod,
	paymentdomain.ErrInvalidPaymentDate,
	paymentdomain.ErrOverpayment,

	exchangeratedomain.ErrInvalidOrganization,
	exchangeratedomain.ErrInvalidCurrency,
	exchangeratedomain.ErrInvalidRate,
	exchangeratedomain.ErrInvalidEffectiveDate,
	exchangeratedomain.ErrBaseCurrencyRate,

	organizationdomain.ErrInvalidName,
	organizationdomain.ErrInvalidTimezone,
	organizationdomain.ErrInvalidCurrency,
	organizationdomain.ErrInvalidUser,
	organizationdomain.ErrInvalidOrganization,
	organizationdomain.ErrInvalidRole,

	customerdomain.ErrInvalidOrganization,
	customerdomain.ErrInvalidName,
	customerdomain.ErrInvalidEmail,
	customerdomain.ErrInvalidCurrency,
	customerdomain.ErrInvalidID,

	reportingdomain.ErrInvalidOrganization,
	reportingdomain.ErrInvalidCustomer,
	reportingdomain.ErrInvalidCurrency,
	reportingdomain.ErrInvalidDateRange,
	reportingdomain.ErrInvalidWindow,

	auditdomain.ErrInvalidOrganization,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
}

var conflictSentinels = []error{
	ErrConflict,
	invoicedomain.ErrCannotEdit,
	invoicedomain.ErrCannotDelete,
	invoicedomain.ErrInvoiceHasPayments,
	invoicedomain.ErrInvalidTransition,
	invoicedomain.ErrConcurrentModification,
	paymentdomain.ErrInvoiceNotPayable,
	paymentdomain.ErrIdempotencyConflict,
	organizationdomain.ErrBaseCurrencyNotSet,
	organizationdomain.ErrMemberAlreadyExists,
	gorm.ErrDuplicatedKey,
}

// matchSentinel returns the first candidate err wraps, preserving the
// candidate's own text for the response code.
func matchSentinel(err error, candidates []error) error {
	for _, candidate := range candidates {
		if errors.Is(err, candidate) {
			return candidate
		}
	}
	return nil
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, invoicedomain.ErrCustomerNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, exchangeratedomain.ErrExchangeRateNotFound),
		errors.Is(err, organizationdomain.ErrOrganizationNotFound),
		errors.Is(err, customerdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "organization_required":
		return "organization"
	case "empty_items", "too_many_items":
		return "items"
	case "overpayment":
		return "amount"
	case "base_currency_rate":
		return "from_currency"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "empty_items":
		return "at least one item is required"
	case "too_many_items":
		return "too many items"
	case "base_currency_rate":
		return "rates into the base currency are implicit"
	default:
		return "invalid value"
	}
}
