package authorization

import (
	"context"
	"errors"
)

// Service decides whether an actor may perform action on object inside an organization.
type Service interface {
	Authorize(ctx context.Context, actor string, orgID string, object string, action string) error
}

var (
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
)

const (
	ObjectInvoice      = "invoice"
	ObjectCustomer     = "customer"
	ObjectPayment      = "payment"
	ObjectExchangeRate = "exchange_rate"
	ObjectReport       = "report"
	ObjectOrganization = "organization"
	ObjectAuditLog     = "audit_log"
)

const (
	ActionInvoiceView   = "invoice.view"
	ActionInvoiceCreate = "invoice.create"
	ActionInvoiceUpdate = "invoice.update"
	ActionInvoiceDelete = "invoice.delete"
	ActionInvoiceSend   = "invoice.send"
	ActionInvoiceCancel = "invoice.cancel"
	ActionInvoiceSweep  = "invoice.sweep"

	ActionCustomerView   = "customer.view"
	ActionCustomerManage = "customer.manage"

	ActionPaymentView   = "payment.view"
	ActionPaymentCreate = "payment.create"
	ActionPaymentDelete = "payment.delete"

	ActionExchangeRateView   = "exchange_rate.view"
	ActionExchangeRateManage = "exchange_rate.manage"

	ActionReportView = "report.view"

	ActionOrganizationView   = "organization.view"
	ActionOrganizationManage = "organization.manage"

	ActionAuditLogView = "audit_log.view"
)
