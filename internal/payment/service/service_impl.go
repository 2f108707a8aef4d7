package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
	"github.com/smallbiznis/invoicing/internal/clock"
	customerdomain "github.com/smallbiznis/invoicing/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/invoice/lifecycle"
	obsmetrics "github.com/smallbiznis/invoicing/internal/observability/metrics"
	organizationdomain "github.com/smallbiznis/invoicing/internal/organization/domain"
	"github.com/smallbiznis/invoicing/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/invoicing/internal/payment/domain"
	"github.com/smallbiznis/invoicing/internal/providers/email"
	"github.com/smallbiznis/invoicing/internal/providers/pdf"
	"github.com/smallbiznis/invoicing/pkg/db"
	"github.com/smallbiznis/invoicing/pkg/db/pagination"
	"github.com/smallbiznis/invoicing/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         paymentdomain.Repository
	Invoices     invoicedomain.Repository
	Customers    customerdomain.Repository
	Orgs         organizationdomain.Service
	Transitioner *lifecycle.Transitioner
	PDF          pdf.Provider
	Email        email.Provider      `optional:"true"`
	AuditSvc     auditdomain.Service `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         paymentdomain.Repository
	invoices     invoicedomain.Repository
	customers    customerdomain.Repository
	orgs         organizationdomain.Service
	transitioner *lifecycle.Transitioner
	pdf          pdf.Provider
	email        email.Provider
	auditSvc     auditdomain.Service
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	mailer := p.Email
	if mailer == nil {
		mailer = &email.NoOpProvider{}
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("payment.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		invoices:     p.Invoices,
		customers:    p.Customers,
		orgs:         p.Orgs,
		transitioner: p.Transitioner,
		pdf:          p.PDF,
		email:        mailer,
		auditSvc:     p.AuditSvc,
		obsMetrics:   p.ObsMetrics,
	}
}

// Create records a payment and settles the invoice when the running total
// reaches the invoice total within Tolerance.
func (s *Service) Create(ctx context.Context, req paymentdomain.CreatePaymentRequest) (paymentdomain.Payment, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(req.InvoiceID))
	if err != nil || invoiceID == 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidInvoice
	}
	amount := invoicedomain.Round2(req.Amount)
	if !amount.IsPositive() {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidAmount
	}
	method := paymentdomain.Method(strings.ToUpper(strings.TrimSpace(string(req.Method))))
	if !method.Valid() {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidMethod
	}

	now := s.clock.Now().UTC()
	paymentDate := clock.StartOfDay(now)
	if req.PaymentDate != nil && !req.PaymentDate.IsZero() {
		paymentDate = clock.StartOfDay(*req.PaymentDate)
		if paymentDate.After(clock.StartOfDay(now)) {
			return paymentdomain.Payment{}, paymentdomain.ErrInvalidPaymentDate
		}
	}

	var key *string
	if trimmed := strings.TrimSpace(req.IdempotencyKey); trimmed != "" {
		key = &trimmed
	}

	var (
		payment *paymentdomain.Payment
		record  *invoicedomain.InvoiceStatusTransition
		replay  bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, orgID); err != nil {
			return err
		}
		invoice, err := s.invoices.FindByIDForUpdate(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}

		if key != nil {
			existing, err := s.repo.FindByIdempotencyKey(ctx, tx, orgID, *key)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.InvoiceID != invoiceID || !existing.Amount.Equal(amount) {
					return paymentdomain.ErrIdempotencyConflict
				}
				payment = existing
				replay = true
				return nil
			}
		}

		if invoice.Status != invoicedomain.InvoiceStatusSent && invoice.Status != invoicedomain.InvoiceStatusOverdue {
			return paymentdomain.ErrInvoiceNotPayable
		}

		paid, _, err := s.repo.SumByInvoice(ctx, tx, orgID, invoiceID, 0)
		if err != nil {
			return err
		}
		remaining := invoice.Total.Sub(paid)
		if !remaining.IsPositive() {
			return paymentdomain.ErrInvoiceNotPayable
		}
		if amount.GreaterThan(remaining.Add(paymentdomain.Tolerance)) {
			return &paymentdomain.OverpaymentError{Remaining: remaining}
		}

		payment = &paymentdomain.Payment{
			ID:             s.genID.Generate(),
			OrgID:          orgID,
			InvoiceID:      invoiceID,
			Amount:         amount,
			Currency:       invoice.Currency,
			Method:         method,
			PaymentDate:    paymentDate,
			Reference:      strings.TrimSpace(req.Reference),
			Notes:          strings.TrimSpace(req.Notes),
			IdempotencyKey: key,
			CreatedAt:      now,
		}
		if err := s.repo.Insert(ctx, tx, payment); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return paymentdomain.ErrIdempotencyConflict
			}
			return err
		}

		newPaid := paid.Add(amount)
		if newPaid.GreaterThanOrEqual(invoice.Total.Sub(paymentdomain.Tolerance)) {
			record, err = s.transitioner.Transition(ctx, tx, lifecycle.Request{
				Invoice: invoice,
				To:      invoicedomain.InvoiceStatusPaid,
				Trigger: invoicedomain.TriggerPayment,
				Reason:  "payment " + payment.ID.String(),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if replay {
		return *payment, nil
	}

	s.transitioner.Announce(ctx, record)
	s.obsMetrics.RecordPaymentApplied(ctx, string(payment.Method))
	s.emitAudit(ctx, "payment.created", payment, nil)
	return *payment, nil
}

// Delete removes a payment and reopens a PAID invoice that is no longer
// covered: OVERDUE when its due date has passed, SENT otherwise.
func (s *Service) Delete(ctx context.Context, id string) error {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return err
	}
	paymentID, err := parseID(id)
	if err != nil {
		return err
	}

	current, err := s.repo.FindByID(ctx, s.db, orgID, paymentID)
	if err != nil {
		return err
	}
	if current == nil {
		return paymentdomain.ErrPaymentNotFound
	}

	var record *invoicedomain.InvoiceStatusTransition
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, orgID); err != nil {
			return err
		}
		invoice, err := s.invoices.FindByIDForUpdate(ctx, tx, orgID, current.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}

		remainingPaid, _, err := s.repo.SumByInvoice(ctx, tx, orgID, invoice.ID, paymentID)
		if err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, tx, orgID, paymentID); err != nil {
			return err
		}

		if invoice.Status != invoicedomain.InvoiceStatusPaid ||
			!remainingPaid.LessThan(invoice.Total.Sub(paymentdomain.Tolerance)) {
			return nil
		}
		to := invoicedomain.InvoiceStatusSent
		if invoice.DueDate.Before(clock.Today(s.clock)) {
			to = invoicedomain.InvoiceStatusOverdue
		}
		record, err = s.transitioner.Transition(ctx, tx, lifecycle.Request{
			Invoice: invoice,
			To:      to,
			Trigger: invoicedomain.TriggerPayment,
			Reason:  "payment " + paymentID.String() + " deleted",
		})
		return err
	})
	if err != nil {
		return err
	}

	s.transitioner.Announce(ctx, record)
	s.obsMetrics.RecordPaymentReversed(ctx, string(current.Method))
	s.emitAudit(ctx, "payment.deleted", current, nil)
	return nil
}

func (s *Service) GetByID(ctx context.Context, id string) (paymentdomain.Payment, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	paymentID, err := parseID(id)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	payment, err := s.repo.FindByID(ctx, s.db, orgID, paymentID)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if payment == nil {
		return paymentdomain.Payment{}, paymentdomain.ErrPaymentNotFound
	}
	return *payment, nil
}

func (s *Service) List(ctx context.Context, req paymentdomain.ListPaymentRequest) (paymentdomain.ListPaymentResponse, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return paymentdomain.ListPaymentResponse{}, err
	}

	filter := paymentdomain.ListPaymentFilter{Limit: req.Size()}
	if raw := strings.TrimSpace(req.InvoiceID); raw != "" {
		invoiceID, err := snowflake.ParseString(raw)
		if err != nil || invoiceID == 0 {
			return paymentdomain.ListPaymentResponse{}, paymentdomain.ErrInvalidInvoice
		}
		filter.InvoiceID = invoiceID
	}
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return paymentdomain.ListPaymentResponse{}, pagination.ErrInvalidPageToken
	}
	if cursor != nil {
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return paymentdomain.ListPaymentResponse{}, pagination.ErrInvalidPageToken
		}
		filter.Cursor = &paymentdomain.Cursor{ID: cursorID, CreatedAt: cursor.CreatedAt}
	}

	items, err := s.repo.List(ctx, s.db, orgID, filter)
	if err != nil {
		return paymentdomain.ListPaymentResponse{}, err
	}
	items, pageInfo, err := pagination.Trim(items, filter.Limit, func(p *paymentdomain.Payment) pagination.Cursor {
		return pagination.Cursor{ID: p.ID.String(), CreatedAt: p.CreatedAt}
	})
	if err != nil {
		return paymentdomain.ListPaymentResponse{}, err
	}

	payments := make([]paymentdomain.Payment, 0, len(items))
	for _, item := range items {
		payments = append(payments, *item)
	}
	return paymentdomain.ListPaymentResponse{PageInfo: pageInfo, Payments: payments}, nil
}

func (s *Service) GetSummary(ctx context.Context, invoiceID string) (paymentdomain.Summary, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return paymentdomain.Summary{}, err
	}
	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil || id == 0 {
		return paymentdomain.Summary{}, paymentdomain.ErrInvalidInvoice
	}

	invoice, err := s.invoices.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return paymentdomain.Summary{}, err
	}
	if invoice == nil {
		return paymentdomain.Summary{}, invoicedomain.ErrInvoiceNotFound
	}
	paid, count, err := s.repo.SumByInvoice(ctx, s.db, orgID, id, 0)
	if err != nil {
		return paymentdomain.Summary{}, err
	}
	return Summarize(invoice, paid, count), nil
}

// Summarize derives the display balance for an invoice.
func Summarize(invoice *invoicedomain.Invoice, paid decimal.Decimal, count int64) paymentdomain.Summary {
	return paymentdomain.Summary{
		InvoiceID:       invoice.ID.String(),
		Currency:        invoice.Currency,
		Total:           invoice.Total,
		TotalPaid:       paid,
		RemainingAmount: decimal.Max(invoice.Total.Sub(paid), decimal.Zero),
		PaymentCount:    count,
		IsFullyPaid:     paid.GreaterThanOrEqual(invoice.Total.Sub(paymentdomain.Tolerance)),
	}
}

func (s *Service) emitAudit(ctx context.Context, action string, payment *paymentdomain.Payment, extra map[string]any) {
	if s.auditSvc == nil || payment == nil {
		return
	}
	metadata := map[string]any{
		"invoice_id":   payment.InvoiceID.String(),
		"amount":       payment.Amount.StringFixed(2),
		"currency":     payment.Currency,
		"method":       string(payment.Method),
		"payment_date": payment.PaymentDate.Format(time.DateOnly),
	}
	if payment.IdempotencyKey != nil {
		metadata["idempotency_key"] = *payment.IdempotencyKey
	}
	if payment.Reference != "" {
		metadata["reference"] = payment.Reference
	}
	for key, value := range extra {
		metadata[key] = value
	}

	targetID := payment.ID.String()
	orgID := payment.OrgID
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "payment", &targetID, metadata); err != nil {
		s.log.Warn("failed to record payment audit", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, paymentdomain.ErrInvalidOrganization
	}
	return orgID, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, paymentdomain.ErrInvalidID
	}
	return id, nil
}
