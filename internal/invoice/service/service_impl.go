package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
	"github.com/smallbiznis/invoicing/internal/authorization"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/config"
	customerdomain "github.com/smallbiznis/invoicing/internal/customer/domain"
	exchangeratedomain "github.com/smallbiznis/invoicing/internal/exchangerate/domain"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/invoice/format"
	"github.com/smallbiznis/invoicing/internal/invoice/lifecycle"
	"github.com/smallbiznis/invoicing/internal/observability/metrics"
	organizationdomain "github.com/smallbiznis/invoicing/internal/organization/domain"
	"github.com/smallbiznis/invoicing/internal/orgcontext"
	"github.com/smallbiznis/invoicing/internal/providers/email"
	"github.com/smallbiznis/invoicing/internal/providers/pdf"
	"github.com/smallbiznis/invoicing/pkg/currency"
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
	Repo         domain.Repository
	Customers    customerdomain.Repository
	Rates        exchangeratedomain.Service
	Orgs         organizationdomain.Service
	Authz        authorization.Service
	Transitioner *lifecycle.Transitioner
	PDF          pdf.Provider
	Email        email.Provider             `optional:"true"`
	Engine       *config.EngineConfigHolder `optional:"true"`
	Metrics      *metrics.Metrics           `optional:"true"`
	AuditSvc     auditdomain.Service        `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         domain.Repository
	customers    customerdomain.Repository
	rates        exchangeratedomain.Service
	orgs         organizationdomain.Service
	authz        authorization.Service
	transitioner *lifecycle.Transitioner
	pdf          pdf.Provider
	email        email.Provider
	engine       *config.EngineConfigHolder
	metrics      *metrics.Metrics
	auditSvc     auditdomain.Service
}

func NewService(p Params) domain.Service {
	mailer := p.Email
	if mailer == nil {
		mailer = &email.NoOpProvider{}
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("invoice.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		customers:    p.Customers,
		rates:        p.Rates,
		orgs:         p.Orgs,
		authz:        p.Authz,
		transitioner: p.Transitioner,
		pdf:          p.PDF,
		email:        mailer,
		engine:       p.Engine,
		metrics:      p.Metrics,
		auditSvc:     p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateInvoiceRequest) (domain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}

	now := s.clock.Now().UTC()
	invoice := &domain.Invoice{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Status:    domain.InvoiceStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.apply(ctx, invoice, req); err != nil {
		return domain.Invoice{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, orgID); err != nil {
			return err
		}
		seq, err := s.repo.NextSequence(ctx, tx, orgID, invoice.IssueDate.Year(), now)
		if err != nil {
			return err
		}
		number, err := format.FormatInvoiceNumber(format.DefaultInvoiceNumberTemplate, invoice.IssueDate, seq)
		if err != nil {
			return err
		}
		invoice.InvoiceNumber = number
		return s.repo.Insert(ctx, tx, invoice)
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.metrics.RecordInvoiceCreated(ctx, invoice.Currency)
	s.emitAudit(ctx, "invoice.created", invoice, nil)
	return *invoice, nil
}

func (s *Service) Update(ctx context.Context, id string, req domain.UpdateInvoiceRequest) (domain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	invoiceID, err := parseID(id)
	if err != nil {
		return domain.Invoice{}, err
	}

	current, err := s.repo.FindByID(ctx, s.db, orgID, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if current == nil {
		return domain.Invoice{}, domain.ErrInvoiceNotFound
	}
	if err := domain.EnsureEditable(current.Status); err != nil {
		return domain.Invoice{}, err
	}

	// The snapshot lookup reads the rate table, so it runs before the row lock.
	updated := *current
	updated.UpdatedAt = s.clock.Now().UTC()
	if err := s.apply(ctx, &updated, req); err != nil {
		return domain.Invoice{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, orgID); err != nil {
			return err
		}
		locked, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrInvoiceNotFound
		}
		if err := domain.EnsureEditable(locked.Status); err != nil {
			return err
		}
		if err := s.repo.UpdateDraft(ctx, tx, &updated); err != nil {
			return err
		}
		return s.repo.ReplaceItems(ctx, tx, &updated)
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	s.emitAudit(ctx, "invoice.updated", &updated, nil)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return err
	}
	invoiceID, err := parseID(id)
	if err != nil {
		return err
	}

	var deleted *domain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, orgID); err != nil {
			return err
		}
		invoice, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return domain.ErrInvoiceNotFound
		}
		if err := domain.EnsureDeletable(invoice.Status); err != nil {
			return err
		}
		paid, err := s.repo.PaymentTotals(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if paid.Count > 0 {
			return domain.ErrInvoiceHasPayments
		}
		if err := s.repo.Delete(ctx, tx, orgID, invoiceID); err != nil {
			return err
		}
		deleted = invoice
		return nil
	})
	if err != nil {
		return err
	}

	s.emitAudit(ctx, "invoice.deleted", deleted, nil)
	return nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	invoiceID, err := parseID(id)
	if err != nil {
		return domain.Invoice{}, err
	}

	invoice, err := s.load(ctx, orgID, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) List(ctx context.Context, req domain.ListInvoiceRequest) (domain.ListInvoiceResponse, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return domain.ListInvoiceResponse{}, err
	}

	filter := domain.ListInvoiceFilter{Limit: req.Size()}
	if status := strings.ToUpper(strings.TrimSpace(req.Status)); status != "" {
		filter.Status = domain.InvoiceStatus(status)
		if !filter.Status.Valid() {
			return domain.ListInvoiceResponse{}, domain.ErrInvalidStatus
		}
	}
	if customerID := strings.TrimSpace(req.CustomerID); customerID != "" {
		parsed, err := snowflake.ParseString(customerID)
		if err != nil || parsed == 0 {
			return domain.ListInvoiceResponse{}, domain.ErrInvalidCustomer
		}
		filter.CustomerID = parsed
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListInvoiceResponse{}, pagination.ErrInvalidPageToken
	}
	if cursor != nil {
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListInvoiceResponse{}, pagination.ErrInvalidPageToken
		}
		filter.Cursor = &domain.Cursor{ID: cursorID, CreatedAt: cursor.CreatedAt}
	}

	items, err := s.repo.List(ctx, s.db, orgID, filter)
	if err != nil {
		return domain.ListInvoiceResponse{}, err
	}
	items, pageInfo, err := pagination.Trim(items, filter.Limit, func(inv *domain.Invoice) pagination.Cursor {
		return pagination.Cursor{ID: inv.ID.String(), CreatedAt: inv.CreatedAt}
	})
	if err != nil {
		return domain.ListInvoiceResponse{}, err
	}

	invoices := make([]domain.Invoice, 0, len(items))
	for _, item := range items {
		invoices = append(invoices, *item)
	}
	return domain.ListInvoiceResponse{PageInfo: pageInfo, Invoices: invoices}, nil
}

// apply validates req and writes the derived fields onto invoice, including a
// freshly resolved currency snapshot.
func (s *Service) apply(ctx context.Context, invoice *domain.Invoice, req domain.CreateInvoiceRequest) error {
	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return domain.ErrInvalidCustomer
	}
	customer, err := s.customers.FindByID(ctx, s.db, invoice.OrgID, customerID)
	if err != nil {
		return err
	}
	if customer == nil {
		return domain.ErrCustomerNotFound
	}

	code := strings.TrimSpace(req.Currency)
	if code == "" {
		code = customer.Currency
	}
	code, err = currency.Normalize(code)
	if err != nil {
		return domain.ErrInvalidCurrency
	}

	issueDate := clock.Today(s.clock)
	if req.IssueDate != nil && !req.IssueDate.IsZero() {
		issueDate = clock.StartOfDay(*req.IssueDate)
	}
	if req.DueDate.IsZero() {
		return domain.ErrInvalidDueDate
	}
	dueDate := clock.StartOfDay(req.DueDate)
	if dueDate.Before(issueDate) {
		return domain.ErrInvalidDueDate
	}

	if len(req.Items) > domain.MaxItemsPerInvoice {
		return domain.ErrTooManyItems
	}
	totals, err := domain.ComputeTotals(req.Items, req.TaxRate, req.Discount)
	if err != nil {
		return err
	}

	snapshot, err := s.rates.ResolveSnapshot(ctx, invoice.OrgID, code, totals.Total)
	if err != nil {
		return err
	}

	invoice.CustomerID = customerID
	invoice.Currency = code
	invoice.IssueDate = issueDate
	invoice.DueDate = dueDate
	invoice.TaxRate = req.TaxRate
	invoice.Subtotal = totals.Subtotal
	invoice.DiscountAmount = totals.DiscountAmount
	invoice.TaxAmount = totals.TaxAmount
	invoice.Total = totals.Total
	invoice.ExchangeRateToBase = snapshot.RateToBase
	invoice.TotalInBaseCurrency = snapshot.TotalInBase
	invoice.Notes = strings.TrimSpace(req.Notes)
	invoice.DiscountType = nil
	invoice.DiscountValue = decimal.Zero
	if req.Discount != nil && req.Discount.Type != "" {
		discountType := req.Discount.Type
		invoice.DiscountType = &discountType
		invoice.DiscountValue = req.Discount.Value
	}

	invoice.Items = make([]domain.InvoiceItem, len(req.Items))
	for i, item := range req.Items {
		invoice.Items[i] = domain.InvoiceItem{
			ID:          s.genID.Generate(),
			OrgID:       invoice.OrgID,
			InvoiceID:   invoice.ID,
			Position:    i + 1,
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Total:       totals.LineTotals[i],
			CreatedAt:   invoice.UpdatedAt,
		}
	}
	return nil
}

func (s *Service) load(ctx context.Context, orgID, invoiceID snowflake.ID) (*domain.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, s.db, orgID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	items, err := s.repo.ListItems(ctx, s.db, orgID, invoiceID)
	if err != nil {
		return nil, err
	}
	invoice.Items = items
	return invoice, nil
}

func (s *Service) emitAudit(ctx context.Context, action string, invoice *domain.Invoice, extra map[string]any) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	metadata := map[string]any{
		"customer_id":    invoice.CustomerID.String(),
		"invoice_number": invoice.InvoiceNumber,
		"currency":       invoice.Currency,
		"total":          invoice.Total.StringFixed(2),
		"status":         string(invoice.Status),
		"due_date":       invoice.DueDate.Format(time.DateOnly),
	}
	if invoice.HasSnapshot() {
		metadata["total_in_base_currency"] = invoice.TotalInBaseCurrency.StringFixed(2)
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := invoice.ID.String()
	orgID := invoice.OrgID
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "invoice", &targetID, metadata); err != nil {
		s.log.Warn("failed to record invoice audit", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, domain.ErrInvalidOrganization
	}
	return orgID, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func isBenign(err error) bool {
	return errors.Is(err, domain.ErrConcurrentModification)
}
