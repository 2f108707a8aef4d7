package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicing/internal/audit/audittest"
	"github.com/smallbiznis/invoicing/internal/auditcontext"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/config"
	customerdomain "github.com/smallbiznis/invoicing/internal/customer/domain"
	customerrepo "github.com/smallbiznis/invoicing/internal/customer/repository"
	"github.com/smallbiznis/invoicing/internal/dbtest"
	exchangeratedomain "github.com/smallbiznis/invoicing/internal/exchangerate/domain"
	exchangeraterepo "github.com/smallbiznis/invoicing/internal/exchangerate/repository"
	exchangerateservice "github.com/smallbiznis/invoicing/internal/exchangerate/service"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/invoice/lifecycle"
	"github.com/smallbiznis/invoicing/internal/invoice/repository"
	"github.com/smallbiznis/invoicing/internal/invoice/service"
	organizationdomain "github.com/smallbiznis/invoicing/internal/organization/domain"
	organizationrepo "github.com/smallbiznis/invoicing/internal/organization/repository"
	organizationservice "github.com/smallbiznis/invoicing/internal/organization/service"
	"github.com/smallbiznis/invoicing/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/invoicing/internal/payment/domain"
	"github.com/smallbiznis/invoicing/internal/providers/email"
	"github.com/smallbiznis/invoicing/internal/providers/pdf"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type authzMock struct {
	mock.Mock
}

func (m *authzMock) Authorize(ctx context.Context, actor string, orgID string, object string, action string) error {
	args := m.Called(ctx, actor, orgID, object, action)
	return args.Error(0)
}

type stubPDF struct{}

func (stubPDF) RenderInvoice(context.Context, pdf.InvoiceDocument) ([]byte, error) {
	return []byte("%PDF-invoice"), nil
}

func (stubPDF) RenderReceipt(context.Context, pdf.ReceiptDocument) ([]byte, error) {
	return []byte("%PDF-receipt"), nil
}

type sentMail struct {
	To          []string
	Template    string
	Data        any
	Attachments []email.Attachment
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(context.Context, email.Message) error { return m.err }

func (m *recordingMailer) SendTemplate(_ context.Context, to []string, name string, data any, attachments ...email.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Template: name, Data: data, Attachments: attachments})
	return m.err
}

type fixture struct {
	db       *gorm.DB
	svc      domain.Service
	rates    exchangeratedomain.Service
	clock    *clock.FakeClock
	authz    *authzMock
	audit    *audittest.Recorder
	mailer   *recordingMailer
	node     *snowflake.Node
	orgID    snowflake.ID
	customer customerdomain.Customer
	ctx      context.Context
}

func newFixture(t *testing.T, batchSize int) *fixture {
	t.Helper()
	db := dbtest.Open(t,
		&organizationdomain.Organization{},
		&organizationdomain.OrganizationMember{},
		&organizationdomain.OrganizationBillingPreferences{},
		&customerdomain.Customer{},
		&exchangeratedomain.ExchangeRate{},
		&domain.Invoice{},
		&domain.InvoiceItem{},
		&domain.InvoiceStatusTransition{},
		&domain.InvoiceSequence{},
		&paymentdomain.Payment{},
	)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	f := &fixture{
		db:     db,
		clock:  clock.NewFakeClock(time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)),
		authz:  &authzMock{},
		audit:  &audittest.Recorder{},
		mailer: &recordingMailer{},
		node:   node,
	}
	log := zap.NewNop()

	orgs := organizationservice.NewService(organizationservice.Params{
		DB:    db,
		Log:   log,
		Repo:  organizationrepo.NewRepository(db),
		GenID: node,
		Clock: f.clock,
	})
	org, err := orgs.Create(context.Background(), 42, organizationdomain.CreateOrganizationRequest{
		Name:         "Acme Studio",
		SupportEmail: "billing@acme.test",
		BaseCurrency: "USD",
	})
	require.NoError(t, err)
	f.orgID, err = snowflake.ParseString(org.ID)
	require.NoError(t, err)

	f.rates = exchangerateservice.NewService(exchangerateservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: f.clock,
		Repo:  exchangeraterepo.Provide(),
		Base:  orgs,
	})

	f.customer = customerdomain.Customer{
		ID:        node.Generate(),
		OrgID:     f.orgID,
		Name:      "Globex",
		Email:     "ap@globex.test",
		CreatedAt: f.clock.Now(),
		UpdatedAt: f.clock.Now(),
	}
	require.NoError(t, db.Create(&f.customer).Error)

	f.svc = service.NewService(service.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     f.clock,
		Repo:      repository.Provide(),
		Customers: customerrepo.Provide(),
		Rates:     f.rates,
		Orgs:      orgs,
		Authz:     f.authz,
		Transitioner: lifecycle.NewTransitioner(lifecycle.Params{
			Log:      log,
			GenID:    node,
			Clock:    f.clock,
			AuditSvc: f.audit,
		}),
		PDF:      stubPDF{},
		Email:    f.mailer,
		Engine:   config.NewStaticEngineConfigHolder(engineConfig(batchSize)),
		AuditSvc: f.audit,
	})

	ctx := orgcontext.WithOrgID(context.Background(), f.orgID)
	f.ctx = auditcontext.WithActor(ctx, "user", "42")
	return f
}

func engineConfig(batchSize int) config.EngineConfig {
	cfg := config.DefaultEngineConfig()
	if batchSize > 0 {
		cfg.Sweep.BatchSize = batchSize
	}
	return cfg
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y int, m time.Month, day int) *time.Time {
	t := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func (f *fixture) request(currency string, issue, due *time.Time) domain.CreateInvoiceRequest {
	return domain.CreateInvoiceRequest{
		CustomerID: f.customer.ID.String(),
		Currency:   currency,
		IssueDate:  issue,
		DueDate:    *due,
		TaxRate:    d("18"),
		Items: []domain.ItemInput{
			{Description: "Consulting", Quantity: d("2"), UnitPrice: d("50.00")},
		},
	}
}

func (f *fixture) create(t *testing.T, issue, due *time.Time) domain.Invoice {
	t.Helper()
	inv, err := f.svc.Create(f.ctx, f.request("USD", issue, due))
	require.NoError(t, err)
	return inv
}

func TestCreateInvoiceComputesTotalsAndNumber(t *testing.T) {
	f := newFixture(t, 0)

	inv, err := f.svc.Create(f.ctx, f.request("usd", nil, date(2025, 4, 14)))
	require.NoError(t, err)

	require.Equal(t, domain.InvoiceStatusDraft, inv.Status)
	require.Equal(t, "INV-2025-0001", inv.InvoiceNumber)
	require.Equal(t, "USD", inv.Currency)
	require.Equal(t, "100.00", inv.Subtotal.StringFixed(2))
	require.Equal(t, "18.00", inv.TaxAmount.StringFixed(2))
	require.Equal(t, "118.00", inv.Total.StringFixed(2))
	require.True(t, inv.IssueDate.Equal(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)))

	require.True(t, inv.HasSnapshot())
	require.Equal(t, "1.000000", inv.ExchangeRateToBase.StringFixed(6))
	require.Equal(t, "118.00", inv.TotalInBaseCurrency.StringFixed(2))

	stored, err := f.svc.GetByID(f.ctx, inv.ID.String())
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	require.Equal(t, "Consulting", stored.Items[0].Description)
	require.Equal(t, "100.00", stored.Items[0].Total.StringFixed(2))
	require.Equal(t, "118.00", stored.Total.StringFixed(2))

	require.Equal(t, []string{"invoice.created"}, f.audit.Actions("invoice.created"))
}

func TestCreateInvoiceWithoutRateLeavesSnapshotEmpty(t *testing.T) {
	f := newFixture(t, 0)

	inv, err := f.svc.Create(f.ctx, f.request("EUR", nil, date(2025, 4, 14)))
	require.NoError(t, err)
	require.False(t, inv.HasSnapshot())
	require.Nil(t, inv.ExchangeRateToBase)
	require.Nil(t, inv.TotalInBaseCurrency)

	stored, err := f.svc.GetByID(f.ctx, inv.ID.String())
	require.NoError(t, err)
	require.False(t, stored.HasSnapshot())
}

func TestCreateInvoiceFreezesLatestRate(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.rates.Upsert(f.ctx, exchangeratedomain.UpsertExchangeRateRequest{
		FromCurrency: "EUR",
		Rate:         d("1.083457"),
	})
	require.NoError(t, err)

	req := f.request("EUR", nil, date(2025, 4, 14))
	req.TaxRate = decimal.Zero
	req.Items = []domain.ItemInput{{Description: "Retainer", Quantity: d("1"), UnitPrice: d("99.99")}}

	inv, err := f.svc.Create(f.ctx, req)
	require.NoError(t, err)
	require.True(t, inv.HasSnapshot())
	require.Equal(t, "1.083457", inv.ExchangeRateToBase.StringFixed(6))
	require.Equal(t, "108.33", inv.TotalInBaseCurrency.StringFixed(2))

	// A later rate change leaves the stored invoice untouched.
	_, err = f.rates.Upsert(f.ctx, exchangeratedomain.UpsertExchangeRateRequest{
		FromCurrency: "EUR",
		Rate:         d("2"),
	})
	require.NoError(t, err)

	stored, err := f.svc.GetByID(f.ctx, inv.ID.String())
	require.NoError(t, err)
	require.Equal(t, "108.33", stored.TotalInBaseCurrency.StringFixed(2))
}

func TestCreateInvoiceValidation(t *testing.T) {
	f := newFixture(t, 0)

	cases := []struct {
		name   string
		mutate func(*domain.CreateInvoiceRequest)
		want   error
	}{
		{name: "unknown customer", mutate: func(r *domain.CreateInvoiceRequest) { r.CustomerID = f.node.Generate().String() }, want: domain.ErrCustomerNotFound},
		{name: "malformed customer", mutate: func(r *domain.CreateInvoiceRequest) { r.CustomerID = "abc" }, want: domain.ErrInvalidCustomer},
		{name: "bad currency", mutate: func(r *domain.CreateInvoiceRequest) { r.Currency = "EURO" }, want: domain.ErrInvalidCurrency},
		{name: "due before issue", mutate: func(r *domain.CreateInvoiceRequest) { r.DueDate = *date(2025, 3, 1) }, want: domain.ErrInvalidDueDate},
		{name: "missing due date", mutate: func(r *domain.CreateInvoiceRequest) { r.DueDate = time.Time{} }, want: domain.ErrInvalidDueDate},
		{name: "no items", mutate: func(r *domain.CreateInvoiceRequest) { r.Items = nil }, want: domain.ErrEmptyItems},
		{name: "too many items", mutate: func(r *domain.CreateInvoiceRequest) {
			r.Items = make([]domain.ItemInput, domain.MaxItemsPerInvoice+1)
		}, want: domain.ErrTooManyItems},
		{name: "tax over 100", mutate: func(r *domain.CreateInvoiceRequest) { r.TaxRate = d("100.01") }, want: domain.ErrInvalidTaxRate},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := f.request("USD", nil, date(2025, 4, 14))
			tc.mutate(&req)
			_, err := f.svc.Create(f.ctx, req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	_, err := f.svc.Create(context.Background(), f.request("USD", nil, date(2025, 4, 14)))
	require.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func TestInvoiceNumbersAreSequentialPerYear(t *testing.T) {
	f := newFixture(t, 0)

	first := f.create(t, date(2024, 12, 30), date(2025, 1, 30))
	second := f.create(t, date(2025, 1, 2), date(2025, 2, 2))
	third := f.create(t, date(2025, 1, 3), date(2025, 2, 3))

	require.Equal(t, "INV-2024-0001", first.InvoiceNumber)
	require.Equal(t, "INV-2025-0001", second.InvoiceNumber)
	require.Equal(t, "INV-2025-0002", third.InvoiceNumber)
}

func TestUpdateDraftRecomputesAndReplacesItems(t *testing.T) {
	f := newFixture(t, 0)
	inv := f.create(t, nil, date(2025, 4, 14))

	req := f.request("USD", nil, date(2025, 4, 30))
	req.Discount = &domain.Discount{Type: domain.DiscountTypePercentage, Value: d("12.5")}
	req.TaxRate = d("7.5")
	req.Items = []domain.ItemInput{
		{Description: "Design", Quantity: d("3"), UnitPrice: d("20.00")},
		{Description: "Build", Quantity: d("4"), UnitPrice: d("20.00")},
	}

	updated, err := f.svc.Update(f.ctx, inv.ID.String(), req)
	require.NoError(t, err)
	require.Equal(t, inv.InvoiceNumber, updated.InvoiceNumber)
	require.Equal(t, "140.00", updated.Subtotal.StringFixed(2))
	require.Equal(t, "17.50", updated.DiscountAmount.StringFixed(2))
	require.Equal(t, "9.19", updated.TaxAmount.StringFixed(2))
	require.Equal(t, "131.69", updated.Total.StringFixed(2))

	stored, err := f.svc.GetByID(f.ctx, inv.ID.String())
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	require.Equal(t, "Design", stored.Items[0].Description)
	require.Equal(t, "131.69", stored.Total.StringFixed(2))
	require.Equal(t, "131.69", stored.TotalInBaseCurrency.StringFixed(2))
}

func TestUpdateRejectedOnceSent(t *testing.T) {
	f := newFixture(t, 0)
	inv := f.create(t, nil, date(2025, 4, 14))

	_, err := f.svc.Send(f.ctx, inv.ID.String())
	require.NoError(t, err)

	_, err = f.svc.Update(f.ctx, inv.ID.String(), f.request("USD", nil, date(2025, 4, 30)))
	require.ErrorIs(t, err, domain.ErrCannotEdit)
}

func TestSendMailsPDFAndRecordsHistory(t *testing.T) {
	f := newFixture(t, 0)
	inv := f.create(t, nil, date(2025, 4, 14))

	sent, err := f.svc.Send(f.ctx, inv.ID.String())
	require.NoError(t, err)
	require.Equal(t, domain.InvoiceStatusSent, sent.Status)
	require.NotNil(t, sent.SentAt)

	require.Len(t, f.mailer.sent, 1)
	mail := f.mailer.sent[0]
	require.Equal(t, []string{"ap@globex.test"}, mail.To)
	require.Equal(t, "invoice_sent", mail.Template)
	require.Len(t, mail.Attachments, 1)
	require.Equal(t, "INV-2025-0001.pdf", mail.Attachments[0].Filename)

	history, err := f.svc.ListTransitions(f.ctx, inv.ID.String())
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, domain.InvoiceStatusDraft, history[0].FromStatus)
	require.Equal(t, domain.InvoiceStatusSent, history[0].ToStatus)
	require.Equal(t, domain.TriggerUser, history[0].Trigger)
	require.Equal(t, "42", *history[0].ActorID)

	_, err = f.svc.Send(f.ctx, inv.ID.String())
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSendSurvivesEmailFailure(t *testing.T) {
	f := newFixture(t, 0)
	f.mailer.err = errors.New("smtp down")
	inv := f.create(t, nil, date(2025, 4, 14))

	sent, err := f.svc.Send(f.ctx, inv.ID.String())
	require.NoError(t, err)
	require.Equal(t, domain.InvoiceStatusSent, sent.Status)

	stored, err := f.svc.GetByID(f.ctx, inv.ID.String())
	require.NoError(t, err)
	require.Equal(t, domain.InvoiceStatusSent, stored.Status)
}

func TestUpdateStatusFollowsTransitionTable(t *testing.T) {
	f := newFixture(t, 0)
	inv := f.create(t, nil, date(2025, 4, 14))

	_, err := f.svc.UpdateStatus(f.ctx, inv.ID.String(), domain.InvoiceStatusPaid)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.UpdateStatus(f.ctx, inv.ID.String(), domain.InvoiceStatus("ARCHIVED"))
	require.ErrorIs(t, err, domain.ErrInvalidStatus)

	cancelled, err := f.svc.UpdateStatus(f.ctx, inv.ID.String(), domain.InvoiceStatusCancelled)
	require.NoError(t, err)
	require.Equal(t, domain.InvoiceStatusCancelled, cancelled.Status)

	_, err = f.svc.UpdateStatus(f.ctx, inv.ID.String(), domain.InvoiceStatusSent)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.Len(t, f.audit.Actions("invoice.status_changed"), 1)
}

func TestDeleteGuards(t *testing.T) {
	f := newFixture(t, 0)

	draft := f.create(t, nil, date(2025, 4, 14))
	require.NoError(t, f.svc.Delete(f.ctx, draft.ID.String()))
	_, err := f.svc.GetByID(f.ctx, draft.ID.String())
	require.ErrorIs(t, err, domain.ErrInvoiceNotFound)

	var items int64
	require.NoError(t, f.db.Model(&domain.InvoiceItem{}).Where("invoice_id = ?", draft.ID).Count(&items).Error)
	require.Zero(t, items)

	sent := f.create(t, nil, date(2025, 4, 14))
	_, err = f.svc.Send(f.ctx, sent.ID.String())
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.Delete(f.ctx, sent.ID.String()), domain.ErrCannotDelete)

	// A payment recorded before cancellation blocks the delete.
	require.NoError(t, f.db.Create(&paymentdomain.Payment{
		ID:          f.node.Generate(),
		OrgID:       f.orgID,
		InvoiceID:   sent.ID,
		Amount:      d("10.00"),
		Currency:    "USD",
		Method:      paymentdomain.MethodCash,
		PaymentDate: clock.Today(f.clock),
		CreatedAt:   f.clock.Now(),
	}).Error)
	_, err = f.svc.UpdateStatus(f.ctx, sent.ID.String(), domain.InvoiceStatusCancelled)
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.Delete(f.ctx, sent.ID.String()), domain.ErrInvoiceHasPayments)

	require.ErrorIs(t, f.svc.Delete(f.ctx, f.node.Generate().String()), domain.ErrInvoiceNotFound)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	f := newFixture(t, 0)
	var ids []snowflake.ID
	for i := 0; i < 3; i++ {
		inv := f.create(t, nil, date(2025, 4, 14))
		ids = append(ids, inv.ID)
		f.clock.Advance(time.Minute)
	}

	page, err := f.svc.List(f.ctx, domain.ListInvoiceRequest{Pagination: paginationOf(2, "")})
	require.NoError(t, err)
	require.Len(t, page.Invoices, 2)
	require.True(t, page.HasMore)
	require.Equal(t, ids[2], page.Invoices[0].ID)

	next, err := f.svc.List(f.ctx, domain.ListInvoiceRequest{Pagination: paginationOf(2, page.NextPageToken)})
	require.NoError(t, err)
	require.Len(t, next.Invoices, 1)
	require.False(t, next.HasMore)
	require.Equal(t, ids[0], next.Invoices[0].ID)

	_, err = f.svc.List(f.ctx, domain.ListInvoiceRequest{Status: "bogus"})
	require.ErrorIs(t, err, domain.ErrInvalidStatus)

	drafts, err := f.svc.List(f.ctx, domain.ListInvoiceRequest{Status: "draft"})
	require.NoError(t, err)
	require.Len(t, drafts.Invoices, 3)
}

func TestRenderPDF(t *testing.T) {
	f := newFixture(t, 0)
	inv := f.create(t, nil, date(2025, 4, 14))

	rendered, err := f.svc.RenderPDF(f.ctx, inv.ID.String())
	require.NoError(t, err)
	require.Equal(t, "INV-2025-0001.pdf", rendered.Filename)
	require.Equal(t, pdf.ContentType, rendered.ContentType)
	require.Equal(t, []byte("%PDF-invoice"), rendered.Content)
}
