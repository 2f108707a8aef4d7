package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/config"
	customerdomain "github.com/smallbiznis/invoicing/internal/customer/domain"
	"github.com/smallbiznis/invoicing/internal/dbtest"
	invoicedomain "github.com/smallbiznis/invoicing/internal/invoice/domain"
	organizationdomain "github.com/smallbiznis/invoicing/internal/organization/domain"
	organizationrepo "github.com/smallbiznis/invoicing/internal/organization/repository"
	organizationservice "github.com/smallbiznis/invoicing/internal/organization/service"
	"github.com/smallbiznis/invoicing/internal/orgcontext"
	"github.com/smallbiznis/invoicing/internal/reporting/domain"
	"github.com/smallbiznis/invoicing/internal/reporting/repository"
	"github.com/smallbiznis/invoicing/internal/reporting/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	svc      domain.Service
	node     *snowflake.Node
	orgID    snowflake.ID
	customer snowflake.ID
	seq      int
	ctx      context.Context
}

func newFixture(t *testing.T, engine config.EngineConfig) *fixture {
	t.Helper()
	db := dbtest.Open(t,
		&organizationdomain.Organization{},
		&organizationdomain.OrganizationMember{},
		&organizationdomain.OrganizationBillingPreferences{},
		&customerdomain.Customer{},
		&invoicedomain.Invoice{},
	)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))

	orgs := organizationservice.NewService(organizationservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Repo:  organizationrepo.NewRepository(db),
		GenID: node,
		Clock: clk,
	})
	org, err := orgs.Create(context.Background(), 9, organizationdomain.CreateOrganizationRequest{
		Name:         "Northwind",
		BaseCurrency: "USD",
	})
	require.NoError(t, err)
	orgID, err := snowflake.ParseString(org.ID)
	require.NoError(t, err)

	return &fixture{
		db:       db,
		node:     node,
		orgID:    orgID,
		customer: node.Generate(),
		ctx:      orgcontext.WithOrgID(context.Background(), orgID),
		svc: service.NewService(service.Params{
			DB:     db,
			Log:    zap.NewNop(),
			Clock:  clk,
			Repo:   repository.Provide(),
			Orgs:   orgs,
			Engine: config.NewStaticEngineConfigHolder(engine),
		}),
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type invoiceOpt func(*invoicedomain.Invoice)

func snapshot(rate, base string) invoiceOpt {
	return func(inv *invoicedomain.Invoice) {
		r, b := d(rate), d(base)
		inv.ExchangeRateToBase = &r
		inv.TotalInBaseCurrency = &b
	}
}

func forCustomer(id snowflake.ID) invoiceOpt {
	return func(inv *invoicedomain.Invoice) { inv.CustomerID = id }
}

func (f *fixture) add(t *testing.T, status invoicedomain.InvoiceStatus, currency, total string, issued time.Time, opts ...invoiceOpt) invoicedomain.Invoice {
	t.Helper()
	f.seq++
	inv := invoicedomain.Invoice{
		ID:            f.node.Generate(),
		OrgID:         f.orgID,
		CustomerID:    f.customer,
		InvoiceNumber: fmt.Sprintf("INV-%d-%04d", issued.Year(), f.seq),
		Currency:      currency,
		IssueDate:     issued,
		DueDate:       issued.AddDate(0, 0, 30),
		Subtotal:      d(total),
		Total:         d(total),
		Status:        status,
		CreatedAt:     issued,
		UpdatedAt:     issued,
	}
	for _, opt := range opts {
		opt(&inv)
	}
	require.NoError(t, f.db.Create(&inv).Error)
	return inv
}

func day(y int, m time.Month, dd int) time.Time { return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC) }

func TestInvoiceStatsResolvesBaseCurrency(t *testing.T) {
	f := newFixture(t, config.DefaultEngineConfig())
	f.add(t, invoicedomain.InvoiceStatusPaid, "USD", "100.00", day(2025, 2, 1))
	f.add(t, invoicedomain.InvoiceStatusPaid, "EUR", "200.00", day(2025, 2, 3), snapshot("1.1", "220.00"))
	missingEUR := f.add(t, invoicedomain.InvoiceStatusPaid, "EUR", "50.00", day(2025, 2, 4))
	f.add(t, invoicedomain.InvoiceStatusSent, "USD", "30.00", day(2025, 3, 1))
	f.add(t, invoicedomain.InvoiceStatusOverdue, "GBP", "40.00", day(2025, 3, 2), snapshot("1.25", "50.00"))
	missingGBP := f.add(t, invoicedomain.InvoiceStatusSent, "GBP", "10.00", day(2025, 3, 3))
	draftJPY := f.add(t, invoicedomain.InvoiceStatusDraft, "JPY", "9000", day(2025, 3, 4))
	cancelledEUR := f.add(t, invoicedomain.InvoiceStatusCancelled, "EUR", "75.00", day(2025, 3, 5))

	stats, err := f.svc.GetInvoiceStats(f.ctx, domain.Filters{})
	require.NoError(t, err)

	require.Equal(t, "USD", stats.BaseCurrency)
	require.Equal(t, map[string]int64{"DRAFT": 1, "SENT": 2, "PAID": 3, "OVERDUE": 1, "CANCELLED": 1}, stats.CountByStatus)

	require.Equal(t, "100.00", stats.Paid.ByCurrency["USD"].StringFixed(2))
	require.Equal(t, "250.00", stats.Paid.ByCurrency["EUR"].StringFixed(2))
	require.Equal(t, "320.00", stats.Paid.BaseTotal.StringFixed(2))

	require.Equal(t, "30.00", stats.Outstanding.ByCurrency["USD"].StringFixed(2))
	require.Equal(t, "50.00", stats.Outstanding.ByCurrency["GBP"].StringFixed(2))
	require.Equal(t, "80.00", stats.Outstanding.BaseTotal.StringFixed(2))
	require.NotContains(t, stats.Outstanding.ByCurrency, "JPY")

	ids := make([]string, 0, len(stats.MissingHistoricalRates))
	for _, m := range stats.MissingHistoricalRates {
		ids = append(ids, m.InvoiceID)
		if m.InvoiceID == missingEUR.ID.String() {
			require.Equal(t, "EUR", m.Currency)
			require.Equal(t, "PAID", m.Status)
			require.Equal(t, "50.00", m.Total.StringFixed(2))
		}
	}
	require.ElementsMatch(t, []string{
		missingEUR.ID.String(),
		missingGBP.ID.String(),
		draftJPY.ID.String(),
		cancelledEUR.ID.String(),
	}, ids)
}

func TestDraftForeignInvoiceWithoutRateIsFlagged(t *testing.T) {
	f := newFixture(t, config.DefaultEngineConfig())
	draft := f.add(t, invoicedomain.InvoiceStatusDraft, "EUR", "118.00", day(2025, 6, 10))

	stats, err := f.svc.GetInvoiceStats(f.ctx, domain.Filters{})
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.CountByStatus["DRAFT"])
	require.Len(t, stats.MissingHistoricalRates, 1)
	require.Equal(t, draft.ID.String(), stats.MissingHistoricalRates[0].InvoiceID)
	require.Equal(t, "DRAFT", stats.MissingHistoricalRates[0].Status)
	require.True(t, stats.Outstanding.BaseTotal.IsZero())

	series, err := f.svc.GetMonthlyRevenueStats(f.ctx, 1, domain.Filters{})
	require.NoError(t, err)
	require.Len(t, series.MissingHistoricalRates, 1)
	require.Equal(t, draft.ID.String(), series.MissingHistoricalRates[0].InvoiceID)
	require.True(t, series.Buckets[0].Outstanding.IsZero())
}

func TestInvoiceStatsEmptyOrganization(t *testing.T) {
	f := newFixture(t, config.DefaultEngineConfig())

	stats, err := f.svc.GetInvoiceStats(f.ctx, domain.Filters{})
	require.NoError(t, err)
	require.Len(t, stats.CountByStatus, 5)
	require.True(t, stats.Paid.BaseTotal.IsZero())
	require.Empty(t, stats.MissingHistoricalRates)
	require.NotNil(t, stats.MissingHistoricalRates)
}

func TestInvoiceStatsFilters(t *testing.T) {
	f := newFixture(t, config.DefaultEngineConfig())
	other := f.node.Generate()
	f.add(t, invoicedomain.InvoiceStatusPaid, "USD", "100.00", day(2025, 1, 10))
	f.add(t, invoicedomain.InvoiceStatusPaid, "USD", "40.00", day(2025, 4, 10), forCustomer(other))
	f.add(t, invoicedomain.InvoiceStatusPaid, "EUR", "10.00", day(2025, 4, 11), snapshot("1.2", "12.00"))

	stats, err := f.svc.GetInvoiceStats(f.ctx, domain.Filters{CustomerID: other.String()})
	require.NoError(t, err)
	require.Equal(t, "40.00", stats.Paid.BaseTotal.StringFixed(2))

	stats, err = f.svc.GetInvoiceStats(f.ctx, domain.Filters{Currency: "eur"})
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.CountByStatus["PAID"])
	require.Equal(t, "12.00", stats.Paid.BaseTotal.StringFixed(2))

	from, to := day(2025, 4, 1), day(2025, 4, 10)
	stats, err = f.svc.GetInvoiceStats(f.ctx, domain.Filters{From: &from, To: &to})
	require.NoError(t, err)
	require.Equal(t, "40.00", stats.Paid.BaseTotal.StringFixed(2))

	_, err = f.svc.GetInvoiceStats(f.ctx, domain.Filters{From: &to, To: &from})
	require.ErrorIs(t, err, domain.ErrInvalidDateRange)
	_, err = f.svc.GetInvoiceStats(f.ctx, domain.Filters{Currency: "EURO"})
	require.ErrorIs(t, err, domain.ErrInvalidCurrency)
	_, err = f.svc.GetInvoiceStats(f.ctx, domain.Filters{CustomerID: "abc"})
	require.ErrorIs(t, err, domain.ErrInvalidCustomer)
	_, err = f.svc.GetInvoiceStats(context.Background(), domain.Filters{})
	require.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func TestMonthlyRevenueBucketsAreDense(t *testing.T) {
	f := newFixture(t, config.DefaultEngineConfig())
	f.add(t, invoicedomain.InvoiceStatusPaid, "USD", "100.00", day(2025, 6, 2))
	f.add(t, invoicedomain.InvoiceStatusPaid, "EUR", "100.00", day(2025, 6, 3), snapshot("1.08", "108.00"))
	f.add(t, invoicedomain.InvoiceStatusOverdue, "USD", "25.50", day(2025, 4, 30))
	f.add(t, invoicedomain.InvoiceStatusDraft, "USD", "99.00", day(2025, 4, 1))
	missing := f.add(t, invoicedomain.InvoiceStatusSent, "CAD", "60.00", day(2025, 5, 9))
	f.add(t, invoicedomain.InvoiceStatusPaid, "USD", "500.00", day(2025, 3, 31))

	series, err := f.svc.GetMonthlyRevenueStats(f.ctx, 3, domain.Filters{})
	require.NoError(t, err)
	require.Equal(t, domain.GranularityMonth, series.Granularity)
	require.Len(t, series.Buckets, 3)

	april, may, june := series.Buckets[0], series.Buckets[1], series.Buckets[2]
	require.Equal(t, "2025-04", april.Period)
	require.Equal(t, day(2025, 4, 1), april.Start)
	require.Equal(t, "0.00", april.Revenue.StringFixed(2))
	require.Equal(t, "25.50", april.Outstanding.StringFixed(2))
	require.EqualValues(t, 2, april.InvoiceCount)

	require.Equal(t, "2025-05", may.Period)
	require.True(t, may.Revenue.IsZero())
	require.True(t, may.Outstanding.IsZero())
	require.EqualValues(t, 1, may.InvoiceCount)

	require.Equal(t, "2025-06", june.Period)
	require.Equal(t, "208.00", june.Revenue.StringFixed(2))
	require.EqualValues(t, 2, june.InvoiceCount)

	require.Len(t, series.MissingHistoricalRates, 1)
	require.Equal(t, missing.ID.String(), series.MissingHistoricalRates[0].InvoiceID)
}

func TestMonthlyRevenueSpansYearBoundary(t *testing.T) {
	f := newFixture(t, config.DefaultEngineConfig())
	f.add(t, invoicedomain.InvoiceStatusPaid, "USD", "10.00", day(2024, 12, 31))

	series, err := f.svc.GetMonthlyRevenueStats(f.ctx, 0, domain.Filters{})
	require.NoError(t, err)
	require.Len(t, series.Buckets, 12)
	require.Equal(t, "2024-07", series.Buckets[0].Period)
	require.Equal(t, "2025-06", series.Buckets[11].Period)
	require.Equal(t, "10.00", series.Buckets[5].Revenue.StringFixed(2))
}

func TestYearlyRevenue(t *testing.T) {
	f := newFixture(t, config.DefaultEngineConfig())
	f.add(t, invoicedomain.InvoiceStatusPaid, "USD", "10.00", day(2023, 5, 1))
	f.add(t, invoicedomain.InvoiceStatusPaid, "USD", "20.00", day(2025, 1, 1))
	f.add(t, invoicedomain.InvoiceStatusSent, "USD", "5.00", day(2025, 6, 14))
	f.add(t, invoicedomain.InvoiceStatusPaid, "USD", "1000.00", day(2020, 1, 1))

	series, err := f.svc.GetYearlyRevenueStats(f.ctx, 3, domain.Filters{})
	require.NoError(t, err)
	require.Len(t, series.Buckets, 3)
	require.Equal(t, []string{"2023", "2024", "2025"}, []string{
		series.Buckets[0].Period, series.Buckets[1].Period, series.Buckets[2].Period,
	})
	require.Equal(t, "10.00", series.Buckets[0].Revenue.StringFixed(2))
	require.True(t, series.Buckets[1].Revenue.IsZero())
	require.Equal(t, "20.00", series.Buckets[2].Revenue.StringFixed(2))
	require.Equal(t, "5.00", series.Buckets[2].Outstanding.StringFixed(2))

	defaults, err := f.svc.GetYearlyRevenueStats(f.ctx, 0, domain.Filters{})
	require.NoError(t, err)
	require.Len(t, defaults.Buckets, 5)
}

func TestRevenueWindowBoundsFollowEngineConfig(t *testing.T) {
	engine := config.DefaultEngineConfig()
	engine.Reporting.DefaultMonths = 6
	engine.Reporting.MaxMonths = 24
	engine.Reporting.MaxYears = 10
	f := newFixture(t, engine)

	series, err := f.svc.GetMonthlyRevenueStats(f.ctx, 0, domain.Filters{})
	require.NoError(t, err)
	require.Len(t, series.Buckets, 6)

	_, err = f.svc.GetMonthlyRevenueStats(f.ctx, 25, domain.Filters{})
	require.ErrorIs(t, err, domain.ErrInvalidWindow)
	_, err = f.svc.GetMonthlyRevenueStats(f.ctx, -1, domain.Filters{})
	require.ErrorIs(t, err, domain.ErrInvalidWindow)
	_, err = f.svc.GetYearlyRevenueStats(f.ctx, 11, domain.Filters{})
	require.ErrorIs(t, err, domain.ErrInvalidWindow)
}
