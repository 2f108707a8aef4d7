package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/config"
	invoicedomain "github.com/smallbiznis/invoicing/internal/invoice/domain"
	organizationdomain "github.com/smallbiznis/invoicing/internal/organization/domain"
	"github.com/smallbiznis/invoicing/internal/orgcontext"
	"github.com/smallbiznis/invoicing/internal/reporting/domain"
	"github.com/smallbiznis/invoicing/pkg/currency"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Repo   domain.Repository
	Orgs   organizationdomain.Service
	Engine *config.EngineConfigHolder `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	repo   domain.Repository
	orgs   organizationdomain.Service
	engine *config.EngineConfigHolder
}

func NewService(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("reporting.service"),
		clock:  p.Clock,
		repo:   p.Repo,
		orgs:   p.Orgs,
		engine: p.Engine,
	}
}

var (
	allStatuses = []invoicedomain.InvoiceStatus{
		invoicedomain.InvoiceStatusDraft,
		invoicedomain.InvoiceStatusSent,
		invoicedomain.InvoiceStatusPaid,
		invoicedomain.InvoiceStatusOverdue,
		invoicedomain.InvoiceStatusCancelled,
	}
)

func (s *Service) GetInvoiceStats(ctx context.Context, filters domain.Filters) (domain.InvoiceStats, error) {
	q, base, err := s.prepare(ctx, filters)
	if err != nil {
		return domain.InvoiceStats{}, err
	}

	groups, err := s.repo.TotalsByStatusCurrency(ctx, s.db, q)
	if err != nil {
		return domain.InvoiceStats{}, err
	}

	stats := domain.InvoiceStats{
		BaseCurrency:           base,
		CountByStatus:          make(map[string]int64, len(allStatuses)),
		Paid:                   newAmounts(),
		Outstanding:            newAmounts(),
		MissingHistoricalRates: []domain.MissingRate{},
	}
	for _, status := range allStatuses {
		stats.CountByStatus[string(status)] = 0
	}

	flagged := false
	for _, g := range groups {
		stats.CountByStatus[g.Status] += g.Count
		if g.Unsnapshotted > 0 && g.Currency != base {
			flagged = true
		}

		target := s.bucketFor(g.Status, &stats)
		if target == nil {
			continue
		}
		target.ByCurrency[g.Currency] = target.ByCurrency[g.Currency].Add(g.Total).Round(2)
		target.BaseTotal = target.BaseTotal.Add(g.BaseTotal)
		if g.Unsnapshotted > 0 && g.Currency == base {
			target.BaseTotal = target.BaseTotal.Add(g.UnsnapshottedTotal)
		}
	}
	stats.Paid.BaseTotal = stats.Paid.BaseTotal.Round(2)
	stats.Outstanding.BaseTotal = stats.Outstanding.BaseTotal.Round(2)

	if flagged {
		rows, err := s.repo.ListUnsnapshotted(ctx, s.db, q, base)
		if err != nil {
			return domain.InvoiceStats{}, err
		}
		for _, row := range rows {
			stats.MissingHistoricalRates = append(stats.MissingHistoricalRates, missing(row))
		}
		s.log.Debug("invoices excluded from base totals",
			zap.String("org_id", q.OrgID.String()),
			zap.Int("count", len(rows)),
		)
	}
	return stats, nil
}

func (s *Service) bucketFor(status string, stats *domain.InvoiceStats) *domain.Amounts {
	switch invoicedomain.InvoiceStatus(status) {
	case invoicedomain.InvoiceStatusPaid:
		return &stats.Paid
	case invoicedomain.InvoiceStatusSent, invoicedomain.InvoiceStatusOverdue:
		return &stats.Outstanding
	default:
		return nil
	}
}

func (s *Service) GetMonthlyRevenueStats(ctx context.Context, months int, filters domain.Filters) (domain.RevenueSeries, error) {
	window := s.engine.Get().Reporting
	n, err := windowSize(months, window.DefaultMonths, window.MaxMonths)
	if err != nil {
		return domain.RevenueSeries{}, err
	}
	return s.series(ctx, domain.GranularityMonth, n, filters)
}

func (s *Service) GetYearlyRevenueStats(ctx context.Context, years int, filters domain.Filters) (domain.RevenueSeries, error) {
	window := s.engine.Get().Reporting
	n, err := windowSize(years, window.DefaultYears, window.MaxYears)
	if err != nil {
		return domain.RevenueSeries{}, err
	}
	return s.series(ctx, domain.GranularityYear, n, filters)
}

func windowSize(requested, def, max int) (int, error) {
	switch {
	case requested < 0:
		return 0, domain.ErrInvalidWindow
	case requested == 0:
		return def, nil
	case requested > max:
		return 0, domain.ErrInvalidWindow
	default:
		return requested, nil
	}
}

func (s *Service) series(ctx context.Context, granularity domain.Granularity, n int, filters domain.Filters) (domain.RevenueSeries, error) {
	q, base, err := s.prepare(ctx, filters)
	if err != nil {
		return domain.RevenueSeries{}, err
	}

	buckets := denseBuckets(granularity, n, s.clock.Now().UTC())
	index := make(map[string]int, len(buckets))
	for i, b := range buckets {
		index[b.Period] = i
	}
	start := buckets[0].Start
	end := advance(granularity, buckets[len(buckets)-1].Start)

	rows, err := s.repo.ListIssuedBetween(ctx, s.db, q, start, end)
	if err != nil {
		return domain.RevenueSeries{}, err
	}

	out := domain.RevenueSeries{
		BaseCurrency:           base,
		Granularity:            granularity,
		MissingHistoricalRates: []domain.MissingRate{},
	}
	for _, row := range rows {
		i, ok := index[periodKey(granularity, row.IssueDate)]
		if !ok {
			continue
		}
		bucket := &buckets[i]
		bucket.InvoiceCount++

		amount, ok := baseAmount(row, base)
		if !ok {
			out.MissingHistoricalRates = append(out.MissingHistoricalRates, missing(row))
			continue
		}
		status := invoicedomain.InvoiceStatus(row.Status)
		if status != invoicedomain.InvoiceStatusPaid && !invoicedomain.IsOutstanding(status) {
			continue
		}
		if status == invoicedomain.InvoiceStatusPaid {
			bucket.Revenue = bucket.Revenue.Add(amount)
		} else {
			bucket.Outstanding = bucket.Outstanding.Add(amount)
		}
	}

	for i := range buckets {
		buckets[i].Revenue = buckets[i].Revenue.Round(2)
		buckets[i].Outstanding = buckets[i].Outstanding.Round(2)
	}
	out.Buckets = buckets
	return out, nil
}

// baseAmount prefers the frozen base total and falls back to the raw total
// only when no conversion is involved.
func baseAmount(row domain.InvoiceRow, base string) (decimal.Decimal, bool) {
	if row.TotalInBaseCurrency.Valid {
		return row.TotalInBaseCurrency.Decimal, true
	}
	if row.Currency == base {
		return row.Total, true
	}
	return decimal.Zero, false
}

func denseBuckets(granularity domain.Granularity, n int, now time.Time) []domain.RevenueBucket {
	var last time.Time
	if granularity == domain.GranularityYear {
		last = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	} else {
		last = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}

	buckets := make([]domain.RevenueBucket, n)
	for i := 0; i < n; i++ {
		offset := n - 1 - i
		var start time.Time
		if granularity == domain.GranularityYear {
			start = last.AddDate(-offset, 0, 0)
		} else {
			start = last.AddDate(0, -offset, 0)
		}
		buckets[i] = domain.RevenueBucket{
			Period:      periodKey(granularity, start),
			Start:       start,
			Revenue:     decimal.Zero,
			Outstanding: decimal.Zero,
		}
	}
	return buckets
}

func advance(granularity domain.Granularity, t time.Time) time.Time {
	if granularity == domain.GranularityYear {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

func periodKey(granularity domain.Granularity, t time.Time) string {
	if granularity == domain.GranularityYear {
		return t.UTC().Format("2006")
	}
	return t.UTC().Format("2006-01")
}

func (s *Service) prepare(ctx context.Context, filters domain.Filters) (domain.Query, string, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.Query{}, "", domain.ErrInvalidOrganization
	}

	q := domain.Query{OrgID: orgID}
	if raw := strings.TrimSpace(filters.CustomerID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil || id == 0 {
			return domain.Query{}, "", domain.ErrInvalidCustomer
		}
		q.CustomerID = id
	}
	if raw := strings.TrimSpace(filters.Currency); raw != "" {
		code, err := currency.Normalize(raw)
		if err != nil {
			return domain.Query{}, "", domain.ErrInvalidCurrency
		}
		q.Currency = code
	}
	if filters.From != nil {
		from := clock.StartOfDay(*filters.From)
		q.From = &from
	}
	if filters.To != nil {
		to := clock.StartOfDay(*filters.To)
		q.To = &to
	}
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return domain.Query{}, "", domain.ErrInvalidDateRange
	}

	base, err := s.orgs.BaseCurrency(ctx, orgID)
	if err != nil {
		return domain.Query{}, "", err
	}
	return q, base, nil
}

func newAmounts() domain.Amounts {
	return domain.Amounts{ByCurrency: map[string]decimal.Decimal{}, BaseTotal: decimal.Zero}
}

func missing(row domain.InvoiceRow) domain.MissingRate {
	return domain.MissingRate{
		InvoiceID:     row.ID.String(),
		InvoiceNumber: row.InvoiceNumber,
		Currency:      row.Currency,
		Total:         row.Total,
		Status:        row.Status,
	}
}
