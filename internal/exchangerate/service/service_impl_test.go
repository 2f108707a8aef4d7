package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicing/internal/audit/audittest"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/dbtest"
	"github.com/smallbiznis/invoicing/internal/exchangerate/domain"
	"github.com/smallbiznis/invoicing/internal/exchangerate/repository"
	"github.com/smallbiznis/invoicing/internal/orgcontext"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const testOrg = snowflake.ID(500)

type stubBase struct {
	currency string
	err      error
}

func (s *stubBase) BaseCurrency(context.Context, snowflake.ID) (string, error) {
	return s.currency, s.err
}

type failingRepo struct{ domain.Repository }

func (failingRepo) Latest(context.Context, *gorm.DB, snowflake.ID, string, string) (*domain.ExchangeRate, error) {
	return nil, errors.New("connection reset")
}

type fixture struct {
	svc   *Service
	clock *clock.FakeClock
	base  *stubBase
	audit *audittest.Recorder
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t, &domain.ExchangeRate{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	f := &fixture{
		clock: clock.NewFakeClock(time.Date(2025, 6, 10, 15, 30, 0, 0, time.UTC)),
		base:  &stubBase{currency: "USD"},
		audit: &audittest.Recorder{},
		ctx:   orgcontext.WithOrgID(context.Background(), testOrg),
	}
	f.svc = NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    f.clock,
		Repo:     repository.Provide(),
		Base:     f.base,
		AuditSvc: f.audit,
	})
	return f
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSnapshotSameCurrencyIsIdentity(t *testing.T) {
	f := newFixture(t)
	snap, err := f.svc.ResolveSnapshot(f.ctx, testOrg, "usd", d("118.00"))
	require.NoError(t, err)
	require.NotNil(t, snap.RateToBase)
	require.True(t, snap.RateToBase.Equal(decimal.NewFromInt(1)))
	require.True(t, snap.TotalInBase.Equal(d("118.00")))
}

func TestSnapshotWithoutRateIsEmpty(t *testing.T) {
	f := newFixture(t)
	snap, err := f.svc.ResolveSnapshot(f.ctx, testOrg, "EUR", d("100.00"))
	require.NoError(t, err)
	require.True(t, snap.Missing())
	require.Nil(t, snap.TotalInBase)
}

func TestSnapshotUsesLatestRate(t *testing.T) {
	f := newFixture(t)
	older := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.Upsert(f.ctx, domain.UpsertExchangeRateRequest{FromCurrency: "EUR", Rate: d("1.05"), EffectiveDate: &older})
	require.NoError(t, err)
	_, err = f.svc.Upsert(f.ctx, domain.UpsertExchangeRateRequest{FromCurrency: "EUR", Rate: d("1.0834567")})
	require.NoError(t, err)

	snap, err := f.svc.ResolveSnapshot(f.ctx, testOrg, "EUR", d("99.99"))
	require.NoError(t, err)
	require.True(t, snap.RateToBase.Equal(d("1.083457")), snap.RateToBase.String())
	// 99.99 * 1.083457 = 108.33486...
	require.True(t, snap.TotalInBase.Equal(d("108.33")), snap.TotalInBase.String())
}

func TestSnapshotDegradesOnLookupFailure(t *testing.T) {
	f := newFixture(t)

	f.base.err = errors.New("timeout")
	snap, err := f.svc.ResolveSnapshot(f.ctx, testOrg, "EUR", d("10"))
	require.NoError(t, err)
	require.True(t, snap.Missing())

	f.base.err = nil
	f.svc.repo = failingRepo{Repository: f.svc.repo}
	snap, err = f.svc.ResolveSnapshot(f.ctx, testOrg, "EUR", d("10"))
	require.NoError(t, err)
	require.True(t, snap.Missing())
}

func TestSnapshotRejectsMalformedInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ResolveSnapshot(f.ctx, 0, "EUR", d("1"))
	require.ErrorIs(t, err, domain.ErrInvalidOrganization)
	_, err = f.svc.ResolveSnapshot(f.ctx, testOrg, "EURO", d("1"))
	require.ErrorIs(t, err, domain.ErrInvalidCurrency)
}

func TestUpsertSameDayOverwrites(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Upsert(f.ctx, domain.UpsertExchangeRateRequest{FromCurrency: "gbp", Rate: d("1.25")})
	require.NoError(t, err)
	second, err := f.svc.Upsert(f.ctx, domain.UpsertExchangeRateRequest{FromCurrency: "GBP", Rate: d("1.27")})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.True(t, second.Rate.Equal(d("1.27")))

	list, err := f.svc.List(f.ctx, domain.ListExchangeRateRequest{Currency: "GBP"})
	require.NoError(t, err)
	require.Equal(t, "USD", list.BaseCurrency)
	require.Len(t, list.Rates, 1)

	current, err := f.svc.GetCurrentRate(f.ctx, "GBP")
	require.NoError(t, err)
	require.True(t, current.Rate.Equal(d("1.27")))

	require.Len(t, f.audit.Actions("exchange_rate.upserted"), 2)
}

func TestUpsertLogsAuditFailure(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zapcore.WarnLevel)
	f.svc.log = zap.New(core)
	f.audit.Err = errors.New("audit store unavailable")

	rate, err := f.svc.Upsert(f.ctx, domain.UpsertExchangeRateRequest{FromCurrency: "EUR", Rate: d("1.10")})
	require.NoError(t, err)
	require.True(t, rate.Rate.Equal(d("1.10")))

	entries := logs.FilterMessage("failed to record exchange rate audit").All()
	require.Len(t, entries, 1)
	require.Equal(t, "EUR", entries[0].ContextMap()["from_currency"])
}

func TestUpsertValidation(t *testing.T) {
	f := newFixture(t)
	tomorrow := f.clock.Now().Add(24 * time.Hour)

	_, err := f.svc.Upsert(f.ctx, domain.UpsertExchangeRateRequest{FromCurrency: "USD", Rate: d("1")})
	require.ErrorIs(t, err, domain.ErrBaseCurrencyRate)
	_, err = f.svc.Upsert(f.ctx, domain.UpsertExchangeRateRequest{FromCurrency: "EUR", Rate: d("0")})
	require.ErrorIs(t, err, domain.ErrInvalidRate)
	_, err = f.svc.Upsert(f.ctx, domain.UpsertExchangeRateRequest{FromCurrency: "EUR", Rate: d("0.0000001")})
	require.ErrorIs(t, err, domain.ErrInvalidRate)
	_, err = f.svc.Upsert(f.ctx, domain.UpsertExchangeRateRequest{FromCurrency: "E1R", Rate: d("1")})
	require.ErrorIs(t, err, domain.ErrInvalidCurrency)
	_, err = f.svc.Upsert(f.ctx, domain.UpsertExchangeRateRequest{FromCurrency: "EUR", Rate: d("1"), EffectiveDate: &tomorrow})
	require.ErrorIs(t, err, domain.ErrInvalidEffectiveDate)
	_, err = f.svc.Upsert(context.Background(), domain.UpsertExchangeRateRequest{FromCurrency: "EUR", Rate: d("1")})
	require.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func TestGetCurrentRate(t *testing.T) {
	f := newFixture(t)

	base, err := f.svc.GetCurrentRate(f.ctx, "USD")
	require.NoError(t, err)
	require.True(t, base.Rate.Equal(decimal.NewFromInt(1)))

	_, err = f.svc.GetCurrentRate(f.ctx, "JPY")
	require.ErrorIs(t, err, domain.ErrExchangeRateNotFound)
}
