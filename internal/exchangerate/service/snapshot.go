package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicing/internal/exchangerate/domain"
	"github.com/smallbiznis/invoicing/pkg/currency"
	"go.uber.org/zap"
)

const (
	snapshotReasonNoRate       = "no_rate"
	snapshotReasonLookupFailed = "lookup_failed"
	snapshotReasonNoBase       = "base_currency_unavailable"
)

// ResolveSnapshot freezes the conversion of total into the organization's base
// currency using the latest stored rate. Lookup failures degrade to an empty
// snapshot; only malformed arguments return an error.
func (s *Service) ResolveSnapshot(ctx context.Context, orgID snowflake.ID, code string, total decimal.Decimal) (domain.Snapshot, error) {
	if orgID == 0 {
		return domain.Snapshot{}, domain.ErrInvalidOrganization
	}
	code, err := currency.Normalize(code)
	if err != nil {
		return domain.Snapshot{}, domain.ErrInvalidCurrency
	}

	base, err := s.base.BaseCurrency(ctx, orgID)
	if err != nil {
		s.log.Warn("base currency lookup failed, invoice stored without snapshot",
			zap.String("org_id", orgID.String()),
			zap.String("currency", code),
			zap.Error(err),
		)
		s.metrics.RecordSnapshotMissing(ctx, code, snapshotReasonNoBase)
		return domain.Snapshot{}, nil
	}

	if code == base {
		one := decimal.NewFromInt(1)
		inBase := total.Round(2)
		return domain.Snapshot{RateToBase: &one, TotalInBase: &inBase}, nil
	}

	row, err := s.repo.Latest(ctx, s.db, orgID, code, base)
	if err != nil {
		s.log.Warn("exchange rate lookup failed, invoice stored without snapshot",
			zap.String("org_id", orgID.String()),
			zap.String("currency", code),
			zap.String("base_currency", base),
			zap.Error(err),
		)
		s.metrics.RecordSnapshotMissing(ctx, code, snapshotReasonLookupFailed)
		return domain.Snapshot{}, nil
	}
	if row == nil {
		s.metrics.RecordSnapshotMissing(ctx, code, snapshotReasonNoRate)
		return domain.Snapshot{}, nil
	}

	rate := row.Rate.Round(domain.RatePlaces)
	inBase := total.Mul(rate).Round(2)
	return domain.Snapshot{RateToBase: &rate, TotalInBase: &inBase}, nil
}
