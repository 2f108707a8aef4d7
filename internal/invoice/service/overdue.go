package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
	"github.com/smallbiznis/invoicing/internal/auditcontext"
	"github.com/smallbiznis/invoicing/internal/authorization"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/invoice/lifecycle"
	"github.com/smallbiznis/invoicing/pkg/rls"
	"github.com/smallbiznis/invoicing/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errSkipped = errors.New("skipped")

// SweepOverdue marks one organization's past-due SENT invoices OVERDUE on
// behalf of the calling actor.
func (s *Service) SweepOverdue(ctx context.Context, orgID snowflake.ID) (domain.SweepResult, error) {
	if orgID == 0 {
		return domain.SweepResult{}, domain.ErrInvalidOrganization
	}
	subject, ok := authorization.SubjectFromContext(ctx)
	if !ok {
		return domain.SweepResult{}, authorization.ErrInvalidActor
	}
	if err := s.authz.Authorize(ctx, subject, orgID.String(), authorization.ObjectInvoice, authorization.ActionInvoiceSweep); err != nil {
		return domain.SweepResult{}, err
	}
	return s.sweep(ctx, orgID)
}

// SweepOverdueAll runs the sweep across every organization as the system actor.
func (s *Service) SweepOverdueAll(ctx context.Context) (domain.SweepResult, error) {
	ctx = auditcontext.WithActor(ctx, auditdomain.ActorTypeSystem, "")
	return s.sweep(ctx, 0)
}

func (s *Service) sweep(ctx context.Context, orgID snowflake.ID) (domain.SweepResult, error) {
	ctx, correlationID := correlation.EnsureCorrelationID(ctx)
	log := s.log.With(zap.String("correlation_id", correlationID))
	if orgID != 0 {
		log = log.With(zap.String("org_id", orgID.String()))
	}

	today := clock.Today(s.clock)
	batchSize := s.engine.Get().Sweep.BatchSize

	var (
		result  domain.SweepResult
		afterID snowflake.ID
	)
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		candidates, err := s.repo.ListOverdueCandidates(ctx, s.db, domain.OverdueFilter{
			OrgID:     orgID,
			DueBefore: today,
			AfterID:   afterID,
			Limit:     batchSize,
		})
		if err != nil {
			return result, err
		}

		for _, candidate := range candidates {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			afterID = candidate.ID
			result.Scanned++

			record, err := s.markOverdue(ctx, candidate.ID)
			switch {
			case err == nil:
				result.Transitioned++
				s.transitioner.Announce(ctx, record)
			case errors.Is(err, errSkipped) || isBenign(err):
				result.Skipped++
			default:
				result.Failed++
				log.Warn("overdue transition failed",
					zap.String("invoice_id", candidate.ID.String()),
					zap.Error(err),
				)
			}
		}

		if len(candidates) < batchSize {
			break
		}
	}

	log.Info("overdue sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("transitioned", result.Transitioned),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (s *Service) markOverdue(ctx context.Context, invoiceID snowflake.ID) (*domain.InvoiceStatusTransition, error) {
	var record *domain.InvoiceStatusTransition
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.LockOverdueCandidate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return errSkipped
		}
		if err := rls.WithTenant(tx, invoice.OrgID); err != nil {
			return err
		}
		record, err = s.transitioner.Transition(ctx, tx, lifecycle.Request{
			Invoice: invoice,
			To:      domain.InvoiceStatusOverdue,
			Trigger: domain.TriggerSweeper,
			Reason:  "due date passed",
		})
		return err
	})
	return record, err
}
