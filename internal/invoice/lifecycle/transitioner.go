// Package lifecycle owns every write to an invoice's status column.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
	"github.com/smallbiznis/invoicing/internal/auditcontext"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Metrics  *metrics.Metrics    `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
}

type Transitioner struct {
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	metrics  *metrics.Metrics
	auditSvc auditdomain.Service
}

func NewTransitioner(p Params) *Transitioner {
	return &Transitioner{
		log:      p.Log.Named("invoice.lifecycle"),
		genID:    p.GenID,
		clock:    p.Clock,
		metrics:  p.Metrics,
		auditSvc: p.AuditSvc,
	}
}

type Request struct {
	Invoice *domain.Invoice
	To      domain.InvoiceStatus
	Trigger domain.Trigger
	Reason  string
}

// Transition moves req.Invoice to req.To inside tx. The update is conditional on
// the status the caller read, so a concurrent writer surfaces as
// ErrConcurrentModification instead of a lost update. On success the invoice is
// updated in place and the history row is returned; call Announce with it after
// the transaction commits.
func (t *Transitioner) Transition(ctx context.Context, tx *gorm.DB, req Request) (*domain.InvoiceStatusTransition, error) {
	inv := req.Invoice
	if inv == nil || inv.ID == 0 {
		return nil, domain.ErrInvoiceNotFound
	}
	from := inv.Status
	if err := domain.CanTransition(from, req.To, req.Trigger); err != nil {
		return nil, err
	}

	now := t.clock.Now().UTC()
	updates := map[string]any{
		"status":     req.To,
		"updated_at": now,
	}
	switch req.To {
	case domain.InvoiceStatusSent:
		if inv.SentAt == nil {
			updates["sent_at"] = now
		}
		if from == domain.InvoiceStatusPaid {
			updates["paid_at"] = nil
		}
	case domain.InvoiceStatusPaid:
		updates["paid_at"] = now
	case domain.InvoiceStatusOverdue:
		if from == domain.InvoiceStatusPaid {
			updates["paid_at"] = nil
		}
	}

	result := tx.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("id = ? AND org_id = ? AND status = ?", inv.ID, inv.OrgID, from).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("update invoice status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrConcurrentModification
	}

	actorType, actorID := actorFromContext(ctx)
	record := &domain.InvoiceStatusTransition{
		ID:         t.genID.Generate(),
		OrgID:      inv.OrgID,
		InvoiceID:  inv.ID,
		FromStatus: from,
		ToStatus:   req.To,
		Trigger:    req.Trigger,
		ActorType:  actorType,
		ActorID:    actorID,
		Reason:     req.Reason,
		CreatedAt:  now,
	}
	if err := tx.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("record status transition: %w", err)
	}

	applyInMemory(inv, req.To, now, updates)
	return record, nil
}

// Announce emits metrics and audit entries for committed transitions.
func (t *Transitioner) Announce(ctx context.Context, records ...*domain.InvoiceStatusTransition) {
	for _, rec := range records {
		if rec == nil {
			continue
		}
		t.metrics.RecordStatusTransition(ctx, string(rec.FromStatus), string(rec.ToStatus), string(rec.Trigger))
		t.log.Info("invoice status changed",
			zap.String("org_id", rec.OrgID.String()),
			zap.String("invoice_id", rec.InvoiceID.String()),
			zap.String("from", string(rec.FromStatus)),
			zap.String("to", string(rec.ToStatus)),
			zap.String("trigger", string(rec.Trigger)),
		)
		if t.auditSvc == nil {
			continue
		}
		orgID := rec.OrgID
		target := rec.InvoiceID.String()
		err := t.auditSvc.AuditLog(ctx, &orgID, rec.ActorType, rec.ActorID, "invoice.status_changed", "invoice", &target, map[string]any{
			"old_status": string(rec.FromStatus),
			"new_status": string(rec.ToStatus),
			"trigger":    string(rec.Trigger),
			"reason":     rec.Reason,
		})
		if err != nil {
			t.log.Warn("failed to record status audit", zap.Error(err))
		}
	}
}

func applyInMemory(inv *domain.Invoice, to domain.InvoiceStatus, now time.Time, updates map[string]any) {
	inv.Status = to
	inv.UpdatedAt = now
	if _, ok := updates["sent_at"]; ok {
		sentAt := now
		inv.SentAt = &sentAt
	}
	if value, ok := updates["paid_at"]; ok {
		if value == nil {
			inv.PaidAt = nil
		} else {
			paidAt := now
			inv.PaidAt = &paidAt
		}
	}
}

func actorFromContext(ctx context.Context) (string, *string) {
	actor, ok := auditcontext.ActorFromContext(ctx)
	if !ok || actor.Type == "" {
		return auditdomain.ActorTypeSystem, nil
	}
	if actor.ID == "" {
		return actor.Type, nil
	}
	id := actor.ID
	return actor.Type, &id
}
