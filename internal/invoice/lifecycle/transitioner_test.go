package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicing/internal/audit/audittest"
	"github.com/smallbiznis/invoicing/internal/auditcontext"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/dbtest"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setup(t *testing.T, status domain.InvoiceStatus) (*Transitioner, *gorm.DB, *domain.Invoice, *audittest.Recorder) {
	t.Helper()
	db := dbtest.Open(t, &domain.Invoice{}, &domain.InvoiceStatusTransition{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	recorder := &audittest.Recorder{}
	now := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

	inv := &domain.Invoice{
		ID:            node.Generate(),
		OrgID:         7,
		CustomerID:    8,
		InvoiceNumber: "INV-2025-0001",
		Currency:      "USD",
		IssueDate:     clock.StartOfDay(now),
		DueDate:       clock.StartOfDay(now).AddDate(0, 0, 30),
		Total:         decimal.RequireFromString("10.00"),
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, db.Create(inv).Error)

	tr := NewTransitioner(Params{
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(now),
		AuditSvc: recorder,
	})
	return tr, db, inv, recorder
}

func TestTransitionWritesStatusAndHistory(t *testing.T) {
	tr, db, inv, recorder := setup(t, domain.InvoiceStatusDraft)
	ctx := auditcontext.WithActor(context.Background(), "user", "99")

	var rec *domain.InvoiceStatusTransition
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		rec, err = tr.Transition(ctx, tx, Request{Invoice: inv, To: domain.InvoiceStatusSent, Trigger: domain.TriggerUser})
		return err
	})
	require.NoError(t, err)
	tr.Announce(ctx, rec)

	require.Equal(t, domain.InvoiceStatusSent, inv.Status)
	require.NotNil(t, inv.SentAt)

	var stored domain.Invoice
	require.NoError(t, db.First(&stored, "id = ?", inv.ID).Error)
	require.Equal(t, domain.InvoiceStatusSent, stored.Status)

	var history []domain.InvoiceStatusTransition
	require.NoError(t, db.Where("invoice_id = ?", inv.ID).Find(&history).Error)
	require.Len(t, history, 1)
	require.Equal(t, domain.InvoiceStatusDraft, history[0].FromStatus)
	require.Equal(t, "user", history[0].ActorType)
	require.Equal(t, "99", *history[0].ActorID)

	entries := recorder.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "invoice.status_changed", entries[0].Action)
	require.Equal(t, "DRAFT", entries[0].Metadata["old_status"])
	require.Equal(t, "SENT", entries[0].Metadata["new_status"])
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	tr, db, inv, _ := setup(t, domain.InvoiceStatusSent)

	_, err := tr.Transition(context.Background(), db, Request{Invoice: inv, To: domain.InvoiceStatusOverdue, Trigger: domain.TriggerUser})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	require.Equal(t, domain.InvoiceStatusSent, inv.Status)
}

func TestTransitionDetectsStaleRead(t *testing.T) {
	tr, db, inv, _ := setup(t, domain.InvoiceStatusSent)

	require.NoError(t, db.Model(&domain.Invoice{}).Where("id = ?", inv.ID).Update("status", domain.InvoiceStatusCancelled).Error)

	_, err := tr.Transition(context.Background(), db, Request{Invoice: inv, To: domain.InvoiceStatusOverdue, Trigger: domain.TriggerSweeper})
	require.ErrorIs(t, err, domain.ErrConcurrentModification)

	var count int64
	require.NoError(t, db.Model(&domain.InvoiceStatusTransition{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestPaymentReversalClearsPaidAt(t *testing.T) {
	tr, db, inv, _ := setup(t, domain.InvoiceStatusSent)
	ctx := context.Background()

	_, err := tr.Transition(ctx, db, Request{Invoice: inv, To: domain.InvoiceStatusPaid, Trigger: domain.TriggerPayment})
	require.NoError(t, err)
	require.NotNil(t, inv.PaidAt)

	rec, err := tr.Transition(ctx, db, Request{Invoice: inv, To: domain.InvoiceStatusOverdue, Trigger: domain.TriggerPayment})
	require.NoError(t, err)
	require.Nil(t, inv.PaidAt)
	require.Equal(t, "system", rec.ActorType)

	var stored domain.Invoice
	require.NoError(t, db.First(&stored, "id = ?", inv.ID).Error)
	require.Nil(t, stored.PaidAt)
	require.Equal(t, domain.InvoiceStatusOverdue, stored.Status)
}
