package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct {
		from, to InvoiceStatus
		trigger  Trigger
	}{
		{InvoiceStatusDraft, InvoiceStatusSent, TriggerUser},
		{InvoiceStatusSent, InvoiceStatusPaid, TriggerPayment},
		{InvoiceStatusOverdue, InvoiceStatusPaid, TriggerPayment},
		{InvoiceStatusPaid, InvoiceStatusSent, TriggerPayment},
		{InvoiceStatusPaid, InvoiceStatusOverdue, TriggerPayment},
		{InvoiceStatusSent, InvoiceStatusOverdue, TriggerSweeper},
		{InvoiceStatusDraft, InvoiceStatusCancelled, TriggerUser},
		{InvoiceStatusSent, InvoiceStatusCancelled, TriggerUser},
		{InvoiceStatusOverdue, InvoiceStatusCancelled, TriggerUser},
	}
	for _, tc := range allowed {
		require.NoError(t, CanTransition(tc.from, tc.to, tc.trigger), "%s -> %s by %s", tc.from, tc.to, tc.trigger)
	}

	denied := []struct {
		from, to InvoiceStatus
		trigger  Trigger
	}{
		{InvoiceStatusSent, InvoiceStatusOverdue, TriggerUser},
		{InvoiceStatusSent, InvoiceStatusPaid, TriggerUser},
		{InvoiceStatusDraft, InvoiceStatusPaid, TriggerPayment},
		{InvoiceStatusPaid, InvoiceStatusCancelled, TriggerUser},
		{InvoiceStatusCancelled, InvoiceStatusDraft, TriggerUser},
		{InvoiceStatusCancelled, InvoiceStatusSent, TriggerUser},
		{InvoiceStatusSent, InvoiceStatusDraft, TriggerUser},
		{InvoiceStatusOverdue, InvoiceStatusOverdue, TriggerSweeper},
	}
	for _, tc := range denied {
		require.ErrorIs(t, CanTransition(tc.from, tc.to, tc.trigger), ErrInvalidTransition, "%s -> %s by %s", tc.from, tc.to, tc.trigger)
	}

	require.ErrorIs(t, CanTransition("ARCHIVED", InvoiceStatusSent, TriggerUser), ErrInvalidStatus)
}

func TestGuards(t *testing.T) {
	require.NoError(t, EnsureEditable(InvoiceStatusDraft))
	for _, status := range []InvoiceStatus{InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled} {
		require.ErrorIs(t, EnsureEditable(status), ErrCannotEdit)
	}

	require.NoError(t, EnsureDeletable(InvoiceStatusDraft))
	require.NoError(t, EnsureDeletable(InvoiceStatusCancelled))
	for _, status := range []InvoiceStatus{InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusOverdue} {
		require.ErrorIs(t, EnsureDeletable(status), ErrCannotDelete)
	}
}

func TestCancelledIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(InvoiceStatusCancelled))
	require.False(t, IsTerminal(InvoiceStatusPaid))
	require.False(t, IsTerminal(InvoiceStatusDraft))
}
