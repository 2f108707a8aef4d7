package domain

// Trigger names the write path that drives a status change.
type Trigger string

const (
	TriggerUser    Trigger = "user"
	TriggerPayment Trigger = "payment"
	TriggerSweeper Trigger = "sweeper"
)

type edge struct {
	from InvoiceStatus
	to   InvoiceStatus
}

// transitions is the single legal-transition table. Every status write checks it.
var transitions = map[edge]Trigger{
	{InvoiceStatusDraft, InvoiceStatusSent}:        TriggerUser,
	{InvoiceStatusSent, InvoiceStatusPaid}:         TriggerPayment,
	{InvoiceStatusOverdue, InvoiceStatusPaid}:      TriggerPayment,
	{InvoiceStatusPaid, InvoiceStatusSent}:         TriggerPayment,
	{InvoiceStatusPaid, InvoiceStatusOverdue}:      TriggerPayment,
	{InvoiceStatusSent, InvoiceStatusOverdue}:      TriggerSweeper,
	{InvoiceStatusDraft, InvoiceStatusCancelled}:   TriggerUser,
	{InvoiceStatusSent, InvoiceStatusCancelled}:    TriggerUser,
	{InvoiceStatusOverdue, InvoiceStatusCancelled}: TriggerUser,
}

// CanTransition returns ErrInvalidTransition unless trigger may move an invoice from one status to another.
func CanTransition(from, to InvoiceStatus, trigger Trigger) error {
	if !from.Valid() || !to.Valid() {
		return ErrInvalidStatus
	}
	allowed, ok := transitions[edge{from, to}]
	if !ok || allowed != trigger {
		return ErrInvalidTransition
	}
	return nil
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status InvoiceStatus) bool {
	for e := range transitions {
		if e.from == status {
			return false
		}
	}
	return true
}

// EnsureEditable guards item and total mutations.
func EnsureEditable(status InvoiceStatus) error {
	if status != InvoiceStatusDraft {
		return ErrCannotEdit
	}
	return nil
}

// EnsureDeletable guards invoice deletion.
func EnsureDeletable(status InvoiceStatus) error {
	if status != InvoiceStatusDraft && status != InvoiceStatusCancelled {
		return ErrCannotDelete
	}
	return nil
}

// IsOutstanding reports whether the invoice has been issued and is awaiting payment.
func IsOutstanding(status InvoiceStatus) bool {
	return status == InvoiceStatusSent || status == InvoiceStatusOverdue
}
