// Package testing holds helpers for exercising scheduler jobs against a real
// database without waiting for wall-clock time to pass.
package testing

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/invoicing/internal/invoice/domain"
	"gorm.io/gorm"
)

// TimeAccelerator moves invoice due dates into the past so the overdue sweep
// picks them up on its next run.
type TimeAccelerator struct {
	db  *gorm.DB
	now func() time.Time
}

func NewTimeAccelerator(db *gorm.DB, now func() time.Time) *TimeAccelerator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &TimeAccelerator{db: db, now: now}
}

func (ta *TimeAccelerator) yesterday() time.Time {
	now := ta.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

// ExpireInvoice sets the due date of a SENT invoice to yesterday.
func (ta *TimeAccelerator) ExpireInvoice(ctx context.Context, invoiceID snowflake.ID) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET due_date = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		ta.yesterday(),
		ta.now().UTC(),
		invoiceID,
		invoicedomain.InvoiceStatusSent,
	).Error
}

// ExpireAllSent expires every SENT invoice of the organization that is not yet due.
func (ta *TimeAccelerator) ExpireAllSent(ctx context.Context, orgID snowflake.ID) (int64, error) {
	yesterday := ta.yesterday()
	result := ta.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET due_date = ?, updated_at = ?
		 WHERE org_id = ? AND status = ? AND due_date > ?`,
		yesterday,
		ta.now().UTC(),
		orgID,
		invoicedomain.InvoiceStatusSent,
		yesterday,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
