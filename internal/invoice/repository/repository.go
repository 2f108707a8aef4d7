package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	pkgdb "github.com/smallbiznis/invoicing/pkg/db"
	"github.com/smallbiznis/invoicing/pkg/db/option"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const invoiceColumns = `id, org_id, customer_id, invoice_number, currency, issue_date, due_date,
	discount_type, discount_value, discount_amount, tax_rate, subtotal, tax_amount, total,
	exchange_rate_to_base, total_in_base_currency, status, notes, sent_at, paid_at,
	created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	if err := db.WithContext(ctx).Create(invoice).Error; err != nil {
		return err
	}
	return r.insertItems(ctx, db, invoice.Items)
}

// UpdateDraft rewrites the editable columns. The status guard keeps a
// concurrent send from being overwritten.
func (r *repo) UpdateDraft(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET customer_id = ?, currency = ?, issue_date = ?, due_date = ?,
		     discount_type = ?, discount_value = ?, discount_amount = ?,
		     tax_rate = ?, subtotal = ?, tax_amount = ?, total = ?,
		     exchange_rate_to_base = ?, total_in_base_currency = ?,
		     notes = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND status = ?`,
		invoice.CustomerID, invoice.Currency, invoice.IssueDate, invoice.DueDate,
		invoice.DiscountType, invoice.DiscountValue, invoice.DiscountAmount,
		invoice.TaxRate, invoice.Subtotal, invoice.TaxAmount, invoice.Total,
		invoice.ExchangeRateToBase, invoice.TotalInBaseCurrency,
		invoice.Notes, invoice.UpdatedAt,
		invoice.OrgID, invoice.ID, domain.InvoiceStatusDraft,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentModification
	}
	return nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error {
	for _, table := range []string{"invoice_items", "invoice_status_transitions"} {
		if err := db.WithContext(ctx).Exec(
			`DELETE FROM `+table+` WHERE org_id = ? AND invoice_id = ?`, orgID, id,
		).Error; err != nil {
			return err
		}
	}
	result := db.WithContext(ctx).Exec(
		`DELETE FROM invoices WHERE org_id = ? AND id = ?`, orgID, id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrInvoiceNotFound
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Invoice, error) {
	return r.findOne(ctx, db,
		`SELECT `+invoiceColumns+` FROM invoices WHERE org_id = ? AND id = ?`,
		orgID, id,
	)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Invoice, error) {
	return r.findOne(ctx, db,
		`SELECT `+invoiceColumns+` FROM invoices WHERE org_id = ? AND id = ?`+pkgdb.RowLock(db, false),
		orgID, id,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Invoice, error) {
	var invoice domain.Invoice
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&invoice).Error; err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ListInvoiceFilter) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	stmt := db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("org_id = ?", orgID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.CustomerID != 0 {
		stmt = stmt.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.Cursor != nil {
		stmt = option.BeforeCursor(filter.Cursor.CreatedAt, filter.Cursor.ID).Apply(stmt)
	}
	if filter.Limit > 0 {
		stmt = option.WithLimit(filter.Limit + 1).Apply(stmt)
	}
	if err := stmt.Order("created_at desc, id desc").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) ReplaceItems(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	if err := db.WithContext(ctx).Exec(
		`DELETE FROM invoice_items WHERE org_id = ? AND invoice_id = ?`,
		invoice.OrgID, invoice.ID,
	).Error; err != nil {
		return err
	}
	return r.insertItems(ctx, db, invoice.Items)
}

func (r *repo) insertItems(ctx context.Context, db *gorm.DB, items []domain.InvoiceItem) error {
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(items, 100).Error
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) ([]domain.InvoiceItem, error) {
	var items []domain.InvoiceItem
	err := db.WithContext(ctx).
		Where("org_id = ? AND invoice_id = ?", orgID, invoiceID).
		Order("position asc").
		Find(&items).Error
	return items, err
}

func (r *repo) ListTransitions(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) ([]domain.InvoiceStatusTransition, error) {
	var rows []domain.InvoiceStatusTransition
	err := db.WithContext(ctx).
		Where("org_id = ? AND invoice_id = ?", orgID, invoiceID).
		Order("created_at asc, id asc").
		Find(&rows).Error
	return rows, err
}

// NextSequence must run inside the create transaction: the UPDATE holds the
// counter row lock until commit, so concurrent creators queue behind it.
func (r *repo) NextSequence(ctx context.Context, db *gorm.DB, orgID snowflake.ID, year int, now time.Time) (int64, error) {
	seed := domain.InvoiceSequence{OrgID: orgID, Year: year, LastValue: 0, UpdatedAt: now}
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error; err != nil {
		return 0, err
	}

	if err := db.WithContext(ctx).Exec(
		`UPDATE invoice_sequences
		 SET last_value = last_value + 1, updated_at = ?
		 WHERE org_id = ? AND year = ?`,
		now, orgID, year,
	).Error; err != nil {
		return 0, err
	}

	var value int64
	if err := db.WithContext(ctx).Raw(
		`SELECT last_value FROM invoice_sequences WHERE org_id = ? AND year = ?`,
		orgID, year,
	).Scan(&value).Error; err != nil {
		return 0, err
	}
	return value, nil
}

func (r *repo) ListOverdueCandidates(ctx context.Context, db *gorm.DB, filter domain.OverdueFilter) ([]*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		 FROM invoices
		 WHERE status = ? AND due_date < ? AND id > ?`
	args := []any{domain.InvoiceStatusSent, filter.DueBefore, filter.AfterID}
	if filter.OrgID != 0 {
		query += ` AND org_id = ?`
		args = append(args, filter.OrgID)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, filter.Limit)

	var invoices []*domain.Invoice
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// LockOverdueCandidate returns nil when the row is no longer SENT or another
// sweeper already holds it.
func (r *repo) LockOverdueCandidate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return r.findOne(ctx, db,
		`SELECT `+invoiceColumns+`
		 FROM invoices
		 WHERE id = ? AND status = ?`+pkgdb.RowLock(db, true),
		id, domain.InvoiceStatusSent,
	)
}

func (r *repo) PaymentTotals(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) (domain.PaymentTotals, error) {
	var totals domain.PaymentTotals
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) AS count, COALESCE(SUM(amount), 0) AS amount
		 FROM payments
		 WHERE org_id = ? AND invoice_id = ?`,
		orgID, invoiceID,
	).Scan(&totals).Error
	totals.Amount = domain.Round2(totals.Amount)
	return totals, err
}
