package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/payment/domain"
	"github.com/smallbiznis/invoicing/pkg/db/option"
	"gorm.io/gorm"
)

const paymentColumns = `id, org_id, invoice_id, amount, currency, method, payment_date,
	reference, notes, idempotency_key, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM payments WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, db,
		`SELECT `+paymentColumns+` FROM payments WHERE org_id = ? AND id = ? LIMIT 1`,
		orgID, id,
	)
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*domain.Payment, error) {
	return r.findOne(ctx, db,
		`SELECT `+paymentColumns+` FROM payments WHERE org_id = ? AND idempotency_key = ? LIMIT 1`,
		orgID, key,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Payment, error) {
	var item domain.Payment
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error; err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ListPaymentFilter) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	stmt := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("org_id = ?", orgID)
	if filter.InvoiceID != 0 {
		stmt = stmt.Where("invoice_id = ?", filter.InvoiceID)
	}
	if filter.Cursor != nil {
		stmt = option.BeforeCursor(filter.Cursor.CreatedAt, filter.Cursor.ID).Apply(stmt)
	}
	if filter.Limit > 0 {
		stmt = option.WithLimit(filter.Limit + 1).Apply(stmt)
	}
	if err := stmt.Order("created_at desc, id desc").Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

// SumByInvoice totals the invoice's payments, leaving out excludeID when set.
func (r *repo) SumByInvoice(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID, excludeID snowflake.ID) (decimal.Decimal, int64, error) {
	var row struct {
		Amount decimal.Decimal
		Count  int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) AS amount, COUNT(1) AS count
		 FROM payments
		 WHERE org_id = ? AND invoice_id = ? AND id <> ?`,
		orgID,
		invoiceID,
		excludeID,
	).Scan(&row).Error
	if err != nil {
		return decimal.Zero, 0, err
	}
	// SQLite sums NUMERIC columns as REAL.
	return invoicedomain.Round2(row.Amount), row.Count, nil
}
