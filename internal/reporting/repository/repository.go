package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/invoicing/internal/reporting/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) TotalsByStatusCurrency(ctx context.Context, db *gorm.DB, q domain.Query) ([]domain.StatusCurrencyTotal, error) {
	var rows []domain.StatusCurrencyTotal
	err := scoped(ctx, db, q).
		Select(`status, currency,
			COUNT(1) AS count,
			COALESCE(SUM(total), 0) AS total,
			COALESCE(SUM(total_in_base_currency), 0) AS base_total,
			SUM(CASE WHEN total_in_base_currency IS NULL THEN 1 ELSE 0 END) AS unsnapshotted,
			COALESCE(SUM(CASE WHEN total_in_base_currency IS NULL THEN total ELSE 0 END), 0) AS unsnapshotted_total`).
		Group("status, currency").
		Order("status, currency").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListUnsnapshotted(ctx context.Context, db *gorm.DB, q domain.Query, base string) ([]domain.InvoiceRow, error) {
	var rows []domain.InvoiceRow
	err := scoped(ctx, db, q).
		Select("id, invoice_number, currency, status, total, total_in_base_currency, issue_date").
		Where("total_in_base_currency IS NULL").
		Where("currency <> ?", base).
		Order("issue_date ASC, id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ListIssuedBetween(ctx context.Context, db *gorm.DB, q domain.Query, start, end time.Time) ([]domain.InvoiceRow, error) {
	var rows []domain.InvoiceRow
	err := scoped(ctx, db, q).
		Select("id, invoice_number, currency, status, total, total_in_base_currency, issue_date").
		Where("issue_date >= ? AND issue_date < ?", start, end).
		Order("issue_date ASC, id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func scoped(ctx context.Context, db *gorm.DB, q domain.Query) *gorm.DB {
	stmt := db.WithContext(ctx).Table("invoices").Where("org_id = ?", q.OrgID)
	if q.CustomerID != 0 {
		stmt = stmt.Where("customer_id = ?", q.CustomerID)
	}
	if q.Currency != "" {
		stmt = stmt.Where("currency = ?", q.Currency)
	}
	if q.From != nil {
		stmt = stmt.Where("issue_date >= ?", *q.From)
	}
	if q.To != nil {
		stmt = stmt.Where("issue_date <= ?", *q.To)
	}
	return stmt
}
