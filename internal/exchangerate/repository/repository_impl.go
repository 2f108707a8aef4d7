package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/exchangerate/domain"
	"github.com/smallbiznis/invoicing/pkg/db/option"
	"github.com/smallbiznis/invoicing/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var latestFirst = option.WithSortBy(option.QuerySortBy{
	Field: "effective_date",
	Desc:  true,
	Allow: map[string]bool{"effective_date": true},
})

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Upsert writes the rate for its effective day, replacing an existing row for the same pair and day.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, rate *domain.ExchangeRate) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "org_id"},
			{Name: "from_currency"},
			{Name: "to_currency"},
			{Name: "effective_date"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"rate", "updated_at"}),
	}).Create(rate).Error
}

func (r *repo) Latest(ctx context.Context, db *gorm.DB, orgID snowflake.ID, from, to string) (*domain.ExchangeRate, error) {
	return repository.ProvideStore[domain.ExchangeRate](db).FindOne(ctx, &domain.ExchangeRate{
		OrgID:        orgID,
		FromCurrency: from,
		ToCurrency:   to,
	}, latestFirst)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, to string, from string, limit int) ([]*domain.ExchangeRate, error) {
	return repository.ProvideStore[domain.ExchangeRate](db).Find(ctx, &domain.ExchangeRate{
		OrgID:        orgID,
		FromCurrency: from,
		ToCurrency:   to,
	}, latestFirst, option.WithLimit(limit))
}
