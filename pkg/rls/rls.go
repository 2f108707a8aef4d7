// Package rls scopes a transaction to one tenant for PostgreSQL row-level security policies.
package rls

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/pkg/db"
	"gorm.io/gorm"
)

// WithTenant sets app.current_org_id for the remainder of tx. Other dialects are left untouched.
func WithTenant(tx *gorm.DB, orgID snowflake.ID) error {
	if !db.IsPostgres(tx) {
		return nil
	}
	return tx.Exec("SELECT set_config('app.current_org_id', ?, true)", orgID.String()).Error
}
