package migration

import (
	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
	customerdomain "github.com/smallbiznis/invoicing/internal/customer/domain"
	exchangeratedomain "github.com/smallbiznis/invoicing/internal/exchangerate/domain"
	invoicedomain "github.com/smallbiznis/invoicing/internal/invoice/domain"
	organizationdomain "github.com/smallbiznis/invoicing/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/invoicing/internal/payment/domain"
	"gorm.io/gorm"
)

// Models lists every persisted type, in dependency order.
func Models() []any {
	return []any{
		&organizationdomain.Organization{},
		&organizationdomain.OrganizationMember{},
		&organizationdomain.OrganizationBillingPreferences{},
		&customerdomain.Customer{},
		&auditdomain.AuditLog{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&invoicedomain.InvoiceStatusTransition{},
		&invoicedomain.InvoiceSequence{},
		&paymentdomain.Payment{},
		&exchangeratedomain.ExchangeRate{},
	}
}

// AutoMigrate builds the schema from the models for dialects without embedded
// SQL migrations (local sqlite).
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(Models()...)
}
