package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/invoice/lifecycle"
	"github.com/smallbiznis/invoicing/pkg/rls"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) UpdateStatus(ctx context.Context, id string, status domain.InvoiceStatus) (domain.Invoice, error) {
	if !status.Valid() {
		return domain.Invoice{}, domain.ErrInvalidStatus
	}
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	invoiceID, err := parseID(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	invoice, err := s.transition(ctx, orgID, invoiceID, status)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

// Send moves a draft to SENT and then mails the PDF. Delivery is best effort:
// a failed email never undoes the transition.
func (s *Service) Send(ctx context.Context, id string) (domain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	invoiceID, err := parseID(id)
	if err != nil {
		return domain.Invoice{}, err
	}

	invoice, err := s.transition(ctx, orgID, invoiceID, domain.InvoiceStatusSent)
	if err != nil {
		return domain.Invoice{}, err
	}

	if err := s.deliver(ctx, invoice); err != nil {
		s.log.Warn("invoice email delivery failed",
			zap.String("org_id", orgID.String()),
			zap.String("invoice_id", invoiceID.String()),
			zap.Error(err),
		)
	}
	return *invoice, nil
}

func (s *Service) transition(ctx context.Context, orgID, invoiceID snowflake.ID, to domain.InvoiceStatus) (*domain.Invoice, error) {
	var (
		invoice *domain.Invoice
		record  *domain.InvoiceStatusTransition
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, orgID); err != nil {
			return err
		}
		locked, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrInvoiceNotFound
		}
		record, err = s.transitioner.Transition(ctx, tx, lifecycle.Request{
			Invoice: locked,
			To:      to,
			Trigger: domain.TriggerUser,
		})
		if err != nil {
			return err
		}
		invoice = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.transitioner.Announce(ctx, record)
	return invoice, nil
}

func (s *Service) ListTransitions(ctx context.Context, id string) ([]domain.InvoiceStatusTransition, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	invoiceID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	invoice, err := s.repo.FindByID(ctx, s.db, orgID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	return s.repo.ListTransitions(ctx, s.db, orgID, invoiceID)
}
