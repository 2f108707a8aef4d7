package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ActorSystem  = "system"
	roleSystem   = "role:system"
	userPrefix   = "user:"
	domainPrefix = "org:"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads casbin policies from the database and seeds the role matrix.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

// Authorize accepts "system" or "user:<id>" actors. Users get the role stored on their membership.
func (s *ServiceImpl) Authorize(ctx context.Context, actor string, orgID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	orgID = strings.TrimSpace(orgID)
	object = strings.TrimSpace(object)
	action = strings.TrimSpace(action)
	switch {
	case actor == "":
		return ErrInvalidActor
	case orgID == "":
		return ErrInvalidOrganization
	case object == "":
		return ErrInvalidObject
	case action == "":
		return ErrInvalidAction
	}

	parsedOrgID, err := snowflake.ParseString(orgID)
	if err != nil || parsedOrgID == 0 {
		return ErrInvalidOrganization
	}

	roleName, actorType, actorID, err := s.resolveActor(ctx, actor, parsedOrgID)
	if err != nil {
		s.auditDecision(ctx, "authorization.denied", parsedOrgID, actorType, actorID, object, action)
		return err
	}

	domain := domainPrefix + orgID
	if err := s.ensureGrouping(actor, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(actor, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("actor", actor),
			zap.String("org_id", orgID),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDecision(ctx, "authorization.denied", parsedOrgID, actorType, actorID, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, orgID snowflake.ID) (string, string, *string, error) {
	if actor == ActorSystem {
		return roleSystem, auditdomain.ActorTypeSystem, nil, nil
	}
	if !strings.HasPrefix(actor, userPrefix) {
		return "", "", nil, ErrInvalidActor
	}
	userID, err := snowflake.ParseString(strings.TrimPrefix(actor, userPrefix))
	if err != nil || userID == 0 {
		return "", "", nil, ErrInvalidActor
	}
	id := userID.String()

	var role string
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM organization_members
		 WHERE org_id = ? AND user_id = ?
		 LIMIT 1`,
		orgID,
		userID,
	).Scan(&role).Error; err != nil {
		return "", auditdomain.ActorTypeUser, &id, err
	}
	role = strings.TrimSpace(role)
	if role == "" {
		return "", auditdomain.ActorTypeUser, &id, ErrForbidden
	}
	return "role:" + strings.ToLower(role), auditdomain.ActorTypeUser, &id, nil
}

// ensureGrouping keeps exactly one role link per subject and domain, following membership changes.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) >= 2 && rule[1] != roleName {
			if _, err := s.enforcer.RemoveGroupingPolicy(rule); err != nil {
				return err
			}
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil || has {
		return err
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDecision(ctx context.Context, event string, orgID snowflake.ID, actorType string, actorID *string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	target := fmt.Sprintf("%s:%s", object, action)
	err := s.auditSvc.AuditLog(ctx, &orgID, actorType, actorID, event, "authorization", &target, map[string]any{
		"object": object,
		"action": action,
	})
	if err != nil {
		s.log.Warn("failed to record authorization audit", zap.String("event", event), zap.Error(err))
	}
}

var (
	readActions = []string{
		ActionInvoiceView, ActionCustomerView, ActionPaymentView, ActionExchangeRateView, ActionReportView, ActionOrganizationView,
	}
	bookkeepingActions = []string{
		ActionInvoiceCreate, ActionInvoiceUpdate, ActionInvoiceDelete, ActionInvoiceSend,
		ActionCustomerManage, ActionPaymentCreate, ActionPaymentDelete, ActionExchangeRateManage,
	}
	adminActions = []string{
		ActionInvoiceCancel, ActionInvoiceSweep, ActionOrganizationManage, ActionAuditLogView,
	}
)

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	grants := map[string][]string{
		"role:member": readActions,
		"role:finops": concat(readActions, bookkeepingActions),
		"role:admin":  concat(readActions, bookkeepingActions, adminActions),
		"role:owner":  concat(readActions, bookkeepingActions, adminActions),
		roleSystem:    concat(readActions, bookkeepingActions, adminActions),
	}

	for role, actions := range grants {
		granted := make(map[string]struct{}, len(actions))
		for _, action := range actions {
			granted[action] = struct{}{}
			object, _, _ := strings.Cut(action, ".")
			if _, err := enforcer.AddPolicy(role, object, action); err != nil {
				return err
			}
		}

		// Drop grants persisted by an older role matrix.
		stored, err := enforcer.GetFilteredPolicy(0, role)
		if err != nil {
			return err
		}
		for _, rule := range stored {
			if len(rule) < 3 {
				continue
			}
			if _, ok := granted[rule[2]]; ok {
				continue
			}
			if _, err := enforcer.RemovePolicy(rule[0], rule[1], rule[2]); err != nil {
				return err
			}
		}
	}
	return nil
}

func concat(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
