package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
	"github.com/smallbiznis/invoicing/internal/audit/repository"
	"github.com/smallbiznis/invoicing/internal/auditcontext"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/dbtest"
	"github.com/smallbiznis/invoicing/internal/orgcontext"
	"github.com/smallbiznis/invoicing/pkg/db/pagination"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, *clock.FakeClock) {
	t.Helper()
	db := dbtest.Open(t, &auditdomain.AuditLog{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc.(*Service), clk
}

func TestAuditLogUsesContextActorAndRequest(t *testing.T) {
	svc, _ := newTestService(t)
	orgID := snowflake.ID(42)

	ctx := orgcontext.WithOrgID(context.Background(), orgID)
	ctx = auditcontext.WithActor(ctx, auditdomain.ActorTypeUser, "7001")
	ctx = auditcontext.WithRequestID(ctx, "req-1")
	ctx = auditcontext.WithIPAddress(ctx, "10.0.0.1")

	target := "9001"
	require.NoError(t, svc.AuditLog(ctx, nil, "", nil, "invoice.created", "invoice", &target, map[string]any{"number": "INV-2025-0001"}))

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	require.NotNil(t, entry.OrgID)
	require.Equal(t, orgID, *entry.OrgID)
	require.Equal(t, auditdomain.ActorTypeUser, entry.ActorType)
	require.NotNil(t, entry.ActorID)
	require.Equal(t, "7001", *entry.ActorID)
	require.Equal(t, "req-1", entry.Metadata["request_id"])
	require.Equal(t, "INV-2025-0001", entry.Metadata["number"])
	require.NotNil(t, entry.IPAddress)
	require.Equal(t, "10.0.0.1", *entry.IPAddress)
}

func TestAuditLogDefaultsToSystemActor(t *testing.T) {
	svc, _ := newTestService(t)
	orgID := snowflake.ID(42)
	ctx := context.Background()

	require.NoError(t, svc.AuditLog(ctx, &orgID, "", nil, "invoice.overdue", "invoice", nil, nil))

	resp, err := svc.List(orgcontext.WithOrgID(ctx, orgID), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	require.Equal(t, auditdomain.ActorTypeSystem, resp.AuditLogs[0].ActorType)
	require.Nil(t, resp.AuditLogs[0].ActorID)
}

func TestAuditLogMasksPaymentReferences(t *testing.T) {
	svc, _ := newTestService(t)
	orgID := snowflake.ID(42)
	ctx := orgcontext.WithOrgID(context.Background(), orgID)

	require.NoError(t, svc.AuditLog(ctx, &orgID, "", nil, "payment.created", "payment", nil, map[string]any{
		"reference":       "IBAN DE89370400440532013000",
		"idempotency_key": "abc",
		"amount":          "50.00",
	}))

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	metadata := resp.AuditLogs[0].Metadata
	require.Equal(t, "****3000", metadata["reference"])
	require.Equal(t, "****", metadata["idempotency_key"])
	require.Equal(t, "50.00", metadata["amount"])
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.AuditLog(context.Background(), nil, "", nil, "  ", "invoice", nil, nil)
	require.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPagesNewestFirst(t *testing.T) {
	svc, clk := newTestService(t)
	orgID := snowflake.ID(42)
	ctx := orgcontext.WithOrgID(context.Background(), orgID)

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.AuditLog(ctx, nil, "", nil, "payment.created", "payment", nil, map[string]any{"seq": i}))
		clk.Advance(time.Minute)
	}
	other := snowflake.ID(43)
	require.NoError(t, svc.AuditLog(ctx, &other, "", nil, "payment.created", "payment", nil, nil))

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 3}})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 3)
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)
	require.EqualValues(t, 4, first.AuditLogs[0].Metadata["seq"])

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 3, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 2)
	require.False(t, second.HasMore)
	require.EqualValues(t, 0, second.AuditLogs[1].Metadata["seq"])
}

func TestListValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.ErrorIs(t, err, auditdomain.ErrInvalidOrganization)

	ctx := orgcontext.WithOrgID(context.Background(), 42)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	require.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)

	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	require.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}

func TestDispatcherDrainsOnStop(t *testing.T) {
	var (
		mu      sync.Mutex
		written []string
	)
	d := newDispatcher(zap.NewNop(), 8, func(_ context.Context, entry auditdomain.AuditLog) {
		mu.Lock()
		written = append(written, entry.Action)
		mu.Unlock()
	})
	d.start()

	d.enqueue(auditdomain.AuditLog{Action: "a"})
	d.enqueue(auditdomain.AuditLog{Action: "b"})
	require.NoError(t, d.stop(context.Background()))

	d.enqueue(auditdomain.AuditLog{Action: "late"})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a", "b"}, written)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := newDispatcher(zap.NewNop(), 1, func(context.Context, auditdomain.AuditLog) {})
	d.enqueue(auditdomain.AuditLog{Action: "kept"})
	d.enqueue(auditdomain.AuditLog{Action: "dropped"})
	require.Len(t, d.queue, 1)
}
