package scheduler_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicing/internal/audit/audittest"
	"github.com/smallbiznis/invoicing/internal/clock"
	"github.com/smallbiznis/invoicing/internal/config"
	"github.com/smallbiznis/invoicing/internal/dbtest"
	invoicedomain "github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/invoice/lifecycle"
	invoicerepo "github.com/smallbiznis/invoicing/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/invoicing/internal/invoice/service"
	"github.com/smallbiznis/invoicing/internal/scheduler"
	schedtesting "github.com/smallbiznis/invoicing/internal/scheduler/testing"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type world struct {
	db    *gorm.DB
	clock *clock.FakeClock
	node  *snowflake.Node
	sched *scheduler.Scheduler
	audit *audittest.Recorder
	seq   int
}

func newWorld(t *testing.T) *world {
	t.Helper()
	db := dbtest.Open(t,
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&invoicedomain.InvoiceStatusTransition{},
	)
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)

	w := &world{
		db:    db,
		clock: clock.NewFakeClock(time.Date(2025, 1, 1, 6, 0, 0, 0, time.UTC)),
		node:  node,
		audit: &audittest.Recorder{},
	}
	log := zap.NewNop()
	engine := config.DefaultEngineConfig()
	engine.Sweep.BatchSize = 2

	invoices := invoiceservice.NewService(invoiceservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: w.clock,
		Repo:  invoicerepo.Provide(),
		Transitioner: lifecycle.NewTransitioner(lifecycle.Params{
			Log:      log,
			GenID:    node,
			Clock:    w.clock,
			AuditSvc: w.audit,
		}),
		Engine: config.NewStaticEngineConfigHolder(engine),
	})

	w.sched, err = scheduler.New(scheduler.Params{
		Log:        log,
		InvoiceSvc: invoices,
		GenID:      node,
		Clock:      w.clock,
	})
	require.NoError(t, err)
	return w
}

func (w *world) sent(t *testing.T, orgID snowflake.ID, due time.Time) snowflake.ID {
	t.Helper()
	w.seq++
	inv := invoicedomain.Invoice{
		ID:            w.node.Generate(),
		OrgID:         orgID,
		CustomerID:    w.node.Generate(),
		InvoiceNumber: fmt.Sprintf("INV-2025-%04d", w.seq),
		Currency:      "USD",
		IssueDate:     due.AddDate(0, 0, -30),
		DueDate:       due,
		Subtotal:      decimal.NewFromInt(100),
		Total:         decimal.NewFromInt(100),
		Status:        invoicedomain.InvoiceStatusSent,
		CreatedAt:     w.clock.Now(),
		UpdatedAt:     w.clock.Now(),
	}
	require.NoError(t, w.db.Create(&inv).Error)
	return inv.ID
}

func (w *world) statusOf(t *testing.T, id snowflake.ID) invoicedomain.InvoiceStatus {
	t.Helper()
	var inv invoicedomain.Invoice
	require.NoError(t, w.db.First(&inv, "id = ?", id).Error)
	return inv.Status
}

func TestScheduler_RunOnce_FakeClock_30Days(t *testing.T) {
	w := newWorld(t)
	orgA, orgB := w.node.Generate(), w.node.Generate()

	dueDay10 := w.sent(t, orgA, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	dueDay20 := w.sent(t, orgB, time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC))
	dueDay31 := w.sent(t, orgA, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC))
	dueLater := w.sent(t, orgB, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	overdueOn := map[snowflake.ID]time.Time{}
	ids := []snowflake.ID{dueDay10, dueDay20, dueDay31, dueLater}

	for day := 0; day < 35; day++ {
		require.NoError(t, w.sched.RunOnce(context.Background()))
		for _, id := range ids {
			if _, seen := overdueOn[id]; seen {
				require.Equal(t, invoicedomain.InvoiceStatusOverdue, w.statusOf(t, id))
				continue
			}
			if w.statusOf(t, id) == invoicedomain.InvoiceStatusOverdue {
				overdueOn[id] = clock.Today(w.clock)
			}
		}
		w.clock.Advance(24 * time.Hour)
	}

	// An invoice is overdue on the first day strictly after its due date.
	require.Equal(t, time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC), overdueOn[dueDay10])
	require.Equal(t, time.Date(2025, 1, 21, 0, 0, 0, 0, time.UTC), overdueOn[dueDay20])
	require.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), overdueOn[dueDay31])
	require.NotContains(t, overdueOn, dueLater)
	require.Equal(t, invoicedomain.InvoiceStatusSent, w.statusOf(t, dueLater))

	var transitions int64
	require.NoError(t, w.db.Model(&invoicedomain.InvoiceStatusTransition{}).Count(&transitions).Error)
	require.EqualValues(t, 3, transitions)
	require.Len(t, w.audit.Actions("invoice.status_changed"), 3)
}

func TestTimeAcceleratorExpiresInvoices(t *testing.T) {
	w := newWorld(t)
	org := w.node.Generate()
	first := w.sent(t, org, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	second := w.sent(t, org, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	other := w.sent(t, w.node.Generate(), time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))

	accel := schedtesting.NewTimeAccelerator(w.db, w.clock.Now)
	require.NoError(t, accel.ExpireInvoice(context.Background(), first))
	require.NoError(t, w.sched.RunOnce(context.Background()))
	require.Equal(t, invoicedomain.InvoiceStatusOverdue, w.statusOf(t, first))
	require.Equal(t, invoicedomain.InvoiceStatusSent, w.statusOf(t, second))

	n, err := accel.ExpireAllSent(context.Background(), org)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.NoError(t, w.sched.RunOnce(context.Background()))
	require.Equal(t, invoicedomain.InvoiceStatusOverdue, w.statusOf(t, second))
	require.Equal(t, invoicedomain.InvoiceStatusSent, w.statusOf(t, other))
}
