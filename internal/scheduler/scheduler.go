package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
	"github.com/smallbiznis/invoicing/internal/auditcontext"
	"github.com/smallbiznis/invoicing/internal/clock"
	invoicedomain "github.com/smallbiznis/invoicing/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/invoicing/internal/observability/metrics"
	"github.com/smallbiznis/invoicing/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobOverdueSweep = "overdue_sweep"

	lockKeyPrefix = "invoicing:scheduler:"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type sweeper interface {
	SweepOverdueAll(ctx context.Context) (invoicedomain.SweepResult, error)
}

// leaderLock is satisfied by *ratelimit.Locker.
type leaderLock interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	Log        *zap.Logger
	InvoiceSvc invoicedomain.Service
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     Config            `optional:"true"`
	Locker     *ratelimit.Locker `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	invoice sweeper
	lock    leaderLock
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.InvoiceSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		invoice: p.InvoiceSvc,
	}
	if p.Locker != nil {
		s.lock = p.Locker
	}
	return s, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = auditcontext.WithActor(ctx, auditdomain.ActorTypeSystem, "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A timed out sweep resumes on the next tick.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// withLeaderLock runs fn only on the replica holding the job lease. Without a
// lock every replica runs the job; the per-invoice row locks keep that safe.
func (s *Scheduler) withLeaderLock(ctx context.Context, name string, fn func(context.Context) error) error {
	if s.lock == nil {
		return fn(ctx)
	}

	key := lockKeyPrefix + name
	token, ok, err := s.lock.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		s.log.Warn("leader lock unavailable, running unguarded", zap.String("job", name), zap.Error(err))
		return fn(ctx)
	}
	if !ok {
		obsmetrics.Scheduler().IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		s.log.Debug("job lease held by another replica", zap.String("job", name))
		return nil
	}
	defer func() {
		// Release on a fresh context so a cancelled run still frees the lease.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.lock.Release(releaseCtx, key, token); err != nil {
			s.log.Warn("leader lock release failed", zap.String("job", name), zap.Error(err))
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobOverdueSweep, s.isJobEnabled(JobOverdueSweep), func(ctx context.Context) error {
			return s.withLeaderLock(ctx, JobOverdueSweep, func(ctx context.Context) error {
				return s.runJob(ctx, JobOverdueSweep, 0, s.cfg.JobTimeout, s.OverdueSweepJob)
			})
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// OverdueSweepJob marks every SENT invoice past its due date as OVERDUE
// across all organizations.
func (s *Scheduler) OverdueSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobOverdueSweep, 0)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	result, err := s.invoice.SweepOverdueAll(ctx)
	run.AddProcessed(result.Transitioned)

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.AddBatchProcessed(JobOverdueSweep, "invoices", result.Transitioned)
	for i := 0; i < result.Skipped; i++ {
		schedMetrics.IncBatchDeferred(JobOverdueSweep, obsmetrics.SchedulerBatchDeferredReasonConcurrentWrite)
	}
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.overdue_sweep.failed", JobOverdueSweep, 0, err,
			zap.Int("scanned", result.Scanned),
			zap.Int("transitioned", result.Transitioned),
		)
		return err
	}
	if result.Failed > 0 {
		for i := 0; i < result.Failed; i++ {
			run.IncError()
		}
		s.logger(ctx).Warn("scheduler.overdue_sweep.partial",
			zap.Int("scanned", result.Scanned),
			zap.Int("failed", result.Failed),
		)
	}
	return nil
}
