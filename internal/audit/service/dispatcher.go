package service

import (
	"context"
	"sync"

	auditdomain "github.com/smallbiznis/invoicing/internal/audit/domain"
	"go.uber.org/zap"
)

const defaultQueueSize = 1024

// dispatcher drains audit entries on a single goroutine. When the queue is full
// the entry is dropped: audit writes must never stall a financial write.
type dispatcher struct {
	log   *zap.Logger
	queue chan auditdomain.AuditLog
	write func(context.Context, auditdomain.AuditLog)

	mu      sync.RWMutex
	stopped bool
	done    chan struct{}
}

func newDispatcher(log *zap.Logger, size int, write func(context.Context, auditdomain.AuditLog)) *dispatcher {
	return &dispatcher{
		log:   log,
		queue: make(chan auditdomain.AuditLog, size),
		write: write,
		done:  make(chan struct{}),
	}
}

func (d *dispatcher) start() {
	go func() {
		defer close(d.done)
		for entry := range d.queue {
			d.write(context.Background(), entry)
		}
	}()
}

func (d *dispatcher) enqueue(entry auditdomain.AuditLog) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.log.Warn("audit dispatcher stopped, entry dropped", zap.String("action", entry.Action))
		return
	}
	select {
	case d.queue <- entry:
	default:
		d.log.Warn("audit queue full, entry dropped", zap.String("action", entry.Action))
	}
}

// stop closes the queue and waits for buffered entries to be written.
func (d *dispatcher) stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
