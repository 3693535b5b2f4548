package worker

import (
	"context"
	"time"

	"sql-workbench/internal/config"
	"sql-workbench/internal/queue"
	"sql-workbench/internal/telemetry"
)

// Processor drives the worker loop: reap expired leases, dequeue, execute,
// ack. Tasks are never retried; a lease that lapses marks the task failed
// and the id is dropped from the queue for good.
type Processor struct {
	cfg      config.Config
	queue    *queue.RedisQueue
	executor *Executor
}

func NewProcessor(cfg config.Config, q *queue.RedisQueue, ex *Executor) *Processor {
	return &Processor{cfg: cfg, queue: q, executor: ex}
}

// Run loops until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	reap := time.NewTicker(p.cfg.LeaseReapInterval)
	defer reap.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reap.C:
			p.reapExpired(ctx)
		default:
		}

		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}
		if inflight, err := p.queue.InflightDepth(ctx); err == nil {
			telemetry.InFlightGauge.Set(float64(inflight))
		}

		taskID, err := p.queue.DequeueWithLease(ctx)
		if err != nil || taskID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		// Hold the lease for the whole execution window so the reaper
		// does not fail a task that is still making progress.
		_ = p.queue.ExtendLease(ctx, taskID, p.cfg.TaskTimeout)

		p.executor.Execute(ctx, taskID)
		_ = p.queue.Ack(ctx, taskID)
	}
}

// reapExpired fails every task whose lease lapsed. The ids come off the
// inflight set without requeueing.
func (p *Processor) reapExpired(ctx context.Context) {
	expired, err := p.queue.ReapExpired(ctx, time.Now(), 100)
	if err != nil {
		return
	}
	for _, id := range expired {
		p.executor.FailExpired(ctx, id)
	}
}
