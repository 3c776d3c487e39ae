package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veeky/veeky-indexer/internal/video"
)

// Dispatcher pulls video ids from the intake queue and hands each one to the
// orchestrator on a worker slot. One job per slot; segment parallelism inside
// a job is the orchestrator's concern.
type Dispatcher struct {
	repo         video.Repository
	orchestrator *Orchestrator
	logger       *slog.Logger

	workers       int
	pollInterval  time.Duration
	sweepInterval time.Duration

	running atomic.Bool
	paused  atomic.Bool
}

func NewDispatcher(repo video.Repository, orchestrator *Orchestrator, workers int, pollInterval, sweepInterval time.Duration, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	return &Dispatcher{
		repo:          repo,
		orchestrator:  orchestrator,
		logger:        logger,
		workers:       workers,
		pollInterval:  pollInterval,
		sweepInterval: sweepInterval,
	}
}

// Start runs the worker pool and the stale-job sweeper until ctx is
// cancelled, then waits for in-flight jobs to drain.
func (d *Dispatcher) Start(ctx context.Context) {
	if d.running.Swap(true) {
		return
	}
	defer d.running.Store(false)

	d.logger.Info("dispatcher started", "workers", d.workers)

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			d.workerLoop(ctx, slot)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.sweepLoop(ctx)
	}()

	wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) Pause()          { d.paused.Store(true) }
func (d *Dispatcher) Resume()         { d.paused.Store(false) }
func (d *Dispatcher) IsPaused() bool  { return d.paused.Load() }
func (d *Dispatcher) IsRunning() bool { return d.running.Load() }

func (d *Dispatcher) workerLoop(ctx context.Context, slot int) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.paused.Load() {
				continue
			}
			// Drain the queue before going back to sleep.
			for d.processNext(ctx, slot) {
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// processNext claims one queued video and runs it. Returns true when a job
// was claimed, so the caller keeps draining.
func (d *Dispatcher) processNext(ctx context.Context, slot int) bool {
	videoID, ok, err := d.repo.Dequeue(ctx)
	if err != nil {
		d.logger.Error("dequeue failed", "error", err)
		return false
	}
	if !ok {
		return false
	}

	logger := d.logger.With("video_id", videoID, "worker", slot)
	outcome, err := d.orchestrator.RunJob(ctx, videoID)
	switch {
	case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrNotPending):
		// Duplicate delivery; the other run owns the video.
		logger.Info("skipping duplicate dispatch", "reason", err)
	case err != nil:
		logger.Error("job run failed", "error", err)
	default:
		logger.Info("job done", "status", outcome.Status, "segments_failed", outcome.SegmentsFailed)
	}

	if err := d.repo.Ack(ctx, videoID); err != nil {
		d.logger.Error("ack failed", "video_id", videoID, "error", err)
	}
	return true
}

// sweepLoop requeues PROCESSING videos whose lease expired and queue claims
// older than the lease TTL, recovering jobs orphaned by a crashed worker.
func (d *Dispatcher) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.repo.RequeueStale(ctx, d.orchestrator.opts.LeaseTTL)
			if err != nil {
				d.logger.Error("stale sweep failed", "error", err)
				continue
			}
			if n > 0 {
				d.logger.Info("requeued stale videos", "count", n)
			}
		}
	}
}
