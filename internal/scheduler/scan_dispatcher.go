package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is one unit of background work. The context carries the per-job timeout.
type Job func(ctx context.Context)

// ScanDispatcher runs scan-recording jobs off the request path.
// Jobs are never dropped: when the queue is full, or after Stop, a job runs
// on its own goroutine instead.
type ScanDispatcher struct {
	queue      chan Job
	workers    int
	jobTimeout time.Duration
	logger     zerolog.Logger

	mu      sync.RWMutex
	stopped bool

	wg       sync.WaitGroup // workers
	overflow sync.WaitGroup // jobs run outside the workers
}

func NewScanDispatcher(queueSize, workers int, jobTimeout time.Duration, logger zerolog.Logger) *ScanDispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Second
	}
	return &ScanDispatcher{
		queue:      make(chan Job, queueSize),
		workers:    workers,
		jobTimeout: jobTimeout,
		logger:     logger.With().Str("component", "scan_dispatcher").Logger(),
	}
}

// Start launches the worker goroutines.
func (d *ScanDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	d.logger.Info().Int("workers", d.workers).Int("queue_size", cap(d.queue)).Msg("scan dispatcher started")
}

// Submit schedules job and returns immediately.
func (d *ScanDispatcher) Submit(job Job) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.detach(job)
		return
	}

	select {
	case d.queue <- job:
	default:
		d.logger.Warn().Msg("scan queue full, running job detached")
		d.detach(job)
	}
}

func (d *ScanDispatcher) detach(job Job) {
	d.overflow.Add(1)
	go func() {
		defer d.overflow.Done()
		d.run(job)
	}()
}

// Stop drains the queue and waits for queued and detached jobs to finish.
// Calling it again waits for jobs submitted after the first call.
func (d *ScanDispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.overflow.Wait()
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.logger.Info().Int("pending", len(d.queue)).Msg("draining scan queue before shutdown...")
	d.wg.Wait()

	// Submit adds to overflow under the read lock.
	d.mu.Lock()
	d.overflow.Wait()
	d.mu.Unlock()
	d.logger.Info().Msg("scan dispatcher stopped")
}

func (d *ScanDispatcher) work() {
	defer d.wg.Done()
	for job := range d.queue {
		d.run(job)
	}
}

func (d *ScanDispatcher) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("scan job panicked")
		}
	}()

	job(ctx)
}
