package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/aragog/models"
)

var (
	// ErrRunnerClosed is returned when Submit is called after shutdown.
	ErrRunnerClosed = errors.New("pipeline: runner closed")
)

// CrawlFunc runs one crawl to completion.
type CrawlFunc func(ctx context.Context) (*models.CrawlResult, error)

// Job is one independent crawl.
type Job struct {
	Shop  string
	Crawl CrawlFunc
}

// Outcome pairs a finished job with its result.
type Outcome struct {
	Shop   string
	Result *models.CrawlResult
	Err    error
}

// Runner fans crawl jobs out to a worker pool and joins them on Close.
// Jobs share nothing through the runner besides its counters.
type Runner struct {
	ctx    context.Context
	logger *slog.Logger
	jobCh  chan Job

	wg sync.WaitGroup

	metrics metrics

	mu       sync.Mutex // guards closed/outcomes
	closed   bool
	outcomes []Outcome

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewRunner builds a runner whose jobs observe ctx.
func NewRunner(ctx context.Context, logger *slog.Logger) *Runner {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		ctx:      ctx,
		logger:   logger,
		jobCh:    make(chan Job, 16),
		metrics:  newMetrics(),
		shutdown: make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (r *Runner) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Submit queues a job. It blocks while the queue is full.
func (r *Runner) Submit(job Job) (err error) {
	if job.Crawl == nil {
		return fmt.Errorf("pipeline: job %q has no crawl function", job.Shop)
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrRunnerClosed
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = ErrRunnerClosed
		}
	}()

	select {
	case <-r.shutdown:
		return ErrRunnerClosed
	case r.jobCh <- job:
		r.metrics.addSubmitted()
		return nil
	}
}

// Close stops accepting jobs, waits for running ones and returns every
// outcome together with the joined errors of failed crawls.
func (r *Runner) Close() ([]Outcome, error) {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.signalShutdown()
	r.closeOnce.Do(func() {
		close(r.jobCh)
	})

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	outcomes := make([]Outcome, len(r.outcomes))
	copy(outcomes, r.outcomes)

	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Shop, o.Err))
		}
	}
	return outcomes, errors.Join(errs...)
}

// GetMetrics returns a snapshot of the internal counters.
func (r *Runner) GetMetrics() map[string]interface{} {
	return r.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs until Close.
func (r *Runner) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m := r.GetMetrics()
				r.logger.Info("crawl progress",
					slog.Any("submitted", m["submitted"]),
					slog.Any("completed", m["completed"]),
					slog.Any("aborted", m["aborted"]),
					slog.Any("published", m["published"]),
				)
			case <-r.shutdown:
				return
			}
		}
	}()
}

func (r *Runner) worker() {
	defer r.wg.Done()

	for job := range r.jobCh {
		start := time.Now()
		result, err := job.Crawl(r.ctx)

		r.metrics.record(result, err)
		r.logger.Debug("crawl job finished",
			slog.String("shop", job.Shop),
			slog.Duration("duration", time.Since(start)),
			slog.Bool("aborted", err != nil),
		)

		r.mu.Lock()
		r.outcomes = append(r.outcomes, Outcome{Shop: job.Shop, Result: result, Err: err})
		r.mu.Unlock()
	}
}

func (r *Runner) signalShutdown() {
	r.shutdownOnce.Do(func() {
		close(r.shutdown)
	})
}

type metrics struct {
	mu        sync.Mutex
	submitted int64
	completed int64
	aborted   int64
	published int64
	outcomes  map[string]int
}

func newMetrics() metrics {
	return metrics{
		outcomes: make(map[string]int),
	}
}

func (m *metrics) addSubmitted() {
	m.mu.Lock()
	m.submitted++
	m.mu.Unlock()
}

func (m *metrics) record(result *models.CrawlResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.aborted++
	} else {
		m.completed++
	}
	if result == nil {
		return
	}
	m.published += int64(result.PublishedCount)
	for k, v := range result.PublishOutcomes {
		m.outcomes[k] += v
	}
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyOutcomes := make(map[string]int, len(m.outcomes))
	for k, v := range m.outcomes {
		copyOutcomes[k] = v
	}

	return map[string]interface{}{
		"submitted":        m.submitted,
		"completed":        m.completed,
		"aborted":          m.aborted,
		"published":        m.published,
		"publish_outcomes": copyOutcomes,
	}
}
