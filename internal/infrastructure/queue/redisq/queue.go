package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
	"github.com/zakeri-dev/kbpipe/internal/core/ports"
	"github.com/zakeri-dev/kbpipe/internal/infrastructure/resilience"
)

const (
	defaultConcurrency  = 4
	defaultMaxAttempts  = 3
	defaultRetryDelay   = 5 * time.Second
	defaultPollInterval = time.Second
	defaultFailureLimit = 3
	defaultListKey      = "kbpipe:jobs"

	probeInterval = 5 * time.Second
	probeTimeout  = 2 * time.Second
)

type Config struct {
	Concurrency  int
	MaxAttempts  int
	RetryDelay   time.Duration
	PollInterval time.Duration
	FailureLimit int
	ListKey      string
}

func (c Config) normalize() Config {
	out := c
	if out.Concurrency <= 0 {
		out.Concurrency = defaultConcurrency
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = defaultMaxAttempts
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = defaultRetryDelay
	}
	if out.PollInterval <= 0 {
		out.PollInterval = defaultPollInterval
	}
	if out.FailureLimit <= 0 {
		out.FailureLimit = defaultFailureLimit
	}
	if out.ListKey == "" {
		out.ListKey = defaultListKey
	}
	return out
}

// Queue runs jobs from a Redis list when Redis is reachable and from an
// in-process slice when it is not. The fallback kicks in after a run of
// consecutive backend failures and a background probe switches back once
// Redis answers pings again, so a Redis outage degrades throughput instead
// of stopping intake.
type Queue struct {
	rdb    *redis.Client
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	local []domain.Job

	available  atomic.Bool
	failures   atomic.Int32
	processing atomic.Int32
	started    atomic.Bool
	retried    atomic.Uint64
	dropped    atomic.Uint64
}

// New builds a queue. An empty redisURL selects the in-process backend
// outright; an unreachable Redis at boot starts the queue in fallback mode
// and lets the probe recover it later.
func New(redisURL string, cfg Config, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		cfg:    cfg.normalize(),
		logger: logger,
	}
	if redisURL == "" {
		return q, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	q.rdb = redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if err := q.rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("queue_backend_unreachable", slog.String("backend", "redis"), slog.Any("error", err))
	} else {
		q.available.Store(true)
	}
	return q, nil
}

func (q *Queue) Close() error {
	if q.rdb != nil {
		return q.rdb.Close()
	}
	return nil
}

func (q *Queue) AddJob(ctx context.Context, job domain.Job) error {
	if q.redisAvailable() {
		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		if err := q.rdb.RPush(ctx, q.cfg.ListKey, payload).Err(); err != nil {
			q.recordBackendFailure(ctx, err)
			q.logger.Warn("queue_enqueue_fallback", slog.String("job_id", job.ID), slog.Any("error", err))
		} else {
			return nil
		}
	}

	q.mu.Lock()
	q.local = append(q.local, job)
	q.mu.Unlock()
	return nil
}

// ProcessJobs starts the consumer pool and blocks until ctx is cancelled.
// Calling it again while consumers are already running is a no-op, so every
// enqueue path can safely make sure consumption is on.
func (q *Queue) ProcessJobs(ctx context.Context, handler ports.JobHandler) error {
	if handler == nil {
		return fmt.Errorf("job handler is nil")
	}
	if !q.started.CompareAndSwap(false, true) {
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < q.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.consume(ctx, handler)
		}()
	}
	if q.rdb != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.probe(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (q *Queue) Stats(ctx context.Context) domain.QueueStats {
	backend := "memory"
	if q.rdb != nil {
		backend = "redis"
	}

	q.mu.Lock()
	pending := len(q.local)
	q.mu.Unlock()

	available := q.redisAvailable()
	if available {
		if n, err := q.rdb.LLen(ctx, q.cfg.ListKey).Result(); err != nil {
			q.recordBackendFailure(ctx, err)
			available = q.redisAvailable()
		} else {
			pending += int(n)
		}
	}

	return domain.QueueStats{
		Backend:      backend,
		Available:    available,
		Pending:      pending,
		Processing:   int(q.processing.Load()),
		RetriedTotal: q.retried.Load(),
		DroppedTotal: q.dropped.Load(),
	}
}

func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	q.local = nil
	q.mu.Unlock()

	if q.redisAvailable() {
		if err := q.rdb.Del(ctx, q.cfg.ListKey).Err(); err != nil {
			q.recordBackendFailure(ctx, err)
			return fmt.Errorf("clear redis queue: %w", err)
		}
	}
	return nil
}

func (q *Queue) consume(ctx context.Context, handler ports.JobHandler) {
	for {
		job, ok := q.dequeue(ctx)
		if !ok {
			return
		}
		q.runJob(ctx, handler, job)
	}
}

// dequeue drains the local backlog ahead of Redis so jobs accepted during an
// outage are not starved once the backend is back.
func (q *Queue) dequeue(ctx context.Context) (domain.Job, bool) {
	for {
		if ctx.Err() != nil {
			return domain.Job{}, false
		}
		if job, ok := q.popLocal(); ok {
			return job, true
		}

		if q.redisAvailable() {
			res, err := q.rdb.BLPop(ctx, q.cfg.PollInterval, q.cfg.ListKey).Result()
			switch {
			case err == nil && len(res) == 2:
				q.failures.Store(0)
				var job domain.Job
				if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
					q.logger.Error("queue_job_decode_failed", slog.Any("error", err))
					continue
				}
				return job, true
			case errors.Is(err, redis.Nil):
				q.failures.Store(0)
				continue
			case ctx.Err() != nil:
				return domain.Job{}, false
			default:
				q.recordBackendFailure(ctx, err)
			}
		}

		if !q.idleWait(ctx) {
			return domain.Job{}, false
		}
	}
}

func (q *Queue) runJob(ctx context.Context, handler ports.JobHandler, job domain.Job) {
	q.processing.Add(1)
	defer q.processing.Add(-1)

	if err := handler(ctx, job); err != nil {
		q.retryOrDrop(ctx, job, err)
	}
}

// retryOrDrop applies the backoff policy: the delay before attempt n+1 is the
// retry delay doubled per completed attempt. Exhausted jobs are dropped; the
// document row keeps the failure, so nothing is lost with the job.
func (q *Queue) retryOrDrop(ctx context.Context, job domain.Job, cause error) {
	job.Attempts++
	limit := job.MaxAttempts
	if limit <= 0 {
		limit = q.cfg.MaxAttempts
	}
	if job.Attempts >= limit {
		q.dropped.Add(1)
		q.logger.Error("queue_job_dropped",
			slog.String("job_id", job.ID),
			slog.Int("attempts", job.Attempts),
			slog.Any("error", cause),
		)
		return
	}

	q.retried.Add(1)
	delay := resilience.Backoff(q.cfg.RetryDelay, job.Attempts)
	q.logger.Warn("queue_job_retry",
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempts),
		slog.Duration("delay", delay),
		slog.Any("error", cause),
	)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			q.logger.Warn("queue_job_retry_abandoned", slog.String("job_id", job.ID))
		case <-timer.C:
			if err := q.AddJob(ctx, job); err != nil {
				q.logger.Error("queue_job_requeue_failed", slog.String("job_id", job.ID), slog.Any("error", err))
			}
		}
	}()
}

func (q *Queue) probe(ctx context.Context) {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if q.redisAvailable() {
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := q.rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			continue
		}
		q.failures.Store(0)
		if q.available.CompareAndSwap(false, true) {
			q.logger.Info("queue_backend_restored", slog.String("backend", "redis"))
		}
	}
}

func (q *Queue) popLocal() (domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.local) == 0 {
		return domain.Job{}, false
	}
	job := q.local[0]
	q.local = q.local[1:]
	return job, true
}

func (q *Queue) redisAvailable() bool {
	return q.rdb != nil && q.available.Load()
}

// recordBackendFailure counts consecutive Redis errors and flips to the
// in-process backend once the limit is hit. Cancellation is the caller going
// away, not the backend failing, so it never counts.
func (q *Queue) recordBackendFailure(ctx context.Context, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	if q.failures.Add(1) < int32(q.cfg.FailureLimit) {
		return
	}
	if q.available.CompareAndSwap(true, false) {
		q.logger.Error("queue_backend_lost",
			slog.String("backend", "redis"),
			slog.Any("error", err),
		)
	}
}

func (q *Queue) idleWait(ctx context.Context) bool {
	timer := time.NewTimer(q.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
