// Package queue implements the durable, at-least-once job queue on the
// Postgres metadata store. Jobs carry a singleton constraint on their
// channel key so the queue itself avoids admitting a second in-flight job
// for a channel; the named lock service remains the authoritative guard.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	queryportal "github.com/harshg-zluri/db-query-portal-sub000"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the metadata-store surface the queue needs. *pgxpool.Pool
// satisfies it; tests substitute fakes.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Job is the durable envelope delivered to the handler. The payload is
// immutable once enqueued.
type Job struct {
	ID         string
	ChannelKey string
	RequestID  string
	ApproverID string
	RetryCount int
}

// Handler processes one delivered job. A nil return completes the job; any
// error reschedules it with backoff until the retry limit, after which the
// job is abandoned. Delivery is at-least-once, so handlers must be
// idempotent.
type Handler func(ctx context.Context, job Job) error

type Config struct {
	BatchSize    int
	PollInterval time.Duration
	RetryLimit   int
	RetryBackoff time.Duration

	// VisibilityTimeout bounds how long a claimed job may stay active
	// before the stale sweep sends it back for redelivery. Must exceed the
	// longest possible handler run (statement timeout plus persistence).
	VisibilityTimeout time.Duration
}

type Queue struct {
	db     DB
	cfg    Config
	logger queryportal.Logger

	wg sync.WaitGroup
}

func New(db DB, cfg Config, logger queryportal.Logger) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 10
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Second
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	return &Queue{db: db, cfg: cfg, logger: logger}
}

// Init ensures the queue table and singleton index exist.
func (q *Queue) Init(ctx context.Context) error {
	for _, stmt := range []string{queryInitTable, queryInitSingletonIndex} {
		if _, err := q.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue inserts a job for the channel. It returns an empty job id when
// the singleton constraint suppressed the insert because the channel
// already has a job in flight.
func (q *Queue) Enqueue(ctx context.Context, channelKey, requestID, approverID string) (string, error) {
	var id string
	err := q.db.QueryRow(ctx, queryEnqueue, uuid.New().String(), channelKey, requestID, approverID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// Run polls for jobs and dispatches them to the handler until the context
// is cancelled. Claimed jobs within one batch run concurrently; serialization
// per channel is the lock service's job, not the queue's.
func (q *Queue) Run(ctx context.Context, handler Handler) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	q.logger.Info("queue: consumer started",
		"batch_size", q.cfg.BatchSize, "poll_interval", q.cfg.PollInterval.String())

	for {
		q.drainBatch(ctx, handler)
		select {
		case <-ctx.Done():
			q.logger.Info("queue: consumer stopping")
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until every dispatched handler has returned.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) drainBatch(ctx context.Context, handler Handler) {
	q.expireStale(ctx)

	jobs, err := q.claim(ctx)
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Error("queue: claim failed", "error", err)
		}
		return
	}

	// Handlers and job-state writes run on a context that survives the
	// poll loop's cancellation: a shutdown must drain in-flight jobs and
	// record their state, not abort them mid-statement and strand the row
	// in 'active'.
	jobCtx := context.WithoutCancel(ctx)
	for _, job := range jobs {
		job := job
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.dispatch(jobCtx, handler, job)
		}()
	}
}

// expireStale sends active jobs whose claim outlived the visibility
// timeout back to 'created' for redelivery. Without it a crash between
// claim and completion would strand the row in 'active', and the singleton
// index would then suppress every future enqueue for that channel.
func (q *Queue) expireStale(ctx context.Context) {
	tag, err := q.db.Exec(ctx, queryExpireStale, q.cfg.VisibilityTimeout.Seconds())
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Error("queue: stale sweep failed", "error", err)
		}
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		q.logger.Warn("queue: rescheduled stale active jobs",
			"count", n, "visibility_timeout", q.cfg.VisibilityTimeout.String())
	}
}

func (q *Queue) claim(ctx context.Context) ([]Job, error) {
	rows, err := q.db.Query(ctx, queryClaimBatch, q.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.ChannelKey, &j.RequestID, &j.ApproverID, &j.RetryCount); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (q *Queue) dispatch(ctx context.Context, handler Handler, job Job) {
	err := handler(ctx, job)
	if err == nil {
		if _, cerr := q.db.Exec(ctx, queryComplete, job.ID); cerr != nil {
			q.logger.Error("queue: failed to complete job", "job_id", job.ID, "error", cerr)
		}
		return
	}

	// Lock contention is a "try later" signal, not a failure.
	if errors.Is(err, queryportal.ErrChannelBusy) {
		q.logger.Debug("queue: channel busy, rescheduling", "job_id", job.ID, "channel", job.ChannelKey)
	} else {
		q.logger.Warn("queue: job handler failed", "job_id", job.ID, "retry_count", job.RetryCount, "error", err)
	}

	if job.RetryCount >= q.cfg.RetryLimit {
		q.logger.Error("queue: retry limit exhausted, abandoning job",
			"job_id", job.ID, "request_id", job.RequestID, "retries", job.RetryCount)
		if _, aerr := q.db.Exec(ctx, queryAbandon, job.ID, err.Error()); aerr != nil {
			q.logger.Error("queue: failed to abandon job", "job_id", job.ID, "error", aerr)
		}
		return
	}

	startAfter := time.Now().Add(Backoff(q.cfg.RetryBackoff, job.RetryCount))
	if _, rerr := q.db.Exec(ctx, queryReschedule, job.ID, startAfter, err.Error()); rerr != nil {
		q.logger.Error("queue: failed to reschedule job", "job_id", job.ID, "error", rerr)
	}
}

// Backoff computes the exponential delay before the given retry attempt,
// capped at ten minutes.
func Backoff(base time.Duration, retryCount int) time.Duration {
	const maxDelay = 10 * time.Minute
	if retryCount > 16 {
		retryCount = 16
	}
	d := base << uint(retryCount)
	if d <= 0 || d > maxDelay {
		return maxDelay
	}
	return d
}
