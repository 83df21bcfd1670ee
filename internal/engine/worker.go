// Package engine contains the worker loop that turns claimed queue jobs
// into backend executions. One Handle call processes one job end to end:
// take the channel lock, load the request, execute, persist, notify.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	queryportal "github.com/harshg-zluri/db-query-portal-sub000"
	"github.com/harshg-zluri/db-query-portal-sub000/internal/queue"
)

// Locker is the named-lock surface the worker depends on.
type Locker interface {
	Acquire(ctx context.Context, channelKey string) bool
	Release(ctx context.Context, channelKey string)
}

// Router executes one approved request against its target backend.
type Router interface {
	Execute(ctx context.Context, req *queryportal.ExecutionRequest) queryportal.Outcome
}

type Worker struct {
	locks    Locker
	router   Router
	store    queryportal.RequestStore
	notifier queryportal.Notifier
	logger   queryportal.Logger

	workerID string
	active   atomic.Int64
}

func NewWorker(workerID string, locks Locker, router Router, store queryportal.RequestStore, notifier queryportal.Notifier, logger queryportal.Logger) *Worker {
	return &Worker{
		workerID: workerID,
		locks:    locks,
		router:   router,
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// Handle processes one claimed job. Returning nil completes the job;
// returning an error sends it back to the queue for retry. A busy channel
// is reported with queryportal.ErrChannelBusy so the queue can back off
// without counting it as a failure.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	w.active.Add(1)
	defer w.active.Add(-1)

	if !w.locks.Acquire(ctx, job.ChannelKey) {
		return fmt.Errorf("channel %s: %w", job.ChannelKey, queryportal.ErrChannelBusy)
	}
	defer w.locks.Release(ctx, job.ChannelKey)

	req, err := w.store.GetRequestByID(ctx, job.RequestID)
	if err != nil {
		if err == queryportal.ErrNotFound {
			w.logger.Warn("worker: request vanished, completing job",
				"request_id", job.RequestID, "channel", job.ChannelKey)
			return nil
		}
		return fmt.Errorf("load request %s: %w", job.RequestID, err)
	}

	// A redelivered job whose request already finished must not run twice.
	if req.Status.Terminal() {
		w.logger.Info("worker: request already terminal, skipping",
			"request_id", req.ID, "status", string(req.Status))
		return nil
	}

	w.logger.Info("worker: executing request",
		"request_id", req.ID, "kind", string(req.Kind), "backend", string(req.Backend),
		"channel", job.ChannelKey, "retry", job.RetryCount)

	started := time.Now()
	outcome := w.router.Execute(ctx, req)

	if err := w.store.SetExecutionOutcome(ctx, req.ID, outcome); err != nil {
		// The execution may have committed side effects on the target. Mark
		// the request failed best-effort so a redelivery hits the terminal
		// check instead of running the statement a second time.
		failed := queryportal.Failure("failed to record result: %v", err)
		if perr := w.store.SetExecutionOutcome(ctx, req.ID, failed); perr != nil {
			w.logger.Error("worker: failure outcome not persisted",
				"request_id", req.ID, "error", perr)
		}
		return fmt.Errorf("persist outcome for %s: %w", req.ID, err)
	}

	w.logger.Info("worker: request finished",
		"request_id", req.ID, "success", outcome.Success,
		"rows", outcome.RowCount, "elapsed", time.Since(started).String())

	// Notifications go out while the channel lock is still held so observers
	// see results in execution order.
	w.notifier.Notify(ctx, queryportal.NotifyResult, req, w.workerID, &outcome, "")
	w.notifier.Notify(ctx, queryportal.NotifyAudit, req, w.workerID, &outcome, fmt.Sprintf("approved by %s", job.ApproverID))

	return nil
}

// Active reports the number of jobs currently inside Handle.
func (w *Worker) Active() int { return int(w.active.Load()) }

// Drain blocks until no job is in flight or the deadline passes.
func (w *Worker) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for w.active.Load() > 0 {
		if time.Now().After(deadline) {
			w.logger.Warn("worker: drain timed out", "in_flight", w.active.Load())
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
	return true
}
