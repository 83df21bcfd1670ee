package engine

import (
	"context"
	"fmt"

	queryportal "github.com/harshg-zluri/db-query-portal-sub000"
)

// Enqueuer is the queue surface the dispatcher needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, channelKey, requestID, approverID string) (string, error)
}

// Dispatcher bridges the approval workflow to the queue. OnApproved is the
// single entry point: every approved request becomes exactly one queued job
// on its channel.
type Dispatcher struct {
	queue  Enqueuer
	logger queryportal.Logger
}

func NewDispatcher(q Enqueuer, logger queryportal.Logger) *Dispatcher {
	return &Dispatcher{queue: q, logger: logger}
}

// OnApproved enqueues a job for the request. A suppressed enqueue, meaning
// a job for the same channel is already pending, is reported to the caller
// as a nil error with queued=false.
func (d *Dispatcher) OnApproved(ctx context.Context, req *queryportal.ExecutionRequest, approverID string) (bool, error) {
	jobID, err := d.queue.Enqueue(ctx, req.ChannelKey(), req.ID, approverID)
	if err != nil {
		return false, fmt.Errorf("enqueue request %s: %w", req.ID, err)
	}
	if jobID == "" {
		d.logger.Info("dispatch: channel already has a pending job",
			"request_id", req.ID, "channel", req.ChannelKey())
		return false, nil
	}
	d.logger.Info("dispatch: request queued",
		"request_id", req.ID, "job_id", jobID, "channel", req.ChannelKey(), "approver", approverID)
	return true, nil
}
