package engine

import (
	"context"
	"errors"
	"testing"

	queryportal "github.com/harshg-zluri/db-query-portal-sub000"
	"github.com/harshg-zluri/db-query-portal-sub000/internal/queue"
	"github.com/harshg-zluri/db-query-portal-sub000/pkg/logging"
)

type fakeLocker struct {
	busy     bool
	acquires []string
	releases []string
}

func (l *fakeLocker) Acquire(ctx context.Context, channelKey string) bool {
	l.acquires = append(l.acquires, channelKey)
	return !l.busy
}

func (l *fakeLocker) Release(ctx context.Context, channelKey string) {
	l.releases = append(l.releases, channelKey)
}

type fakeRouter struct {
	calls   int
	outcome queryportal.Outcome
}

func (r *fakeRouter) Execute(ctx context.Context, req *queryportal.ExecutionRequest) queryportal.Outcome {
	r.calls++
	return r.outcome
}

type fakeStore struct {
	req        *queryportal.ExecutionRequest
	getErr     error
	setErr     error
	setCalls   int
	lastID     string
	lastResult queryportal.Outcome
}

func (s *fakeStore) GetRequestByID(ctx context.Context, id string) (*queryportal.ExecutionRequest, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.req, nil
}

func (s *fakeStore) SetExecutionOutcome(ctx context.Context, id string, out queryportal.Outcome) error {
	s.setCalls++
	s.lastID = id
	s.lastResult = out
	return s.setErr
}

type fakeNotifier struct {
	kinds []queryportal.NotificationKind
}

func (n *fakeNotifier) Notify(ctx context.Context, kind queryportal.NotificationKind, req *queryportal.ExecutionRequest, executorID string, outcome *queryportal.Outcome, reason string) {
	n.kinds = append(n.kinds, kind)
}

func approvedRequest() *queryportal.ExecutionRequest {
	return &queryportal.ExecutionRequest{
		ID:         "req-1",
		Backend:    queryportal.BackendPostgres,
		InstanceID: "pg-main",
		Database:   "reports",
		Kind:       queryportal.SubmissionQuery,
		Payload:    "SELECT 1",
		Status:     queryportal.StatusApproved,
	}
}

func testJob() queue.Job {
	return queue.Job{ID: "job-1", ChannelKey: "query:pg-main:reports", RequestID: "req-1", ApproverID: "admin"}
}

func TestHandleExecutesAndPersists(t *testing.T) {
	locks := &fakeLocker{}
	router := &fakeRouter{outcome: queryportal.Outcome{Success: true, Output: "[]"}}
	st := &fakeStore{req: approvedRequest()}
	notifier := &fakeNotifier{}
	w := NewWorker("worker-1", locks, router, st, notifier, logging.NopLogger{})

	if err := w.Handle(context.Background(), testJob()); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if router.calls != 1 {
		t.Fatalf("router calls = %d", router.calls)
	}
	if st.setCalls != 1 || st.lastID != "req-1" || !st.lastResult.Success {
		t.Fatalf("store: calls=%d id=%q result=%+v", st.setCalls, st.lastID, st.lastResult)
	}
	if len(locks.releases) != 1 {
		t.Fatalf("releases = %v", locks.releases)
	}
	if len(notifier.kinds) != 2 {
		t.Fatalf("notifications = %v", notifier.kinds)
	}
}

func TestHandleBusyChannel(t *testing.T) {
	locks := &fakeLocker{busy: true}
	router := &fakeRouter{}
	w := NewWorker("worker-1", locks, router, &fakeStore{req: approvedRequest()}, &fakeNotifier{}, logging.NopLogger{})

	err := w.Handle(context.Background(), testJob())
	if !errors.Is(err, queryportal.ErrChannelBusy) {
		t.Fatalf("err = %v", err)
	}
	if router.calls != 0 {
		t.Fatal("executed despite busy channel")
	}
	if len(locks.releases) != 0 {
		t.Fatal("released a lock it never held")
	}
}

func TestHandleSkipsTerminalRequest(t *testing.T) {
	req := approvedRequest()
	req.Status = queryportal.StatusExecuted
	router := &fakeRouter{}
	st := &fakeStore{req: req}
	w := NewWorker("worker-1", &fakeLocker{}, router, st, &fakeNotifier{}, logging.NopLogger{})

	if err := w.Handle(context.Background(), testJob()); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if router.calls != 0 {
		t.Fatal("terminal request re-executed")
	}
	if st.setCalls != 0 {
		t.Fatal("outcome overwritten on terminal request")
	}
}

func TestHandleMissingRequestCompletesJob(t *testing.T) {
	st := &fakeStore{getErr: queryportal.ErrNotFound}
	router := &fakeRouter{}
	w := NewWorker("worker-1", &fakeLocker{}, router, st, &fakeNotifier{}, logging.NopLogger{})

	if err := w.Handle(context.Background(), testJob()); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if router.calls != 0 {
		t.Fatal("executed a missing request")
	}
}

func TestHandlePersistFailureRetries(t *testing.T) {
	st := &fakeStore{req: approvedRequest(), setErr: errors.New("connection reset")}
	notifier := &fakeNotifier{}
	locks := &fakeLocker{}
	w := NewWorker("worker-1", locks, &fakeRouter{outcome: queryportal.Outcome{Success: true}}, st, notifier, logging.NopLogger{})

	if err := w.Handle(context.Background(), testJob()); err == nil {
		t.Fatal("expected error when persist fails")
	}
	if st.setCalls != 2 {
		t.Fatalf("persist attempts = %d, want outcome plus best-effort failure", st.setCalls)
	}
	if len(notifier.kinds) != 0 {
		t.Fatal("notified despite unpersisted outcome")
	}
	if len(locks.releases) != 1 {
		t.Fatal("lock not released on failure")
	}
}

type eventLog struct {
	events []string
}

type orderedLocker struct{ log *eventLog }

func (l *orderedLocker) Acquire(ctx context.Context, channelKey string) bool {
	l.log.events = append(l.log.events, "acquire")
	return true
}

func (l *orderedLocker) Release(ctx context.Context, channelKey string) {
	l.log.events = append(l.log.events, "release")
}

type orderedRouter struct{ log *eventLog }

func (r *orderedRouter) Execute(ctx context.Context, req *queryportal.ExecutionRequest) queryportal.Outcome {
	r.log.events = append(r.log.events, "execute")
	return queryportal.Outcome{Success: true}
}

type orderedStore struct{ log *eventLog }

func (s *orderedStore) GetRequestByID(ctx context.Context, id string) (*queryportal.ExecutionRequest, error) {
	return approvedRequest(), nil
}

func (s *orderedStore) SetExecutionOutcome(ctx context.Context, id string, out queryportal.Outcome) error {
	s.log.events = append(s.log.events, "persist")
	return nil
}

type orderedNotifier struct{ log *eventLog }

func (n *orderedNotifier) Notify(ctx context.Context, kind queryportal.NotificationKind, req *queryportal.ExecutionRequest, executorID string, outcome *queryportal.Outcome, reason string) {
	n.log.events = append(n.log.events, "notify")
}

// The lock must outlive persistence and notification so observers on a
// channel see results in execution order.
func TestHandleReleasesLockLast(t *testing.T) {
	log := &eventLog{}
	w := NewWorker("worker-1",
		&orderedLocker{log}, &orderedRouter{log}, &orderedStore{log}, &orderedNotifier{log},
		logging.NopLogger{})

	if err := w.Handle(context.Background(), testJob()); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	want := []string{"acquire", "execute", "persist", "notify", "notify", "release"}
	if len(log.events) != len(want) {
		t.Fatalf("events = %v", log.events)
	}
	for i, e := range want {
		if log.events[i] != e {
			t.Fatalf("events = %v, want %v", log.events, want)
		}
	}
}

type fakeEnqueuer struct {
	jobID string
	err   error
	calls int
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, channelKey, requestID, approverID string) (string, error) {
	f.calls++
	return f.jobID, f.err
}

func TestOnApprovedQueues(t *testing.T) {
	q := &fakeEnqueuer{jobID: "job-9"}
	d := NewDispatcher(q, logging.NopLogger{})

	queued, err := d.OnApproved(context.Background(), approvedRequest(), "admin")
	if err != nil || !queued {
		t.Fatalf("queued=%v err=%v", queued, err)
	}
}

func TestOnApprovedSuppressedDuplicate(t *testing.T) {
	q := &fakeEnqueuer{jobID: ""}
	d := NewDispatcher(q, logging.NopLogger{})

	queued, err := d.OnApproved(context.Background(), approvedRequest(), "admin")
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if queued {
		t.Fatal("duplicate reported as queued")
	}
}
