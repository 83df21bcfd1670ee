package queryportal

import (
	"context"
	"errors"
	"fmt"
)

// BackendKind identifies the class of target data store.
type BackendKind string

const (
	BackendPostgres BackendKind = "postgres"
	BackendMySQL    BackendKind = "mysql"
	BackendMongoDB  BackendKind = "mongodb"
)

// Relational reports whether the backend speaks SQL.
func (k BackendKind) Relational() bool {
	return k == BackendPostgres || k == BackendMySQL
}

// SubmissionKind distinguishes plain queries from scripts.
type SubmissionKind string

const (
	SubmissionQuery  SubmissionKind = "query"
	SubmissionScript SubmissionKind = "script"
)

// Status is the lifecycle state of an execution request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
	StatusWithdrawn Status = "withdrawn"
)

// Terminal reports whether the request already carries a final outcome.
// A terminal request must never be executed again.
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusFailed
}

// ExecutionRequest is the approved unit of work. The request-workflow
// subsystem owns its lifecycle; the execution engine only reads it and
// writes back the outcome fields.
type ExecutionRequest struct {
	ID          string
	Backend     BackendKind
	InstanceID  string
	Database    string
	Kind        SubmissionKind
	Payload     string
	Status      Status
	RequesterID string
}

// ChannelKey derives the serialization domain for the request: one target
// database within one backend instance.
func (r *ExecutionRequest) ChannelKey() string {
	return ChannelKey(r.Backend, r.InstanceID, r.Database)
}

// ChannelKey builds the deterministic channel key string. All jobs sharing
// a channel key execute one at a time, in lock-grant order.
func ChannelKey(kind BackendKind, instanceID, database string) string {
	return fmt.Sprintf("%s:%s:%s", kind, instanceID, database)
}

// Outcome is the terminal result of one execution attempt. It is produced
// once per request and never mutated afterwards.
type Outcome struct {
	Success      bool
	Output       string
	RowCount     int
	Error        string
	Compressed   bool
	OriginalSize int
}

// Failure builds a failed outcome with the given user-visible message.
func Failure(format string, args ...interface{}) Outcome {
	return Outcome{Success: false, Error: fmt.Sprintf(format, args...)}
}

// ConnectionDescriptor is the plain-data view of a backend instance handed
// to sandboxed scripts. It never carries a live handle or a raw secret.
type ConnectionDescriptor struct {
	InstanceID    string      `json:"instance_id"`
	Backend       BackendKind `json:"backend"`
	Host          string      `json:"host"`
	Port          int         `json:"port"`
	Database      string      `json:"database"`
	User          string      `json:"user"`
	CredentialRef string      `json:"credential_ref"`
}

// RequestStore is the narrow surface consumed from the request-workflow
// subsystem.
type RequestStore interface {
	GetRequestByID(ctx context.Context, id string) (*ExecutionRequest, error)
	// SetExecutionOutcome persists the outcome onto the request. It is a
	// safe no-op when the id does not exist.
	SetExecutionOutcome(ctx context.Context, id string, out Outcome) error
}

// NotificationKind selects the audience of a notification.
type NotificationKind string

const (
	NotifyResult NotificationKind = "result"
	NotifyAudit  NotificationKind = "audit"
)

// Notifier is the fire-and-forget notification collaborator. Callers must
// treat failures as log-only; a notification can never fail a job.
type Notifier interface {
	Notify(ctx context.Context, kind NotificationKind, req *ExecutionRequest, executorID string, outcome *Outcome, reason string)
}

// Logger defines the structured logging interface used across the engine.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ErrNotFound is returned by stores when an entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrChannelBusy signals that the channel's named lock is held elsewhere.
// It is a "try again later" condition, not a failure; the durable queue's
// retry policy re-delivers the job.
var ErrChannelBusy = errors.New("channel busy")
