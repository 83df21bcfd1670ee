// Package store persists execution requests in Postgres. It implements the
// narrow surface the worker consumes; request intake and the approval
// workflow live upstream and only their finished rows pass through here.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	queryportal "github.com/harshg-zluri/db-query-portal-sub000"
)

type Store struct {
	pool   *pgxpool.Pool
	logger queryportal.Logger
}

func New(pool *pgxpool.Pool, logger queryportal.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// Init creates the backing table when it does not exist yet.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, queryInitTable); err != nil {
		return fmt.Errorf("init execution_requests: %w", err)
	}
	return nil
}

func (s *Store) GetRequestByID(ctx context.Context, id string) (*queryportal.ExecutionRequest, error) {
	var req queryportal.ExecutionRequest
	err := s.pool.QueryRow(ctx, queryGetByID, id).Scan(
		&req.ID, &req.Backend, &req.InstanceID, &req.Database,
		&req.Kind, &req.Payload, &req.Status, &req.RequesterID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queryportal.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", id, err)
	}
	return &req, nil
}

// CreateRequest inserts an approved request. Used by intake wiring and by
// integration tooling; the worker itself only reads.
func (s *Store) CreateRequest(ctx context.Context, req *queryportal.ExecutionRequest) error {
	_, err := s.pool.Exec(ctx, queryCreate,
		req.ID, req.Backend, req.InstanceID, req.Database,
		req.Kind, req.Payload, req.Status, req.RequesterID,
	)
	if err != nil {
		return fmt.Errorf("create request %s: %w", req.ID, err)
	}
	return nil
}

func (s *Store) SetExecutionOutcome(ctx context.Context, id string, out queryportal.Outcome) error {
	status := queryportal.StatusExecuted
	var result, errMsg interface{}
	if out.Success {
		result = out.Output
	} else {
		status = queryportal.StatusFailed
		errMsg = out.Error
	}

	tag, err := s.pool.Exec(ctx, querySetOutcome, id,
		status, result, out.Compressed, out.OriginalSize, out.RowCount, errMsg)
	if err != nil {
		return fmt.Errorf("set outcome for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Warn("store: outcome for unknown request dropped", "request_id", id)
	}
	return nil
}
