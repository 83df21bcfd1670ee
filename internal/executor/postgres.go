package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	queryportal "github.com/harshg-zluri/db-query-portal-sub000"
	"github.com/harshg-zluri/db-query-portal-sub000/pkg/sqlutil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// query_canceled: raised when statement_timeout fires.
const pgCodeQueryCanceled = "57014"

func (r *Router) pgPool(ctx context.Context, inst Instance, database string) (*pgxpool.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pool, ok := r.pgPools[database]; ok {
		return pool, nil
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(inst.User), url.QueryEscape(inst.Password), inst.Host, inst.Port, database)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	r.pgPools[database] = pool
	r.logger.Debug("executor: opened postgres pool", "database", database, "host", inst.Host)
	return pool, nil
}

func (r *Router) executePostgres(ctx context.Context, inst Instance, database, query string) queryportal.Outcome {
	pool, err := r.pgPool(ctx, inst, database)
	if err != nil {
		return queryportal.Failure("backend unavailable: %v", err)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return queryportal.Failure("backend unavailable: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", r.limits.StatementTimeout.Milliseconds())); err != nil {
		return queryportal.Failure("failed to set statement timeout: %v", err)
	}
	if inst.Schema != "" {
		schema, err := sqlutil.QuoteIdent("postgres", inst.Schema)
		if err != nil {
			return queryportal.Failure("configuration error: bad schema %q: %v", inst.Schema, err)
		}
		if _, err := conn.Exec(ctx, "SET search_path TO "+schema); err != nil {
			return queryportal.Failure("failed to set schema %q: %v", inst.Schema, err)
		}
	}

	q := normalizeStatement(query)
	if !isRowReturning(q) {
		tag, err := conn.Exec(ctx, q)
		if err != nil {
			return r.classifyPgError(err)
		}
		n := tag.RowsAffected()
		return queryportal.Outcome{
			Success:  true,
			Output:   fmt.Sprintf("%d row(s) affected", n),
			RowCount: int(n),
		}
	}

	// Pre-flight estimate: reject an oversized result before the real
	// statement runs. Estimation failures fall through to execution; the
	// estimate is a guard, not a gate.
	var estimated int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS preflight", q)
	if err := conn.QueryRow(ctx, countQuery).Scan(&estimated); err == nil {
		if out, oversized := r.rejectOversized(estimated); oversized {
			return out
		}
	} else {
		r.logger.Debug("executor: row estimate unavailable", "database", database, "error", err)
	}

	rows, err := conn.Query(ctx, q)
	if err != nil {
		return r.classifyPgError(err)
	}
	defer rows.Close()

	results, err := collectPgRows(rows)
	if err != nil {
		return r.classifyPgError(err)
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return queryportal.Failure("failed to encode result rows: %v", err)
	}
	return queryportal.Outcome{
		Success:  true,
		Output:   string(payload),
		RowCount: len(results),
	}
}

func collectPgRows(rows pgx.Rows) ([]map[string]interface{}, error) {
	fields := rows.FieldDescriptions()
	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fields))
		for i, f := range fields {
			row[f.Name] = normalizeSQLValue(values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func normalizeSQLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return v
	}
}

func (r *Router) classifyPgError(err error) queryportal.Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return r.timeoutFailure(r.limits.StatementTimeout)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgCodeQueryCanceled || strings.Contains(pgErr.Message, "statement timeout") {
			return r.timeoutFailure(r.limits.StatementTimeout)
		}
		return queryportal.Failure("query failed: %s", pgErr.Message)
	}
	return queryportal.Failure("query failed: %v", err)
}
