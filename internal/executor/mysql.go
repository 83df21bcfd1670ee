package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	queryportal "github.com/harshg-zluri/db-query-portal-sub000"
	_ "github.com/go-sql-driver/mysql"
)

func (r *Router) mysqlDB(inst Instance, database string) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if db, ok := r.mysqlDBs[database]; ok {
		return db, nil
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", inst.User, inst.Password, inst.Host, inst.Port, database)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	r.mysqlDBs[database] = db
	r.logger.Debug("executor: opened mysql pool", "database", database, "host", inst.Host)
	return db, nil
}

func (r *Router) executeMySQL(ctx context.Context, inst Instance, database, query string) queryportal.Outcome {
	db, err := r.mysqlDB(inst, database)
	if err != nil {
		return queryportal.Failure("backend unavailable: %v", err)
	}

	qctx, cancel := context.WithTimeout(ctx, r.limits.StatementTimeout)
	defer cancel()

	q := normalizeStatement(query)
	if !isRowReturning(q) {
		res, err := db.ExecContext(qctx, q)
		if err != nil {
			return r.classifyMySQLError(err)
		}
		n, _ := res.RowsAffected()
		return queryportal.Outcome{
			Success:  true,
			Output:   fmt.Sprintf("%d row(s) affected", n),
			RowCount: int(n),
		}
	}

	var estimated int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS preflight", q)
	if err := db.QueryRowContext(qctx, countQuery).Scan(&estimated); err == nil {
		if out, oversized := r.rejectOversized(estimated); oversized {
			return out
		}
	} else {
		r.logger.Debug("executor: row estimate unavailable", "database", database, "error", err)
	}

	rows, err := db.QueryContext(qctx, q)
	if err != nil {
		return r.classifyMySQLError(err)
	}
	defer rows.Close()

	results, err := collectSQLRows(rows)
	if err != nil {
		return r.classifyMySQLError(err)
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

func collectSQLRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(cols))
		targets := make([]interface{}, len(cols))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = normalizeSQLValue(values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func (r *Router) classifyMySQLError(err error) queryportal.Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return r.timeoutFailure(r.limits.StatementTimeout)
	}
	// Error 3024: query execution interrupted by max_execution_time.
	if strings.Contains(err.Error(), "max_execution_time") || strings.Contains(err.Error(), "Error 3024") {
		return r.timeoutFailure(r.limits.StatementTimeout)
	}
	return queryportal.Failure("query failed: %v", err)
}
