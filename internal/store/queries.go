package store

const queryInitTable = `
CREATE TABLE IF NOT EXISTS execution_requests (
	id UUID PRIMARY KEY,
	backend TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	database_name TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	requester_id TEXT NOT NULL DEFAULT '',
	result TEXT,
	result_compressed BOOLEAN NOT NULL DEFAULT FALSE,
	result_original_size BIGINT NOT NULL DEFAULT 0,
	row_count BIGINT NOT NULL DEFAULT 0,
	error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	executed_at TIMESTAMPTZ
)`

const queryGetByID = `
SELECT id, backend, instance_id, database_name, kind, payload, status, requester_id
FROM execution_requests
WHERE id = $1`

const queryCreate = `
INSERT INTO execution_requests (id, backend, instance_id, database_name, kind, payload, status, requester_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const querySetOutcome = `
UPDATE execution_requests
SET status = $2,
	result = $3,
	result_compressed = $4,
	result_original_size = $5,
	row_count = $6,
	error = $7,
	executed_at = now()
WHERE id = $1`
