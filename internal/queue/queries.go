package queue

const (
	queryInitTable = `CREATE TABLE IF NOT EXISTS execution_jobs (
			id UUID PRIMARY KEY,
			channel_key TEXT NOT NULL,
			request_id TEXT NOT NULL,
			approver_id TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'created',
			retry_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			start_after TIMESTAMPTZ NOT NULL DEFAULT now(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			last_error TEXT
			)`

	// One non-terminal job per channel: the queue-level singleton
	// constraint. The named lock remains the authoritative guard.
	queryInitSingletonIndex = `CREATE UNIQUE INDEX IF NOT EXISTS execution_jobs_singleton
			ON execution_jobs (channel_key)
			WHERE state IN ('created', 'active')`

	queryEnqueue = `INSERT INTO execution_jobs (id, channel_key, request_id, approver_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (channel_key) WHERE state IN ('created', 'active') DO NOTHING
			RETURNING id`

	queryClaimBatch = `UPDATE execution_jobs SET state = 'active', started_at = now()
			WHERE id IN (
				SELECT id FROM execution_jobs
				WHERE state = 'created' AND start_after <= now()
				ORDER BY created_at
				LIMIT $1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, channel_key, request_id, approver_id, retry_count`

	queryComplete = `UPDATE execution_jobs SET state = 'completed', completed_at = now()
			WHERE id = $1`

	// Claims that outlived the visibility timeout: the owning process
	// crashed or lost its completion write. Send them back for redelivery
	// so the singleton index cannot wedge the channel.
	queryExpireStale = `UPDATE execution_jobs
			SET state = 'created', retry_count = retry_count + 1,
				start_after = now(), last_error = 'visibility timeout expired'
			WHERE state = 'active' AND started_at < now() - make_interval(secs => $1)`

	queryReschedule = `UPDATE execution_jobs
			SET state = 'created', retry_count = retry_count + 1, start_after = $2, last_error = $3
			WHERE id = $1`

	queryAbandon = `UPDATE execution_jobs SET state = 'failed', completed_at = now(), last_error = $2
			WHERE id = $1`
)
