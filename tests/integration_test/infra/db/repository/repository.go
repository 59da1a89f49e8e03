package repository

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            bigserial PRIMARY KEY,
	username      text NOT NULL UNIQUE,
	email         text NOT NULL DEFAULT '',
	password_hash text NOT NULL DEFAULT '',
	created_at    timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS workers (
	id           bigserial PRIMARY KEY,
	admin_id     bigint NOT NULL REFERENCES users(id),
	label        text NOT NULL,
	ip_address   text NOT NULL DEFAULT '',
	last_seen_at timestamptz NOT NULL DEFAULT now(),
	UNIQUE (admin_id, label)
);

CREATE TABLE IF NOT EXISTS worker_status (
	worker_id      bigint PRIMARY KEY REFERENCES workers(id) ON DELETE CASCADE,
	state          text NOT NULL,
	last_heartbeat timestamptz NOT NULL DEFAULT now(),
	active_job_id  bigint,
	uptime_secs    bigint NOT NULL DEFAULT 0,
	load_avg       real NOT NULL DEFAULT 0,
	last_error     text
);

CREATE TABLE IF NOT EXISTS jobs (
	id                       bigserial PRIMARY KEY,
	user_id                  bigint NOT NULL REFERENCES users(id),
	name                     text NOT NULL DEFAULT '',
	image_ref                text NOT NULL,
	image_format             text NOT NULL,
	runtime_flags            text[],
	output_type              text NOT NULL,
	output_paths             text[],
	fetch_style              text NOT NULL,
	schedule_type            text NOT NULL,
	cron_expr                text,
	priority                 int NOT NULL DEFAULT 0,
	checksum                 text,
	state                    text NOT NULL DEFAULT 'Queued',
	failure_reason           text,
	cold                     boolean NOT NULL DEFAULT false,
	created_at               timestamptz NOT NULL DEFAULT now(),
	started_at               timestamptz,
	ended_at                 timestamptz,
	archived_at              timestamptz,
	push_address             text,
	push_user                text,
	push_key                 text,
	push_dest_path           text,
	push_max_retries         int,
	push_current_try         int,
	push_retry_interval_secs bigint,
	push_max_interval_secs   bigint,
	push_backoff             text,
	push_next_attempt_at     timestamptz,
	push_use_checksum        boolean,
	push_hash_algorithm      text
);

CREATE TABLE IF NOT EXISTS job_assignments (
	id              bigserial PRIMARY KEY,
	job_id          bigint NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	worker_id       bigint NOT NULL REFERENCES workers(id),
	issued_at       timestamptz NOT NULL DEFAULT now(),
	acknowledged_at timestamptz,
	completed_at    timestamptz,
	expired         boolean NOT NULL DEFAULT false
);

CREATE UNIQUE INDEX IF NOT EXISTS job_assignments_active
	ON job_assignments (job_id) WHERE completed_at IS NULL;

CREATE TABLE IF NOT EXISTS job_results (
	id           bigserial PRIMARY KEY,
	job_id       bigint NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	stdout       text,
	output_files text[],
	created_at   timestamptz NOT NULL DEFAULT now(),
	archived_at  timestamptz
);

CREATE TABLE IF NOT EXISTS job_metrics (
	id          bigserial PRIMARY KEY,
	job_id      bigint NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	worker_id   bigint NOT NULL,
	recorded_at timestamptz NOT NULL,
	key         text NOT NULL,
	value       text NOT NULL,
	archived_at timestamptz
);

CREATE TABLE IF NOT EXISTS logs (
	id          bigserial PRIMARY KEY,
	subsystem   text NOT NULL,
	job_id      bigint,
	severity    text NOT NULL,
	payload     text NOT NULL,
	created_at  timestamptz NOT NULL DEFAULT now(),
	archived_at timestamptz
);
`

// ApplySchema creates the Core tables. Idempotent, so repeated runs
// against the same database are safe.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		panic(err)
	}
}

// TruncateCoreTables resets every table between test cases.
func TruncateCoreTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		TRUNCATE logs, job_metrics, job_results, job_assignments,
		         jobs, worker_status, workers, users
		RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate failed: %v", err)
	}
}
