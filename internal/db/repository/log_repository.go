package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/swarmgrid/swarm-core/internal/db"
	"github.com/swarmgrid/swarm-core/model"
)

type LogRepository struct {
	db *db.DB
}

func NewLogRepository(db *db.DB) *LogRepository {
	return &LogRepository{db: db}
}

func (r *LogRepository) Create(ctx context.Context, e *model.LogEntry) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO logs (subsystem, job_id, severity, payload, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		e.Subsystem, e.JobID, e.Severity, e.Payload)
	if err != nil {
		return classifyStoreErr("logs.Create", err)
	}
	return nil
}

// ListRecent returns the newest entries first.
func (r *LogRepository) ListRecent(ctx context.Context, limit int) ([]*model.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, subsystem, job_id, severity, payload, created_at
		FROM logs
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, classifyStoreErr("logs.ListRecent", err)
	}
	defer rows.Close()
	return collectLogs(rows)
}

// ListByJob returns a job's log entries in chronological order.
func (r *LogRepository) ListByJob(ctx context.Context, jobID int64) ([]*model.LogEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, subsystem, job_id, severity, payload, created_at
		FROM logs
		WHERE job_id = $1
		ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, classifyStoreErr("logs.ListByJob", err)
	}
	defer rows.Close()
	return collectLogs(rows)
}

func collectLogs(rows pgx.Rows) ([]*model.LogEntry, error) {
	var entries []*model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		if err := rows.Scan(&e.ID, &e.Subsystem, &e.JobID, &e.Severity, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
