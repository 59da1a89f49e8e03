package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/swarmgrid/swarm-core/internal/db"
	"github.com/swarmgrid/swarm-core/model"
)

type MetricRepository struct {
	db *db.DB
}

func NewMetricRepository(db *db.DB) *MetricRepository {
	return &MetricRepository{db: db}
}

// CreateBatch bulk-loads one metric frame's samples.
func (r *MetricRepository) CreateBatch(ctx context.Context, metrics []*model.JobMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, []any{m.JobID, m.WorkerID, m.RecordedAt, m.Key, m.Value})
	}
	_, err := r.db.Pool.CopyFrom(
		ctx,
		pgx.Identifier{"job_metrics"},
		[]string{"job_id", "worker_id", "recorded_at", "key", "value"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return classifyStoreErr("job_metrics.CreateBatch", err)
	}
	return nil
}

// ListByJob returns a job's metric series in chronological order.
func (r *MetricRepository) ListByJob(ctx context.Context, jobID int64) ([]*model.JobMetric, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, job_id, worker_id, recorded_at, key, value
		FROM job_metrics
		WHERE job_id = $1
		ORDER BY recorded_at ASC, id ASC`, jobID)
	if err != nil {
		return nil, classifyStoreErr("job_metrics.ListByJob", err)
	}
	defer rows.Close()

	var metrics []*model.JobMetric
	for rows.Next() {
		var m model.JobMetric
		if err := rows.Scan(&m.ID, &m.JobID, &m.WorkerID, &m.RecordedAt, &m.Key, &m.Value); err != nil {
			return nil, err
		}
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}
