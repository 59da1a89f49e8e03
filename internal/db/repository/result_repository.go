package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/internal/db"
	"github.com/swarmgrid/swarm-core/model"
)

type ResultRepository struct {
	db *db.DB
}

func NewResultRepository(db *db.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

const resultColumns = `id, job_id, stdout, output_files, created_at`

func scanResult(row pgx.Row) (*model.JobResult, error) {
	var res model.JobResult
	err := row.Scan(&res.ID, &res.JobID, &res.Stdout, &res.OutputFiles, &res.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *ResultRepository) Create(ctx context.Context, res *model.JobResult) (*model.JobResult, error) {
	row := r.db.Pool.QueryRow(ctx, `
		INSERT INTO job_results (job_id, stdout, output_files, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING `+resultColumns,
		res.JobID, res.Stdout, res.OutputFiles)
	created, err := scanResult(row)
	if err != nil {
		return nil, classifyStoreErr("job_results.Create", err)
	}
	return created, nil
}

func (r *ResultRepository) GetByID(ctx context.Context, id int64) (*model.JobResult, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM job_results WHERE id = $1`, id)
	res, err := scanResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("job_result", id)
		}
		return nil, classifyStoreErr("job_results.GetByID", err)
	}
	return res, nil
}

// ListByJob returns results for a job, most recent first.
func (r *ResultRepository) ListByJob(ctx context.Context, jobID int64) ([]*model.JobResult, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+resultColumns+` FROM job_results
		WHERE job_id = $1 ORDER BY created_at DESC`, jobID)
	if err != nil {
		return nil, classifyStoreErr("job_results.ListByJob", err)
	}
	defer rows.Close()

	var results []*model.JobResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
