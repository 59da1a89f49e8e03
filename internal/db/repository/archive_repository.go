package repository

import (
	"context"

	"github.com/swarmgrid/swarm-core/internal/db"
	"github.com/swarmgrid/swarm-core/internal/tracer"
)

// ArchivedJob names one job moved to the cold partition, with the object
// keys of its artifacts so the caller can relocate them.
type ArchivedJob struct {
	JobID        int64
	ArtifactKeys []string
}

// ArchiveRepository moves terminal and cold jobs into the cold partition.
// Archival stamps archived_at on the job and its dependent rows in a
// single transaction; hot views filter on it.
type ArchiveRepository struct {
	db *db.DB
}

func NewArchiveRepository(db *db.DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// ArchiveEligible relocates every unarchived job that is either terminal
// or cold-tagged, and returns the affected jobs with their artifact keys.
func (r *ArchiveRepository) ArchiveEligible(ctx context.Context) ([]ArchivedJob, error) {
	t := tracer.GetTracer()
	ctx, span := t.Start(ctx, "Postgres/ArchiveEligible")
	defer span.End()

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreErr("archive.ArchiveEligible", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE jobs
		SET archived_at = now()
		WHERE archived_at IS NULL
		  AND (state IN ('Completed', 'Failed') OR cold)
		  AND push_next_attempt_at IS NULL
		RETURNING id`)
	if err != nil {
		tracer.RecordSpanError(span, err)
		return nil, classifyStoreErr("archive.ArchiveEligible", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classifyStoreErr("archive.ArchiveEligible", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	for _, table := range []string{"job_results", "job_metrics", "logs"} {
		_, err = tx.Exec(ctx, `
			UPDATE `+table+`
			SET archived_at = now()
			WHERE archived_at IS NULL AND job_id = ANY($1)`, ids)
		if err != nil {
			tracer.RecordSpanError(span, err)
			return nil, classifyStoreErr("archive.ArchiveEligible", err)
		}
	}

	archived := make([]ArchivedJob, 0, len(ids))
	for _, id := range ids {
		keyRows, err := tx.Query(ctx, `
			SELECT unnest(output_files) FROM job_results WHERE job_id = $1`, id)
		if err != nil {
			return nil, classifyStoreErr("archive.ArchiveEligible", err)
		}
		var keys []string
		for keyRows.Next() {
			var k string
			if err := keyRows.Scan(&k); err != nil {
				keyRows.Close()
				return nil, err
			}
			keys = append(keys, k)
		}
		keyRows.Close()
		if err := keyRows.Err(); err != nil {
			return nil, classifyStoreErr("archive.ArchiveEligible", err)
		}
		archived = append(archived, ArchivedJob{JobID: id, ArtifactKeys: keys})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreErr("archive.ArchiveEligible", err)
	}
	return archived, nil
}
