package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/internal/db"
	"github.com/swarmgrid/swarm-core/internal/tracer"
	"github.com/swarmgrid/swarm-core/model"
)

// AssignmentRepository owns every transition that binds or unbinds a job
// and a worker. Each transition is one transaction over the jobs,
// job_assignments and worker_status rows, so an abort at any suspension
// point never leaves an assignment half-created.
type AssignmentRepository struct {
	db *db.DB
}

func NewAssignmentRepository(db *db.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

const assignmentColumns = `id, job_id, worker_id, issued_at, acknowledged_at, completed_at, expired`

func scanAssignment(row pgx.Row) (*model.JobAssignment, error) {
	var a model.JobAssignment
	err := row.Scan(&a.ID, &a.JobID, &a.WorkerID, &a.IssuedAt,
		&a.AcknowledgedAt, &a.CompletedAt, &a.Expired)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Claim atomically binds a queued job to an idle worker: creates the
// assignment, moves the job to Running and the worker to Busy. Returns
// Conflict when either side was grabbed concurrently; the caller releases
// the job back to the queue and retries next tick.
func (r *AssignmentRepository) Claim(ctx context.Context, jobID, workerID int64) (*model.JobAssignment, error) {
	t := tracer.GetTracer()
	ctx, span := t.Start(ctx, "Postgres/ClaimAssignment")
	defer span.End()

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreErr("assignments.Claim", err)
	}
	defer tx.Rollback(ctx)

	var jobState model.JobState
	err = tx.QueryRow(ctx,
		`SELECT state FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&jobState)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("job", jobID)
		}
		return nil, classifyStoreErr("assignments.Claim", err)
	}
	if jobState != model.JobQueued {
		return nil, apperrors.Conflict("job", "job is no longer queued")
	}

	var workerState model.WorkerState
	err = tx.QueryRow(ctx,
		`SELECT state FROM worker_status WHERE worker_id = $1 FOR UPDATE`,
		workerID).Scan(&workerState)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("worker_status", workerID)
		}
		return nil, classifyStoreErr("assignments.Claim", err)
	}
	if workerState != model.WorkerIdle {
		return nil, apperrors.Conflict("worker", "worker is no longer idle")
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO job_assignments (job_id, worker_id, issued_at, expired)
		VALUES ($1, $2, now(), false)
		RETURNING `+assignmentColumns,
		jobID, workerID)
	a, err := scanAssignment(row)
	if err != nil {
		tracer.RecordSpanError(span, err)
		if isUniqueViolation(err) {
			return nil, apperrors.Conflict("assignment", "job already has an active assignment")
		}
		return nil, classifyStoreErr("assignments.Claim", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE jobs SET state = 'Running', started_at = now() WHERE id = $1`, jobID)
	if err != nil {
		return nil, classifyStoreErr("assignments.Claim", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE worker_status SET state = 'Busy', active_job_id = $2 WHERE worker_id = $1`,
		workerID, jobID)
	if err != nil {
		return nil, classifyStoreErr("assignments.Claim", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreErr("assignments.Claim", err)
	}
	return a, nil
}

// Acknowledge stamps the worker's ack on an active assignment.
func (r *AssignmentRepository) Acknowledge(ctx context.Context, assignmentID int64) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE job_assignments
		SET acknowledged_at = now()
		WHERE id = $1 AND completed_at IS NULL`,
		assignmentID)
	if err != nil {
		return classifyStoreErr("assignments.Acknowledge", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("assignment", assignmentID)
	}
	return nil
}

// Complete closes the assignment on a terminal result: job goes
// Completed/Failed, the worker returns to Idle. Harvester is the only
// caller; terminal job transitions exist nowhere else.
func (r *AssignmentRepository) Complete(ctx context.Context, jobID int64, state model.JobState, failureReason *string) error {
	if state != model.JobCompleted && state != model.JobFailed {
		return apperrors.Integrity("assignments.Complete",
			"complete called with non-terminal state "+string(state))
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return classifyStoreErr("assignments.Complete", err)
	}
	defer tx.Rollback(ctx)

	var (
		assignmentID int64
		workerID     int64
	)
	err = tx.QueryRow(ctx, `
		SELECT id, worker_id FROM job_assignments
		WHERE job_id = $1 AND completed_at IS NULL
		FOR UPDATE`, jobID).Scan(&assignmentID, &workerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.StaleFrame(jobID)
		}
		return classifyStoreErr("assignments.Complete", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE job_assignments SET completed_at = now() WHERE id = $1`, assignmentID)
	if err != nil {
		return classifyStoreErr("assignments.Complete", err)
	}
	// A terminal Push job's delivery schedule opens immediately, so the
	// resume scan finds it even if the broker enqueue never lands.
	_, err = tx.Exec(ctx, `
		UPDATE jobs SET state = $2, failure_reason = $3, ended_at = now(),
			push_next_attempt_at = CASE WHEN fetch_style = 'Push' THEN now()
			                            ELSE push_next_attempt_at END
		WHERE id = $1`, jobID, state, failureReason)
	if err != nil {
		return classifyStoreErr("assignments.Complete", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE worker_status SET state = 'Idle', active_job_id = NULL
		WHERE worker_id = $1`, workerID)
	if err != nil {
		return classifyStoreErr("assignments.Complete", err)
	}
	return tx.Commit(ctx)
}

// Expire voids an unacknowledged assignment: the job returns to Queued
// and the worker to Idle. Used by the dispatcher on ack timeout and by
// job-cancel while a dispatch is in flight.
func (r *AssignmentRepository) Expire(ctx context.Context, assignmentID int64) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return classifyStoreErr("assignments.Expire", err)
	}
	defer tx.Rollback(ctx)

	var jobID, workerID int64
	err = tx.QueryRow(ctx, `
		SELECT job_id, worker_id FROM job_assignments
		WHERE id = $1 AND completed_at IS NULL
		FOR UPDATE`, assignmentID).Scan(&jobID, &workerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("assignment", assignmentID)
		}
		return classifyStoreErr("assignments.Expire", err)
	}

	if err := expireOne(ctx, tx, assignmentID, jobID, workerID, model.WorkerIdle); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ExpireForWorker voids every active assignment held by a worker and
// moves the worker to Offline. Used on missed heartbeats and by the
// hibernator's park sweep; the expired jobs are requeued for the next
// scheduling tick.
func (r *AssignmentRepository) ExpireForWorker(ctx context.Context, workerID int64) (int, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, classifyStoreErr("assignments.ExpireForWorker", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, job_id FROM job_assignments
		WHERE worker_id = $1 AND completed_at IS NULL
		FOR UPDATE`, workerID)
	if err != nil {
		return 0, classifyStoreErr("assignments.ExpireForWorker", err)
	}
	type pair struct{ assignmentID, jobID int64 }
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.assignmentID, &p.jobID); err != nil {
			rows.Close()
			return 0, err
		}
		pairs = append(pairs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, classifyStoreErr("assignments.ExpireForWorker", err)
	}

	for _, p := range pairs {
		if err := expireOne(ctx, tx, p.assignmentID, p.jobID, workerID, model.WorkerOffline); err != nil {
			return 0, err
		}
	}
	if len(pairs) == 0 {
		// No active work; still force the status transition.
		_, err = tx.Exec(ctx, `
			UPDATE worker_status SET state = 'Offline', active_job_id = NULL
			WHERE worker_id = $1`, workerID)
		if err != nil {
			return 0, classifyStoreErr("assignments.ExpireForWorker", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, classifyStoreErr("assignments.ExpireForWorker", err)
	}
	return len(pairs), nil
}

// ExpireAllActive voids every assignment still active, requeueing the
// jobs and idling the workers. The Core runs it at the end of the
// shutdown drain so no assignment outlives the process in active state.
func (r *AssignmentRepository) ExpireAllActive(ctx context.Context) (int, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, classifyStoreErr("assignments.ExpireAllActive", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, job_id, worker_id FROM job_assignments
		WHERE completed_at IS NULL
		FOR UPDATE`)
	if err != nil {
		return 0, classifyStoreErr("assignments.ExpireAllActive", err)
	}
	type active struct{ assignmentID, jobID, workerID int64 }
	var actives []active
	for rows.Next() {
		var a active
		if err := rows.Scan(&a.assignmentID, &a.jobID, &a.workerID); err != nil {
			rows.Close()
			return 0, err
		}
		actives = append(actives, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, classifyStoreErr("assignments.ExpireAllActive", err)
	}

	for _, a := range actives {
		if err := expireOne(ctx, tx, a.assignmentID, a.jobID, a.workerID, model.WorkerIdle); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, classifyStoreErr("assignments.ExpireAllActive", err)
	}
	return len(actives), nil
}

func expireOne(ctx context.Context, tx pgx.Tx, assignmentID, jobID, workerID int64, workerTo model.WorkerState) error {
	_, err := tx.Exec(ctx, `
		UPDATE job_assignments
		SET completed_at = now(), expired = true
		WHERE id = $1`, assignmentID)
	if err != nil {
		return classifyStoreErr("assignments.expireOne", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE jobs SET state = 'Queued', started_at = NULL
		WHERE id = $1 AND state = 'Running'`, jobID)
	if err != nil {
		return classifyStoreErr("assignments.expireOne", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE worker_status SET state = $2, active_job_id = NULL
		WHERE worker_id = $1`, workerID, workerTo)
	if err != nil {
		return classifyStoreErr("assignments.expireOne", err)
	}
	return nil
}

func (r *AssignmentRepository) GetByID(ctx context.Context, id int64) (*model.JobAssignment, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM job_assignments WHERE id = $1`, id)
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("assignment", id)
		}
		return nil, classifyStoreErr("assignments.GetByID", err)
	}
	return a, nil
}

func (r *AssignmentRepository) ListByJob(ctx context.Context, jobID int64) ([]*model.JobAssignment, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+assignmentColumns+` FROM job_assignments
		WHERE job_id = $1 ORDER BY issued_at`, jobID)
	if err != nil {
		return nil, classifyStoreErr("assignments.ListByJob", err)
	}
	defer rows.Close()

	var as []*model.JobAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		as = append(as, a)
	}
	return as, rows.Err()
}

func (r *AssignmentRepository) ListByWorker(ctx context.Context, workerID int64) ([]*model.JobAssignment, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+assignmentColumns+` FROM job_assignments
		WHERE worker_id = $1 ORDER BY issued_at DESC`, workerID)
	if err != nil {
		return nil, classifyStoreErr("assignments.ListByWorker", err)
	}
	defer rows.Close()

	var as []*model.JobAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		as = append(as, a)
	}
	return as, rows.Err()
}
