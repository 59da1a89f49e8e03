package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/internal/db"
	"github.com/swarmgrid/swarm-core/internal/tracer"
	"github.com/swarmgrid/swarm-core/model"
)

type JobRepository struct {
	db *db.DB
}

func NewJobRepository(db *db.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `
	id, user_id, name, image_ref, image_format, runtime_flags,
	output_type, output_paths, fetch_style, schedule_type, cron_expr,
	priority, checksum, state, failure_reason, cold,
	created_at, started_at, ended_at, archived_at,
	push_address, push_user, push_key, push_dest_path,
	push_max_retries, push_current_try, push_retry_interval_secs,
	push_max_interval_secs, push_backoff, push_next_attempt_at,
	push_use_checksum, push_hash_algorithm`

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j           model.Job
		pushAddr    *string
		pushUser    *string
		pushKey     *string
		pushDest    *string
		pushMax     *int
		pushTry     *int
		pushIvl     *int64
		pushMaxIvl  *int64
		pushBackoff *model.BackoffKind
		pushNext    *time.Time
		pushCk      *bool
		pushHash    *string
	)
	err := row.Scan(
		&j.ID, &j.UserID, &j.Name, &j.ImageRef, &j.ImageFormat, &j.RuntimeFlags,
		&j.OutputType, &j.OutputPaths, &j.FetchStyle, &j.ScheduleType, &j.CronExpr,
		&j.Priority, &j.Checksum, &j.State, &j.FailureReason, &j.Cold,
		&j.CreatedAt, &j.StartedAt, &j.EndedAt, &j.ArchivedAt,
		&pushAddr, &pushUser, &pushKey, &pushDest,
		&pushMax, &pushTry, &pushIvl,
		&pushMaxIvl, &pushBackoff, &pushNext,
		&pushCk, &pushHash,
	)
	if err != nil {
		return nil, err
	}
	if j.FetchStyle == model.FetchPush && pushAddr != nil {
		j.Push = &model.PushCredentials{
			Address:           *pushAddr,
			User:              deref(pushUser),
			Key:               pushKey,
			DestinationPath:   deref(pushDest),
			MaxRetries:        derefInt(pushMax),
			CurrentTry:        derefInt(pushTry),
			RetryIntervalSecs: derefInt64(pushIvl),
			MaxIntervalSecs:   derefInt64(pushMaxIvl),
			NextAttemptAt:     pushNext,
			UseChecksum:       pushCk != nil && *pushCk,
			HashAlgorithm:     pushHash,
		}
		if pushBackoff != nil {
			j.Push.Backoff = *pushBackoff
		}
	}
	return &j, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

func derefInt64(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}

// Create persists a submission in Queued state.
func (r *JobRepository) Create(ctx context.Context, req model.JobRequest) (*model.Job, error) {
	t := tracer.GetTracer()
	ctx, span := t.Start(ctx, "Postgres/CreateJob")
	defer span.End()

	if req.ImageRef == "" {
		return nil, apperrors.Validation("imageRef", "image reference cannot be empty")
	}
	if req.ScheduleType == model.ScheduleCron && (req.CronExpr == nil || *req.CronExpr == "") {
		return nil, apperrors.Validation("cronExpr", "cron schedule requires an expression")
	}
	if req.FetchStyle == model.FetchPush && req.Push == nil {
		return nil, apperrors.Validation("push", "push delivery requires credentials")
	}

	var (
		pushAddr, pushUser, pushDest, pushHash *string
		pushKey                                *string
		pushMax, pushTry                       *int
		pushIvl, pushMaxIvl                    *int64
		pushBackoff                            *model.BackoffKind
		pushCk                                 *bool
	)
	if req.Push != nil {
		p := req.Push
		pushAddr, pushUser, pushDest = &p.Address, &p.User, &p.DestinationPath
		pushKey, pushHash = p.Key, p.HashAlgorithm
		pushMax, pushTry = &p.MaxRetries, &p.CurrentTry
		pushIvl, pushMaxIvl = &p.RetryIntervalSecs, &p.MaxIntervalSecs
		pushBackoff, pushCk = &p.Backoff, &p.UseChecksum
	}

	row := r.db.Pool.QueryRow(ctx, `
		INSERT INTO jobs (
			user_id, name, image_ref, image_format, runtime_flags,
			output_type, output_paths, fetch_style, schedule_type, cron_expr,
			priority, checksum, state, cold, created_at,
			push_address, push_user, push_key, push_dest_path,
			push_max_retries, push_current_try, push_retry_interval_secs,
			push_max_interval_secs, push_backoff, push_next_attempt_at,
			push_use_checksum, push_hash_algorithm
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,'Queued',false,now(),
		        $13,$14,$15,$16,$17,$18,$19,$20,$21,NULL,$22,$23)
		RETURNING `+jobColumns,
		req.UserID, req.Name, req.ImageRef, req.ImageFormat, req.RuntimeFlags,
		req.OutputType, req.OutputPaths, req.FetchStyle, req.ScheduleType, req.CronExpr,
		req.Priority, req.Checksum,
		pushAddr, pushUser, pushKey, pushDest,
		pushMax, pushTry, pushIvl, pushMaxIvl, pushBackoff, pushCk, pushHash,
	)
	job, err := scanJob(row)
	if err != nil {
		tracer.RecordSpanError(span, err)
		return nil, classifyStoreErr("jobs.Create", err)
	}
	return job, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("job", id)
		}
		return nil, classifyStoreErr("jobs.GetByID", err)
	}
	return job, nil
}

// List returns the hot view, recent first, keyset-paginated by id.
func (r *JobRepository) List(ctx context.Context, beforeID int64) ([]*model.Job, error) {
	const limit = 25
	var (
		rows pgx.Rows
		err  error
	)
	if beforeID == 0 {
		rows, err = r.db.Pool.Query(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE archived_at IS NULL
			ORDER BY id DESC
			LIMIT $1`, limit)
	} else {
		rows, err = r.db.Pool.Query(ctx, `
			SELECT `+jobColumns+` FROM jobs
			WHERE archived_at IS NULL AND id < $1
			ORDER BY id DESC
			LIMIT $2`, beforeID, limit)
	}
	if err != nil {
		return nil, classifyStoreErr("jobs.List", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *JobRepository) ListByUser(ctx context.Context, userID int64) ([]*model.Job, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE user_id = $1 AND archived_at IS NULL
		ORDER BY id DESC`, userID)
	if err != nil {
		return nil, classifyStoreErr("jobs.ListByUser", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListQueued is the scheduler's view: queued, hot, not parked cold,
// ordered (priority DESC, created_at ASC, id ASC). Cron eligibility is
// computed by the scheduler since it needs expression evaluation.
func (r *JobRepository) ListQueued(ctx context.Context) ([]*model.Job, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = 'Queued' AND archived_at IS NULL AND NOT cold
		ORDER BY priority DESC, created_at ASC, id ASC`)
	if err != nil {
		return nil, classifyStoreErr("jobs.ListQueued", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]*model.Job, error) {
	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateMeta patches caller-editable fields. Lifecycle state is not
// touchable here; transitions go through the assignment repository.
func (r *JobRepository) UpdateMeta(ctx context.Context, j *model.Job) (*model.Job, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE jobs
		SET name = $2, runtime_flags = $3, priority = $4, checksum = $5
		WHERE id = $1 AND archived_at IS NULL`,
		j.ID, j.Name, j.RuntimeFlags, j.Priority, j.Checksum)
	if err != nil {
		return nil, classifyStoreErr("jobs.UpdateMeta", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperrors.NotFound("job", j.ID)
	}
	return r.GetByID(ctx, j.ID)
}

func (r *JobRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return classifyStoreErr("jobs.Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("job", id)
	}
	return nil
}

// TagCold marks queued jobs created before the cutoff as eligible for
// archival and returns how many were tagged.
func (r *JobRepository) TagCold(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE jobs
		SET cold = true
		WHERE state = 'Queued' AND NOT cold AND archived_at IS NULL
		  AND created_at < $1`, cutoff)
	if err != nil {
		return 0, classifyStoreErr("jobs.TagCold", err)
	}
	return tag.RowsAffected(), nil
}

// UpdatePushState persists retry progress so a Core restart resumes the
// back-off where it left off. current_try never exceeds max_retries.
func (r *JobRepository) UpdatePushState(ctx context.Context, jobID int64, currentTry int, intervalSecs int64, nextAttempt *time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE jobs
		SET push_current_try = LEAST($2, push_max_retries),
		    push_retry_interval_secs = $3,
		    push_next_attempt_at = $4
		WHERE id = $1 AND fetch_style = 'Push'`,
		jobID, currentTry, intervalSecs, nextAttempt)
	if err != nil {
		return classifyStoreErr("jobs.UpdatePushState", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("job", jobID)
	}
	return nil
}

// DowngradeToPull flips an exhausted push job to pull delivery in place.
func (r *JobRepository) DowngradeToPull(ctx context.Context, jobID int64) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE jobs
		SET fetch_style = 'Pull', push_next_attempt_at = NULL
		WHERE id = $1 AND fetch_style = 'Push'`,
		jobID)
	if err != nil {
		return classifyStoreErr("jobs.DowngradeToPull", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("job", jobID)
	}
	return nil
}

// ListPendingPush returns terminal push jobs whose retry schedule is
// still open, so a restarted delivery worker can resume them.
func (r *JobRepository) ListPendingPush(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id FROM jobs
		WHERE fetch_style = 'Push'
		  AND state IN ('Completed', 'Failed')
		  AND push_next_attempt_at IS NOT NULL
		  AND archived_at IS NULL`)
	if err != nil {
		return nil, classifyStoreErr("jobs.ListPendingPush", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByState returns the number of unarchived jobs in the given state.
func (r *JobRepository) CountByState(ctx context.Context, state model.JobState) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM jobs WHERE state = $1 AND archived_at IS NULL`,
		state).Scan(&n)
	if err != nil {
		return 0, classifyStoreErr("jobs.CountByState", err)
	}
	return n, nil
}
