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

type WorkerRepository struct {
	db *db.DB
}

func NewWorkerRepository(db *db.DB) *WorkerRepository {
	return &WorkerRepository{db: db}
}

const workerColumns = `id, admin_id, label, ip_address, last_seen_at`

func scanWorker(row pgx.Row) (*model.Worker, error) {
	var w model.Worker
	err := row.Scan(&w.ID, &w.AdminID, &w.Label, &w.IPAddress, &w.LastSeenAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Register creates the worker row and its status row in one transaction,
// so a worker and its WorkerStatus always exist together.
func (r *WorkerRepository) Register(ctx context.Context, w *model.Worker) (*model.Worker, error) {
	t := tracer.GetTracer()
	ctx, span := t.Start(ctx, "Postgres/RegisterWorker")
	defer span.End()

	if w.Label == "" {
		return nil, apperrors.Validation("label", "worker label cannot be empty")
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreErr("workers.Register", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO workers (admin_id, label, ip_address, last_seen_at)
		VALUES ($1, $2, $3, now())
		RETURNING `+workerColumns,
		w.AdminID, w.Label, w.IPAddress)
	created, err := scanWorker(row)
	if err != nil {
		tracer.RecordSpanError(span, err)
		if isUniqueViolation(err) {
			return nil, apperrors.Conflict("worker", "label already registered for this admin")
		}
		return nil, classifyStoreErr("workers.Register", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO worker_status (worker_id, state, last_heartbeat, uptime_secs, load_avg)
		VALUES ($1, $2, now(), 0, 0)`,
		created.ID, model.WorkerOffline)
	if err != nil {
		tracer.RecordSpanError(span, err)
		return nil, classifyStoreErr("workers.Register", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreErr("workers.Register", err)
	}
	return created, nil
}

func (r *WorkerRepository) GetByID(ctx context.Context, id int64) (*model.Worker, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE id = $1`, id)
	w, err := scanWorker(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("worker", id)
		}
		return nil, classifyStoreErr("workers.GetByID", err)
	}
	return w, nil
}

func (r *WorkerRepository) List(ctx context.Context) ([]*model.Worker, error) {
	return r.queryWorkers(ctx,
		`SELECT `+workerColumns+` FROM workers ORDER BY id`)
}

func (r *WorkerRepository) ListByAdmin(ctx context.Context, adminID int64) ([]*model.Worker, error) {
	return r.queryWorkers(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE admin_id = $1 ORDER BY id`, adminID)
}

func (r *WorkerRepository) queryWorkers(ctx context.Context, query string, args ...any) ([]*model.Worker, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyStoreErr("workers.query", err)
	}
	defer rows.Close()

	var workers []*model.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// Delete removes the worker and its status row together.
func (r *WorkerRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return classifyStoreErr("workers.Delete", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM worker_status WHERE worker_id = $1`, id); err != nil {
		return classifyStoreErr("workers.Delete", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM workers WHERE id = $1`, id)
	if err != nil {
		return classifyStoreErr("workers.Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("worker", id)
	}
	return tx.Commit(ctx)
}

const statusColumns = `worker_id, state, last_heartbeat, active_job_id, uptime_secs, load_avg, last_error`

func scanStatus(row pgx.Row) (*model.WorkerStatus, error) {
	var s model.WorkerStatus
	err := row.Scan(&s.WorkerID, &s.State, &s.LastHeartbeat, &s.ActiveJobID,
		&s.UptimeSecs, &s.LoadAvg, &s.LastError)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *WorkerRepository) GetStatus(ctx context.Context, workerID int64) (*model.WorkerStatus, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+statusColumns+` FROM worker_status WHERE worker_id = $1`, workerID)
	s, err := scanStatus(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("worker_status", workerID)
		}
		return nil, classifyStoreErr("worker_status.Get", err)
	}
	return s, nil
}

func (r *WorkerRepository) ListStatuses(ctx context.Context) ([]*model.WorkerStatus, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+statusColumns+` FROM worker_status ORDER BY worker_id`)
	if err != nil {
		return nil, classifyStoreErr("worker_status.List", err)
	}
	defer rows.Close()

	var statuses []*model.WorkerStatus
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

// SetState applies a status transition, rejecting anything outside the
// monotone transition set.
func (r *WorkerRepository) SetState(ctx context.Context, workerID int64, to model.WorkerState, lastError *string) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return classifyStoreErr("worker_status.SetState", err)
	}
	defer tx.Rollback(ctx)

	var from model.WorkerState
	err = tx.QueryRow(ctx,
		`SELECT state FROM worker_status WHERE worker_id = $1 FOR UPDATE`,
		workerID).Scan(&from)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("worker_status", workerID)
		}
		return classifyStoreErr("worker_status.SetState", err)
	}
	if !model.ValidWorkerTransition(from, to) {
		return apperrors.Integrity("worker_status.SetState",
			"illegal worker transition "+string(from)+" -> "+string(to))
	}

	_, err = tx.Exec(ctx, `
		UPDATE worker_status
		SET state = $2,
		    last_error = $3,
		    active_job_id = CASE WHEN $2 IN ('Idle', 'Offline') THEN NULL ELSE active_job_id END
		WHERE worker_id = $1`,
		workerID, to, lastError)
	if err != nil {
		return classifyStoreErr("worker_status.SetState", err)
	}
	return tx.Commit(ctx)
}

// RecordPulse applies one liveness datagram: refreshes last-seen on both
// rows and wakes an Offline worker back to Idle. Unknown workers are
// rejected; registration must come first.
func (r *WorkerRepository) RecordPulse(ctx context.Context, p model.Pulse) (*model.WorkerStatus, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, classifyStoreErr("worker_status.RecordPulse", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE workers SET last_seen_at = $2 WHERE id = $1`,
		p.WorkerID, p.ReceivedAt)
	if err != nil {
		return nil, classifyStoreErr("worker_status.RecordPulse", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperrors.NotFound("worker", p.WorkerID)
	}

	row := tx.QueryRow(ctx, `
		UPDATE worker_status
		SET last_heartbeat = $2,
		    uptime_secs = $3,
		    load_avg = $4,
		    state = CASE WHEN state = 'Offline' THEN 'Idle' ELSE state END
		WHERE worker_id = $1
		RETURNING `+statusColumns,
		p.WorkerID, p.ReceivedAt, p.UptimeSecs, p.LoadAvg)
	s, err := scanStatus(row)
	if err != nil {
		return nil, classifyStoreErr("worker_status.RecordPulse", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreErr("worker_status.RecordPulse", err)
	}
	return s, nil
}

// ListStale returns ids of workers not seen since the cutoff whose status
// still claims a live state.
func (r *WorkerRepository) ListStale(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT w.id
		FROM workers w
		JOIN worker_status s ON s.worker_id = w.id
		WHERE w.last_seen_at < $1 AND s.state <> 'Offline'`,
		cutoff)
	if err != nil {
		return nil, classifyStoreErr("workers.ListStale", err)
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

// ListCandidates returns idle, live workers joined with their admin
// binding, ordered by (load_avg ASC, last_seen_at DESC).
func (r *WorkerRepository) ListCandidates(ctx context.Context, liveSince time.Time) ([]*model.WorkerCandidate, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT s.worker_id, w.admin_id, s.load_avg, w.last_seen_at
		FROM worker_status s
		JOIN workers w ON w.id = s.worker_id
		WHERE s.state = 'Idle'
		  AND w.last_seen_at >= $1
		ORDER BY s.load_avg ASC, w.last_seen_at DESC`,
		liveSince)
	if err != nil {
		return nil, classifyStoreErr("workers.ListCandidates", err)
	}
	defer rows.Close()

	var candidates []*model.WorkerCandidate
	for rows.Next() {
		var c model.WorkerCandidate
		if err := rows.Scan(&c.WorkerID, &c.AdminID, &c.LoadAvg, &c.LastSeenAt); err != nil {
			return nil, err
		}
		candidates = append(candidates, &c)
	}
	return candidates, rows.Err()
}

// ParkIdle sends Idle workers with no assignment activity since the
// cutoff to Offline and returns their ids. Their next pulse wakes them
// back to Idle.
func (r *WorkerRepository) ParkIdle(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `
		UPDATE worker_status s
		SET state = 'Offline', active_job_id = NULL
		WHERE s.state = 'Idle'
		  AND NOT EXISTS (
			SELECT 1 FROM job_assignments a
			WHERE a.worker_id = s.worker_id AND a.issued_at >= $1
		  )
		  AND EXISTS (
			SELECT 1 FROM workers w
			WHERE w.id = s.worker_id AND w.last_seen_at < $1
		  )
		RETURNING s.worker_id`,
		cutoff)
	if err != nil {
		return nil, classifyStoreErr("worker_status.ParkIdle", err)
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

// CountOnline returns the number of workers not currently Offline.
func (r *WorkerRepository) CountOnline(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM worker_status WHERE state <> 'Offline'`).Scan(&n)
	if err != nil {
		return 0, classifyStoreErr("worker_status.CountOnline", err)
	}
	return n, nil
}
