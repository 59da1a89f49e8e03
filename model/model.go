package model

import "time"

// User is a consumer account. Mutated only through explicit update operations.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// Worker is a registered execution node. Created on registration,
// destroyed only by explicit deletion.
type Worker struct {
	ID         int64     `db:"id" json:"id"`
	AdminID    int64     `db:"admin_id" json:"adminId"`
	Label      string    `db:"label" json:"label"`
	IPAddress  string    `db:"ip_address" json:"ipAddress"`
	LastSeenAt time.Time `db:"last_seen_at" json:"lastSeenAt"`
}

// WorkerStatus is the 1:1 live view of a Worker.
type WorkerStatus struct {
	WorkerID      int64       `db:"worker_id" json:"workerId"`
	State         WorkerState `db:"state" json:"state"`
	LastHeartbeat time.Time   `db:"last_heartbeat" json:"lastHeartbeat"`
	ActiveJobID   *int64      `db:"active_job_id" json:"activeJobId,omitempty"`
	UptimeSecs    int64       `db:"uptime_secs" json:"uptimeSecs"`
	LoadAvg       float32     `db:"load_avg" json:"loadAvg"`
	LastError     *string     `db:"last_error" json:"lastError,omitempty"`
}

// Job is one submitted workload.
type Job struct {
	ID            int64            `db:"id" json:"id"`
	UserID        int64            `db:"user_id" json:"userId"`
	Name          string           `db:"name" json:"name"`
	ImageRef      string           `db:"image_ref" json:"imageRef"`
	ImageFormat   ImageFormat      `db:"image_format" json:"imageFormat"`
	RuntimeFlags  []string         `db:"runtime_flags" json:"runtimeFlags,omitempty"`
	OutputType    OutputType       `db:"output_type" json:"outputType"`
	OutputPaths   []string         `db:"output_paths" json:"outputPaths,omitempty"`
	FetchStyle    FetchStyle       `db:"fetch_style" json:"fetchStyle"`
	Push          *PushCredentials `db:"-" json:"push,omitempty"`
	ScheduleType  ScheduleType     `db:"schedule_type" json:"scheduleType"`
	CronExpr      *string          `db:"cron_expr" json:"cronExpr,omitempty"`
	Priority      int              `db:"priority" json:"priority"`
	Checksum      *string          `db:"checksum" json:"checksum,omitempty"`
	State         JobState         `db:"state" json:"state"`
	FailureReason *string          `db:"failure_reason" json:"failureReason,omitempty"`
	Cold          bool             `db:"cold" json:"cold"`
	CreatedAt     time.Time        `db:"created_at" json:"createdAt"`
	StartedAt     *time.Time       `db:"started_at" json:"startedAt,omitempty"`
	EndedAt       *time.Time       `db:"ended_at" json:"endedAt,omitempty"`
	ArchivedAt    *time.Time       `db:"archived_at" json:"archivedAt,omitempty"`
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool {
	return j.State == JobCompleted || j.State == JobFailed
}

// PushCredentials carries the push-delivery target and its retry state.
// Retry progress is persisted on the job row so a Core restart does not
// reset the back-off.
type PushCredentials struct {
	Address           string      `db:"push_address" json:"address"`
	User              string      `db:"push_user" json:"user"`
	Key               *string     `db:"push_key" json:"key,omitempty"`
	DestinationPath   string      `db:"push_dest_path" json:"destinationPath"`
	MaxRetries        int         `db:"push_max_retries" json:"maxRetries"`
	CurrentTry        int         `db:"push_current_try" json:"currentTry"`
	RetryIntervalSecs int64       `db:"push_retry_interval_secs" json:"retryIntervalSecs"`
	MaxIntervalSecs   int64       `db:"push_max_interval_secs" json:"maxIntervalSecs"`
	Backoff           BackoffKind `db:"push_backoff" json:"backoff"`
	NextAttemptAt     *time.Time  `db:"push_next_attempt_at" json:"nextAttemptAt,omitempty"`
	UseChecksum       bool        `db:"push_use_checksum" json:"useChecksum"`
	HashAlgorithm     *string     `db:"push_hash_algorithm" json:"hashAlgorithm,omitempty"`
}

// JobAssignment binds one Job to one Worker for one execution.
// At most one assignment per job may be active (completed_at IS NULL).
type JobAssignment struct {
	ID             int64      `db:"id" json:"id"`
	JobID          int64      `db:"job_id" json:"jobId"`
	WorkerID       int64      `db:"worker_id" json:"workerId"`
	IssuedAt       time.Time  `db:"issued_at" json:"issuedAt"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledgedAt,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	Expired        bool       `db:"expired" json:"expired"`
}

// Active reports whether this assignment is still the live binding.
func (a *JobAssignment) Active() bool {
	return a.CompletedAt == nil
}

// JobResult is a captured output set for a terminal job.
type JobResult struct {
	ID          int64     `db:"id" json:"id"`
	JobID       int64     `db:"job_id" json:"jobId"`
	Stdout      *string   `db:"stdout" json:"stdout,omitempty"`
	OutputFiles []string  `db:"output_files" json:"outputFiles,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// JobMetric is one sampled point in a job's metric series. The key/value
// shape is treated as opaque until the worker-side schema stabilizes.
type JobMetric struct {
	ID         int64     `db:"id" json:"id"`
	JobID      int64     `db:"job_id" json:"jobId"`
	WorkerID   int64     `db:"worker_id" json:"workerId"`
	RecordedAt time.Time `db:"recorded_at" json:"recordedAt"`
	Key        string    `db:"key" json:"key"`
	Value      string    `db:"value" json:"value"`
}

// LogEntry is a persisted log row, attributable to a subsystem or a job.
type LogEntry struct {
	ID        int64     `db:"id" json:"id"`
	Subsystem string    `db:"subsystem" json:"subsystem"`
	JobID     *int64    `db:"job_id" json:"jobId,omitempty"`
	Severity  LogLevel  `db:"severity" json:"severity"`
	Payload   string    `db:"payload" json:"payload"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Pulse is one decoded liveness datagram from a worker.
type Pulse struct {
	WorkerID    int64
	UptimeSecs  int64
	LoadAvg     float32
	ActiveJobID int64 // 0 when idle
	ReceivedAt  time.Time
}

// JobRequest is the incoming submission payload before persistence.
type JobRequest struct {
	UserID       int64            `json:"userId"`
	Name         string           `json:"name"`
	ImageRef     string           `json:"imageRef"`
	ImageFormat  ImageFormat      `json:"imageFormat"`
	RuntimeFlags []string         `json:"runtimeFlags,omitempty"`
	OutputType   OutputType       `json:"outputType"`
	OutputPaths  []string         `json:"outputPaths,omitempty"`
	FetchStyle   FetchStyle       `json:"fetchStyle"`
	Push         *PushCredentials `json:"push,omitempty"`
	ScheduleType ScheduleType     `json:"scheduleType"`
	CronExpr     *string          `json:"cronExpr,omitempty"`
	Priority     int              `json:"priority"`
	Checksum     *string          `json:"checksum,omitempty"`
}

// WorkerCandidate is the scheduler's joined view of an idle worker:
// status ordering fields plus the admin scope binding.
type WorkerCandidate struct {
	WorkerID   int64     `db:"worker_id" json:"workerId"`
	AdminID    int64     `db:"admin_id" json:"adminId"`
	LoadAvg    float32   `db:"load_avg" json:"loadAvg"`
	LastSeenAt time.Time `db:"last_seen_at" json:"lastSeenAt"`
}

// Assigned is the dispatch-channel signal emitted when a claim lands.
type Assigned struct {
	AssignmentID int64
	JobID        int64
	WorkerID     int64
}
