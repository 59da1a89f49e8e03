package model

import "fmt"

// CoreEvent is a lifecycle signal carried on the event bus.
type CoreEvent int

const (
	EventStartup CoreEvent = iota
	EventRestart
	EventShutdown
)

func (e CoreEvent) String() string {
	switch e {
	case EventStartup:
		return "Startup"
	case EventRestart:
		return "Restart"
	case EventShutdown:
		return "Shutdown"
	}
	return fmt.Sprintf("CoreEvent(%d)", int(e))
}

// JobState is the lifecycle state of a job. Terminal states are reached
// only through the harvester.
type JobState string

const (
	JobQueued    JobState = "Queued"
	JobRunning   JobState = "Running"
	JobCompleted JobState = "Completed"
	JobFailed    JobState = "Failed"
)

// WorkerState is the live condition of a worker.
type WorkerState string

const (
	WorkerOffline  WorkerState = "Offline"
	WorkerIdle     WorkerState = "Idle"
	WorkerBusy     WorkerState = "Busy"
	WorkerDraining WorkerState = "Draining"
	WorkerError    WorkerState = "Error"
)

// ValidWorkerTransition enforces the monotone transition set:
// Offline->Idle, Idle<->Busy, any->Draining->Offline, any->Error->Offline.
func ValidWorkerTransition(from, to WorkerState) bool {
	if from == to {
		return true
	}
	switch to {
	case WorkerDraining, WorkerError:
		return true
	case WorkerIdle:
		return from == WorkerOffline || from == WorkerBusy
	case WorkerBusy:
		return from == WorkerIdle
	case WorkerOffline:
		return true
	}
	return false
}

// ImageFormat tells the worker how to obtain the job image.
type ImageFormat string

const (
	ImageTarball        ImageFormat = "Tarball"
	ImageDockerRegistry ImageFormat = "DockerRegistry"
)

// OutputType is the job's output contract.
type OutputType string

const (
	OutputStdout OutputType = "Stdout"
	OutputFiles  OutputType = "Files"
)

// FetchStyle is how a finished job's artifacts reach the consumer.
type FetchStyle string

const (
	FetchPull FetchStyle = "Pull"
	FetchPush FetchStyle = "Push"
)

// ScheduleType selects one-shot or recurring execution.
type ScheduleType string

const (
	ScheduleOnce ScheduleType = "Once"
	ScheduleCron ScheduleType = "Cron"
)

// BackoffKind selects how push-retry intervals grow.
type BackoffKind string

const (
	BackoffLinear      BackoffKind = "Linear"
	BackoffLogarithmic BackoffKind = "Logarithmic"
	BackoffExponential BackoffKind = "Exponential"
)

// LogLevel is the severity of a persisted log row.
type LogLevel string

const (
	LogInfo    LogLevel = "Info"
	LogSuccess LogLevel = "Success"
	LogWarning LogLevel = "Warning"
	LogError   LogLevel = "Error"
	LogFatal   LogLevel = "Fatal"
)
