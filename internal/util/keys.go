package util

import (
	"fmt"

	"github.com/google/uuid"
)

// StdoutKey names the hot-storage object holding a job's captured
// stdout. The uuid keeps reruns of a cron job from colliding.
func StdoutKey(jobID int64) string {
	return fmt.Sprintf("jobs/%d/stdout/%s.log", jobID, uuid.NewString())
}
