package report

import (
	"time"

	"github.com/nadmax/searcheval/internal/task"
)

// Timestamp is the report creation time. It shares the task decoder so both accept the
// backend's zone-less date-times.
type Timestamp = task.Timestamp

func NewTimestamp(t time.Time) Timestamp {
	return task.NewTimestamp(t)
}
