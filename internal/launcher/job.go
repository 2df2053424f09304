package launcher

import (
	"context"
	"errors"
	"sync"

	"github.com/nadmax/searcheval/internal/judgment"
	"github.com/nadmax/searcheval/internal/poller"
	"github.com/nadmax/searcheval/internal/task"
)

var ErrCancelled = errors.New("job tracking cancelled")

// Outcome is what a tracked job ended with. Queries holds the read model reloaded after
// a successful job, when the job kind changes it.
type Outcome struct {
	WatchID string
	Kind    task.TaskKind
	View    string
	TaskID  int64
	Task    *task.Task
	Queries []judgment.Query
	Err     error
}

func (o Outcome) Success() bool {
	return o.Err == nil
}

// Job is one launched backend task and the poller tracking it.
type Job struct {
	WatchID  string
	TaskID   int64
	Kind     task.TaskKind
	View     string
	Message  string
	queryIDs []int64

	poller *poller.Poller

	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

func (j *Job) Cancel() {
	j.poller.Cancel()
}

func (j *Job) Snapshot() poller.Snapshot {
	return j.poller.Snapshot()
}

// Done is closed after the outcome is final, including any refetch and notification.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends. A cancelled job reports ErrCancelled.
func (j *Job) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-j.done:
		return j.outcome, j.outcome.Err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (j *Job) finish(o Outcome) bool {
	finished := false
	j.once.Do(func() {
		j.outcome = o
		close(j.done)
		finished = true
	})
	return finished
}

func (j *Job) baseOutcome() Outcome {
	return Outcome{
		WatchID: j.WatchID,
		Kind:    j.Kind,
		View:    j.View,
		TaskID:  j.TaskID,
	}
}
