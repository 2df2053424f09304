package launcher

import (
	"sort"
	"sync"

	"github.com/nadmax/searcheval/internal/task"
)

// DefaultView is used when a caller does not name a view.
const DefaultView = "default"

type registryKey struct {
	view string
	kind task.TaskKind
}

// Registry tracks at most one active job per (view, kind).
type Registry struct {
	mu   sync.Mutex
	jobs map[registryKey]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[registryKey]*Job)}
}

// track installs j for its (view, kind) and returns the job it replaced, if any. The
// caller cancels the replaced job.
func (r *Registry) track(j *Job) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey{view: j.View, kind: j.Kind}
	previous := r.jobs[key]
	r.jobs[key] = j
	return previous
}

// release forgets j unless a newer job already took its place.
func (r *Registry) release(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey{view: j.View, kind: j.Kind}
	if r.jobs[key] == j {
		delete(r.jobs, key)
	}
}

func (r *Registry) Get(view string, kind task.TaskKind) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[registryKey{view: view, kind: kind}]
	return j, ok
}

// Active lists tracked jobs ordered by view, then kind.
func (r *Registry) Active() []*Job {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].View != jobs[b].View {
			return jobs[a].View < jobs[b].View
		}
		return jobs[a].Kind < jobs[b].Kind
	})
	return jobs
}

// Cancel stops the job tracked for (view, kind). It reports whether one was tracked.
func (r *Registry) Cancel(view string, kind task.TaskKind) bool {
	r.mu.Lock()
	key := registryKey{view: view, kind: kind}
	j, ok := r.jobs[key]
	delete(r.jobs, key)
	r.mu.Unlock()

	if ok {
		j.Cancel()
	}
	return ok
}

// CancelView stops every job of a view and returns how many were stopped.
func (r *Registry) CancelView(view string) int {
	r.mu.Lock()
	var jobs []*Job
	for key, j := range r.jobs {
		if key.view == view {
			jobs = append(jobs, j)
			delete(r.jobs, key)
		}
	}
	r.mu.Unlock()

	for _, j := range jobs {
		j.Cancel()
	}
	return len(jobs)
}

func (r *Registry) CancelAll() {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for key, j := range r.jobs {
		jobs = append(jobs, j)
		delete(r.jobs, key)
	}
	r.mu.Unlock()

	for _, j := range jobs {
		j.Cancel()
	}
}

// Counts returns the number of tracked jobs per kind.
func (r *Registry) Counts() map[task.TaskKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[task.TaskKind]int)
	for key := range r.jobs {
		counts[key.kind]++
	}
	return counts
}
