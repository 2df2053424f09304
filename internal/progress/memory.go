package progress

import (
	"sort"
	"sync"
	"time"

	"github.com/nadmax/searcheval/internal/poller"
	"github.com/nadmax/searcheval/internal/task"
)

// Reader is the read side shared by the Redis and in-memory stores.
type Reader interface {
	List() ([]poller.Snapshot, error)
	ListView(view string) ([]poller.Snapshot, error)
	Counts() (map[poller.State]map[task.TaskKind]int, error)
}

// Memory keeps snapshots in process. It serves a single console instance when no Redis
// is configured.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[string]poller.Snapshot
}

func NewMemory() *Memory {
	return &Memory{snapshots: make(map[string]poller.Snapshot)}
}

func (m *Memory) Observe(snap poller.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[field(snap.View, snap.Kind)] = snap
}

func (m *Memory) Get(view string, kind task.TaskKind) (*poller.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[field(view, kind)]
	if !ok {
		return nil, ErrNotFound
	}
	return &snap, nil
}

func (m *Memory) List() ([]poller.Snapshot, error) {
	m.mu.RLock()
	snapshots := make([]poller.Snapshot, 0, len(m.snapshots))
	for _, snap := range m.snapshots {
		snapshots = append(snapshots, snap)
	}
	m.mu.RUnlock()

	sortSnapshots(snapshots)
	return snapshots, nil
}

func (m *Memory) ListView(view string) ([]poller.Snapshot, error) {
	all, _ := m.List()
	return filterView(all, view), nil
}

func (m *Memory) Delete(view string, kind task.TaskKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.snapshots, field(view, kind))
	return nil
}

func (m *Memory) Prune(cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, snap := range m.snapshots {
		if snap.State != poller.StatePolling && snap.UpdatedAt.Before(cutoff) {
			delete(m.snapshots, key)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Counts() (map[poller.State]map[task.TaskKind]int, error) {
	all, _ := m.List()
	return countSnapshots(all), nil
}

func sortSnapshots(snapshots []poller.Snapshot) {
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].View != snapshots[j].View {
			return snapshots[i].View < snapshots[j].View
		}
		return snapshots[i].Kind < snapshots[j].Kind
	})
}

func filterView(snapshots []poller.Snapshot, view string) []poller.Snapshot {
	out := make([]poller.Snapshot, 0, len(snapshots))
	for _, snap := range snapshots {
		if snap.View == view {
			out = append(out, snap)
		}
	}
	return out
}

func countSnapshots(snapshots []poller.Snapshot) map[poller.State]map[task.TaskKind]int {
	counts := make(map[poller.State]map[task.TaskKind]int)
	for _, snap := range snapshots {
		if counts[snap.State] == nil {
			counts[snap.State] = make(map[task.TaskKind]int)
		}
		counts[snap.State][snap.Kind]++
	}
	return counts
}
