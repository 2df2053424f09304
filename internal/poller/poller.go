// Package poller tracks a single backend job until it reaches a terminal state.
//
// A Poller fetches the job status on a fixed interval, publishes progress to observers
// and fires exactly one terminal callback: OnComplete when the job completes, OnError
// when it fails, when a status fetch fails, or when the overall timeout expires.
// Cancelling a poller stops both timers and suppresses every callback.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nadmax/searcheval/internal/clock"
	"github.com/nadmax/searcheval/internal/logger"
	"github.com/nadmax/searcheval/internal/metrics"
	"github.com/nadmax/searcheval/internal/task"
)

const (
	DefaultInterval     = 3 * time.Second
	DefaultTimeout      = 60 * time.Minute
	DefaultErrorMessage = "task failed"
)

type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

var (
	ErrTimedOut       = errors.New("task polling timed out")
	ErrAlreadyStarted = errors.New("poller already started")
	ErrEmptyResponse  = errors.New("empty task response")
)

// TaskFailedError reports a job the backend marked as failed. Its message is the
// backend error message, or DefaultErrorMessage when there was none.
type TaskFailedError struct {
	Task    *task.Task
	Message string
}

func (e *TaskFailedError) Error() string {
	return e.Message
}

// PollError reports a status fetch that failed. Fetch failures end the job.
type PollError struct {
	TaskID int64
	Err    error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("failed to poll task %d: %v", e.TaskID, e.Err)
}

func (e *PollError) Unwrap() error {
	return e.Err
}

// Fetcher retrieves the current status of a job.
type Fetcher interface {
	GetTask(ctx context.Context, id int64) (*task.Task, error)
}

// FetchFunc adapts a function to the Fetcher interface.
type FetchFunc func(ctx context.Context, id int64) (*task.Task, error)

func (f FetchFunc) GetTask(ctx context.Context, id int64) (*task.Task, error) {
	return f(ctx, id)
}

// Snapshot is the externally visible progress of a tracked job.
type Snapshot struct {
	TaskID    int64           `json:"task_id"`
	Kind      task.TaskKind   `json:"kind"`
	View      string          `json:"view,omitempty"`
	State     State           `json:"state"`
	Status    task.TaskStatus `json:"status,omitempty"`
	Progress  int             `json:"progress"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Observer receives every snapshot change, including the final one.
type Observer interface {
	Observe(s Snapshot)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(s Snapshot)

func (f ObserverFunc) Observe(s Snapshot) {
	f(s)
}

type Config struct {
	Kind       task.TaskKind
	View       string
	Interval   time.Duration
	Timeout    time.Duration
	Clock      clock.Clock
	Logger     *logger.Logger
	Observers  []Observer
	OnComplete func(t *task.Task)
	OnError    func(err error)
}

type Poller struct {
	fetcher Fetcher
	cfg     Config
	log     *logger.Logger

	mu           sync.Mutex
	state        State
	ctx          context.Context
	cancel       context.CancelFunc
	stopWatch    func() bool
	pollTimer    clock.Timer
	timeoutTimer clock.Timer
	snapshot     Snapshot
	seq          uint64
	done         chan struct{}

	// pubMu orders delivery to observers; published is the seq last delivered.
	pubMu     sync.Mutex
	published uint64
}

func New(fetcher Fetcher, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	return &Poller{
		fetcher: fetcher,
		cfg:     cfg,
		log:     cfg.Logger,
		state:   StateIdle,
		done:    make(chan struct{}),
	}
}

// Start begins tracking taskID. The first status fetch happens one interval after
// Start. Cancelling ctx has the same effect as calling Cancel.
func (p *Poller) Start(ctx context.Context, taskID int64) error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}

	now := p.cfg.Clock.Now()
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.state = StatePolling
	p.log = p.cfg.Logger.WithTask(p.cfg.Kind, taskID)
	p.snapshot = Snapshot{
		TaskID:    taskID,
		Kind:      p.cfg.Kind,
		View:      p.cfg.View,
		State:     StatePolling,
		Status:    task.StatusPending,
		StartedAt: now,
		UpdatedAt: now,
	}
	p.timeoutTimer = p.cfg.Clock.AfterFunc(p.cfg.Timeout, p.expire)
	p.pollTimer = p.cfg.Clock.AfterFunc(p.cfg.Interval, p.tick)
	p.stopWatch = context.AfterFunc(ctx, p.Cancel)
	seq, snap := p.nextLocked()
	p.mu.Unlock()

	metrics.PollerStarted(p.cfg.Kind)
	p.log.Info("started polling task", "interval", p.cfg.Interval, "timeout", p.cfg.Timeout)
	p.publish(seq, snap)
	return nil
}

// Cancel stops polling without firing any callback. It is safe to call repeatedly and
// after the poller has finished.
func (p *Poller) Cancel() {
	p.mu.Lock()
	if p.state != StatePolling {
		p.mu.Unlock()
		return
	}

	p.state = StateCancelled
	p.stopLocked()
	p.snapshot.State = StateCancelled
	p.snapshot.UpdatedAt = p.cfg.Clock.Now()
	seq, snap := p.nextLocked()
	p.mu.Unlock()

	metrics.PollerStopped(p.cfg.Kind)
	metrics.RecordTaskCancelled(p.cfg.Kind)
	p.log.Info("cancelled polling task")
	p.publish(seq, snap)
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.snapshot
}

func (p *Poller) Kind() task.TaskKind {
	return p.cfg.Kind
}

// Done is closed once the poller reaches a terminal state or is cancelled.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) tick() {
	p.mu.Lock()
	if p.state != StatePolling {
		p.mu.Unlock()
		return
	}
	ctx := p.ctx
	taskID := p.snapshot.TaskID
	p.mu.Unlock()

	started := p.cfg.Clock.Now()
	t, err := p.fetcher.GetTask(ctx, taskID)
	elapsed := p.cfg.Clock.Now().Sub(started)
	if err == nil && t == nil {
		err = ErrEmptyResponse
	}

	p.mu.Lock()
	if p.state != StatePolling {
		// Cancelled or timed out while the fetch was in flight.
		p.mu.Unlock()
		return
	}

	if err != nil && ctx.Err() != nil {
		// The caller's context ended; that is a cancellation, not a job failure.
		p.mu.Unlock()
		p.Cancel()
		return
	}

	if err != nil {
		p.mu.Unlock()
		metrics.RecordPoll(p.cfg.Kind, "error", elapsed)
		p.fail(StateFailed, "poll_error", &PollError{TaskID: taskID, Err: err})
		return
	}

	metrics.RecordPoll(p.cfg.Kind, string(t.Status), elapsed)

	switch t.Status {
	case task.StatusCompleted:
		p.mu.Unlock()
		p.complete(t)
	case task.StatusFailed:
		p.mu.Unlock()
		p.fail(StateFailed, "failed", &TaskFailedError{Task: t, Message: t.ErrorOr(DefaultErrorMessage)})
	default:
		p.snapshot.Status = t.Status
		p.snapshot.Progress = clampProgress(t.Progress)
		p.snapshot.Message = t.Message
		p.snapshot.UpdatedAt = p.cfg.Clock.Now()
		p.pollTimer = p.cfg.Clock.AfterFunc(p.cfg.Interval, p.tick)
		seq, snap := p.nextLocked()
		p.mu.Unlock()

		p.log.Debug("task in progress", "status", t.Status, "progress", snap.Progress)
		p.publish(seq, snap)
	}
}

func (p *Poller) expire() {
	p.mu.Lock()
	if p.state != StatePolling {
		p.mu.Unlock()
		return
	}
	taskID := p.snapshot.TaskID
	p.mu.Unlock()

	p.fail(StateTimedOut, "timed_out", fmt.Errorf("task %d %w after %s", taskID, ErrTimedOut, p.cfg.Timeout))
}

func (p *Poller) complete(t *task.Task) {
	seq, snap, duration, ok := p.finish(StateCompleted, func(s *Snapshot) {
		s.Status = t.Status
		s.Progress = 100
		if t.Message != "" {
			s.Message = t.Message
		}
	})
	if !ok {
		return
	}

	metrics.RecordTaskCompleted(p.cfg.Kind, duration)
	p.log.Info("task completed", "duration", duration)
	p.publish(seq, snap)

	if p.cfg.OnComplete != nil {
		p.cfg.OnComplete(t)
	}
}

func (p *Poller) fail(state State, cause string, err error) {
	seq, snap, duration, ok := p.finish(state, func(s *Snapshot) {
		s.Error = err.Error()
		var failed *TaskFailedError
		if errors.As(err, &failed) {
			s.Status = task.StatusFailed
		}
	})
	if !ok {
		return
	}

	metrics.RecordTaskFailed(p.cfg.Kind, cause, duration)
	p.log.WithError(err).Warn("task did not complete", "state", state)
	p.publish(seq, snap)

	if p.cfg.OnError != nil {
		p.cfg.OnError(err)
	}
}

// finish moves the poller into a terminal state. It reports false when another path
// already finished or cancelled the poller, which keeps the terminal callback single.
func (p *Poller) finish(state State, update func(s *Snapshot)) (uint64, Snapshot, time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePolling {
		return 0, Snapshot{}, 0, false
	}

	p.state = state
	p.stopLocked()

	now := p.cfg.Clock.Now()
	p.snapshot.State = state
	p.snapshot.UpdatedAt = now
	update(&p.snapshot)

	metrics.PollerStopped(p.cfg.Kind)
	seq, snap := p.nextLocked()
	return seq, snap, now.Sub(snap.StartedAt), true
}

func (p *Poller) stopLocked() {
	if p.pollTimer != nil {
		p.pollTimer.Stop()
	}
	if p.timeoutTimer != nil {
		p.timeoutTimer.Stop()
	}
	if p.stopWatch != nil {
		p.stopWatch()
	}
	if p.cancel != nil {
		p.cancel()
	}
	close(p.done)
}

// nextLocked stamps the current snapshot with the next sequence number.
func (p *Poller) nextLocked() (uint64, Snapshot) {
	p.seq++
	return p.seq, p.snapshot
}

// publish delivers snapshots in sequence order. A snapshot that lost the race to a
// newer one is dropped, so observers never see progress after a terminal state.
func (p *Poller) publish(seq uint64, s Snapshot) {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()

	if seq <= p.published {
		return
	}
	p.published = seq

	for _, o := range p.cfg.Observers {
		o.Observe(s)
	}
}

func clampProgress(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
