package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nadmax/searcheval/internal/clock"
	"github.com/nadmax/searcheval/internal/logger"
	"github.com/nadmax/searcheval/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type scriptedFetcher struct {
	mu     sync.Mutex
	script []fetchResult
	calls  int
}

type fetchResult struct {
	task *task.Task
	err  error
}

func (f *scriptedFetcher) GetTask(_ context.Context, id int64) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if len(f.script) == 0 {
		return &task.Task{ID: id, Status: task.StatusRunning}, nil
	}

	next := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return next.task, next.err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func running(progress int, msg string) fetchResult {
	return fetchResult{task: &task.Task{ID: 1, Status: task.StatusRunning, Progress: progress, Message: msg}}
}

type recorder struct {
	completed []*task.Task
	errs      []error
	snapshots []Snapshot
}

func newTestPoller(f Fetcher, c *clock.Fake, rec *recorder) *Poller {
	return New(f, Config{
		Kind:      task.KindLLMEvaluation,
		View:      "evaluation",
		Clock:     c,
		Logger:    logger.Discard(),
		Observers: []Observer{ObserverFunc(func(s Snapshot) { rec.snapshots = append(rec.snapshots, s) })},
		OnComplete: func(t *task.Task) {
			rec.completed = append(rec.completed, t)
		},
		OnError: func(err error) {
			rec.errs = append(rec.errs, err)
		},
	})
}

func TestPoller_RunningRunningCompleted(t *testing.T) {
	c := clock.NewFake(epoch)
	f := &scriptedFetcher{script: []fetchResult{
		running(10, "judging 1/10"),
		running(60, "judging 6/10"),
		{task: &task.Task{ID: 1, Status: task.StatusCompleted, Message: "done"}},
	}}
	rec := &recorder{}
	p := newTestPoller(f, c, rec)

	require.NoError(t, p.Start(context.Background(), 1))
	assert.Equal(t, StatePolling, p.State())

	c.Advance(DefaultInterval)
	assert.Equal(t, 10, p.Snapshot().Progress)
	assert.Equal(t, "judging 1/10", p.Snapshot().Message)

	c.Advance(DefaultInterval)
	assert.Equal(t, 60, p.Snapshot().Progress)

	c.Advance(DefaultInterval)

	assert.Equal(t, StateCompleted, p.State())
	require.Len(t, rec.completed, 1)
	assert.Empty(t, rec.errs)
	assert.Equal(t, 3, f.callCount())
	assert.Equal(t, 0, c.Pending(), "interval and timeout must both be cancelled")

	c.Advance(2 * DefaultTimeout)
	assert.Equal(t, 3, f.callCount(), "no further polls after completion")
	assert.Len(t, rec.completed, 1)

	select {
	case <-p.Done():
	default:
		t.Fatal("Done channel should be closed")
	}
}

func TestPoller_NoPollBeforeFirstInterval(t *testing.T) {
	c := clock.NewFake(epoch)
	f := &scriptedFetcher{}
	p := newTestPoller(f, c, &recorder{})

	require.NoError(t, p.Start(context.Background(), 1))
	c.Advance(DefaultInterval - time.Millisecond)

	assert.Equal(t, 0, f.callCount())

	c.Advance(time.Millisecond)
	assert.Equal(t, 1, f.callCount())
}

func TestPoller_BackendFailure(t *testing.T) {
	tests := []struct {
		name     string
		errMsg   string
		expected string
	}{
		{name: "with backend message", errMsg: "LLM quota exceeded", expected: "LLM quota exceeded"},
		{name: "without backend message", errMsg: "", expected: DefaultErrorMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := clock.NewFake(epoch)
			f := &scriptedFetcher{script: []fetchResult{
				running(20, ""),
				{task: &task.Task{ID: 1, Status: task.StatusFailed, ErrorMessage: tt.errMsg}},
			}}
			rec := &recorder{}
			p := newTestPoller(f, c, rec)

			require.NoError(t, p.Start(context.Background(), 1))
			c.Advance(10 * DefaultInterval)

			assert.Equal(t, StateFailed, p.State())
			assert.Empty(t, rec.completed)
			require.Len(t, rec.errs, 1)
			assert.Equal(t, tt.expected, rec.errs[0].Error())

			var failed *TaskFailedError
			assert.True(t, errors.As(rec.errs[0], &failed))
			assert.Equal(t, 2, f.callCount())
			assert.Equal(t, 0, c.Pending())
		})
	}
}

func TestPoller_FetchErrorFailsClosed(t *testing.T) {
	c := clock.NewFake(epoch)
	fetchErr := errors.New("connection refused")
	f := &scriptedFetcher{script: []fetchResult{
		running(5, ""),
		{err: fetchErr},
	}}
	rec := &recorder{}
	p := newTestPoller(f, c, rec)

	require.NoError(t, p.Start(context.Background(), 1))
	c.Advance(10 * DefaultInterval)

	assert.Equal(t, StateFailed, p.State())
	require.Len(t, rec.errs, 1)

	var pollErr *PollError
	require.True(t, errors.As(rec.errs[0], &pollErr))
	assert.Equal(t, int64(1), pollErr.TaskID)
	assert.ErrorIs(t, rec.errs[0], fetchErr)
	assert.Equal(t, 2, f.callCount(), "fetch errors are not retried")
}

func TestPoller_Timeout(t *testing.T) {
	c := clock.NewFake(epoch)
	f := &scriptedFetcher{}
	rec := &recorder{}
	p := New(f, Config{
		Kind:       task.KindCandidateGeneration,
		Interval:   time.Second,
		Timeout:    10 * time.Second,
		Clock:      c,
		Logger:     logger.Discard(),
		OnComplete: func(t *task.Task) { rec.completed = append(rec.completed, t) },
		OnError:    func(err error) { rec.errs = append(rec.errs, err) },
	})

	require.NoError(t, p.Start(context.Background(), 9))
	c.Advance(10 * time.Second)

	assert.Equal(t, StateTimedOut, p.State())
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], ErrTimedOut)
	assert.Contains(t, rec.errs[0].Error(), "timed out")
	assert.Empty(t, rec.completed)

	calls := f.callCount()
	c.Advance(time.Hour)
	assert.Equal(t, calls, f.callCount(), "no polls after timeout")
	assert.Len(t, rec.errs, 1)
	assert.Equal(t, 0, c.Pending())
}

func TestPoller_TimeoutWinsOverSimultaneousPoll(t *testing.T) {
	c := clock.NewFake(epoch)
	f := &scriptedFetcher{}
	rec := &recorder{}
	p := New(f, Config{
		Kind:     task.KindIndexing,
		Interval: 5 * time.Second,
		Timeout:  5 * time.Second,
		Clock:    c,
		Logger:   logger.Discard(),
		OnError:  func(err error) { rec.errs = append(rec.errs, err) },
	})

	require.NoError(t, p.Start(context.Background(), 3))
	c.Advance(5 * time.Second)

	assert.Equal(t, StateTimedOut, p.State())
	assert.Len(t, rec.errs, 1)
	assert.Equal(t, 0, f.callCount())
}

func TestPoller_Cancel(t *testing.T) {
	c := clock.NewFake(epoch)
	f := &scriptedFetcher{}
	rec := &recorder{}
	p := newTestPoller(f, c, rec)

	require.NoError(t, p.Start(context.Background(), 1))
	c.Advance(DefaultInterval)
	require.Equal(t, 1, f.callCount())

	p.Cancel()
	p.Cancel()

	assert.Equal(t, StateCancelled, p.State())
	assert.Equal(t, 0, c.Pending())

	c.Advance(2 * DefaultTimeout)
	assert.Equal(t, 1, f.callCount())
	assert.Empty(t, rec.completed)
	assert.Empty(t, rec.errs)

	last := rec.snapshots[len(rec.snapshots)-1]
	assert.Equal(t, StateCancelled, last.State)
}

func TestPoller_CancelBeforeStartIsNoop(t *testing.T) {
	c := clock.NewFake(epoch)
	p := newTestPoller(&scriptedFetcher{}, c, &recorder{})

	p.Cancel()

	assert.Equal(t, StateIdle, p.State())
	require.NoError(t, p.Start(context.Background(), 1))
	assert.Equal(t, StatePolling, p.State())
	p.Cancel()
}

func TestPoller_CancelAfterCompletionIsNoop(t *testing.T) {
	c := clock.NewFake(epoch)
	f := &scriptedFetcher{script: []fetchResult{
		{task: &task.Task{ID: 1, Status: task.StatusCompleted}},
	}}
	rec := &recorder{}
	p := newTestPoller(f, c, rec)

	require.NoError(t, p.Start(context.Background(), 1))
	c.Advance(DefaultInterval)
	p.Cancel()

	assert.Equal(t, StateCompleted, p.State())
	assert.Len(t, rec.completed, 1)
}

func TestPoller_StartTwice(t *testing.T) {
	c := clock.NewFake(epoch)
	p := newTestPoller(&scriptedFetcher{}, c, &recorder{})

	require.NoError(t, p.Start(context.Background(), 1))
	assert.ErrorIs(t, p.Start(context.Background(), 2), ErrAlreadyStarted)
	p.Cancel()
}

func TestPoller_ParentContextCancels(t *testing.T) {
	c := clock.NewFake(epoch)
	f := &scriptedFetcher{}
	rec := &recorder{}
	p := newTestPoller(f, c, rec)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx, 1))
	cancel()

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after context cancellation")
	}

	assert.Equal(t, StateCancelled, p.State())
	c.Advance(DefaultTimeout)
	assert.Equal(t, 0, f.callCount())
	assert.Empty(t, rec.errs)
}

func TestPoller_SnapshotsPublished(t *testing.T) {
	c := clock.NewFake(epoch)
	f := &scriptedFetcher{script: []fetchResult{
		running(150, "over"),
		{task: &task.Task{ID: 1, Status: task.StatusCompleted}},
	}}
	rec := &recorder{}
	p := newTestPoller(f, c, rec)

	require.NoError(t, p.Start(context.Background(), 1))
	c.Advance(2 * DefaultInterval)

	require.Len(t, rec.snapshots, 3)
	assert.Equal(t, StatePolling, rec.snapshots[0].State)
	assert.Equal(t, 100, rec.snapshots[1].Progress, "progress is clamped to 100")
	assert.Equal(t, StateCompleted, rec.snapshots[2].State)
	assert.Equal(t, "evaluation", rec.snapshots[2].View)
	assert.Equal(t, task.KindLLMEvaluation, rec.snapshots[2].Kind)
}

type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingFetcher) GetTask(ctx context.Context, id int64) (*task.Task, error) {
	close(b.started)
	select {
	case <-b.release:
		return &task.Task{ID: id, Status: task.StatusCompleted}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestPoller_CancelDuringInFlightFetch(t *testing.T) {
	f := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	var mu sync.Mutex
	callbacks := 0
	p := New(f, Config{
		Kind:       task.KindQueryGeneration,
		Interval:   time.Millisecond,
		Timeout:    time.Minute,
		Logger:     logger.Discard(),
		OnComplete: func(*task.Task) { mu.Lock(); callbacks++; mu.Unlock() },
		OnError:    func(error) { mu.Lock(); callbacks++; mu.Unlock() },
	})

	require.NoError(t, p.Start(context.Background(), 5))
	<-f.started
	p.Cancel()
	close(f.release)

	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, callbacks)
	assert.Equal(t, StateCancelled, p.State())
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) Observe(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.states = append(l.states, s.State)
}

func (l *stateLog) all() []State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]State(nil), l.states...)
}

func TestPoller_CancelDuringProgressDeliveryEndsCancelled(t *testing.T) {
	c := clock.NewFake(epoch)
	f := &scriptedFetcher{script: []fetchResult{running(50, "halfway")}}

	entered := make(chan struct{})
	release := make(chan struct{})
	slow := ObserverFunc(func(s Snapshot) {
		if s.State == StatePolling && s.Progress == 50 {
			close(entered)
			<-release
		}
	})
	store := &stateLog{}

	p := New(f, Config{
		Kind:      task.KindQueryGeneration,
		Clock:     c,
		Logger:    logger.Discard(),
		Observers: []Observer{slow, store},
	})
	require.NoError(t, p.Start(context.Background(), 1))

	advanced := make(chan struct{})
	go func() {
		c.Advance(DefaultInterval)
		close(advanced)
	}()
	<-entered

	cancelled := make(chan struct{})
	go func() {
		p.Cancel()
		close(cancelled)
	}()
	require.Eventually(t, func() bool { return p.State() == StateCancelled }, time.Second, time.Millisecond)

	close(release)
	<-advanced
	<-cancelled

	assert.Equal(t, []State{StatePolling, StatePolling, StateCancelled}, store.all())
}

func TestPoller_StaleSnapshotIsDropped(t *testing.T) {
	store := &stateLog{}
	p := New(&scriptedFetcher{}, Config{Kind: task.KindIndexing, Logger: logger.Discard(), Observers: []Observer{store}})

	p.publish(2, Snapshot{State: StateCancelled})
	p.publish(1, Snapshot{State: StatePolling})

	assert.Equal(t, []State{StateCancelled}, store.all())
}

func TestPoller_EmptyResponseFails(t *testing.T) {
	c := clock.NewFake(epoch)
	f := &scriptedFetcher{script: []fetchResult{{}}}
	rec := &recorder{}
	p := newTestPoller(f, c, rec)

	require.NoError(t, p.Start(context.Background(), 1))
	c.Advance(DefaultInterval)

	assert.Equal(t, StateFailed, p.State())
	require.Len(t, rec.errs, 1)
	var pollErr *PollError
	require.ErrorAs(t, rec.errs[0], &pollErr)
	assert.ErrorIs(t, rec.errs[0], ErrEmptyResponse)
}
