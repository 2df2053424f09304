// Package notify tells people when a tracked evaluation job finishes.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/nadmax/searcheval/internal/logger"
	"github.com/nadmax/searcheval/internal/task"
)

// Event describes the terminal outcome of one job.
type Event struct {
	Kind    task.TaskKind
	View    string
	TaskID  int64
	Success bool
	Message string
}

func (e Event) Subject() string {
	outcome := "completed"
	if !e.Success {
		outcome = "failed"
	}
	return fmt.Sprintf("[searcheval] %s %s", e.Kind, outcome)
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, e Event) error

func (f NotifierFunc) Notify(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, e Event) error {
	l := n.log.WithTask(e.Kind, e.TaskID)
	if e.View != "" {
		l = l.WithView(e.View)
	}

	if e.Success {
		l.Info("job completed", "message", e.Message)
	} else {
		l.Warn("job failed", "message", e.Message)
	}
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
