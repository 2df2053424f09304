package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/nadmax/searcheval/internal/logger"
	"github.com/nadmax/searcheval/internal/task"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent   []*mail.SGMailV3
	status int
	err    error
}

func (s *recordingSender) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, email)
	return &rest.Response{StatusCode: s.status}, nil
}

func TestEvent_Subject(t *testing.T) {
	assert.Equal(t, "[searcheval] QUERY_GENERATION completed", Event{Kind: task.KindQueryGeneration, Success: true}.Subject())
	assert.Equal(t, "[searcheval] LLM_EVALUATION failed", Event{Kind: task.KindLLMEvaluation}.Subject())
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(logger.NewWithWriter(&buf, "info", "json"))

	err := n.Notify(context.Background(), Event{Kind: task.KindCandidateGeneration, TaskID: 5, View: "queries", Success: false, Message: "backend exploded"})

	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"task_id":5`)
	assert.Contains(t, buf.String(), `"view":"queries"`)
	assert.Contains(t, buf.String(), "backend exploded")
}

func TestEmailNotifier(t *testing.T) {
	sender := &recordingSender{status: 202}
	n, err := NewEmailNotifierWithSender(sender, EmailConfig{
		FromName:    "Search Eval",
		FromAddress: "eval@example.com",
		Recipients:  []string{"a@example.com", "b@example.com"},
	})
	require.NoError(t, err)

	err = n.Notify(context.Background(), Event{Kind: task.KindLLMEvaluation, TaskID: 3, Success: true, Message: "Judged 40 candidates"})

	require.NoError(t, err)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, "[searcheval] LLM_EVALUATION completed", sender.sent[0].Subject)
	assert.Equal(t, "eval@example.com", sender.sent[0].From.Address)
}

func TestEmailNotifier_OnlyFailures(t *testing.T) {
	sender := &recordingSender{status: 202}
	n, err := NewEmailNotifierWithSender(sender, EmailConfig{
		FromAddress:  "eval@example.com",
		Recipients:   []string{"a@example.com"},
		OnlyFailures: true,
	})
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), Event{Success: true}))
	assert.Empty(t, sender.sent)

	require.NoError(t, n.Notify(context.Background(), Event{Success: false}))
	assert.Len(t, sender.sent, 1)
}

func TestEmailNotifier_Errors(t *testing.T) {
	_, err := NewEmailNotifier(EmailConfig{})
	assert.Error(t, err)

	_, err = NewEmailNotifierWithSender(&recordingSender{}, EmailConfig{FromAddress: "x@example.com"})
	assert.Error(t, err)

	n, err := NewEmailNotifierWithSender(&recordingSender{status: 401}, EmailConfig{FromAddress: "x@example.com", Recipients: []string{"y@example.com"}})
	require.NoError(t, err)
	assert.ErrorContains(t, n.Notify(context.Background(), Event{}), "status 401")

	n, err = NewEmailNotifierWithSender(&recordingSender{err: errors.New("dial tcp")}, EmailConfig{FromAddress: "x@example.com", Recipients: []string{"y@example.com"}})
	require.NoError(t, err)
	assert.ErrorContains(t, n.Notify(context.Background(), Event{}), "dial tcp")
}

func TestMulti(t *testing.T) {
	var calls int
	ok := NotifierFunc(func(ctx context.Context, e Event) error {
		calls++
		return nil
	})
	failing := NotifierFunc(func(ctx context.Context, e Event) error {
		calls++
		return errors.New("smtp down")
	})

	err := Multi{ok, nil, failing, ok}.Notify(context.Background(), Event{})

	assert.Equal(t, 3, calls)
	assert.ErrorContains(t, err, "smtp down")
}
