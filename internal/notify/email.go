package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Sender delivers a prepared SendGrid message. *sendgrid.Client satisfies it.
type Sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type EmailConfig struct {
	APIKey      string
	FromName    string
	FromAddress string
	Recipients  []string
	// OnlyFailures skips completed jobs.
	OnlyFailures bool
}

// EmailNotifier mails job outcomes through SendGrid.
type EmailNotifier struct {
	sender Sender
	cfg    EmailConfig
}

func NewEmailNotifier(cfg EmailConfig) (*EmailNotifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	return NewEmailNotifierWithSender(sendgrid.NewSendClient(cfg.APIKey), cfg)
}

func NewEmailNotifierWithSender(sender Sender, cfg EmailConfig) (*EmailNotifier, error) {
	if cfg.FromAddress == "" {
		return nil, errors.New("from address is required")
	}
	if len(cfg.Recipients) == 0 {
		return nil, errors.New("at least one recipient is required")
	}

	return &EmailNotifier{sender: sender, cfg: cfg}, nil
}

func (n *EmailNotifier) Notify(ctx context.Context, e Event) error {
	if e.Success && n.cfg.OnlyFailures {
		return nil
	}

	from := mail.NewEmail(n.cfg.FromName, n.cfg.FromAddress)
	body := formatBody(e)

	var errs []error
	for _, to := range n.cfg.Recipients {
		email := mail.NewSingleEmail(from, e.Subject(), mail.NewEmail("", to), body, body)
		response, err := n.sender.SendWithContext(ctx, email)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to send email to %s: %w", to, err))
			continue
		}
		if response.StatusCode >= 400 {
			errs = append(errs, fmt.Errorf("sendgrid error: status %d", response.StatusCode))
		}
	}

	return errors.Join(errs...)
}

func formatBody(e Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job: %s\n", e.Kind)
	fmt.Fprintf(&b, "Task ID: %d\n", e.TaskID)
	if e.View != "" {
		fmt.Fprintf(&b, "View: %s\n", e.View)
	}
	if e.Success {
		b.WriteString("Outcome: completed\n")
	} else {
		b.WriteString("Outcome: failed\n")
	}
	if e.Message != "" {
		fmt.Fprintf(&b, "\n%s\n", e.Message)
	}
	return b.String()
}
