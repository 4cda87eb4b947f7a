package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockcontrol/internal/jobs"
	"github.com/odyssey-erp/stockcontrol/internal/notify"
)

// EnqueueEmail queues a transactional email.
func (c *Client) EnqueueEmail(ctx context.Context, email notify.Email) error {
	task, err := NewSendEmailTask(SendEmailPayload{To: email.To, Subject: email.Subject, Body: email.Body})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

// Sender delivers a rendered email.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPSender sends mail through a plain SMTP relay.
type SMTPSender struct {
	Addr string
	From string
	Auth smtp.Auth
}

// Send implements Sender.
func (s SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return errors.New("smtp: header injection")
	}
	msg := strings.Join([]string{
		"From: " + s.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		`Content-Type: text/html; charset="UTF-8"`,
		"",
		htmlBody,
	}, "\r\n")
	return smtp.SendMail(s.Addr, s.Auth, s.From, []string{to}, []byte(msg))
}

// EmailJob delivers mail:send tasks.
type EmailJob struct {
	Sender  Sender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskTypeSendEmail tasks.
func (j *EmailJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Sender == nil {
		return errors.New("send email: handler not configured")
	}
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("send email: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskTypeSendEmail)
	defer func() { resultErr = tracker.End(resultErr) }()

	if err := j.Sender.Send(ctx, payload.To, payload.Subject, payload.Body); err != nil {
		loggerOrDefault(j.Logger).Warn("send email", slog.String("to", payload.To), slog.Any("error", err))
		return err
	}
	loggerOrDefault(j.Logger).Info("email sent", slog.String("to", payload.To), slog.String("subject", payload.Subject))
	return nil
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
