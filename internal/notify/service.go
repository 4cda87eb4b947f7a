package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/stockcontrol/internal/jobcard"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

// ErrPartialDelivery reports that in-app rows were stored but some emails
// could not be queued.
var ErrPartialDelivery = errors.New("notify: partial delivery")

// RepositoryPort describes notification persistence.
type RepositoryPort interface {
	RecipientsByRole(ctx context.Context, companyID int64, roles []shared.Role) ([]Recipient, error)
	InsertNotifications(ctx context.Context, notifications []Notification) error
	ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]Notification, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
	MarkRead(ctx context.Context, userID, notificationID int64) error
	MarkAllRead(ctx context.Context, userID int64) error
}

// Mailer queues outbound email.
type Mailer interface {
	EnqueueEmail(ctx context.Context, email Email) error
}

// Config groups optional settings.
type Config struct {
	FrontendURL string
	Logger      *slog.Logger
}

// Service fans workflow events out to in-app notifications and email.
type Service struct {
	repo        RepositoryPort
	mailer      Mailer
	frontendURL string
	logger      *slog.Logger
}

// NewService constructs the notification service.
func NewService(repo RepositoryPort, mailer Mailer, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	frontend := strings.TrimRight(cfg.FrontendURL, "/")
	if frontend == "" {
		frontend = "http://localhost:3000"
	}
	return &Service{repo: repo, mailer: mailer, frontendURL: frontend, logger: logger}
}

// RecipientRoles returns who hears about a step becoming current: the step's
// owner, or administrators for unknown steps.
func RecipientRoles(step jobcard.Step) []shared.Role {
	if role, ok := jobcard.RoleForStep(step); ok {
		return []shared.Role{role}
	}
	return []shared.Role{shared.RoleAdmin}
}

// NotifyApprovalRequired tells the step owners that a job awaits them.
func (s *Service) NotifyApprovalRequired(ctx context.Context, job jobcard.Job, step jobcard.Step) error {
	users, err := s.repo.RecipientsByRole(ctx, job.CompanyID, RecipientRoles(step))
	if err != nil {
		return err
	}
	url := s.jobURL(job.ID, "")
	stepName := jobcard.DisplayName(step)
	err = s.store(ctx, job, users, ActionApprovalRequired, url,
		fmt.Sprintf("Approval Required: %s", job.JobName),
		fmt.Sprintf("Job card %s requires your approval for %s.", job.JobNumber, stepName))
	if err != nil {
		return err
	}
	return s.mail(ctx, users, "approval_required", fmt.Sprintf("Approval Required: %s - %s", job.JobNumber, job.JobName), emailData{
		JobNumber: job.JobNumber,
		JobName:   job.JobName,
		StepName:  stepName,
		ActionURL: url,
	})
}

// NotifyApprovalCompleted informs managers and administrators of a decision.
func (s *Service) NotifyApprovalCompleted(ctx context.Context, job jobcard.Job, step jobcard.Step, actor shared.Actor) error {
	users, err := s.repo.RecipientsByRole(ctx, job.CompanyID, []shared.Role{shared.RoleManager, shared.RoleAdmin})
	if err != nil {
		return err
	}
	return s.store(ctx, job, users, ActionApprovalCompleted, s.jobURL(job.ID, ""),
		fmt.Sprintf("Approved: %s", job.JobName),
		fmt.Sprintf("%s approved %s for job card %s.", actor.Name, jobcard.DisplayName(step), job.JobNumber))
}

// NotifyRejected informs accounts and administrators that a job went back to the start.
func (s *Service) NotifyRejected(ctx context.Context, job jobcard.Job, actor shared.Actor, reason string) error {
	users, err := s.repo.RecipientsByRole(ctx, job.CompanyID, []shared.Role{shared.RoleAccounts, shared.RoleAdmin})
	if err != nil {
		return err
	}
	url := s.jobURL(job.ID, "")
	err = s.store(ctx, job, users, ActionApprovalRejected, url,
		fmt.Sprintf("Rejected: %s", job.JobName),
		fmt.Sprintf("%s rejected job card %s. Reason: %s", actor.Name, job.JobNumber, reason))
	if err != nil {
		return err
	}
	return s.mail(ctx, users, "approval_rejected", fmt.Sprintf("Job Card Rejected: %s - %s", job.JobNumber, job.JobName), emailData{
		JobNumber: job.JobNumber,
		JobName:   job.JobName,
		ActorName: actor.Name,
		Reason:    reason,
		ActionURL: url,
	})
}

// NotifyDispatchReady tells storemen a job can be handed out.
func (s *Service) NotifyDispatchReady(ctx context.Context, job jobcard.Job) error {
	users, err := s.repo.RecipientsByRole(ctx, job.CompanyID, []shared.Role{shared.RoleStoreman})
	if err != nil {
		return err
	}
	return s.store(ctx, job, users, ActionDispatchReady, s.jobURL(job.ID, "/dispatch"),
		fmt.Sprintf("Ready for Dispatch: %s", job.JobName),
		fmt.Sprintf("Job card %s is ready for physical dispatch.", job.JobNumber))
}

// Unread lists a user's unread notifications newest first.
func (s *Service) Unread(ctx context.Context, userID int64) ([]Notification, error) {
	return s.repo.ListForUser(ctx, userID, true, 0)
}

// All lists a user's notifications newest first.
func (s *Service) All(ctx context.Context, userID int64, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListForUser(ctx, userID, false, limit)
}

// UnreadCount returns the number of unread notifications.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int, error) {
	return s.repo.UnreadCount(ctx, userID)
}

// MarkRead marks one notification read.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID int64) error {
	return s.repo.MarkRead(ctx, userID, notificationID)
}

// MarkAllRead marks every notification of the user read.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) error {
	return s.repo.MarkAllRead(ctx, userID)
}

func (s *Service) store(ctx context.Context, job jobcard.Job, users []Recipient, action ActionType, url, title, message string) error {
	if len(users) == 0 {
		s.logger.Debug("no notification recipients", slog.Int64("job_id", job.ID), slog.String("action", string(action)))
		return nil
	}
	rows := make([]Notification, 0, len(users))
	for _, u := range users {
		rows = append(rows, Notification{
			CompanyID:  job.CompanyID,
			UserID:     u.UserID,
			JobID:      job.ID,
			Title:      title,
			Message:    message,
			ActionType: action,
			ActionURL:  url,
		})
	}
	if err := s.repo.InsertNotifications(ctx, rows); err != nil {
		return fmt.Errorf("notify: store %s: %w", action, err)
	}
	s.logger.Info("notifications created",
		slog.Int64("job_id", job.ID),
		slog.String("action", string(action)),
		slog.Int("count", len(rows)))
	return nil
}

func (s *Service) mail(ctx context.Context, users []Recipient, name, subject string, data emailData) error {
	if s.mailer == nil {
		return nil
	}
	var errs []error
	for _, u := range users {
		if u.Email == "" {
			continue
		}
		data.RecipientName = u.Name
		body, err := renderEmail(name, data)
		if err != nil {
			return err
		}
		if err := s.mailer.EnqueueEmail(ctx, Email{To: u.Email, Subject: subject, Body: body}); err != nil {
			errs = append(errs, fmt.Errorf("notify: email %s: %w", u.Email, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrPartialDelivery, errors.Join(errs...))
	}
	return nil
}

func (s *Service) jobURL(jobID int64, suffix string) string {
	return fmt.Sprintf("%s/stock-control/portal/job-cards/%d%s", s.frontendURL, jobID, suffix)
}
