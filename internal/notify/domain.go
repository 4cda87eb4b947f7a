package notify

import (
	"time"

	"github.com/odyssey-erp/stockcontrol/internal/shared"
)

// ActionType classifies an in-app notification.
type ActionType string

const (
	ActionApprovalRequired  ActionType = "approval_required"
	ActionApprovalCompleted ActionType = "approval_completed"
	ActionApprovalRejected  ActionType = "approval_rejected"
	ActionDispatchReady     ActionType = "dispatch_ready"
)

// Recipient is a user who receives workflow notifications.
type Recipient struct {
	UserID int64
	Name   string
	Email  string
	Role   shared.Role
}

// Notification is an in-app message for one user.
type Notification struct {
	ID         int64
	CompanyID  int64
	UserID     int64
	JobID      int64
	Title      string
	Message    string
	ActionType ActionType
	ActionURL  string
	ReadAt     *time.Time
	CreatedAt  time.Time
}

// Email is an outbound message handed to the mail queue.
type Email struct {
	To      string
	Subject string
	Body    string
}
