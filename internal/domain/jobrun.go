package domain

import "time"

// JobRunStatus enumerates the lifecycle of a scheduler tick.
type JobRunStatus string

const (
	JobRunRunning JobRunStatus = "running"
	JobRunSuccess JobRunStatus = "success"
	JobRunFailed  JobRunStatus = "failed"
)

// JobRun is the append-only audit row written for every tick.
type JobRun struct {
	ID             string       `json:"id" db:"id"`
	Status         JobRunStatus `json:"status" db:"status"`
	StartedAt      time.Time    `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at" db:"completed_at"`
	UsersProcessed int          `json:"users_processed" db:"users_processed"`
	EmailsSent     int          `json:"emails_sent" db:"emails_sent"`
	InsightsFound  int          `json:"insights_found" db:"insights_found"`
	DurationMs     int64        `json:"duration_ms" db:"duration_ms"`
	ErrorDetail    string       `json:"errors,omitempty" db:"errors"`
}

// EmailKind distinguishes the notifications this system sends.
type EmailKind string

const (
	EmailInsights        EmailKind = "insights"
	EmailStillProcessing EmailKind = "still_processing"
)

// EmailStatus is the outcome of one send attempt.
type EmailStatus string

const (
	EmailSent   EmailStatus = "sent"
	EmailFailed EmailStatus = "failed"
)

// EmailLog is one audited send attempt.
type EmailLog struct {
	ID                string      `json:"id" db:"id"`
	UserID            string      `json:"user_id" db:"user_id"`
	Kind              EmailKind   `json:"email_type" db:"email_type"`
	Recipient         string      `json:"recipient" db:"recipient"`
	Subject           string      `json:"subject" db:"subject"`
	Status            EmailStatus `json:"status" db:"status"`
	ProviderMessageID string      `json:"provider_message_id" db:"provider_message_id"`
	Attempt           int         `json:"attempt" db:"attempt"`
	Error             string      `json:"error,omitempty" db:"error"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
}
