package recorder

import (
	"context"
	"time"

	"github.com/ignite/insight-digest/internal/domain"
)

// Repository defines the storage contract for insights and email logs.
type Repository interface {
	// UpsertInsights inserts the rows, updating any existing row with the
	// same (user_id, insight_date, priority).
	UpsertInsights(ctx context.Context, rows []domain.PersistedInsight) error

	// InsertEmailLog appends one send attempt to the audit trail.
	InsertEmailLog(ctx context.Context, entry *domain.EmailLog) error

	// LastEmailSentAt returns when an email of the given kind was last
	// delivered to the user, or nil if never.
	LastEmailSentAt(ctx context.Context, userID string, kind domain.EmailKind) (*time.Time, error)
}
