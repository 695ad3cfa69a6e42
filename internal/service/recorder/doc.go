// Package recorder persists delivered insights and the email audit trail.
//
// Insight rows are keyed by (user, insight date, priority) and written as
// upserts, so re-running a subscriber for the same day converges on the same
// rows instead of duplicating them. Every notification attempt is appended
// to the email log.
//
// The service depends only on the Repository interface in repository.go.
package recorder
