// Package notify delivers a single notification with bounded retries.
//
// Sender.SendWithRetry makes up to MaxAttempts attempts with fixed delays
// between them and reports every attempt to an Observer for auditing. For
// scheduler ticks the blocking wait is replaced by RetryQueue: the first
// attempt runs inline and later attempts are parked in a Redis sorted set
// scored by due time, to be drained by a separate worker.
package notify
