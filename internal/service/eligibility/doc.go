// Package eligibility decides whether a subscriber should receive an insight
// email on the current scheduler tick.
//
// Checks run in a fixed order and stop at the first failure, each producing a
// distinct Reason: subscription status, preferences switch, report day, tier
// frequency floor, and finally the delivery-time window in the subscriber's
// own time zone. Ineligibility is a normal outcome and is never an error.
package eligibility
