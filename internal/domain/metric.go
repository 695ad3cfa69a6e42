package domain

import "time"

// MetricName identifies one of the tracked daily analytics metrics.
type MetricName string

const (
	MetricSessions       MetricName = "sessions"
	MetricTotalUsers     MetricName = "totalUsers"
	MetricConversions    MetricName = "conversions"
	MetricEngagementRate MetricName = "engagementRate"
	MetricBounceRate     MetricName = "bounceRate"
)

// TrackedMetrics lists every metric the analyzer inspects, in evaluation order.
var TrackedMetrics = []MetricName{
	MetricSessions,
	MetricTotalUsers,
	MetricConversions,
	MetricEngagementRate,
	MetricBounceRate,
}

// IsRate reports whether the metric is a 0..1 ratio rather than a count.
func (m MetricName) IsRate() bool {
	return m == MetricEngagementRate || m == MetricBounceRate
}

// Label returns the human-readable metric name used in email copy.
func (m MetricName) Label() string {
	switch m {
	case MetricSessions:
		return "Sessions"
	case MetricTotalUsers:
		return "Total users"
	case MetricConversions:
		return "Conversions"
	case MetricEngagementRate:
		return "Engagement rate"
	case MetricBounceRate:
		return "Bounce rate"
	default:
		return string(m)
	}
}

// MetricSample is one day of analytics for a property. Date is a civil date
// stored at UTC midnight and is the sole ordering key.
type MetricSample struct {
	Date           time.Time `json:"date"`
	Sessions       float64   `json:"sessions"`
	TotalUsers     float64   `json:"total_users"`
	Conversions    float64   `json:"conversions"`
	EngagementRate float64   `json:"engagement_rate"`
	BounceRate     float64   `json:"bounce_rate"`
}

// Value returns the sample's value for the given metric.
func (s MetricSample) Value(m MetricName) float64 {
	switch m {
	case MetricSessions:
		return s.Sessions
	case MetricTotalUsers:
		return s.TotalUsers
	case MetricConversions:
		return s.Conversions
	case MetricEngagementRate:
		return s.EngagementRate
	case MetricBounceRate:
		return s.BounceRate
	default:
		return 0
	}
}
