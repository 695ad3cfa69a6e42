package eligibility

import (
	"fmt"
	"strings"
	"time"

	"github.com/ignite/insight-digest/internal/domain"
)

// Reason explains why a subscriber is not eligible.
type Reason string

const (
	ReasonInactiveSubscription Reason = "inactive_subscription"
	ReasonDisabled             Reason = "disabled"
	ReasonNotScheduledToday    Reason = "not_scheduled_today"
	ReasonFrequencyLimit       Reason = "frequency_limit"
	ReasonOutsideWindow        Reason = "outside_delivery_window"
)

// WeekdayZone selects which clock decides "today" for the report-day check.
type WeekdayZone string

const (
	// WeekdayServer evaluates the weekday in the scheduler's location.
	WeekdayServer WeekdayZone = "server"
	// WeekdaySubscriber evaluates the weekday in the subscriber's time zone.
	WeekdaySubscriber WeekdayZone = "subscriber"
)

// DefaultWindowHours is the allowed circular distance between the current
// civil hour and the preferred delivery hour.
const DefaultWindowHours = 1

// Decision is the gate's verdict for one subscriber.
type Decision struct {
	Eligible bool   `json:"eligible"`
	Reason   Reason `json:"reason,omitempty"`
}

// Config tunes the gate. Zero values take defaults: server weekday zone in
// time.Local and a one-hour window.
type Config struct {
	WeekdayZone    WeekdayZone
	ServerLocation *time.Location
	WindowHours    int
}

// Gate evaluates subscriber eligibility. It is safe for concurrent use.
type Gate struct {
	policies    domain.TierPolicies
	weekdayZone WeekdayZone
	serverLoc   *time.Location
	windowHours int
}

// NewGate creates a gate backed by the given tier policy table.
func NewGate(policies domain.TierPolicies, cfg Config) *Gate {
	if policies == nil {
		policies = domain.DefaultTierPolicies()
	}
	if cfg.WeekdayZone == "" {
		cfg.WeekdayZone = WeekdayServer
	}
	if cfg.ServerLocation == nil {
		cfg.ServerLocation = time.Local
	}
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = DefaultWindowHours
	}
	return &Gate{
		policies:    policies,
		weekdayZone: cfg.WeekdayZone,
		serverLoc:   cfg.ServerLocation,
		windowHours: cfg.WindowHours,
	}
}

// IsEligibleNow runs every check against now and reports the first failure.
func (g *Gate) IsEligibleNow(state domain.SchedulingState, now time.Time) Decision {
	if state.SubscriptionStatus != domain.SubscriptionActive {
		return Decision{Reason: ReasonInactiveSubscription}
	}
	if !state.Enabled {
		return Decision{Reason: ReasonDisabled}
	}

	subLoc := LoadLocation(state.Timezone)

	dayLoc := g.serverLoc
	if g.weekdayZone == WeekdaySubscriber {
		dayLoc = subLoc
	}
	if !ScheduledOn(state.ReportDays, now.In(dayLoc).Weekday()) {
		return Decision{Reason: ReasonNotScheduledToday}
	}

	policy := g.policies.For(state.Tier)
	if policy.MinEmailInterval > 0 && state.LastEmailSentAt != nil &&
		now.Sub(*state.LastEmailSentAt) < policy.MinEmailInterval {
		return Decision{Reason: ReasonFrequencyLimit}
	}

	if HourDistance(now.In(subLoc).Hour(), state.DeliveryHour) > g.windowHours {
		return Decision{Reason: ReasonOutsideWindow}
	}
	return Decision{Eligible: true}
}

// HourDistance is the circular distance between two hours of the day.
func HourDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	d %= 24
	if 24-d < d {
		return 24 - d
	}
	return d
}

// ScheduledOn reports whether wd is listed in days. Entries are matched on
// their first three letters, case-insensitively ("Mon", "monday", "MON").
func ScheduledOn(days []string, wd time.Weekday) bool {
	want := strings.ToLower(wd.String()[:3])
	for _, d := range days {
		d = strings.ToLower(strings.TrimSpace(d))
		if len(d) >= 3 && d[:3] == want {
			return true
		}
	}
	return false
}

// LoadLocation parses an IANA zone name. Empty or invalid names resolve to UTC.
func LoadLocation(tz string) *time.Location {
	loc, err := ParseTimezone(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseTimezone parses an IANA timezone identifier (e.g. "Europe/Berlin").
func ParseTimezone(tz string) (*time.Location, error) {
	if tz == "" || tz == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}
