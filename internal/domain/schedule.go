package domain

import "time"

// SubscriptionStatus mirrors the billing provider's subscription state.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Tier is a subscription plan name.
type Tier string

const (
	TierStarter Tier = "starter"
	TierGrowth  Tier = "growth"
	TierPro     Tier = "pro"
)

// Profile is the account record a subscriber signs up with.
type Profile struct {
	UserID             string             `json:"user_id" db:"id"`
	Email              string             `json:"email" db:"email"`
	FullName           string             `json:"full_name" db:"full_name"`
	Tier               Tier               `json:"subscription_tier" db:"subscription_tier"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" db:"subscription_status"`
}

// Preferences holds a subscriber's delivery settings.
type Preferences struct {
	UserID          string     `json:"user_id" db:"user_id"`
	Enabled         bool       `json:"enabled" db:"enabled"`
	DeliveryHour    int        `json:"delivery_hour" db:"delivery_hour"`
	DeliveryMinute  int        `json:"delivery_minute" db:"delivery_minute"`
	Timezone        string     `json:"timezone" db:"timezone"`
	ReportDays      []string   `json:"report_days" db:"report_days"`
	LastEmailSentAt *time.Time `json:"last_email_sent_at" db:"last_email_sent_at"`
}

// SchedulingState is everything the eligibility gate needs about one
// subscriber. It is assembled from Profile and Preferences.
type SchedulingState struct {
	UserID             string             `json:"user_id"`
	Email              string             `json:"email"`
	Tier               Tier               `json:"subscription_tier"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	DeliveryHour       int                `json:"delivery_hour"`
	DeliveryMinute     int                `json:"delivery_minute"`
	Timezone           string             `json:"timezone"`
	Enabled            bool               `json:"enabled"`
	ReportDays         []string           `json:"report_days"`
	LastEmailSentAt    *time.Time         `json:"last_email_sent_at"`
}

// NewSchedulingState merges a profile with its preferences.
func NewSchedulingState(p Profile, prefs Preferences) SchedulingState {
	return SchedulingState{
		UserID:             p.UserID,
		Email:              p.Email,
		Tier:               p.Tier,
		SubscriptionStatus: p.SubscriptionStatus,
		DeliveryHour:       prefs.DeliveryHour,
		DeliveryMinute:     prefs.DeliveryMinute,
		Timezone:           prefs.Timezone,
		Enabled:            prefs.Enabled,
		ReportDays:         prefs.ReportDays,
		LastEmailSentAt:    prefs.LastEmailSentAt,
	}
}

// TierPolicy is the canonical per-tier limits table row.
type TierPolicy struct {
	LookbackDays     int           `yaml:"lookback_days" json:"lookback_days"`
	MinEmailInterval time.Duration `yaml:"min_email_interval" json:"min_email_interval"`
	InsightsPerEmail int           `yaml:"insights_per_email" json:"insights_per_email"`
}

// TierPolicies maps tier name to policy.
type TierPolicies map[Tier]TierPolicy

// DefaultTierPolicies returns the built-in plan limits. Only the starter
// tier has an email frequency floor.
func DefaultTierPolicies() TierPolicies {
	return TierPolicies{
		TierStarter: {LookbackDays: 30, MinEmailInterval: 7 * 24 * time.Hour, InsightsPerEmail: 3},
		TierGrowth:  {LookbackDays: 60, InsightsPerEmail: 3},
		TierPro:     {LookbackDays: 90, InsightsPerEmail: 3},
	}
}

// For returns the policy for a tier, falling back to the starter policy for
// unknown tiers.
func (tp TierPolicies) For(t Tier) TierPolicy {
	if p, ok := tp[t]; ok {
		return p
	}
	if p, ok := tp[TierStarter]; ok {
		return p
	}
	return DefaultTierPolicies()[TierStarter]
}
