package domain

import "time"

// TrendType distinguishes a sustained slope from a one-day deviation.
type TrendType string

const (
	TrendSpike TrendType = "spike"
	TrendTrend TrendType = "trend"
)

// Direction is the sign of an anomaly relative to its baseline.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// AnomalyInsight is a statistically significant deviation detected for one
// metric on one day. Insights are never mutated after creation.
type AnomalyInsight struct {
	Date          time.Time  `json:"date"`
	Metric        MetricName `json:"metric"`
	CurrentValue  float64    `json:"current_value"`
	ExpectedValue float64    `json:"expected_value"`
	PercentChange float64    `json:"percent_change"`
	ZScore        float64    `json:"z_score"`
	Confidence    float64    `json:"confidence"`
	TrendType     TrendType  `json:"trend_type"`
	Direction     Direction  `json:"direction"`
	ImpactScore   float64    `json:"impact_score"`
	Headline      string     `json:"headline"`
	Explanation   string     `json:"explanation"`
	ActionItems   []string   `json:"action_items"`
}

// PersistedInsight is the storage row for a delivered insight. The tuple
// (UserID, InsightDate, Priority) is unique; writes are upserts on it.
type PersistedInsight struct {
	ID            string     `json:"id" db:"id"`
	UserID        string     `json:"user_id" db:"user_id"`
	ConnectionID  string     `json:"connection_id" db:"connection_id"`
	InsightDate   time.Time  `json:"insight_date" db:"insight_date"`
	InsightType   TrendType  `json:"insight_type" db:"insight_type"`
	Priority      int        `json:"priority" db:"priority"`
	MetricName    MetricName `json:"metric_name" db:"metric_name"`
	MetricValue   float64    `json:"metric_value" db:"metric_value"`
	BaselineValue float64    `json:"baseline_value" db:"baseline_value"`
	PercentChange float64    `json:"percent_change" db:"percent_change"`
	Direction     Direction  `json:"direction" db:"direction"`
	Headline      string     `json:"headline" db:"headline"`
	Explanation   string     `json:"explanation" db:"explanation"`
	ActionItem    string     `json:"action_item" db:"action_item"`
	ImpactScore   float64    `json:"impact_score" db:"impact_score"`
}
