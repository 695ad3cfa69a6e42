package analyzer

import (
	"math"
	"sort"

	"github.com/ignite/insight-digest/internal/domain"
)

const (
	DefaultMinHistory     = 7
	DefaultZThreshold     = 2.0
	DefaultRecentDays     = 3
	DefaultTrendWindow    = 5
	DefaultSlopeThreshold = 0.1
	DefaultMaxInsights    = 5
)

// Config holds the detection thresholds. Zero fields take the defaults.
type Config struct {
	MinHistory     int     `yaml:"min_history"`
	ZThreshold     float64 `yaml:"z_threshold"`
	RecentDays     int     `yaml:"recent_days"`
	TrendWindow    int     `yaml:"trend_window"`
	SlopeThreshold float64 `yaml:"slope_threshold"`
	MaxInsights    int     `yaml:"max_insights"`
}

func (c Config) withDefaults() Config {
	if c.MinHistory <= 0 {
		c.MinHistory = DefaultMinHistory
	}
	if c.ZThreshold <= 0 {
		c.ZThreshold = DefaultZThreshold
	}
	if c.RecentDays <= 0 {
		c.RecentDays = DefaultRecentDays
	}
	if c.TrendWindow <= 0 {
		c.TrendWindow = DefaultTrendWindow
	}
	if c.SlopeThreshold <= 0 {
		c.SlopeThreshold = DefaultSlopeThreshold
	}
	if c.MaxInsights <= 0 {
		c.MaxInsights = DefaultMaxInsights
	}
	return c
}

// Analyzer detects anomalies in a metric series. It is stateless and safe
// for concurrent use.
type Analyzer struct {
	cfg Config
}

// New creates an Analyzer with the given thresholds.
func New(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg.withDefaults()}
}

// Analyze runs detection with the default thresholds.
func Analyze(series []domain.MetricSample) []domain.AnomalyInsight {
	return New(Config{}).Analyze(series)
}

// Analyze returns at most MaxInsights insights ranked by |z| then impact.
// Series shorter than MinHistory yield no insights.
func (a *Analyzer) Analyze(series []domain.MetricSample) []domain.AnomalyInsight {
	if len(series) < a.cfg.MinHistory {
		return nil
	}

	ordered := make([]domain.MetricSample, len(series))
	copy(ordered, series)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.Before(ordered[j].Date)
	})

	var insights []domain.AnomalyInsight
	for _, metric := range domain.TrackedMetrics {
		insights = append(insights, a.detect(ordered, metric)...)
	}

	sort.SliceStable(insights, func(i, j int) bool {
		zi, zj := math.Abs(insights[i].ZScore), math.Abs(insights[j].ZScore)
		if zi != zj {
			return zi > zj
		}
		return insights[i].ImpactScore > insights[j].ImpactScore
	})

	if len(insights) > a.cfg.MaxInsights {
		insights = insights[:a.cfg.MaxInsights]
	}
	return insights
}

func (a *Analyzer) detect(series []domain.MetricSample, metric domain.MetricName) []domain.AnomalyInsight {
	values := make([]float64, len(series))
	for i, s := range series {
		values[i] = s.Value(metric)
	}

	if IsFlat(values) {
		return nil
	}
	stdDev := StdDev(values)
	baseline := BuildBaseline(series, metric)

	start := len(series) - a.cfg.RecentDays
	if start < 0 {
		start = 0
	}

	var out []domain.AnomalyInsight
	for i := start; i < len(series); i++ {
		sample := series[i]
		current := values[i]
		expected := baseline[sample.Date.Weekday()]
		if Negligible(current-expected, expected) {
			continue
		}

		z := (current - expected) / stdDev
		if math.Abs(z) < a.cfg.ZThreshold {
			continue
		}
		if expected == 0 {
			continue
		}

		direction := domain.DirectionDown
		if current > expected {
			direction = domain.DirectionUp
		}
		pct := (current - expected) / expected

		insight := domain.AnomalyInsight{
			Date:          sample.Date,
			Metric:        metric,
			CurrentValue:  current,
			ExpectedValue: expected,
			PercentChange: pct,
			ZScore:        z,
			Confidence:    ConfidenceLevel(z),
			TrendType:     a.classify(values, i),
			Direction:     direction,
			ImpactScore:   math.Abs(pct) * 100,
			ActionItems:   ActionsFor(metric, direction),
		}
		insight.Headline = headline(insight)
		insight.Explanation = explanation(insight, a.cfg.TrendWindow)
		out = append(out, insight)
	}
	return out
}

// classify looks at the TrendWindow samples ending at index end.
func (a *Analyzer) classify(values []float64, end int) domain.TrendType {
	if end+1 < a.cfg.TrendWindow {
		return domain.TrendSpike
	}
	window := values[end+1-a.cfg.TrendWindow : end+1]
	if math.Abs(Slope(window)) > a.cfg.SlopeThreshold {
		return domain.TrendTrend
	}
	return domain.TrendSpike
}
