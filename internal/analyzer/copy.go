package analyzer

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/ignite/insight-digest/internal/domain"
)

type actionKey struct {
	metric    domain.MetricName
	direction domain.Direction
}

var actionTable = map[actionKey][]string{
	{domain.MetricSessions, domain.DirectionUp}: {
		"Identify the traffic source driving the extra sessions and double down on it",
		"Check that your top landing pages convert the new visitors",
		"Make sure campaigns or links that launched recently are tagged for attribution",
	},
	{domain.MetricSessions, domain.DirectionDown}: {
		"Compare traffic by channel to find which source fell off",
		"Verify the analytics tag still fires on every page",
		"Review recent site, SEO or ad budget changes that could reduce reach",
	},
	{domain.MetricTotalUsers, domain.DirectionUp}: {
		"Segment new versus returning users to understand who arrived",
		"Capture the new audience with a newsletter or remarketing list",
		"Check referral and social channels for a mention or share",
	},
	{domain.MetricTotalUsers, domain.DirectionDown}: {
		"Check search rankings and paid campaigns for lost visibility",
		"Look for outages, slow pages or broken links on high-traffic pages",
		"Re-engage past visitors with email or remarketing",
	},
	{domain.MetricConversions, domain.DirectionUp}: {
		"Find which pages and channels produced the extra conversions",
		"Replicate the winning offer or message in other campaigns",
		"Confirm the conversion events are not double counting",
	},
	{domain.MetricConversions, domain.DirectionDown}: {
		"Walk through the checkout or signup flow to catch broken steps",
		"Confirm conversion tracking events still fire",
		"Review pricing, promotions or form changes made this week",
	},
	{domain.MetricEngagementRate, domain.DirectionUp}: {
		"Note which content visitors engaged with and publish more like it",
		"Add clear next steps to the pages that hold attention",
		"Check whether a specific channel is sending better-qualified traffic",
	},
	{domain.MetricEngagementRate, domain.DirectionDown}: {
		"Check page speed and mobile layout on your main landing pages",
		"Make sure traffic sources match the content they land on",
		"Review recent content or design changes that may confuse visitors",
	},
	{domain.MetricBounceRate, domain.DirectionUp}: {
		"Audit landing pages for slow loads, errors or mismatched messaging",
		"Check which channel sends visitors who leave immediately",
		"Add internal links and clearer calls to action above the fold",
	},
	{domain.MetricBounceRate, domain.DirectionDown}: {
		"Identify which pages improved and apply the same changes elsewhere",
		"Confirm the drop is not caused by a tracking change",
		"Use the extra engagement to promote a conversion goal",
	},
}

var genericActions = []string{
	"Review your analytics for the days around this change",
	"Check for recent site, marketing or tracking changes",
	"Keep monitoring this metric over the coming week",
}

// ActionsFor returns the recommended actions for a metric moving in a
// direction. The returned slice is a copy.
func ActionsFor(metric domain.MetricName, direction domain.Direction) []string {
	src, ok := actionTable[actionKey{metric, direction}]
	if !ok {
		src = genericActions
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// FormatValue renders a metric value for email copy: rates as percentages,
// counts with thousands separators.
func FormatValue(metric domain.MetricName, v float64) string {
	if metric.IsRate() {
		return fmt.Sprintf("%.1f%%", v*100)
	}
	return humanize.Comma(int64(math.Round(v)))
}

func headline(in domain.AnomalyInsight) string {
	pct := math.Abs(in.PercentChange) * 100
	label := in.Metric.Label()
	day := in.Date.Format("Mon, Jan 2")

	if in.TrendType == domain.TrendTrend {
		if in.Direction == domain.DirectionUp {
			return fmt.Sprintf("%s trending up: +%.1f%% on %s", label, pct, day)
		}
		return fmt.Sprintf("%s trending down: -%.1f%% on %s", label, pct, day)
	}
	if in.Direction == domain.DirectionUp {
		return fmt.Sprintf("%s spiked %.1f%% on %s", label, pct, day)
	}
	return fmt.Sprintf("%s dropped %.1f%% on %s", label, pct, day)
}

func explanation(in domain.AnomalyInsight, trendWindow int) string {
	weekday := in.Date.Weekday().String()
	shape := "This looks like a one-day spike rather than a lasting change."
	if in.TrendType == domain.TrendTrend {
		dir := "upward"
		if in.Direction == domain.DirectionDown {
			dir = "downward"
		}
		shape = fmt.Sprintf("It is part of a sustained %s trend over the last %d days.", dir, trendWindow)
	}
	return fmt.Sprintf(
		"%s reached %s on %s, compared with an expected %s for a typical %s. "+
			"That is %.1f standard deviations from normal (%.1f%% confidence). %s",
		in.Metric.Label(),
		FormatValue(in.Metric, in.CurrentValue),
		in.Date.Format("Monday, January 2"),
		FormatValue(in.Metric, in.ExpectedValue),
		weekday,
		math.Abs(in.ZScore),
		in.Confidence,
		shape,
	)
}
