package analyzer

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/insight-digest/internal/domain"
)

// 2025-01-06 is a Monday, so index 6, 13 and 20 are Sundays.
var seriesStart = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

func flatSeries(n int) []domain.MetricSample {
	out := make([]domain.MetricSample, n)
	for i := range out {
		out[i] = domain.MetricSample{
			Date:           seriesStart.AddDate(0, 0, i),
			Sessions:       100,
			TotalUsers:     80,
			Conversions:    5,
			EngagementRate: 0.6,
			BounceRate:     0.4,
		}
	}
	return out
}

func TestAnalyze_InsufficientHistory(t *testing.T) {
	for n := 0; n < DefaultMinHistory; n++ {
		series := flatSeries(n)
		if n > 0 {
			series[n-1].Sessions = 10000
		}
		assert.Empty(t, Analyze(series), "n=%d", n)
	}
}

func TestAnalyze_FlatSeriesYieldsNothing(t *testing.T) {
	assert.Empty(t, Analyze(flatSeries(7)))
	assert.Empty(t, Analyze(flatSeries(30)))
}

func TestAnalyze_ConstantSeriesWithRoundingNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5000; i++ {
		v := rng.Float64() * 10
		n := DefaultMinHistory + rng.Intn(90)
		series := make([]domain.MetricSample, n)
		for d := range series {
			series[d] = domain.MetricSample{
				Date:           seriesStart.AddDate(0, 0, d),
				Sessions:       v,
				TotalUsers:     v,
				Conversions:    v,
				EngagementRate: v / 10,
				BounceRate:     v / 10,
			}
		}
		require.Empty(t, Analyze(series), "v=%v n=%d", v, n)
	}

	// 7.5804829698992107 over 73 days leaves a stddev near 1e-16.
	series := make([]domain.MetricSample, 73)
	for d := range series {
		series[d] = domain.MetricSample{Date: seriesStart.AddDate(0, 0, d), Sessions: 7.5804829698992107}
	}
	assert.Empty(t, Analyze(series))
}

func TestAnalyze_ZeroVarianceMetricNeverEmits(t *testing.T) {
	series := flatSeries(21)
	series[20].Sessions = 1000

	insights := Analyze(series)
	require.NotEmpty(t, insights)
	for _, in := range insights {
		assert.Equal(t, domain.MetricSessions, in.Metric, "constant metrics must stay silent")
	}
}

func TestAnalyze_ZScoreOfTwoAndAHalf(t *testing.T) {
	// Sundays (6, 13) sit at m and day 20 at m+d. The remaining 18 days
	// alternate m±e, with e chosen so the population stddev is exactly 4d/15,
	// making z = (2d/3) / (4d/15) = 2.5.
	const m, d = 100.0, 30.0
	e := d * math.Sqrt((336.0/225.0-20.0/21.0)/18.0)

	series := flatSeries(21)
	sign := 1.0
	for i := range series {
		switch {
		case i == 20:
			series[i].Sessions = m + d
		case series[i].Date.Weekday() == time.Sunday:
			series[i].Sessions = m
		default:
			series[i].Sessions = m + sign*e
			sign = -sign
		}
	}

	values := make([]float64, len(series))
	for i, s := range series {
		values[i] = s.Sessions
	}
	require.InDelta(t, 4*d/15, StdDev(values), 1e-9)
	require.InDelta(t, m+d/3, BuildBaseline(series, domain.MetricSessions)[time.Sunday], 1e-9)

	var found *domain.AnomalyInsight
	for _, in := range Analyze(series) {
		if in.Metric == domain.MetricSessions && in.Date.Equal(series[20].Date) {
			in := in
			found = &in
		}
	}
	require.NotNil(t, found)
	assert.InDelta(t, 2.5, found.ZScore, 1e-9)
	assert.Equal(t, 98.8, found.Confidence)
	assert.Equal(t, domain.DirectionUp, found.Direction)
	assert.InDelta(t, (m+d-(m+d/3))/(m+d/3), found.PercentChange, 1e-12)
	assert.InDelta(t, math.Abs(found.PercentChange)*100, found.ImpactScore, 1e-12)
}

func TestAnalyze_TrendClassification(t *testing.T) {
	series := flatSeries(21)
	for i, v := range []float64{120, 140, 160, 180, 300} {
		series[16+i].Sessions = v
	}

	insights := Analyze(series)
	require.Len(t, insights, 1)
	in := insights[0]
	assert.Equal(t, domain.MetricSessions, in.Metric)
	assert.Equal(t, domain.TrendTrend, in.TrendType)
	assert.Equal(t, domain.DirectionUp, in.Direction)
	assert.Contains(t, in.Headline, "Sessions trending up")
	assert.Contains(t, in.Explanation, "sustained upward trend")
}

func TestAnalyze_SpikeClassificationOnRates(t *testing.T) {
	series := flatSeries(21)
	series[20].BounceRate = 0.8

	insights := Analyze(series)
	require.Len(t, insights, 1)
	in := insights[0]
	assert.Equal(t, domain.MetricBounceRate, in.Metric)
	assert.Equal(t, domain.TrendSpike, in.TrendType)
	assert.Equal(t, 99.7, in.Confidence)
	assert.Equal(t, "Bounce rate spiked 50.0% on Sun, Jan 26", in.Headline)
	assert.Contains(t, in.Explanation, "80.0%")
	assert.Equal(t, ActionsFor(domain.MetricBounceRate, domain.DirectionUp), in.ActionItems)
}

func TestAnalyze_DropDirection(t *testing.T) {
	series := flatSeries(21)
	series[20].Conversions = 0

	insights := Analyze(series)
	require.Len(t, insights, 1)
	assert.Equal(t, domain.DirectionDown, insights[0].Direction)
	assert.Less(t, insights[0].ZScore, 0.0)
	assert.Less(t, insights[0].PercentChange, 0.0)
}

func TestAnalyze_RankingAndCap(t *testing.T) {
	series := flatSeries(28)
	for i := 25; i < 28; i++ {
		series[i].Sessions = 100 + float64(i-24)*150
		series[i].TotalUsers = 80 + float64(i-24)*90
		series[i].Conversions = 5 + float64(i-24)*10
		series[i].EngagementRate = 0.6 - float64(i-24)*0.15
	}

	insights := Analyze(series)
	require.NotEmpty(t, insights)
	assert.LessOrEqual(t, len(insights), DefaultMaxInsights)
	for i := 1; i < len(insights); i++ {
		prev, cur := math.Abs(insights[i-1].ZScore), math.Abs(insights[i].ZScore)
		assert.GreaterOrEqual(t, prev, cur)
		if prev == cur {
			assert.GreaterOrEqual(t, insights[i-1].ImpactScore, insights[i].ImpactScore)
		}
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	series := flatSeries(28)
	series[27].Sessions = 400
	series[26].TotalUsers = 10

	assert.Equal(t, Analyze(series), Analyze(series))
}

func TestAnalyze_UnorderedInputIsSortedByDate(t *testing.T) {
	series := flatSeries(21)
	series[20].BounceRate = 0.8
	want := Analyze(series)

	shuffled := make([]domain.MetricSample, len(series))
	for i := range series {
		shuffled[len(series)-1-i] = series[i]
	}
	assert.Equal(t, want, Analyze(shuffled))
}

func TestClassify_ShortWindowIsSpike(t *testing.T) {
	a := New(Config{})
	assert.Equal(t, domain.TrendSpike, a.classify([]float64{1, 50, 900}, 2))
	assert.Equal(t, domain.TrendTrend, a.classify([]float64{1, 50, 900, 1000, 2000}, 4))
}
