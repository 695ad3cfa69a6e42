package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/insight-digest/internal/domain"
)

func TestStdDev(t *testing.T) {
	assert.Equal(t, 0.0, StdDev(nil))
	assert.Equal(t, 0.0, StdDev([]float64{3, 3, 3}))
	assert.InDelta(t, 2.0, StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-12)
}

func TestSlope(t *testing.T) {
	assert.Equal(t, 0.0, Slope([]float64{5}))
	assert.InDelta(t, 2.0, Slope([]float64{1, 3, 5, 7, 9}), 1e-12)
	assert.InDelta(t, -0.5, Slope([]float64{2, 1.5, 1, 0.5, 0}), 1e-12)
	assert.InDelta(t, 0.0, Slope([]float64{4, 4, 4, 4, 4}), 1e-12)
}

func TestConfidenceLevel(t *testing.T) {
	tests := []struct {
		z    float64
		want float64
	}{
		{3.4, 99.7},
		{-3.0, 99.7},
		{2.5, 98.8},
		{2.99, 98.8},
		{-2.0, 95.4},
		{2.49, 95.4},
		{1.2, 90.0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ConfidenceLevel(tt.z), "z=%v", tt.z)
	}
}

func TestBuildBaseline_FallsBackToOverallMean(t *testing.T) {
	// Three consecutive days starting Monday: Mon=10, Tue=20, Wed=60.
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	series := []domain.MetricSample{
		{Date: start, Sessions: 10},
		{Date: start.AddDate(0, 0, 1), Sessions: 20},
		{Date: start.AddDate(0, 0, 2), Sessions: 60},
	}

	b := BuildBaseline(series, domain.MetricSessions)
	assert.Equal(t, 10.0, b[time.Monday])
	assert.Equal(t, 20.0, b[time.Tuesday])
	assert.Equal(t, 60.0, b[time.Wednesday])
	assert.Equal(t, 30.0, b[time.Sunday])
	assert.Equal(t, 30.0, b[time.Friday])
}

func TestActionsFor(t *testing.T) {
	got := ActionsFor(domain.MetricSessions, domain.DirectionDown)
	assert.Len(t, got, 3)

	got[0] = "mutated"
	assert.NotEqual(t, "mutated", ActionsFor(domain.MetricSessions, domain.DirectionDown)[0])

	assert.Equal(t, genericActions, ActionsFor(domain.MetricName("pageviews"), domain.DirectionUp))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "1,235", FormatValue(domain.MetricSessions, 1234.6))
	assert.Equal(t, "37.5%", FormatValue(domain.MetricBounceRate, 0.375))
}

func TestIsFlat(t *testing.T) {
	assert.True(t, IsFlat(nil))
	assert.True(t, IsFlat([]float64{7.5804829698992107, 7.5804829698992107, 7.5804829698992107}))
	assert.True(t, IsFlat([]float64{100, 100 + 1e-12, 100}))
	assert.False(t, IsFlat([]float64{100, 101, 100}))
	assert.False(t, IsFlat([]float64{0.40, 0.41, 0.40}))
}

func TestNegligible(t *testing.T) {
	assert.True(t, Negligible(2e-16, 7.58))
	assert.True(t, Negligible(1e-7, 1000))
	assert.False(t, Negligible(1e-3, 0.5))
}
