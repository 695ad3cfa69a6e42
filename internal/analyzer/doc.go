// Package analyzer turns a daily analytics series into ranked anomaly
// insights.
//
// Detection is a seasonal z-score test: each of the most recent samples is
// compared against the mean of all samples sharing its weekday, scaled by the
// population standard deviation of the whole series. Significant deviations
// are classified as a one-day spike or a sustained trend, labelled with a
// confidence band, and paired with recommended actions.
//
// The package performs no I/O and reads no clock. Identical input always
// produces identical output.
package analyzer
