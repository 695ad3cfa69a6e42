package ga4

import (
	"time"

	"github.com/ignite/insight-digest/internal/domain"
)

// FetchRequest asks for daily metrics of one property over [StartDate, EndDate].
type FetchRequest struct {
	PropertyID   string
	AccessToken  string
	RefreshToken string
	StartDate    time.Time
	EndDate      time.Time
}

// FetchResult is the outcome of a metrics fetch. When the access token was
// rejected and refreshed mid-call, TokenRefreshed is set and the caller is
// expected to persist NewAccessToken.
type FetchResult struct {
	HasData        bool
	Daily          []domain.MetricSample
	TokenRefreshed bool
	NewAccessToken string
	NewExpiresAt   time.Time

	// NewRefreshToken is set when Google rotated the refresh token too.
	NewRefreshToken string
}

type runReportRequest struct {
	DateRanges []dateRange  `json:"dateRanges"`
	Dimensions []namedField `json:"dimensions"`
	Metrics    []namedField `json:"metrics"`
	OrderBys   []orderBy    `json:"orderBys,omitempty"`
	KeepEmpty  bool         `json:"keepEmptyRows,omitempty"`
}

type dateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type namedField struct {
	Name string `json:"name"`
}

type orderBy struct {
	Dimension dimensionOrderBy `json:"dimension"`
}

type dimensionOrderBy struct {
	DimensionName string `json:"dimensionName"`
}

type runReportResponse struct {
	DimensionHeaders []namedField `json:"dimensionHeaders"`
	MetricHeaders    []namedField `json:"metricHeaders"`
	Rows             []reportRow  `json:"rows"`
	RowCount         int          `json:"rowCount"`
}

type reportRow struct {
	DimensionValues []reportValue `json:"dimensionValues"`
	MetricValues    []reportValue `json:"metricValues"`
}

type reportValue struct {
	Value string `json:"value"`
}
