// Package ga4 fetches daily property metrics from the Google Analytics Data
// API (runReport).
package ga4

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/ignite/insight-digest/internal/domain"
	"github.com/ignite/insight-digest/internal/pkg/httpretry"
)

// DefaultBaseURL is the Analytics Data API v1beta root.
const DefaultBaseURL = "https://analyticsdata.googleapis.com/v1beta"

const reportDateLayout = "20060102"

var (
	ErrUnauthorized    = errors.New("ga4: access token rejected")
	ErrMissingProperty = errors.New("ga4: missing property id")
)

// TokenRefresher exchanges a refresh token for a new access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.Token, error)
}

// Client is the Analytics Data API client.
type Client struct {
	baseURL    string
	refresher  TokenRefresher
	httpClient httpretry.HTTPDoer
}

// NewClient creates a client. baseURL defaults to DefaultBaseURL.
func NewClient(baseURL string, refresher TokenRefresher) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   baseURL,
		refresher: refresher,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: 60 * time.Second,
		}, 3),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// Fetch returns one sample per reported day, ordered by date. A rejected
// access token is refreshed once and the request retried.
func (c *Client) Fetch(ctx context.Context, req FetchRequest) (FetchResult, error) {
	if req.PropertyID == "" {
		return FetchResult{}, ErrMissingProperty
	}

	body := runReportRequest{
		DateRanges: []dateRange{{
			StartDate: req.StartDate.Format(time.DateOnly),
			EndDate:   req.EndDate.Format(time.DateOnly),
		}},
		Dimensions: []namedField{{Name: "date"}},
		OrderBys:   []orderBy{{Dimension: dimensionOrderBy{DimensionName: "date"}}},
	}
	for _, m := range domain.TrackedMetrics {
		body.Metrics = append(body.Metrics, namedField{Name: string(m)})
	}

	var result FetchResult
	resp, err := c.runReport(ctx, req.PropertyID, req.AccessToken, body)
	if errors.Is(err, ErrUnauthorized) && req.RefreshToken != "" && c.refresher != nil {
		tok, rerr := c.refresher.Refresh(ctx, req.RefreshToken)
		if rerr != nil {
			return FetchResult{}, fmt.Errorf("ga4: refresh after 401: %w", rerr)
		}
		result.TokenRefreshed = true
		result.NewAccessToken = tok.AccessToken
		result.NewExpiresAt = tok.ExpiresAt
		result.NewRefreshToken = tok.RefreshToken
		resp, err = c.runReport(ctx, req.PropertyID, tok.AccessToken, body)
	}
	if err != nil {
		return result, err
	}

	daily, err := parseRows(resp)
	if err != nil {
		return result, err
	}
	result.Daily = daily
	result.HasData = len(daily) > 0
	return result, nil
}

func (c *Client) runReport(ctx context.Context, propertyID, accessToken string, body runReportRequest) (*runReportResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	reqURL := fmt.Sprintf("%s/properties/%s:runReport", c.baseURL, propertyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ga4: API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var out runReportResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("ga4: failed to parse response: %w", err)
	}
	return &out, nil
}

// parseRows maps metric columns by header name so the column order of the
// response does not matter. Unparseable values count as zero.
func parseRows(resp *runReportResponse) ([]domain.MetricSample, error) {
	index := make(map[domain.MetricName]int, len(resp.MetricHeaders))
	for i, h := range resp.MetricHeaders {
		index[domain.MetricName(h.Name)] = i
	}

	value := func(row reportRow, m domain.MetricName) float64 {
		i, ok := index[m]
		if !ok || i >= len(row.MetricValues) {
			return 0
		}
		v, err := strconv.ParseFloat(row.MetricValues[i].Value, 64)
		if err != nil {
			return 0
		}
		return v
	}

	out := make([]domain.MetricSample, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		if len(row.DimensionValues) == 0 {
			continue
		}
		date, err := time.ParseInLocation(reportDateLayout, row.DimensionValues[0].Value, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("ga4: bad date %q: %w", row.DimensionValues[0].Value, err)
		}
		out = append(out, domain.MetricSample{
			Date:           date,
			Sessions:       value(row, domain.MetricSessions),
			TotalUsers:     value(row, domain.MetricTotalUsers),
			Conversions:    value(row, domain.MetricConversions),
			EngagementRate: value(row, domain.MetricEngagementRate),
			BounceRate:     value(row, domain.MetricBounceRate),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
