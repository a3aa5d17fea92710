package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vortexstudio/yt-collector/internal/config"
	"github.com/vortexstudio/yt-collector/internal/domain"
	"github.com/vortexstudio/yt-collector/internal/pkg/httpretry"
)

const dateFormat = "2006-01-02"

// VideoResolver resolves a video ID to (title, channel name). The suggested
// -source family uses it to enrich rows; a nil resolver leaves the fields
// empty rather than failing the fetch.
type VideoResolver interface {
	ResolveVideo(ctx context.Context, videoID string) (title, channelName string, err error)
}

// Client is a YouTube Analytics query client. One instance serves every
// channel; the access token is supplied per call by the vault.
type Client struct {
	baseURL    string
	httpClient httpretry.HTTPDoer
	resolver   VideoResolver
}

// NewClient creates an analytics client. Quota responses (429) are excluded
// from the retry set: the orchestrator must see them immediately.
func NewClient(cfg config.AnalyticsConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, 3).WithoutStatus(http.StatusTooManyRequests),
	}
}

// SetVideoResolver installs the optional source-video resolver.
func (c *Client) SetVideoResolver(r VideoResolver) { c.resolver = r }

// query performs one reports call and decodes the positional response.
func (c *Client) query(ctx context.Context, accessToken string, q ReportQuery, family domain.ReportFamily, metrics, filters, sort string) (*reportResponse, error) {
	params := url.Values{}
	params.Set("ids", "channel=="+q.ChannelID)
	params.Set("startDate", q.StartDate.Format(dateFormat))
	params.Set("endDate", q.EndDate.Format(dateFormat))
	params.Set("dimensions", familyDims[family])
	params.Set("metrics", metrics)
	if filters != "" {
		params.Set("filters", filters)
	}
	if sort != "" {
		params.Set("sort", sort)
	}

	op := "analytics." + string(family)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reports?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindTransient, Op: op, ChannelID: q.ChannelID, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindTransient, Op: op, ChannelID: q.ChannelID, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(op, q.ChannelID, resp.StatusCode, body)
	}

	var report reportResponse
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, &domain.Error{Kind: domain.KindPermanentReject, Op: op, ChannelID: q.ChannelID, Msg: "malformed response", Err: err}
	}
	return &report, nil
}

// classifyStatus maps a non-200 provider response onto the error taxonomy.
func classifyStatus(op, channelID string, status int, body []byte) error {
	var envelope apiErrorBody
	_ = json.Unmarshal(body, &envelope)

	reason := ""
	if len(envelope.Error.Errors) > 0 {
		reason = strings.ToLower(envelope.Error.Errors[0].Reason)
	}
	msg := envelope.Error.Message
	if msg == "" {
		msg = string(body)
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &domain.Error{Kind: domain.KindQuotaExceeded, Op: op, ChannelID: channelID, Msg: msg}
	case status == http.StatusForbidden && (strings.Contains(reason, "quota") || strings.Contains(reason, "ratelimit") || strings.Contains(strings.ToLower(msg), "quota")):
		return &domain.Error{Kind: domain.KindQuotaExceeded, Op: op, ChannelID: channelID, Msg: msg}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &domain.Error{Kind: domain.KindAuthRevoked, Op: op, ChannelID: channelID, Msg: msg}
	case status >= 400 && status < 500:
		return &domain.Error{Kind: domain.KindPermanentReject, Op: op, ChannelID: channelID, Msg: fmt.Sprintf("status %d: %s", status, msg)}
	default:
		return &domain.Error{Kind: domain.KindTransient, Op: op, ChannelID: channelID, Msg: fmt.Sprintf("status %d: %s", status, msg)}
	}
}

// FetchCoreDaily fetches the per-day scalar report. One row per day in the
// range; days the provider has not finalized are simply absent.
func (c *Client) FetchCoreDaily(ctx context.Context, accessToken string, q ReportQuery) ([]domain.DailyMetric, error) {
	report, err := c.query(ctx, accessToken, q, domain.FamilyCoreDaily,
		"estimatedRevenue,views,estimatedMinutesWatched,averageViewDuration,subscribersGained,subscribersLost,averageViewPercentage",
		"", "day")
	if err != nil {
		return nil, err
	}

	var out []domain.DailyMetric
	for _, row := range report.rows() {
		day, err := time.Parse(dateFormat, row.str("day"))
		if err != nil {
			return nil, &domain.Error{Kind: domain.KindPermanentReject, Op: "analytics.core_daily", ChannelID: q.ChannelID, Msg: "unparseable day dimension", Err: err}
		}
		m := domain.DailyMetric{
			ChannelID:          q.ChannelID,
			Date:               day,
			Revenue:            row.floatPtr("estimatedRevenue"),
			Views:              row.int("views"),
			WatchTimeMinutes:   row.float("estimatedMinutesWatched"),
			AvgViewDurationSec: row.float("averageViewDuration"),
			SubscribersGained:  row.int("subscribersGained"),
			SubscribersLost:    row.int("subscribersLost"),
			AvgRetentionPct:    row.floatPtr("averageViewPercentage"),
		}
		m.RPM = deriveRPM(m.Revenue, m.Views)
		out = append(out, m)
	}
	return out, nil
}

// FetchTrafficSources fetches views and watch time grouped by traffic
// source type. Percentages are computed against the family total.
func (c *Client) FetchTrafficSources(ctx context.Context, accessToken string, q ReportQuery) ([]domain.TrafficSourceMetric, error) {
	report, err := c.query(ctx, accessToken, q, domain.FamilyTrafficSource,
		"views,estimatedMinutesWatched", "", "-views")
	if err != nil {
		return nil, err
	}

	rows := report.rows()
	var totalViews int64
	for _, row := range rows {
		totalViews += row.int("views")
	}

	var out []domain.TrafficSourceMetric
	for _, row := range rows {
		m := domain.TrafficSourceMetric{
			ChannelID:        q.ChannelID,
			Date:             q.EndDate,
			SourceType:       row.str("insightTrafficSourceType"),
			Views:            row.int("views"),
			WatchTimeMinutes: row.float("estimatedMinutesWatched"),
		}
		if totalViews > 0 {
			m.Percentage = float64(m.Views) / float64(totalViews) * 100
		}
		out = append(out, m)
	}
	return out, nil
}

// FetchSearchTerms fetches the search terms that drove views, filtered to
// YouTube search traffic.
func (c *Client) FetchSearchTerms(ctx context.Context, accessToken string, q ReportQuery) ([]domain.SearchTermMetric, error) {
	report, err := c.query(ctx, accessToken, q, domain.FamilySearchTerm,
		"views", "insightTrafficSourceType=="+trafficSourceSearch, "-views")
	if err != nil {
		return nil, err
	}

	rows := report.rows()
	var totalViews int64
	for _, row := range rows {
		totalViews += row.int("views")
	}

	var out []domain.SearchTermMetric
	for _, row := range rows {
		m := domain.SearchTermMetric{
			ChannelID:  q.ChannelID,
			Date:       q.EndDate,
			SearchTerm: row.str("insightTrafficSourceDetail"),
			Views:      row.int("views"),
		}
		if totalViews > 0 {
			m.PercentageOfSearch = float64(m.Views) / float64(totalViews) * 100
		}
		out = append(out, m)
	}
	return out, nil
}

// FetchSuggestedSources fetches which videos generated suggested-traffic
// views. Source video titles are resolved through the optional resolver;
// resolution failures degrade to empty fields, never to a fetch error.
func (c *Client) FetchSuggestedSources(ctx context.Context, accessToken string, q ReportQuery) ([]domain.SuggestedSourceMetric, error) {
	report, err := c.query(ctx, accessToken, q, domain.FamilySuggestedSource,
		"views", "insightTrafficSourceType=="+trafficSourceSuggested, "-views")
	if err != nil {
		return nil, err
	}

	var out []domain.SuggestedSourceMetric
	for _, row := range report.rows() {
		m := domain.SuggestedSourceMetric{
			ChannelID:      q.ChannelID,
			Date:           q.EndDate,
			SourceVideoID:  row.str("insightTrafficSourceDetail"),
			ViewsGenerated: row.int("views"),
		}
		if c.resolver != nil && m.SourceVideoID != "" {
			if title, channelName, err := c.resolver.ResolveVideo(ctx, m.SourceVideoID); err == nil {
				m.SourceVideoTitle = title
				m.SourceChannelName = channelName
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// FetchDemographics fetches the viewer percentage split by age bucket and
// gender. The provider reports percentages directly in [0,100].
func (c *Client) FetchDemographics(ctx context.Context, accessToken string, q ReportQuery) ([]domain.DemographicMetric, error) {
	report, err := c.query(ctx, accessToken, q, domain.FamilyDemographic,
		"viewerPercentage", "", "")
	if err != nil {
		return nil, err
	}

	var out []domain.DemographicMetric
	for _, row := range report.rows() {
		out = append(out, domain.DemographicMetric{
			ChannelID:  q.ChannelID,
			Date:       q.EndDate,
			AgeGroup:   row.str("ageGroup"),
			Gender:     row.str("gender"),
			Percentage: row.float("viewerPercentage"),
		})
	}
	return out, nil
}

// FetchDeviceTypes fetches views and watch time grouped by device type.
func (c *Client) FetchDeviceTypes(ctx context.Context, accessToken string, q ReportQuery) ([]domain.DeviceMetric, error) {
	report, err := c.query(ctx, accessToken, q, domain.FamilyDeviceType,
		"views,estimatedMinutesWatched", "", "-views")
	if err != nil {
		return nil, err
	}

	rows := report.rows()
	var totalViews int64
	for _, row := range rows {
		totalViews += row.int("views")
	}

	var out []domain.DeviceMetric
	for _, row := range rows {
		m := domain.DeviceMetric{
			ChannelID:        q.ChannelID,
			Date:             q.EndDate,
			DeviceType:       row.str("deviceType"),
			Views:            row.int("views"),
			WatchTimeMinutes: row.float("estimatedMinutesWatched"),
		}
		if totalViews > 0 {
			m.Percentage = float64(m.Views) / float64(totalViews) * 100
		}
		out = append(out, m)
	}
	return out, nil
}

// FetchCountries fetches views, revenue, and watch time by viewer country.
func (c *Client) FetchCountries(ctx context.Context, accessToken string, q ReportQuery) ([]domain.CountryMetric, error) {
	report, err := c.query(ctx, accessToken, q, domain.FamilyCountry,
		"views,estimatedRevenue,estimatedMinutesWatched", "", "-views")
	if err != nil {
		return nil, err
	}

	var out []domain.CountryMetric
	for _, row := range report.rows() {
		out = append(out, domain.CountryMetric{
			ChannelID:        q.ChannelID,
			Date:             q.EndDate,
			CountryCode:      row.str("country"),
			Views:            row.int("views"),
			Revenue:          row.float("estimatedRevenue"),
			WatchTimeMinutes: row.float("estimatedMinutesWatched"),
		})
	}
	return out, nil
}
