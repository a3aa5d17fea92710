package analytics

import (
	"time"

	"github.com/vortexstudio/yt-collector/internal/domain"
)

// ReportQuery identifies one analytics request: a channel and an inclusive
// date range. The family is implied by the client method called.
type ReportQuery struct {
	ChannelID string
	StartDate time.Time
	EndDate   time.Time
}

// reportResponse is the wire shape of the analytics query endpoint.
// Rows are positional; columnHeaders give the column names in order.
type reportResponse struct {
	Kind          string         `json:"kind"`
	ColumnHeaders []columnHeader `json:"columnHeaders"`
	Rows          [][]any        `json:"rows"`
}

type columnHeader struct {
	Name       string `json:"name"`
	ColumnType string `json:"columnType"`
	DataType   string `json:"dataType"`
}

// apiErrorBody is the provider's error envelope.
type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// reportRow gives name-indexed access to one positional row.
type reportRow struct {
	headers []columnHeader
	values  []any
}

func (r reportRow) str(name string) string {
	for i, h := range r.headers {
		if h.Name == name && i < len(r.values) {
			if s, ok := r.values[i].(string); ok {
				return s
			}
		}
	}
	return ""
}

func (r reportRow) float(name string) float64 {
	for i, h := range r.headers {
		if h.Name == name && i < len(r.values) {
			if f, ok := r.values[i].(float64); ok {
				return f
			}
		}
	}
	return 0
}

func (r reportRow) floatPtr(name string) *float64 {
	for i, h := range r.headers {
		if h.Name == name && i < len(r.values) {
			if f, ok := r.values[i].(float64); ok {
				return &f
			}
			return nil
		}
	}
	return nil
}

func (r reportRow) int(name string) int64 {
	return int64(r.float(name))
}

// rows wraps every positional row with the response headers.
func (resp *reportResponse) rows() []reportRow {
	out := make([]reportRow, 0, len(resp.Rows))
	for _, v := range resp.Rows {
		out = append(out, reportRow{headers: resp.ColumnHeaders, values: v})
	}
	return out
}

// deriveRPM computes revenue per mille views, the store's rpm column.
func deriveRPM(revenue *float64, views int64) *float64 {
	if revenue == nil || views <= 0 {
		return nil
	}
	rpm := *revenue / float64(views) * 1000
	return &rpm
}

// Dimension values the provider uses for the traffic-source detail filters.
const (
	trafficSourceSearch    = "YT_SEARCH"
	trafficSourceSuggested = "RELATED_VIDEO"
)

// familyDims maps each report family to its request dimensions, for logging
// and for the URL builder.
var familyDims = map[domain.ReportFamily]string{
	domain.FamilyCoreDaily:       "day",
	domain.FamilyTrafficSource:   "insightTrafficSourceType",
	domain.FamilySearchTerm:      "insightTrafficSourceDetail",
	domain.FamilySuggestedSource: "insightTrafficSourceDetail",
	domain.FamilyDemographic:     "ageGroup,gender",
	domain.FamilyDeviceType:      "deviceType",
	domain.FamilyCountry:         "country",
}
