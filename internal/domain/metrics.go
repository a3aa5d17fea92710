package domain

import "time"

// ReportFamily identifies a fixed combination of dimensions and metrics
// fetched together from the analytics query endpoint.
type ReportFamily string

const (
	FamilyCoreDaily       ReportFamily = "core_daily"
	FamilyTrafficSource   ReportFamily = "traffic_source"
	FamilySearchTerm      ReportFamily = "search_term"
	FamilySuggestedSource ReportFamily = "suggested_source"
	FamilyDemographic     ReportFamily = "demographic"
	FamilyDeviceType      ReportFamily = "device_type"
	FamilyCountry         ReportFamily = "country"
)

// AllFamilies lists every report family in collection order. Core-daily
// goes first so dimensioned rows always reference an existing daily row.
var AllFamilies = []ReportFamily{
	FamilyCoreDaily,
	FamilyTrafficSource,
	FamilySearchTerm,
	FamilySuggestedSource,
	FamilyDemographic,
	FamilyDeviceType,
	FamilyCountry,
}

// DailyMetric is the per-(channel, date) scalar record. Revenue and
// retention fields are nullable: the provider omits them for dates before
// monetization or before the report is finalized.
type DailyMetric struct {
	ChannelID          string    `json:"channel_id" db:"channel_id"`
	Date               time.Time `json:"date" db:"date"`
	Revenue            *float64  `json:"revenue" db:"revenue"`
	Views              int64     `json:"views" db:"views"`
	RPM                *float64  `json:"rpm" db:"rpm"`
	WatchTimeMinutes   float64   `json:"watch_time_minutes" db:"watch_time_minutes"`
	AvgViewDurationSec float64   `json:"avg_view_duration_sec" db:"avg_view_duration_sec"`
	SubscribersGained  int64     `json:"subscribers_gained" db:"subscribers_gained"`
	SubscribersLost    int64     `json:"subscribers_lost" db:"subscribers_lost"`
	AvgRetentionPct    *float64  `json:"avg_retention_pct" db:"avg_retention_pct"`
	CTRApprox          *float64  `json:"ctr_approx" db:"ctr_approx"`
}

// TrafficSourceMetric is one traffic-source row for a (channel, date).
type TrafficSourceMetric struct {
	ChannelID        string    `json:"channel_id" db:"channel_id"`
	Date             time.Time `json:"date" db:"date"`
	SourceType       string    `json:"source_type" db:"source_type"`
	Views            int64     `json:"views" db:"views"`
	WatchTimeMinutes float64   `json:"watch_time_minutes" db:"watch_time_minutes"`
	Percentage       float64   `json:"percentage" db:"percentage"`
}

// SearchTermMetric is one search-term row for a (channel, date).
type SearchTermMetric struct {
	ChannelID          string    `json:"channel_id" db:"channel_id"`
	Date               time.Time `json:"date" db:"date"`
	SearchTerm         string    `json:"search_term" db:"search_term"`
	Views              int64     `json:"views" db:"views"`
	PercentageOfSearch float64   `json:"percentage_of_search" db:"percentage_of_search"`
}

// SuggestedSourceMetric is one suggested-video row for a (channel, date),
// keyed by the source video that generated the suggestion traffic.
type SuggestedSourceMetric struct {
	ChannelID         string    `json:"channel_id" db:"channel_id"`
	Date              time.Time `json:"date" db:"date"`
	SourceVideoID     string    `json:"source_video_id" db:"source_video_id"`
	SourceVideoTitle  string    `json:"source_video_title" db:"source_video_title"`
	SourceChannelName string    `json:"source_channel_name" db:"source_channel_name"`
	ViewsGenerated    int64     `json:"views_generated" db:"views_generated"`
}

// DemographicMetric is one (age bucket, gender) row for a (channel, date).
type DemographicMetric struct {
	ChannelID        string    `json:"channel_id" db:"channel_id"`
	Date             time.Time `json:"date" db:"date"`
	AgeGroup         string    `json:"age_group" db:"age_group"`
	Gender           string    `json:"gender" db:"gender"`
	Views            int64     `json:"views" db:"views"`
	WatchTimeMinutes float64   `json:"watch_time_minutes" db:"watch_time_minutes"`
	Percentage       float64   `json:"percentage" db:"percentage"`
}

// DeviceMetric is one device-type row for a (channel, date).
type DeviceMetric struct {
	ChannelID        string    `json:"channel_id" db:"channel_id"`
	Date             time.Time `json:"date" db:"date"`
	DeviceType       string    `json:"device_type" db:"device_type"`
	Views            int64     `json:"views" db:"views"`
	WatchTimeMinutes float64   `json:"watch_time_minutes" db:"watch_time_minutes"`
	Percentage       float64   `json:"percentage" db:"percentage"`
}

// CountryMetric is one country row for a (channel, date).
type CountryMetric struct {
	ChannelID        string    `json:"channel_id" db:"channel_id"`
	Date             time.Time `json:"date" db:"date"`
	CountryCode      string    `json:"country_code" db:"country_code"`
	Views            int64     `json:"views" db:"views"`
	Revenue          float64   `json:"revenue" db:"revenue"`
	WatchTimeMinutes float64   `json:"watch_time_minutes" db:"watch_time_minutes"`
}
