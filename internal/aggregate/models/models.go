// Package models defines the aggregate record: time-bucketed rollups computed
// from raw events, keyed by entity and window. Records are whole-record
// overwrites; nothing ever merges into an existing aggregate.
package models

import "time"

// Period is the window size an aggregate covers.
type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Duration returns the window length for the period. Months use a fixed
// 30-day window so keys stay arithmetic.
func (p Period) Duration() time.Duration {
	switch p {
	case PeriodHour:
		return time.Hour
	case PeriodDay:
		return 24 * time.Hour
	case PeriodWeek:
		return 7 * 24 * time.Hour
	case PeriodMonth:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// IsValid checks if the period is one of the supported enum values.
func (p Period) IsValid() bool {
	switch p {
	case PeriodHour, PeriodDay, PeriodWeek, PeriodMonth:
		return true
	}
	return false
}

// Key uniquely identifies one aggregate window.
type Key struct {
	EntityType  string    `json:"entityType"`
	EntityID    string    `json:"entityId"`
	Period      Period    `json:"period"`
	WindowStart time.Time `json:"windowStart"`
}

// BreakdownEntry is one row of a frequency table, carrying its share of the
// window's events.
type BreakdownEntry struct {
	Key        string  `json:"key"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// UsageEntry is one row of a top-content or top-feature ranking.
type UsageEntry struct {
	Key           string  `json:"key"`
	Count         int     `json:"count"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}

// Aggregate is the closed set of rollups for one entity window.
type Aggregate struct {
	EntityType  string    `json:"entityType"`
	EntityID    string    `json:"entityId"`
	Period      Period    `json:"period"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`

	ViewCount     int `json:"viewCount"`
	DownloadCount int `json:"downloadCount"`
	ShareCount    int `json:"shareCount"`
	ContactCount  int `json:"contactCount"`
	BookingCount  int `json:"bookingCount"`

	UniqueSessions  int     `json:"uniqueSessions"`
	BounceRate      float64 `json:"bounceRate"`
	AvgEngagementMs float64 `json:"avgEngagementMs"`
	ConversionCount int     `json:"conversionCount"`
	ConversionRate  float64 `json:"conversionRate"`

	Geographic []BreakdownEntry `json:"geographic,omitempty"`
	Referrers  []BreakdownEntry `json:"referrers,omitempty"`
	Devices    []BreakdownEntry `json:"devices,omitempty"`
	Browsers   []BreakdownEntry `json:"browsers,omitempty"`

	TopSections []UsageEntry `json:"topSections,omitempty"`
	TopFeatures []UsageEntry `json:"topFeatures,omitempty"`

	// DataCompleteness is the fraction of in-window events that contributed
	// to the rollups; malformed events reduce it below 1.
	DataCompleteness float64   `json:"dataCompleteness"`
	LastUpdated      time.Time `json:"lastUpdated"`
}

// KeyOf returns the storage key for the aggregate.
func (a *Aggregate) KeyOf() Key {
	return Key{
		EntityType:  a.EntityType,
		EntityID:    a.EntityID,
		Period:      a.Period,
		WindowStart: a.WindowStart,
	}
}
