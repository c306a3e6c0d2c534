package models

import (
	"time"
)

// AnalyticsScope is the aggregation granularity of an analytics row.
type AnalyticsScope string

const (
	ScopeCampaign AnalyticsScope = "campaign"
	ScopeProduct  AnalyticsScope = "product"
)

// BucketLayout is the calendar-day bucket format, UTC.
const BucketLayout = "2006-01-02"

// Analytics is one time-bucketed summary row. At most one row exists per
// (Scope, CampaignID, ProductID, Bucket); the aggregator upserts absolute
// counts recomputed from the raw event tables, never increments, so re-runs
// for the same bucket converge.
type Analytics struct {
	ID           string         `json:"id"`
	Scope        AnalyticsScope `json:"scope"`
	CampaignID   string         `json:"campaign_id"`
	ProductID    string         `json:"product_id,omitempty"`
	Bucket       string         `json:"bucket"`
	Impressions  int64          `json:"impressions"`
	Clicks       int64          `json:"clicks"`
	Conversions  int64          `json:"conversions"`
	UniqueClicks int64          `json:"unique_clicks"`
	CTR          float64        `json:"ctr"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ComputeCTR derives clicks/impressions, 0 when impressions is 0.
func ComputeCTR(clicks, impressions int64) float64 {
	if impressions <= 0 {
		return 0
	}
	return float64(clicks) / float64(impressions)
}

// DayBucket formats t as the calendar-day bucket in UTC.
func DayBucket(t time.Time) string {
	return t.UTC().Format(BucketLayout)
}

// BucketWindow returns the [start, end) window of the given day bucket in
// UTC. The error surfaces malformed bucket strings.
func BucketWindow(bucket string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(BucketLayout, bucket, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 1), nil
}
