package models

import (
	"time"
)

// SessionContext is the snapshot of the inbound request captured alongside
// every tracking event. It is supplied by the session provider and treated
// as an opaque input by the engine.
type SessionContext struct {
	SessionID  string `json:"session_id"`
	UserAgent  string `json:"user_agent,omitempty"`
	IP         string `json:"ip,omitempty"`
	Referer    string `json:"referer,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	Location   string `json:"location,omitempty"`
	IsBot      bool   `json:"is_bot,omitempty"`
}

// Impression records an ad pixel firing. DistributionID is empty for
// "orphan" impressions created before a distribution was chosen; the
// attributor reconciles them exactly once.
type Impression struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	CampaignID     string         `json:"campaign_id,omitempty"`
	ProductID      string         `json:"product_id,omitempty"`
	DistributionID string         `json:"distribution_id,omitempty"`
	Session        SessionContext `json:"session"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Attributed reports whether the impression has been attached to a
// distribution.
func (i *Impression) Attributed() bool {
	return i.DistributionID != ""
}

// Click records a redirect served through a distribution.
type Click struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	DistributionID string         `json:"distribution_id"`
	CampaignID     string         `json:"campaign_id,omitempty"`
	Session        SessionContext `json:"session"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Conversion records a downstream goal completion attributed to a
// distribution. Structure mirrors Click.
type Conversion struct {
	ID             string    `json:"id"`
	DistributionID string    `json:"distribution_id"`
	CreatedAt      time.Time `json:"created_at"`
}
