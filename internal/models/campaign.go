package models

import (
	"time"
)

type CampaignStatus string

const (
	CampaignStatusActive   CampaignStatus = "active"
	CampaignStatusPaused   CampaignStatus = "paused"
	CampaignStatusArchived CampaignStatus = "archived"
)

// Campaign is the routing root: inbound traffic is keyed by Slug and split
// across the campaign's distributions. ExternalCampaignID is the identifier
// the upstream reporting system knows the campaign by; every analytics push
// is keyed by it.
type Campaign struct {
	ID                 string         `json:"id"`
	ExternalCampaignID string         `json:"external_campaign_id"`
	Slug               string         `json:"slug"`
	Status             CampaignStatus `json:"status"`
	URL                string         `json:"url,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// IsActive reports whether the campaign is eligible for traffic.
func (c *Campaign) IsActive() bool {
	return c != nil && c.Status == CampaignStatusActive
}
