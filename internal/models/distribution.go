package models

import (
	"errors"
	"time"
)

type DistributionStatus string

const (
	DistributionStatusActive    DistributionStatus = "active"
	DistributionStatusScheduled DistributionStatus = "scheduled"
	DistributionStatusArchived  DistributionStatus = "archived"
)

// DefaultPriority is the selection weight assigned to distributions created
// by publish actions.
const DefaultPriority = 10

var (
	// ErrNoTarget is returned when a distribution references neither a
	// product nor a param.
	ErrNoTarget = errors.New("distribution must reference a product or a param")
	// ErrAmbiguousTarget is returned when a distribution references both a
	// product and a param. The target is exclusive.
	ErrAmbiguousTarget = errors.New("distribution cannot reference both a product and a param")
	// ErrNegativePriority is returned for selection weights below zero.
	ErrNegativePriority = errors.New("distribution priority must be >= 0")
)

// Distribution is a weighted, campaign-scoped binding to exactly one
// destination (a Product or a Param) competing for redirect traffic.
// Priority is the selection weight. UpdatedAt is touched on every click and
// serves as a liveness hint only.
type Distribution struct {
	ID         string             `json:"id"`
	CampaignID string             `json:"campaign_id"`
	ProductID  string             `json:"product_id,omitempty"`
	ParamID    string             `json:"param_id,omitempty"`
	Priority   int                `json:"priority"`
	Status     DistributionStatus `json:"status"`
	Metadata   map[string]string  `json:"metadata,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Validate enforces the exclusive-target invariant and the weight range.
func (d *Distribution) Validate() error {
	if d.ProductID == "" && d.ParamID == "" {
		return ErrNoTarget
	}
	if d.ProductID != "" && d.ParamID != "" {
		return ErrAmbiguousTarget
	}
	if d.Priority < 0 {
		return ErrNegativePriority
	}
	return nil
}

// HasProduct reports whether the distribution targets a product.
func (d *Distribution) HasProduct() bool {
	return d.ProductID != ""
}
