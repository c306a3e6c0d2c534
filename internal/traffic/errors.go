package traffic

import "errors"

// Lookup failures surfaced by the traffic services. Handlers map these to
// 404 responses.
var (
	ErrCampaignNotFound     = errors.New("campaign not found or inactive")
	ErrProductNotFound      = errors.New("product not found")
	ErrParamNotFound        = errors.New("param not found")
	ErrDistributionNotFound = errors.New("distribution not found")
	ErrNoDistributions      = errors.New("no active distributions for campaign")
	ErrPlacementNotFound    = errors.New("no matching distribution for placement")
)
