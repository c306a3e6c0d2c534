package models

import (
	"time"
)

type ParamType string

const (
	ParamTypePlacement ParamType = "placement"
	ParamTypeSilo      ParamType = "silo"
)

// Param is the alternate distribution target besides Product: a placement or
// silo slot published by the upstream system. Params are upserted on the
// (Type, ExternalParamID) pair.
type Param struct {
	ID                 string            `json:"id"`
	ExternalParamID    string            `json:"external_param_id"`
	ExternalCampaignID string            `json:"external_campaign_id"`
	Type               ParamType         `json:"type"`
	PlacementID        string            `json:"placement_id,omitempty"`
	SiloID             string            `json:"silo_id,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}
