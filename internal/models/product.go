package models

import (
	"fmt"
	"time"
)

// ProductKind determines which kind of destination a product carries. The
// destination is a tagged variant: exactly one URL, interpreted by Kind.
type ProductKind string

const (
	ProductKindAffiliate      ProductKind = "affiliate_link"
	ProductKindAPIIntegration ProductKind = "api_integration"
)

// ValidProductKind reports whether k is a member of the closed kind set.
func ValidProductKind(k ProductKind) bool {
	switch k {
	case ProductKindAffiliate, ProductKindAPIIntegration:
		return true
	}
	return false
}

// Product is a destination competing for campaign traffic. Products are
// created lazily on first distribution request, pulled from the upstream
// catalog by external id.
type Product struct {
	ID                 string      `json:"id"`
	ExternalProductID  string      `json:"external_product_id"`
	ExternalCampaignID string      `json:"external_campaign_id"`
	Kind               ProductKind `json:"kind"`
	URL                string      `json:"url"`
	CreatedAt          time.Time   `json:"created_at"`
}

// DestinationURL resolves the product's destination. It fails when the URL
// for the product's kind is absent.
func (p *Product) DestinationURL() (string, error) {
	if p == nil {
		return "", fmt.Errorf("nil product")
	}
	if !ValidProductKind(p.Kind) {
		return "", fmt.Errorf("product %s: unknown kind %q", p.ID, p.Kind)
	}
	if p.URL == "" {
		return "", fmt.Errorf("product %s: no destination URL for kind %q", p.ID, p.Kind)
	}
	return p.URL, nil
}
