package storage

import (
	"context"
	"time"

	"github.com/splitflow/splitflow/internal/models"
)

// Repositories return (nil, nil) when an entity is absent; callers translate
// that into their own not-found errors.

// EventWindow is a half-open [Start, End) time range.
type EventWindow struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within the window. A zero window matches
// everything.
func (w EventWindow) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// CampaignRepo defines operations for campaign storage.
type CampaignRepo interface {
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
	GetBySlug(ctx context.Context, slug string) (*models.Campaign, error)
	GetByExternalID(ctx context.Context, externalCampaignID string) (*models.Campaign, error)
	GetByURL(ctx context.Context, url string) (*models.Campaign, error)
	ListActive(ctx context.Context) ([]*models.Campaign, error)
	Create(ctx context.Context, c *models.Campaign) error
	Update(ctx context.Context, c *models.Campaign) error
}

// ProductRepo defines operations for product storage.
type ProductRepo interface {
	GetByID(ctx context.Context, id string) (*models.Product, error)
	GetByExternalID(ctx context.Context, externalProductID string) (*models.Product, error)
	Create(ctx context.Context, p *models.Product) error
}

// ParamRepo defines operations for campaign param storage. Upsert keys on
// the (Type, ExternalParamID) uniqueness constraint.
type ParamRepo interface {
	GetByID(ctx context.Context, id string) (*models.Param, error)
	Upsert(ctx context.Context, p *models.Param) (*models.Param, error)
}

// DistributionRepo defines operations for distribution storage.
type DistributionRepo interface {
	GetByID(ctx context.Context, id string) (*models.Distribution, error)
	Create(ctx context.Context, d *models.Distribution) error
	Update(ctx context.Context, d *models.Distribution) error
	Delete(ctx context.Context, id string) error

	// Touch bumps UpdatedAt as a liveness hint. Advisory only.
	Touch(ctx context.Context, id string, at time.Time) error

	// ListSelectable returns up to limit active distributions of the
	// campaign whose product target is set, ordered by descending priority.
	ListSelectable(ctx context.Context, campaignID string, limit int) ([]*models.Distribution, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]*models.Distribution, error)

	// ActiveIDs returns ids of the campaign's active distributions,
	// optionally restricted to one product (productID empty = all).
	ActiveIDs(ctx context.Context, campaignID, productID string) ([]string, error)

	// DistinctProductIDs lists the distinct products referenced by the
	// campaign's distributions.
	DistinctProductIDs(ctx context.Context, campaignID string) ([]string, error)

	FindByCampaignProduct(ctx context.Context, campaignID, productID string) (*models.Distribution, error)
	FindByCampaignParam(ctx context.Context, campaignID, paramID string) ([]*models.Distribution, error)

	// FindPlacement returns the first param-targeted distribution of an
	// active campaign whose param matches the placement or silo id.
	FindPlacement(ctx context.Context, placementID, siloID string) (*models.Distribution, error)
}

// ImpressionFilter selects impressions for counting.
type ImpressionFilter struct {
	CampaignID string
	ProductID  string
	Window     EventWindow
}

// EventStore defines operations for raw tracking events and the set-based
// primitives the aggregator recomputes from.
type EventStore interface {
	CreateImpression(ctx context.Context, imp *models.Impression) error
	CreateClick(ctx context.Context, click *models.Click) error
	CreateConversion(ctx context.Context, conv *models.Conversion) error

	// FindUnattributed returns at most one impression of the campaign with
	// no distribution reference inside the window, or (nil, nil).
	FindUnattributed(ctx context.Context, campaignID string, win EventWindow) (*models.Impression, error)

	// AttachDistribution mutates an orphan impression in place, attaching
	// the winning distribution.
	AttachDistribution(ctx context.Context, impressionID, distributionID string) error

	CountImpressions(ctx context.Context, f ImpressionFilter) (int64, error)
	CountClicks(ctx context.Context, distributionIDs []string, win EventWindow) (int64, error)
	CountDistinctClickSessions(ctx context.Context, distributionIDs []string, win EventWindow) (int64, error)
	CountConversions(ctx context.Context, distributionIDs []string, win EventWindow) (int64, error)
}

// AnalyticsFilter selects aggregated rows for the query endpoint.
type AnalyticsFilter struct {
	Scope      models.AnalyticsScope
	CampaignID string
	ProductID  string
	Bucket     string
}

// AnalyticsRepo defines operations for aggregated summary rows. Upsert keys
// on (Scope, CampaignID, ProductID, Bucket) and overwrites counts wholesale.
type AnalyticsRepo interface {
	Upsert(ctx context.Context, row *models.Analytics) (*models.Analytics, error)
	List(ctx context.Context, f AnalyticsFilter) ([]*models.Analytics, error)
}

// Store bundles every repository. The engine takes the interfaces it needs;
// Store exists for wiring.
type Store struct {
	Campaigns     CampaignRepo
	Products      ProductRepo
	Params        ParamRepo
	Distributions DistributionRepo
	Events        EventStore
	Analytics     AnalyticsRepo
}
