package traffic

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/splitflow/splitflow/internal/metrics"
	"github.com/splitflow/splitflow/internal/models"
	"github.com/splitflow/splitflow/internal/storage"
)

// selectableLimit bounds how many distributions compete per redirect.
const selectableLimit = 10

// Resolution is the outcome of resolving a campaign slug to a destination.
type Resolution struct {
	Campaign     *models.Campaign
	Distribution *models.Distribution
	Product      *models.Product
	URL          string
}

// Resolver picks a destination for a redirect request by weighted random
// selection over the campaign's active product-targeted distributions.
// Priority is the weight.
type Resolver struct {
	campaigns     *CampaignService
	distributions storage.DistributionRepo
	products      *ProductService
	metrics       *metrics.Metrics
	logger        *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewResolver creates a Resolver. rng may be nil, in which case a
// time-seeded source is used; tests inject a fixed seed.
func NewResolver(
	campaigns *CampaignService,
	distributions storage.DistributionRepo,
	products *ProductService,
	m *metrics.Metrics,
	logger *zap.Logger,
	rng *rand.Rand,
) *Resolver {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Resolver{
		campaigns:     campaigns,
		distributions: distributions,
		products:      products,
		metrics:       m,
		logger:        logger,
		rng:           rng,
	}
}

// Resolve maps a campaign slug to a destination URL. The campaign must be
// active; at most selectableLimit distributions compete, fetched by
// descending priority.
func (r *Resolver) Resolve(ctx context.Context, campaignSlug string) (*Resolution, error) {
	campaign, err := r.campaigns.GetBySlug(ctx, campaignSlug)
	if err != nil {
		return nil, err
	}
	if !campaign.IsActive() {
		return nil, ErrCampaignNotFound
	}

	candidates, err := r.distributions.ListSelectable(ctx, campaign.ID, selectableLimit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoDistributions
	}

	winner := r.pick(candidates)
	if r.metrics != nil {
		r.metrics.RecordSelection(campaign.ID)
	}

	product, err := r.products.GetByID(ctx, winner.ProductID)
	if err != nil {
		return nil, err
	}
	url, err := product.DestinationURL()
	if err != nil {
		return nil, err
	}

	return &Resolution{
		Campaign:     campaign,
		Distribution: winner,
		Product:      product,
		URL:          url,
	}, nil
}

// pick performs weighted random selection on priority. When every candidate
// has priority zero the first is returned; the final candidate absorbs any
// rounding remainder.
func (r *Resolver) pick(candidates []*models.Distribution) *models.Distribution {
	totalWeight := 0
	for _, d := range candidates {
		totalWeight += d.Priority
	}
	if totalWeight == 0 {
		return candidates[0]
	}

	r.mu.Lock()
	draw := r.rng.Intn(totalWeight)
	r.mu.Unlock()

	cumulative := 0
	for _, d := range candidates {
		cumulative += d.Priority
		if draw < cumulative {
			return d
		}
	}
	return candidates[len(candidates)-1]
}
