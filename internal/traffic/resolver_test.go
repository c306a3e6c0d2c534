package traffic

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/splitflow/splitflow/internal/models"
	"github.com/splitflow/splitflow/internal/storage"
)

func newTestResolver(t *testing.T, seed int64) (*Resolver, *storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := zap.NewNop()
	campaigns := NewCampaignService(store.Campaigns, nil, nil, logger)
	products := NewProductService(store.Products, nil, nil, nil, logger)
	rng := rand.New(rand.NewSource(seed))
	return NewResolver(campaigns, store.Distributions, products, nil, logger, rng), store
}

func seedCampaign(t *testing.T, store *storage.Store, status models.CampaignStatus) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		ID:                 "c1",
		ExternalCampaignID: "ext-c1",
		Slug:               "spring-sale",
		Status:             status,
	}
	require.NoError(t, store.Campaigns.Create(context.Background(), c))
	return c
}

func seedProductDistribution(t *testing.T, store *storage.Store, id, productID string, priority int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Products.Create(ctx, &models.Product{
		ID:   productID,
		Kind: models.ProductKindAffiliate,
		URL:  "https://dest.example.com/" + productID,
	}))
	require.NoError(t, store.Distributions.Create(ctx, &models.Distribution{
		ID:         id,
		CampaignID: "c1",
		ProductID:  productID,
		Priority:   priority,
		Status:     models.DistributionStatusActive,
	}))
}

func TestResolveWeightedSelection(t *testing.T) {
	resolver, store := newTestResolver(t, 42)
	seedCampaign(t, store, models.CampaignStatusActive)
	seedProductDistribution(t, store, "d-heavy", "p-heavy", 60)
	seedProductDistribution(t, store, "d-mid", "p-mid", 30)
	seedProductDistribution(t, store, "d-light", "p-light", 10)

	counts := make(map[string]int)
	for i := 0; i < 1000; i++ {
		res, err := resolver.Resolve(context.Background(), "spring-sale")
		require.NoError(t, err)
		require.NotNil(t, res.Distribution)
		assert.Equal(t, res.Distribution.ProductID, res.Product.ID)
		assert.Equal(t, "https://dest.example.com/"+res.Product.ID, res.URL)
		counts[res.Distribution.ID]++
	}

	// Observed frequencies track the 60/30/10 weight split. A 5 point
	// tolerance is generous for 1000 seeded draws.
	assert.InDelta(t, 0.60, float64(counts["d-heavy"])/1000, 0.05)
	assert.InDelta(t, 0.30, float64(counts["d-mid"])/1000, 0.05)
	assert.InDelta(t, 0.10, float64(counts["d-light"])/1000, 0.05)
	assert.Greater(t, counts["d-light"], 0)
}

func TestResolveAllZeroWeights(t *testing.T) {
	resolver, store := newTestResolver(t, 1)
	seedCampaign(t, store, models.CampaignStatusActive)
	seedProductDistribution(t, store, "d-b", "p-b", 0)
	seedProductDistribution(t, store, "d-a", "p-a", 0)

	// Zero total weight always yields the first candidate in priority order.
	for i := 0; i < 10; i++ {
		res, err := resolver.Resolve(context.Background(), "spring-sale")
		require.NoError(t, err)
		assert.Equal(t, "d-a", res.Distribution.ID)
	}
}

func TestResolveSingleCandidate(t *testing.T) {
	resolver, store := newTestResolver(t, 1)
	seedCampaign(t, store, models.CampaignStatusActive)
	seedProductDistribution(t, store, "d-only", "p-only", 25)

	res, err := resolver.Resolve(context.Background(), "spring-sale")
	require.NoError(t, err)
	assert.Equal(t, "d-only", res.Distribution.ID)
}

func TestResolveInactiveCampaign(t *testing.T) {
	resolver, store := newTestResolver(t, 1)
	seedCampaign(t, store, models.CampaignStatusPaused)
	seedProductDistribution(t, store, "d1", "p1", 10)

	_, err := resolver.Resolve(context.Background(), "spring-sale")
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestResolveUnknownSlug(t *testing.T) {
	resolver, _ := newTestResolver(t, 1)

	_, err := resolver.Resolve(context.Background(), "no-such-campaign")
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestResolveNoDistributions(t *testing.T) {
	resolver, store := newTestResolver(t, 1)
	seedCampaign(t, store, models.CampaignStatusActive)

	_, err := resolver.Resolve(context.Background(), "spring-sale")
	assert.ErrorIs(t, err, ErrNoDistributions)
}

func TestResolveIgnoresParamDistributions(t *testing.T) {
	resolver, store := newTestResolver(t, 1)
	seedCampaign(t, store, models.CampaignStatusActive)
	require.NoError(t, store.Distributions.Create(context.Background(), &models.Distribution{
		ID:         "d-param",
		CampaignID: "c1",
		ParamID:    "pr1",
		Priority:   100,
		Status:     models.DistributionStatusActive,
	}))

	_, err := resolver.Resolve(context.Background(), "spring-sale")
	assert.ErrorIs(t, err, ErrNoDistributions)
}
