package analytics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/splitflow/splitflow/internal/models"
	"github.com/splitflow/splitflow/internal/storage"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAggregator(t *testing.T, sink *Sink) (*Aggregator, *storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	agg := NewAggregator(store, sink, time.Hour, nil, zap.NewNop())
	agg.now = func() time.Time { return testNow }
	return agg, store
}

// seedTrafficDay sets up one active campaign with an active and an archived
// distribution plus a day of raw events inside the current bucket.
func seedTrafficDay(t *testing.T, store *storage.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.Campaigns.Create(ctx, &models.Campaign{
		ID: "c1", ExternalCampaignID: "ext-c1", Slug: "spring-sale",
		Status: models.CampaignStatusActive, CreatedAt: testNow.Add(-48 * time.Hour),
	}))
	require.NoError(t, store.Products.Create(ctx, &models.Product{
		ID: "p1", ExternalProductID: "ext-p1", Kind: models.ProductKindAffiliate,
		URL: "https://dest.example.com/p1",
	}))
	require.NoError(t, store.Products.Create(ctx, &models.Product{
		ID: "p2", ExternalProductID: "ext-p2", Kind: models.ProductKindAffiliate,
		URL: "https://dest.example.com/p2",
	}))
	require.NoError(t, store.Distributions.Create(ctx, &models.Distribution{
		ID: "d1", CampaignID: "c1", ProductID: "p1", Priority: 10,
		Status: models.DistributionStatusActive,
	}))
	// Archived: its clicks must not count, and p2 must be skipped entirely.
	require.NoError(t, store.Distributions.Create(ctx, &models.Distribution{
		ID: "d9", CampaignID: "c1", ProductID: "p2", Priority: 10,
		Status: models.DistributionStatusArchived,
	}))

	// One orphan impression plus two attributed product impressions.
	require.NoError(t, store.Events.CreateImpression(ctx, &models.Impression{
		ID: "i-orphan", CampaignID: "c1", CreatedAt: testNow.Add(-time.Hour),
	}))
	require.NoError(t, store.Events.CreateImpression(ctx, &models.Impression{
		ID: "i1", CampaignID: "c1", ProductID: "p1", DistributionID: "d1",
		CreatedAt: testNow.Add(-2 * time.Hour),
	}))
	require.NoError(t, store.Events.CreateImpression(ctx, &models.Impression{
		ID: "i2", CampaignID: "c1", ProductID: "p1", DistributionID: "d1",
		CreatedAt: testNow.Add(-3 * time.Hour),
	}))

	// Two clicks from one session on the active distribution, one click on
	// the archived one.
	require.NoError(t, store.Events.CreateClick(ctx, &models.Click{
		ID: "k1", SessionID: "s1", DistributionID: "d1", CampaignID: "c1",
		CreatedAt: testNow.Add(-time.Hour),
	}))
	require.NoError(t, store.Events.CreateClick(ctx, &models.Click{
		ID: "k2", SessionID: "s1", DistributionID: "d1", CampaignID: "c1",
		CreatedAt: testNow.Add(-30 * time.Minute),
	}))
	require.NoError(t, store.Events.CreateClick(ctx, &models.Click{
		ID: "k3", SessionID: "s2", DistributionID: "d9", CampaignID: "c1",
		CreatedAt: testNow.Add(-time.Hour),
	}))

	require.NoError(t, store.Events.CreateConversion(ctx, &models.Conversion{
		ID: "cv1", DistributionID: "d1", CreatedAt: testNow.Add(-15 * time.Minute),
	}))
}

func TestRunOnceCampaignRow(t *testing.T) {
	ctx := context.Background()
	agg, store := newTestAggregator(t, nil)
	seedTrafficDay(t, store)

	require.NoError(t, agg.RunOnce(ctx))

	rows, err := store.Analytics.List(ctx, storage.AnalyticsFilter{
		Scope: models.ScopeCampaign, CampaignID: "c1",
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "2024-03-01", row.Bucket)
	// Impressions count by campaign, orphans included. Clicks and
	// conversions count only through active distributions, so the archived
	// distribution's click is excluded.
	assert.Equal(t, int64(3), row.Impressions)
	assert.Equal(t, int64(2), row.Clicks)
	assert.Equal(t, int64(1), row.UniqueClicks)
	assert.Equal(t, int64(1), row.Conversions)
	assert.InDelta(t, 2.0/3.0, row.CTR, 1e-9)
}

func TestRunOnceProductRows(t *testing.T) {
	ctx := context.Background()
	agg, store := newTestAggregator(t, nil)
	seedTrafficDay(t, store)

	require.NoError(t, agg.RunOnce(ctx))

	rows, err := store.Analytics.List(ctx, storage.AnalyticsFilter{
		Scope: models.ScopeProduct, CampaignID: "c1",
	})
	require.NoError(t, err)
	// p2 has no active distributions and is skipped.
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "p1", row.ProductID)
	assert.Equal(t, int64(2), row.Impressions)
	assert.Equal(t, int64(2), row.Clicks)
	assert.Equal(t, int64(1), row.UniqueClicks)
	assert.Equal(t, int64(1), row.Conversions)
	assert.InDelta(t, 1.0, row.CTR, 1e-9)
}

func TestRunOnceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	agg, store := newTestAggregator(t, nil)
	seedTrafficDay(t, store)

	require.NoError(t, agg.RunOnce(ctx))

	first, err := store.Analytics.List(ctx, storage.AnalyticsFilter{CampaignID: "c1"})
	require.NoError(t, err)

	require.NoError(t, agg.RunOnce(ctx))

	second, err := store.Analytics.List(ctx, storage.AnalyticsFilter{CampaignID: "c1"})
	require.NoError(t, err)

	// Absolute recompute converges: same rows, same identities, no
	// double counting.
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Impressions, second[i].Impressions)
		assert.Equal(t, first[i].Clicks, second[i].Clicks)
		assert.Equal(t, first[i].Conversions, second[i].Conversions)
		assert.Equal(t, first[i].UniqueClicks, second[i].UniqueClicks)
	}
}

func TestRunOnceZeroImpressions(t *testing.T) {
	ctx := context.Background()
	agg, store := newTestAggregator(t, nil)

	require.NoError(t, store.Campaigns.Create(ctx, &models.Campaign{
		ID: "c1", ExternalCampaignID: "ext-c1", Status: models.CampaignStatusActive,
	}))
	require.NoError(t, store.Distributions.Create(ctx, &models.Distribution{
		ID: "d1", CampaignID: "c1", ProductID: "p1", Status: models.DistributionStatusActive,
	}))
	require.NoError(t, store.Events.CreateClick(ctx, &models.Click{
		ID: "k1", SessionID: "s1", DistributionID: "d1", CreatedAt: testNow,
	}))

	require.NoError(t, agg.RunOnce(ctx))

	rows, err := store.Analytics.List(ctx, storage.AnalyticsFilter{
		Scope: models.ScopeCampaign, CampaignID: "c1",
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(0), rows[0].Impressions)
	assert.Equal(t, int64(1), rows[0].Clicks)
	assert.Equal(t, 0.0, rows[0].CTR)
}

func TestRunOnceIgnoresEventsOutsideBucket(t *testing.T) {
	ctx := context.Background()
	agg, store := newTestAggregator(t, nil)

	require.NoError(t, store.Campaigns.Create(ctx, &models.Campaign{
		ID: "c1", ExternalCampaignID: "ext-c1", Status: models.CampaignStatusActive,
	}))
	require.NoError(t, store.Distributions.Create(ctx, &models.Distribution{
		ID: "d1", CampaignID: "c1", ProductID: "p1", Status: models.DistributionStatusActive,
	}))
	require.NoError(t, store.Events.CreateImpression(ctx, &models.Impression{
		ID: "i-yesterday", CampaignID: "c1", CreatedAt: testNow.Add(-24 * time.Hour),
	}))
	require.NoError(t, store.Events.CreateImpression(ctx, &models.Impression{
		ID: "i-today", CampaignID: "c1", CreatedAt: testNow,
	}))

	require.NoError(t, agg.RunOnce(ctx))

	rows, err := store.Analytics.List(ctx, storage.AnalyticsFilter{
		Scope: models.ScopeCampaign, CampaignID: "c1",
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Impressions)
}

func TestRunOnceDeliversToSink(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sink-key", r.Header.Get("Authorization"))
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSink(srv.URL, "sink-key", time.Second, nil, zap.NewNop())
	agg, store := newTestAggregator(t, sink)
	seedTrafficDay(t, store)

	require.NoError(t, agg.RunOnce(ctx))

	mu.Lock()
	defer mu.Unlock()
	// One campaign push plus one push for the only aggregated product,
	// keyed by external ids.
	assert.ElementsMatch(t, []string{
		"/analytics/campaign/ext-c1",
		"/analytics/campaign/ext-c1/product/ext-p1",
	}, paths)
}

func TestRunOnceSurvivesSinkFailure(t *testing.T) {
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewSink(srv.URL, "sink-key", time.Second, nil, zap.NewNop())
	agg, store := newTestAggregator(t, sink)
	seedTrafficDay(t, store)

	// Delivery failures are logged and isolated; rows are still stored.
	require.NoError(t, agg.RunOnce(ctx))

	rows, err := store.Analytics.List(ctx, storage.AnalyticsFilter{CampaignID: "c1"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRunOnceSinkFailureDoesNotBlockOtherCampaigns(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var delivered []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "ext-c1") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		mu.Lock()
		delivered = append(delivered, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSink(srv.URL, "sink-key", time.Second, nil, zap.NewNop())
	agg, store := newTestAggregator(t, sink)

	for _, n := range []string{"1", "2"} {
		require.NoError(t, store.Campaigns.Create(ctx, &models.Campaign{
			ID: "c" + n, ExternalCampaignID: "ext-c" + n, Slug: "camp-" + n,
			Status: models.CampaignStatusActive,
		}))
		require.NoError(t, store.Products.Create(ctx, &models.Product{
			ID: "p" + n, ExternalProductID: "ext-p" + n, Kind: models.ProductKindAffiliate,
			URL: "https://dest.example.com/p" + n,
		}))
		require.NoError(t, store.Distributions.Create(ctx, &models.Distribution{
			ID: "d" + n, CampaignID: "c" + n, ProductID: "p" + n, Priority: 10,
			Status: models.DistributionStatusActive,
		}))
		require.NoError(t, store.Events.CreateImpression(ctx, &models.Impression{
			ID: "i" + n, CampaignID: "c" + n, ProductID: "p" + n, DistributionID: "d" + n,
			CreatedAt: testNow.Add(-time.Hour),
		}))
	}

	require.NoError(t, agg.RunOnce(ctx))

	// The first campaign's deliveries fail; the second's still land.
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{
		"/analytics/campaign/ext-c2",
		"/analytics/campaign/ext-c2/product/ext-p2",
	}, delivered)

	// Storage is unaffected either way.
	for _, id := range []string{"c1", "c2"} {
		rows, err := store.Analytics.List(ctx, storage.AnalyticsFilter{CampaignID: id})
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	}
}
