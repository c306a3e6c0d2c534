package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitflow/splitflow/internal/models"
)

func TestEventWindowContains(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	win := EventWindow{Start: start, End: start.Add(24 * time.Hour)}

	assert.True(t, win.Contains(start))
	assert.True(t, win.Contains(start.Add(23*time.Hour)))
	assert.False(t, win.Contains(start.Add(24*time.Hour)))
	assert.False(t, win.Contains(start.Add(-time.Second)))

	assert.True(t, EventWindow{}.Contains(time.Unix(0, 0)))
	assert.True(t, EventWindow{}.Contains(time.Now()))
}

func TestMemoryFindUnattributed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	win := EventWindow{Start: day, End: day.Add(24 * time.Hour)}

	// Orphan from the previous day is outside the window.
	require.NoError(t, store.Events.CreateImpression(ctx, &models.Impression{
		ID: "imp-stale", CampaignID: "c1", CreatedAt: day.Add(-time.Hour),
	}))
	// Already attributed impressions never match.
	require.NoError(t, store.Events.CreateImpression(ctx, &models.Impression{
		ID: "imp-attributed", CampaignID: "c1", DistributionID: "d0", CreatedAt: day.Add(time.Hour),
	}))
	require.NoError(t, store.Events.CreateImpression(ctx, &models.Impression{
		ID: "imp-first", CampaignID: "c1", CreatedAt: day.Add(2 * time.Hour),
	}))
	require.NoError(t, store.Events.CreateImpression(ctx, &models.Impression{
		ID: "imp-second", CampaignID: "c1", CreatedAt: day.Add(3 * time.Hour),
	}))

	orphan, err := store.Events.FindUnattributed(ctx, "c1", win)
	require.NoError(t, err)
	require.NotNil(t, orphan)
	assert.Equal(t, "imp-first", orphan.ID)

	require.NoError(t, store.Events.AttachDistribution(ctx, orphan.ID, "d1"))

	orphan, err = store.Events.FindUnattributed(ctx, "c1", win)
	require.NoError(t, err)
	require.NotNil(t, orphan)
	assert.Equal(t, "imp-second", orphan.ID)

	require.NoError(t, store.Events.AttachDistribution(ctx, orphan.ID, "d1"))

	orphan, err = store.Events.FindUnattributed(ctx, "c1", win)
	require.NoError(t, err)
	assert.Nil(t, orphan)

	// Other campaigns never see c1's orphans.
	orphan, err = store.Events.FindUnattributed(ctx, "c2", win)
	require.NoError(t, err)
	assert.Nil(t, orphan)
}

func TestMemoryListSelectable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	seed := []*models.Distribution{
		{ID: "d-low", CampaignID: "c1", ProductID: "p1", Priority: 5, Status: models.DistributionStatusActive},
		{ID: "d-high", CampaignID: "c1", ProductID: "p2", Priority: 50, Status: models.DistributionStatusActive},
		{ID: "d-mid", CampaignID: "c1", ProductID: "p3", Priority: 20, Status: models.DistributionStatusActive},
		{ID: "d-archived", CampaignID: "c1", ProductID: "p4", Priority: 99, Status: models.DistributionStatusArchived},
		{ID: "d-param", CampaignID: "c1", ParamID: "pr1", Priority: 99, Status: models.DistributionStatusActive},
		{ID: "d-other", CampaignID: "c2", ProductID: "p5", Priority: 99, Status: models.DistributionStatusActive},
	}
	for _, d := range seed {
		require.NoError(t, store.Distributions.Create(ctx, d))
	}

	got, err := store.Distributions.ListSelectable(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "d-high", got[0].ID)
	assert.Equal(t, "d-mid", got[1].ID)
	assert.Equal(t, "d-low", got[2].ID)

	got, err = store.Distributions.ListSelectable(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d-high", got[0].ID)
	assert.Equal(t, "d-mid", got[1].ID)
}

func TestMemoryActiveIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	seed := []*models.Distribution{
		{ID: "a", CampaignID: "c1", ProductID: "p1", Status: models.DistributionStatusActive},
		{ID: "b", CampaignID: "c1", ProductID: "p2", Status: models.DistributionStatusActive},
		{ID: "c", CampaignID: "c1", ProductID: "p1", Status: models.DistributionStatusArchived},
	}
	for _, d := range seed {
		require.NoError(t, store.Distributions.Create(ctx, d))
	}

	ids, err := store.Distributions.ActiveIDs(ctx, "c1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	ids, err = store.Distributions.ActiveIDs(ctx, "c1", "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	ids, err = store.Distributions.ActiveIDs(ctx, "c1", "p9")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryFindPlacement(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Campaigns.Create(ctx, &models.Campaign{
		ID: "c-active", Status: models.CampaignStatusActive,
	}))
	require.NoError(t, store.Campaigns.Create(ctx, &models.Campaign{
		ID: "c-paused", Status: models.CampaignStatusPaused,
	}))

	activeParam, err := store.Params.Upsert(ctx, &models.Param{
		ID: "pr-active", ExternalParamID: "ext-a", Type: models.ParamTypePlacement, PlacementID: "pl-1",
	})
	require.NoError(t, err)
	pausedParam, err := store.Params.Upsert(ctx, &models.Param{
		ID: "pr-paused", ExternalParamID: "ext-b", Type: models.ParamTypePlacement, PlacementID: "pl-2",
	})
	require.NoError(t, err)

	require.NoError(t, store.Distributions.Create(ctx, &models.Distribution{
		ID: "d1", CampaignID: "c-active", ParamID: activeParam.ID, Status: models.DistributionStatusActive,
	}))
	require.NoError(t, store.Distributions.Create(ctx, &models.Distribution{
		ID: "d2", CampaignID: "c-paused", ParamID: pausedParam.ID, Status: models.DistributionStatusActive,
	}))

	got, err := store.Distributions.FindPlacement(ctx, "pl-1", "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "d1", got.ID)

	// Paused campaign's placement is not served.
	got, err = store.Distributions.FindPlacement(ctx, "pl-2", "")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.Distributions.FindPlacement(ctx, "pl-unknown", "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryParamUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := store.Params.Upsert(ctx, &models.Param{
		ID: "p1", ExternalParamID: "ext-1", Type: models.ParamTypePlacement, SiloID: "s1",
	})
	require.NoError(t, err)

	second, err := store.Params.Upsert(ctx, &models.Param{
		ID: "p2", ExternalParamID: "ext-1", Type: models.ParamTypePlacement, SiloID: "s2",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "s2", second.SiloID)
}

func TestMemoryAnalyticsUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, err := store.Analytics.Upsert(ctx, &models.Analytics{
		ID:          "row-1",
		Scope:       models.ScopeCampaign,
		CampaignID:  "c1",
		Bucket:      "2024-03-01",
		Impressions: 10,
		Clicks:      2,
	})
	require.NoError(t, err)

	second, err := store.Analytics.Upsert(ctx, &models.Analytics{
		ID:          "row-2",
		Scope:       models.ScopeCampaign,
		CampaignID:  "c1",
		Bucket:      "2024-03-01",
		Impressions: 25,
		Clicks:      5,
	})
	require.NoError(t, err)

	// Same key overwrites counts but keeps the stored row identity.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(25), second.Impressions)
	assert.Equal(t, int64(5), second.Clicks)

	rows, err := store.Analytics.List(ctx, AnalyticsFilter{Scope: models.ScopeCampaign, CampaignID: "c1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(25), rows[0].Impressions)

	// Different bucket is a distinct row.
	_, err = store.Analytics.Upsert(ctx, &models.Analytics{
		ID: "row-3", Scope: models.ScopeCampaign, CampaignID: "c1", Bucket: "2024-03-02",
	})
	require.NoError(t, err)

	rows, err = store.Analytics.List(ctx, AnalyticsFilter{Scope: models.ScopeCampaign, CampaignID: "c1"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestMemoryCountEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	win := EventWindow{Start: day, End: day.Add(24 * time.Hour)}

	require.NoError(t, store.Events.CreateClick(ctx, &models.Click{
		ID: "k1", SessionID: "s1", DistributionID: "d1", CreatedAt: day.Add(time.Hour),
	}))
	require.NoError(t, store.Events.CreateClick(ctx, &models.Click{
		ID: "k2", SessionID: "s1", DistributionID: "d1", CreatedAt: day.Add(2 * time.Hour),
	}))
	require.NoError(t, store.Events.CreateClick(ctx, &models.Click{
		ID: "k3", SessionID: "s2", DistributionID: "d2", CreatedAt: day.Add(3 * time.Hour),
	}))
	require.NoError(t, store.Events.CreateClick(ctx, &models.Click{
		ID: "k4", SessionID: "s3", DistributionID: "d1", CreatedAt: day.Add(-time.Hour),
	}))

	clicks, err := store.Events.CountClicks(ctx, []string{"d1"}, win)
	require.NoError(t, err)
	assert.Equal(t, int64(2), clicks)

	unique, err := store.Events.CountDistinctClickSessions(ctx, []string{"d1", "d2"}, win)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unique)

	require.NoError(t, store.Events.CreateConversion(ctx, &models.Conversion{
		ID: "cv1", DistributionID: "d1", CreatedAt: day.Add(time.Hour),
	}))
	require.NoError(t, store.Events.CreateConversion(ctx, &models.Conversion{
		ID: "cv2", DistributionID: "d9", CreatedAt: day.Add(time.Hour),
	}))

	conversions, err := store.Events.CountConversions(ctx, []string{"d1"}, win)
	require.NoError(t, err)
	assert.Equal(t, int64(1), conversions)
}
