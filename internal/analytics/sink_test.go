package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/splitflow/splitflow/internal/models"
)

func testRow() *models.Analytics {
	return &models.Analytics{
		ID:           "row-1",
		Scope:        models.ScopeCampaign,
		CampaignID:   "c1",
		Bucket:       "2024-03-01",
		Impressions:  100,
		Clicks:       25,
		Conversions:  3,
		UniqueClicks: 20,
		CTR:          0.25,
	}
}

func TestSinkPushCampaign(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewSink(srv.URL, "secret", time.Second, nil, zap.NewNop())
	err := sink.PushCampaign(context.Background(), "ext-c1", testRow())
	require.NoError(t, err)

	assert.Equal(t, "/analytics/campaign/ext-c1", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "ext-c1", gotBody["external_campaign_id"])
	assert.Equal(t, float64(100), gotBody["impressions"])
	assert.Equal(t, float64(25), gotBody["clicks"])
	assert.NotContains(t, gotBody, "external_product_id")
}

func TestSinkPushProduct(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	row := testRow()
	row.Scope = models.ScopeProduct
	row.ProductID = "p1"

	sink := NewSink(srv.URL, "secret", time.Second, nil, zap.NewNop())
	err := sink.PushProduct(context.Background(), "ext-c1", "ext-p1", row)
	require.NoError(t, err)

	assert.Equal(t, "/analytics/campaign/ext-c1/product/ext-p1", gotPath)
	assert.Equal(t, "ext-c1", gotBody["external_campaign_id"])
	assert.Equal(t, "ext-p1", gotBody["external_product_id"])
}

func TestSinkRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sink := NewSink(srv.URL, "wrong-key", time.Second, nil, zap.NewNop())
	err := sink.PushCampaign(context.Background(), "ext-c1", testRow())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestSinkUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	sink := NewSink(srv.URL, "secret", time.Second, nil, zap.NewNop())
	err := sink.PushCampaign(context.Background(), "ext-c1", testRow())
	assert.Error(t, err)
}
