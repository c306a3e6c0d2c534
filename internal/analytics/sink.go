package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/splitflow/splitflow/internal/metrics"
	"github.com/splitflow/splitflow/internal/models"
)

// Sink delivers aggregated summaries to the external reporting service.
// Every request carries bearer auth; any non-2xx status is a failure.
type Sink struct {
	baseURL string
	apiKey  string
	client  *http.Client
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewSink creates a reporting sink client.
func NewSink(baseURL, apiKey string, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Sink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sink{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		metrics: m,
		logger:  logger,
	}
}

// deliveryPayload is the wire form of a pushed summary. External ids ride
// alongside the row so the receiver never sees internal ids alone.
type deliveryPayload struct {
	models.Analytics
	ExternalCampaignID string `json:"external_campaign_id"`
	ExternalProductID  string `json:"external_product_id,omitempty"`
}

// PushCampaign delivers a campaign-scope summary.
func (s *Sink) PushCampaign(ctx context.Context, externalCampaignID string, row *models.Analytics) error {
	payload := deliveryPayload{
		Analytics:          *row,
		ExternalCampaignID: externalCampaignID,
	}
	return s.push(ctx, string(models.ScopeCampaign), "/analytics/campaign/"+externalCampaignID, payload)
}

// PushProduct delivers a product-scope summary.
func (s *Sink) PushProduct(ctx context.Context, externalCampaignID, externalProductID string, row *models.Analytics) error {
	payload := deliveryPayload{
		Analytics:          *row,
		ExternalCampaignID: externalCampaignID,
		ExternalProductID:  externalProductID,
	}
	return s.push(ctx, string(models.ScopeProduct), "/analytics/campaign/"+externalCampaignID+"/product/"+externalProductID, payload)
}

func (s *Sink) push(ctx context.Context, scope, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode sink payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sink request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.record(scope, "error", latency)
		return fmt.Errorf("sink request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.record(scope, "rejected", latency)
		return fmt.Errorf("sink request %s: unexpected status %d", path, resp.StatusCode)
	}

	s.record(scope, "ok", latency)
	return nil
}

func (s *Sink) record(scope, status string, latency time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordSinkDelivery(scope, status, latency)
	}
}
