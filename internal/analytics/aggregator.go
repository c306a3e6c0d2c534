package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/splitflow/splitflow/internal/metrics"
	"github.com/splitflow/splitflow/internal/models"
	"github.com/splitflow/splitflow/internal/storage"
)

// DefaultDeliveryTimeout bounds each sink delivery independently of the
// aggregation pass.
const DefaultDeliveryTimeout = 10 * time.Second

// Aggregator recomputes daily summary rows from the raw event tables and
// pushes them to the reporting sink. Counts are absolute: re-running a
// bucket converges on the same row instead of double counting.
type Aggregator struct {
	campaigns     storage.CampaignRepo
	products      storage.ProductRepo
	distributions storage.DistributionRepo
	events        storage.EventStore
	analytics     storage.AnalyticsRepo

	sink            *Sink
	interval        time.Duration
	deliveryTimeout time.Duration
	metrics         *metrics.Metrics
	logger          *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewAggregator creates an Aggregator. sink may be nil, in which case
// summaries are stored but not delivered.
func NewAggregator(
	store *storage.Store,
	sink *Sink,
	interval time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Aggregator {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Aggregator{
		campaigns:       store.Campaigns,
		products:        store.Products,
		distributions:   store.Distributions,
		events:          store.Events,
		analytics:       store.Analytics,
		sink:            sink,
		interval:        interval,
		deliveryTimeout: DefaultDeliveryTimeout,
		metrics:         m,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Run executes aggregation passes on the configured interval until ctx is
// cancelled. One pass runs immediately on start.
func (a *Aggregator) Run(ctx context.Context) {
	a.logger.Info("aggregator started", zap.Duration("interval", a.interval))

	a.runPass(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("aggregator stopped")
			return
		case <-ticker.C:
			a.runPass(ctx)
		}
	}
}

func (a *Aggregator) runPass(ctx context.Context) {
	start := time.Now()
	err := a.RunOnce(ctx)
	result := "ok"
	if err != nil {
		result = "error"
		a.logger.Error("aggregation pass failed", zap.Error(err))
	}
	if a.metrics != nil {
		a.metrics.RecordAggregationRun(result, time.Since(start))
	}
}

// RunOnce performs one full aggregation pass over all active campaigns for
// the current day bucket. Per-campaign and per-delivery failures are logged
// and isolated; the pass always visits every campaign.
func (a *Aggregator) RunOnce(ctx context.Context) error {
	campaigns, err := a.campaigns.ListActive(ctx)
	if err != nil {
		return err
	}

	bucket := models.DayBucket(a.now())
	winStart, winEnd, err := models.BucketWindow(bucket)
	if err != nil {
		return err
	}
	win := storage.EventWindow{Start: winStart, End: winEnd}

	a.logger.Info("aggregating analytics",
		zap.String("bucket", bucket),
		zap.Int("campaigns", len(campaigns)),
	)

	for _, campaign := range campaigns {
		if err := a.aggregateCampaign(ctx, campaign, bucket, win); err != nil {
			a.logger.Error("campaign aggregation failed",
				zap.String("campaign_id", campaign.ID),
				zap.Error(err),
			)
		}
		a.aggregateProducts(ctx, campaign, bucket, win)
	}

	a.logger.Info("analytics aggregation completed", zap.String("bucket", bucket))
	return nil
}

// aggregateCampaign recomputes the campaign-scope row. Impressions count by
// campaign id directly; clicks and conversions count through the campaign's
// active distributions. The asymmetry is a business rule: orphan
// impressions belong to the campaign even before attribution.
func (a *Aggregator) aggregateCampaign(ctx context.Context, campaign *models.Campaign, bucket string, win storage.EventWindow) error {
	distributionIDs, err := a.distributions.ActiveIDs(ctx, campaign.ID, "")
	if err != nil {
		return err
	}

	impressions, err := a.events.CountImpressions(ctx, storage.ImpressionFilter{
		CampaignID: campaign.ID,
		Window:     win,
	})
	if err != nil {
		return err
	}

	row, err := a.buildRow(ctx, models.ScopeCampaign, campaign.ID, "", bucket, impressions, distributionIDs, win)
	if err != nil {
		return err
	}

	stored, err := a.analytics.Upsert(ctx, row)
	if err != nil {
		return err
	}

	a.deliver(ctx, stored, campaign.ExternalCampaignID, "")
	return nil
}

// aggregateProducts recomputes one product-scope row per distinct product of
// the campaign's distributions.
func (a *Aggregator) aggregateProducts(ctx context.Context, campaign *models.Campaign, bucket string, win storage.EventWindow) {
	productIDs, err := a.distributions.DistinctProductIDs(ctx, campaign.ID)
	if err != nil {
		a.logger.Error("listing campaign products failed",
			zap.String("campaign_id", campaign.ID),
			zap.Error(err),
		)
		return
	}

	for _, productID := range productIDs {
		if err := a.aggregateProduct(ctx, campaign, productID, bucket, win); err != nil {
			a.logger.Error("product aggregation failed",
				zap.String("campaign_id", campaign.ID),
				zap.String("product_id", productID),
				zap.Error(err),
			)
		}
	}
}

func (a *Aggregator) aggregateProduct(ctx context.Context, campaign *models.Campaign, productID, bucket string, win storage.EventWindow) error {
	distributionIDs, err := a.distributions.ActiveIDs(ctx, campaign.ID, productID)
	if err != nil {
		return err
	}
	if len(distributionIDs) == 0 {
		a.logger.Warn("product has no active distributions, skipping",
			zap.String("campaign_id", campaign.ID),
			zap.String("product_id", productID),
		)
		return nil
	}

	impressions, err := a.events.CountImpressions(ctx, storage.ImpressionFilter{
		CampaignID: campaign.ID,
		ProductID:  productID,
		Window:     win,
	})
	if err != nil {
		return err
	}

	row, err := a.buildRow(ctx, models.ScopeProduct, campaign.ID, productID, bucket, impressions, distributionIDs, win)
	if err != nil {
		return err
	}

	stored, err := a.analytics.Upsert(ctx, row)
	if err != nil {
		return err
	}

	product, err := a.products.GetByID(ctx, productID)
	if err != nil {
		return err
	}
	externalProductID := ""
	if product != nil {
		externalProductID = product.ExternalProductID
	}

	a.deliver(ctx, stored, campaign.ExternalCampaignID, externalProductID)
	return nil
}

func (a *Aggregator) buildRow(
	ctx context.Context,
	scope models.AnalyticsScope,
	campaignID, productID, bucket string,
	impressions int64,
	distributionIDs []string,
	win storage.EventWindow,
) (*models.Analytics, error) {
	var clicks, uniqueClicks, conversions int64
	if len(distributionIDs) > 0 {
		var err error
		if clicks, err = a.events.CountClicks(ctx, distributionIDs, win); err != nil {
			return nil, err
		}
		if uniqueClicks, err = a.events.CountDistinctClickSessions(ctx, distributionIDs, win); err != nil {
			return nil, err
		}
		if conversions, err = a.events.CountConversions(ctx, distributionIDs, win); err != nil {
			return nil, err
		}
	}

	return &models.Analytics{
		ID:           uuid.NewString(),
		Scope:        scope,
		CampaignID:   campaignID,
		ProductID:    productID,
		Bucket:       bucket,
		Impressions:  impressions,
		Clicks:       clicks,
		Conversions:  conversions,
		UniqueClicks: uniqueClicks,
		CTR:          models.ComputeCTR(clicks, impressions),
		UpdatedAt:    a.now(),
	}, nil
}

// deliver pushes a stored row to the sink under its own timeout. Delivery
// failures never fail the aggregation pass.
func (a *Aggregator) deliver(ctx context.Context, row *models.Analytics, externalCampaignID, externalProductID string) {
	if a.sink == nil {
		return
	}

	deliveryCtx, cancel := context.WithTimeout(ctx, a.deliveryTimeout)
	defer cancel()

	var err error
	if row.Scope == models.ScopeProduct {
		err = a.sink.PushProduct(deliveryCtx, externalCampaignID, externalProductID, row)
	} else {
		err = a.sink.PushCampaign(deliveryCtx, externalCampaignID, row)
	}
	if err != nil {
		a.logger.Error("sink delivery failed",
			zap.String("scope", string(row.Scope)),
			zap.String("campaign_id", row.CampaignID),
			zap.String("product_id", row.ProductID),
			zap.Error(err),
		)
	}
}
