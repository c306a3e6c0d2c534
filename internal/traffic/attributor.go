package traffic

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/splitflow/splitflow/internal/metrics"
	"github.com/splitflow/splitflow/internal/models"
	"github.com/splitflow/splitflow/internal/storage"
)

// EventArchiver receives raw events for the append-only archive. Enqueueing
// never blocks the redirect path.
type EventArchiver interface {
	ArchiveImpression(imp *models.Impression, sess models.SessionContext)
	ArchiveClick(click *models.Click, sess models.SessionContext)
	ArchiveConversion(conv *models.Conversion)
}

// Attributor records the tracking events behind a served redirect: the
// click, the distribution liveness touch, and the impression
// fill-or-create reconciliation.
type Attributor struct {
	events        storage.EventStore
	distributions storage.DistributionRepo
	campaigns     *CampaignService
	archive       EventArchiver
	metrics       *metrics.Metrics
	logger        *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewAttributor creates an Attributor. archive may be nil when the
// ClickHouse archive is disabled.
func NewAttributor(
	events storage.EventStore,
	distributions storage.DistributionRepo,
	campaigns *CampaignService,
	archive EventArchiver,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Attributor {
	return &Attributor{
		events:        events,
		distributions: distributions,
		campaigns:     campaigns,
		archive:       archive,
		metrics:       m,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Attribute records the click and reconciles impressions for a served
// redirect. It runs after the response is written; errors are logged, never
// surfaced to the visitor. Two fills run per redirect: one at campaign
// scope, one at product scope.
func (a *Attributor) Attribute(ctx context.Context, res *Resolution, sess models.SessionContext) {
	if err := a.trackClick(ctx, res, sess); err != nil {
		a.logger.Error("click tracking failed",
			zap.String("distribution_id", res.Distribution.ID),
			zap.Error(err),
		)
	}

	if err := a.fill(ctx, res.Campaign.ID, "", res.Distribution.ID, sess); err != nil {
		a.logger.Error("campaign impression fill failed",
			zap.String("campaign_id", res.Campaign.ID),
			zap.Error(err),
		)
	}
	if err := a.fill(ctx, res.Campaign.ID, res.Product.ID, res.Distribution.ID, sess); err != nil {
		a.logger.Error("product impression fill failed",
			zap.String("campaign_id", res.Campaign.ID),
			zap.String("product_id", res.Product.ID),
			zap.Error(err),
		)
	}
}

func (a *Attributor) trackClick(ctx context.Context, res *Resolution, sess models.SessionContext) error {
	// The touch is an advisory liveness hint, not part of the click record.
	if err := a.distributions.Touch(ctx, res.Distribution.ID, a.now()); err != nil {
		a.logger.Debug("distribution touch failed",
			zap.String("distribution_id", res.Distribution.ID),
			zap.Error(err),
		)
	}

	click := &models.Click{
		ID:             uuid.NewString(),
		SessionID:      sess.SessionID,
		DistributionID: res.Distribution.ID,
		CampaignID:     res.Campaign.ID,
		Session:        sess,
		CreatedAt:      a.now(),
	}
	if err := a.events.CreateClick(ctx, click); err != nil {
		return err
	}

	if a.metrics != nil {
		a.metrics.Clicks.Inc()
	}
	if a.archive != nil {
		a.archive.ArchiveClick(click, sess)
	}
	return nil
}

// fill attaches the distribution to at most one unattributed impression of
// the campaign from the current UTC day, or creates a new pre-attributed
// impression when none exists.
func (a *Attributor) fill(ctx context.Context, campaignID, productID, distributionID string, sess models.SessionContext) error {
	win := a.dayWindow()
	orphan, err := a.events.FindUnattributed(ctx, campaignID, win)
	if err != nil {
		return err
	}

	if orphan != nil {
		if err := a.events.AttachDistribution(ctx, orphan.ID, distributionID); err != nil {
			return err
		}
		if a.metrics != nil {
			a.metrics.RecordImpressionFill("filled")
		}
		a.logger.Debug("filled orphan impression",
			zap.String("impression_id", orphan.ID),
			zap.String("distribution_id", distributionID),
		)
		return nil
	}

	imp := &models.Impression{
		ID:             uuid.NewString(),
		SessionID:      sess.SessionID,
		CampaignID:     campaignID,
		ProductID:      productID,
		DistributionID: distributionID,
		Session:        sess,
		CreatedAt:      a.now(),
	}
	if err := a.events.CreateImpression(ctx, imp); err != nil {
		return err
	}

	if a.metrics != nil {
		a.metrics.RecordImpressionFill("created")
		a.metrics.Impressions.Inc()
	}
	if a.archive != nil {
		a.archive.ArchiveImpression(imp, sess)
	}
	return nil
}

// RecordImpression records an orphan impression for the campaign, fired by
// the ad pixel before any distribution is chosen.
func (a *Attributor) RecordImpression(ctx context.Context, campaignSlug string, sess models.SessionContext) (*models.Impression, error) {
	campaign, err := a.campaigns.GetBySlug(ctx, campaignSlug)
	if err != nil {
		return nil, err
	}

	imp := &models.Impression{
		ID:         uuid.NewString(),
		SessionID:  sess.SessionID,
		CampaignID: campaign.ID,
		Session:    sess,
		CreatedAt:  a.now(),
	}
	if err := a.events.CreateImpression(ctx, imp); err != nil {
		return nil, err
	}

	if a.metrics != nil {
		a.metrics.Impressions.Inc()
	}
	if a.archive != nil {
		a.archive.ArchiveImpression(imp, sess)
	}
	return imp, nil
}

// RecordConversion records a conversion postback against a distribution.
func (a *Attributor) RecordConversion(ctx context.Context, distributionID string) (*models.Conversion, error) {
	d, err := a.distributions.GetByID(ctx, distributionID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrDistributionNotFound
	}

	conv := &models.Conversion{
		ID:             uuid.NewString(),
		DistributionID: distributionID,
		CreatedAt:      a.now(),
	}
	if err := a.events.CreateConversion(ctx, conv); err != nil {
		return nil, err
	}

	if a.metrics != nil {
		a.metrics.Conversions.Inc()
	}
	if a.archive != nil {
		a.archive.ArchiveConversion(conv)
	}
	return conv, nil
}

// dayWindow is the half-open window of the current UTC calendar day.
func (a *Attributor) dayWindow() storage.EventWindow {
	now := a.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return storage.EventWindow{Start: start, End: start.Add(24 * time.Hour)}
}
