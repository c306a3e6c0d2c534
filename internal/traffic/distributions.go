package traffic

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/splitflow/splitflow/internal/cache"
	"github.com/splitflow/splitflow/internal/models"
	"github.com/splitflow/splitflow/internal/storage"
)

const distributionCacheTTL = time.Hour

// DistributionService manages distributions: creation with target
// validation, deduplication against existing (campaign, target) pairs, and
// bulk publishing.
type DistributionService struct {
	repo      storage.DistributionRepo
	campaigns *CampaignService
	products  *ProductService
	params    *ParamService
	cache     *cache.Cache
	logger    *zap.Logger
}

// NewDistributionService creates a DistributionService. cache may be nil.
func NewDistributionService(
	repo storage.DistributionRepo,
	campaigns *CampaignService,
	products *ProductService,
	params *ParamService,
	c *cache.Cache,
	logger *zap.Logger,
) *DistributionService {
	return &DistributionService{
		repo:      repo,
		campaigns: campaigns,
		products:  products,
		params:    params,
		cache:     c,
		logger:    logger,
	}
}

func distributionKey(id string) string {
	return cache.Key("distribution:id", id)
}

// GetByID returns the distribution with the given id.
func (s *DistributionService) GetByID(ctx context.Context, id string) (*models.Distribution, error) {
	key := distributionKey(id)
	if s.cache != nil {
		var cached models.Distribution
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("distribution cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrDistributionNotFound
	}
	s.store(ctx, d)
	return d, nil
}

// Create validates and inserts a distribution.
func (s *DistributionService) Create(ctx context.Context, d *models.Distribution) (*models.Distribution, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = models.DistributionStatusActive
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}

	s.store(ctx, d)
	return d, nil
}

// FromCampaignProduct resolves or creates the distribution for the given
// external campaign and product ids. The product is created lazily from the
// upstream catalog when unknown. An existing (campaign, product) pair is
// reused, never duplicated.
func (s *DistributionService) FromCampaignProduct(ctx context.Context, externalCampaignID, externalProductID string) (*models.Distribution, error) {
	campaign, err := s.campaigns.GetByExternalID(ctx, externalCampaignID)
	if err != nil {
		return nil, err
	}

	product, err := s.products.FindOrCreate(ctx, externalProductID, externalCampaignID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByCampaignProduct(ctx, campaign.ID, product.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.store(ctx, existing)
		return existing, nil
	}

	d := &models.Distribution{
		ID:         uuid.NewString(),
		CampaignID: campaign.ID,
		ProductID:  product.ID,
		Priority:   models.DefaultPriority,
		Status:     models.DistributionStatusActive,
	}
	return s.Create(ctx, d)
}

// FromCampaignParam resolves or creates distributions for the given external
// campaign and param ids. The param is upserted from the upstream catalog
// first. Existing (campaign, param) distributions are reused.
func (s *DistributionService) FromCampaignParam(ctx context.Context, externalCampaignID, externalParamID string) ([]*models.Distribution, error) {
	campaign, err := s.campaigns.GetByExternalID(ctx, externalCampaignID)
	if err != nil {
		return nil, err
	}

	param, err := s.params.Upsert(ctx, externalParamID, externalCampaignID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByCampaignParam(ctx, campaign.ID, param.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		for _, d := range existing {
			s.store(ctx, d)
		}
		return existing, nil
	}

	d := &models.Distribution{
		ID:         uuid.NewString(),
		CampaignID: campaign.ID,
		ParamID:    param.ID,
		Priority:   models.DefaultPriority,
		Status:     models.DistributionStatusActive,
	}
	created, err := s.Create(ctx, d)
	if err != nil {
		return nil, err
	}
	return []*models.Distribution{created}, nil
}

// PublishResult tallies a bulk publish.
type PublishResult struct {
	Success int      `json:"success"`
	Fail    []string `json:"fail"`
}

// Publish creates one distribution per external product id for the
// campaign. Failures are tallied per product; one bad product does not abort
// the rest.
func (s *DistributionService) Publish(ctx context.Context, externalCampaignID string, externalProductIDs []string) (*PublishResult, error) {
	if _, err := s.campaigns.GetByExternalID(ctx, externalCampaignID); err != nil {
		return nil, err
	}

	result := &PublishResult{}
	for _, externalProductID := range externalProductIDs {
		if _, err := s.FromCampaignProduct(ctx, externalCampaignID, externalProductID); err != nil {
			s.logger.Warn("publish failed for product",
				zap.String("external_campaign_id", externalCampaignID),
				zap.String("external_product_id", externalProductID),
				zap.Error(err),
			)
			result.Fail = append(result.Fail, externalProductID)
			continue
		}
		result.Success++
	}
	return result, nil
}

// Update persists changes to a distribution.
func (s *DistributionService) Update(ctx context.Context, d *models.Distribution) (*models.Distribution, error) {
	existing, err := s.repo.GetByID(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrDistributionNotFound
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	d.CreatedAt = existing.CreatedAt
	d.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}

	s.store(ctx, d)
	return d, nil
}

// Delete removes a distribution and its cache entry.
func (s *DistributionService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Del(ctx, distributionKey(id)); err != nil {
			s.logger.Warn("distribution cache invalidation failed", zap.Error(err))
		}
	}
	return nil
}

// ListByCampaign returns the campaign's distributions by descending
// priority.
func (s *DistributionService) ListByCampaign(ctx context.Context, campaignID string) ([]*models.Distribution, error) {
	return s.repo.ListByCampaign(ctx, campaignID)
}

// FindPlacement returns the first param-targeted distribution of an active
// campaign matching the placement or silo id.
func (s *DistributionService) FindPlacement(ctx context.Context, placementID, siloID string) (*models.Distribution, error) {
	if placementID == "" && siloID == "" {
		s.logger.Warn("placement lookup without placement or silo id")
		return nil, ErrPlacementNotFound
	}
	d, err := s.repo.FindPlacement(ctx, placementID, siloID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		s.logger.Warn("no distribution for placement",
			zap.String("placement_id", placementID),
			zap.String("silo_id", siloID),
		)
		return nil, ErrPlacementNotFound
	}
	return d, nil
}

func (s *DistributionService) store(ctx context.Context, d *models.Distribution) {
	if s.cache == nil {
		return
	}
	key := distributionKey(d.ID)
	if err := s.cache.Set(ctx, key, d, distributionCacheTTL); err != nil {
		s.logger.Warn("distribution cache write failed", zap.String("key", key), zap.Error(err))
	}
}
