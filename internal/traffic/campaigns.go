package traffic

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/splitflow/splitflow/internal/cache"
	"github.com/splitflow/splitflow/internal/metrics"
	"github.com/splitflow/splitflow/internal/models"
	"github.com/splitflow/splitflow/internal/storage"
)

const campaignCacheTTL = time.Hour

// CampaignService manages campaigns with a read-through cache on the hot
// lookup paths (slug and external id).
type CampaignService struct {
	repo    storage.CampaignRepo
	cache   *cache.Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCampaignService creates a CampaignService. cache may be nil when Redis
// is unavailable.
func NewCampaignService(repo storage.CampaignRepo, c *cache.Cache, m *metrics.Metrics, logger *zap.Logger) *CampaignService {
	return &CampaignService{
		repo:    repo,
		cache:   c,
		metrics: m,
		logger:  logger,
	}
}

func campaignKey(resource, id string) string {
	return cache.Key("campaign:"+resource, id)
}

// GetBySlug returns the campaign with the given slug.
func (s *CampaignService) GetBySlug(ctx context.Context, slug string) (*models.Campaign, error) {
	return s.lookup(ctx, "slug", slug, func(ctx context.Context) (*models.Campaign, error) {
		return s.repo.GetBySlug(ctx, slug)
	})
}

// GetByExternalID returns the campaign with the given external id.
func (s *CampaignService) GetByExternalID(ctx context.Context, externalCampaignID string) (*models.Campaign, error) {
	return s.lookup(ctx, "external", externalCampaignID, func(ctx context.Context) (*models.Campaign, error) {
		return s.repo.GetByExternalID(ctx, externalCampaignID)
	})
}

func (s *CampaignService) lookup(ctx context.Context, resource, id string, fetch func(context.Context) (*models.Campaign, error)) (*models.Campaign, error) {
	key := campaignKey(resource, id)
	if s.cache != nil {
		var cached models.Campaign
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			if s.metrics != nil {
				s.metrics.RecordCacheHit("campaign")
			}
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("campaign cache read failed", zap.String("key", key), zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordCacheMiss("campaign")
		}
	}

	campaign, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}

	s.store(ctx, campaign)
	return campaign, nil
}

// ListActive returns all active campaigns.
func (s *CampaignService) ListActive(ctx context.Context) ([]*models.Campaign, error) {
	campaigns, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(campaigns) == 0 {
		s.logger.Warn("no active campaigns found")
	}
	return campaigns, nil
}

// Create inserts a new campaign. Creation deduplicates on the destination
// URL: an existing campaign with the same URL is returned unchanged.
func (s *CampaignService) Create(ctx context.Context, c *models.Campaign) (*models.Campaign, error) {
	existing, err := s.repo.GetByURL(ctx, c.URL)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Warn("campaign with this url already exists",
			zap.String("slug", existing.Slug),
			zap.String("url", existing.URL),
		)
		return existing, nil
	}

	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.CampaignStatusActive
	}
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}

	s.store(ctx, c)
	s.logger.Info("created campaign", zap.String("slug", c.Slug), zap.String("id", c.ID))
	return c, nil
}

// Update persists changes to a campaign and refreshes the cache.
func (s *CampaignService) Update(ctx context.Context, c *models.Campaign) (*models.Campaign, error) {
	existing, err := s.repo.GetByID(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrCampaignNotFound
	}

	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}

	s.Invalidate(ctx, existing)
	s.store(ctx, c)
	s.logger.Info("updated campaign", zap.String("id", c.ID))
	return c, nil
}

// Invalidate drops the campaign's cache entries.
func (s *CampaignService) Invalidate(ctx context.Context, c *models.Campaign) {
	if s.cache == nil {
		return
	}
	keys := []string{
		campaignKey("slug", c.Slug),
		campaignKey("external", c.ExternalCampaignID),
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		s.logger.Warn("campaign cache invalidation failed", zap.Error(err))
	}
}

func (s *CampaignService) store(ctx context.Context, c *models.Campaign) {
	if s.cache == nil {
		return
	}
	for _, key := range []string{
		campaignKey("slug", c.Slug),
		campaignKey("external", c.ExternalCampaignID),
	} {
		if err := s.cache.Set(ctx, key, c, campaignCacheTTL); err != nil {
			s.logger.Warn("campaign cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
}
