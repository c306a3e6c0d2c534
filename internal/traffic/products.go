package traffic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/splitflow/splitflow/internal/cache"
	"github.com/splitflow/splitflow/internal/metrics"
	"github.com/splitflow/splitflow/internal/models"
	"github.com/splitflow/splitflow/internal/storage"
)

const productCacheTTL = time.Hour

// ProductService manages products. Products are created lazily: when a
// distribution references an external product id unknown locally, the
// product is pulled from the upstream catalog and stored.
type ProductService struct {
	repo    storage.ProductRepo
	catalog *Catalog
	cache   *cache.Cache
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewProductService creates a ProductService. cache may be nil.
func NewProductService(repo storage.ProductRepo, catalog *Catalog, c *cache.Cache, m *metrics.Metrics, logger *zap.Logger) *ProductService {
	return &ProductService{
		repo:    repo,
		catalog: catalog,
		cache:   c,
		metrics: m,
		logger:  logger,
	}
}

func productKey(externalProductID string) string {
	return cache.Key("product:external", externalProductID)
}

// GetByID returns the product with the given local id.
func (s *ProductService) GetByID(ctx context.Context, id string) (*models.Product, error) {
	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, ErrProductNotFound
	}
	return product, nil
}

// FindByExternalID returns the product with the given external id, or
// (nil, nil) when absent locally.
func (s *ProductService) FindByExternalID(ctx context.Context, externalProductID string) (*models.Product, error) {
	if externalProductID == "" {
		return nil, fmt.Errorf("external product id is required")
	}

	key := productKey(externalProductID)
	if s.cache != nil {
		var cached models.Product
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			if s.metrics != nil {
				s.metrics.RecordCacheHit("product")
			}
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("product cache read failed", zap.String("key", key), zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordCacheMiss("product")
		}
	}

	product, err := s.repo.GetByExternalID(ctx, externalProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, nil
	}
	s.store(ctx, product)
	return product, nil
}

// FindOrCreate returns the product with the given external id, creating it
// from the upstream catalog when absent locally.
func (s *ProductService) FindOrCreate(ctx context.Context, externalProductID, externalCampaignID string) (*models.Product, error) {
	product, err := s.FindByExternalID(ctx, externalProductID)
	if err != nil {
		return nil, err
	}
	if product != nil {
		return product, nil
	}

	fetched, err := s.catalog.FetchProduct(ctx, externalProductID)
	if err != nil {
		return nil, err
	}
	if fetched == nil {
		s.logger.Error("upstream product not found", zap.String("external_product_id", externalProductID))
		return nil, ErrProductNotFound
	}

	kind := models.ProductKind(fetched.Type)
	if !models.ValidProductKind(kind) {
		return nil, fmt.Errorf("product %s: invalid kind %q", externalProductID, fetched.Type)
	}

	product = &models.Product{
		ID:                 uuid.NewString(),
		ExternalProductID:  fetched.ID,
		ExternalCampaignID: externalCampaignID,
		Kind:               kind,
		URL:                fetched.URL,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, product); err != nil {
		return nil, err
	}

	s.store(ctx, product)
	s.logger.Info("created product from upstream catalog",
		zap.String("external_product_id", externalProductID),
		zap.String("kind", string(kind)),
	)
	return product, nil
}

func (s *ProductService) store(ctx context.Context, p *models.Product) {
	if s.cache == nil {
		return
	}
	key := productKey(p.ExternalProductID)
	if err := s.cache.Set(ctx, key, p, productCacheTTL); err != nil {
		s.logger.Warn("product cache write failed", zap.String("key", key), zap.Error(err))
	}
}
