package analytics

import (
	"context"

	"github.com/splitflow/splitflow/internal/models"
	"github.com/splitflow/splitflow/internal/storage"
)

// Service answers read-only analytics queries.
type Service struct {
	analytics storage.AnalyticsRepo
}

func NewService(analytics storage.AnalyticsRepo) *Service {
	return &Service{analytics: analytics}
}

// List returns summary rows matching the filter. An empty scope defaults to
// campaign scope.
func (s *Service) List(ctx context.Context, f storage.AnalyticsFilter) ([]*models.Analytics, error) {
	if f.Scope == "" {
		f.Scope = models.ScopeCampaign
	}
	return s.analytics.List(ctx, f)
}
