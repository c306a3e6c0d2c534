package traffic

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/splitflow/splitflow/internal/models"
	"github.com/splitflow/splitflow/internal/storage"
)

// ParamService upserts campaign params from the upstream catalog. Params key
// on the (type, external id) pair; re-upserting refreshes silo and metadata.
type ParamService struct {
	repo    storage.ParamRepo
	catalog *Catalog
	logger  *zap.Logger
}

func NewParamService(repo storage.ParamRepo, catalog *Catalog, logger *zap.Logger) *ParamService {
	return &ParamService{
		repo:    repo,
		catalog: catalog,
		logger:  logger,
	}
}

// Upsert pulls the param from the upstream catalog and inserts or refreshes
// the local row.
func (s *ParamService) Upsert(ctx context.Context, externalParamID, externalCampaignID string) (*models.Param, error) {
	fetched, err := s.catalog.FetchParam(ctx, externalParamID)
	if err != nil {
		return nil, err
	}
	if fetched == nil {
		s.logger.Error("upstream param not found", zap.String("external_param_id", externalParamID))
		return nil, ErrParamNotFound
	}

	paramType := models.ParamType(fetched.Type)
	if paramType == "" {
		paramType = models.ParamTypePlacement
	}
	if fetched.CampaignID != "" {
		externalCampaignID = fetched.CampaignID
	}

	param := &models.Param{
		ID:                 uuid.NewString(),
		ExternalParamID:    fetched.ID,
		ExternalCampaignID: externalCampaignID,
		Type:               paramType,
		PlacementID:        fetched.PlacementID,
		SiloID:             fetched.SiloID,
		Metadata:           fetched.Metadata,
		CreatedAt:          time.Now().UTC(),
	}

	stored, err := s.repo.Upsert(ctx, param)
	if err != nil {
		return nil, err
	}
	return stored, nil
}
