package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splitflow/splitflow/internal/models"
)

// PostgresProductRepo implements ProductRepo using PostgreSQL.
type PostgresProductRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresProductRepo(pool *pgxpool.Pool) *PostgresProductRepo {
	return &PostgresProductRepo{pool: pool}
}

const productColumns = `id, external_product_id, external_campaign_id, kind, url, created_at`

func scanProduct(row pgx.Row) (*models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.ExternalProductID, &p.ExternalCampaignID, &p.Kind, &p.URL, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}
	return &p, nil
}

func (r *PostgresProductRepo) GetByID(ctx context.Context, id string) (*models.Product, error) {
	return scanProduct(r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (r *PostgresProductRepo) GetByExternalID(ctx context.Context, externalProductID string) (*models.Product, error) {
	return scanProduct(r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE external_product_id = $1`, externalProductID))
}

func (r *PostgresProductRepo) Create(ctx context.Context, p *models.Product) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO products (id, external_product_id, external_campaign_id, kind, url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.ExternalProductID, p.ExternalCampaignID, p.Kind, p.URL, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

// PostgresParamRepo implements ParamRepo using PostgreSQL.
type PostgresParamRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresParamRepo(pool *pgxpool.Pool) *PostgresParamRepo {
	return &PostgresParamRepo{pool: pool}
}

func (r *PostgresParamRepo) GetByID(ctx context.Context, id string) (*models.Param, error) {
	var p models.Param
	err := r.pool.QueryRow(ctx, `
		SELECT id, external_param_id, external_campaign_id, type, placement_id, silo_id, metadata, created_at
		FROM campaign_params WHERE id = $1
	`, id).Scan(&p.ID, &p.ExternalParamID, &p.ExternalCampaignID, &p.Type, &p.PlacementID, &p.SiloID, &p.Metadata, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get param: %w", err)
	}
	return &p, nil
}

// Upsert inserts the param or, when a row with the same (type,
// external_param_id) exists, refreshes its mutable fields and returns the
// stored row.
func (r *PostgresParamRepo) Upsert(ctx context.Context, p *models.Param) (*models.Param, error) {
	var out models.Param
	err := r.pool.QueryRow(ctx, `
		INSERT INTO campaign_params (id, external_param_id, external_campaign_id, type, placement_id, silo_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (type, external_param_id) DO UPDATE SET
			silo_id = EXCLUDED.silo_id,
			metadata = EXCLUDED.metadata
		RETURNING id, external_param_id, external_campaign_id, type, placement_id, silo_id, metadata, created_at
	`, p.ID, p.ExternalParamID, p.ExternalCampaignID, p.Type, p.PlacementID, p.SiloID, p.Metadata, p.CreatedAt).
		Scan(&out.ID, &out.ExternalParamID, &out.ExternalCampaignID, &out.Type, &out.PlacementID, &out.SiloID, &out.Metadata, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert param: %w", err)
	}
	return &out, nil
}
