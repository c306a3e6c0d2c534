package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splitflow/splitflow/internal/models"
)

// PostgresDistributionRepo implements DistributionRepo using PostgreSQL.
// The exclusive-target invariant is enforced twice: by Validate on the model
// and by a CHECK constraint on the table.
type PostgresDistributionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresDistributionRepo(pool *pgxpool.Pool) *PostgresDistributionRepo {
	return &PostgresDistributionRepo{pool: pool}
}

const distributionColumns = `id, campaign_id, COALESCE(product_id, ''), COALESCE(param_id, ''), priority, status, metadata, created_at, updated_at`

func scanDistribution(row pgx.Row) (*models.Distribution, error) {
	var d models.Distribution
	err := row.Scan(&d.ID, &d.CampaignID, &d.ProductID, &d.ParamID, &d.Priority, &d.Status, &d.Metadata, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan distribution: %w", err)
	}
	return &d, nil
}

func scanDistributions(rows pgx.Rows) ([]*models.Distribution, error) {
	defer rows.Close()
	var res []*models.Distribution
	for rows.Next() {
		var d models.Distribution
		if err := rows.Scan(&d.ID, &d.CampaignID, &d.ProductID, &d.ParamID, &d.Priority, &d.Status, &d.Metadata, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, &d)
	}
	return res, rows.Err()
}

func (r *PostgresDistributionRepo) GetByID(ctx context.Context, id string) (*models.Distribution, error) {
	return scanDistribution(r.pool.QueryRow(ctx,
		`SELECT `+distributionColumns+` FROM distributions WHERE id = $1`, id))
}

func (r *PostgresDistributionRepo) Create(ctx context.Context, d *models.Distribution) error {
	if err := d.Validate(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO distributions (id, campaign_id, product_id, param_id, priority, status, metadata, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9)
	`, d.ID, d.CampaignID, d.ProductID, d.ParamID, d.Priority, d.Status, d.Metadata, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create distribution: %w", err)
	}
	return nil
}

func (r *PostgresDistributionRepo) Update(ctx context.Context, d *models.Distribution) error {
	if err := d.Validate(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE distributions
		SET product_id = NULLIF($2, ''), param_id = NULLIF($3, ''), priority = $4, status = $5, metadata = $6, updated_at = $7
		WHERE id = $1
	`, d.ID, d.ProductID, d.ParamID, d.Priority, d.Status, d.Metadata, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update distribution: %w", err)
	}
	return nil
}

func (r *PostgresDistributionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM distributions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete distribution: %w", err)
	}
	return nil
}

func (r *PostgresDistributionRepo) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE distributions SET updated_at = $2 WHERE id = $1`, id, at)
	return err
}

func (r *PostgresDistributionRepo) ListSelectable(ctx context.Context, campaignID string, limit int) ([]*models.Distribution, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+distributionColumns+`
		FROM distributions
		WHERE campaign_id = $1 AND status = $2 AND product_id IS NOT NULL
		ORDER BY priority DESC
		LIMIT $3
	`, campaignID, models.DistributionStatusActive, limit)
	if err != nil {
		return nil, fmt.Errorf("list selectable distributions: %w", err)
	}
	return scanDistributions(rows)
}

func (r *PostgresDistributionRepo) ListByCampaign(ctx context.Context, campaignID string) ([]*models.Distribution, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+distributionColumns+`
		FROM distributions WHERE campaign_id = $1 ORDER BY priority DESC
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list distributions: %w", err)
	}
	return scanDistributions(rows)
}

func (r *PostgresDistributionRepo) ActiveIDs(ctx context.Context, campaignID, productID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM distributions
		WHERE campaign_id = $1 AND status = $2
		  AND ($3 = '' OR product_id = $3)
		ORDER BY id
	`, campaignID, models.DistributionStatusActive, productID)
	if err != nil {
		return nil, fmt.Errorf("list active distribution ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresDistributionRepo) DistinctProductIDs(ctx context.Context, campaignID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT product_id FROM distributions
		WHERE campaign_id = $1 AND product_id IS NOT NULL
		ORDER BY product_id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list distinct product ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresDistributionRepo) FindByCampaignProduct(ctx context.Context, campaignID, productID string) (*models.Distribution, error) {
	return scanDistribution(r.pool.QueryRow(ctx, `
		SELECT `+distributionColumns+`
		FROM distributions WHERE campaign_id = $1 AND product_id = $2
		LIMIT 1
	`, campaignID, productID))
}

func (r *PostgresDistributionRepo) FindByCampaignParam(ctx context.Context, campaignID, paramID string) ([]*models.Distribution, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+distributionColumns+`
		FROM distributions WHERE campaign_id = $1 AND param_id = $2
	`, campaignID, paramID)
	if err != nil {
		return nil, fmt.Errorf("find distributions by param: %w", err)
	}
	return scanDistributions(rows)
}

func (r *PostgresDistributionRepo) FindPlacement(ctx context.Context, placementID, siloID string) (*models.Distribution, error) {
	return scanDistribution(r.pool.QueryRow(ctx, `
		SELECT d.id, d.campaign_id, COALESCE(d.product_id, ''), COALESCE(d.param_id, ''), d.priority, d.status, d.metadata, d.created_at, d.updated_at
		FROM distributions d
		JOIN campaign_params p ON p.id = d.param_id
		JOIN campaigns c ON c.id = d.campaign_id
		WHERE c.status = $1
		  AND ($2 = '' OR p.placement_id = $2)
		  AND ($3 = '' OR p.silo_id = $3)
		LIMIT 1
	`, models.CampaignStatusActive, placementID, siloID))
}
