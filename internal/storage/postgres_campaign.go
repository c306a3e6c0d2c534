package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splitflow/splitflow/internal/models"
)

// PostgresCampaignRepo implements CampaignRepo using PostgreSQL.
type PostgresCampaignRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresCampaignRepo(pool *pgxpool.Pool) *PostgresCampaignRepo {
	return &PostgresCampaignRepo{pool: pool}
}

const campaignColumns = `id, external_campaign_id, slug, status, url, created_at, updated_at`

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	var c models.Campaign
	err := row.Scan(&c.ID, &c.ExternalCampaignID, &c.Slug, &c.Status, &c.URL, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	return &c, nil
}

func (r *PostgresCampaignRepo) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	return scanCampaign(r.pool.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
}

func (r *PostgresCampaignRepo) GetBySlug(ctx context.Context, slug string) (*models.Campaign, error) {
	return scanCampaign(r.pool.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE slug = $1`, slug))
}

func (r *PostgresCampaignRepo) GetByExternalID(ctx context.Context, externalCampaignID string) (*models.Campaign, error) {
	return scanCampaign(r.pool.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE external_campaign_id = $1`, externalCampaignID))
}

func (r *PostgresCampaignRepo) GetByURL(ctx context.Context, url string) (*models.Campaign, error) {
	return scanCampaign(r.pool.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE url = $1`, url))
}

func (r *PostgresCampaignRepo) ListActive(ctx context.Context) ([]*models.Campaign, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE status = $1 ORDER BY created_at`,
		models.CampaignStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		var c models.Campaign
		if err := rows.Scan(&c.ID, &c.ExternalCampaignID, &c.Slug, &c.Status, &c.URL, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, &c)
	}
	return campaigns, rows.Err()
}

func (r *PostgresCampaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaigns (id, external_campaign_id, slug, status, url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.ExternalCampaignID, c.Slug, c.Status, c.URL, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *PostgresCampaignRepo) Update(ctx context.Context, c *models.Campaign) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE campaigns
		SET external_campaign_id = $2, slug = $3, status = $4, url = $5, updated_at = $6
		WHERE id = $1
	`, c.ID, c.ExternalCampaignID, c.Slug, c.Status, c.URL, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	return nil
}
