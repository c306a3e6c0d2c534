package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splitflow/splitflow/internal/models"
)

// PostgresAnalyticsRepo implements AnalyticsRepo using PostgreSQL. The
// uniqueness constraint on (scope, campaign_id, product_id, bucket) is what
// makes repeated aggregation runs idempotent: counts are overwritten
// wholesale, never incremented.
type PostgresAnalyticsRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresAnalyticsRepo(pool *pgxpool.Pool) *PostgresAnalyticsRepo {
	return &PostgresAnalyticsRepo{pool: pool}
}

func (r *PostgresAnalyticsRepo) Upsert(ctx context.Context, row *models.Analytics) (*models.Analytics, error) {
	var out models.Analytics
	err := r.pool.QueryRow(ctx, `
		INSERT INTO analytics (id, scope, campaign_id, product_id, bucket, impressions, clicks, conversions, unique_clicks, ctr, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (scope, campaign_id, product_id, bucket) DO UPDATE SET
			impressions = EXCLUDED.impressions,
			clicks = EXCLUDED.clicks,
			conversions = EXCLUDED.conversions,
			unique_clicks = EXCLUDED.unique_clicks,
			ctr = EXCLUDED.ctr,
			updated_at = EXCLUDED.updated_at
		RETURNING id, scope, campaign_id, product_id, bucket, impressions, clicks, conversions, unique_clicks, ctr, updated_at
	`, row.ID, row.Scope, row.CampaignID, row.ProductID, row.Bucket,
		row.Impressions, row.Clicks, row.Conversions, row.UniqueClicks, row.CTR, row.UpdatedAt).
		Scan(&out.ID, &out.Scope, &out.CampaignID, &out.ProductID, &out.Bucket,
			&out.Impressions, &out.Clicks, &out.Conversions, &out.UniqueClicks, &out.CTR, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert analytics: %w", err)
	}
	return &out, nil
}

func (r *PostgresAnalyticsRepo) List(ctx context.Context, f AnalyticsFilter) ([]*models.Analytics, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, scope, campaign_id, product_id, bucket, impressions, clicks, conversions, unique_clicks, ctr, updated_at
		FROM analytics
		WHERE ($1 = '' OR scope = $1)
		  AND ($2 = '' OR campaign_id = $2)
		  AND ($3 = '' OR product_id = $3)
		  AND ($4 = '' OR bucket = $4)
		ORDER BY bucket, campaign_id, product_id
	`, string(f.Scope), f.CampaignID, f.ProductID, f.Bucket)
	if err != nil {
		return nil, fmt.Errorf("list analytics: %w", err)
	}
	defer rows.Close()

	var res []*models.Analytics
	for rows.Next() {
		var a models.Analytics
		if err := rows.Scan(&a.ID, &a.Scope, &a.CampaignID, &a.ProductID, &a.Bucket,
			&a.Impressions, &a.Clicks, &a.Conversions, &a.UniqueClicks, &a.CTR, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, &a)
	}
	return res, rows.Err()
}

// NewPostgresStore bundles the PostgreSQL repositories.
func NewPostgresStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Campaigns:     NewPostgresCampaignRepo(pool),
		Products:      NewPostgresProductRepo(pool),
		Params:        NewPostgresParamRepo(pool),
		Distributions: NewPostgresDistributionRepo(pool),
		Events:        NewPostgresEventStore(pool),
		Analytics:     NewPostgresAnalyticsRepo(pool),
	}
}
