package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splitflow/splitflow/internal/models"
)

// PostgresEventStore implements EventStore using PostgreSQL. Counting is
// pushed down to the database so the aggregator never materializes raw
// event rows.
type PostgresEventStore struct {
	pool *pgxpool.Pool
}

func NewPostgresEventStore(pool *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{pool: pool}
}

func (s *PostgresEventStore) CreateImpression(ctx context.Context, imp *models.Impression) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO impressions (id, session_id, campaign_id, product_id, distribution_id, session, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7)
	`, imp.ID, imp.SessionID, imp.CampaignID, imp.ProductID, imp.DistributionID, imp.Session, imp.CreatedAt)
	if err != nil {
		return fmt.Errorf("create impression: %w", err)
	}
	return nil
}

func (s *PostgresEventStore) CreateClick(ctx context.Context, click *models.Click) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO clicks (id, session_id, distribution_id, campaign_id, session, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
	`, click.ID, click.SessionID, click.DistributionID, click.CampaignID, click.Session, click.CreatedAt)
	if err != nil {
		return fmt.Errorf("create click: %w", err)
	}
	return nil
}

func (s *PostgresEventStore) CreateConversion(ctx context.Context, conv *models.Conversion) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversions (id, distribution_id, created_at)
		VALUES ($1, $2, $3)
	`, conv.ID, conv.DistributionID, conv.CreatedAt)
	if err != nil {
		return fmt.Errorf("create conversion: %w", err)
	}
	return nil
}

func (s *PostgresEventStore) FindUnattributed(ctx context.Context, campaignID string, win EventWindow) (*models.Impression, error) {
	var imp models.Impression
	err := s.pool.QueryRow(ctx, `
		SELECT id, session_id, COALESCE(campaign_id, ''), COALESCE(product_id, ''), COALESCE(distribution_id, ''), session, created_at
		FROM impressions
		WHERE campaign_id = $1 AND distribution_id IS NULL
		  AND created_at >= $2 AND created_at < $3
		ORDER BY created_at
		LIMIT 1
	`, campaignID, win.Start, win.End).
		Scan(&imp.ID, &imp.SessionID, &imp.CampaignID, &imp.ProductID, &imp.DistributionID, &imp.Session, &imp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find unattributed impression: %w", err)
	}
	return &imp, nil
}

func (s *PostgresEventStore) AttachDistribution(ctx context.Context, impressionID, distributionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE impressions SET distribution_id = $2 WHERE id = $1
	`, impressionID, distributionID)
	if err != nil {
		return fmt.Errorf("attach distribution: %w", err)
	}
	return nil
}

func (s *PostgresEventStore) CountImpressions(ctx context.Context, f ImpressionFilter) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM impressions
		WHERE ($1 = '' OR campaign_id = $1)
		  AND ($2 = '' OR product_id = $2)
		  AND created_at >= $3 AND created_at < $4
	`, f.CampaignID, f.ProductID, f.Window.Start, f.Window.End).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count impressions: %w", err)
	}
	return n, nil
}

func (s *PostgresEventStore) CountClicks(ctx context.Context, distributionIDs []string, win EventWindow) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM clicks
		WHERE distribution_id = ANY($1)
		  AND created_at >= $2 AND created_at < $3
	`, distributionIDs, win.Start, win.End).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count clicks: %w", err)
	}
	return n, nil
}

func (s *PostgresEventStore) CountDistinctClickSessions(ctx context.Context, distributionIDs []string, win EventWindow) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT session_id) FROM clicks
		WHERE distribution_id = ANY($1)
		  AND created_at >= $2 AND created_at < $3
	`, distributionIDs, win.Start, win.End).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count distinct click sessions: %w", err)
	}
	return n, nil
}

func (s *PostgresEventStore) CountConversions(ctx context.Context, distributionIDs []string, win EventWindow) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM conversions
		WHERE distribution_id = ANY($1)
		  AND created_at >= $2 AND created_at < $3
	`, distributionIDs, win.Start, win.End).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count conversions: %w", err)
	}
	return n, nil
}
