// Package archive streams raw tracking events into ClickHouse as an
// append-only log. Writes are batched off the request path; losing a batch
// costs archive rows only, never the Postgres source of truth.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Event is one archived tracking event.
type Event struct {
	EventType      string
	CampaignID     string
	ProductID      string
	DistributionID string
	SessionID      string
	DeviceType     string
	Country        string
	IsBot          bool
	CreatedAt      time.Time
}

// Event types stored in the archive.
const (
	EventTypeImpression = "impression"
	EventTypeClick      = "click"
	EventTypeConversion = "conversion"
)

// RunMigrations ensures the archive table exists. The archive is
// self-contained; no external migration step is required.
func RunMigrations(ctx context.Context, conn clickhouse.Conn) error {
	err := conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tracking_events
(
	event_type      String,
	campaign_id     String,
	product_id      String,
	distribution_id String,
	session_id      String,
	device_type     String,
	country         String,
	is_bot          UInt8,
	created_at      DateTime64(3, 'UTC'),
	ingested_at     DateTime DEFAULT now()
)
ENGINE = MergeTree
PARTITION BY toYYYYMMDD(created_at)
ORDER BY (event_type, created_at, campaign_id)
SETTINGS index_granularity = 8192;
`)
	if err != nil {
		return fmt.Errorf("apply archive migrations: %w", err)
	}
	return nil
}

const insertEventQuery = `
	INSERT INTO tracking_events (event_type, campaign_id, product_id, distribution_id, session_id, device_type, country, is_bot, created_at)
`

// insertBatch writes a batch of events through the native protocol.
func insertBatch(ctx context.Context, conn clickhouse.Conn, events []Event) error {
	batch, err := conn.PrepareBatch(ctx, insertEventQuery)
	if err != nil {
		return fmt.Errorf("prepare archive batch: %w", err)
	}

	for _, e := range events {
		isBot := uint8(0)
		if e.IsBot {
			isBot = 1
		}
		err := batch.Append(
			e.EventType,
			e.CampaignID,
			e.ProductID,
			e.DistributionID,
			e.SessionID,
			e.DeviceType,
			e.Country,
			isBot,
			e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("append archive event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send archive batch: %w", err)
	}
	return nil
}
