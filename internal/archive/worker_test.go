package archive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/splitflow/splitflow/internal/models"
)

// captureInsert records flushed batches in place of a ClickHouse connection.
type captureInsert struct {
	mu      sync.Mutex
	batches [][]Event
}

func (c *captureInsert) insert(ctx context.Context, events []Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := make([]Event, len(events))
	copy(batch, events)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureInsert) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func newTestWorker(batchSize int, flushInterval time.Duration) (*Worker, *captureInsert) {
	capture := &captureInsert{}
	w := newWorker(capture.insert, batchSize, flushInterval, nil, zap.NewNop())
	return w, capture
}

func TestWorkerFlushesFullBatch(t *testing.T) {
	w, capture := newTestWorker(3, time.Hour)
	defer w.Shutdown()

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		w.ArchiveClick(&models.Click{
			ID: "k", SessionID: "s1", DistributionID: "d1", CampaignID: "c1", CreatedAt: now,
		}, models.SessionContext{DeviceType: "phone"})
	}

	require.Eventually(t, func() bool { return capture.total() == 3 }, 2*time.Second, 10*time.Millisecond)

	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.batches, 1)
	assert.Equal(t, EventTypeClick, capture.batches[0][0].EventType)
	assert.Equal(t, "c1", capture.batches[0][0].CampaignID)
	assert.Equal(t, "phone", capture.batches[0][0].DeviceType)
}

func TestWorkerFlushesOnInterval(t *testing.T) {
	w, capture := newTestWorker(100, 50*time.Millisecond)
	defer w.Shutdown()

	w.ArchiveImpression(&models.Impression{
		ID: "i1", SessionID: "s1", CampaignID: "c1", CreatedAt: time.Now().UTC(),
	}, models.SessionContext{IsBot: true})

	require.Eventually(t, func() bool { return capture.total() == 1 }, 2*time.Second, 10*time.Millisecond)

	capture.mu.Lock()
	defer capture.mu.Unlock()
	assert.Equal(t, EventTypeImpression, capture.batches[0][0].EventType)
	assert.True(t, capture.batches[0][0].IsBot)
}

func TestWorkerDrainsOnShutdown(t *testing.T) {
	w, capture := newTestWorker(100, time.Hour)

	w.ArchiveConversion(&models.Conversion{ID: "cv1", DistributionID: "d1", CreatedAt: time.Now().UTC()})
	w.ArchiveConversion(&models.Conversion{ID: "cv2", DistributionID: "d1", CreatedAt: time.Now().UTC()})

	w.Shutdown()

	assert.Equal(t, 2, capture.total())
}

func TestWorkerDropsAfterShutdown(t *testing.T) {
	w, capture := newTestWorker(100, time.Hour)

	w.ArchiveConversion(&models.Conversion{ID: "cv1", DistributionID: "d1", CreatedAt: time.Now().UTC()})
	w.Shutdown()

	// Producers may still fire after shutdown; late events are dropped
	// without panicking.
	assert.NotPanics(t, func() {
		w.ArchiveClick(&models.Click{
			ID: "k1", SessionID: "s1", DistributionID: "d1", CampaignID: "c1", CreatedAt: time.Now().UTC(),
		}, models.SessionContext{})
	})
	assert.NotPanics(t, w.Shutdown)

	assert.Equal(t, 1, capture.total())
}

func TestWorkerDropsWhenQueueFull(t *testing.T) {
	w, capture := newTestWorker(1, time.Hour)

	// batchSize 1 gives a queue capacity of 4; flooding it must never
	// block the caller, even if events get dropped.
	for i := 0; i < 10000; i++ {
		w.ArchiveConversion(&models.Conversion{ID: "cv", DistributionID: "d1", CreatedAt: time.Now().UTC()})
	}
	w.Shutdown()

	assert.LessOrEqual(t, capture.total(), 10000)
	assert.Greater(t, capture.total(), 0)
}
