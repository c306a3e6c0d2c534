package archive

import (
	"context"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"github.com/splitflow/splitflow/internal/metrics"
	"github.com/splitflow/splitflow/internal/models"
)

const flushTimeout = 5 * time.Second

// Worker buffers events and flushes them to ClickHouse when the batch fills
// or the flush interval elapses. Enqueueing drops on a full buffer rather
// than blocking the caller.
type Worker struct {
	queue         chan Event
	done          chan struct{}
	stop          sync.Once
	batchSize     int
	flushInterval time.Duration
	metrics       *metrics.Metrics
	logger        *zap.Logger
	wg            sync.WaitGroup

	insert func(ctx context.Context, events []Event) error
}

// NewWorker creates a Worker and starts its flush loop.
func NewWorker(conn clickhouse.Conn, batchSize int, flushInterval time.Duration, m *metrics.Metrics, logger *zap.Logger) *Worker {
	insert := func(ctx context.Context, events []Event) error {
		return insertBatch(ctx, conn, events)
	}
	return newWorker(insert, batchSize, flushInterval, m, logger)
}

func newWorker(insert func(ctx context.Context, events []Event) error, batchSize int, flushInterval time.Duration, m *metrics.Metrics, logger *zap.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	w := &Worker{
		queue:         make(chan Event, batchSize*4),
		done:          make(chan struct{}),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		metrics:       m,
		logger:        logger,
		insert:        insert,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// ArchiveImpression enqueues an impression event.
func (w *Worker) ArchiveImpression(imp *models.Impression, sess models.SessionContext) {
	w.enqueue(Event{
		EventType:      EventTypeImpression,
		CampaignID:     imp.CampaignID,
		ProductID:      imp.ProductID,
		DistributionID: imp.DistributionID,
		SessionID:      imp.SessionID,
		DeviceType:     sess.DeviceType,
		Country:        sess.Location,
		IsBot:          sess.IsBot,
		CreatedAt:      imp.CreatedAt,
	})
}

// ArchiveClick enqueues a click event.
func (w *Worker) ArchiveClick(click *models.Click, sess models.SessionContext) {
	w.enqueue(Event{
		EventType:      EventTypeClick,
		CampaignID:     click.CampaignID,
		DistributionID: click.DistributionID,
		SessionID:      click.SessionID,
		DeviceType:     sess.DeviceType,
		Country:        sess.Location,
		IsBot:          sess.IsBot,
		CreatedAt:      click.CreatedAt,
	})
}

// ArchiveConversion enqueues a conversion event.
func (w *Worker) ArchiveConversion(conv *models.Conversion) {
	w.enqueue(Event{
		EventType:      EventTypeConversion,
		DistributionID: conv.DistributionID,
		CreatedAt:      conv.CreatedAt,
	})
}

// enqueue never blocks and never panics. The queue channel is never closed,
// so producers racing a shutdown drop their event instead of crashing.
func (w *Worker) enqueue(e Event) {
	select {
	case <-w.done:
		w.logger.Warn("archive worker stopped, dropping event", zap.String("event_type", e.EventType))
		return
	default:
	}
	select {
	case w.queue <- e:
	default:
		w.logger.Warn("archive queue full, dropping event", zap.String("event_type", e.EventType))
	}
}

// Shutdown stops the worker after draining the queue. Safe to call more
// than once and safe to race with producers.
func (w *Worker) Shutdown() {
	w.stop.Do(func() { close(w.done) })
	w.wg.Wait()
	w.logger.Info("archive worker stopped")
}

func (w *Worker) loop() {
	defer w.wg.Done()

	var batch []Event
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			w.drain(batch)
			return
		case e := <-w.queue:
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = nil
			}
		}
	}
}

// drain flushes the pending batch plus anything still buffered in the queue.
func (w *Worker) drain(batch []Event) {
	for {
		select {
		case e := <-w.queue:
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = nil
			}
		default:
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *Worker) flush(events []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := w.insert(ctx, events); err != nil {
		w.logger.Error("archive flush failed", zap.Int("events", len(events)), zap.Error(err))
		return
	}

	if w.metrics != nil {
		counts := map[string]int{}
		for _, e := range events {
			counts[e.EventType]++
		}
		for eventType, n := range counts {
			w.metrics.RecordArchivedEvents(eventType, n)
		}
	}
	w.logger.Debug("archive batch flushed", zap.Int("events", len(events)))
}
