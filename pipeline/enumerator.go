package pipeline

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/aluiziolira/wiki-animals-harvester/models"
	"github.com/aluiziolira/wiki-animals-harvester/parser"
)

// counters are shared by the enumerator and both worker pools.
type counters struct {
	recordsSeen    atomic.Int64
	recordsDropped atomic.Int64
	pagesQueued    atomic.Int64
	pagesFailed    atomic.Int64
	imagesQueued   atomic.Int64
	imagesSaved    atomic.Int64
	imagesFailed   atomic.Int64
	bytesSaved     atomic.Int64
}

func (c *counters) snapshot() models.Stats {
	return models.Stats{
		RecordsSeen:    c.recordsSeen.Load(),
		RecordsDropped: c.recordsDropped.Load(),
		PagesQueued:    c.pagesQueued.Load(),
		PagesFailed:    c.pagesFailed.Load(),
		ImagesQueued:   c.imagesQueued.Load(),
		ImagesSaved:    c.imagesSaved.Load(),
		ImagesFailed:   c.imagesFailed.Load(),
		BytesSaved:     c.bytesSaved.Load(),
	}
}

// Enumerator turns listing records into page tasks and builds the
// label aggregation. It is the only writer of its AggregationMap.
type Enumerator struct {
	pages   *Queue[models.PageTask]
	groups  *models.AggregationMap
	stats   *counters
	metrics *Metrics
	logger  *slog.Logger
}

// NewEnumerator returns an enumerator feeding pages.
func NewEnumerator(pages *Queue[models.PageTask], logger *slog.Logger) *Enumerator {
	return newEnumerator(pages, &counters{}, nil, logger)
}

func newEnumerator(pages *Queue[models.PageTask], stats *counters, metrics *Metrics, logger *slog.Logger) *Enumerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enumerator{
		pages:   pages,
		groups:  models.NewAggregationMap(),
		stats:   stats,
		metrics: metrics,
		logger:  logger,
	}
}

// Produce consumes records in order. Invalid records are dropped without a
// trace in the aggregation. Every valid record adds its name under each of
// its labels and then blocks until one PageTask is accepted by the queue.
func (e *Enumerator) Produce(ctx context.Context, records iter.Seq[models.AnimalRecord]) error {
	for record := range records {
		e.stats.recordsSeen.Add(1)

		if err := parser.ValidateRecord(record); err != nil {
			e.stats.recordsDropped.Add(1)
			e.metrics.IncRecord("dropped")
			e.logger.Debug("dropping record",
				slog.String("name", record.Name),
				slog.Any("error", err),
			)
			continue
		}

		for _, label := range record.Labels {
			e.groups.Add(label, record.Name)
		}

		task := models.PageTask{TargetURL: record.DetailPageURL, Name: record.Name}
		if err := e.pages.Put(ctx, task); err != nil {
			return fmt.Errorf("enqueue page task %q: %w", record.Name, err)
		}
		e.stats.pagesQueued.Add(1)
		e.metrics.IncRecord("queued")
		e.metrics.SetQueueDepth("pages", e.pages.Len())
	}
	return nil
}

// Groups returns the aggregation built so far. Callers must not read it
// while Produce is running.
func (e *Enumerator) Groups() *models.AggregationMap {
	return e.groups
}

// Stats returns the enumerator's counters.
func (e *Enumerator) Stats() models.Stats {
	return e.stats.snapshot()
}
