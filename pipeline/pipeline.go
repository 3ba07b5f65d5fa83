// Package pipeline runs the two-stage harvesting engine: an enumerator feeds
// page workers through a bounded queue, and page workers feed image workers
// through a second one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/wiki-animals-harvester/models"
	"github.com/aluiziolira/wiki-animals-harvester/parser"
	"github.com/aluiziolira/wiki-animals-harvester/storage"
)

// ErrInvalidOptions is returned by NewHarvester for unusable options.
var ErrInvalidOptions = errors.New("pipeline: invalid options")

// Fetcher retrieves the content behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Options configures a Harvester.
type Options struct {
	// ListingURL is the page enumerated for records.
	ListingURL string
	// Concurrency is both the size of each worker pool and the capacity of
	// each queue.
	Concurrency int

	Logger  *slog.Logger
	Metrics *Metrics
	// OnImageDone, when set, is called once per image task after it has
	// been saved or abandoned. It runs on worker goroutines.
	OnImageDone func(task models.ImageTask, err error)
}

// Harvester wires the enumerator, both queues and both worker pools.
type Harvester struct {
	fetcher Fetcher
	listing parser.ListingParser
	detail  parser.DetailParser
	sink    storage.Sink
	opts    Options
	logger  *slog.Logger
}

// NewHarvester validates the collaborators and options.
func NewHarvester(fetcher Fetcher, listing parser.ListingParser, detail parser.DetailParser, sink storage.Sink, opts Options) (*Harvester, error) {
	switch {
	case fetcher == nil:
		return nil, fmt.Errorf("%w: fetcher is required", ErrInvalidOptions)
	case listing == nil:
		return nil, fmt.Errorf("%w: listing parser is required", ErrInvalidOptions)
	case detail == nil:
		return nil, fmt.Errorf("%w: detail parser is required", ErrInvalidOptions)
	case sink == nil:
		return nil, fmt.Errorf("%w: sink is required", ErrInvalidOptions)
	case strings.TrimSpace(opts.ListingURL) == "":
		return nil, fmt.Errorf("%w: listing url is required", ErrInvalidOptions)
	case opts.Concurrency <= 0:
		return nil, fmt.Errorf("%w: concurrency must be > 0 (got %d)", ErrInvalidOptions, opts.Concurrency)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Harvester{
		fetcher: fetcher,
		listing: listing,
		detail:  detail,
		sink:    sink,
		opts:    opts,
		logger:  logger,
	}, nil
}

// Run harvests the listing once. Only a failure to fetch or parse the listing,
// or cancellation of ctx, is returned as an error; per-record failures are
// logged and counted in the result's Stats. Every worker goroutine has exited
// by the time Run returns.
func (h *Harvester) Run(ctx context.Context) (*models.HarvestResult, error) {
	result := &models.HarvestResult{
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
	}
	logger := h.logger.With(slog.String("run_id", result.RunID))

	content, err := h.fetcher.Fetch(ctx, h.opts.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("fetch listing %s: %w", h.opts.ListingURL, err)
	}
	records, err := h.listing.ParseListing(content, h.opts.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing %s: %w", h.opts.ListingURL, err)
	}

	n := h.opts.Concurrency
	pages := NewQueue[models.PageTask](n)
	images := NewQueue[models.ImageTask](n)
	stats := &counters{}

	workerCtx, stop := context.WithCancel(ctx)
	var (
		wg       sync.WaitGroup
		stopOnce sync.Once
	)
	shutdown := func() {
		stopOnce.Do(func() {
			stop()
			wg.Wait()
		})
	}
	defer shutdown()

	for i := range n {
		pw := &pageWorker{
			id:      i,
			fetcher: h.fetcher,
			detail:  h.detail,
			pages:   pages,
			images:  images,
			stats:   stats,
			metrics: h.opts.Metrics,
			logger:  logger,
		}
		iw := &imageWorker{
			id:      i,
			fetcher: h.fetcher,
			sink:    h.sink,
			images:  images,
			stats:   stats,
			metrics: h.opts.Metrics,
			logger:  logger,
			onDone:  h.opts.OnImageDone,
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			pw.run(workerCtx)
		}()
		go func() {
			defer wg.Done()
			iw.run(workerCtx)
		}()
	}
	logger.Info("workers started", slog.Int("concurrency", n))

	enumerator := newEnumerator(pages, stats, h.opts.Metrics, logger)
	produced := make(chan error, 1)
	go func() {
		produced <- enumerator.Produce(ctx, records)
	}()
	if err := <-produced; err != nil {
		return nil, fmt.Errorf("enumerate listing: %w", err)
	}
	logger.Info("enumeration finished",
		slog.Int64("records", stats.recordsSeen.Load()),
		slog.Int64("queued", stats.pagesQueued.Load()),
		slog.Int64("dropped", stats.recordsDropped.Load()),
	)

	// Page workers keep feeding the image queue until the page queue drains,
	// so the image join must not start earlier.
	if err := pages.Join(ctx); err != nil {
		return nil, fmt.Errorf("drain page queue: %w", err)
	}
	if err := images.Join(ctx); err != nil {
		return nil, fmt.Errorf("drain image queue: %w", err)
	}
	shutdown()

	result.Groups = enumerator.Groups()
	result.Stats = stats.snapshot()
	result.Stats.PageQueue = pages.Stats()
	result.Stats.ImageQueue = images.Stats()
	result.EndTime = time.Now()

	logger.Info("harvest finished",
		slog.Int("labels", result.Groups.Len()),
		slog.Int64("images_saved", result.Stats.ImagesSaved),
		slog.Int64("pages_failed", result.Stats.PagesFailed),
		slog.Int64("images_failed", result.Stats.ImagesFailed),
		slog.Duration("elapsed", result.EndTime.Sub(result.StartTime)),
	)
	return result, nil
}
