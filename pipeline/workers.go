package pipeline

import (
	"context"
	"log/slog"

	"github.com/aluiziolira/wiki-animals-harvester/fetch"
	"github.com/aluiziolira/wiki-animals-harvester/models"
	"github.com/aluiziolira/wiki-animals-harvester/parser"
	"github.com/aluiziolira/wiki-animals-harvester/storage"
)

// pageWorker resolves detail pages into image tasks.
type pageWorker struct {
	id      int
	fetcher Fetcher
	detail  parser.DetailParser
	pages   *Queue[models.PageTask]
	images  *Queue[models.ImageTask]
	stats   *counters
	metrics *Metrics
	logger  *slog.Logger
}

// run consumes page tasks until ctx is cancelled.
func (w *pageWorker) run(ctx context.Context) {
	for {
		task, err := w.pages.Get(ctx)
		if err != nil {
			return
		}
		w.process(ctx, task)
	}
}

func (w *pageWorker) process(ctx context.Context, task models.PageTask) {
	defer w.pages.Done()

	content, err := w.fetcher.Fetch(ctx, task.TargetURL)
	if err != nil {
		w.fail(task, "fetch", err)
		return
	}

	imageURL, err := w.detail.ExtractImageURL(content, task.TargetURL)
	if err != nil {
		w.fail(task, "extract", err)
		return
	}

	next := models.ImageTask{ResourceURL: imageURL, Name: task.Name}
	if err := w.images.Put(ctx, next); err != nil {
		w.fail(task, "enqueue", err)
		return
	}
	w.stats.imagesQueued.Add(1)
	w.metrics.IncTask("page", "ok")
	w.metrics.SetQueueDepth("images", w.images.Len())
}

func (w *pageWorker) fail(task models.PageTask, step string, err error) {
	w.stats.pagesFailed.Add(1)
	w.metrics.IncTask("page", step+"_error")
	w.logger.Warn("page task failed",
		slog.Int("worker", w.id),
		slog.String("name", task.Name),
		slog.String("url", task.TargetURL),
		slog.String("step", step),
		slog.String("error_type", fetch.ErrorType(err)),
		slog.Any("error", err),
	)
}

// imageWorker downloads images and hands them to the sink.
type imageWorker struct {
	id      int
	fetcher Fetcher
	sink    storage.Sink
	images  *Queue[models.ImageTask]
	stats   *counters
	metrics *Metrics
	logger  *slog.Logger
	onDone  func(models.ImageTask, error)
}

func (w *imageWorker) run(ctx context.Context) {
	for {
		task, err := w.images.Get(ctx)
		if err != nil {
			return
		}
		w.process(ctx, task)
	}
}

func (w *imageWorker) process(ctx context.Context, task models.ImageTask) {
	defer w.images.Done()

	err := w.save(ctx, task)
	if w.onDone != nil {
		w.onDone(task, err)
	}
}

func (w *imageWorker) save(ctx context.Context, task models.ImageTask) error {
	data, err := w.fetcher.Fetch(ctx, task.ResourceURL)
	if err != nil {
		w.fail(task, "fetch", err)
		return err
	}

	name := storage.FileName(task.Name, task.ResourceURL)
	location, err := w.sink.Put(ctx, name, data)
	if err != nil {
		w.fail(task, "store", err)
		return err
	}

	w.stats.imagesSaved.Add(1)
	w.stats.bytesSaved.Add(int64(len(data)))
	w.metrics.IncTask("image", "ok")
	w.metrics.AddBytes(len(data))
	w.logger.Debug("image saved",
		slog.Int("worker", w.id),
		slog.String("name", task.Name),
		slog.String("location", location),
		slog.Int("bytes", len(data)),
	)
	return nil
}

func (w *imageWorker) fail(task models.ImageTask, step string, err error) {
	w.stats.imagesFailed.Add(1)
	w.metrics.IncTask("image", step+"_error")
	w.logger.Warn("image task failed",
		slog.Int("worker", w.id),
		slog.String("name", task.Name),
		slog.String("url", task.ResourceURL),
		slog.String("step", step),
		slog.Any("error", err),
	)
}
