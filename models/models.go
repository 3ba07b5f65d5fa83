// Package models defines data structures for the harvester.
package models

import "time"

// PageTask asks a page worker to fetch a record's detail page.
type PageTask struct {
	TargetURL string
	Name      string
}

// ImageTask asks an image worker to download and persist a record's image.
type ImageTask struct {
	ResourceURL string
	Name        string
}

// AnimalRecord is a single row parsed from the listing page. An empty
// DetailPageURL means the link could not be resolved from the row markup.
type AnimalRecord struct {
	Name          string
	DetailPageURL string
	Labels        []string
}

// Stats counts what happened to records and tasks during a run.
type Stats struct {
	RecordsSeen    int64
	RecordsDropped int64
	PagesQueued    int64
	PagesFailed    int64
	ImagesQueued   int64
	ImagesSaved    int64
	ImagesFailed   int64
	BytesSaved     int64
	PageQueue      QueueStats
	ImageQueue     QueueStats
}

// QueueStats is a point-in-time view of a bounded task queue.
type QueueStats struct {
	Capacity   int
	Buffered   int
	Unfinished int64
	Puts       int64
	Gets       int64
	Dones      int64
}

// HarvestResult holds the overall result of a harvesting run.
type HarvestResult struct {
	RunID     string
	Groups    *AggregationMap
	Stats     Stats
	StartTime time.Time
	EndTime   time.Time
}
