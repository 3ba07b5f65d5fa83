package pipeline

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/wiki-animals-harvester/fetch"
	"github.com/aluiziolira/wiki-animals-harvester/models"
	"github.com/aluiziolira/wiki-animals-harvester/parser"
	"github.com/aluiziolira/wiki-animals-harvester/storage"
)

const listingURL = "https://test/wiki/List"

type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	failed map[string]bool
	calls  []string
	// block, when set, makes fetches of these URLs wait for ctx.
	block map[string]bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	body, ok := f.bodies[url]
	failed := f.failed[url]
	block := f.block[url]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: get %s: %w", fetch.ErrNetwork, url, ctx.Err())
	}
	if failed || !ok {
		return nil, fmt.Errorf("%w: get %s: connection refused", fetch.ErrNetwork, url)
	}
	return []byte(body), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type staticListing struct {
	records []models.AnimalRecord
	err     error
}

func (s staticListing) ParseListing([]byte, string) (iter.Seq[models.AnimalRecord], error) {
	if s.err != nil {
		return nil, s.err
	}
	return slices.Values(s.records), nil
}

// bodyDetail treats the whole page body as the image URL.
type bodyDetail struct{}

func (bodyDetail) ExtractImageURL(content []byte, _ string) (string, error) {
	if len(content) == 0 {
		return "", parser.ErrImageNotFound
	}
	return string(content), nil
}

type failingSink struct{}

func (failingSink) Put(context.Context, string, []byte) (string, error) {
	return "", fmt.Errorf("%w: disk full", storage.ErrStorage)
}

func scenarioFetcher() *fakeFetcher {
	return &fakeFetcher{
		bodies: map[string]string{
			listingURL:                "listing",
			"link1":                   "https://img/animal1.PNG",
			"link2":                   "https://img/animal2.jpg",
			"link3":                   "https://img/animal3.gif",
			"https://img/animal1.PNG": "one",
			"https://img/animal2.jpg": "two",
			"https://img/animal3.gif": "three",
		},
	}
}

func newTestHarvester(t *testing.T, f Fetcher, listing parser.ListingParser, sink storage.Sink, concurrency int) *Harvester {
	t.Helper()
	h, err := NewHarvester(f, listing, bodyDetail{}, sink, Options{
		ListingURL:  listingURL,
		Concurrency: concurrency,
	})
	require.NoError(t, err)
	return h
}

func TestRunScenario(t *testing.T) {
	sink := storage.NewMemorySink()
	h := newTestHarvester(t, scenarioFetcher(), staticListing{records: scenarioRecords()}, sink, 2)

	result, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{
		"Test1": {"Animal1"},
		"Test2": {"Animal2", "Animal3"},
	}, result.Groups.ToMap())
	assert.Equal(t, []string{"Animal1.png", "Animal2.jpg", "Animal3.gif"}, sink.Names())

	data, ok := sink.Get("Animal2.jpg")
	require.True(t, ok)
	assert.Equal(t, "two", string(data))

	assert.NotEmpty(t, result.RunID)
	assert.False(t, result.EndTime.Before(result.StartTime))
	assert.Equal(t, int64(3), result.Stats.PagesQueued)
	assert.Equal(t, int64(3), result.Stats.ImagesQueued)
	assert.Equal(t, int64(3), result.Stats.ImagesSaved)
	assert.Equal(t, int64(len("one")+len("two")+len("three")), result.Stats.BytesSaved)
}

func TestRunDrainsBothQueues(t *testing.T) {
	for _, concurrency := range []int{1, 2, 10} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			h := newTestHarvester(t, scenarioFetcher(), staticListing{records: scenarioRecords()}, storage.NewMemorySink(), concurrency)

			result, err := h.Run(context.Background())
			require.NoError(t, err)

			for name, q := range map[string]models.QueueStats{
				"pages":  result.Stats.PageQueue,
				"images": result.Stats.ImageQueue,
			} {
				assert.Zero(t, q.Unfinished, name)
				assert.Zero(t, q.Buffered, name)
				assert.Equal(t, q.Gets, q.Dones, name)
				assert.Equal(t, q.Puts, q.Gets, name)
				assert.Equal(t, concurrency, q.Capacity, name)
			}
		})
	}
}

func TestRunIsolatesPageFailures(t *testing.T) {
	fetcher := scenarioFetcher()
	fetcher.failed = map[string]bool{"link2": true}
	sink := storage.NewMemorySink()
	h := newTestHarvester(t, fetcher, staticListing{records: scenarioRecords()}, sink, 3)

	result, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), result.Stats.ImageQueue.Puts)
	assert.Equal(t, int64(1), result.Stats.PagesFailed)
	assert.Equal(t, []string{"Animal1.png", "Animal3.gif"}, sink.Names())
	// the aggregation does not depend on worker outcomes
	assert.Equal(t, []string{"Animal2", "Animal3"}, result.Groups.Members("Test2"))
}

func TestRunIsolatesImageFailures(t *testing.T) {
	fetcher := scenarioFetcher()
	fetcher.failed = map[string]bool{"https://img/animal1.PNG": true}

	var mu sync.Mutex
	outcomes := map[string]error{}
	h, err := NewHarvester(fetcher, staticListing{records: scenarioRecords()}, bodyDetail{}, failingSink{}, Options{
		ListingURL:  listingURL,
		Concurrency: 2,
		OnImageDone: func(task models.ImageTask, err error) {
			mu.Lock()
			outcomes[task.Name] = err
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	result, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), result.Stats.ImagesFailed)
	assert.Zero(t, result.Stats.ImagesSaved)
	require.Len(t, outcomes, 3)
	assert.ErrorIs(t, outcomes["Animal1"], fetch.ErrNetwork)
	assert.ErrorIs(t, outcomes["Animal2"], storage.ErrStorage)
	assert.Equal(t, result.Stats.ImageQueue.Gets, result.Stats.ImageQueue.Dones)
}

func TestRunDetailParseFailure(t *testing.T) {
	fetcher := scenarioFetcher()
	fetcher.bodies["link3"] = ""
	h := newTestHarvester(t, fetcher, staticListing{records: scenarioRecords()}, storage.NewMemorySink(), 2)

	result, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Stats.PagesFailed)
	assert.Equal(t, int64(2), result.Stats.ImagesSaved)
}

func TestRunListingFailuresAreFatal(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		fetcher := scenarioFetcher()
		fetcher.failed = map[string]bool{listingURL: true}
		h := newTestHarvester(t, fetcher, staticListing{records: scenarioRecords()}, storage.NewMemorySink(), 2)

		result, err := h.Run(context.Background())
		require.ErrorIs(t, err, fetch.ErrNetwork)
		assert.Nil(t, result)
		assert.Equal(t, 1, fetcher.callCount())
	})

	t.Run("parse", func(t *testing.T) {
		fetcher := scenarioFetcher()
		h := newTestHarvester(t, fetcher, staticListing{err: parser.ErrTableNotFound}, storage.NewMemorySink(), 2)

		_, err := h.Run(context.Background())
		require.ErrorIs(t, err, parser.ErrTableNotFound)
		assert.Equal(t, 1, fetcher.callCount())
	})

	t.Run("real parser on unrelated page", func(t *testing.T) {
		fetcher := scenarioFetcher()
		fetcher.bodies[listingURL] = "<html><p>nothing here</p></html>"
		h := newTestHarvester(t, fetcher, parser.WikiListingParser{}, storage.NewMemorySink(), 2)

		_, err := h.Run(context.Background())
		require.ErrorIs(t, err, parser.ErrTableNotFound)
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	fetcher := scenarioFetcher()
	fetcher.block = map[string]bool{"link1": true, "link2": true, "link3": true}

	records := slices.Repeat(scenarioRecords(), 4)
	h := newTestHarvester(t, fetcher, staticListing{records: records}, storage.NewMemorySink(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.Run(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestNewHarvesterValidation(t *testing.T) {
	f := scenarioFetcher()
	listing := staticListing{}
	sink := storage.NewMemorySink()
	valid := Options{ListingURL: listingURL, Concurrency: 1}

	tests := []struct {
		name    string
		fetcher Fetcher
		listing parser.ListingParser
		detail  parser.DetailParser
		sink    storage.Sink
		opts    Options
	}{
		{"nil fetcher", nil, listing, bodyDetail{}, sink, valid},
		{"nil listing", f, nil, bodyDetail{}, sink, valid},
		{"nil detail", f, listing, nil, sink, valid},
		{"nil sink", f, listing, bodyDetail{}, nil, valid},
		{"no url", f, listing, bodyDetail{}, sink, Options{Concurrency: 1}},
		{"zero concurrency", f, listing, bodyDetail{}, sink, Options{ListingURL: listingURL}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHarvester(tt.fetcher, tt.listing, tt.detail, tt.sink, tt.opts)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}

const e2eListing = `
<html><body>
<h2><span id="Terms_by_species_or_taxon">Terms by species or taxon</span></h2>
<table class="wikitable sortable">
<tr><th>Animal</th><th>Young</th><th>Collateral adjective</th></tr>
<tr><td><a href="/wiki/Cat" title="Cat">Cat</a></td><td>kitten</td><td>feline<sup>[1]</sup></td></tr>
<tr><td><a href="/wiki/Dog" title="Dog">Dog</a></td><td>puppy</td><td>canine</td></tr>
<tr><td><a href="/wiki/Lion" title="Lion">Lion</a></td><td>cub</td><td>feline<br/>leonine</td></tr>
<tr><td><a href="/wiki/Yak" title="Yak">Yak</a></td><td>calf</td><td>—</td></tr>
</table>
</body></html>
`

func detailPage(image string) string {
	return `<html><head><meta property="og:image" content="` + image + `"/></head><body></body></html>`
}

func TestRunEndToEnd(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://en.test/wiki/List", httpmock.NewStringResponder(http.StatusOK, e2eListing))
	transport.RegisterResponder("GET", "https://en.test/wiki/Cat", httpmock.NewStringResponder(http.StatusOK, detailPage("//upload.test/cat.JPG")))
	transport.RegisterResponder("GET", "https://en.test/wiki/Dog", httpmock.NewStringResponder(http.StatusNotFound, "missing"))
	transport.RegisterResponder("GET", "https://en.test/wiki/Lion", httpmock.NewStringResponder(http.StatusOK, detailPage("https://upload.test/lion.png")))
	transport.RegisterResponder("GET", "https://upload.test/cat.JPG", httpmock.NewBytesResponder(http.StatusOK, []byte("cat-bytes")))
	transport.RegisterResponder("GET", "https://upload.test/lion.png", httpmock.NewBytesResponder(http.StatusOK, []byte("lion-bytes")))

	metrics := NewMetrics()
	fetcher, err := fetch.New(fetch.Config{Timeout: time.Second}, fetch.WithTransport(transport), fetch.WithMetrics(metrics))
	require.NoError(t, err)

	sink := storage.NewMemorySink()
	h, err := NewHarvester(fetcher, parser.WikiListingParser{}, parser.WikiDetailParser{}, sink, Options{
		ListingURL:  "https://en.test/wiki/List",
		Concurrency: 2,
		Metrics:     metrics,
	})
	require.NoError(t, err)

	result, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"feline", "canine", "leonine"}, result.Groups.Labels())
	assert.Equal(t, []string{"Cat", "Lion"}, result.Groups.Members("feline"))
	assert.Equal(t, []string{"Cat.jpg", "Lion.png"}, sink.Names())

	assert.Equal(t, int64(4), result.Stats.RecordsSeen)
	assert.Equal(t, int64(1), result.Stats.RecordsDropped)
	assert.Equal(t, int64(1), result.Stats.PagesFailed)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RecordsTotal.WithLabelValues("dropped")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.RecordsTotal.WithLabelValues("queued")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.TasksTotal.WithLabelValues("image", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TasksTotal.WithLabelValues("page", "fetch_error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.FetchesTotal.WithLabelValues("not_found")))
	assert.Equal(t, float64(len("cat-bytes")+len("lion-bytes")), testutil.ToFloat64(metrics.BytesSaved))
}
