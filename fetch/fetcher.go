// Package fetch retrieves remote resources with a colly collector.
package fetch

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	// MaxBodyBytes caps a response body. A body that reaches the cap is
	// rejected with ErrBodyTooLarge. Zero means no cap.
	MaxBodyBytes int
	// CacheSize bounds the number of HTML bodies kept in memory. Zero
	// disables caching. Other media types are never cached.
	CacheSize int
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithTransport replaces the HTTP transport, mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) {
		f.collector.WithTransport(rt)
	}
}

// WithMetrics records request outcomes and latency.
func WithMetrics(m Recorder) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// Recorder receives fetch observations. pipeline.Metrics satisfies it.
type Recorder interface {
	ObserveFetch(outcome string, d time.Duration)
}

// Fetcher issues GET requests and returns response bodies. It is safe for
// concurrent use; every call runs on its own clone of the base collector.
type Fetcher struct {
	cfg       Config
	collector *colly.Collector
	cache     *lru.Cache[string, []byte]
	metrics   Recorder
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	if cfg.UserAgent != "" {
		collector.UserAgent = cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	f := &Fetcher{
		cfg:       cfg,
		collector: collector,
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, []byte](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create response cache: %w", err)
		}
		f.cache = cache
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch returns the body of url. Every error wraps ErrNetwork and one of the
// typed errors in this package when the cause could be classified.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.cache != nil {
		if body, ok := f.cache.Get(url); ok {
			f.observe("cache_hit", 0)
			return body, nil
		}
	}

	var (
		body        []byte
		statusCode  int
		contentType string
		fetchErr    error
	)
	collector := f.collector.Clone()
	collector.Context = ctx
	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	start := time.Now()
	err := collector.Visit(url)
	if err == nil {
		err = fetchErr
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	// colly stops reading at MaxBodySize without reporting it.
	if err == nil && f.cfg.MaxBodyBytes > 0 && len(body) >= f.cfg.MaxBodyBytes {
		err = ErrBodyTooLarge
	}
	if err != nil {
		classified := classifyError(err, statusCode)
		f.observe(ErrorType(classified), time.Since(start))
		return nil, fmt.Errorf("%w: get %s: %w", ErrNetwork, url, classified)
	}

	f.observe("ok", time.Since(start))
	if f.cache != nil && cacheable(contentType) {
		f.cache.Add(url, body)
	}
	return body, nil
}

// CachedLen reports how many bodies the response cache holds.
func (f *Fetcher) CachedLen() int {
	if f.cache == nil {
		return 0
	}
	return f.cache.Len()
}

// cacheable limits the cache to HTML pages. Images are fetched once and
// handed to storage, so keeping them would only pin memory.
func cacheable(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func (f *Fetcher) observe(outcome string, d time.Duration) {
	if f.metrics == nil {
		return
	}
	f.metrics.ObserveFetch(outcome, d)
}
