// Package crawlengine defines the Engine interface the Crawl Dispatcher
// drives, independent of any particular fetch implementation. httpengine
// is this repo's reference implementation, built on net/http and goquery
// with a chromedp fallback for JavaScript-rendered pages.
package crawlengine

import (
	"context"
	"time"
)

// Params is one crawl invocation's configuration, translated directly
// from a CrawlJobData payload.
type Params struct {
	CrawlID    string
	Domain     string
	URL        string
	MaxPages   int
	SingleURL  bool
	UseSitemap bool
}

// Page is one fetched document, ready for the caller to persist via the
// content store and seed into the state store.
type Page struct {
	URL          string
	StatusCode   int
	Body         []byte
	Headers      map[string][]string
	JSRendered   bool
	FetchedAt    time.Time
	DiscoveredAt time.Time
}

// Result summarizes a completed (or partially completed) crawl run.
type Result struct {
	PagesCrawled    int
	SkippedURLs     int
	StatusCodes     map[string]int
	JSRenderDomains []string
}

// PageHandler is invoked once per successfully fetched page, in crawl
// order. Returning an error does not stop the crawl; the engine logs it
// and continues to the next page — callers that need to abort should
// cancel ctx instead.
type PageHandler func(ctx context.Context, page Page) error

// Engine crawls a domain or single URL, invoking onPage for every fetched
// document and returning aggregate stats once the crawl budget (MaxPages,
// SingleURL) is exhausted or ctx is canceled.
type Engine interface {
	Crawl(ctx context.Context, params Params, onPage PageHandler) (Result, error)
}
