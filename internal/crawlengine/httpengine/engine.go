// Package httpengine is the reference crawlengine.Engine implementation:
// a breadth-first same-domain crawl over net/http, with a chromedp
// fallback for JavaScript-rendered pages, per-domain rate limiting, and
// exponential-backoff retry. It composes the domain's RateLimiter,
// RetryPolicy, LinkExtractor, and ChromeDPPool helpers into the single
// crawlengine.Engine entrypoint the Crawl Dispatcher drives.
package httpengine

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/crawlengine"
)

// Config mirrors config.CrawlerConfig without importing the config
// package, keeping httpengine usable independent of this repo's TOML
// loader.
type Config struct {
	UserAgent          string
	MaxConcurrency     int
	RequestDelay       time.Duration
	RequestTimeout     time.Duration
	MaxBodySize        int
	FollowRobotsTxt    bool
	EnableJavaScript   bool
	JavaScriptWaitTime time.Duration
	DefaultMaxPages    int
}

// Engine is the concrete crawlengine.Engine this repo ships by default.
type Engine struct {
	cfg          Config
	client       *http.Client
	rateLimiter  *RateLimiter
	retryPolicy  *RetryPolicy
	linkExtract  *LinkExtractor
	chromePool   *ChromeDPPool
	logger       arbor.ILogger
}

var _ crawlengine.Engine = (*Engine)(nil)

// New builds an Engine. The chromedp pool is initialized lazily on first
// use so a process that never hits a JS-rendered page never pays chrome's
// startup cost.
func New(cfg Config, logger arbor.ILogger) *Engine {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 10 << 20
	}
	if cfg.DefaultMaxPages <= 0 {
		cfg.DefaultMaxPages = 100
	}
	return &Engine{
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.RequestTimeout},
		rateLimiter: NewRateLimiter(cfg.RequestDelay),
		retryPolicy: NewRetryPolicy(),
		linkExtract: NewLinkExtractor(logger),
		logger:      logger,
	}
}

// Crawl performs a breadth-first, same-domain crawl starting at
// params.URL (or every <loc> in the domain's sitemap.xml when
// params.UseSitemap is set), invoking onPage for each fetched document
// until params.MaxPages is reached, the frontier is exhausted, or ctx is
// canceled.
func (e *Engine) Crawl(ctx context.Context, params crawlengine.Params, onPage crawlengine.PageHandler) (crawlengine.Result, error) {
	result := crawlengine.Result{StatusCodes: make(map[string]int)}

	maxPages := params.MaxPages
	if maxPages <= 0 {
		maxPages = e.cfg.DefaultMaxPages
	}

	var disallow []string
	if e.cfg.FollowRobotsTxt {
		disallow = e.fetchRobotsDisallow(ctx, params.URL)
	}

	frontier := []string{params.URL}
	if params.UseSitemap && !params.SingleURL {
		if locs, err := e.fetchSitemap(ctx, params.Domain); err == nil && len(locs) > 0 {
			frontier = locs
		} else if err != nil && e.logger != nil {
			e.logger.Warn().Err(err).Str("domain", params.Domain).Msg("httpengine: sitemap fetch failed, falling back to seed URL")
		}
	}

	visited := make(map[string]bool)
	for len(frontier) > 0 && result.PagesCrawled < maxPages {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		next := frontier[0]
		frontier = frontier[1:]
		if visited[next] {
			continue
		}
		visited[next] = true

		if isDisallowed(next, disallow) {
			result.SkippedURLs++
			continue
		}

		page, err := e.fetchOne(ctx, next)
		if err != nil {
			if e.logger != nil {
				e.logger.Warn().Err(err).Str("url", next).Msg("httpengine: fetch failed, skipping")
			}
			result.SkippedURLs++
			continue
		}

		result.PagesCrawled++
		result.StatusCodes[fmt.Sprintf("%d", page.StatusCode)]++
		if page.JSRendered {
			result.JSRenderDomains = append(result.JSRenderDomains, params.Domain)
		}

		if err := onPage(ctx, page); err != nil && e.logger != nil {
			e.logger.Warn().Err(err).Str("url", next).Msg("httpengine: page handler returned error, continuing crawl")
		}

		if params.SingleURL {
			break
		}

		links, err := e.linkExtract.ExtractLinks(string(page.Body), next)
		if err != nil {
			continue
		}
		for _, link := range links {
			if !visited[link] && sameDomain(link, params.Domain) {
				frontier = append(frontier, link)
			}
		}
	}

	return result, nil
}

func (e *Engine) fetchOne(ctx context.Context, rawURL string) (crawlengine.Page, error) {
	if err := e.rateLimiter.Wait(ctx, rawURL); err != nil {
		return crawlengine.Page{}, err
	}

	var page crawlengine.Page
	statusCode, err := e.retryPolicy.ExecuteWithRetry(ctx, e.logger, func() (int, error) {
		p, ferr := e.httpFetch(ctx, rawURL)
		if ferr != nil {
			return 0, ferr
		}
		page = p
		return p.StatusCode, nil
	})
	if err != nil {
		return crawlengine.Page{}, err
	}
	_ = statusCode

	if e.cfg.EnableJavaScript && looksEmpty(page.Body) {
		if rendered, rerr := e.fetchWithChrome(ctx, rawURL); rerr == nil {
			return rendered, nil
		} else if e.logger != nil {
			e.logger.Debug().Err(rerr).Str("url", rawURL).Msg("httpengine: chromedp fallback failed, keeping static fetch")
		}
	}

	return page, nil
}

func (e *Engine) httpFetch(ctx context.Context, rawURL string) (crawlengine.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return crawlengine.Page{}, fmt.Errorf("httpengine: build request: %w", err)
	}
	if e.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return crawlengine.Page{}, fmt.Errorf("httpengine: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(e.cfg.MaxBodySize)))
	if err != nil {
		return crawlengine.Page{}, fmt.Errorf("httpengine: read body %s: %w", rawURL, err)
	}

	return crawlengine.Page{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
		FetchedAt:  time.Now(),
	}, nil
}

// fetchWithChrome renders rawURL through the chromedp pool, for pages a
// static fetch returns near-empty (client-side-rendered content).
func (e *Engine) fetchWithChrome(ctx context.Context, rawURL string) (crawlengine.Page, error) {
	if e.chromePool == nil {
		e.chromePool = NewChromeDPPool(ChromeDPPoolConfig{
			MaxInstances:       e.cfg.MaxConcurrency,
			UserAgent:          e.cfg.UserAgent,
			Headless:           true,
			DisableGPU:         true,
			NoSandbox:          true,
			JavaScriptWaitTime: e.cfg.JavaScriptWaitTime,
			RequestTimeout:     e.cfg.RequestTimeout,
		}, e.logger)
		if err := e.chromePool.InitBrowserPool(ChromeDPPoolConfig{
			MaxInstances:       maxInt(e.cfg.MaxConcurrency, 1),
			UserAgent:          e.cfg.UserAgent,
			Headless:           true,
			DisableGPU:         true,
			NoSandbox:          true,
			JavaScriptWaitTime: e.cfg.JavaScriptWaitTime,
			RequestTimeout:     e.cfg.RequestTimeout,
		}); err != nil {
			return crawlengine.Page{}, fmt.Errorf("httpengine: init chromedp pool: %w", err)
		}
	}

	browserCtx, release, err := e.chromePool.GetBrowser()
	if err != nil {
		return crawlengine.Page{}, err
	}
	defer release()

	html, err := renderPage(browserCtx, rawURL, e.cfg.JavaScriptWaitTime)
	if err != nil {
		return crawlengine.Page{}, err
	}

	return crawlengine.Page{
		URL:        rawURL,
		StatusCode: http.StatusOK,
		Body:       []byte(html),
		JSRendered: true,
		FetchedAt:  time.Now(),
	}, nil
}

// sitemapURLSet and sitemapEntry decode the subset of the sitemap XML
// schema this engine needs: a flat list of <loc> entries.
type sitemapURLSet struct {
	XMLName xml.Name        `xml:"urlset"`
	URLs    []sitemapEntry  `xml:"url"`
}

type sitemapEntry struct {
	Loc string `xml:"loc"`
}

func (e *Engine) fetchSitemap(ctx context.Context, domain string) ([]string, error) {
	sitemapURL := "https://" + domain + "/sitemap.xml"
	page, err := e.httpFetch(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}
	if page.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpengine: sitemap returned status %d", page.StatusCode)
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(page.Body, &set); err != nil {
		return nil, fmt.Errorf("httpengine: parse sitemap: %w", err)
	}

	locs := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		if u.Loc != "" {
			locs = append(locs, u.Loc)
		}
	}
	return locs, nil
}

// fetchRobotsDisallow fetches robots.txt and returns the Disallow path
// prefixes listed under "User-agent: *". Any fetch or parse failure is
// treated as "no restrictions" rather than blocking the crawl.
func (e *Engine) fetchRobotsDisallow(ctx context.Context, seedURL string) []string {
	u, err := url.Parse(seedURL)
	if err != nil || u.Host == "" {
		return nil
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"

	page, err := e.httpFetch(ctx, robotsURL)
	if err != nil || page.StatusCode != http.StatusOK {
		return nil
	}

	var disallow []string
	applies := false
	for _, line := range strings.Split(string(page.Body), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(strings.ToLower(line), "user-agent:"):
			agent := strings.TrimSpace(line[len("user-agent:"):])
			applies = agent == "*"
		case applies && strings.HasPrefix(strings.ToLower(line), "disallow:"):
			path := strings.TrimSpace(line[len("disallow:"):])
			if path != "" {
				disallow = append(disallow, path)
			}
		}
	}
	return disallow
}

func isDisallowed(rawURL string, disallow []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for _, prefix := range disallow {
		if strings.HasPrefix(u.Path, prefix) {
			return true
		}
	}
	return false
}

func sameDomain(rawURL, domain string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.TrimPrefix(u.Host, "www.") == strings.TrimPrefix(domain, "www.")
}

func looksEmpty(body []byte) bool {
	return len(strings.TrimSpace(string(body))) < 200
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
