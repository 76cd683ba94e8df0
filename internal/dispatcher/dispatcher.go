// Package dispatcher is the Crawl Dispatcher (Listener): a long-running
// consumer of the crawl tube that leases one job at a time, runs a
// parallel TTR keep-alive task alongside the crawl engine invocation, and
// finalizes the broker job and CrawlJob record on exit.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/contentstore"
	"github.com/ternarybob/quaero/internal/crawlengine"
	"github.com/ternarybob/quaero/internal/fanout"
	"github.com/ternarybob/quaero/internal/jobcodec"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/queuemgr"
	"github.com/ternarybob/quaero/internal/statestore"
)

// engineException wraps a recovered engine panic, distinguishing it from
// an ordinary engine error so finishFailed can mark the State Store
// failed_exception instead of failed, matching spec.md §4.7 step 8.
type engineException struct{ msg string }

func (e *engineException) Error() string { return e.msg }

// Config drives one Dispatcher instance's loop.
type Config struct {
	ReserveTimeout time.Duration
	// MinTouchThreshold is the floor a job's TTR must clear before a
	// keep-alive task is worth starting. Defaults to 60s.
	MinTouchThreshold time.Duration
}

// Dispatcher consumes crawl_jobs, drives the Crawl Engine, and fans the
// resulting pages out through the Content Store and Fan-out Dispatcher.
type Dispatcher struct {
	cfg     Config
	queue   *queuemgr.Manager
	store   *statestore.Store
	content *contentstore.Store
	engine  crawlengine.Engine
	fanout  *fanout.Dispatcher
	logger  arbor.ILogger

	shutdown chan struct{}
	once     sync.Once
}

// New builds a Dispatcher over its collaborators. fan may be
// nil in tests that only exercise the lease/retry/bury policy without a
// real page pipeline.
func New(cfg Config, queue *queuemgr.Manager, store *statestore.Store, content *contentstore.Store, engine crawlengine.Engine, fan *fanout.Dispatcher, logger arbor.ILogger) *Dispatcher {
	if cfg.ReserveTimeout <= 0 {
		cfg.ReserveTimeout = 5 * time.Second
	}
	if cfg.MinTouchThreshold <= 0 {
		cfg.MinTouchThreshold = 60 * time.Second
	}
	return &Dispatcher{
		cfg: cfg, queue: queue, store: store, content: content,
		engine: engine, fanout: fan, logger: logger,
		shutdown: make(chan struct{}),
	}
}

// Shutdown signals the Run loop to exit after its current job finishes.
// Safe to call multiple times and from any goroutine.
func (d *Dispatcher) Shutdown() {
	d.once.Do(func() { close(d.shutdown) })
}

// Run is the reserve/process loop. It returns nil when Shutdown is called
// or ctx is canceled, and blocks between jobs for at most
// cfg.ReserveTimeout at a time so shutdown is never delayed by more than
// one reserve cycle.
func (d *Dispatcher) Run(ctx context.Context) error {
	tube := queuemgr.CrawlTube()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.shutdown:
			return nil
		default:
		}

		reserved, err := d.queue.Dequeue(ctx, []string{tube}, d.cfg.ReserveTimeout)
		if err != nil {
			continue // timeout or decode/bury failure already logged by queuemgr
		}

		d.handle(ctx, reserved)
	}
}

// handle runs one leased crawl job end to end: start the keep-alive task,
// invoke the engine, finalize broker + state store, stop the keep-alive.
func (d *Dispatcher) handle(ctx context.Context, reserved *queuemgr.Reserved) {
	payload := reserved.Record.Crawl
	if payload == nil {
		if d.logger != nil {
			d.logger.Error().Str("job_id", reserved.JobID).Msg("dispatcher: reserved crawl job has nil payload, burying")
		}
		_ = d.queue.Fail(ctx, reserved, true)
		return
	}
	if payload.CrawlID == "" {
		payload.CrawlID = uuid.New().String()
		if d.logger != nil {
			d.logger.Warn().Str("job_id", reserved.JobID).Str("crawl_id", payload.CrawlID).
				Msg("dispatcher: crawl job missing crawl_id, synthesized one")
		}
	}

	logger := d.logger
	if logger != nil {
		logger.Info().Str("crawl_id", payload.CrawlID).Str("domain", payload.Domain).Msg("dispatcher: leased crawl job")
	}

	if err := d.markCrawling(payload, reserved.JobID); err != nil && logger != nil {
		logger.Error().Err(err).Str("crawl_id", payload.CrawlID).Msg("dispatcher: failed marking crawl job crawling")
	}

	ka := d.maybeStartKeepAlive(ctx, reserved)

	result, crawlErr := d.runEngine(ctx, payload)

	ka.stop()

	if crawlErr == nil && result.PagesCrawled == 0 {
		crawlErr = fmt.Errorf("crawl completed with zero pages")
	}

	if crawlErr != nil {
		d.finishFailed(ctx, reserved, payload, result, crawlErr)
		return
	}
	d.finishCompleted(ctx, reserved, payload, result)
}

func (d *Dispatcher) runEngine(ctx context.Context, payload *jobcodec.CrawlPayload) (result crawlengine.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &engineException{msg: fmt.Sprintf("crawl engine panicked: %v", r)}
		}
	}()

	params := crawlengine.Params{
		CrawlID:    payload.CrawlID,
		Domain:     payload.Domain,
		URL:        payload.URL,
		MaxPages:   payload.MaxPages,
		SingleURL:  payload.SingleURL,
		UseSitemap: payload.UseSitemap,
	}

	result, err = d.engine.Crawl(ctx, params, func(ctx context.Context, page crawlengine.Page) error {
		return d.onPage(ctx, payload, page)
	})
	return result, err
}

// onPage is the Crawl Engine's per-page callback: persist to the Content
// Store (fsync before anything downstream can see the path), then hand
// the item to the Fan-out Dispatcher.
func (d *Dispatcher) onPage(ctx context.Context, payload *jobcodec.CrawlPayload, page crawlengine.Page) error {
	headerBytes := encodeHeaders(page.Headers)
	write, err := d.content.WritePage(page.URL, page.Body, headerBytes)
	if err != nil {
		return fmt.Errorf("content store write: %w", err)
	}

	if d.fanout == nil {
		return nil
	}

	item := fanout.Item{
		URL:             page.URL,
		Domain:          payload.Domain,
		CrawlID:         payload.CrawlID,
		StatusCode:      page.StatusCode,
		HTMLFilePath:    write.HTMLPath,
		HeadersFilePath: write.HeadersPath,
		ResponseHeaders: page.Headers,
	}
	_, err = d.fanout.Dispatch(ctx, item)
	return err
}

func (d *Dispatcher) markCrawling(payload *jobcodec.CrawlPayload, jobID string) error {
	job, err := d.store.GetCrawlJob(payload.CrawlID)
	if err != nil {
		job = models.NewCrawlJob(payload.CrawlID, models.CrawlJobData{
			Domain: payload.Domain, URL: payload.URL, MaxPages: payload.MaxPages,
			SingleURL: payload.SingleURL, UseSitemap: payload.UseSitemap,
			CycleID: payload.CycleID, ProjectID: payload.ProjectID, Params: payload.Params,
		})
	}
	job.JobID = jobID
	job.Status = models.CrawlStatusCrawling
	now := time.Now()
	job.CrawlStats.StartedAt = &now
	return d.store.SaveCrawlJob(job)
}

func (d *Dispatcher) finishCompleted(ctx context.Context, reserved *queuemgr.Reserved, payload *jobcodec.CrawlPayload, result crawlengine.Result) {
	if err := d.queue.Complete(ctx, reserved); err != nil && d.logger != nil {
		d.logger.Error().Err(err).Str("crawl_id", payload.CrawlID).Msg("dispatcher: failed completing broker job")
	}

	job, err := d.store.GetCrawlJob(payload.CrawlID)
	if err != nil {
		job = models.NewCrawlJob(payload.CrawlID, models.CrawlJobData{Domain: payload.Domain, URL: payload.URL})
	}
	now := time.Now()
	job.Status = models.CrawlStatusCompleted
	job.CrawlStats.PagesCrawled = result.PagesCrawled
	job.CrawlStats.SkippedURLs = result.SkippedURLs
	job.CrawlStats.StatusCodes = result.StatusCodes
	job.CrawlStats.JSRenderDomains = result.JSRenderDomains
	job.CrawlStats.EndedAt = &now
	if err := d.store.SaveCrawlJob(job); err != nil && d.logger != nil {
		d.logger.Error().Err(err).Str("crawl_id", payload.CrawlID).Msg("dispatcher: failed saving completed crawl job")
	}
	if d.logger != nil {
		d.logger.Info().Str("crawl_id", payload.CrawlID).Int("pages", result.PagesCrawled).Msg("dispatcher: crawl completed")
	}
}

// crawlReleaseDelay is the fixed re-delivery delay spec.md §4.7 step 7
// specifies for a releasable engine failure.
const crawlReleaseDelay = 60 * time.Second

func (d *Dispatcher) finishFailed(ctx context.Context, reserved *queuemgr.Reserved, payload *jobcodec.CrawlPayload, result crawlengine.Result, crawlErr error) {
	// The bury-vs-release decision is queuemgr.FailCrawl's policy, driven
	// by the broker's own release counter (Reserved.Releases) rather than
	// the payload's retries field — the Dispatcher never overrides it
	// with its own threshold.
	status := models.CrawlStatusFailed
	var exc *engineException
	if errors.As(crawlErr, &exc) {
		status = models.CrawlStatusFailedException
	}
	permanent := reserved.Releases+1 > queuemgr.MaxAttempts

	if queueErr := d.queue.FailCrawl(ctx, reserved, crawlReleaseDelay); queueErr != nil && d.logger != nil {
		d.logger.Error().Err(queueErr).Str("crawl_id", payload.CrawlID).Msg("dispatcher: failed finalizing broker job after engine failure")
	}

	job, err := d.store.GetCrawlJob(payload.CrawlID)
	if err != nil {
		job = models.NewCrawlJob(payload.CrawlID, models.CrawlJobData{Domain: payload.Domain, URL: payload.URL})
	}
	job.Status = status
	job.Error = crawlErr.Error()
	job.Errors = append(job.Errors, crawlErr.Error())
	job.CrawlStats.PagesCrawled = result.PagesCrawled
	job.CrawlStats.SkippedURLs = result.SkippedURLs
	now := time.Now()
	job.CrawlStats.EndedAt = &now
	if err := d.store.SaveCrawlJob(job); err != nil && d.logger != nil {
		d.logger.Error().Err(err).Str("crawl_id", payload.CrawlID).Msg("dispatcher: failed saving failed crawl job")
	}
	if d.logger != nil {
		d.logger.Warn().Str("crawl_id", payload.CrawlID).Err(crawlErr).Bool("buried", permanent).Msg("dispatcher: crawl failed")
	}
}

func encodeHeaders(h map[string][]string) []byte {
	if len(h) == 0 {
		return nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil
	}
	return b
}
