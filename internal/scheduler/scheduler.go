// Package scheduler is the Ingestion Scheduler (Bulk Admitter): a
// periodic loop that reads candidate domains from the SourceDomain
// collection and enqueues crawl jobs up to a computed capacity target.
// It is driven by github.com/robfig/cron/v3, the same interval-runner
// the teacher uses for its own background passes, configured with
// cron.WithSeconds() so a sub-minute admission cadence is expressible.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/jobcodec"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/queuemgr"
	"github.com/ternarybob/quaero/internal/statestore"
)

// standardPayloadKeys are the CrawlJobData fields a SourceDomain's custom
// params must not collide with when cloned into a crawl payload.
var standardPayloadKeys = map[string]bool{
	"domain": true, "url": true, "max_pages": true, "single_url": true,
	"use_sitemap": true, "cycle_id": true, "project_id": true,
}

// Config drives one Scheduler's admission behavior.
type Config struct {
	// Schedule is a cron expression (with seconds field) evaluated by
	// robfig/cron, e.g. "*/30 * * * * *" for every 30 seconds.
	Schedule string
	// CrawlerInstances and BufferFactor compute the target queue depth:
	// floor(CrawlerInstances * BufferFactor) - occupied.
	CrawlerInstances int
	BufferFactor     float64
	// Limit hard-caps a single cycle's admissions regardless of the
	// computed target; 0 means no additional cap.
	Limit int
	// SourceStatus is the SourceDomain status this scheduler admits from;
	// defaults to models.SourceDomainNew.
	SourceStatus models.SourceDomainStatus
	// TTR is the crawl job's time-to-run lease.
	TTR time.Duration
}

// Scheduler runs admission cycles against the State Store and Queue
// Manager. Multiple Scheduler instances may run concurrently against the
// same store; TransitionSourceDomain's conditional update is what keeps
// them from double-submitting the same domain.
type Scheduler struct {
	cfg    Config
	store  *statestore.Store
	queue  *queuemgr.Manager
	logger arbor.ILogger

	cron *cron.Cron

	mu       sync.Mutex
	shutdown chan struct{}
}

// New builds a Scheduler. Missing Config fields are filled with sane
// defaults so a zero-value Config still runs (disabled admission, since
// CrawlerInstances defaults to 0 and the target never exceeds occupied).
func New(cfg Config, store *statestore.Store, queue *queuemgr.Manager, logger arbor.ILogger) *Scheduler {
	if cfg.SourceStatus == "" {
		cfg.SourceStatus = models.SourceDomainNew
	}
	if cfg.BufferFactor <= 0 {
		cfg.BufferFactor = 1.5
	}
	return &Scheduler{cfg: cfg, store: store, queue: queue, logger: logger}
}

// Run starts the cron-driven admission loop and blocks until ctx is
// canceled. On unhandled cycle error it sleeps min(60s, interval) before
// the next scheduled tick is allowed to fire again (ticks that come due
// while a cycle is still running are skipped), to avoid hammering the
// State Store with retries during an outage.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = make(chan struct{})
	s.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if err := s.RunCycle(ctx); err != nil {
			if s.logger != nil {
				s.logger.Error().Err(err).Msg("scheduler: admission cycle failed")
			}
			s.sleepInterruptible(ctx, s.errorBackoff())
		}
	})
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", s.cfg.Schedule, err)
	}

	s.cron.Start()
	defer func() { <-s.cron.Stop().Done() }()

	select {
	case <-ctx.Done():
	case <-s.shutdown:
	}
	return nil
}

// Stop signals Run's select loop to return; Run waits for an in-flight
// cycle to finish (via the context cron.Stop returns) before returning.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown != nil {
		select {
		case <-s.shutdown:
		default:
			close(s.shutdown)
		}
	}
}

func (s *Scheduler) errorBackoff() time.Duration {
	backoff := 60 * time.Second
	if interval := s.scheduleIntervalGuess(); interval > 0 && interval < backoff {
		backoff = interval
	}
	return backoff
}

// scheduleIntervalGuess is a best-effort parse of "@every"-style
// expressions used only to size the error backoff; a cron expression that
// isn't "@every" falls back to the full 60s cap.
func (s *Scheduler) scheduleIntervalGuess() time.Duration {
	if d, err := time.ParseDuration(trimEvery(s.cfg.Schedule)); err == nil {
		return d
	}
	return 0
}

func trimEvery(schedule string) string {
	const prefix = "@every "
	if len(schedule) > len(prefix) && schedule[:len(prefix)] == prefix {
		return schedule[len(prefix):]
	}
	return ""
}

func (s *Scheduler) sleepInterruptible(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-s.shutdownChan():
	case <-time.After(d):
	}
}

func (s *Scheduler) shutdownChan() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// RunOnce runs exactly one admission cycle, for a one-shot invocation
// (e.g. an operator-triggered backfill) instead of the interval loop.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.RunCycle(ctx)
}

// RunCycle is one admission pass: compute capacity, read candidates,
// admit each under the optimistic SourceDomain lock, and enqueue a crawl
// job per admitted candidate.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	tube := queuemgr.CrawlTube()
	stats, err := s.queue.TubeStats(ctx, []string{tube})
	if err != nil {
		return fmt.Errorf("scheduler: tube stats: %w", err)
	}
	occupied := stats[tube].Ready + stats[tube].Reserved

	target := int(math.Floor(float64(s.cfg.CrawlerInstances)*s.cfg.BufferFactor)) - occupied
	if target <= 0 {
		if s.logger != nil {
			s.logger.Debug().Int("occupied", occupied).Msg("scheduler: at or above capacity target, skipping cycle")
		}
		return nil
	}
	if s.cfg.Limit > 0 && target > s.cfg.Limit {
		target = s.cfg.Limit
	}

	candidates, err := s.store.ListSourceDomainsByStatus(s.cfg.SourceStatus, target)
	if err != nil {
		return fmt.Errorf("scheduler: list candidates: %w", err)
	}

	admitted := 0
	for _, sd := range candidates {
		if err := s.admit(ctx, sd); err != nil {
			if s.logger != nil {
				s.logger.Error().Err(err).Str("domain", sd.Domain).Msg("scheduler: admission failed")
			}
			continue
		}
		admitted++
	}
	if s.logger != nil {
		s.logger.Info().Int("admitted", admitted).Int("candidates", len(candidates)).Int("target", target).Msg("scheduler: admission cycle complete")
	}
	return nil
}

// admit carries one SourceDomain through the conditional transition,
// payload construction, enqueue, CrawlJob insert, and final status
// transition — reverting on any failure after the lock is won.
func (s *Scheduler) admit(ctx context.Context, sd *models.SourceDomain) error {
	won, err := s.store.TransitionSourceDomain(sd.ID, s.cfg.SourceStatus, models.SourceDomainPendingSubmission, nil)
	if err != nil {
		return fmt.Errorf("transition to pending: %w", err)
	}
	if !won {
		// Another scheduler instance already claimed this domain this
		// cycle; not an error, just a lost race.
		return nil
	}

	crawlID := uuid.New().String()
	payload := s.buildPayload(crawlID, sd)

	jobID, err := s.queue.EnqueueCrawl(ctx, payload, queuemgr.PriorityHigh, s.cfg.TTR)
	if err != nil {
		s.revert(sd.ID, fmt.Sprintf("enqueue failed: %v", err))
		return fmt.Errorf("enqueue crawl: %w", err)
	}

	job := models.NewCrawlJob(crawlID, toJobData(payload))
	job.JobID = jobID
	if err := s.store.SaveCrawlJob(job); err != nil {
		// The broker enqueue already succeeded: this is the documented
		// orphan case, logged critical for operator follow-up rather
		// than auto-healed.
		if s.logger != nil {
			s.logger.Error().Err(err).Str("crawl_id", crawlID).Str("job_id", jobID).
				Msg("scheduler: ORPHAN crawl job enqueued but State Store insert failed")
		}
		s.revert(sd.ID, fmt.Sprintf("state store insert failed: %v", err))
		return fmt.Errorf("save crawl job (orphan %s): %w", crawlID, err)
	}

	_, err = s.store.TransitionSourceDomain(sd.ID, models.SourceDomainPendingSubmission, models.SourceDomainSubmitted, func(d *models.SourceDomain) {
		d.CrawlID = crawlID
	})
	if err != nil {
		return fmt.Errorf("transition to submitted: %w", err)
	}
	return nil
}

// SubmitAdHoc is the non-Scheduler submission path: a second submission
// for the same (domain, url) with an active status reuses the existing
// crawl_id instead of creating a second record. It is used by one-off
// operator tooling rather than the bulk admission cycle, so it skips the
// SourceDomain bookkeeping entirely.
func (s *Scheduler) SubmitAdHoc(ctx context.Context, data models.CrawlJobData) (crawlID string, reused bool, err error) {
	if data.Domain != "" {
		active, err := s.store.FindActiveCrawlJobsForDomain(data.Domain)
		if err != nil {
			return "", false, fmt.Errorf("scheduler: check active crawl jobs: %w", err)
		}
		for _, job := range active {
			if job.JobData.URL == data.URL {
				return job.CrawlID, true, nil
			}
		}
	}

	crawlID = uuid.New().String()
	payload := jobcodec.CrawlPayload{
		CrawlID:    crawlID,
		Domain:     data.Domain,
		URL:        data.URL,
		MaxPages:   data.MaxPages,
		SingleURL:  data.SingleURL,
		UseSitemap: data.UseSitemap,
		CycleID:    data.CycleID,
		ProjectID:  data.ProjectID,
		Params:     data.Params,
	}
	if payload.URL != "" {
		payload.SingleURL = true
		payload.MaxPages = 1
		payload.UseSitemap = false
	}

	jobID, err := s.queue.EnqueueCrawl(ctx, payload, queuemgr.PriorityNormal, s.cfg.TTR)
	if err != nil {
		return "", false, fmt.Errorf("scheduler: enqueue ad-hoc crawl: %w", err)
	}

	job := models.NewCrawlJob(crawlID, toJobData(payload))
	job.JobID = jobID
	if err := s.store.SaveCrawlJob(job); err != nil {
		if s.logger != nil {
			s.logger.Error().Err(err).Str("crawl_id", crawlID).Str("job_id", jobID).
				Msg("scheduler: ORPHAN ad-hoc crawl job enqueued but State Store insert failed")
		}
		return "", false, fmt.Errorf("scheduler: save ad-hoc crawl job (orphan %s): %w", crawlID, err)
	}
	return crawlID, false, nil
}

// revert moves a SourceDomain back to its original status with an error
// note attached for operator follow-up.
func (s *Scheduler) revert(id, note string) {
	_, err := s.store.TransitionSourceDomain(id, models.SourceDomainPendingSubmission, s.cfg.SourceStatus, func(d *models.SourceDomain) {
		d.Error = note
	})
	if err != nil && s.logger != nil {
		s.logger.Error().Err(err).Str("domain_id", id).Msg("scheduler: failed reverting source domain after admission error")
	}
}

// buildPayload clones the SourceDomain's standard fields plus any custom
// params into a crawl payload, applying the single-URL defaults when the
// domain names a single page rather than a full crawl.
func (s *Scheduler) buildPayload(crawlID string, sd *models.SourceDomain) jobcodec.CrawlPayload {
	payload := jobcodec.CrawlPayload{
		CrawlID:    crawlID,
		Domain:     sd.Domain,
		URL:        sd.URL,
		MaxPages:   sd.MaxPages,
		SingleURL:  sd.SingleURL,
		UseSitemap: sd.UseSitemap,
		CycleID:    sd.CycleID,
		ProjectID:  sd.ProjectID,
	}
	if payload.URL != "" {
		payload.SingleURL = true
		payload.MaxPages = 1
		payload.UseSitemap = false
	}
	for k, v := range sd.Params {
		if standardPayloadKeys[k] {
			continue
		}
		if payload.Params == nil {
			payload.Params = make(map[string]any)
		}
		payload.Params[k] = v
	}
	return payload
}

func toJobData(p jobcodec.CrawlPayload) models.CrawlJobData {
	return models.CrawlJobData{
		Domain:     p.Domain,
		URL:        p.URL,
		MaxPages:   p.MaxPages,
		SingleURL:  p.SingleURL,
		UseSitemap: p.UseSitemap,
		CycleID:    p.CycleID,
		ProjectID:  p.ProjectID,
		Params:     p.Params,
	}
}
