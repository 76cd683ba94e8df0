// Package queuemgr is the high-level operations layer over the broker: it
// is the only place in the repo that knows tube names, symbolic
// priorities, and the retry/bury policy. Callers enqueue and dequeue
// jobcodec.Records; they never see a broker.Job directly.
package queuemgr

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/broker"
	"github.com/ternarybob/quaero/internal/jobcodec"
)

// Symbolic priority names, translated to the broker's numeric scale where
// lower means higher priority — identical to beanstalkd's convention.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

var numericPriority = map[string]int{
	PriorityHigh:   0,
	PriorityNormal: 100,
	PriorityLow:    1000,
}

// tubeForKind maps a jobcodec.Kind to its default tube name. Parse jobs
// fan out further by task type (see TubeForTask) since each task type is
// its own independently-scaled worker pool.
var tubeForKind = map[jobcodec.Kind]string{
	jobcodec.KindCrawl: "crawler_crawl_jobs",
}

// TubeForTask returns the tube name a parser task type is dispatched to.
// One tube per task type lets the Supervisor scale worker pools
// independently per extraction kind.
func TubeForTask(taskType string) string {
	return "crawler_htmlparser_" + taskType + "_tube"
}

// MaxAttempts bounds both retry counters, each on its own path: Retry and
// Fail bury once the payload's retry count would exceed it, and FailCrawl
// (the Crawl Dispatcher's policy) buries once the broker's release count
// (Reserved.Releases) has reached it.
const MaxAttempts = 3

const maxRetries = MaxAttempts

// ResolvePriority turns a symbolic or already-numeric priority into the
// broker's numeric scale, defaulting to normal for anything unrecognized.
func ResolvePriority(priority string) int {
	if p, ok := numericPriority[priority]; ok {
		return p
	}
	return numericPriority[PriorityNormal]
}

// Manager is the queue operations façade used by schedulers, dispatchers,
// and the fan-out layer.
type Manager struct {
	client broker.Client
	logger arbor.ILogger
}

// New builds a Manager over an already-open broker client.
func New(client broker.Client, logger arbor.ILogger) *Manager {
	return &Manager{client: client, logger: logger}
}

// Reserved is a dequeued job paired with its decoded Record, kept together
// so Complete/Retry/Fail don't need the caller to re-derive the tube or
// broker id.
type Reserved struct {
	JobID  string
	Tube   string
	Record jobcodec.Record
	// Retries is how many times this logical job has previously been
	// retried, threaded through Record.Extra so it survives re-puts.
	Retries int
	// TTR is the broker's time-to-run lease for this job, read back from
	// the reserved broker.Job itself at dequeue time so the Crawl
	// Dispatcher can size its keep-alive interval off the job's own lease
	// rather than a guess.
	TTR time.Duration
	// Releases is the broker's authoritative release counter (see spec
	// Open Question on which retry counter is authoritative — the
	// Dispatcher uses this one, the Parser Runtime uses Retries).
	Releases int
}

const retriesExtraKey = "retries"

// DefaultTTR is used when a caller doesn't specify one; 5 minutes gives a
// parser worker plenty of headroom and is short enough that a crashed
// worker's job returns to ready quickly.
const DefaultTTR = 5 * time.Minute

// EnqueueCrawl puts a crawl record onto its tube at the given symbolic
// priority and TTR (DefaultTTR when ttr <= 0).
func (m *Manager) EnqueueCrawl(ctx context.Context, payload jobcodec.CrawlPayload, priority string, ttr time.Duration) (string, error) {
	rec, err := jobcodec.NewCrawlRecord(payload)
	if err != nil {
		return "", err
	}
	body, err := jobcodec.Encode(rec)
	if err != nil {
		return "", err
	}
	if ttr <= 0 {
		ttr = DefaultTTR
	}

	tube := tubeForKind[jobcodec.KindCrawl]
	id, err := m.client.Put(ctx, tube, ResolvePriority(priority), 0, ttr, body)
	if err != nil {
		return "", fmt.Errorf("queuemgr: enqueue crawl: %w", err)
	}
	if m.logger != nil {
		m.logger.Info().Msgf("enqueued crawl job %s to tube %s priority %s ttr %s", id, tube, priority, ttr)
	}
	return id, nil
}

// EnqueueParse puts a parse record onto the tube for its task type.
func (m *Manager) EnqueueParse(ctx context.Context, payload jobcodec.ParsePayload, priority string, ttr time.Duration) (string, error) {
	rec, err := jobcodec.NewParseRecord(payload)
	if err != nil {
		return "", err
	}
	body, err := jobcodec.Encode(rec)
	if err != nil {
		return "", err
	}
	if ttr <= 0 {
		ttr = DefaultTTR
	}

	tube := TubeForTask(payload.TaskType)
	id, err := m.client.Put(ctx, tube, ResolvePriority(priority), 0, ttr, body)
	if err != nil {
		return "", fmt.Errorf("queuemgr: enqueue parse: %w", err)
	}
	return id, nil
}

// Dequeue reserves the next ready job from any of the given tubes and
// decodes its record.
func (m *Manager) Dequeue(ctx context.Context, tubes []string, timeout time.Duration) (*Reserved, error) {
	job, err := m.client.Reserve(ctx, tubes, timeout)
	if err != nil {
		return nil, err
	}

	rec, err := jobcodec.Decode(job.Body)
	if err != nil {
		// Malformed body: bury rather than let it loop forever.
		if buryErr := m.client.Bury(ctx, job.ID); buryErr != nil && m.logger != nil {
			m.logger.Error().Err(buryErr).Msg("failed burying malformed job")
		}
		return nil, fmt.Errorf("queuemgr: decode reserved job %s: %w", job.ID, err)
	}

	retries := 0
	if v, ok := rec.Extra[retriesExtraKey].(float64); ok {
		retries = int(v)
	}

	return &Reserved{
		JobID:    job.ID,
		Tube:     job.Tube,
		Record:   rec,
		Retries:  retries,
		TTR:      job.TTR,
		Releases: job.Releases,
	}, nil
}

// Touch extends a reserved job's lease, used by the Crawl Dispatcher's
// keep-alive task to hold a long-running crawl's reservation past its
// original TTR.
func (m *Manager) Touch(ctx context.Context, jobID string, ttr time.Duration) error {
	return m.client.Touch(ctx, jobID, ttr)
}

// Complete deletes a finished job. For crawl jobs it also purges any
// zombie duplicate still sitting ready on the crawl tube for the same
// crawl id — a stale job left behind by a crash between put and delete.
func (m *Manager) Complete(ctx context.Context, r *Reserved) error {
	if err := m.client.Delete(ctx, r.JobID); err != nil {
		return fmt.Errorf("queuemgr: complete: %w", err)
	}
	if r.Record.Kind == jobcodec.KindCrawl && r.Record.Crawl != nil {
		m.purgeZombies(ctx, r.Record.Crawl.CrawlID)
	}
	return nil
}

func (m *Manager) purgeZombies(ctx context.Context, crawlID string) {
	tube := tubeForKind[jobcodec.KindCrawl]
	for i := 0; i < 5; i++ {
		job, err := m.client.PeekReady(ctx, tube)
		if err != nil {
			return
		}
		rec, err := jobcodec.Decode(job.Body)
		if err != nil || rec.Crawl == nil || rec.Crawl.CrawlID != crawlID {
			return
		}
		if err := m.client.Delete(ctx, job.ID); err != nil {
			if m.logger != nil {
				m.logger.Warn().Err(err).Msgf("failed purging zombie job for crawl %s", crawlID)
			}
			return
		}
		if m.logger != nil {
			m.logger.Info().Msgf("purged zombie job %s for crawl %s", job.ID, crawlID)
		}
	}
}

// Retry releases a job back to its tube with an incremented retry count,
// burying it instead once maxRetries is exceeded.
func (m *Manager) Retry(ctx context.Context, r *Reserved, delay time.Duration) error {
	retries := r.Retries + 1
	if retries > maxRetries {
		if m.logger != nil {
			m.logger.Error().Msgf("job %s exceeded max retries (%d), burying", r.JobID, maxRetries)
		}
		return m.client.Bury(ctx, r.JobID)
	}

	if r.Record.Extra == nil {
		r.Record.Extra = make(map[string]any)
	}
	r.Record.Extra[retriesExtraKey] = retries

	body, err := jobcodec.Encode(r.Record)
	if err != nil {
		return fmt.Errorf("queuemgr: retry: re-encode: %w", err)
	}

	// broker.Client has no in-place body update, so the retry deletes the
	// job and puts a fresh one: the retried job gets a new broker id.
	if err := m.client.Delete(ctx, r.JobID); err != nil {
		return fmt.Errorf("queuemgr: retry: delete stale: %w", err)
	}
	ttr := r.TTR
	if ttr <= 0 {
		ttr = DefaultTTR
	}
	if _, err := m.client.Put(ctx, r.Tube, numericPriority[PriorityNormal], delay, ttr, body); err != nil {
		return fmt.Errorf("queuemgr: retry: re-put: %w", err)
	}
	return nil
}

// Fail marks a job permanently failed (buried) or schedules an
// exponential-backoff retry, matching the original admitter's
// min(30m, 5*2^retries) backoff curve.
func (m *Manager) Fail(ctx context.Context, r *Reserved, permanent bool) error {
	retries := r.Retries + 1
	if permanent || retries > maxRetries {
		if m.logger != nil {
			m.logger.Error().Msgf("job %s failed permanently, burying", r.JobID)
		}
		return m.client.Bury(ctx, r.JobID)
	}

	backoff := time.Duration(5) * time.Second * time.Duration(1<<uint(retries))
	if max := 30 * time.Minute; backoff > max {
		backoff = max
	}
	return m.Retry(ctx, r, backoff)
}

// FailCrawl applies the Crawl Dispatcher's engine-failure policy, driven
// by the broker's own release counter rather than the payload's retries
// field (spec Open Question: the source uses the broker's counter in the
// Dispatcher, the payload's counter in the Parser Runtime — see Retry/
// Fail above for the latter). releases < MaxAttempts releases the job
// back to its tube with the given delay; releases >= MaxAttempts buries
// it instead, matching spec.md §4.7 step 7 exactly.
func (m *Manager) FailCrawl(ctx context.Context, r *Reserved, delay time.Duration) error {
	if r.Releases >= MaxAttempts {
		if m.logger != nil {
			m.logger.Error().Msgf("crawl job %s exceeded max releases (%d), burying", r.JobID, MaxAttempts)
		}
		return m.client.Bury(ctx, r.JobID)
	}
	if err := m.client.Release(ctx, r.JobID, numericPriority[PriorityNormal], delay); err != nil {
		return fmt.Errorf("queuemgr: fail crawl: release: %w", err)
	}
	return nil
}

// TubeStats reports per-tube counts for the given tubes, for the
// Ingestion Scheduler's capacity calculation and any operator status
// surface.
func (m *Manager) TubeStats(ctx context.Context, tubes []string) (map[string]broker.TubeStats, error) {
	out := make(map[string]broker.TubeStats, len(tubes))
	for _, tube := range tubes {
		stats, err := m.client.StatsTube(ctx, tube)
		if err != nil {
			return nil, fmt.Errorf("queuemgr: stats: %w", err)
		}
		out[tube] = stats
	}
	return out, nil
}

// CrawlTube is the single tube all crawl jobs share.
func CrawlTube() string { return tubeForKind[jobcodec.KindCrawl] }
