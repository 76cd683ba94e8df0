// Package models defines the persisted record shapes shared by every
// component of the crawl/parse pipeline: the crawl-job lifecycle record,
// the parsed-document fan-out target, and the source-domain admission
// record the Scheduler drives.
package models

import "time"

// CrawlStatus is the lifecycle state of a CrawlJob.
type CrawlStatus string

const (
	CrawlStatusFresh           CrawlStatus = "fresh"
	CrawlStatusCrawling        CrawlStatus = "crawling"
	CrawlStatusCompleted       CrawlStatus = "completed"
	CrawlStatusFailed          CrawlStatus = "failed"
	CrawlStatusFailedException CrawlStatus = "failed_exception"
)

// CrawlJobData is the original submission payload. Domain or URL must be
// set (enforced by the codec, not here); the rest snapshot the scheduler's
// or ad-hoc submitter's intent at enqueue time.
type CrawlJobData struct {
	Domain     string                 `json:"domain,omitempty"`
	URL        string                 `json:"url,omitempty"`
	MaxPages   int                    `json:"max_pages"`
	SingleURL  bool                   `json:"single_url"`
	UseSitemap bool                   `json:"use_sitemap"`
	CycleID    string                 `json:"cycle_id,omitempty"`
	ProjectID  string                 `json:"project_id,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
}

// CrawlStats are the counters of one crawl run, stored in the crawl_stats
// subtree. The Dispatcher sets StartedAt when the run begins and fills the
// rest from the engine's Result when the run ends; they are not updated
// while the engine runs.
type CrawlStats struct {
	PagesCrawled     int            `json:"pages_crawled"`
	SkippedURLs      int            `json:"skipped_urls"`
	StatusCodes      map[string]int `json:"status_codes,omitempty"`
	JSRenderDomains  []string       `json:"js_render_domains,omitempty"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	EndedAt          *time.Time     `json:"ended_at,omitempty"`
}

// CrawlJob is the State Store record tracking one logical crawl across
// retries. crawl_id is stable for the life of the job; job_id is
// rewritten every time the job is re-enqueued on the broker.
type CrawlJob struct {
	CrawlID string `json:"crawl_id" badgerhold:"key"`
	JobID   string `json:"job_id"`
	// Domain mirrors JobData.Domain at the top level: badgerhold indexes
	// and queries top-level fields only, so the duplicate lookup check
	// needs it promoted out of the nested payload.
	Domain     string       `json:"domain,omitempty" badgerhold:"index"`
	JobData    CrawlJobData `json:"job_data"`
	Status     CrawlStatus  `json:"crawl_status" badgerhold:"index"`
	CrawlStats CrawlStats   `json:"crawl_stats"`

	// Output captured from the most recent dispatch attempt.
	Stdout string  `json:"stdout,omitempty"`
	Stderr string  `json:"stderr,omitempty"`
	Error  string  `json:"crawl_errors,omitempty"`
	Errors []string `json:"crawl_errors_list,omitempty"`

	CreatedAt time.Time `json:"created_at" badgerhold:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCrawlJob creates a fresh CrawlJob record for a just-submitted job.
func NewCrawlJob(crawlID string, data CrawlJobData) *CrawlJob {
	now := time.Now()
	return &CrawlJob{
		CrawlID:   crawlID,
		Domain:    data.Domain,
		JobData:   data,
		Status:    CrawlStatusFresh,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive reports whether the job is still in flight — used by the
// dedup check on duplicate (domain, url) submissions.
func (c *CrawlJob) IsActive() bool {
	switch c.Status {
	case CrawlStatusFresh, CrawlStatusCrawling:
		return true
	default:
		return false
	}
}
