package models

import "time"

// ProcessingStatus tracks how far a ParsedDocument's fan-out has gotten.
type ProcessingStatus string

const (
	ProcessingPendingDispatch ProcessingStatus = "pending_dispatch"
	ProcessingDispatchComplete ProcessingStatus = "dispatch_complete"
	ProcessingPartial         ProcessingStatus = "partial"
	ProcessingComplete        ProcessingStatus = "complete"
)

// ParsedDocument is the seed record a Fan-out Dispatcher inserts for a
// single crawled page, and that every parser worker for that page's task
// types upserts into afterward. Each task owns a disjoint subtree
// (TaskFields[field] + CompletedAt[field], both keyed by the handler's
// FieldName) so concurrent writers never conflict.
type ParsedDocument struct {
	ID string `json:"_id" badgerhold:"key"`

	CrawlID         string `json:"crawl_id" badgerhold:"index"`
	URL             string `json:"url"`
	Domain          string `json:"domain" badgerhold:"index"`
	HTMLFilePath    string `json:"html_file_path"`
	HeadersFilePath string `json:"headers_file_path"`

	Status ProcessingStatus `json:"processing_status" badgerhold:"index"`

	ParserJobsDispatchedAt *time.Time `json:"parser_jobs_dispatched_at,omitempty"`
	JobsDispatchedTotal    int        `json:"jobs_dispatched_total"`
	JobsFailedDispatch     int        `json:"jobs_failed_dispatch"`
	// ParserJobID is the broker id of the last parser job enqueued for this
	// document. See spec Open Question: this may represent only the tail
	// of the fan-out rather than the full set; kept as a single field to
	// match that documented ambiguity rather than silently resolving it.
	ParserJobID string `json:"parser_job_id,omitempty"`

	// TaskFields holds each task's typed extraction result, keyed by the
	// handler's FieldName (e.g. "page_title", "headings_data", "canonical_data").
	TaskFields map[string]interface{} `json:"task_fields"`
	// CompletedAt records worker_completion_timestamps under the same
	// FieldName key as TaskFields, not under the task type.
	CompletedAt map[string]time.Time `json:"worker_completion_timestamps"`

	// Custom carries any extra sanitized fields the crawl item contained
	// that aren't part of the core schema (status code and the sanitized
	// custom crawl params; large binary fields such as response_headers
	// are dropped).
	Custom map[string]interface{} `json:"custom,omitempty"`

	InitialInsertAt time.Time `json:"initial_insert_at"`
	LastUpdatedAt   time.Time `json:"last_updated_at"`
}

// NewParsedDocument creates the seed record for a freshly persisted page.
func NewParsedDocument(id, crawlID, url, domain, htmlPath, headersPath string) *ParsedDocument {
	now := time.Now()
	return &ParsedDocument{
		ID:              id,
		CrawlID:         crawlID,
		URL:             url,
		Domain:          domain,
		HTMLFilePath:    htmlPath,
		HeadersFilePath: headersPath,
		Status:          ProcessingPendingDispatch,
		TaskFields:      make(map[string]interface{}),
		CompletedAt:     make(map[string]time.Time),
		InitialInsertAt: now,
		LastUpdatedAt:   now,
	}
}

// SetTaskField records one parser task's typed result and completion time.
func (d *ParsedDocument) SetTaskField(taskType string, value interface{}) {
	if d.TaskFields == nil {
		d.TaskFields = make(map[string]interface{})
	}
	if d.CompletedAt == nil {
		d.CompletedAt = make(map[string]time.Time)
	}
	d.TaskFields[taskType] = value
	d.CompletedAt[taskType] = time.Now()
	d.LastUpdatedAt = time.Now()
}

// DispatchComplete marks fan-out accounting once every configured task
// type has either been enqueued or counted as a failed enqueue.
func (d *ParsedDocument) DispatchComplete(dispatched, failed int) {
	now := time.Now()
	d.Status = ProcessingDispatchComplete
	d.JobsDispatchedTotal = dispatched
	d.JobsFailedDispatch = failed
	d.ParserJobsDispatchedAt = &now
	d.LastUpdatedAt = now
}
