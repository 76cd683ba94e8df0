package models

import "time"

// SourceDomainStatus tracks a candidate domain through admission.
type SourceDomainStatus string

const (
	SourceDomainNew               SourceDomainStatus = "new"
	SourceDomainPendingSubmission SourceDomainStatus = "pending_submission"
	SourceDomainSubmitted         SourceDomainStatus = "submitted_to_crawler"
)

// SourceDomain is the upstream admission record the Ingestion Scheduler
// reads and transitions. It is an external collaborator's collection in
// spec terms, but the Scheduler owns the status transitions, so the type
// lives alongside the rest of the State Store records.
type SourceDomain struct {
	ID     string             `json:"_id" badgerhold:"key"`
	Domain string             `json:"domain" badgerhold:"index"`
	URL    string             `json:"url,omitempty"`
	Status SourceDomainStatus `json:"status" badgerhold:"index"`

	MaxPages   int  `json:"max_pages,omitempty"`
	SingleURL  bool `json:"single_url,omitempty"`
	UseSitemap bool `json:"use_sitemap,omitempty"`

	CycleID   string `json:"cycle_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`

	// Params carries arbitrary custom submission fields that aren't part
	// of the standard set above; the Scheduler clones whichever of these
	// don't collide with the standard keys into the crawl payload.
	Params map[string]interface{} `json:"params,omitempty"`

	CrawlID string `json:"crawl_id,omitempty"` // set once submitted_to_crawler
	Error   string `json:"error,omitempty"`     // set when a submission attempt reverts

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
