// Package statestore is the document-DB-style CRUD layer over the three
// lifecycle records every component shares: CrawlJob, ParsedDocument, and
// SourceDomain. It wraps badgerhold with a bounded retry on Badger's
// transaction-conflict error, the one transient failure an Upsert/Update
// can hit under concurrent writers.
package statestore

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/quaero/internal/models"
)

const (
	maxRetryAttempts = 3
	retryBaseDelay   = 20 * time.Millisecond
)

// Store is the shared CRUD surface over a badgerhold.Store. All three
// record types live in the same store since badgerhold keys by Go type
// under the hood, matching the teacher's one-store-many-collections
// layout.
type Store struct {
	db *badgerhold.Store
}

// New wraps an already-open badgerhold store.
func New(db *badgerhold.Store) *Store {
	return &Store{db: db}
}

// withRetry retries fn up to maxRetryAttempts times on Badger's
// transaction-conflict error, with linear backoff. Any other error is
// returned immediately — only ErrConflict is a transient condition worth
// retrying blind.
func withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(retryBaseDelay * time.Duration(attempt+1))
	}
	return err
}

// --- CrawlJob ---

func (s *Store) SaveCrawlJob(job *models.CrawlJob) error {
	if job.CrawlID == "" {
		return fmt.Errorf("statestore: crawl job id is required")
	}
	job.UpdatedAt = time.Now()
	return withRetry(func() error {
		return s.db.Upsert(job.CrawlID, job)
	})
}

func (s *Store) GetCrawlJob(crawlID string) (*models.CrawlJob, error) {
	var job models.CrawlJob
	if err := s.db.Get(crawlID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("statestore: crawl job not found: %s", crawlID)
		}
		return nil, fmt.Errorf("statestore: get crawl job: %w", err)
	}
	return &job, nil
}

// FindActiveCrawlJobsForDomain supports the duplicate-submission check:
// a domain already mid-crawl should not be re-admitted.
func (s *Store) FindActiveCrawlJobsForDomain(domain string) ([]*models.CrawlJob, error) {
	var jobs []models.CrawlJob
	err := s.db.Find(&jobs, badgerhold.Where("Domain").Eq(domain).
		And("Status").In(models.CrawlStatusFresh, models.CrawlStatusCrawling))
	if err != nil {
		return nil, fmt.Errorf("statestore: find active crawl jobs: %w", err)
	}
	out := make([]*models.CrawlJob, len(jobs))
	for i := range jobs {
		out[i] = &jobs[i]
	}
	return out, nil
}

// ListCrawlJobsByStatus mirrors the (status, created_at) secondary index
// the data model declares, returned oldest-first.
func (s *Store) ListCrawlJobsByStatus(status models.CrawlStatus, limit int) ([]*models.CrawlJob, error) {
	query := badgerhold.Where("Status").Eq(status).SortBy("CreatedAt")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var jobs []models.CrawlJob
	if err := s.db.Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("statestore: list crawl jobs: %w", err)
	}
	out := make([]*models.CrawlJob, len(jobs))
	for i := range jobs {
		out[i] = &jobs[i]
	}
	return out, nil
}

// --- ParsedDocument ---

func (s *Store) SaveParsedDocument(doc *models.ParsedDocument) error {
	if doc.ID == "" {
		return fmt.Errorf("statestore: parsed document id is required")
	}
	doc.LastUpdatedAt = time.Now()
	return withRetry(func() error {
		return s.db.Upsert(doc.ID, doc)
	})
}

func (s *Store) GetParsedDocument(id string) (*models.ParsedDocument, error) {
	var doc models.ParsedDocument
	if err := s.db.Get(id, &doc); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("statestore: parsed document not found: %s", id)
		}
		return nil, fmt.Errorf("statestore: get parsed document: %w", err)
	}
	return &doc, nil
}

// UpdateParsedDocumentTaskField retries the read-modify-write loop that
// sets a single task's field, so concurrent parser workers for different
// task types on the same document never clobber each other's writes.
func (s *Store) UpdateParsedDocumentTaskField(id, taskType string, value interface{}) error {
	return withRetry(func() error {
		var doc models.ParsedDocument
		if err := s.db.Get(id, &doc); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("statestore: parsed document not found: %s", id)
			}
			return err
		}
		doc.SetTaskField(taskType, value)
		return s.db.Update(id, &doc)
	})
}

func (s *Store) ListParsedDocumentsByCrawl(crawlID string) ([]*models.ParsedDocument, error) {
	var docs []models.ParsedDocument
	if err := s.db.Find(&docs, badgerhold.Where("CrawlID").Eq(crawlID)); err != nil {
		return nil, fmt.Errorf("statestore: list parsed documents: %w", err)
	}
	out := make([]*models.ParsedDocument, len(docs))
	for i := range docs {
		out[i] = &docs[i]
	}
	return out, nil
}

// --- SourceDomain ---

func (s *Store) SaveSourceDomain(sd *models.SourceDomain) error {
	if sd.ID == "" {
		return fmt.Errorf("statestore: source domain id is required")
	}
	sd.UpdatedAt = time.Now()
	return withRetry(func() error {
		return s.db.Upsert(sd.ID, sd)
	})
}

func (s *Store) GetSourceDomain(id string) (*models.SourceDomain, error) {
	var sd models.SourceDomain
	if err := s.db.Get(id, &sd); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("statestore: source domain not found: %s", id)
		}
		return nil, fmt.Errorf("statestore: get source domain: %w", err)
	}
	return &sd, nil
}

func (s *Store) ListSourceDomainsByStatus(status models.SourceDomainStatus, limit int) ([]*models.SourceDomain, error) {
	query := badgerhold.Where("Status").Eq(string(status))
	if limit > 0 {
		query = query.Limit(limit)
	}
	var docs []models.SourceDomain
	if err := s.db.Find(&docs, query); err != nil {
		return nil, fmt.Errorf("statestore: list source domains: %w", err)
	}
	out := make([]*models.SourceDomain, len(docs))
	for i := range docs {
		out[i] = &docs[i]
	}
	return out, nil
}

// TransitionSourceDomain performs the scheduler's optimistic-lock
// admission step: it only applies the transition if the record is still
// in fromStatus, so two scheduler instances racing on the same domain
// can't both submit it. The read, status check, and write all happen
// inside one Badger transaction (via TxGet/TxUpdate) rather than as two
// separate round trips, so a concurrent writer committing between our
// read and write conflicts Badger's commit instead of silently racing
// past our stale in-memory check; withRetry re-runs the whole
// transaction from scratch on that conflict. Returns false, nil (not an
// error) if another writer already moved it.
func (s *Store) TransitionSourceDomain(id string, fromStatus, toStatus models.SourceDomainStatus, mutate func(*models.SourceDomain)) (bool, error) {
	var applied bool
	err := withRetry(func() error {
		applied = false
		return s.db.Badger().Update(func(txn *badger.Txn) error {
			var sd models.SourceDomain
			if err := s.db.TxGet(txn, id, &sd); err != nil {
				if errors.Is(err, badgerhold.ErrNotFound) {
					return fmt.Errorf("statestore: source domain not found: %s", id)
				}
				return err
			}
			if sd.Status != fromStatus {
				return nil
			}
			sd.Status = toStatus
			sd.UpdatedAt = time.Now()
			if mutate != nil {
				mutate(&sd)
			}
			if err := s.db.TxUpdate(txn, id, &sd); err != nil {
				return err
			}
			applied = true
			return nil
		})
	})
	return applied, err
}
