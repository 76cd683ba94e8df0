// Package fanout is the Fan-out Dispatcher: on each page the Crawl Engine
// persists, it seeds a ParsedDocument in the State Store and enqueues one
// parser job per configured task type into that task's dedicated tube.
// Grounded on the teacher's document_persister.go seed-then-notify shape,
// extended to the insert-then-fan-out-N-jobs contract.
package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/jobcodec"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/queuemgr"
	"github.com/ternarybob/quaero/internal/statestore"
)

// TaskConfig is one entry in the static task-type mapping: tube, priority,
// and TTR for a single parser task type. The tube itself is derived from
// TaskType by queuemgr.TubeForTask so every task type's worker pool scales
// independently.
type TaskConfig struct {
	TaskType string
	Priority string
	TTR      time.Duration
}

// Config is the static fan-out table a Dispatcher is built with.
type Config struct {
	Tasks []TaskConfig
}

// Item is one crawled page handed to the Fan-out Dispatcher by the Crawl
// Dispatcher, after the Content Store has already persisted its HTML and
// headers to disk.
type Item struct {
	URL             string
	Domain          string
	CrawlID         string
	StatusCode      int
	HTMLFilePath    string
	HeadersFilePath string
	ResponseHeaders map[string][]string
	// Custom carries any additional crawl-time fields (e.g. custom crawl
	// params) that should ride along on the ParsedDocument seed. Large
	// binary fields are dropped during sanitization regardless of what
	// the caller puts here.
	Custom map[string]interface{}
}

// Result reports what one Dispatch call did, for callers that want to
// log or assert on dispatch counts.
type Result struct {
	DocumentID         string
	JobsDispatched     int
	JobsFailedDispatch int
}

// Dispatcher is the Fan-out Dispatcher.
type Dispatcher struct {
	cfg    Config
	store  *statestore.Store
	queue  *queuemgr.Manager
	logger arbor.ILogger
}

// New builds a Dispatcher over its static task table and collaborators.
func New(cfg Config, store *statestore.Store, queue *queuemgr.Manager, logger arbor.ILogger) *Dispatcher {
	return &Dispatcher{cfg: cfg, store: store, queue: queue, logger: logger}
}

// Dispatch runs the fan-out sequence: sanitize, seed, fan out one parse
// job per task type, finalize dispatch counters. An insert failure
// at the seed step is fatal and returned; a per-task enqueue failure is
// counted and logged but never aborts the remaining task types, and the
// finalize step always runs so the counts are always recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, item Item) (Result, error) {
	custom := sanitizeCustom(item.Custom)

	doc := models.NewParsedDocument(uuid.New().String(), item.CrawlID, item.URL, item.Domain, item.HTMLFilePath, item.HeadersFilePath)
	doc.Custom = custom
	if item.StatusCode != 0 {
		if doc.Custom == nil {
			doc.Custom = make(map[string]interface{})
		}
		doc.Custom["status_code"] = item.StatusCode
	}

	if err := d.store.SaveParsedDocument(doc); err != nil {
		return Result{}, fmt.Errorf("fanout: insert parsed document seed: %w", err)
	}

	dispatched, failed := d.fanOutTasks(ctx, doc, item)

	doc.DispatchComplete(dispatched, failed)
	if err := d.store.SaveParsedDocument(doc); err != nil {
		return Result{}, fmt.Errorf("fanout: finalize dispatch counters: %w", err)
	}

	if d.logger != nil {
		d.logger.Info().Str("document_id", doc.ID).Str("crawl_id", item.CrawlID).
			Int("dispatched", dispatched).Int("failed", failed).Msg("fanout: dispatch complete")
	}

	return Result{DocumentID: doc.ID, JobsDispatched: dispatched, JobsFailedDispatch: failed}, nil
}

func (d *Dispatcher) fanOutTasks(ctx context.Context, doc *models.ParsedDocument, item Item) (dispatched, failed int) {
	for _, t := range d.cfg.Tasks {
		payload := jobcodec.ParsePayload{
			DocumentID:   doc.ID,
			CrawlID:      item.CrawlID,
			URL:          item.URL,
			Domain:       item.Domain,
			HTMLFilePath: item.HTMLFilePath,
			TaskType:     t.TaskType,
		}
		jobID, err := d.queue.EnqueueParse(ctx, payload, t.Priority, t.TTR)
		if err != nil {
			failed++
			if d.logger != nil {
				d.logger.Warn().Err(err).Str("document_id", doc.ID).Str("task_type", t.TaskType).
					Msg("fanout: enqueue parse job failed")
			}
			continue
		}
		dispatched++
		// Last writer wins: parser_job_id records the tail of the fan-out
		// rather than the full set of enqueued jobs, matching the
		// original's behavior.
		doc.ParserJobID = jobID
	}
	return dispatched, failed
}
