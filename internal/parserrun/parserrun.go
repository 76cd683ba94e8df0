// Package parserrun is the Parser Worker Runtime: a generic
// reserve/validate/dispatch/finalize loop, parameterized by tube name,
// task type, and a pluggable taskhandler.Handler, that upserts each
// task's typed extraction result into its ParsedDocument. Grounded on the
// teacher's queue.WorkerPool/JobHandler registry shape in
// internal/queue/worker.go, narrowed to one handler per Worker instance
// instead of a string-keyed handler map shared across job types.
package parserrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/contentstore"
	"github.com/ternarybob/quaero/internal/queuemgr"
	"github.com/ternarybob/quaero/internal/statestore"
	"github.com/ternarybob/quaero/internal/taskhandler"
)

// Config parameterizes one Worker instance.
type Config struct {
	TaskType       string
	ReserveTimeout time.Duration
}

// Worker is one Parser Worker Runtime instance, bound to a single task
// type. Concurrency comes from running N independent Workers per task
// type; each instance here is a single-threaded reserve/process loop
// with no parallel sub-tasks.
type Worker struct {
	cfg     Config
	queue   *queuemgr.Manager
	store   *statestore.Store
	content *contentstore.Store
	handler taskhandler.Handler
	logger  arbor.ILogger

	shutdown chan struct{}
	stopOnce func()
}

// New builds a Worker for cfg.TaskType, bound to handler. handler.FieldName
// need not equal cfg.TaskType (e.g. "structured_data" task type writing a
// "structured_data" field is the common case, but the two namespaces are
// independent).
func New(cfg Config, queue *queuemgr.Manager, store *statestore.Store, content *contentstore.Store, handler taskhandler.Handler, logger arbor.ILogger) *Worker {
	if cfg.ReserveTimeout <= 0 {
		cfg.ReserveTimeout = 5 * time.Second
	}
	w := &Worker{cfg: cfg, queue: queue, store: store, content: content, handler: handler, logger: logger, shutdown: make(chan struct{})}
	var closed bool
	w.stopOnce = func() {
		if !closed {
			closed = true
			close(w.shutdown)
		}
	}
	return w
}

// Shutdown signals Run to exit after its current job is finalized.
func (w *Worker) Shutdown() { w.stopOnce() }

// Run is the reserve/validate/dispatch/finalize loop.
func (w *Worker) Run(ctx context.Context) error {
	tube := queuemgr.TubeForTask(w.cfg.TaskType)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.shutdown:
			return nil
		default:
		}

		reserved, err := w.queue.Dequeue(ctx, []string{tube}, w.cfg.ReserveTimeout)
		if err != nil {
			continue // timeout, or malformed body already buried by queuemgr
		}
		w.handle(ctx, reserved)
	}
}

// handle validates one reserved parse job, reads its HTML, delegates
// extraction to the configured handler, and upserts the result.
func (w *Worker) handle(ctx context.Context, reserved *queuemgr.Reserved) {
	payload := reserved.Record.Parse
	if payload == nil || payload.DocumentID == "" || payload.HTMLFilePath == "" || payload.TaskType != w.cfg.TaskType {
		w.logAndBury(ctx, reserved, "malformed or mismatched parse payload")
		return
	}

	if _, err := w.store.GetParsedDocument(payload.DocumentID); err != nil {
		// A parse job whose document_id is missing in the State Store is
		// buried, never released: retrying it can never succeed.
		w.logAndBury(ctx, reserved, "document_id not found in state store")
		return
	}

	html, readErr := w.readHTML(payload.HTMLFilePath)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			w.logAndBury(ctx, reserved, "html file does not exist")
			return
		}
		// Transient I/O error: retryable.
		if err := w.queue.Retry(ctx, reserved, 15*time.Second); err != nil && w.logger != nil {
			w.logger.Error().Err(err).Msg("parserrun: retry after transient read failure failed")
		}
		return
	}

	docCtx := taskhandler.Context{
		DocumentID: payload.DocumentID,
		CrawlID:    payload.CrawlID,
		URL:        payload.URL,
		Domain:     payload.Domain,
	}

	value, extractErr := w.handler.Extract(ctx, html, docCtx)
	outcome := taskhandler.Classify(extractErr)

	switch outcome {
	case taskhandler.Ok, taskhandler.Skip:
		if outcome == taskhandler.Ok {
			if err := w.store.UpdateParsedDocumentTaskField(payload.DocumentID, w.handler.FieldName(), value); err != nil {
				if w.logger != nil {
					w.logger.Error().Err(err).Str("document_id", payload.DocumentID).
						Str("task_type", w.cfg.TaskType).Msg("parserrun: upsert task field failed")
				}
				if err := w.queue.Retry(ctx, reserved, 15*time.Second); err != nil && w.logger != nil {
					w.logger.Error().Err(err).Msg("parserrun: retry after upsert failure failed")
				}
				return
			}
		}
		if err := w.queue.Complete(ctx, reserved); err != nil && w.logger != nil {
			w.logger.Error().Err(err).Msg("parserrun: complete failed")
		}
		if w.logger != nil {
			w.logger.Info().Str("document_id", payload.DocumentID).Str("task_type", w.cfg.TaskType).
				Str("outcome", outcome.String()).Msg("parserrun: job finished")
		}
	case taskhandler.Retry:
		if err := w.queue.Retry(ctx, reserved, 15*time.Second); err != nil && w.logger != nil {
			w.logger.Error().Err(err).Msg("parserrun: retry failed")
		}
		if w.logger != nil {
			w.logger.Warn().Err(extractErr).Str("document_id", payload.DocumentID).
				Str("task_type", w.cfg.TaskType).Msg("parserrun: retryable extraction error")
		}
	case taskhandler.Fail:
		w.logAndBury(ctx, reserved, fmt.Sprintf("non-retryable extraction error: %v", extractErr))
	}
}

func (w *Worker) readHTML(relPath string) ([]byte, error) {
	if w.content == nil {
		return nil, fmt.Errorf("parserrun: no content store configured")
	}
	return w.content.ReadPage(relPath)
}

func (w *Worker) logAndBury(ctx context.Context, reserved *queuemgr.Reserved, reason string) {
	if err := w.queue.Fail(ctx, reserved, true); err != nil && w.logger != nil {
		w.logger.Error().Err(err).Msg("parserrun: bury failed")
	}
	if w.logger != nil {
		w.logger.Warn().Str("job_id", reserved.JobID).Str("task_type", w.cfg.TaskType).
			Str("reason", reason).Msg("parserrun: job buried")
	}
}
