// Package taskhandler defines the pluggable capability each per-page
// analysis task implements, and the registry the Parser Worker Runtime
// resolves a task type against at startup. This replaces the reflection-
// or dynamic-import-based dispatch a scripting-language implementation
// would reach for: new task types register a Handler value once, at
// process init, and the runtime never does string-keyed module loading
// at request time.
package taskhandler

import (
	"context"
	"fmt"
)

// Context carries the per-page identifiers a Handler needs beyond the raw
// HTML bytes — enough to resolve relative URLs or log against, without
// handing the handler the whole ParsedDocument.
type Context struct {
	DocumentID string
	CrawlID    string
	URL        string
	Domain     string
}

// Handler is one task type's extraction logic. Extract returns the typed
// value to upsert under FieldName(), or an error the runtime classifies
// via RetryableError/NonRetryableError/SkipError (see outcome.go) into
// an Ok/Retry/Fail/Skip result.
type Handler interface {
	// Extract computes this task's typed analysis result from a page's raw
	// HTML. The returned value is stored in ParsedDocument.TaskFields under
	// FieldName().
	Extract(ctx context.Context, html []byte, docCtx Context) (any, error)
	// FieldName is the ParsedDocument.TaskFields key this handler writes,
	// e.g. "page_title", "headings_data", "canonical_data".
	FieldName() string
}

// Registry maps task_type strings (as carried on jobcodec.ParsePayload) to
// their Handler implementation. One process-wide Registry is built at
// startup and handed to every Parser Worker Runtime instance; instances
// for different task types share the Registry but each only ever looks up
// its own configured type.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry ready for Register calls.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a Handler under taskType, overwriting any prior
// registration for the same type (tests frequently swap in a fake).
func (r *Registry) Register(taskType string, h Handler) {
	r.handlers[taskType] = h
}

// Get resolves a task type to its Handler. ok is false for an unconfigured
// task type; the cmd entrypoints then log a warning and start no workers
// for it.
func (r *Registry) Get(taskType string) (Handler, bool) {
	h, ok := r.handlers[taskType]
	return h, ok
}

// TaskTypes lists every registered task type, in registration order is not
// guaranteed — callers that need a stable fan-out order should keep their
// own ordered list (see fanout.Config.Tasks) and use Registry only to
// resolve handlers, not to enumerate them.
func (r *Registry) TaskTypes() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// ErrUnknownTaskType builds the error for a task type with no registered
// Handler. No caller in this repo uses it.
func ErrUnknownTaskType(taskType string) error {
	return fmt.Errorf("taskhandler: no handler registered for task type %q", taskType)
}
