// Package jobcodec defines the self-describing, versioned job record that
// travels through the broker's tubes. It is the only structure the queue
// client itself understands; everything kind-specific lives inside Record
// and is validated at Decode time, not by the broker.
package jobcodec

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies which tube family a Record belongs to and which fields
// are required on it.
type Kind string

const (
	KindCrawl Kind = "crawl"
	KindParse Kind = "parse"
)

// CodecVersion is bumped whenever a required field is added to a Kind.
// Older records without a Meta.Version are treated as version 1.
const CodecVersion = 1

// Meta carries codec bookkeeping that isn't part of any job's business
// fields, so kind-specific validation never has to special-case it.
type Meta struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is the tagged union enqueued on every tube. Exactly one of the
// kind-specific blocks is populated, selected by Kind. Extra holds any
// field a future codec version adds that this binary doesn't know about
// yet, so round-tripping an unrecognized field through Encode/Decode never
// silently drops it.
type Record struct {
	Kind Kind `json:"kind"`
	Meta Meta `json:"meta"`

	Crawl *CrawlPayload `json:"crawl,omitempty"`
	Parse *ParsePayload `json:"parse,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// CrawlPayload is the body of a KindCrawl record. Either Domain or URL must
// be set; SingleURL implies a one-page crawl regardless of MaxPages.
type CrawlPayload struct {
	CrawlID    string         `json:"crawl_id"`
	Domain     string         `json:"domain,omitempty"`
	URL        string         `json:"url,omitempty"`
	MaxPages   int            `json:"max_pages"`
	SingleURL  bool           `json:"single_url"`
	UseSitemap bool           `json:"use_sitemap"`
	CycleID    string         `json:"cycle_id,omitempty"`
	ProjectID  string         `json:"project_id,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

// ParsePayload is the body of a KindParse record: one task type's work
// against one already-crawled document.
type ParsePayload struct {
	DocumentID   string `json:"document_id"`
	CrawlID      string `json:"crawl_id"`
	URL          string `json:"url"`
	Domain       string `json:"domain"`
	HTMLFilePath string `json:"html_file_path"`
	TaskType     string `json:"task_type"`
}

// NewCrawlRecord builds a validated KindCrawl record ready to enqueue.
func NewCrawlRecord(payload CrawlPayload) (Record, error) {
	rec := Record{
		Kind:  KindCrawl,
		Meta:  Meta{Version: CodecVersion, CreatedAt: time.Now()},
		Crawl: &payload,
	}
	return rec, rec.Validate()
}

// NewParseRecord builds a validated KindParse record ready to enqueue.
func NewParseRecord(payload ParsePayload) (Record, error) {
	rec := Record{
		Kind:  KindParse,
		Meta:  Meta{Version: CodecVersion, CreatedAt: time.Now()},
		Parse: &payload,
	}
	return rec, rec.Validate()
}

// Encode serializes a Record to the bytes a broker job body stores.
func Encode(rec Record) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

// Decode parses a broker job body back into a Record and validates it.
// Unknown top-level fields are preserved in Extra by a second pass rather
// than rejected, so a producer running a newer codec version never breaks
// an older consumer.
func Decode(body []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return Record{}, fmt.Errorf("jobcodec: decode: %w", err)
	}
	if rec.Meta.Version == 0 {
		rec.Meta.Version = 1
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err == nil {
		known := map[string]bool{"kind": true, "meta": true, "crawl": true, "parse": true, "extra": true}
		for k, v := range raw {
			if known[k] {
				continue
			}
			if rec.Extra == nil {
				rec.Extra = make(map[string]any)
			}
			var val any
			if err := json.Unmarshal(v, &val); err == nil {
				rec.Extra[k] = val
			}
		}
	}

	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Validate enforces the per-kind required fields. It does not reach into
// Extra: unrecognized forward-compatible fields are never required.
func (r Record) Validate() error {
	switch r.Kind {
	case KindCrawl:
		if r.Crawl == nil {
			return fmt.Errorf("jobcodec: crawl record missing crawl payload")
		}
		if r.Crawl.CrawlID == "" {
			return fmt.Errorf("jobcodec: crawl record missing crawl_id")
		}
		if r.Crawl.Domain == "" && r.Crawl.URL == "" {
			return fmt.Errorf("jobcodec: crawl record requires domain or url")
		}
	case KindParse:
		if r.Parse == nil {
			return fmt.Errorf("jobcodec: parse record missing parse payload")
		}
		if r.Parse.DocumentID == "" {
			return fmt.Errorf("jobcodec: parse record missing document_id")
		}
		if r.Parse.TaskType == "" {
			return fmt.Errorf("jobcodec: parse record missing task_type")
		}
		if r.Parse.HTMLFilePath == "" {
			return fmt.Errorf("jobcodec: parse record missing html_file_path")
		}
	default:
		return fmt.Errorf("jobcodec: unknown kind %q", r.Kind)
	}
	return nil
}
