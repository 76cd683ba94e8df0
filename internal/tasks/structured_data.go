package tasks

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/quaero/internal/taskhandler"
)

// StructuredDataResult is the typed value StructuredDataHandler writes to
// TaskFields["structured_data"]: every decoded JSON-LD block found on the
// page, plus a count of microdata (itemscope) elements the handler
// detected but did not fully decode (microdata's attribute-spread format
// doesn't map cleanly onto a single JSON value the way JSON-LD does).
type StructuredDataResult struct {
	JSONLD         []map[string]any `json:"json_ld"`
	MicrodataCount int              `json:"microdata_count"`
}

// StructuredDataHandler extracts <script type="application/ld+json">
// blocks and counts microdata (itemscope) elements.
type StructuredDataHandler struct{}

func (h *StructuredDataHandler) FieldName() string { return "structured_data" }

func (h *StructuredDataHandler) Extract(_ context.Context, html []byte, _ taskhandler.Context) (any, error) {
	doc, err := parseHTML(html)
	if err != nil {
		return nil, &taskhandler.NonRetryableError{Err: err}
	}

	var blocks []map[string]any
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		var single map[string]any
		if err := json.Unmarshal([]byte(raw), &single); err == nil {
			blocks = append(blocks, single)
			return
		}
		// A top-level JSON-LD array is also legal; flatten it into blocks.
		var list []map[string]any
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			blocks = append(blocks, list...)
		}
	})

	microdataCount := doc.Find(`[itemscope]`).Length()

	if len(blocks) == 0 && microdataCount == 0 {
		return nil, &taskhandler.SkipError{Reason: "no structured data found"}
	}
	return StructuredDataResult{JSONLD: blocks, MicrodataCount: microdataCount}, nil
}
