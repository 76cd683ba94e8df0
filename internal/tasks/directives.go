package tasks

import (
	"context"
	"strings"

	"github.com/ternarybob/quaero/internal/taskhandler"
)

// DirectivesData is the typed value DirectivesHandler writes to
// TaskFields["directives_data"]: the page-level indexing directives a
// crawler must honor, parsed from <meta name="robots">.
type DirectivesData struct {
	Raw        string `json:"raw"`
	NoIndex    bool   `json:"noindex"`
	NoFollow   bool   `json:"nofollow"`
	NoArchive  bool   `json:"noarchive"`
	NoSnippet  bool   `json:"nosnippet"`
}

// DirectivesHandler extracts <meta name="robots" content="...">. HTTP-
// header-level X-Robots-Tag directives are out of scope here — this
// handler only sees the persisted HTML body, not the response headers.
type DirectivesHandler struct{}

func (h *DirectivesHandler) FieldName() string { return "directives_data" }

func (h *DirectivesHandler) Extract(_ context.Context, html []byte, _ taskhandler.Context) (any, error) {
	doc, err := parseHTML(html)
	if err != nil {
		return nil, &taskhandler.NonRetryableError{Err: err}
	}

	content, exists := doc.Find(`meta[name="robots"]`).First().Attr("content")
	if !exists || strings.TrimSpace(content) == "" {
		return nil, &taskhandler.SkipError{Reason: "no robots meta tag"}
	}

	lower := strings.ToLower(content)
	return DirectivesData{
		Raw:       strings.TrimSpace(content),
		NoIndex:   strings.Contains(lower, "noindex"),
		NoFollow:  strings.Contains(lower, "nofollow"),
		NoArchive: strings.Contains(lower, "noarchive"),
		NoSnippet: strings.Contains(lower, "nosnippet"),
	}, nil
}
