package tasks

import (
	"context"
	"net/url"
	"strings"

	"github.com/ternarybob/quaero/internal/taskhandler"
)

// CanonicalData is the typed value CanonicalHandler writes to
// TaskFields["canonical_data"].
type CanonicalData struct {
	URL        string `json:"url"`
	IsSelf     bool   `json:"is_self"` // canonical resolves to the page's own URL
	IsRelative bool   `json:"is_relative"`
}

// CanonicalHandler extracts <link rel="canonical"> and resolves it
// against the page's own URL.
type CanonicalHandler struct{}

func (h *CanonicalHandler) FieldName() string { return "canonical_data" }

func (h *CanonicalHandler) Extract(_ context.Context, html []byte, docCtx taskhandler.Context) (any, error) {
	doc, err := parseHTML(html)
	if err != nil {
		return nil, &taskhandler.NonRetryableError{Err: err}
	}

	href, exists := doc.Find(`link[rel="canonical"]`).First().Attr("href")
	if !exists || strings.TrimSpace(href) == "" {
		return nil, &taskhandler.SkipError{Reason: "no canonical link element"}
	}
	href = strings.TrimSpace(href)

	resolved := href
	isRelative := false
	if base, err := url.Parse(docCtx.URL); err == nil {
		if ref, err := url.Parse(href); err == nil {
			if !ref.IsAbs() {
				isRelative = true
			}
			resolved = base.ResolveReference(ref).String()
		}
	}

	return CanonicalData{
		URL:        resolved,
		IsSelf:     resolved == docCtx.URL,
		IsRelative: isRelative,
	}, nil
}
