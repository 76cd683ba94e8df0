package tasks

import (
	"context"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/quaero/internal/taskhandler"
)

// PageContentHandler converts the page body to markdown, the way the
// teacher's own html_scraper.go does for its transform pipeline
// (internal/services/crawler/html_scraper.go's convertContentToMarkdown).
// An extra typed field beyond the core analysis set, exercising a
// teacher dependency the fan-out can legitimately host: downstream
// consumers (e.g. an LLM summarizer) want markdown, not raw HTML.
type PageContentHandler struct{}

func (h *PageContentHandler) FieldName() string { return "content_markdown" }

func (h *PageContentHandler) Extract(_ context.Context, html []byte, docCtx taskhandler.Context) (any, error) {
	converter := md.NewConverter(docCtx.URL, true, nil)
	markdown, err := converter.ConvertString(string(html))
	if err != nil {
		return nil, &taskhandler.NonRetryableError{Err: err}
	}
	if markdown == "" {
		return nil, &taskhandler.SkipError{Reason: "empty markdown conversion"}
	}
	return markdown, nil
}
