package tasks

import (
	"context"
	"strings"

	"github.com/ternarybob/quaero/internal/taskhandler"
)

// PageTitleHandler extracts the document's <title> text, writing it to
// ParsedDocument.TaskFields["page_title"].
type PageTitleHandler struct{}

func (h *PageTitleHandler) FieldName() string { return "page_title" }

func (h *PageTitleHandler) Extract(_ context.Context, html []byte, _ taskhandler.Context) (any, error) {
	doc, err := parseHTML(html)
	if err != nil {
		return nil, &taskhandler.NonRetryableError{Err: err}
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		return nil, &taskhandler.SkipError{Reason: "no title element"}
	}
	return title, nil
}
