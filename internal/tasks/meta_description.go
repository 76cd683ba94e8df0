package tasks

import (
	"context"
	"strings"

	"github.com/ternarybob/quaero/internal/taskhandler"
)

// MetaDescriptionHandler extracts <meta name="description" content="...">.
type MetaDescriptionHandler struct{}

func (h *MetaDescriptionHandler) FieldName() string { return "meta_description" }

func (h *MetaDescriptionHandler) Extract(_ context.Context, html []byte, _ taskhandler.Context) (any, error) {
	doc, err := parseHTML(html)
	if err != nil {
		return nil, &taskhandler.NonRetryableError{Err: err}
	}
	content, exists := doc.Find(`meta[name="description"]`).First().Attr("content")
	if !exists || strings.TrimSpace(content) == "" {
		return nil, &taskhandler.SkipError{Reason: "no meta description"}
	}
	return strings.TrimSpace(content), nil
}
