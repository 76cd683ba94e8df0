package tasks

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/quaero/internal/taskhandler"
)

// MobileData is the typed value MobileHandler writes to
// TaskFields["mobile_data"]: the page's mobile-friendliness signals.
type MobileData struct {
	HasViewportMeta bool   `json:"has_viewport_meta"`
	ViewportContent string `json:"viewport_content,omitempty"`
	HasMediaQueries bool   `json:"has_media_queries_hint"` // inline <style> referencing @media
}

// MobileHandler detects the viewport meta tag and a cheap inline-CSS
// media-query hint, the two signals the original's mobile-friendliness
// check relied on without a full rendering pass.
type MobileHandler struct{}

func (h *MobileHandler) FieldName() string { return "mobile_data" }

func (h *MobileHandler) Extract(_ context.Context, html []byte, _ taskhandler.Context) (any, error) {
	doc, err := parseHTML(html)
	if err != nil {
		return nil, &taskhandler.NonRetryableError{Err: err}
	}

	content, hasViewport := doc.Find(`meta[name="viewport"]`).First().Attr("content")

	hasMediaQuery := false
	doc.Find("style").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), "@media") {
			hasMediaQuery = true
			return false
		}
		return true
	})

	return MobileData{
		HasViewportMeta: hasViewport,
		ViewportContent: strings.TrimSpace(content),
		HasMediaQueries: hasMediaQuery,
	}, nil
}
