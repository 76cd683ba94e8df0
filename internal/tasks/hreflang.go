package tasks

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/quaero/internal/taskhandler"
)

// HreflangEntry is one <link rel="alternate" hreflang="..."> pair.
type HreflangEntry struct {
	Lang string `json:"lang"`
	URL  string `json:"url"`
}

// HreflangHandler extracts every alternate-language link tag on the page.
type HreflangHandler struct{}

func (h *HreflangHandler) FieldName() string { return "hreflang_data" }

func (h *HreflangHandler) Extract(_ context.Context, html []byte, _ taskhandler.Context) (any, error) {
	doc, err := parseHTML(html)
	if err != nil {
		return nil, &taskhandler.NonRetryableError{Err: err}
	}

	var entries []HreflangEntry
	doc.Find(`link[rel="alternate"][hreflang]`).Each(func(_ int, s *goquery.Selection) {
		lang, _ := s.Attr("hreflang")
		href, exists := s.Attr("href")
		if !exists || strings.TrimSpace(href) == "" {
			return
		}
		entries = append(entries, HreflangEntry{Lang: strings.TrimSpace(lang), URL: strings.TrimSpace(href)})
	})

	if len(entries) == 0 {
		return nil, &taskhandler.SkipError{Reason: "no hreflang alternates found"}
	}
	return entries, nil
}
