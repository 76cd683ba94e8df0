package tasks

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/quaero/internal/taskhandler"
)

// LinksData is the typed value LinksHandler writes to
// TaskFields["links_data"]: every <a href> on the page, partitioned by
// whether it resolves to the page's own domain.
type LinksData struct {
	Internal []string `json:"internal"`
	External []string `json:"external"`
	Total    int      `json:"total"`
}

// LinksHandler extracts and classifies every outbound link on the page.
type LinksHandler struct{}

func (h *LinksHandler) FieldName() string { return "links_data" }

func (h *LinksHandler) Extract(_ context.Context, html []byte, docCtx taskhandler.Context) (any, error) {
	doc, err := parseHTML(html)
	if err != nil {
		return nil, &taskhandler.NonRetryableError{Err: err}
	}

	base, _ := url.Parse(docCtx.URL)

	var internal, external []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return
		}

		resolved := href
		host := ""
		if ref, err := url.Parse(href); err == nil {
			if base != nil {
				resolved = base.ResolveReference(ref).String()
				if ref.IsAbs() {
					host = ref.Host
				} else {
					host = base.Host
				}
			} else if ref.IsAbs() {
				host = ref.Host
			}
		}

		if seen[resolved] {
			return
		}
		seen[resolved] = true

		if host != "" && strings.EqualFold(strings.TrimPrefix(host, "www."), strings.TrimPrefix(docCtx.Domain, "www.")) {
			internal = append(internal, resolved)
		} else {
			external = append(external, resolved)
		}
	})

	total := len(internal) + len(external)
	if total == 0 {
		return nil, &taskhandler.SkipError{Reason: "no links found"}
	}
	return LinksData{Internal: internal, External: external, Total: total}, nil
}
