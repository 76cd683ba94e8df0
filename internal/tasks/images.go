package tasks

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/quaero/internal/taskhandler"
)

// ImageInfo is one <img> tag's extracted attributes.
type ImageInfo struct {
	Src      string `json:"src"`
	Alt      string `json:"alt"`
	Title    string `json:"title,omitempty"`
	HasAlt   bool   `json:"has_alt"`
	MissingA bool   `json:"missing_alt"`
}

// ImagesHandler extracts every <img> on the page, flagging ones missing
// alt text (a common on-page SEO signal).
type ImagesHandler struct{}

func (h *ImagesHandler) FieldName() string { return "images_data" }

func (h *ImagesHandler) Extract(_ context.Context, html []byte, _ taskhandler.Context) (any, error) {
	doc, err := parseHTML(html)
	if err != nil {
		return nil, &taskhandler.NonRetryableError{Err: err}
	}

	var images []ImageInfo
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, exists := s.Attr("src")
		if !exists || strings.TrimSpace(src) == "" {
			return
		}
		alt, hasAlt := s.Attr("alt")
		title, _ := s.Attr("title")
		images = append(images, ImageInfo{
			Src:      strings.TrimSpace(src),
			Alt:      alt,
			Title:    title,
			HasAlt:   hasAlt,
			MissingA: !hasAlt || strings.TrimSpace(alt) == "",
		})
	})

	if len(images) == 0 {
		return nil, &taskhandler.SkipError{Reason: "no images found"}
	}
	return images, nil
}
