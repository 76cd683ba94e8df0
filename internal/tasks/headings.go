package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/quaero/internal/taskhandler"
)

// HeadingsData is the typed value HeadingsHandler writes to
// TaskFields["headings_data"]: every h1-h6's text, in document order,
// bucketed by level.
type HeadingsData struct {
	H1 []string `json:"h1"`
	H2 []string `json:"h2"`
	H3 []string `json:"h3"`
	H4 []string `json:"h4"`
	H5 []string `json:"h5"`
	H6 []string `json:"h6"`
}

// HeadingsHandler extracts the page's heading structure.
type HeadingsHandler struct{}

func (h *HeadingsHandler) FieldName() string { return "headings_data" }

func (h *HeadingsHandler) Extract(_ context.Context, html []byte, _ taskhandler.Context) (any, error) {
	doc, err := parseHTML(html)
	if err != nil {
		return nil, &taskhandler.NonRetryableError{Err: err}
	}

	data := HeadingsData{}
	for level := 1; level <= 6; level++ {
		tag := fmt.Sprintf("h%d", level)
		var texts []string
		doc.Find(tag).Each(func(_ int, s *goquery.Selection) {
			if t := strings.TrimSpace(s.Text()); t != "" {
				texts = append(texts, t)
			}
		})
		switch level {
		case 1:
			data.H1 = texts
		case 2:
			data.H2 = texts
		case 3:
			data.H3 = texts
		case 4:
			data.H4 = texts
		case 5:
			data.H5 = texts
		case 6:
			data.H6 = texts
		}
	}

	if len(data.H1)+len(data.H2)+len(data.H3)+len(data.H4)+len(data.H5)+len(data.H6) == 0 {
		return nil, &taskhandler.SkipError{Reason: "no headings found"}
	}
	return data, nil
}
