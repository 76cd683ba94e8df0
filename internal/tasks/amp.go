package tasks

import (
	"context"
	"strings"

	"github.com/ternarybob/quaero/internal/taskhandler"
)

// AMPData is the typed value AMPHandler writes to TaskFields["amp_data"].
type AMPData struct {
	IsAMPPage bool   `json:"is_amp_page"` // <html amp> or <html ⚡> on this page itself
	AMPURL    string `json:"amp_url,omitempty"` // <link rel="amphtml"> pointing to the AMP variant
}

// AMPHandler detects whether the page is itself an AMP document and
// whether it advertises a separate AMP variant via <link rel="amphtml">.
type AMPHandler struct{}

func (h *AMPHandler) FieldName() string { return "amp_data" }

func (h *AMPHandler) Extract(_ context.Context, html []byte, _ taskhandler.Context) (any, error) {
	doc, err := parseHTML(html)
	if err != nil {
		return nil, &taskhandler.NonRetryableError{Err: err}
	}

	htmlNode := doc.Find("html").First()
	_, hasAmpAttr := htmlNode.Attr("amp")
	_, hasAmpEmojiAttr := htmlNode.Attr("⚡")
	isAMP := hasAmpAttr || hasAmpEmojiAttr

	ampURL, _ := doc.Find(`link[rel="amphtml"]`).First().Attr("href")
	ampURL = strings.TrimSpace(ampURL)

	if !isAMP && ampURL == "" {
		return nil, &taskhandler.SkipError{Reason: "no amp signals found"}
	}
	return AMPData{IsAMPPage: isAMP, AMPURL: ampURL}, nil
}
