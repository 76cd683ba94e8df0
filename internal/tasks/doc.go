// Package tasks registers the reference taskhandler.Handler
// implementations this repo ships by default: one per per-page analysis
// task (titles, headings, canonicals, hreflang, structured data, links,
// images, meta description, mobile/AMP signals, robots directives) plus
// an extra pagecontent handler exercising the teacher's
// markdown-conversion dependency. Each is grounded on the
// correspondingly named file in original_source/parser/workers/*.py,
// re-expressed against github.com/PuerkitoBio/goquery the way the
// teacher's own link_extractor.go and content_processor.go traverse
// HTML.
//
// Handlers here are a default, swappable registration — the Parser
// Worker Runtime depends only on taskhandler.Handler, never on this
// package directly (see cmd/quaero-parser, which wires Registry.Register
// calls at startup).
package tasks

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
)

// parseHTML is the shared entrypoint every handler below uses to get a
// goquery.Document from the raw bytes the runtime read off disk.
func parseHTML(html []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(html))
}
