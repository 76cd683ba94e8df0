package tasks

import "github.com/ternarybob/quaero/internal/taskhandler"

// RegisterDefaults registers every reference handler in this package under
// its matching task_type key, for a cmd/quaero-parser binary (or a test)
// that wants the full default set rather than hand-picking individual
// handlers.
func RegisterDefaults(r *taskhandler.Registry) {
	r.Register("page_title", &PageTitleHandler{})
	r.Register("headings", &HeadingsHandler{})
	r.Register("canonical", &CanonicalHandler{})
	r.Register("hreflang", &HreflangHandler{})
	r.Register("structured_data", &StructuredDataHandler{})
	r.Register("links", &LinksHandler{})
	r.Register("images", &ImagesHandler{})
	r.Register("meta_description", &MetaDescriptionHandler{})
	r.Register("mobile", &MobileHandler{})
	r.Register("amp", &AMPHandler{})
	r.Register("directives", &DirectivesHandler{})
	r.Register("pagecontent", &PageContentHandler{})
}
