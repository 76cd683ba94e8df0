package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsedDocument(t *testing.T) {
	doc := NewParsedDocument("doc-1", "crawl-1", "https://example.com/a", "example.com", "html/a.html", "html/a.headers.json")

	require.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, ProcessingPendingDispatch, doc.Status)
	assert.NotNil(t, doc.TaskFields)
	assert.NotNil(t, doc.CompletedAt)
	assert.Equal(t, doc.InitialInsertAt, doc.LastUpdatedAt)
}

func TestParsedDocumentSetTaskField(t *testing.T) {
	doc := NewParsedDocument("doc-1", "crawl-1", "https://example.com/a", "example.com", "html/a.html", "html/a.headers.json")

	doc.SetTaskField("page_title", "Example Domain")

	require.Contains(t, doc.TaskFields, "page_title")
	assert.Equal(t, "Example Domain", doc.TaskFields["page_title"])
	assert.Contains(t, doc.CompletedAt, "page_title")
}

func TestParsedDocumentDispatchComplete(t *testing.T) {
	doc := NewParsedDocument("doc-1", "crawl-1", "https://example.com/a", "example.com", "html/a.html", "html/a.headers.json")

	doc.DispatchComplete(8, 2)

	assert.Equal(t, ProcessingDispatchComplete, doc.Status)
	assert.Equal(t, 8, doc.JobsDispatchedTotal)
	assert.Equal(t, 2, doc.JobsFailedDispatch)
	require.NotNil(t, doc.ParserJobsDispatchedAt)
}
