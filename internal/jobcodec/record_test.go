package jobcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCrawlRecordRoundTrip(t *testing.T) {
	rec, err := NewCrawlRecord(CrawlPayload{
		CrawlID:  "crawl-1",
		Domain:   "example.com",
		MaxPages: 50,
	})
	require.NoError(t, err)

	body, err := Encode(rec)
	require.NoError(t, err)

	decoded, err := Decode(body)
	require.NoError(t, err)

	assert.Equal(t, KindCrawl, decoded.Kind)
	require.NotNil(t, decoded.Crawl)
	assert.Equal(t, "crawl-1", decoded.Crawl.CrawlID)
	assert.Equal(t, "example.com", decoded.Crawl.Domain)
	assert.Equal(t, CodecVersion, decoded.Meta.Version)
}

func TestNewCrawlRecordRequiresDomainOrURL(t *testing.T) {
	_, err := NewCrawlRecord(CrawlPayload{CrawlID: "crawl-1", MaxPages: 1})
	assert.Error(t, err)
}

func TestNewParseRecordRoundTrip(t *testing.T) {
	rec, err := NewParseRecord(ParsePayload{
		DocumentID:   "doc-1",
		CrawlID:      "crawl-1",
		URL:          "https://example.com/a",
		Domain:       "example.com",
		HTMLFilePath: "example.com/a.html",
		TaskType:     "page_title",
	})
	require.NoError(t, err)

	body, err := Encode(rec)
	require.NoError(t, err)

	decoded, err := Decode(body)
	require.NoError(t, err)

	assert.Equal(t, KindParse, decoded.Kind)
	require.NotNil(t, decoded.Parse)
	assert.Equal(t, "page_title", decoded.Parse.TaskType)
}

func TestNewParseRecordMissingTaskType(t *testing.T) {
	_, err := NewParseRecord(ParsePayload{DocumentID: "doc-1", HTMLFilePath: "x.html"})
	assert.Error(t, err)
}

func TestDecodePreservesUnknownFields(t *testing.T) {
	body := []byte(`{
		"kind": "crawl",
		"meta": {"version": 1, "created_at": "2026-01-01T00:00:00Z"},
		"crawl": {"crawl_id": "crawl-1", "domain": "example.com", "max_pages": 10},
		"future_field": "kept"
	}`)

	decoded, err := Decode(body)
	require.NoError(t, err)

	assert.Equal(t, "kept", decoded.Extra["future_field"])
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	body := []byte(`{"kind": "render", "meta": {"version": 1}}`)
	_, err := Decode(body)
	assert.Error(t, err)
}
