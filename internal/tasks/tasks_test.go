package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/quaero/internal/taskhandler"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
<title>Example Domain</title>
<meta name="description" content="An example page for testing.">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="robots" content="noindex, nofollow">
<link rel="canonical" href="https://example.com/a">
<link rel="alternate" hreflang="es" href="https://example.com/es/a">
<script type="application/ld+json">{"@type":"Article","headline":"Example"}</script>
</head>
<body>
<h1>Main Heading</h1>
<h2>Sub Heading</h2>
<p>Some content.</p>
<a href="/b">relative link</a>
<a href="https://other.com/c">external link</a>
<img src="/img.png" alt="a picture">
<img src="/missing-alt.png">
</body>
</html>`

var docCtx = taskhandler.Context{
	DocumentID: "doc1",
	CrawlID:    "crawl1",
	URL:        "https://example.com/a",
	Domain:     "example.com",
}

func TestPageTitleHandler(t *testing.T) {
	h := &PageTitleHandler{}
	v, err := h.Extract(context.Background(), []byte(samplePage), docCtx)
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", v)
}

func TestHeadingsHandler(t *testing.T) {
	h := &HeadingsHandler{}
	v, err := h.Extract(context.Background(), []byte(samplePage), docCtx)
	require.NoError(t, err)
	data := v.(HeadingsData)
	assert.Equal(t, []string{"Main Heading"}, data.H1)
	assert.Equal(t, []string{"Sub Heading"}, data.H2)
}

func TestCanonicalHandler(t *testing.T) {
	h := &CanonicalHandler{}
	v, err := h.Extract(context.Background(), []byte(samplePage), docCtx)
	require.NoError(t, err)
	data := v.(CanonicalData)
	assert.Equal(t, "https://example.com/a", data.URL)
	assert.True(t, data.IsSelf)
}

func TestHreflangHandler(t *testing.T) {
	h := &HreflangHandler{}
	v, err := h.Extract(context.Background(), []byte(samplePage), docCtx)
	require.NoError(t, err)
	entries := v.([]HreflangEntry)
	require.Len(t, entries, 1)
	assert.Equal(t, "es", entries[0].Lang)
}

func TestStructuredDataHandler(t *testing.T) {
	h := &StructuredDataHandler{}
	v, err := h.Extract(context.Background(), []byte(samplePage), docCtx)
	require.NoError(t, err)
	result := v.(StructuredDataResult)
	require.Len(t, result.JSONLD, 1)
	assert.Equal(t, "Article", result.JSONLD[0]["@type"])
}

func TestLinksHandler(t *testing.T) {
	h := &LinksHandler{}
	v, err := h.Extract(context.Background(), []byte(samplePage), docCtx)
	require.NoError(t, err)
	data := v.(LinksData)
	assert.Equal(t, 2, data.Total)
	assert.Len(t, data.Internal, 1)
	assert.Len(t, data.External, 1)
}

func TestImagesHandler(t *testing.T) {
	h := &ImagesHandler{}
	v, err := h.Extract(context.Background(), []byte(samplePage), docCtx)
	require.NoError(t, err)
	images := v.([]ImageInfo)
	require.Len(t, images, 2)
	assert.False(t, images[0].MissingA)
	assert.True(t, images[1].MissingA)
}

func TestMetaDescriptionHandler(t *testing.T) {
	h := &MetaDescriptionHandler{}
	v, err := h.Extract(context.Background(), []byte(samplePage), docCtx)
	require.NoError(t, err)
	assert.Equal(t, "An example page for testing.", v)
}

func TestMobileHandler(t *testing.T) {
	h := &MobileHandler{}
	v, err := h.Extract(context.Background(), []byte(samplePage), docCtx)
	require.NoError(t, err)
	data := v.(MobileData)
	assert.True(t, data.HasViewportMeta)
}

func TestAMPHandler_NoSignals(t *testing.T) {
	h := &AMPHandler{}
	_, err := h.Extract(context.Background(), []byte(samplePage), docCtx)
	require.Error(t, err)
	assert.Equal(t, taskhandler.Skip, taskhandler.Classify(err))
}

func TestDirectivesHandler(t *testing.T) {
	h := &DirectivesHandler{}
	v, err := h.Extract(context.Background(), []byte(samplePage), docCtx)
	require.NoError(t, err)
	data := v.(DirectivesData)
	assert.True(t, data.NoIndex)
	assert.True(t, data.NoFollow)
}

func TestPageContentHandler(t *testing.T) {
	h := &PageContentHandler{}
	v, err := h.Extract(context.Background(), []byte(samplePage), docCtx)
	require.NoError(t, err)
	md, ok := v.(string)
	require.True(t, ok)
	assert.NotEmpty(t, md)
}

func TestRegisterDefaults(t *testing.T) {
	r := taskhandler.NewRegistry()
	RegisterDefaults(r)
	for _, taskType := range []string{
		"page_title", "headings", "canonical", "hreflang", "structured_data",
		"links", "images", "meta_description", "mobile", "amp", "directives", "pagecontent",
	} {
		_, ok := r.Get(taskType)
		assert.True(t, ok, "expected handler registered for %s", taskType)
	}
}
