package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/quaero/internal/broker"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/queuemgr"
	"github.com/ternarybob/quaero/internal/statestore"
)

func newTestDeps(t *testing.T) (*statestore.Store, *queuemgr.Manager) {
	t.Helper()
	options := badgerhold.DefaultOptions
	options.Dir = t.TempDir()
	options.ValueDir = options.Dir

	db, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return statestore.New(db), queuemgr.New(broker.New(db), nil)
}

func TestDispatchSeedsDocumentAndFansOutAllTasks(t *testing.T) {
	store, queue := newTestDeps(t)
	ctx := context.Background()

	cfg := Config{Tasks: []TaskConfig{
		{TaskType: "page_title", Priority: queuemgr.PriorityNormal, TTR: time.Minute},
		{TaskType: "headings", Priority: queuemgr.PriorityNormal, TTR: time.Minute},
	}}
	d := New(cfg, store, queue, nil)

	res, err := d.Dispatch(ctx, Item{
		URL: "https://example.com/a", Domain: "example.com", CrawlID: "c1",
		StatusCode: 200, HTMLFilePath: "example.com/a.html",
		Custom: map[string]interface{}{"html": []byte("<html></html>"), "note": "keep me"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.JobsDispatched)
	require.Equal(t, 0, res.JobsFailedDispatch)
	require.NotEmpty(t, res.DocumentID)

	doc, err := store.GetParsedDocument(res.DocumentID)
	require.NoError(t, err)
	require.Equal(t, models.ProcessingDispatchComplete, doc.Status)
	require.Equal(t, 2, doc.JobsDispatchedTotal)
	require.Equal(t, 0, doc.JobsFailedDispatch)
	require.NotNil(t, doc.ParserJobsDispatchedAt)
	require.NotEmpty(t, doc.ParserJobID)

	_, hasHTML := doc.Custom["html"]
	require.False(t, hasHTML, "binary html field must be dropped from the fan-out payload")
	require.Equal(t, "keep me", doc.Custom["note"])

	stats, err := queue.TubeStats(ctx, []string{queuemgr.TubeForTask("page_title"), queuemgr.TubeForTask("headings")})
	require.NoError(t, err)
	require.Equal(t, 1, stats[queuemgr.TubeForTask("page_title")].Ready)
	require.Equal(t, 1, stats[queuemgr.TubeForTask("headings")].Ready)
}

// S4 — fan-out under failure of one tube: a failing enqueue for task B
// still leaves the document in dispatch_complete with accurate counts.
func TestDispatchCountsPartialEnqueueFailure(t *testing.T) {
	store, queue := newTestDeps(t)
	ctx := context.Background()

	// TTR <= 0 resolves to queuemgr.DefaultTTR rather than failing, so a
	// bad TTR cannot force an enqueue failure; the empty task type set
	// below does instead.
	cfg := Config{Tasks: []TaskConfig{
		{TaskType: "page_title", Priority: queuemgr.PriorityNormal, TTR: time.Minute},
		{TaskType: "broken", Priority: queuemgr.PriorityNormal, TTR: time.Minute},
	}}
	d := New(cfg, store, queue, nil)

	// Simulate task B's enqueue failing by giving it an empty task type,
	// which the codec's Validate rejects (jobcodec: parse record missing
	// task_type), exercising the same per-task failure path without
	// needing to break the broker.
	cfg.Tasks[1].TaskType = ""

	res, err := d.Dispatch(ctx, Item{
		URL: "https://example.com/b", Domain: "example.com", CrawlID: "c2",
		HTMLFilePath: "example.com/b.html",
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.JobsDispatched)
	require.Equal(t, 1, res.JobsFailedDispatch)

	doc, err := store.GetParsedDocument(res.DocumentID)
	require.NoError(t, err)
	require.Equal(t, models.ProcessingDispatchComplete, doc.Status)
	require.Equal(t, 1, doc.JobsDispatchedTotal)
	require.Equal(t, 1, doc.JobsFailedDispatch)
}
