package parserrun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/quaero/internal/broker"
	"github.com/ternarybob/quaero/internal/contentstore"
	"github.com/ternarybob/quaero/internal/jobcodec"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/queuemgr"
	"github.com/ternarybob/quaero/internal/statestore"
	"github.com/ternarybob/quaero/internal/taskhandler"
)

type fakeHandler struct {
	field   string
	value   any
	err     error
	extract func(html []byte, ctx taskhandler.Context) (any, error)
}

func (f *fakeHandler) FieldName() string { return f.field }
func (f *fakeHandler) Extract(_ context.Context, html []byte, ctx taskhandler.Context) (any, error) {
	if f.extract != nil {
		return f.extract(html, ctx)
	}
	return f.value, f.err
}

func newDeps(t *testing.T) (*statestore.Store, *queuemgr.Manager, *contentstore.Store) {
	t.Helper()
	options := badgerhold.DefaultOptions
	options.Dir = t.TempDir()
	options.ValueDir = options.Dir
	db, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	content, err := contentstore.New(t.TempDir())
	require.NoError(t, err)

	return statestore.New(db), queuemgr.New(broker.New(db), nil), content
}

func seedDocAndJob(t *testing.T, store *statestore.Store, queue *queuemgr.Manager, content *contentstore.Store, taskType string) string {
	t.Helper()
	doc := models.NewParsedDocument("doc-1", "crawl-1", "https://example.com/a", "example.com", "", "")
	require.NoError(t, store.SaveParsedDocument(doc))

	write, err := content.WritePage("https://example.com/a", []byte("<html><title>Hi</title></html>"), nil)
	require.NoError(t, err)
	doc.HTMLFilePath = write.HTMLPath
	require.NoError(t, store.SaveParsedDocument(doc))

	_, err = queue.EnqueueParse(context.Background(), jobcodec.ParsePayload{
		DocumentID: doc.ID, CrawlID: doc.CrawlID, URL: doc.URL, Domain: doc.Domain,
		HTMLFilePath: write.HTMLPath, TaskType: taskType,
	}, queuemgr.PriorityNormal, time.Minute)
	require.NoError(t, err)

	return doc.ID
}

func TestWorkerSuccessUpsertsTaskField(t *testing.T) {
	store, queue, content := newDeps(t)
	docID := seedDocAndJob(t, store, queue, content, "page_title")

	w := New(Config{TaskType: "page_title", ReserveTimeout: time.Second}, queue, store, content,
		&fakeHandler{field: "page_title", value: "Hi"}, nil)

	reserved, err := queue.Dequeue(context.Background(), []string{queuemgr.TubeForTask("page_title")}, time.Second)
	require.NoError(t, err)
	w.handle(context.Background(), reserved)

	doc, err := store.GetParsedDocument(docID)
	require.NoError(t, err)
	require.Equal(t, "Hi", doc.TaskFields["page_title"])
	require.Contains(t, doc.CompletedAt, "page_title")
}

func TestWorkerBuriesOnMissingDocument(t *testing.T) {
	store, queue, content := newDeps(t)

	_, err := queue.EnqueueParse(context.Background(), jobcodec.ParsePayload{
		DocumentID: "does-not-exist", TaskType: "page_title", HTMLFilePath: "x.html",
	}, queuemgr.PriorityNormal, time.Minute)
	require.NoError(t, err)

	w := New(Config{TaskType: "page_title", ReserveTimeout: time.Second}, queue, store, content,
		&fakeHandler{field: "page_title"}, nil)

	reserved, err := queue.Dequeue(context.Background(), []string{queuemgr.TubeForTask("page_title")}, time.Second)
	require.NoError(t, err)
	w.handle(context.Background(), reserved)

	stats, err := queue.TubeStats(context.Background(), []string{queuemgr.TubeForTask("page_title")})
	require.NoError(t, err)
	require.Equal(t, 0, stats[queuemgr.TubeForTask("page_title")].Ready)
	require.Equal(t, 1, stats[queuemgr.TubeForTask("page_title")].Buried)
}

func TestWorkerRetriesOnRetryableError(t *testing.T) {
	store, queue, content := newDeps(t)
	seedDocAndJob(t, store, queue, content, "page_title")

	w := New(Config{TaskType: "page_title", ReserveTimeout: time.Second}, queue, store, content,
		&fakeHandler{field: "page_title", err: &taskhandler.RetryableError{Err: errors.New("upstream not ready")}}, nil)

	reserved, err := queue.Dequeue(context.Background(), []string{queuemgr.TubeForTask("page_title")}, time.Second)
	require.NoError(t, err)
	w.handle(context.Background(), reserved)

	stats, err := queue.TubeStats(context.Background(), []string{queuemgr.TubeForTask("page_title")})
	require.NoError(t, err)
	require.Equal(t, 1, stats[queuemgr.TubeForTask("page_title")].Delayed)
	require.Equal(t, 0, stats[queuemgr.TubeForTask("page_title")].Buried)
}

func TestWorkerBuriesOnNonRetryableError(t *testing.T) {
	store, queue, content := newDeps(t)
	seedDocAndJob(t, store, queue, content, "page_title")

	w := New(Config{TaskType: "page_title", ReserveTimeout: time.Second}, queue, store, content,
		&fakeHandler{field: "page_title", err: &taskhandler.NonRetryableError{Err: errors.New("malformed")}}, nil)

	reserved, err := queue.Dequeue(context.Background(), []string{queuemgr.TubeForTask("page_title")}, time.Second)
	require.NoError(t, err)
	w.handle(context.Background(), reserved)

	stats, err := queue.TubeStats(context.Background(), []string{queuemgr.TubeForTask("page_title")})
	require.NoError(t, err)
	require.Equal(t, 1, stats[queuemgr.TubeForTask("page_title")].Buried)
}

func TestWorkerSkipCompletesWithoutField(t *testing.T) {
	store, queue, content := newDeps(t)
	docID := seedDocAndJob(t, store, queue, content, "page_title")

	w := New(Config{TaskType: "page_title", ReserveTimeout: time.Second}, queue, store, content,
		&fakeHandler{field: "page_title", err: &taskhandler.SkipError{Reason: "no title"}}, nil)

	reserved, err := queue.Dequeue(context.Background(), []string{queuemgr.TubeForTask("page_title")}, time.Second)
	require.NoError(t, err)
	w.handle(context.Background(), reserved)

	doc, err := store.GetParsedDocument(docID)
	require.NoError(t, err)
	_, hasField := doc.TaskFields["page_title"]
	require.False(t, hasField)

	stats, err := queue.TubeStats(context.Background(), []string{queuemgr.TubeForTask("page_title")})
	require.NoError(t, err)
	require.Equal(t, 0, stats[queuemgr.TubeForTask("page_title")].Ready)
	require.Equal(t, 0, stats[queuemgr.TubeForTask("page_title")].Buried)
}

func TestWorkerBuriesOnMismatchedTaskType(t *testing.T) {
	store, queue, content := newDeps(t)
	seedDocAndJob(t, store, queue, content, "page_title")

	// Worker configured for a different task type than the job carries.
	w := New(Config{TaskType: "headings", ReserveTimeout: time.Second}, queue, store, content,
		&fakeHandler{field: "headings_data"}, nil)

	reserved, err := queue.Dequeue(context.Background(), []string{queuemgr.TubeForTask("page_title")}, time.Second)
	require.NoError(t, err)
	w.handle(context.Background(), reserved)

	stats, err := queue.TubeStats(context.Background(), []string{queuemgr.TubeForTask("page_title")})
	require.NoError(t, err)
	require.Equal(t, 1, stats[queuemgr.TubeForTask("page_title")].Buried)
}
