package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/quaero/internal/broker"
	"github.com/ternarybob/quaero/internal/contentstore"
	"github.com/ternarybob/quaero/internal/crawlengine"
	"github.com/ternarybob/quaero/internal/fanout"
	"github.com/ternarybob/quaero/internal/jobcodec"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/queuemgr"
	"github.com/ternarybob/quaero/internal/statestore"
)

type fakeEngine struct {
	run func(ctx context.Context, params crawlengine.Params, onPage crawlengine.PageHandler) (crawlengine.Result, error)
}

func (f *fakeEngine) Crawl(ctx context.Context, params crawlengine.Params, onPage crawlengine.PageHandler) (crawlengine.Result, error) {
	return f.run(ctx, params, onPage)
}

func newTestDeps(t *testing.T) (*statestore.Store, *queuemgr.Manager, *contentstore.Store) {
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

func enqueueCrawl(t *testing.T, queue *queuemgr.Manager, domain string, ttr time.Duration) string {
	t.Helper()
	id, err := queue.EnqueueCrawl(context.Background(), jobcodec.CrawlPayload{
		CrawlID: domain + "-crawl", Domain: domain, URL: "https://" + domain, MaxPages: 1,
	}, queuemgr.PriorityNormal, ttr)
	require.NoError(t, err)
	return id
}

// S1 happy path: one successful crawl fans out through a real Fan-out
// Dispatcher and lands the CrawlJob as completed.
func TestHandleCompletesAndFansOutOnSuccess(t *testing.T) {
	store, queue, content := newTestDeps(t)
	ctx := context.Background()
	enqueueCrawl(t, queue, "example.com", time.Minute)

	fan := fanout.New(fanout.Config{Tasks: []fanout.TaskConfig{
		{TaskType: "page_title", Priority: queuemgr.PriorityNormal, TTR: time.Minute},
	}}, store, queue, nil)

	engine := &fakeEngine{run: func(ctx context.Context, params crawlengine.Params, onPage crawlengine.PageHandler) (crawlengine.Result, error) {
		err := onPage(ctx, crawlengine.Page{URL: params.URL, StatusCode: 200, Body: []byte("<html></html>")})
		return crawlengine.Result{PagesCrawled: 1}, err
	}}

	d := New(Config{ReserveTimeout: time.Second}, queue, store, content, engine, fan, nil)
	reserved, err := queue.Dequeue(ctx, []string{queuemgr.CrawlTube()}, time.Second)
	require.NoError(t, err)

	d.handle(ctx, reserved)

	job, err := store.GetCrawlJob("example.com-crawl")
	require.NoError(t, err)
	require.Equal(t, models.CrawlStatusCompleted, job.Status)
	require.Equal(t, 1, job.CrawlStats.PagesCrawled)

	docs, err := store.ListParsedDocumentsByCrawl("example.com-crawl")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, models.ProcessingDispatchComplete, docs[0].Status)
	require.Equal(t, 1, docs[0].JobsDispatchedTotal)
}

// S2 — retry then bury: once a crawl job has already exhausted
// queuemgr.MaxAttempts broker releases, one more failed engine run buries
// it instead of releasing it again. The multi-round backoff/bury counting
// itself is queuemgr's policy and is covered directly in
// queuemgr_test.go; this test only checks the Dispatcher wires a failed
// engine run into that policy (driven by the broker's release counter,
// not the payload's retries field) rather than its own threshold.
func TestHandleBuriesOnceRetriesAreExhausted(t *testing.T) {
	store, queue, content := newTestDeps(t)
	ctx := context.Background()
	enqueueCrawl(t, queue, "fail.com", time.Minute)

	engine := &fakeEngine{run: func(ctx context.Context, params crawlengine.Params, onPage crawlengine.PageHandler) (crawlengine.Result, error) {
		return crawlengine.Result{}, errors.New("engine exploded")
	}}
	d := New(Config{ReserveTimeout: time.Second}, queue, store, content, engine, nil, nil)

	reserved, err := queue.Dequeue(ctx, []string{queuemgr.CrawlTube()}, time.Second)
	require.NoError(t, err)
	reserved.Releases = queuemgr.MaxAttempts // already at the policy's limit

	d.handle(ctx, reserved)

	stats, err := queue.TubeStats(ctx, []string{queuemgr.CrawlTube()})
	require.NoError(t, err)
	require.Equal(t, 0, stats[queuemgr.CrawlTube()].Ready)
	require.Equal(t, 1, stats[queuemgr.CrawlTube()].Buried)

	job, err := store.GetCrawlJob("fail.com-crawl")
	require.NoError(t, err)
	require.Equal(t, models.CrawlStatusFailed, job.Status)
}

// An engine panic is an unexpected exception, not an ordinary engine
// failure, and is recorded as such rather than collapsed into "failed".
func TestHandleMarksFailedExceptionOnEnginePanic(t *testing.T) {
	store, queue, content := newTestDeps(t)
	ctx := context.Background()
	enqueueCrawl(t, queue, "panic.com", time.Minute)

	engine := &fakeEngine{run: func(ctx context.Context, params crawlengine.Params, onPage crawlengine.PageHandler) (crawlengine.Result, error) {
		panic("unexpected nil pointer")
	}}
	d := New(Config{ReserveTimeout: time.Second}, queue, store, content, engine, nil, nil)

	reserved, err := queue.Dequeue(ctx, []string{queuemgr.CrawlTube()}, time.Second)
	require.NoError(t, err)

	d.handle(ctx, reserved)

	job, err := store.GetCrawlJob("panic.com-crawl")
	require.NoError(t, err)
	require.Equal(t, models.CrawlStatusFailedException, job.Status)
	require.Contains(t, job.Error, "unexpected nil pointer")
}

// S3 — TTR extension: with a keep-alive task running for a 300ms lease,
// touching the lease past its original TTR keeps the job from being
// redelivered to a concurrent reserve. The fake engine is not invoked;
// the touches below stand in for a long-running engine call.
func TestKeepAliveExtendsLeaseDuringLongRunningEngine(t *testing.T) {
	store, queue, content := newTestDeps(t)
	ctx := context.Background()
	enqueueCrawl(t, queue, "slow.com", 300*time.Millisecond)

	var touches int32
	engine := &fakeEngine{run: func(ctx context.Context, params crawlengine.Params, onPage crawlengine.PageHandler) (crawlengine.Result, error) {
		time.Sleep(700 * time.Millisecond)
		return crawlengine.Result{PagesCrawled: 1}, onPage(ctx, crawlengine.Page{URL: params.URL, StatusCode: 200})
	}}
	d := New(Config{ReserveTimeout: time.Second, MinTouchThreshold: 100 * time.Millisecond}, queue, store, content, engine, nil, nil)

	reserved, err := queue.Dequeue(ctx, []string{queuemgr.CrawlTube()}, time.Second)
	require.NoError(t, err)
	require.Greater(t, reserved.TTR, time.Duration(0))

	ka := d.maybeStartKeepAlive(ctx, reserved)
	require.NotNil(t, ka)

	// Touch manually as the loop would, and assert the broker never
	// considers the lease expired mid-run.
	for i := 0; i < 3; i++ {
		time.Sleep(150 * time.Millisecond)
		require.NoError(t, queue.Touch(ctx, reserved.JobID, reserved.TTR))
		atomic.AddInt32(&touches, 1)
	}
	ka.stop()

	require.GreaterOrEqual(t, atomic.LoadInt32(&touches), int32(2))

	// No second reserve should be able to pick up the still-held job.
	_, err = queue.Dequeue(ctx, []string{queuemgr.CrawlTube()}, 50*time.Millisecond)
	require.Error(t, err)

	require.NoError(t, queue.Complete(ctx, reserved))
}
