package scheduler

import (
	"context"
	"sync"
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

// S1 — happy path single URL: one cycle admits one SourceDomain under
// plenty of capacity headroom.
func TestRunCycleAdmitsSingleURLDomain(t *testing.T) {
	store, queue := newTestDeps(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSourceDomain(&models.SourceDomain{
		ID: "sd-1", Domain: "example.com", URL: "https://example.com/a",
		Status: models.SourceDomainNew, MaxPages: 1,
	}))

	s := New(Config{CrawlerInstances: 2, BufferFactor: 1.5, TTR: time.Minute}, store, queue, nil)
	require.NoError(t, s.RunCycle(ctx))

	sd, err := store.GetSourceDomain("sd-1")
	require.NoError(t, err)
	require.Equal(t, models.SourceDomainSubmitted, sd.Status)
	require.NotEmpty(t, sd.CrawlID)

	job, err := store.GetCrawlJob(sd.CrawlID)
	require.NoError(t, err)
	require.Equal(t, models.CrawlStatusFresh, job.Status)
	require.True(t, job.JobData.SingleURL)
	require.Equal(t, 1, job.JobData.MaxPages)

	stats, err := queue.TubeStats(ctx, []string{queuemgr.CrawlTube()})
	require.NoError(t, err)
	require.Equal(t, 1, stats[queuemgr.CrawlTube()].Ready)
}

func TestRunCycleSkipsWhenAtCapacity(t *testing.T) {
	store, queue := newTestDeps(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSourceDomain(&models.SourceDomain{
		ID: "sd-1", Domain: "example.com", Status: models.SourceDomainNew,
	}))

	s := New(Config{CrawlerInstances: 0, BufferFactor: 1, TTR: time.Minute}, store, queue, nil)
	require.NoError(t, s.RunCycle(ctx))

	sd, err := store.GetSourceDomain("sd-1")
	require.NoError(t, err)
	require.Equal(t, models.SourceDomainNew, sd.Status)
}

// S6 — concurrent schedulers: two instances racing over the same 10
// domains admit each domain exactly once.
func TestConcurrentSchedulersAdmitEachDomainOnce(t *testing.T) {
	store, queue := newTestDeps(t)
	ctx := context.Background()

	const n = 10
	for i := 0; i < n; i++ {
		require.NoError(t, store.SaveSourceDomain(&models.SourceDomain{
			ID: "sd-" + string(rune('a'+i)), Domain: "example.com", Status: models.SourceDomainNew,
		}))
	}

	s1 := New(Config{CrawlerInstances: n, BufferFactor: 1, TTR: time.Minute}, store, queue, nil)
	s2 := New(Config{CrawlerInstances: n, BufferFactor: 1, TTR: time.Minute}, store, queue, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = s1.RunCycle(ctx) }()
	go func() { defer wg.Done(); _ = s2.RunCycle(ctx) }()
	wg.Wait()

	submitted, err := store.ListSourceDomainsByStatus(models.SourceDomainSubmitted, 0)
	require.NoError(t, err)
	require.Len(t, submitted, n)

	stats, err := queue.TubeStats(ctx, []string{queuemgr.CrawlTube()})
	require.NoError(t, err)
	require.Equal(t, n, stats[queuemgr.CrawlTube()].Ready)
}

// S5 — duplicate submission: a second ad-hoc submission while the first
// is still active reuses the same crawl_id.
func TestSubmitAdHocReusesActiveCrawlID(t *testing.T) {
	store, queue := newTestDeps(t)
	ctx := context.Background()

	s := New(Config{TTR: time.Minute}, store, queue, nil)

	id1, reused1, err := s.SubmitAdHoc(ctx, models.CrawlJobData{Domain: "x.com"})
	require.NoError(t, err)
	require.False(t, reused1)

	id2, reused2, err := s.SubmitAdHoc(ctx, models.CrawlJobData{Domain: "x.com"})
	require.NoError(t, err)
	require.True(t, reused2)
	require.Equal(t, id1, id2)

	jobs, err := store.ListCrawlJobsByStatus(models.CrawlStatusFresh, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store, queue := newTestDeps(t)
	ctx, cancel := context.WithCancel(context.Background())

	s := New(Config{Schedule: "@every 50ms", CrawlerInstances: 1, BufferFactor: 1, TTR: time.Minute}, store, queue, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(120 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after context cancel")
	}
}
