package statestore

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/quaero/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	options := badgerhold.DefaultOptions
	options.Dir = t.TempDir()
	options.ValueDir = options.Dir

	db, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db)
}

func TestSaveAndGetCrawlJob(t *testing.T) {
	s := newTestStore(t)

	job := models.NewCrawlJob("crawl-1", models.CrawlJobData{Domain: "example.com", MaxPages: 10})
	require.NoError(t, s.SaveCrawlJob(job))

	got, err := s.GetCrawlJob("crawl-1")
	require.NoError(t, err)
	require.Equal(t, "example.com", got.Domain)
}

func TestFindActiveCrawlJobsForDomain(t *testing.T) {
	s := newTestStore(t)

	active := models.NewCrawlJob("crawl-1", models.CrawlJobData{Domain: "example.com"})
	require.NoError(t, s.SaveCrawlJob(active))

	done := models.NewCrawlJob("crawl-2", models.CrawlJobData{Domain: "example.com"})
	done.Status = models.CrawlStatusCompleted
	done.Domain = "example.com"
	require.NoError(t, s.SaveCrawlJob(done))

	jobs, err := s.FindActiveCrawlJobsForDomain("example.com")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "crawl-1", jobs[0].CrawlID)
}

func TestListCrawlJobsByStatus(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		job := models.NewCrawlJob(string(rune('a'+i)), models.CrawlJobData{Domain: "example.com"})
		require.NoError(t, s.SaveCrawlJob(job))
	}

	jobs, err := s.ListCrawlJobsByStatus(models.CrawlStatusFresh, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}

func TestUpdateParsedDocumentTaskField(t *testing.T) {
	s := newTestStore(t)

	doc := models.NewParsedDocument("doc-1", "crawl-1", "https://example.com/a", "example.com", "a.html", "a.headers.json")
	require.NoError(t, s.SaveParsedDocument(doc))

	require.NoError(t, s.UpdateParsedDocumentTaskField("doc-1", "page_title", "Example"))

	got, err := s.GetParsedDocument("doc-1")
	require.NoError(t, err)
	require.Equal(t, "Example", got.TaskFields["page_title"])
}

func TestTransitionSourceDomainOptimisticLock(t *testing.T) {
	s := newTestStore(t)

	sd := &models.SourceDomain{ID: "sd-1", Domain: "example.com", Status: models.SourceDomainNew}
	require.NoError(t, s.SaveSourceDomain(sd))

	applied, err := s.TransitionSourceDomain("sd-1", models.SourceDomainNew, models.SourceDomainPendingSubmission, func(sd *models.SourceDomain) {
		sd.CrawlID = "crawl-1"
	})
	require.NoError(t, err)
	require.True(t, applied)

	// A second attempt from a stale fromStatus should not apply.
	applied, err = s.TransitionSourceDomain("sd-1", models.SourceDomainNew, models.SourceDomainPendingSubmission, nil)
	require.NoError(t, err)
	require.False(t, applied)

	got, err := s.GetSourceDomain("sd-1")
	require.NoError(t, err)
	require.Equal(t, models.SourceDomainPendingSubmission, got.Status)
	require.Equal(t, "crawl-1", got.CrawlID)
}

// Many racing transitions off the same fromStatus must apply exactly
// once: the read-check-write has to happen inside one Badger
// transaction, or two callers can both pass the stale status check and
// both win.
func TestTransitionSourceDomainOnlyOneWinnerUnderConcurrency(t *testing.T) {
	s := newTestStore(t)

	sd := &models.SourceDomain{ID: "sd-1", Domain: "example.com", Status: models.SourceDomainNew}
	require.NoError(t, s.SaveSourceDomain(sd))

	const n = 20
	var applied int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ok, err := s.TransitionSourceDomain("sd-1", models.SourceDomainNew, models.SourceDomainPendingSubmission, nil)
			require.NoError(t, err)
			if ok {
				atomic.AddInt32(&applied, 1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&applied))
}
