package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCrawlJob(t *testing.T) {
	job := NewCrawlJob("crawl-1", CrawlJobData{Domain: "example.com", MaxPages: 10})

	require.Equal(t, "crawl-1", job.CrawlID)
	assert.Equal(t, CrawlStatusFresh, job.Status)
	assert.True(t, job.IsActive())
	assert.False(t, job.CreatedAt.IsZero())
	assert.Equal(t, job.CreatedAt, job.UpdatedAt)
}

func TestCrawlJobIsActive(t *testing.T) {
	cases := []struct {
		status CrawlStatus
		active bool
	}{
		{CrawlStatusFresh, true},
		{CrawlStatusCrawling, true},
		{CrawlStatusCompleted, false},
		{CrawlStatusFailed, false},
		{CrawlStatusFailedException, false},
	}

	for _, tc := range cases {
		job := &CrawlJob{Status: tc.status}
		assert.Equal(t, tc.active, job.IsActive(), "status=%s", tc.status)
	}
}
