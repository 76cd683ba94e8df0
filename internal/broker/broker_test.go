package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/timshannon/badgerhold/v4"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	options := badgerhold.DefaultOptions
	options.Dir = t.TempDir()
	options.ValueDir = options.Dir

	store, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(store)
}

func TestPutAndReserve(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	id, err := b.Put(ctx, "crawl", 100, 0, time.Minute, []byte("payload"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := b.Reserve(ctx, []string{"crawl"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)
	require.Equal(t, StateReserved, job.State)
	require.Equal(t, 1, job.Reserves)
}

func TestReserveHonorsPriorityOrder(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	_, err := b.Put(ctx, "crawl", 1000, 0, time.Minute, []byte("low"))
	require.NoError(t, err)
	highID, err := b.Put(ctx, "crawl", 0, 0, time.Minute, []byte("high"))
	require.NoError(t, err)

	job, err := b.Reserve(ctx, []string{"crawl"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, highID, job.ID)
}

func TestReserveTimesOutWhenEmpty(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	_, err := b.Reserve(ctx, []string{"crawl"}, 200*time.Millisecond)
	require.ErrorIs(t, err, ErrNoJob)
}

func TestDelayedJobNotReadyUntilElapsed(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	_, err := b.Put(ctx, "crawl", 100, 300*time.Millisecond, time.Minute, []byte("payload"))
	require.NoError(t, err)

	_, err = b.Reserve(ctx, []string{"crawl"}, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrNoJob)

	job, err := b.Reserve(ctx, []string{"crawl"}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestReleaseReturnsJobToReady(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	id, err := b.Put(ctx, "crawl", 100, 0, time.Minute, []byte("payload"))
	require.NoError(t, err)
	_, err = b.Reserve(ctx, []string{"crawl"}, time.Second)
	require.NoError(t, err)

	require.NoError(t, b.Release(ctx, id, 100, 0))

	job, err := b.Reserve(ctx, []string{"crawl"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)
	require.Equal(t, 1, job.Releases)
}

func TestBuryRemovesJobFromRotation(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	id, err := b.Put(ctx, "crawl", 100, 0, time.Minute, []byte("payload"))
	require.NoError(t, err)
	_, err = b.Reserve(ctx, []string{"crawl"}, time.Second)
	require.NoError(t, err)

	require.NoError(t, b.Bury(ctx, id))

	_, err = b.Reserve(ctx, []string{"crawl"}, 200*time.Millisecond)
	require.ErrorIs(t, err, ErrNoJob)

	buried, err := b.PeekBuried(ctx, "crawl")
	require.NoError(t, err)
	require.Equal(t, id, buried.ID)
}

func TestDeleteRemovesJob(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	id, err := b.Put(ctx, "crawl", 100, 0, time.Minute, []byte("payload"))
	require.NoError(t, err)
	_, err = b.Reserve(ctx, []string{"crawl"}, time.Second)
	require.NoError(t, err)

	require.NoError(t, b.Delete(ctx, id))
	require.ErrorIs(t, b.Delete(ctx, id), ErrNotFound)
}

func TestStatsTube(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	_, err := b.Put(ctx, "crawl", 100, 0, time.Minute, []byte("a"))
	require.NoError(t, err)
	_, err = b.Put(ctx, "crawl", 100, 0, time.Minute, []byte("b"))
	require.NoError(t, err)

	stats, err := b.StatsTube(ctx, "crawl")
	require.NoError(t, err)
	require.Equal(t, 2, stats.Ready)
	require.Equal(t, 2, stats.TotalJobs)
}

func TestReserveAcrossMultipleTubes(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	_, err := b.Put(ctx, "parse_title", 100, 0, time.Minute, []byte("a"))
	require.NoError(t, err)

	job, err := b.Reserve(ctx, []string{"parse_title", "parse_links"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "parse_title", job.Tube)
}

func TestStatsJobReportsTTRAndReleases(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	id, err := b.Put(ctx, "crawl", 100, 0, 90*time.Second, []byte("payload"))
	require.NoError(t, err)
	_, err = b.Reserve(ctx, []string{"crawl"}, time.Second)
	require.NoError(t, err)
	require.NoError(t, b.Release(ctx, id, 100, 0))

	stats, err := b.StatsJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, stats.TTR)
	require.Equal(t, 1, stats.Releases)
}

func TestTouchExtendsReservation(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	id, err := b.Put(ctx, "crawl", 100, 0, time.Second, []byte("payload"))
	require.NoError(t, err)
	_, err = b.Reserve(ctx, []string{"crawl"}, time.Second)
	require.NoError(t, err)

	require.NoError(t, b.Touch(ctx, id, 90*time.Second))

	stats, err := b.StatsJob(ctx, id)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(90*time.Second), stats.ReservedUntil, 2*time.Second)
}

func TestReserveReapsExpiredLease(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	id, err := b.Put(ctx, "crawl", 100, 0, 100*time.Millisecond, []byte("payload"))
	require.NoError(t, err)
	_, err = b.Reserve(ctx, []string{"crawl"}, time.Second)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	job, err := b.Reserve(ctx, []string{"crawl"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)
	require.Equal(t, 1, job.Releases)
	require.Equal(t, 2, job.Reserves)
}

func TestTouchOnMissingJobIsNotFound(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	err := b.Touch(ctx, "does-not-exist", time.Minute)
	require.ErrorIs(t, err, ErrNotFound)
}
