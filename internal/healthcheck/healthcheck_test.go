package healthcheck

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/quaero/internal/broker"
)

func newTestStore(t *testing.T) *badgerhold.Store {
	t.Helper()
	options := badgerhold.DefaultOptions
	options.Dir = t.TempDir()
	options.ValueDir = options.Dir
	db, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestProbeBrokerSucceeds(t *testing.T) {
	store := newTestStore(t)
	client := broker.New(store)
	require.NoError(t, ProbeBroker(context.Background(), client, "any_tube"))
}

func TestProbeDatabaseSucceeds(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, ProbeDatabase(store))
}

func TestProbeDatabaseNilStore(t *testing.T) {
	assert.Error(t, ProbeDatabase(nil))
}

func TestProbeSystemReportsGoroutines(t *testing.T) {
	sys := ProbeSystem("")
	assert.Greater(t, sys.NumGoroutine, 0)
	assert.Greater(t, sys.NumCPU, 0)
}

func TestRunAssemblesReport(t *testing.T) {
	store := newTestStore(t)
	client := broker.New(store)
	report := Run(context.Background(), client, "any_tube", store, "")
	assert.True(t, report.BrokerOK)
	assert.True(t, report.DatabaseOK)
}
