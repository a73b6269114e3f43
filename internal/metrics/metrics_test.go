package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewInitializesAllCollectors(t *testing.T) {
	r := New("kv_test_init")
	require.NotNil(t, r.CacheHitsTotal)
	require.NotNil(t, r.CompactionsTotal)
	require.NotNil(t, r.FlushesTotal)
	require.NotNil(t, r.WALAppendsTotal)
	require.NotNil(t, r.SnapshotsOpen)
	require.NotNil(t, r.registry)
}

func TestCacheCounts(t *testing.T) {
	r := New("kv_test_cache")

	r.CacheHitsTotal.Add(3)
	r.CacheMissesTotal.Add(1)

	hits, misses := r.CacheCounts()
	require.Equal(t, int64(3), hits)
	require.Equal(t, int64(1), misses)
}

func TestGathererReportsRegisteredFamilies(t *testing.T) {
	r := New("kv_test_gather")
	r.WritesTotal.Inc()

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestIndependentRegistriesDoNotCollide(t *testing.T) {
	r1 := New("kv_engine_one")
	r2 := New("kv_engine_two")

	r1.ReadsTotal.Inc()
	r2.ReadsTotal.Inc()
	r2.ReadsTotal.Inc()

	f1, err := r1.Gatherer().Gather()
	require.NoError(t, err)
	f2, err := r2.Gatherer().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, f1)
	require.NotEmpty(t, f2)
}
