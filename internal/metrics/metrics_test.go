package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCacheRecordsNothing(t *testing.T) {
	var m *Cache
	m.Hit()
	m.Miss()
	m.Evict()
	m.Fetch()
	m.Flush()
	m.Resident(3, 100)
	if got := m.Snapshot(); got != (CacheSnapshot{}) {
		t.Fatalf("Snapshot = %+v", got)
	}
}

func TestCacheSnapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCache(reg)
	m.Hit()
	m.Hit()
	m.Miss()
	m.Flush()
	m.Resident(2, 512)

	want := CacheSnapshot{Hits: 2, Misses: 1, Flushes: 1}
	if got := m.Snapshot(); got != want {
		t.Fatalf("Snapshot = %+v; want %+v", got, want)
	}
	if got := testutil.ToFloat64(m.ResidentBytes); got != 512 {
		t.Errorf("resident bytes = %v", got)
	}
	n, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Errorf("registered %d series; want 7", n)
	}
}

func TestServerRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewServer(reg)
	m.Messages.WithLabelValues("tile_req").Inc()
	m.StoreErrors.WithLabelValues("get").Inc()
	m.StoreDuration.WithLabelValues("get").Observe(0.001)

	if got := testutil.ToFloat64(m.Messages.WithLabelValues("tile_req")); got != 1 {
		t.Errorf("messages = %v", got)
	}
	if n, err := testutil.GatherAndCount(reg, "tile_store_errors_total"); err != nil || n != 1 {
		t.Errorf("store error series = %d, %v", n, err)
	}
}
