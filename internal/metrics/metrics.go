package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Cache holds the client tile cache counters. A nil *Cache records nothing.
type Cache struct {
	Hits          prometheus.Counter
	Misses        prometheus.Counter
	Evictions     prometheus.Counter
	Fetches       prometheus.Counter
	Flushes       prometheus.Counter
	ResidentTiles prometheus.Gauge
	ResidentBytes prometheus.Gauge
}

// NewCache creates the cache collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewCache(reg prometheus.Registerer) *Cache {
	f := promauto.With(reg)
	return &Cache{
		Hits: f.NewCounter(prometheus.CounterOpts{
			Name: "tile_cache_hits_total",
			Help: "Total number of acquisitions of a tile already in the cache index",
		}),
		Misses: f.NewCounter(prometheus.CounterOpts{
			Name: "tile_cache_misses_total",
			Help: "Total number of acquisitions of a tile not in the cache index",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Name: "tile_cache_evictions_total",
			Help: "Total number of tiles evicted to stay under the byte budget",
		}),
		Fetches: f.NewCounter(prometheus.CounterOpts{
			Name: "tile_cache_fetches_total",
			Help: "Total number of tiles fetched from the remote server",
		}),
		Flushes: f.NewCounter(prometheus.CounterOpts{
			Name: "tile_cache_flushes_total",
			Help: "Total number of dirty tiles sent back to the remote server",
		}),
		ResidentTiles: f.NewGauge(prometheus.GaugeOpts{
			Name: "tile_cache_resident_tiles",
			Help: "Number of tiles currently held by the cache index",
		}),
		ResidentBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "tile_cache_resident_bytes",
			Help: "Bytes currently charged to the cache",
		}),
	}
}

func (m *Cache) Hit() {
	if m != nil {
		m.Hits.Inc()
	}
}

func (m *Cache) Miss() {
	if m != nil {
		m.Misses.Inc()
	}
}

func (m *Cache) Evict() {
	if m != nil {
		m.Evictions.Inc()
	}
}

func (m *Cache) Fetch() {
	if m != nil {
		m.Fetches.Inc()
	}
}

func (m *Cache) Flush() {
	if m != nil {
		m.Flushes.Inc()
	}
}

func (m *Cache) Resident(tiles int, bytes int64) {
	if m != nil {
		m.ResidentTiles.Set(float64(tiles))
		m.ResidentBytes.Set(float64(bytes))
	}
}

// CacheSnapshot is a point-in-time copy of the cache counters.
type CacheSnapshot struct {
	Hits      float64 `json:"hits"`
	Misses    float64 `json:"misses"`
	Evictions float64 `json:"evictions"`
	Fetches   float64 `json:"fetches"`
	Flushes   float64 `json:"flushes"`
}

func (m *Cache) Snapshot() CacheSnapshot {
	if m == nil {
		return CacheSnapshot{}
	}
	return CacheSnapshot{
		Hits:      counterValue(m.Hits),
		Misses:    counterValue(m.Misses),
		Evictions: counterValue(m.Evictions),
		Fetches:   counterValue(m.Fetches),
		Flushes:   counterValue(m.Flushes),
	}
}

func counterValue(c prometheus.Counter) float64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	return out.GetCounter().GetValue()
}

// Server holds the image-data server collectors.
type Server struct {
	Sessions      prometheus.Gauge
	Messages      *prometheus.CounterVec
	TilesServed   prometheus.Counter
	TilesStored   prometheus.Counter
	StoreErrors   *prometheus.CounterVec
	StoreDuration *prometheus.HistogramVec
}

func NewServer(reg prometheus.Registerer) *Server {
	f := promauto.With(reg)
	return &Server{
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "tile_server_sessions",
			Help: "Number of connected tile clients",
		}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tile_server_messages_total",
			Help: "Total number of wire messages received, by type",
		}, []string{"type"}),
		TilesServed: f.NewCounter(prometheus.CounterOpts{
			Name: "tile_server_tiles_served_total",
			Help: "Total number of tiles sent to clients",
		}),
		TilesStored: f.NewCounter(prometheus.CounterOpts{
			Name: "tile_server_tiles_stored_total",
			Help: "Total number of tiles written back by clients",
		}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tile_store_errors_total",
			Help: "Total number of tile store errors",
		}, []string{"operation"}),
		StoreDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tile_store_operation_duration_seconds",
			Help:    "Duration of tile store operations in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
	}
}
