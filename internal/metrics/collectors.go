package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// UsageCollector reports store state that is cheaper to read at scrape
// time than to track on every operation.
type UsageCollector struct {
	trackedUsers func() int
	redis        *redis.Client

	// Descriptors
	users       *prometheus.Desc
	redisConns  *prometheus.Desc
	redisMisses *prometheus.Desc
}

// NewUsageCollector creates a collector. Either source may be nil.
func NewUsageCollector(trackedUsers func() int, redis *redis.Client) *UsageCollector {
	return &UsageCollector{
		trackedUsers: trackedUsers,
		redis:        redis,

		users: prometheus.NewDesc(
			"tokenmeter_tracked_users",
			"Users with a record in the in-process store, expired ones included",
			nil, nil,
		),
		redisConns: prometheus.NewDesc(
			"tokenmeter_redis_pool_connections",
			"Redis pool connections by state",
			[]string{"state"}, // state: total|idle|stale
			nil,
		),
		redisMisses: prometheus.NewDesc(
			"tokenmeter_redis_pool_misses_total",
			"Times a free connection was not found in the redis pool",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *UsageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.users
	ch <- c.redisConns
	ch <- c.redisMisses
}

// Collect implements prometheus.Collector
func (c *UsageCollector) Collect(ch chan<- prometheus.Metric) {
	if c.trackedUsers != nil {
		ch <- prometheus.MustNewConstMetric(c.users, prometheus.GaugeValue, float64(c.trackedUsers()))
	}

	if c.redis != nil {
		stats := c.redis.PoolStats()
		ch <- prometheus.MustNewConstMetric(c.redisConns, prometheus.GaugeValue, float64(stats.TotalConns), "total")
		ch <- prometheus.MustNewConstMetric(c.redisConns, prometheus.GaugeValue, float64(stats.IdleConns), "idle")
		ch <- prometheus.MustNewConstMetric(c.redisConns, prometheus.GaugeValue, float64(stats.StaleConns), "stale")
		ch <- prometheus.MustNewConstMetric(c.redisMisses, prometheus.CounterValue, float64(stats.Misses))
	}
}
