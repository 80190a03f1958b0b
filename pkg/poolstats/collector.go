// Package poolstats exports pgxpool statistics as prometheus metrics.
package poolstats

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var _ prometheus.Collector = (*Collector)(nil)

// Stater is a provider of pool statistics. Implemented by pgxpool.Pool.
type Stater interface {
	Stat() *pgxpool.Stat
}

// Collector reads a pool's Stat on every scrape. Pools are labeled by
// application name so a process running several pools can tell them
// apart.
type Collector struct {
	name string
	stat func() *pgxpool.Stat
}

// NewCollector creates a Collector for the given pool.
func NewCollector(s Stater, appname string) *Collector {
	return &Collector{name: appname, stat: s.Stat}
}

var labels = []string{"application_name"}

type metric struct {
	desc  *prometheus.Desc
	typ   prometheus.ValueType
	value func(*pgxpool.Stat) float64
}

var metrics = []metric{
	{
		prometheus.NewDesc("pgxpool_acquire_count", "Cumulative count of successful acquires from the pool.", labels, nil),
		prometheus.CounterValue,
		func(s *pgxpool.Stat) float64 { return float64(s.AcquireCount()) },
	},
	{
		prometheus.NewDesc("pgxpool_acquire_duration_seconds_total", "Total duration of all successful acquires from the pool.", labels, nil),
		prometheus.CounterValue,
		func(s *pgxpool.Stat) float64 { return s.AcquireDuration().Seconds() },
	},
	{
		prometheus.NewDesc("pgxpool_acquired_conns", "Number of currently acquired connections in the pool.", labels, nil),
		prometheus.GaugeValue,
		func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) },
	},
	{
		prometheus.NewDesc("pgxpool_canceled_acquire_count", "Cumulative count of acquires from the pool canceled by a context.", labels, nil),
		prometheus.CounterValue,
		func(s *pgxpool.Stat) float64 { return float64(s.CanceledAcquireCount()) },
	},
	{
		prometheus.NewDesc("pgxpool_constructing_conns", "Number of conns with construction in progress in the pool.", labels, nil),
		prometheus.GaugeValue,
		func(s *pgxpool.Stat) float64 { return float64(s.ConstructingConns()) },
	},
	{
		prometheus.NewDesc("pgxpool_empty_acquire", "Cumulative count of acquires that waited because the pool was empty.", labels, nil),
		prometheus.CounterValue,
		func(s *pgxpool.Stat) float64 { return float64(s.EmptyAcquireCount()) },
	},
	{
		prometheus.NewDesc("pgxpool_idle_conns", "Number of currently idle conns in the pool.", labels, nil),
		prometheus.GaugeValue,
		func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) },
	},
	{
		prometheus.NewDesc("pgxpool_max_conns", "Maximum size of the pool.", labels, nil),
		prometheus.GaugeValue,
		func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) },
	},
	{
		prometheus.NewDesc("pgxpool_total_conns", "Total number of resources currently in the pool.", labels, nil),
		prometheus.GaugeValue,
		func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) },
	},
}

// Describe implements the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stat()
	for _, m := range metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.typ, m.value(s), c.name)
	}
}
