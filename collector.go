package ygggo_orm

import (
	"github.com/prometheus/client_golang/prometheus"
)

// poolCollector exports pool statistics of every registered executor.
type poolCollector struct {
	registry *Registry

	open         *prometheus.Desc
	idle         *prometheus.Desc
	inUse        *prometheus.Desc
	waiting      *prometheus.Desc
	maxSize      *prometheus.Desc
	created      *prometheus.Desc
	destroyed    *prometheus.Desc
	waitAttempts *prometheus.Desc
	exhausted    *prometheus.Desc
	leaks        *prometheus.Desc
}

// Collector returns a prometheus.Collector reporting pool statistics,
// labelled by target key.
func (r *Registry) Collector() prometheus.Collector {
	labels := []string{"target"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("ygggo_orm", "pool", name), help, labels, nil)
	}
	return &poolCollector{
		registry:     r,
		open:         desc("open_connections", "Connections currently open."),
		idle:         desc("idle_connections", "Connections idle in the pool."),
		inUse:        desc("in_use_connections", "Connections checked out."),
		waiting:      desc("waiting_callers", "Callers waiting for a connection."),
		maxSize:      desc("max_connections", "Configured maximum pool size."),
		created:      desc("connections_created_total", "Connections opened."),
		destroyed:    desc("connections_destroyed_total", "Connections closed."),
		waitAttempts: desc("wait_attempts_total", "Wait attempts made by callers."),
		exhausted:    desc("exhausted_total", "Acquisitions that failed with pool exhausted."),
		leaks:        desc("leaks_total", "Connections held beyond the borrow threshold."),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.open, c.idle, c.inUse, c.waiting, c.maxSize, c.created, c.destroyed, c.waitAttempts, c.exhausted, c.leaks} {
		ch <- d
	}
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	for key, e := range c.registry.snapshot() {
		s := e.Pool().Stats()
		ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(s.Open), key)
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle), key)
		ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse), key)
		ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(s.Waiting), key)
		ch <- prometheus.MustNewConstMetric(c.maxSize, prometheus.GaugeValue, float64(s.MaxSize), key)
		ch <- prometheus.MustNewConstMetric(c.created, prometheus.CounterValue, float64(s.Created), key)
		ch <- prometheus.MustNewConstMetric(c.destroyed, prometheus.CounterValue, float64(s.Destroyed), key)
		ch <- prometheus.MustNewConstMetric(c.waitAttempts, prometheus.CounterValue, float64(s.WaitAttempts), key)
		ch <- prometheus.MustNewConstMetric(c.exhausted, prometheus.CounterValue, float64(s.Exhausted), key)
		ch <- prometheus.MustNewConstMetric(c.leaks, prometheus.CounterValue, float64(s.Leaks), key)
	}
}
