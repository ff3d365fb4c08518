// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package metrics exports screen statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/offscreen"
)

const (
	descArenaBytes = iota
	descArenaLargestFree
	descArenaAreas
	descArenaEvents
	descPixmaps
	descMigrations
	descTransfers
	descOperations
	descSweeps
	descDirtyMismatches
	descPoolRequests
	descDeviceAccessDisabled
)

var descriptors = []*prometheus.Desc{
	descArenaBytes: prometheus.NewDesc(
		"offscreen_arena_bytes",
		"Device memory managed by the offscreen arena, by state.",
		[]string{"screen", "state"},
		nil,
	),
	descArenaLargestFree: prometheus.NewDesc(
		"offscreen_arena_largest_free_bytes",
		"Size of the largest free block of device memory.",
		[]string{"screen"},
		nil,
	),
	descArenaAreas: prometheus.NewDesc(
		"offscreen_arena_areas",
		"Number of arena areas, by state.",
		[]string{"screen", "state"},
		nil,
	),
	descArenaEvents: prometheus.NewDesc(
		"offscreen_arena_events_total",
		"Arena allocator events.",
		[]string{"screen", "event"},
		nil,
	),
	descPixmaps: prometheus.NewDesc(
		"offscreen_pixmaps",
		"Live pixmaps, and how many of them have a device copy.",
		[]string{"screen", "location"},
		nil,
	),
	descMigrations: prometheus.NewDesc(
		"offscreen_migrations_total",
		"Pixmap migrations between system and device memory.",
		[]string{"screen", "direction"},
		nil,
	),
	descTransfers: prometheus.NewDesc(
		"offscreen_transfers_total",
		"Rectangles copied between the two copies of a pixmap, by path.",
		[]string{"screen", "path"},
		nil,
	),
	descOperations: prometheus.NewDesc(
		"offscreen_operations_total",
		"Drawing operations, by rendering path.",
		[]string{"screen", "path"},
		nil,
	),
	descSweeps: prometheus.NewDesc(
		"offscreen_sweeps_total",
		"Idle sweeps of device memory.",
		[]string{"screen"},
		nil,
	),
	descDirtyMismatches: prometheus.NewDesc(
		"offscreen_dirty_mismatches_total",
		"Pixmaps found changed without reported damage.",
		[]string{"screen"},
		nil,
	),
	descPoolRequests: prometheus.NewDesc(
		"offscreen_pool_requests_total",
		"System memory buffer pool requests, by result.",
		[]string{"screen", "result"},
		nil,
	),
	descDeviceAccessDisabled: prometheus.NewDesc(
		"offscreen_device_access_disabled",
		"1 while device access is disabled.",
		[]string{"screen"},
		nil,
	),
}

// StatsFunc returns a statistics snapshot. Screens are not safe for
// concurrent use, so the function must serialize with the screen owner.
type StatsFunc func() offscreen.Stats

// Collector publishes the statistics of one screen.
type Collector struct {
	name  string
	stats StatsFunc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector labeling its metrics with name.
func NewCollector(name string, stats StatsFunc) *Collector {
	return &Collector{name: name, stats: stats}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.metrics(c.stats()) {
		ch <- m
	}
}

func (c *Collector) metrics(st offscreen.Stats) []prometheus.Metric {
	gauge := func(desc int, v float64, labels ...string) prometheus.Metric {
		return prometheus.MustNewConstMetric(descriptors[desc], prometheus.GaugeValue, v,
			append([]string{c.name}, labels...)...)
	}
	counter := func(desc int, v uint64, labels ...string) prometheus.Metric {
		return prometheus.MustNewConstMetric(descriptors[desc], prometheus.CounterValue, float64(v),
			append([]string{c.name}, labels...)...)
	}

	a := st.Arena
	disabled := 0.0
	if st.SwappedOut {
		disabled = 1
	}

	return []prometheus.Metric{
		gauge(descArenaBytes, float64(a.FreeBytes), "free"),
		gauge(descArenaBytes, float64(a.UsedBytes()), "used"),
		gauge(descArenaLargestFree, float64(a.LargestFree)),
		gauge(descArenaAreas, float64(a.NumAvailable), "available"),
		gauge(descArenaAreas, float64(a.NumRemovable), "removable"),
		gauge(descArenaAreas, float64(a.NumLocked), "locked"),
		counter(descArenaEvents, a.Allocations, "allocation"),
		counter(descArenaEvents, a.AllocFailures, "allocation_failure"),
		counter(descArenaEvents, a.Frees, "free"),
		counter(descArenaEvents, a.Evictions, "eviction"),
		counter(descArenaEvents, a.Relocations, "relocation"),
		gauge(descPixmaps, float64(st.Pixmaps), "all"),
		gauge(descPixmaps, float64(st.DevicePixmaps), "device"),
		counter(descMigrations, st.MoveIns, "in"),
		counter(descMigrations, st.MoveOuts, "out"),
		counter(descMigrations, st.MoveInFails, "in_failed"),
		counter(descTransfers, st.Uploads, "upload"),
		counter(descTransfers, st.Downloads, "download"),
		counter(descTransfers, st.RawCopies, "raw"),
		counter(descTransfers, st.DroppedRects, "dropped"),
		counter(descOperations, st.Accelerated, "accelerated"),
		counter(descOperations, st.Fallbacks, "fallback"),
		counter(descSweeps, st.Sweeps),
		counter(descDirtyMismatches, st.DirtyMismatch),
		counter(descPoolRequests, st.PoolHits, "hit"),
		counter(descPoolRequests, st.PoolMisses, "miss"),
		gauge(descDeviceAccessDisabled, disabled),
	}
}
