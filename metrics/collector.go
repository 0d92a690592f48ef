/*
 * Copyright 2026 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics exports allocator statistics to Prometheus.
package metrics

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloudwego/heapx/brk"
)

const arenaLabel = "arena"

// StatsSource is anything reporting brk statistics, e.g. *brk.Allocator,
// *brk.Locked or *wasm.Guest.
type StatsSource interface {
	Stats() brk.Stats
}

// Collector reads every registered source on scrape.
type Collector struct {
	cursor   *prometheus.Desc
	used     *prometheus.Desc
	limit    *prometheus.Desc
	peak     *prometheus.Desc
	calls    *prometheus.Desc
	failures *prometheus.Desc

	mu      sync.RWMutex
	sources map[string]StatsSource
}

// NewCollector returns a Collector with metric names prefixed by namespace.
func NewCollector(namespace string) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, []string{arenaLabel}, nil)
	}
	return &Collector{
		cursor:   desc("heap_cursor_bytes", "Current program break."),
		used:     desc("heap_used_bytes", "Bytes between arena start and the break."),
		limit:    desc("heap_limit_bytes", "Exclusive upper bound of the arena."),
		peak:     desc("heap_peak_bytes", "Highest number of used bytes seen."),
		calls:    desc("sbrk_calls_total", "Number of sbrk calls."),
		failures: desc("sbrk_failures_total", "Number of failed sbrk calls."),
		sources:  make(map[string]StatsSource),
	}
}

// Register adds s under the given arena name.
func (c *Collector) Register(name string, s StatsSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sources[name]; ok {
		return fmt.Errorf("arena %q already registered", name)
	}
	c.sources[name] = s
	return nil
}

// Unregister removes the arena name, reporting whether it was present.
func (c *Collector) Unregister(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sources[name]
	delete(c.sources, name)
	return ok
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cursor
	ch <- c.used
	ch <- c.limit
	ch <- c.peak
	ch <- c.calls
	ch <- c.failures
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	names := make([]string, 0, len(c.sources))
	for name := range c.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	sources := make([]StatsSource, len(names))
	for i, name := range names {
		sources[i] = c.sources[name]
	}
	c.mu.RUnlock()

	for i, s := range sources {
		st := s.Stats()
		name := names[i]
		ch <- prometheus.MustNewConstMetric(c.cursor, prometheus.GaugeValue, float64(st.Cursor), name)
		ch <- prometheus.MustNewConstMetric(c.used, prometheus.GaugeValue, float64(st.Used), name)
		ch <- prometheus.MustNewConstMetric(c.limit, prometheus.GaugeValue, float64(st.Limit), name)
		ch <- prometheus.MustNewConstMetric(c.peak, prometheus.GaugeValue, float64(st.Peak), name)
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(st.Calls), name)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(st.Failures), name)
	}
}
