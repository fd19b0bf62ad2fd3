// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package telemetry

import (
	log "github.com/golang/glog"
	"github.com/openconfig/fibgo/constants"
	"github.com/openconfig/fibgo/fib"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace  = "fib"
	labelTable = "table"
	labelOp    = "op"
)

// StatsCollector is a prometheus.Collector exporting the change counters
// and table occupancy of a FIB.
type StatsCollector struct {
	stats func() (fib.Stats, error)

	entries  *prometheus.Desc
	changes  *prometheus.Desc
	failures *prometheus.Desc
}

// NewStatsCollector returns a collector for f.
func NewStatsCollector(f *fib.FIB) *StatsCollector {
	return newStatsCollector(f.Stats)
}

func newStatsCollector(fn func() (fib.Stats, error)) *StatsCollector {
	return &StatsCollector{
		stats: fn,
		entries: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "entries"),
			"Number of objects in each FIB table",
			[]string{labelTable}, nil,
		),
		changes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "changes_total"),
			"Number of changes accepted by the backend",
			[]string{labelOp}, nil,
		),
		failures: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "backend_failures_total"),
			"Number of changes that the backend or mirror reported as failed",
			[]string{labelOp}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (s *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.entries
	ch <- s.changes
	ch <- s.failures
}

// Collect implements prometheus.Collector.
func (s *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	st, err := s.stats()
	if err != nil {
		log.Errorf("telemetry: cannot read FIB stats, %v", err)
		return
	}

	gauge := func(t string, n int) {
		ch <- prometheus.MustNewConstMetric(s.entries, prometheus.GaugeValue, float64(n), t)
	}
	gauge(constants.VRF.String(), st.VRFs)
	gauge(constants.RIF.String(), st.RIFs)
	gauge(constants.NEXTHOP.String(), st.NextHops)
	gauge(constants.NEXTHOPGROUP.String(), st.NextHopGroups)
	gauge(constants.ROUTE.String(), st.Routes)
	gauge(constants.NEIGHBOR.String(), st.Neighbors)
	gauge("MAC_TABLE", st.MACEntries)

	ch <- prometheus.MustNewConstMetric(s.changes, prometheus.CounterValue, float64(st.Creates), constants.ADD.String())
	ch <- prometheus.MustNewConstMetric(s.changes, prometheus.CounterValue, float64(st.Removes), constants.DELETE.String())
	ch <- prometheus.MustNewConstMetric(s.changes, prometheus.CounterValue, float64(st.Sets), constants.REPLACE.String())
	ch <- prometheus.MustNewConstMetric(s.failures, prometheus.CounterValue, float64(st.BackendFailures), "create_or_set")
	ch <- prometheus.MustNewConstMetric(s.failures, prometheus.CounterValue, float64(st.RemoveFailures), constants.DELETE.String())
}
