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

// Package device runs a FIB as a fake forwarding device: a simulated
// backend holds the programmed state, a gNMI collector streams every change,
// a Prometheus endpoint exports table occupancy, and an optional Redis
// mirror persists each object.
package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	log "github.com/golang/glog"
	"github.com/openconfig/fibgo/backend/sim"
	"github.com/openconfig/fibgo/fib"
	"github.com/openconfig/fibgo/mirror"
	"github.com/openconfig/fibgo/oid"
	"github.com/openconfig/fibgo/scenario"
	"github.com/openconfig/fibgo/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Device is a FIB together with the servers that export it.
type Device struct {
	fib     *fib.FIB
	backend *sim.Backend
	// names are the IDs of the objects named by the startup scenario.
	names map[string]oid.ID

	// gnmiSrv is the gNMI collector publishing the FIB.
	gnmiSrv *telemetry.Collector

	metricsAddr string
	metricsSrv  *http.Server

	redis *mirror.Redis
}

const (
	// targetName is the default name that the device has in gNMI.
	targetName string = "DUT"
)

// DevOpt is an interface that is implemented by options that can be handed to New()
// for the device.
type DevOpt interface {
	isDevOpt()
}

// gNMIAddr is the address that gNMI should listen on.
type gNMIAddr struct {
	addr   string
	target string
}

// isDevOpt implements the DevOpt interface.
func (*gNMIAddr) isDevOpt() {}

// GNMIAddr specifies the host:port that the gNMI server listens on and the
// target name that it serves.
func GNMIAddr(addr, target string) *gNMIAddr {
	return &gNMIAddr{addr: addr, target: target}
}

// metricsAddr is the address that the Prometheus handler listens on.
type metricsAddr struct {
	addr string
}

// isDevOpt implements the DevOpt interface.
func (*metricsAddr) isDevOpt() {}

// MetricsAddr specifies that /metrics is served on the host:port addr.
// Without it no metrics server is started.
func MetricsAddr(addr string) *metricsAddr {
	return &metricsAddr{addr: addr}
}

// redisMirror is the Redis database that the FIB is mirrored to.
type redisMirror struct {
	addr string
	db   int
}

// isDevOpt implements the DevOpt interface.
func (*redisMirror) isDevOpt() {}

// RedisMirror mirrors every object of the FIB to database db of the Redis
// server at addr.
func RedisMirror(addr string, db int) *redisMirror {
	return &redisMirror{addr: addr, db: db}
}

// startup is the scenario that the device is built from.
type startup struct {
	s *scenario.Scenario
}

// isDevOpt implements the DevOpt interface.
func (*startup) isDevOpt() {}

// Scenario sets the startup state of the device to s. Today the state
// cannot be replaced once the device is running.
func Scenario(s *scenario.Scenario) *startup {
	return &startup{s: s}
}

// New returns a new device with the specific context. It returns the device, a function
// to stop the servers, or any errors that are encountered.
func New(ctx context.Context, opts ...DevOpt) (*Device, func(), error) {
	d := &Device{backend: sim.New()}
	cancel := d.stop

	fopts := []fib.Opt{fib.WithBackend(d.backend)}
	sc := optScenario(opts)
	if sc != nil {
		fopts = append(fopts, sc.Options()...)
	}
	if rm := optRedis(opts); rm != nil {
		d.redis = mirror.NewRedis(rm.addr, rm.db)
		if err := d.redis.Connect(ctx); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("cannot connect to Redis at %s, %v", rm.addr, err)
		}
		fopts = append(fopts, fib.WithMirror(mirror.New(d.redis, mirror.DefaultTimeout)))
	}

	d.fib = fib.New(fopts...)
	if err := d.fib.Init(); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("cannot initialise FIB, %v", err)
	}
	if sc != nil {
		names, err := sc.Apply(d.fib)
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("cannot apply scenario, %v", err)
		}
		d.names = names
	}

	gn := optGNMIAddr(opts)
	if err := d.startgNMI(ctx, gn.addr, gn.target); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("cannot start gNMI server, %v", err)
	}

	if m := optMetricsAddr(opts); m != nil {
		if err := d.startMetrics(m.addr); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("cannot start metrics server, %v", err)
		}
	}

	return d, cancel, nil
}

// optGNMIAddr finds the first occurrence of the GNMIAddr option in opts.
// If no GNMIAddr option is found, the default of localhost:0 is returned.
func optGNMIAddr(opts []DevOpt) *gNMIAddr {
	for _, o := range opts {
		if v, ok := o.(*gNMIAddr); ok {
			if v.target == "" {
				return &gNMIAddr{addr: v.addr, target: targetName}
			}
			return v
		}
	}
	return &gNMIAddr{addr: "localhost:0", target: targetName}
}

// optMetricsAddr finds the first occurrence of the MetricsAddr option in opts.
func optMetricsAddr(opts []DevOpt) *metricsAddr {
	for _, o := range opts {
		if v, ok := o.(*metricsAddr); ok {
			return v
		}
	}
	return nil
}

// optRedis finds the first occurrence of the RedisMirror option in opts.
func optRedis(opts []DevOpt) *redisMirror {
	for _, o := range opts {
		if v, ok := o.(*redisMirror); ok {
			return v
		}
	}
	return nil
}

// optScenario finds the first occurrence of the Scenario option in opts.
func optScenario(opts []DevOpt) *scenario.Scenario {
	for _, o := range opts {
		if v, ok := o.(*startup); ok {
			return v.s
		}
	}
	return nil
}

// startgNMI starts the gNMI server on addr and publishes the FIB through it.
func (d *Device) startgNMI(ctx context.Context, addr, target string) error {
	c, err := telemetry.NewCollector(ctx, addr, target, true)
	if err != nil {
		return err
	}
	d.gnmiSrv = c
	return c.Publish(d.fib)
}

// startMetrics serves the FIB statistics on addr.
func (d *Device) startMetrics(addr string) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(telemetry.NewStatsCollector(d.fib)); err != nil {
		return err
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	d.metricsSrv = &http.Server{Handler: mux}
	d.metricsAddr = l.Addr().String()
	go func() {
		if err := d.metricsSrv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server on %s failed, %v", d.metricsAddr, err)
		}
	}()
	log.Infof("serving metrics on %s", d.metricsAddr)
	return nil
}

// stop halts the servers and drops the FIB state.
func (d *Device) stop() {
	if d.gnmiSrv != nil {
		d.gnmiSrv.Stop()
	}
	if d.metricsSrv != nil {
		d.metricsSrv.Close()
	}
	if d.fib != nil {
		d.fib.Teardown()
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			log.Errorf("cannot close Redis client, %v", err)
		}
	}
}

// FIB returns the FIB of the device.
func (d *Device) FIB() *fib.FIB {
	return d.fib
}

// Backend returns the simulated backend holding the state programmed by the
// FIB.
func (d *Device) Backend() *sim.Backend {
	return d.backend
}

// ID returns the ID that the startup scenario gave the object called name.
func (d *Device) ID(name string) (oid.ID, bool) {
	id, ok := d.names[name]
	return id, ok
}

// GNMIAddr returns the address the gNMI server is listening on.
func (d *Device) GNMIAddr() string {
	return d.gnmiSrv.Addr()
}

// MetricsAddr returns the address the metrics server is listening on, or
// the empty string if there is none.
func (d *Device) MetricsAddr() string {
	return d.metricsAddr
}
