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

// Package telemetry publishes the contents of a FIB over gNMI and exports
// its table occupancy as Prometheus metrics.
//
// A Collector is a single-target gNMI server supporting the Subscribe RPC,
// built on the cache and subscribe libraries from openconfig/gnmi. The hook
// returned by Collector.Hook turns every FIB change into a notification.
package telemetry

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/openconfig/fibgo/constants"
	"github.com/openconfig/fibgo/fib"
	"github.com/openconfig/gnmi/cache"
	"github.com/openconfig/gnmi/subscribe"
	"google.golang.org/grpc"

	gpb "github.com/openconfig/gnmi/proto/gnmi"
)

var (
	// metadataUpdatePeriod is the period after which the collector's
	// metadata is sent to clients.
	metadataUpdatePeriod = 30 * time.Second
	// sizeUpdatePeriod is the period after which the cache size is sent to
	// clients.
	sizeUpdatePeriod = 30 * time.Second
)

// updateQueueLen is the number of responses that may be waiting to be
// written to the cache.
const updateQueueLen = 1024

// periodic runs fn every period until ctx is done.
func periodic(ctx context.Context, period time.Duration, fn func()) {
	if period == 0 {
		return
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// Collector is a gNMI target that supports only the Subscribe RPC, and
// acts as a cache for exactly one target.
type Collector struct {
	cache *cache.Cache
	// name is the name of the target.
	name string
	// inCh carries responses to be written to the cache.
	inCh chan *gpb.SubscribeResponse
	// done is closed once the collector stops reading inCh.
	done <-chan struct{}
	// addr is the address the server is listening on.
	addr string
	// stopFn stops the server and the goroutines of the collector.
	stopFn func()

	mu sync.Mutex
	// published and hookID identify the FIB hook registered by Publish.
	published *fib.FIB
	hookID    uuid.UUID
}

// NewCollector returns a collector listening on addr (in the form
// host:port) for the single target named target. sendMeta controls whether
// metadata other than meta/sync and meta/connected is sent periodically.
// The collector runs until ctx is done or Stop is called.
func NewCollector(ctx context.Context, addr, target string, sendMeta bool, opts ...grpc.ServerOption) (*Collector, error) {
	ctx, cancel := context.WithCancel(ctx)
	c := &Collector{
		inCh: make(chan *gpb.SubscribeResponse, updateQueueLen),
		name: target,
		done: ctx.Done(),
	}

	srv := grpc.NewServer(opts...)
	c.cache = cache.New([]string{target})
	c.cache.GetTarget(target).Connect()

	if sendMeta {
		go periodic(ctx, metadataUpdatePeriod, c.cache.UpdateMetadata)
		go periodic(ctx, sizeUpdatePeriod, c.cache.UpdateSize)
	}

	go func() {
		for {
			select {
			case msg := <-c.inCh:
				if err := c.handleUpdate(msg); err != nil {
					log.Errorf("telemetry: dropping update for %s, %v", target, err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	subscribeSrv, err := subscribe.NewServer(c.cache)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("could not instantiate gNMI server: %v", err)
	}
	gpb.RegisterGNMIServer(srv, subscribeSrv)
	c.cache.SetClient(subscribeSrv.Update)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to listen: %v", err)
	}
	c.addr = lis.Addr().String()

	go srv.Serve(lis)
	c.stopFn = func() {
		cancel()
		srv.Stop()
	}
	log.Infof("telemetry: gNMI collector for %s listening on %s", target, c.addr)
	return c, nil
}

// Addr returns the address the collector is listening on.
func (c *Collector) Addr() string { return c.addr }

// Stop halts the running collector and unregisters the hook installed by
// Publish. Updates queued after Stop are dropped.
func (c *Collector) Stop() {
	c.stopFn()
	c.mu.Lock()
	f, id := c.published, c.hookID
	c.published = nil
	c.mu.Unlock()
	if f != nil {
		f.RemoveHook(id)
	}
}

// handleUpdate writes resp to the cache.
func (c *Collector) handleUpdate(resp *gpb.SubscribeResponse) error {
	t := c.cache.GetTarget(c.name)
	switch v := resp.Response.(type) {
	case *gpb.SubscribeResponse_Update:
		if err := t.GnmiUpdate(v.Update); err != nil {
			return fmt.Errorf("cannot update cache, %v", err)
		}
	case *gpb.SubscribeResponse_SyncResponse:
		t.Sync()
	case *gpb.SubscribeResponse_Error:
		return fmt.Errorf("error in response: %s", v)
	default:
		return fmt.Errorf("unknown response %T: %s", v, v)
	}
	return nil
}

// TargetUpdate queues m to be written to the cache and sent to clients. It
// drops m once the collector has stopped.
func (c *Collector) TargetUpdate(m *gpb.SubscribeResponse) {
	select {
	case c.inCh <- m:
	case <-c.done:
	}
}

// Sync marks the current contents of the cache as complete.
func (c *Collector) Sync() {
	c.TargetUpdate(&gpb.SubscribeResponse{
		Response: &gpb.SubscribeResponse_SyncResponse{SyncResponse: true},
	})
}

// Hook returns a FIB hook that publishes every change.
func (c *Collector) Hook() fib.HookFn {
	return func(op constants.OpType, ts int64, o fib.Object) {
		n, err := Notification(op, ts, c.name, o)
		if err != nil {
			log.Errorf("telemetry: invalid notification, %v", err)
			return
		}
		c.TargetUpdate(&gpb.SubscribeResponse{
			Response: &gpb.SubscribeResponse_Update{Update: n},
		})
	}
}

// Publish sends the current contents of f to clients as updates followed
// by a sync, and registers the collector's hook so that later changes are
// published as well. Stop removes the hook again.
func (c *Collector) Publish(f *fib.FIB) error {
	return f.Do(func(tx *fib.Txn) error {
		ts := time.Now().UnixNano()
		hook := c.Hook()
		for _, o := range tx.Objects() {
			hook(constants.ADD, ts, o)
		}
		c.Sync()
		id := tx.AddHook(hook)
		c.mu.Lock()
		c.published, c.hookID = f, id
		c.mu.Unlock()
		return nil
	})
}
