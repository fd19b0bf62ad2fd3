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
	"context"
	"fmt"
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/openconfig/fibgo/fib"
	"github.com/openconfig/gnmi/value"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	gpb "github.com/openconfig/gnmi/proto/gnmi"
)

// once makes a ONCE subscription to p and returns the values received
// before the sync response.
func once(ctx context.Context, addr, target string, p *gpb.Path) ([]interface{}, error) {
	conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("cannot dial gNMI server, %v", err)
	}
	defer conn.Close()

	subc, err := gpb.NewGNMIClient(conn).Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	if err := subc.Send(&gpb.SubscribeRequest{
		Request: &gpb.SubscribeRequest_Subscribe{
			Subscribe: &gpb.SubscriptionList{
				Prefix:       &gpb.Path{Target: target},
				Mode:         gpb.SubscriptionList_ONCE,
				Subscription: []*gpb.Subscription{{Path: p}},
			},
		},
	}); err != nil {
		return nil, fmt.Errorf("cannot send subscribe request, %v", err)
	}

	var vals []interface{}
	for {
		in, err := subc.Recv()
		switch {
		case err == io.EOF:
			return vals, nil
		case err != nil:
			return nil, err
		}
		switch v := in.Response.(type) {
		case *gpb.SubscribeResponse_SyncResponse:
			return vals, nil
		case *gpb.SubscribeResponse_Update:
			for _, u := range v.Update.GetUpdate() {
				s, err := value.ToScalar(u.GetVal())
				if err != nil {
					return nil, err
				}
				vals = append(vals, s)
			}
		}
	}
}

// waitFor repeats a ONCE subscription to p until it returns exactly want.
func waitFor(t *testing.T, addr string, p *gpb.Path, want interface{}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var got []interface{}
	for {
		var err error
		got, err = once(ctx, addr, "dut", p)
		if err != nil {
			t.Fatalf("subscription failed, %v", err)
		}
		if len(got) == 1 && got[0] == want {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("did not get expected value at %v, got: %v, want: %v", p, got, want)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func TestCollectorPublishesFIB(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := NewCollector(ctx, "localhost:0", "dut", false)
	if err != nil {
		t.Fatalf("cannot start collector, %v", err)
	}
	defer c.Stop()

	f := fib.New()
	if err := f.Init(); err != nil {
		t.Fatalf("cannot initialise FIB, %v", err)
	}
	vrf, err := f.CreateVRF()
	if err != nil {
		t.Fatalf("cannot create VRF, %v", err)
	}
	p := netip.MustParsePrefix("192.0.2.0/24")
	if _, err := f.CreateRoute(vrf, p, fib.Attribute{ID: fib.RouteAttrPacketAction, Value: fib.Trap}); err != nil {
		t.Fatalf("cannot create route, %v", err)
	}
	if err := c.Publish(f); err != nil {
		t.Fatalf("cannot publish FIB, %v", err)
	}

	elems, err := ObjectPath(&fib.Route{VRF: vrf, Prefix: p})
	if err != nil {
		t.Fatalf("cannot build path, %v", err)
	}
	action := &gpb.Path{Elem: append(elems, &gpb.PathElem{Name: "state"}, &gpb.PathElem{Name: "packet-action"})}
	waitFor(t, c.Addr(), action, "TRAP")

	if err := f.Do(func(tx *fib.Txn) error {
		return tx.SetRouteAttribute(vrf, p, fib.Attribute{ID: fib.RouteAttrPacketAction, Value: fib.Drop})
	}); err != nil {
		t.Fatalf("cannot update route, %v", err)
	}
	waitFor(t, c.Addr(), action, "DROP")

	count := &gpb.Path{Elem: []*gpb.PathElem{
		{Name: "fib"}, {Name: "vrfs"}, {Name: "vrf", Key: map[string]string{"id": vrf.String()}},
		{Name: "state"}, {Name: "num-routes"},
	}}
	waitFor(t, c.Addr(), count, uint64(1))
}

func TestCollectorStopReleasesFIB(t *testing.T) {
	c, err := NewCollector(context.Background(), "localhost:0", "dut", false)
	if err != nil {
		t.Fatalf("cannot start collector, %v", err)
	}

	f := fib.New()
	if err := f.Init(); err != nil {
		t.Fatalf("cannot initialise FIB, %v", err)
	}
	vrf, err := f.CreateVRF()
	if err != nil {
		t.Fatalf("cannot create VRF, %v", err)
	}
	if err := c.Publish(f); err != nil {
		t.Fatalf("cannot publish FIB, %v", err)
	}
	c.Stop()
	if c.published != nil {
		t.Errorf("Stop did not release the published FIB")
	}

	// More changes than the update queue holds must not block the FIB.
	done := make(chan error, 1)
	go func() {
		for i := 0; i < updateQueueLen+100; i++ {
			p := netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(i >> 8), byte(i), 0}), 24)
			if _, err := f.CreateRoute(vrf, p, fib.Attribute{ID: fib.RouteAttrPacketAction, Value: fib.Drop}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cannot create route, %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("FIB changes blocked after the collector stopped")
	}
}

func TestTargetUpdateAfterStop(t *testing.T) {
	c, err := NewCollector(context.Background(), "localhost:0", "dut", false)
	if err != nil {
		t.Fatalf("cannot start collector, %v", err)
	}
	c.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < updateQueueLen+1; i++ {
			c.Sync()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("TargetUpdate blocked after Stop")
	}
}
