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

// Package mirror records the contents of a FIB in a key-value store, one
// hash per object, laid out in the manner of the SONiC APP_DB. A Mirror is
// handed to fib.WithMirror; a store that rejects a create or set causes the
// FIB change to be rolled back.
package mirror

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/golang/glog"
	"github.com/openconfig/fibgo/constants"
	"github.com/openconfig/fibgo/fib"
	"github.com/openconfig/fibgo/oid"
)

// Change is one write to the store. A nil Fields removes the hash stored
// under Key; otherwise the hash is replaced by Fields.
type Change struct {
	Key    string
	Fields map[string]string
}

// Store applies changes atomically.
type Store interface {
	Apply(ctx context.Context, changes []Change) error
}

// DefaultTimeout is the time allowed for each write to the store.
const DefaultTimeout = 5 * time.Second

// Mirror is a fib.Backend that writes every object to a Store.
type Mirror struct {
	store   Store
	timeout time.Duration
}

// New returns a Mirror writing to s. A timeout of zero uses DefaultTimeout.
func New(s Store, timeout time.Duration) *Mirror {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Mirror{store: s, timeout: timeout}
}

func (m *Mirror) apply(cs ...Change) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.store.Apply(ctx, cs); err != nil {
		return fmt.Errorf("cannot write %s, %v", cs[0].Key, err)
	}
	return nil
}

// Create implements fib.Backend.
func (m *Mirror) Create(o fib.Object) error {
	return m.apply(Change{Key: Key(o), Fields: Fields(o)})
}

// Set implements fib.Backend. The whole hash is rewritten, so the mask is
// only logged.
func (m *Mirror) Set(o fib.Object, mask fib.AttrMask) error {
	log.V(3).Infof("mirror: rewriting %s, mask %#x", Key(o), uint64(mask))
	return m.apply(Change{Key: Key(o), Fields: Fields(o)})
}

// Remove implements fib.Backend.
func (m *Mirror) Remove(o fib.Object) error {
	return m.apply(Change{Key: Key(o)})
}

// Key returns the key of the hash that o is stored in, of the form
// TABLE:id for objects with an ID, ROUTE_TABLE:vrf:prefix for routes and
// NEIGH_TABLE:rif:ip for neighbors.
func Key(o fib.Object) string {
	switch v := o.(type) {
	case *fib.VRF:
		return key(constants.VRF, v.ID.String())
	case *fib.RouterInterface:
		return key(constants.RIF, v.ID.String())
	case *fib.NextHop:
		return key(constants.NEXTHOP, v.ID.String())
	case *fib.NextHopGroup:
		return key(constants.NEXTHOPGROUP, v.ID.String())
	case *fib.Route:
		return key(constants.ROUTE, v.VRF.String(), v.Prefix.String())
	case *fib.Neighbor:
		return key(constants.NEIGHBOR, v.RIF.String(), v.IP.String())
	}
	return key(constants.ALL, fmt.Sprintf("%T", o))
}

func key(t constants.Table, parts ...string) string {
	return t.String() + ":" + strings.Join(parts, ":")
}

func ids(in []oid.ID) string {
	s := make([]string, len(in))
	for i, id := range in {
		s[i] = id.String()
	}
	return strings.Join(s, ",")
}

// Fields returns the hash that o is stored as.
func Fields(o fib.Object) map[string]string {
	b := strconv.FormatBool
	switch v := o.(type) {
	case *fib.VRF:
		return map[string]string{
			"v4":                   b(v.V4AdminState),
			"v6":                   b(v.V6AdminState),
			"src_mac":              v.SrcMAC.String(),
			"ttl_violation_action": v.TTLViolationAction.String(),
			"ip_opt_action":        v.IPOptionsAction.String(),
		}
	case *fib.RouterInterface:
		return map[string]string{
			"vrf_name":      v.VRF.String(),
			"attachment":    v.Attachment.String(),
			"mac_addr":      v.SrcMAC.String(),
			"admin_v4":      b(v.V4AdminState),
			"admin_v6":      b(v.V6AdminState),
			"mtu":           strconv.FormatUint(uint64(v.MTU), 10),
			"ip_opt_action": v.IPOptionsAction.String(),
		}
	case *fib.NextHop:
		f := map[string]string{
			"vrf_name": v.VRF.String(),
			"type":     v.Key.Kind.String(),
			"ip":       v.Key.IP.String(),
			"owners":   v.Owners.String(),
		}
		switch v.Key.Kind {
		case fib.NextHopIP:
			f["ifname"] = v.Key.RIF.String()
		case fib.NextHopTunnelEncap:
			f["tunnel"] = v.Tunnel.String()
			f["tunnel_type"] = v.Key.TunnelType.String()
			f["resolved"] = b(v.Resolved())
			if v.UnderlayRoute.IsValid() {
				f["underlay_route"] = v.UnderlayRoute.String()
			}
		}
		if v.Owners.Has(fib.OwnerNeighbor) {
			f["neigh_mac"] = v.Neighbor.MAC.String()
		}
		return f
	case *fib.NextHopGroup:
		var nhs, weights []string
		for _, m := range v.Members {
			nhs = append(nhs, m.NextHop.String())
			weights = append(weights, strconv.Itoa(m.Weight))
		}
		return map[string]string{
			"nexthop": strings.Join(nhs, ","),
			"weight":  strings.Join(weights, ","),
			"paths":   ids(v.Paths),
		}
	case *fib.Route:
		f := map[string]string{
			"packet_action": v.PacketAction.String(),
			"trap_priority": strconv.FormatUint(uint64(v.TrapPriority), 10),
			"metadata":      strconv.FormatUint(uint64(v.MetaData), 10),
		}
		switch t := v.Target.(type) {
		case fib.NextHopTarget:
			f["nexthop"] = t.ID.String()
		case fib.GroupTarget:
			f["nexthop_group"] = t.ID.String()
		}
		return f
	case *fib.Neighbor:
		f := map[string]string{
			"neigh":         v.MAC.String(),
			"packet_action": v.PacketAction.String(),
			"no_host_route": b(v.NoHostRoute),
			"metadata":      strconv.FormatUint(uint64(v.MetaData), 10),
		}
		if !v.PortUnresolved {
			f["port"] = v.Port.String()
		}
		return f
	}
	return map[string]string{}
}
