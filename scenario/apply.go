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

package scenario

import (
	"fmt"
	"net"
	"net/netip"

	log "github.com/golang/glog"
	"github.com/openconfig/fibgo/fib"
	"github.com/openconfig/fibgo/oid"
)

// applier holds the name table while a scenario is applied.
type applier struct {
	s     *Scenario
	tx    *fib.Txn
	names map[string]oid.ID
}

// Apply creates the objects of s in f and then runs its events, all in one
// transaction. f must have been created with the options returned by
// s.Options. Apply returns the ID of every named object.
func (s *Scenario) Apply(f *fib.FIB) (map[string]oid.ID, error) {
	a := &applier{s: s, names: map[string]oid.ID{}}
	err := f.Do(func(tx *fib.Txn) error {
		a.tx = tx
		for _, step := range []func() error{a.vrfs, a.tunnels, a.rifs, a.nextHops, a.groups, a.neighbors, a.routes, a.events} {
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("applied scenario with %d named objects", len(a.names))
	return a.names, nil
}

func (a *applier) lookup(name string, t oid.ObjectType) (oid.ID, error) {
	id, ok := a.names[name]
	switch {
	case t == oid.Null && !ok:
		return 0, fmt.Errorf("unknown object %q", name)
	case t != oid.Null && (!ok || !id.Is(t)):
		return 0, fmt.Errorf("unknown %s %q", t, name)
	}
	return id, nil
}

func (a *applier) vrfs() error {
	for _, v := range a.s.VRFs {
		var attrs []fib.Attribute
		if v.SrcMAC != "" {
			mac, err := net.ParseMAC(v.SrcMAC)
			if err != nil {
				return fmt.Errorf("vrf %s: %w", v.Name, err)
			}
			attrs = append(attrs, fib.Attribute{ID: fib.VRFAttrSrcMAC, Value: mac})
		}
		id, err := a.tx.CreateVRF(attrs)
		if err != nil {
			return fmt.Errorf("vrf %s: %w", v.Name, err)
		}
		a.names[v.Name] = id
	}
	return nil
}

func (a *applier) tunnels() error {
	if len(a.s.Tunnels) > 0 && a.s.tunnels == nil {
		return fmt.Errorf("tunnels need a FIB created with the scenario options")
	}
	for _, tn := range a.s.Tunnels {
		typ, err := tunnelType(tn.Type)
		if err != nil {
			return fmt.Errorf("tunnel %d: %w", tn.ID, err)
		}
		vrf, err := a.lookup(tn.Underlay, oid.VirtualRouter)
		if err != nil {
			return fmt.Errorf("tunnel %d: %w", tn.ID, err)
		}
		a.s.tunnels[TunnelID(tn.ID)] = fib.TunnelInfo{Type: typ, UnderlayVRF: vrf}
	}
	return nil
}

func (a *applier) rifs() error {
	for _, r := range a.s.RIFs {
		vrf, err := a.lookup(r.VRF, oid.VirtualRouter)
		if err != nil {
			return fmt.Errorf("rif %s: %w", r.Name, err)
		}
		var att fib.Attachment
		switch {
		case r.Port != nil:
			att = fib.PortAttachment{Port: oid.Must(oid.Port, *r.Port)}
		case r.LAG != nil:
			att = fib.LAGAttachment{LAG: oid.Must(oid.LAG, *r.LAG)}
		case r.VLAN != nil:
			att = fib.VLANAttachment{VLAN: *r.VLAN}
		default:
			att = fib.BridgeAttachment{Bridge: oid.Must(oid.Bridge, *r.Bridge)}
		}
		attrs := []fib.Attribute{
			{ID: fib.RIFAttrVRF, Value: vrf},
			{ID: fib.RIFAttrAttachment, Value: att},
		}
		if r.MTU != 0 {
			attrs = append(attrs, fib.Attribute{ID: fib.RIFAttrMTU, Value: r.MTU})
		}
		id, err := a.tx.CreateRIF(attrs)
		if err != nil {
			return fmt.Errorf("rif %s: %w", r.Name, err)
		}
		a.names[r.Name] = id
	}
	return nil
}

func (a *applier) nextHops() error {
	for _, nh := range a.s.NextHops {
		ip, err := netip.ParseAddr(nh.IP)
		if err != nil {
			return fmt.Errorf("next hop %s: %w", nh.Name, err)
		}
		attrs := []fib.Attribute{{ID: fib.NextHopAttrIP, Value: ip}}
		if nh.RIF != "" {
			rif, err := a.lookup(nh.RIF, oid.RouterInterface)
			if err != nil {
				return fmt.Errorf("next hop %s: %w", nh.Name, err)
			}
			attrs = append(attrs,
				fib.Attribute{ID: fib.NextHopAttrType, Value: fib.NextHopIP},
				fib.Attribute{ID: fib.NextHopAttrRIF, Value: rif})
		} else {
			attrs = append(attrs,
				fib.Attribute{ID: fib.NextHopAttrType, Value: fib.NextHopTunnelEncap},
				fib.Attribute{ID: fib.NextHopAttrTunnel, Value: TunnelID(nh.Tunnel)})
		}
		id, err := a.tx.CreateNextHop(attrs)
		if err != nil {
			return fmt.Errorf("next hop %s: %w", nh.Name, err)
		}
		a.names[nh.Name] = id
	}
	return nil
}

func (a *applier) members(names []string) ([]oid.ID, error) {
	var ids []oid.ID
	for _, m := range names {
		id, err := a.lookup(m, oid.NextHop)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *applier) groups() error {
	for _, g := range a.s.Groups {
		ids, err := a.members(g.Members)
		if err != nil {
			return fmt.Errorf("group %s: %w", g.Name, err)
		}
		id, err := a.tx.CreateNextHopGroup([]fib.Attribute{{ID: fib.GroupAttrNextHopList, Value: ids}})
		if err != nil {
			return fmt.Errorf("group %s: %w", g.Name, err)
		}
		a.names[g.Name] = id
	}
	return nil
}

func (a *applier) neighbor(n Neighbor) (oid.ID, netip.Addr, error) {
	rif, err := a.lookup(n.RIF, oid.RouterInterface)
	if err != nil {
		return 0, netip.Addr{}, err
	}
	ip, err := netip.ParseAddr(n.IP)
	if err != nil {
		return 0, netip.Addr{}, err
	}
	return rif, ip, nil
}

func (a *applier) neighbors() error {
	for _, n := range a.s.Neighbors {
		rif, ip, err := a.neighbor(n)
		if err != nil {
			return fmt.Errorf("neighbor %s: %w", n.IP, err)
		}
		mac, err := net.ParseMAC(n.MAC)
		if err != nil {
			return fmt.Errorf("neighbor %s: %w", n.IP, err)
		}
		attrs := []fib.Attribute{{ID: fib.NeighborAttrDstMAC, Value: mac}}
		if n.Action != "" {
			p, err := fib.ParsePacketAction(n.Action)
			if err != nil {
				return fmt.Errorf("neighbor %s: %w", n.IP, err)
			}
			attrs = append(attrs, fib.Attribute{ID: fib.NeighborAttrPacketAction, Value: p})
		}
		if n.Port != nil {
			attrs = append(attrs, fib.Attribute{ID: fib.NeighborAttrPort, Value: oid.Must(oid.Port, *n.Port)})
		}
		if err := a.tx.CreateNeighbor(rif, ip, attrs); err != nil {
			return fmt.Errorf("neighbor %s: %w", n.IP, err)
		}
	}
	return nil
}

func (a *applier) route(r Route) (oid.ID, netip.Prefix, error) {
	vrf, err := a.lookup(r.VRF, oid.VirtualRouter)
	if err != nil {
		return 0, netip.Prefix{}, err
	}
	p, err := netip.ParsePrefix(r.Prefix)
	if err != nil {
		return 0, netip.Prefix{}, err
	}
	return vrf, p, nil
}

func (a *applier) routes() error {
	for _, r := range a.s.Routes {
		vrf, p, err := a.route(r)
		if err != nil {
			return fmt.Errorf("route %s: %w", r.Prefix, err)
		}
		var attrs []fib.Attribute
		if r.Target != "" {
			id, err := a.lookup(r.Target, oid.Null)
			if err != nil {
				return fmt.Errorf("route %s: %w", r.Prefix, err)
			}
			attrs = append(attrs, fib.Attribute{ID: fib.RouteAttrNextHop, Value: id})
		}
		if r.Action != "" {
			act, err := fib.ParsePacketAction(r.Action)
			if err != nil {
				return fmt.Errorf("route %s: %w", r.Prefix, err)
			}
			attrs = append(attrs, fib.Attribute{ID: fib.RouteAttrPacketAction, Value: act})
		}
		if r.MetaData != 0 {
			attrs = append(attrs, fib.Attribute{ID: fib.RouteAttrMetaData, Value: r.MetaData})
		}
		if _, err := a.tx.CreateRoute(vrf, p, attrs); err != nil {
			return fmt.Errorf("route %s: %w", r.Prefix, err)
		}
	}
	return nil
}

func (a *applier) events() error {
	for i, e := range a.s.Events {
		if err := a.event(e); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

func (a *applier) event(e Event) error {
	switch {
	case e.MoveMAC != nil:
		mac, err := net.ParseMAC(e.MoveMAC.MAC)
		if err != nil {
			return err
		}
		n, err := a.tx.MoveMAC(e.MoveMAC.VLAN, mac, oid.Must(oid.Port, e.MoveMAC.Port))
		log.V(2).Infof("moved %s on vlan %d: %d neighbors", mac, e.MoveMAC.VLAN, n)
		return err
	case e.InvalidateMAC != nil:
		mac, err := net.ParseMAC(e.InvalidateMAC.MAC)
		if err != nil {
			return err
		}
		_, err = a.tx.InvalidateMAC(e.InvalidateMAC.VLAN, mac)
		return err
	case e.RemoveRoute != nil:
		vrf, p, err := a.route(*e.RemoveRoute)
		if err != nil {
			return err
		}
		return a.tx.RemoveRoute(vrf, p)
	case e.RemoveNeighbor != nil:
		rif, ip, err := a.neighbor(*e.RemoveNeighbor)
		if err != nil {
			return err
		}
		return a.tx.RemoveNeighbor(rif, ip)
	default:
		g, err := a.lookup(e.RemoveMembers.Group, oid.NextHopGroup)
		if err != nil {
			return err
		}
		ids, err := a.members(e.RemoveMembers.Members)
		if err != nil {
			return err
		}
		return a.tx.RemoveGroupMembers(g, ids)
	}
}
