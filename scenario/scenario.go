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

// Package scenario loads a FIB topology described in YAML and applies it
// to a FIB. Objects are named in the file and refer to each other by name;
// Apply returns the IDs that the FIB allocated for each name.
package scenario

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/openconfig/fibgo/fib"
	"github.com/openconfig/fibgo/oid"
	"gopkg.in/yaml.v3"
)

// Scenario is the contents of a scenario file.
type Scenario struct {
	Description string     `yaml:"description"`
	Limits      Limits     `yaml:"limits"`
	Tunnels     []Tunnel   `yaml:"tunnels"`
	VRFs        []VRF      `yaml:"vrfs"`
	RIFs        []RIF      `yaml:"rifs"`
	NextHops    []NextHop  `yaml:"next_hops"`
	Groups      []Group    `yaml:"groups"`
	Routes      []Route    `yaml:"routes"`
	Neighbors   []Neighbor `yaml:"neighbors"`
	Events      []Event    `yaml:"events"`

	tunnels fib.TunnelMap
}

// Limits are the table sizes of the FIB. Zero values keep the defaults.
type Limits struct {
	MaxVRFs          int `yaml:"max_vrfs"`
	MaxRIFs          int `yaml:"max_rifs"`
	MaxNextHops      int `yaml:"max_next_hops"`
	MaxNextHopGroups int `yaml:"max_next_hop_groups"`
	MaxECMPPaths     int `yaml:"max_ecmp_paths"`
	MaxPorts         int `yaml:"max_ports"`
}

// Tunnel is a tunnel that encap next hops can use.
type Tunnel struct {
	ID       uint64 `yaml:"id"`
	Type     string `yaml:"type"`
	Underlay string `yaml:"underlay"`
}

// VRF is a virtual router.
type VRF struct {
	Name   string `yaml:"name"`
	SrcMAC string `yaml:"src_mac"`
}

// RIF is a router interface. Exactly one of Port, LAG, VLAN and Bridge is
// set.
type RIF struct {
	Name   string  `yaml:"name"`
	VRF    string  `yaml:"vrf"`
	Port   *uint64 `yaml:"port"`
	LAG    *uint64 `yaml:"lag"`
	VLAN   *uint16 `yaml:"vlan"`
	Bridge *uint64 `yaml:"bridge"`
	MTU    uint32  `yaml:"mtu"`
}

// NextHop is an IP next hop when RIF is set, and a tunnel encap next hop
// when Tunnel is set.
type NextHop struct {
	Name   string `yaml:"name"`
	IP     string `yaml:"ip"`
	RIF    string `yaml:"rif"`
	Tunnel uint64 `yaml:"tunnel"`
}

// Group is a next-hop group. A member repeated n times has weight n.
type Group struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

// Route is a route. Target names a next hop or a group.
type Route struct {
	VRF      string `yaml:"vrf"`
	Prefix   string `yaml:"prefix"`
	Target   string `yaml:"target"`
	Action   string `yaml:"action"`
	MetaData uint32 `yaml:"metadata"`
}

// Neighbor is a neighbor entry.
type Neighbor struct {
	RIF    string  `yaml:"rif"`
	IP     string  `yaml:"ip"`
	MAC    string  `yaml:"mac"`
	Action string  `yaml:"action"`
	Port   *uint64 `yaml:"port"`
}

// Event is a change applied after the topology is built. Exactly one field
// is set.
type Event struct {
	MoveMAC        *MACEvent   `yaml:"move_mac"`
	InvalidateMAC  *MACEvent   `yaml:"invalidate_mac"`
	RemoveRoute    *Route      `yaml:"remove_route"`
	RemoveNeighbor *Neighbor   `yaml:"remove_neighbor"`
	RemoveMembers  *GroupEvent `yaml:"remove_members"`
}

// MACEvent names a MAC on a VLAN, and for moves the port it moved to.
type MACEvent struct {
	VLAN uint16 `yaml:"vlan"`
	MAC  string `yaml:"mac"`
	Port uint64 `yaml:"port"`
}

// GroupEvent names members of a group.
type GroupEvent struct {
	Group   string   `yaml:"group"`
	Members []string `yaml:"members"`
}

// Load reads a scenario from r.
func Load(r io.Reader) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	s.tunnels = fib.TunnelMap{}
	return &s, nil
}

// LoadFile reads the scenario in the file at path.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}
	s, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s *Scenario) validate() error {
	names := map[string]bool{}
	unique := func(kind, n string) error {
		switch {
		case n == "":
			return fmt.Errorf("%s without a name", kind)
		case names[n]:
			return fmt.Errorf("duplicate name %q", n)
		}
		names[n] = true
		return nil
	}
	for _, v := range s.VRFs {
		if err := unique("vrf", v.Name); err != nil {
			return err
		}
	}
	for _, r := range s.RIFs {
		if err := unique("rif", r.Name); err != nil {
			return err
		}
		var n int
		for _, set := range []bool{r.Port != nil, r.LAG != nil, r.VLAN != nil, r.Bridge != nil} {
			if set {
				n++
			}
		}
		if n != 1 {
			return fmt.Errorf("rif %s: exactly one of port, lag, vlan and bridge is required", r.Name)
		}
		for _, v := range []*uint64{r.Port, r.LAG, r.Bridge} {
			if v != nil && *v > oid.MaxValue {
				return fmt.Errorf("rif %s: value %d out of range", r.Name, *v)
			}
		}
	}
	for _, nh := range s.NextHops {
		if err := unique("next hop", nh.Name); err != nil {
			return err
		}
		if (nh.RIF == "") == (nh.Tunnel == 0) {
			return fmt.Errorf("next hop %s: exactly one of rif and tunnel is required", nh.Name)
		}
		if nh.Tunnel > oid.MaxValue {
			return fmt.Errorf("next hop %s: tunnel %d out of range", nh.Name, nh.Tunnel)
		}
	}
	for _, g := range s.Groups {
		if err := unique("group", g.Name); err != nil {
			return err
		}
	}
	for _, tn := range s.Tunnels {
		if tn.ID == 0 || tn.ID > oid.MaxValue {
			return fmt.Errorf("tunnel id %d out of range", tn.ID)
		}
	}
	for _, n := range s.Neighbors {
		if n.Port != nil && *n.Port > oid.MaxValue {
			return fmt.Errorf("neighbor %s: port %d out of range", n.IP, *n.Port)
		}
	}
	for i, e := range s.Events {
		var n int
		for _, set := range []bool{e.MoveMAC != nil, e.InvalidateMAC != nil, e.RemoveRoute != nil, e.RemoveNeighbor != nil, e.RemoveMembers != nil} {
			if set {
				n++
			}
		}
		if n != 1 {
			return fmt.Errorf("event %d: exactly one change is required", i)
		}
		if e.MoveMAC != nil && e.MoveMAC.Port > oid.MaxValue {
			return fmt.Errorf("event %d: port %d out of range", i, e.MoveMAC.Port)
		}
	}
	return nil
}

// Options returns the FIB options needed to apply s: its limits and its
// tunnel table.
func (s *Scenario) Options() []fib.Opt {
	if s.tunnels == nil {
		s.tunnels = fib.TunnelMap{}
	}
	opts := []fib.Opt{fib.WithTunnels(s.tunnels)}
	l := s.Limits
	if l.MaxVRFs > 0 {
		opts = append(opts, fib.WithMaxVRFs(l.MaxVRFs))
	}
	if l.MaxRIFs > 0 {
		opts = append(opts, fib.WithMaxRIFs(l.MaxRIFs))
	}
	if l.MaxNextHops > 0 {
		opts = append(opts, fib.WithMaxNextHops(l.MaxNextHops))
	}
	if l.MaxNextHopGroups > 0 {
		opts = append(opts, fib.WithMaxNextHopGroups(l.MaxNextHopGroups))
	}
	if l.MaxECMPPaths > 0 {
		opts = append(opts, fib.WithMaxECMPPaths(l.MaxECMPPaths))
	}
	if l.MaxPorts > 0 {
		opts = append(opts, fib.WithMaxPorts(l.MaxPorts))
	}
	return opts
}

func tunnelType(s string) (fib.TunnelType, error) {
	for _, t := range []fib.TunnelType{fib.TunnelIPInIP, fib.TunnelGRE, fib.TunnelVXLAN} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown tunnel type %q", s)
}

// TunnelID returns the object ID of the tunnel with value v.
func TunnelID(v uint64) oid.ID { return oid.Must(oid.Tunnel, v) }
