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

package fib

import (
	"net"
)

// macEntry associates a (VLAN, MAC) with the neighbors resolved to it, so
// that a MAC move or flush can find them. It is a secondary index only.
type macEntry struct {
	VLAN      uint16
	MAC       net.HardwareAddr
	neighbors refSet[nhNode]
}

func (s *state) macFind(vlan uint16, mac net.HardwareAddr) (ref[macEntry], bool) {
	v, ok := s.macIndex.Get(macKey(vlan, mac))
	if !ok {
		return ref[macEntry]{}, false
	}
	return v.(ref[macEntry]), true
}

func (s *state) macFindOrCreate(vlan uint16, mac net.HardwareAddr) ref[macEntry] {
	if e, ok := s.macFind(vlan, mac); ok {
		return e
	}
	e := s.macs.insert(macEntry{VLAN: vlan, MAC: cloneMAC(mac), neighbors: refSet[nhNode]{}})
	s.macIndex.Insert(macKey(vlan, mac), e)
	return e
}

// macAddNeighbor records nr as resolved to mac on vlan.
func (s *state) macAddNeighbor(vlan uint16, mac net.HardwareAddr, nr ref[nhNode]) {
	e := s.macFindOrCreate(vlan, mac)
	s.macs.mustGet(e).neighbors.add(nr)
	s.nhs.mustGet(nr).mac = e
}

// macRemoveNeighbor removes nr from the entry e, deleting the entry once it
// has no neighbors.
func (s *state) macRemoveNeighbor(e ref[macEntry], nr ref[nhNode]) {
	m := s.macs.mustGet(e)
	m.neighbors.remove(nr)
	if n := s.nhs.get(nr); n != nil {
		n.mac = ref[macEntry]{}
	}
	if len(m.neighbors) == 0 {
		s.macIndex.Delete(macKey(m.VLAN, m.MAC))
		s.macs.remove(e)
	}
}

// macNeighbors returns the neighbors resolved to mac on vlan.
func (s *state) macNeighbors(vlan uint16, mac net.HardwareAddr) []ref[nhNode] {
	e, ok := s.macFind(vlan, mac)
	if !ok {
		return nil
	}
	return s.macs.mustGet(e).neighbors.sorted()
}
