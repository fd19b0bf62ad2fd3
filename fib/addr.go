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
	"encoding/binary"
	"net"
	"net/netip"

	"github.com/openconfig/fibgo/oid"
	"lukechampine.com/uint128"
)

const (
	familyV4 = iota
	familyV6
	numFamilies
)

func family(a netip.Addr) int {
	if a.Is4() {
		return familyV4
	}
	return familyV6
}

// canonicalPrefix returns p with its host bits cleared and any IPv4-mapped
// IPv6 address converted to IPv4, so that a route has one key however it
// was written.
func canonicalPrefix(p netip.Prefix) (netip.Prefix, bool) {
	if !p.IsValid() {
		return netip.Prefix{}, false
	}
	addr, bits := p.Addr(), p.Bits()
	if addr.Is4In6() {
		if bits < 96 {
			return netip.Prefix{}, false
		}
		addr, bits = addr.Unmap(), bits-96
	}

	// IPv4 addresses occupy the low 32 bits of the 128-bit value.
	var b [16]byte
	width := bits
	if addr.Is4() {
		v4 := addr.As4()
		copy(b[12:], v4[:])
		width += 96
	} else {
		b = addr.As16()
	}
	u := uint128.FromBytesBE(b[:]).And(uint128.Max.Lsh(uint(128 - width)))
	u.PutBytesBE(b[:])

	if addr.Is4() {
		return netip.PrefixFrom(netip.AddrFrom4([4]byte(b[12:])), bits), true
	}
	return netip.PrefixFrom(netip.AddrFrom16(b), bits), true
}

// ipNet returns p in the form the LPM tree is keyed on.
func ipNet(p netip.Prefix) *net.IPNet {
	return &net.IPNet{
		IP:   net.IP(p.Addr().AsSlice()),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}

// hostNet returns the host route for a.
func hostNet(a netip.Addr) *net.IPNet {
	return ipNet(netip.PrefixFrom(a, a.BitLen()))
}

// NextHopKey is the composite key that next hops are deduplicated on within
// a VRF. Tunnel encap next hops have a zero RIF.
type NextHopKey struct {
	Kind       NextHopKind
	RIF        oid.ID
	IP         netip.Addr
	TunnelType TunnelType
}

// addrPrefix is the leading part of the encoded key, shared by every next
// hop of one kind towards one address.
func (k NextHopKey) addrPrefix() []byte {
	ip := k.IP.AsSlice()
	b := make([]byte, 0, 2+len(ip)+9)
	b = append(b, byte(k.Kind), byte(len(ip)))
	return append(b, ip...)
}

// bytes encodes k as kind | address length | address | RIF | tunnel type.
func (k NextHopKey) bytes() []byte {
	b := k.addrPrefix()
	b = binary.BigEndian.AppendUint64(b, uint64(k.RIF))
	return append(b, byte(k.TunnelType))
}

func macKey(vlan uint16, mac net.HardwareAddr) []byte {
	b := binary.BigEndian.AppendUint16(make([]byte, 0, 8), vlan)
	return append(b, mac...)
}
