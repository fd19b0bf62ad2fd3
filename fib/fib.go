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

// Package fib implements an in-memory forwarding information base: the object
// graph of virtual routers, router interfaces, next hops, next-hop groups,
// routes and neighbors that describes what is programmed into a switch's L3
// forwarding tables.
//
// All state is guarded by a single lock. It is reached only through a Txn,
// which is valid for the duration of the function handed to FIB.Do. Values
// returned by a Txn are copies and remain valid after Do returns. The
// methods on FIB are shorthands that each run one Txn method.
//
// Every committed change is handed to a Backend, which programs the device,
// and optionally to a mirror Backend that records it. A failed create or set
// is rolled back. A failed remove is logged and counted, since the object is
// already gone from the FIB.
package fib

import (
	"fmt"
	"sync"
	"time"

	log "github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/k-sone/critbitgo"
	"github.com/openconfig/fibgo/constants"
	"github.com/openconfig/fibgo/oid"
	"go.uber.org/atomic"
)

// unixTS is used to determine the current unix timestamp in nanoseconds since the
// epoch. It is defined such that it can be overloaded by unit tests.
var unixTS = func() int64 { return time.Now().UnixNano() }

// Backend receives every committed change to the FIB. Each call carries a
// complete copy of the object. Set also carries the mask of attributes that
// changed.
type Backend interface {
	Create(Object) error
	Remove(Object) error
	Set(Object, AttrMask) error
}

type nopBackend struct{}

func (nopBackend) Create(Object) error        { return nil }
func (nopBackend) Remove(Object) error        { return nil }
func (nopBackend) Set(Object, AttrMask) error { return nil }

// HookFn is a function that is called following a change. It takes:
//   - an OpType determining whether an add, remove, or modify operation was applied.
//   - the timestamp in nanoseconds since the unix epoch that the change was made.
//   - a copy of the object that changed.
//
// Hooks run with the FIB lock held, and must not call back into the FIB.
type HookFn func(constants.OpType, int64, Object)

const (
	// DefaultMaxVRFs is the default number of virtual routers.
	DefaultMaxVRFs = 512
	// DefaultMaxRIFs is the default size of the router interface table.
	DefaultMaxRIFs = 8192
	// DefaultMaxNextHops is the default size of the next-hop table.
	DefaultMaxNextHops = 49152
	// DefaultMaxNextHopGroups is the default size of the next-hop-group table.
	DefaultMaxNextHopGroups = 4096
	// DefaultMaxECMPPaths is the default number of paths in a group.
	DefaultMaxECMPPaths = 64
	// DefaultMaxPorts is the default number of ports that RIFs can be
	// attached to.
	DefaultMaxPorts = 256
	// DefaultMaxBridgeRIFs is the default number of bridge RIFs.
	DefaultMaxBridgeRIFs = 4096
)

type config struct {
	maxVRFs       int
	maxRIFs       int
	maxNextHops   int
	maxGroups     int
	maxECMPPaths  int
	maxPorts      int
	maxBridgeRIFs int
	backend       Backend
	mirror        Backend
	tunnels       Tunnels
	hooks         []HookFn
}

// Opt is an interface that is implemented by options that can be handed to
// New.
type Opt interface {
	isFIBOpt()
}

type tableSize struct {
	table constants.Table
	n     int
}

func (*tableSize) isFIBOpt() {}

// WithMaxVRFs sets the number of VRFs that can exist at once.
func WithMaxVRFs(n int) *tableSize { return &tableSize{table: constants.VRF, n: n} }

// WithMaxRIFs sets the size of the router interface table.
func WithMaxRIFs(n int) *tableSize { return &tableSize{table: constants.RIF, n: n} }

// WithMaxNextHops sets the size of the next-hop table.
func WithMaxNextHops(n int) *tableSize { return &tableSize{table: constants.NEXTHOP, n: n} }

// WithMaxNextHopGroups sets the size of the next-hop-group table.
func WithMaxNextHopGroups(n int) *tableSize {
	return &tableSize{table: constants.NEXTHOPGROUP, n: n}
}

type maxECMPPaths struct{ n int }

func (*maxECMPPaths) isFIBOpt() {}

// WithMaxECMPPaths sets the number of paths, counting weights, that a group
// can hold. It can be changed later with SetMaxECMPPaths.
func WithMaxECMPPaths(n int) *maxECMPPaths { return &maxECMPPaths{n: n} }

type maxPorts struct{ n int }

func (*maxPorts) isFIBOpt() {}

// WithMaxPorts sets the number of ports that RIFs can be attached to. It
// determines where the software indices of bridge RIFs start.
func WithMaxPorts(n int) *maxPorts { return &maxPorts{n: n} }

type backendOpt struct {
	b      Backend
	mirror bool
}

func (*backendOpt) isFIBOpt() {}

// WithBackend sets the backend that programs the device.
func WithBackend(b Backend) *backendOpt { return &backendOpt{b: b} }

// WithMirror sets a second backend that records every change once the
// device backend has accepted it.
func WithMirror(m Backend) *backendOpt { return &backendOpt{b: m, mirror: true} }

type tunnelsOpt struct{ t Tunnels }

func (*tunnelsOpt) isFIBOpt() {}

// WithTunnels sets the table that tunnel encap next hops are looked up in.
func WithTunnels(t Tunnels) *tunnelsOpt { return &tunnelsOpt{t: t} }

type hookOpt struct{ fn HookFn }

func (*hookOpt) isFIBOpt() {}

// WithHook registers fn as a hook from creation.
func WithHook(fn HookFn) *hookOpt { return &hookOpt{fn: fn} }

func newConfig(opts []Opt) *config {
	c := &config{
		maxVRFs:       DefaultMaxVRFs,
		maxRIFs:       DefaultMaxRIFs,
		maxNextHops:   DefaultMaxNextHops,
		maxGroups:     DefaultMaxNextHopGroups,
		maxECMPPaths:  DefaultMaxECMPPaths,
		maxPorts:      DefaultMaxPorts,
		maxBridgeRIFs: DefaultMaxBridgeRIFs,
		backend:       nopBackend{},
		tunnels:       TunnelMap{},
	}
	for _, o := range opts {
		switch v := o.(type) {
		case *tableSize:
			if v.n <= 0 {
				continue
			}
			switch v.table {
			case constants.VRF:
				c.maxVRFs = v.n
			case constants.RIF:
				c.maxRIFs = v.n
			case constants.NEXTHOP:
				c.maxNextHops = v.n
			case constants.NEXTHOPGROUP:
				c.maxGroups = v.n
			}
		case *maxECMPPaths:
			if v.n > 0 {
				c.maxECMPPaths = v.n
			}
		case *maxPorts:
			if v.n > 0 {
				c.maxPorts = v.n
			}
		case *backendOpt:
			switch {
			case v.mirror:
				c.mirror = v.b
			case v.b != nil:
				c.backend = v.b
			}
		case *tunnelsOpt:
			if v.t != nil {
				c.tunnels = v.t
			}
		case *hookOpt:
			c.hooks = append(c.hooks, v.fn)
		}
	}
	return c
}

// FIB is a forwarding information base.
type FIB struct {
	// mu is the FIB lock. It protects st and hooks.
	mu    sync.Mutex
	cfg   *config
	st    *state
	hooks []hook

	stats counters
}

type hook struct {
	id uuid.UUID
	fn HookFn
}

type counters struct {
	creates         atomic.Uint64
	removes         atomic.Uint64
	sets            atomic.Uint64
	backendFailures atomic.Uint64
	removeFailures  atomic.Uint64
}

// New returns a FIB configured by opts. The FIB must be initialised with
// Init before use.
func New(opts ...Opt) *FIB {
	f := &FIB{cfg: newConfig(opts)}
	for _, fn := range f.cfg.hooks {
		f.hooks = append(f.hooks, hook{id: uuid.New(), fn: fn})
	}
	return f
}

// Init creates the FIB's tables. It returns an AlreadyExists error if the FIB
// is already initialised.
func (f *FIB) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.st != nil {
		return errorf(AlreadyExists, "FIB is already initialised")
	}
	f.st = newState(f.cfg)
	log.Infof("FIB initialised, max VRFs %d, RIFs %d, next hops %d, groups %d, ECMP paths %d",
		f.cfg.maxVRFs, f.cfg.maxRIFs, f.cfg.maxNextHops, f.cfg.maxGroups, f.cfg.maxECMPPaths)
	return nil
}

// Teardown discards all FIB state without notifying the backend. Later
// operations fail with Uninitialized until Init is called again.
func (f *FIB) Teardown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.st == nil {
		return
	}
	log.Infof("FIB torn down with %d VRFs, %d next hops, %d routes", f.st.vrfs.len(), f.st.nhs.len(), f.st.routes.len())
	f.st = nil
}

// Do runs fn with the FIB lock held. The Txn handed to fn must not be used
// after fn returns. Do returns the error returned by fn, or an Uninitialized
// error if the FIB has not been initialised.
func (f *FIB) Do(fn func(*Txn) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.st == nil {
		return errorf(Uninitialized, "FIB is not initialised")
	}
	t := &Txn{f: f, s: f.st}
	defer func() { t.s = nil }()
	return fn(t)
}

// AddHook registers fn to be called after every change and returns an ID
// that can be handed to RemoveHook.
func (f *FIB) AddHook(fn HookFn) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addHook(fn)
}

// AddHook registers fn from within a Txn, so that fn sees every change
// made after the Txn's reads. It returns an ID that can be handed to
// FIB.RemoveHook.
func (t *Txn) AddHook(fn HookFn) uuid.UUID {
	t.st()
	return t.f.addHook(fn)
}

func (f *FIB) addHook(fn HookFn) uuid.UUID {
	id := uuid.New()
	f.hooks = append(f.hooks, hook{id: id, fn: fn})
	return id
}

// RemoveHook unregisters the hook with the specified ID. It reports whether
// the hook existed.
func (f *FIB) RemoveHook(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, h := range f.hooks {
		if h.id == id {
			f.hooks = append(f.hooks[:i], f.hooks[i+1:]...)
			return true
		}
	}
	return false
}

// Stats is a summary of the FIB's activity and table occupancy.
type Stats struct {
	// Creates, Removes and Sets count changes accepted by the backend.
	Creates uint64
	Removes uint64
	Sets    uint64
	// BackendFailures counts rejected creates and sets, which were rolled back.
	BackendFailures uint64
	// RemoveFailures counts removes that the backend or mirror reported as
	// failed after the object was removed.
	RemoveFailures uint64

	VRFs          int
	RIFs          int
	NextHops      int
	NextHopGroups int
	Routes        int
	Neighbors     int
	MACEntries    int
}

// Counters returns the change counters without taking the FIB lock. Table
// occupancy is left zero.
func (f *FIB) Counters() Stats {
	return Stats{
		Creates:         f.stats.creates.Load(),
		Removes:         f.stats.removes.Load(),
		Sets:            f.stats.sets.Load(),
		BackendFailures: f.stats.backendFailures.Load(),
		RemoveFailures:  f.stats.removeFailures.Load(),
	}
}

// Stats returns the change counters and the occupancy of every table.
func (f *FIB) Stats() (Stats, error) {
	st := f.Counters()
	err := f.Do(func(t *Txn) error {
		s := t.st()
		st.VRFs = s.vrfs.len()
		st.RIFs = s.rifs.len()
		st.NextHops = s.nhs.len()
		st.NextHopGroups = s.groups.len()
		st.Routes = s.routes.len()
		st.Neighbors = s.numNeighbors
		st.MACEntries = s.macs.len()
		return nil
	})
	return st, err
}

// state is the set of tables. It is only reachable through a Txn.
type state struct {
	cfg *config

	vrfs     arena[vrfNode]
	vrfByID  map[oid.ID]ref[vrfNode]
	vrfAlloc *oid.Allocator

	rifs        arena[rifNode]
	rifByID     map[oid.ID]ref[rifNode]
	bridgeAlloc *oid.Allocator

	nhs     arena[nhNode]
	nhByID  map[oid.ID]ref[nhNode]
	nhAlloc *oid.Allocator

	groups     arena[groupNode]
	groupByID  map[oid.ID]ref[groupNode]
	groupAlloc *oid.Allocator

	routes arena[routeNode]

	macs         arena[macEntry]
	macIndex     *critbitgo.Trie
	numNeighbors int

	maxECMPPaths int
}

func newState(cfg *config) *state {
	s := &state{
		cfg:          cfg,
		vrfByID:      map[oid.ID]ref[vrfNode]{},
		rifByID:      map[oid.ID]ref[rifNode]{},
		nhByID:       map[oid.ID]ref[nhNode]{},
		groupByID:    map[oid.ID]ref[groupNode]{},
		macIndex:     critbitgo.NewTrie(),
		maxECMPPaths: cfg.maxECMPPaths,
	}
	s.vrfAlloc = oid.NewAllocator(uint64(cfg.maxVRFs-1), func(v uint64) bool {
		_, ok := s.vrfByID[oid.Must(oid.VirtualRouter, v)]
		return ok
	})
	s.bridgeAlloc = oid.NewAllocator(uint64(cfg.maxBridgeRIFs-1), func(v uint64) bool {
		_, ok := s.rifByID[oid.Must(oid.RouterInterface, s.bridgeBase()+v)]
		return ok
	})
	s.nhAlloc = oid.NewAllocator(uint64(cfg.maxNextHops-1), func(v uint64) bool {
		_, ok := s.nhByID[oid.Must(oid.NextHop, v)]
		return ok
	})
	s.groupAlloc = oid.NewAllocator(uint64(cfg.maxGroups-1), func(v uint64) bool {
		_, ok := s.groupByID[oid.Must(oid.NextHopGroup, v)]
		return ok
	})
	return s
}

// Txn is the guard through which the FIB's tables are reached. It is only
// valid inside the function handed to FIB.Do.
type Txn struct {
	f *FIB
	s *state
}

// st returns the tables, panicking if the Txn has outlived its Do call.
func (t *Txn) st() *state {
	if t.s == nil {
		panic("fib: Txn used after FIB.Do returned")
	}
	return t.s
}

func (t *Txn) emit(op constants.OpType, o Object) {
	ts := unixTS()
	for _, h := range t.f.hooks {
		h.fn(op, ts, o)
	}
}

// dispatchCreate hands a newly inserted object to the backend and the
// mirror. A non-nil error means the caller must undo the insert.
func (t *Txn) dispatchCreate(o Object) error {
	cfg, st := t.f.cfg, &t.f.stats
	if err := cfg.backend.Create(o); err != nil {
		st.backendFailures.Inc()
		return errorf(BackendFailure, "backend rejected create of %s: %v", describe(o), err)
	}
	if cfg.mirror != nil {
		if err := cfg.mirror.Create(o); err != nil {
			st.backendFailures.Inc()
			if rerr := cfg.backend.Remove(o); rerr != nil {
				log.Errorf("cannot undo backend create of %s, %v", describe(o), rerr)
			}
			return errorf(BackendFailure, "mirror rejected create of %s: %v", describe(o), err)
		}
	}
	st.creates.Inc()
	log.V(2).Infof("created %s", describe(o))
	t.emit(constants.ADD, o)
	return nil
}

// dispatchRemove hands a removed object to the backend and the mirror.
// Failures are logged and counted.
func (t *Txn) dispatchRemove(o Object) {
	cfg, st := t.f.cfg, &t.f.stats
	if err := cfg.backend.Remove(o); err != nil {
		st.removeFailures.Inc()
		log.Errorf("backend failed to remove %s, %v", describe(o), err)
	}
	if cfg.mirror != nil {
		if err := cfg.mirror.Remove(o); err != nil {
			st.removeFailures.Inc()
			log.Errorf("mirror failed to remove %s, %v", describe(o), err)
		}
	}
	st.removes.Inc()
	log.V(2).Infof("removed %s", describe(o))
	t.emit(constants.DELETE, o)
}

// dispatchSet hands a modified object to the backend and the mirror. old is
// the object before the change, used to restore the backend if the mirror
// rejects it. A non-nil error means the caller must undo the change.
func (t *Txn) dispatchSet(old, o Object, m AttrMask) error {
	cfg, st := t.f.cfg, &t.f.stats
	if err := cfg.backend.Set(o, m); err != nil {
		st.backendFailures.Inc()
		return errorf(BackendFailure, "backend rejected update of %s: %v", describe(o), err)
	}
	if cfg.mirror != nil {
		if err := cfg.mirror.Set(o, m); err != nil {
			st.backendFailures.Inc()
			if rerr := cfg.backend.Set(old, m); rerr != nil {
				log.Errorf("cannot undo backend update of %s, %v", describe(o), rerr)
			}
			return errorf(BackendFailure, "mirror rejected update of %s: %v", describe(o), err)
		}
	}
	st.sets.Inc()
	log.V(2).Infof("updated %s, mask %#x", describe(o), uint64(m))
	t.emit(constants.REPLACE, o)
	return nil
}

// notifySet hands an object whose derived state changed as a consequence of
// another operation to the backend and mirror. Such changes cannot be
// rolled back individually, so failures are logged and counted.
func (t *Txn) notifySet(o Object, m AttrMask) {
	cfg, st := t.f.cfg, &t.f.stats
	if err := cfg.backend.Set(o, m); err != nil {
		st.backendFailures.Inc()
		log.Errorf("backend failed to update %s, %v", describe(o), err)
		return
	}
	if cfg.mirror != nil {
		if err := cfg.mirror.Set(o, m); err != nil {
			st.backendFailures.Inc()
			log.Errorf("mirror failed to update %s, %v", describe(o), err)
		}
	}
	st.sets.Inc()
	t.emit(constants.REPLACE, o)
}

func describe(o Object) string {
	switch v := o.(type) {
	case *VRF:
		return fmt.Sprintf("VRF %s", v.ID)
	case *RouterInterface:
		return fmt.Sprintf("RIF %s (%s)", v.ID, v.Attachment)
	case *NextHop:
		return fmt.Sprintf("next hop %s (%s %s)", v.ID, v.Key.Kind, v.Key.IP)
	case *NextHopGroup:
		return fmt.Sprintf("next-hop group %s", v.ID)
	case *Route:
		return fmt.Sprintf("route %s in VRF %s", v.Prefix, v.VRF)
	case *Neighbor:
		return fmt.Sprintf("neighbor %s on RIF %s", v.IP, v.RIF)
	}
	return fmt.Sprintf("%T", o)
}
