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

// package constants defines constants that are shared amongst multiple fibgo packages.
package constants

// OpType indicates the type of operation that was performed in contexts where it
// is not available, such as callbacks to user-provided functions.
type OpType int64

const (
	_ OpType = iota
	// ADD indicates that an object was created.
	ADD
	// DELETE indicates that an object was removed.
	DELETE
	// REPLACE indicates that an existing object was modified in place.
	REPLACE
)

var opNames = map[OpType]string{
	ADD:     "ADD",
	DELETE:  "DELETE",
	REPLACE: "REPLACE",
}

// String returns the name of the operation.
func (o OpType) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "UNKNOWN"
}

// Table is an enumerated type describing the tables held by the FIB.
type Table int64

const (
	_ Table = iota
	// ALL specifies all tables.
	ALL
	// VRF specifies the virtual router table.
	VRF
	// RIF specifies the router interface table.
	RIF
	// NEXTHOP specifies the next-hop table.
	NEXTHOP
	// NEXTHOPGROUP specifies the next-hop-group table.
	NEXTHOPGROUP
	// ROUTE specifies the route tables of all VRFs.
	ROUTE
	// NEIGHBOR specifies the neighbor table.
	NEIGHBOR
)

// tableNames maps between a Table and the name it is stored under by the
// persistence mirror, which follows the SONiC APP_DB table names.
var tableNames = map[Table]string{
	ALL:          "ALL",
	VRF:          "VRF_TABLE",
	RIF:          "INTF_TABLE",
	NEXTHOP:      "NEXTHOP_TABLE",
	NEXTHOPGROUP: "NEXTHOP_GROUP_TABLE",
	ROUTE:        "ROUTE_TABLE",
	NEIGHBOR:     "NEIGH_TABLE",
}

// String returns the table name of t.
func (t Table) String() string {
	if s, ok := tableNames[t]; ok {
		return s
	}
	return "UNKNOWN_TABLE"
}
