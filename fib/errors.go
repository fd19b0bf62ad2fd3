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
	"fmt"
	"strconv"

	log "github.com/golang/glog"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind is the class of a FIB error. Every error returned by an exported
// function in this package is a gRPC status carrying an ErrorInfo detail that
// names its Kind, so that callers outside the process see the same taxonomy.
type Kind int

const (
	// Unknown is returned by KindOf for errors not produced by this package.
	Unknown Kind = iota
	// NotFound indicates a lookup miss.
	NotFound
	// AlreadyExists indicates a duplicate create.
	AlreadyExists
	// ObjectInUse indicates a removal blocked by references or dependents.
	ObjectInUse
	// ResourceExhausted indicates a full ID space or table.
	ResourceExhausted
	// InvalidParameter indicates malformed input outside of an attribute.
	InvalidParameter
	// InvalidAttribute indicates an attribute that cannot be used with the
	// operation, such as setting a create-only attribute.
	InvalidAttribute
	// InvalidAttributeValue indicates an attribute with a malformed or out of
	// range value.
	InvalidAttributeValue
	// AttributeNotSupported indicates an attribute ID unknown to the object.
	AttributeNotSupported
	// Uninitialized indicates use of the FIB before Init.
	Uninitialized
	// BackendFailure indicates that the backend or mirror rejected a change,
	// and the change was rolled back.
	BackendFailure
)

var kindNames = map[Kind]string{
	Unknown:               "UNKNOWN",
	NotFound:              "NOT_FOUND",
	AlreadyExists:         "ALREADY_EXISTS",
	ObjectInUse:           "OBJECT_IN_USE",
	ResourceExhausted:     "RESOURCE_EXHAUSTED",
	InvalidParameter:      "INVALID_PARAMETER",
	InvalidAttribute:      "INVALID_ATTRIBUTE",
	InvalidAttributeValue: "INVALID_ATTRIBUTE_VALUE",
	AttributeNotSupported: "ATTRIBUTE_NOT_SUPPORTED",
	Uninitialized:         "UNINITIALIZED",
	BackendFailure:        "BACKEND_FAILURE",
}

var kindByName = func() map[string]Kind {
	m := map[string]Kind{}
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

var kindCodes = map[Kind]codes.Code{
	NotFound:              codes.NotFound,
	AlreadyExists:         codes.AlreadyExists,
	ObjectInUse:           codes.FailedPrecondition,
	ResourceExhausted:     codes.ResourceExhausted,
	InvalidParameter:      codes.InvalidArgument,
	InvalidAttribute:      codes.InvalidArgument,
	InvalidAttributeValue: codes.InvalidArgument,
	AttributeNotSupported: codes.InvalidArgument,
	Uninitialized:         codes.Unavailable,
	BackendFailure:        codes.Internal,
}

// String returns the name of the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Code returns the gRPC code that errors of kind k carry.
func (k Kind) Code() codes.Code {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return codes.Unknown
}

const (
	// ErrorDomain is the domain of the ErrorInfo attached to FIB errors.
	ErrorDomain = "fibgo.openconfig.net"
	// attrIndexKey is the ErrorInfo metadata key holding the position of the
	// failing entry in an attribute or member list.
	attrIndexKey = "attr_index"
)

func buildErr(k Kind, idx int, msg string) error {
	info := &errdetails.ErrorInfo{
		Reason: k.String(),
		Domain: ErrorDomain,
	}
	if idx >= 0 {
		info.Metadata = map[string]string{attrIndexKey: strconv.Itoa(idx)}
	}
	s, err := status.New(k.Code(), msg).WithDetails(info)
	if err != nil {
		return status.Errorf(k.Code(), "%s", msg)
	}
	return s.Err()
}

// errorf returns an error of kind k that is not associated with a list entry.
func errorf(k Kind, format string, args ...any) error {
	return buildErr(k, -1, fmt.Sprintf(format, args...))
}

// attrErrorf returns an error of kind k for the entry at position idx of an
// attribute or member list.
func attrErrorf(k Kind, idx int, format string, args ...any) error {
	return buildErr(k, idx, fmt.Sprintf(format, args...))
}

func errorInfo(err error) *errdetails.ErrorInfo {
	s, ok := status.FromError(err)
	if !ok {
		return nil
	}
	for _, d := range s.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == ErrorDomain {
			return info
		}
	}
	return nil
}

// KindOf returns the Kind of err, or Unknown if err was not returned by this
// package.
func KindOf(err error) Kind {
	info := errorInfo(err)
	if info == nil {
		return Unknown
	}
	return kindByName[info.GetReason()]
}

// AttrIndex returns the position of the attribute or list member that err
// relates to, and false if err does not relate to a list entry.
func AttrIndex(err error) (int, bool) {
	info := errorInfo(err)
	if info == nil {
		return 0, false
	}
	v, ok := info.GetMetadata()[attrIndexKey]
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

// invariantf reports a state that cannot be reached through the exported API
// and panics.
func invariantf(format string, args ...any) {
	msg := fmt.Sprintf("fib: invariant violated: "+format, args...)
	log.Error(msg)
	panic(msg)
}
