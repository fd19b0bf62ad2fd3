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

package main

import (
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/openconfig/fibgo/afthelper"
	"github.com/openconfig/fibgo/fib"
	"github.com/openconfig/fibgo/oid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newLookupCmd(vp *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup VRF PREFIX",
		Short: "Show the next hops that traffic to a prefix uses",
		Long: `Apply a scenario, find the route that traffic to PREFIX in the VRF named
VRF uses, and print the next-hop addresses it resolves to with their weights.
PREFIX may be an address.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLookup(cmd, vp, args[0], args[1])
		},
	}
}

func parsePrefix(s string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p, nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid prefix %q", s)
	}
	return netip.PrefixFrom(a, a.BitLen()), nil
}

func runLookup(cmd *cobra.Command, vp *viper.Viper, vrfName, prefix string) error {
	p, err := parsePrefix(prefix)
	if err != nil {
		return err
	}
	f, names, err := buildFIB(vp)
	if err != nil {
		return err
	}
	defer f.Teardown()

	vrf, ok := names[vrfName]
	if !ok || !vrf.Is(oid.VirtualRouter) {
		return fmt.Errorf("unknown VRF %q", vrfName)
	}
	var nhs map[string]*afthelper.NextHopSummary
	if err := f.Do(func(tx *fib.Txn) error {
		var err error
		nhs, err = afthelper.NextHopAddrsForPrefix(tx, vrf, p)
		return err
	}); err != nil {
		return err
	}
	bs, err := json.MarshalIndent(nhs, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(bs))
	return err
}
