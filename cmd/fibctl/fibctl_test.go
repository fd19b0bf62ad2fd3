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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/openconfig/fibgo/afthelper"
)

const scenarioFile = "../../scenario/testdata/two_tier.yaml"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestApply(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "fibctl.yaml")
	if err := os.WriteFile(cfg, []byte("scenario: "+scenarioFile+"\n"), 0o644); err != nil {
		t.Fatalf("cannot write config, %v", err)
	}

	tests := []struct {
		desc    string
		inArgs  []string
		inEnv   string
		wantErr string
	}{{
		desc:   "scenario flag",
		inArgs: []string{"apply", "--scenario", scenarioFile},
	}, {
		desc:   "scenario from environment",
		inArgs: []string{"apply"},
		inEnv:  scenarioFile,
	}, {
		desc:   "scenario from config file",
		inArgs: []string{"apply", "--config", cfg},
	}, {
		desc:    "no scenario",
		inArgs:  []string{"apply"},
		wantErr: "no scenario given",
	}, {
		desc:    "missing scenario file",
		inArgs:  []string{"apply", "-s", "does-not-exist.yaml"},
		wantErr: "reading scenario",
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			t.Setenv("FIBCTL_SCENARIO", tt.inEnv)
			got, err := run(t, tt.inArgs...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("got error %v, want error containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			for _, want := range []string{"ROUTE_TABLE:", "198.51.100.0/24", "NEXTHOP_GROUP_TABLE:", "NEIGH_TABLE:"} {
				if !strings.Contains(got, want) {
					t.Errorf("output does not contain %q, got:\n%s", want, got)
				}
			}
		})
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		desc    string
		inArgs  []string
		want    map[string]*afthelper.NextHopSummary
		wantErr string
	}{{
		desc:   "overlay address over the tunnel",
		inArgs: []string{"lookup", "blue", "198.51.100.7", "-s", scenarioFile},
		want: map[string]*afthelper.NextHopSummary{
			"10.0.0.1": {Weight: 1, Address: "10.0.0.1"},
			"10.0.0.2": {Weight: 1, Address: "10.0.0.2"},
		},
	}, {
		desc:    "unknown vrf",
		inArgs:  []string{"lookup", "red", "198.51.100.7", "-s", scenarioFile},
		wantErr: `unknown VRF "red"`,
	}, {
		desc:    "invalid prefix",
		inArgs:  []string{"lookup", "blue", "not-an-address", "-s", scenarioFile},
		wantErr: "invalid prefix",
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			out, err := run(t, tt.inArgs...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("got error %v, want error containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			got := map[string]*afthelper.NextHopSummary{}
			if err := json.Unmarshal([]byte(out), &got); err != nil {
				t.Fatalf("cannot parse output %q, %v", out, err)
			}
			if diff := cmp.Diff(tt.want, got, cmpopts.IgnoreFields(afthelper.NextHopSummary{}, "NetworkInstance")); diff != "" {
				t.Errorf("lookup: diff(-want,+got):\n%s", diff)
			}
		})
	}
}
