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
	"fmt"
	"strings"

	"github.com/openconfig/fibgo/backend/sim"
	"github.com/openconfig/fibgo/fib"
	"github.com/openconfig/fibgo/oid"
	"github.com/openconfig/fibgo/scenario"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// envPrefix is the prefix of environment variables that set flags,
	// FIBCTL_GNMI_ADDR for --gnmi-addr.
	envPrefix = "fibctl"

	keyConfig   = "config"
	keyScenario = "scenario"
)

func newViper() *viper.Viper {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vp.AutomaticEnv()
	return vp
}

func newRootCmd() *cobra.Command {
	vp := newViper()
	root := &cobra.Command{
		Use:          "fibctl",
		Short:        "Build, inspect and serve an in-memory FIB",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := vp.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg := vp.GetString(keyConfig)
			if cfg == "" {
				return nil
			}
			vp.SetConfigFile(cfg)
			if err := vp.ReadInConfig(); err != nil {
				return fmt.Errorf("cannot read config %s, %v", cfg, err)
			}
			return nil
		},
	}
	flags := root.PersistentFlags()
	flags.String(keyConfig, "", "YAML file holding flag values")
	flags.StringP(keyScenario, "s", "", "scenario file describing the FIB topology")

	root.AddCommand(
		newApplyCmd(vp),
		newLookupCmd(vp),
		newServeCmd(vp),
	)
	return root
}

// loadScenario reads the scenario named by the scenario setting.
func loadScenario(vp *viper.Viper) (*scenario.Scenario, error) {
	path := vp.GetString(keyScenario)
	if path == "" {
		return nil, fmt.Errorf("no scenario given, use --%s or %s_SCENARIO", keyScenario, strings.ToUpper(envPrefix))
	}
	return scenario.LoadFile(path)
}

// buildFIB returns a FIB built from the scenario setting, programmed to a
// simulated backend, and the IDs of the named objects.
func buildFIB(vp *viper.Viper) (*fib.FIB, map[string]oid.ID, error) {
	s, err := loadScenario(vp)
	if err != nil {
		return nil, nil, err
	}
	f := fib.New(append(s.Options(), fib.WithBackend(sim.New()))...)
	if err := f.Init(); err != nil {
		return nil, nil, err
	}
	names, err := s.Apply(f)
	if err != nil {
		return nil, nil, err
	}
	return f, names, nil
}
