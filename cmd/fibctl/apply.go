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

	"github.com/openconfig/fibgo/fib"
	"github.com/openconfig/fibgo/mirror"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newApplyCmd(vp *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Apply a scenario and print the resulting objects",
		Long: `Apply a scenario to an empty FIB and print every object, keyed by the
table entry that it is mirrored to.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApply(cmd, vp)
		},
	}
}

func runApply(cmd *cobra.Command, vp *viper.Viper) error {
	f, _, err := buildFIB(vp)
	if err != nil {
		return err
	}
	defer f.Teardown()

	out := map[string]map[string]string{}
	if err := f.Do(func(tx *fib.Txn) error {
		for _, o := range tx.Objects() {
			out[mirror.Key(o)] = mirror.Fields(o)
		}
		return nil
	}); err != nil {
		return err
	}
	bs, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal objects to YAML: %w", err)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), string(bs))
	return err
}
