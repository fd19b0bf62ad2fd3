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
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/golang/glog"
	"github.com/openconfig/fibgo/device"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	keyGNMIAddr    = "gnmi-addr"
	keyTarget      = "target"
	keyMetricsAddr = "metrics-addr"
	keyRedisAddr   = "redis-addr"
	keyRedisDB     = "redis-db"
)

func newServeCmd(vp *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a fake device serving the FIB over gNMI",
		Long: `Run a fake device built from the scenario, if one is given. The FIB is
streamed over gNMI, its statistics are exported for Prometheus, and each
object is optionally mirrored to Redis.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), vp)
		},
	}
	flags := cmd.Flags()
	flags.String(keyGNMIAddr, "localhost:9339", "address the gNMI server listens on")
	flags.String(keyTarget, "DUT", "gNMI target name of the device")
	flags.String(keyMetricsAddr, "", "address /metrics is served on, disabled when empty")
	flags.String(keyRedisAddr, "", "Redis server that objects are mirrored to, disabled when empty")
	flags.Int(keyRedisDB, 0, "Redis database number")
	return cmd
}

func runServe(ctx context.Context, vp *viper.Viper) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []device.DevOpt{device.GNMIAddr(vp.GetString(keyGNMIAddr), vp.GetString(keyTarget))}
	if vp.GetString(keyScenario) != "" {
		s, err := loadScenario(vp)
		if err != nil {
			return err
		}
		opts = append(opts, device.Scenario(s))
	}
	if addr := vp.GetString(keyMetricsAddr); addr != "" {
		opts = append(opts, device.MetricsAddr(addr))
	}
	if addr := vp.GetString(keyRedisAddr); addr != "" {
		opts = append(opts, device.RedisMirror(addr, vp.GetInt(keyRedisDB)))
	}

	d, cancel, err := device.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer cancel()
	log.Infof("listening on:\n\tgNMI: %s\n\tmetrics: %s", d.GNMIAddr(), d.MetricsAddr())
	<-ctx.Done()
	return nil
}
