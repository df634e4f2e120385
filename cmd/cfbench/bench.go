// Copyright 2026 cfbench Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gorse-io/cfbench/base/log"
	"github.com/gorse-io/cfbench/loadtest"
)

func init() {
	rootCommand.AddCommand(benchCommand)
	flags := benchCommand.Flags()
	flags.String("scenario", "", "scenario file path")
	flags.String("host", "", "host of the target server (overrides the scenario)")
	flags.String("token", "", "API key of the target server (overrides the scenario)")
	flags.Duration("timeout", 0, "request timeout (overrides the scenario)")
	flags.IntP("users", "u", 1, "number of concurrent users")
	flags.Float64P("spawn-rate", "r", 10, "users spawned per second")
	flags.DurationP("duration", "t", time.Minute, "duration of the load test")
	flags.String("results-path", "", "path of the results JSON to save")
	if err := benchCommand.MarkFlagRequired("scenario"); err != nil {
		log.Logger().Fatal("failed to mark flag required", zap.Error(err))
	}
}

var benchCommand = &cobra.Command{
	Use:   "bench",
	Short: "Load test a scoring server with a scenario.",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogger(cmd)
		flags := cmd.Flags()

		scenarioPath, _ := flags.GetString("scenario")
		scenario, err := loadtest.LoadScenario(scenarioPath)
		if err != nil {
			log.Logger().Fatal("failed to load scenario",
				zap.String("scenario", scenarioPath), zap.Error(err))
		}
		if host, _ := flags.GetString("host"); host != "" {
			scenario.Host = strings.TrimSuffix(host, "/")
		}
		if token, _ := flags.GetString("token"); token != "" {
			scenario.Token = token
		}
		if timeout, _ := flags.GetDuration("timeout"); timeout > 0 {
			scenario.Timeout = timeout
		}

		users, _ := flags.GetInt("users")
		spawnRate, _ := flags.GetFloat64("spawn-rate")
		duration, _ := flags.GetDuration("duration")
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		runner := loadtest.NewRunner(scenario, users, spawnRate, duration)
		report, err := runner.Run(ctx)
		if err != nil {
			log.Logger().Warn("load test interrupted", zap.Error(err))
		}
		if report == nil {
			return
		}
		if err = report.Write(os.Stdout); err != nil {
			log.Logger().Fatal("failed to render report", zap.Error(err))
		}
		if resultsPath, _ := flags.GetString("results-path"); resultsPath != "" {
			writeResults(resultsPath, report.Results())
		}
	},
}
