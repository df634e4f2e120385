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
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/gorse-io/cfbench/base/log"
	"github.com/gorse-io/cfbench/config"
	"github.com/gorse-io/cfbench/model/mf"
	"github.com/gorse-io/cfbench/server"
	"github.com/gorse-io/cfbench/storage/blob"
)

func init() {
	rootCommand.AddCommand(serveCommand)
	flags := serveCommand.Flags()
	flags.StringP("config", "c", "", "configuration file path")
	flags.String("model-path", "", "name of the model artifact to serve")
	addDataFlags(flags)
	if err := serveCommand.MarkFlagRequired("model-path"); err != nil {
		log.Logger().Fatal("failed to mark flag required", zap.Error(err))
	}
}

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Serve a trained model over HTTP.",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogger(cmd)
		flags := cmd.Flags()

		// load config
		var conf *config.Config
		var err error
		if configPath, _ := flags.GetString("config"); configPath != "" {
			log.Logger().Info("load config", zap.String("config", configPath))
			conf, err = config.LoadConfig(configPath)
			if err != nil {
				log.Logger().Fatal("failed to load config", zap.Error(err))
			}
		} else {
			conf = config.GetDefaultConfig()
		}

		// setup tracing
		tracerProvider, err := conf.Tracing.NewTracerProvider()
		if err != nil {
			log.Logger().Fatal("failed to create tracer provider", zap.Error(err))
		}
		otel.SetTracerProvider(tracerProvider)
		otel.SetErrorHandler(log.GetErrorHandler())
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))

		// load model artifact
		modelPath, _ := flags.GetString("model-path")
		store, err := blob.NewStore(conf)
		if err != nil {
			log.Logger().Fatal("failed to create artifact store", zap.Error(err))
		}
		r, err := store.Open(modelPath)
		if err != nil {
			log.Logger().Fatal("failed to open model artifact",
				zap.String("model_path", modelPath), zap.Error(err))
		}
		m, err := mf.UnmarshalModel(r)
		if err != nil {
			log.Logger().Fatal("failed to unmarshal model", zap.Error(err))
		}
		if err = r.Close(); err != nil {
			log.Logger().Fatal("failed to close model artifact", zap.Error(err))
		}
		log.Logger().Info("load model artifact",
			zap.String("model_path", modelPath),
			zap.String("model", mf.GetModelName(m)),
			zap.Any("params", m.GetParams()))

		settings := config.NewSettings()
		settings.Config = conf
		settings.Model = m
		settings.ModelVersion = time.Now().UnixNano()
		restServer := server.NewRestServer(settings)

		// an optional dataset supplies trained items to exclude from recommendations
		if flags.Changed("load-builtin") || flags.Changed("load-csv") {
			trainSet, name := loadDataset(flags)
			log.Logger().Info("load exclusion dataset",
				zap.String("dataset", name),
				zap.Int("n_users", trainSet.CountUsers()),
				zap.Int("n_items", trainSet.CountItems()))
			restServer.TrainSet = trainSet
		}

		// stop the server on interrupt
		done := make(chan os.Signal, 1)
		signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-done
			log.Logger().Info("stop http server", zap.String("signal", sig.String()))
			restServer.Shutdown()
		}()

		if err = restServer.StartHttpServer(); err != nil {
			log.Logger().Fatal("failed to start http server", zap.Error(err))
		}
	},
}
