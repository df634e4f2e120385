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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/gorse-io/cfbench/base/log"
	"github.com/gorse-io/cfbench/cmd/version"
	"github.com/gorse-io/cfbench/config"
	"github.com/gorse-io/cfbench/model"
	"github.com/gorse-io/cfbench/model/mf"
	"github.com/gorse-io/cfbench/storage/blob"
)

func init() {
	rootCommand.AddCommand(testCommand)
	flags := testCommand.Flags()
	addDataFlags(flags)
	addSplitFlags(flags)
	addEvalFlags(flags)
	addParamFlags(flags)
	flags.String("model", "mf", "model to train (mf or bpr)")
	flags.StringP("config", "c", "", "configuration file path for the artifact store")
	flags.String("model-path", "", "name of the model artifact to save")
	flags.String("results-path", "", "path of the results JSON to save")
}

var testCommand = &cobra.Command{
	Use:   "test",
	Short: "Train and evaluate a model on a rating dataset.",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogger(cmd)
		flags := cmd.Flags()
		modelName, _ := flags.GetString("model")
		m, err := mf.NewModel(modelName, nil)
		if err != nil {
			log.Logger().Fatal("failed to create model", zap.String("name", modelName), zap.Error(err))
		}
		trainSet, testSet, datasetName := loadSplits(flags)
		grid := parseParamFlags(flags)
		log.Logger().Info("load hyper-parameters grid", zap.Any("grid", grid))
		fitConfig := loadFitConfig(flags)

		// fit the model, scanning the grid when a flag lists several values
		ctx := context.Background()
		fitStart := time.Now()
		var params model.Params
		if grid.Len() > 0 {
			result := mf.GridSearchCV(ctx, m, trainSet, testSet, grid, 0, fitConfig)
			m = result.BestModel
			params = result.BestParams
		} else {
			m.Fit(ctx, trainSet, testSet, fitConfig)
			params = m.GetParams()
		}
		fitSeconds := time.Since(fitStart).Seconds()

		// evaluate on the test split
		evalStart := time.Now()
		ranking := mf.Evaluate(ctx, m, testSet, trainSet, fitConfig.TopK, fitConfig.Candidates, fitConfig.Jobs,
			mf.NDCG, mf.Precision, mf.Recall, mf.MAP)
		var rating mf.RatingScore
		if mf.GetModelName(m) == "mf" {
			rating = mf.EvaluateRating(ctx, m, testSet, fitConfig.Jobs)
		}
		evalSeconds := time.Since(evalStart).Seconds()

		// render table
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Metric", "Value")
		rows := [][]string{
			{fmt.Sprintf("NDCG@%d", fitConfig.TopK), fmt.Sprintf("%v", ranking[0])},
			{fmt.Sprintf("Precision@%d", fitConfig.TopK), fmt.Sprintf("%v", ranking[1])},
			{fmt.Sprintf("Recall@%d", fitConfig.TopK), fmt.Sprintf("%v", ranking[2])},
			{fmt.Sprintf("MAP@%d", fitConfig.TopK), fmt.Sprintf("%v", ranking[3])},
			{"RMSE", fmt.Sprintf("%v", rating.RMSE)},
			{"MAE", fmt.Sprintf("%v", rating.MAE)},
			{"R2", fmt.Sprintf("%v", rating.R2)},
			{"ExplainedVariance", fmt.Sprintf("%v", rating.ExplainedVariance)},
			{"FitSeconds", fmt.Sprintf("%.3f", fitSeconds)},
			{"EvalSeconds", fmt.Sprintf("%.3f", evalSeconds)},
		}
		for _, row := range rows {
			if err := table.Append(row); err != nil {
				log.Logger().Fatal("failed to render table", zap.Error(err))
			}
		}
		if err := table.Render(); err != nil {
			log.Logger().Fatal("failed to render table", zap.Error(err))
		}

		// save the model artifact
		if modelPath, _ := flags.GetString("model-path"); modelPath != "" {
			saveModel(flags, modelPath, m)
		}
		// save results
		if resultsPath, _ := flags.GetString("results-path"); resultsPath != "" {
			writeResults(resultsPath, map[string]any{
				"model":              mf.GetModelName(m),
				"dataset":            datasetName,
				"params":             params,
				"train_users":        trainSet.CountUsers(),
				"train_items":        trainSet.CountItems(),
				"train_feedback":     trainSet.CountFeedback(),
				"test_feedback":      testSet.CountFeedback(),
				"top_k":              fitConfig.TopK,
				"n_negatives":        fitConfig.Candidates,
				"ndcg":               ranking[0],
				"precision":          ranking[1],
				"recall":             ranking[2],
				"map":                ranking[3],
				"rmse":               rating.RMSE,
				"mae":                rating.MAE,
				"r2":                 rating.R2,
				"explained_variance": rating.ExplainedVariance,
				"fit_seconds":        fitSeconds,
				"eval_seconds":       evalSeconds,
				"finished_at":        time.Now().UTC().Format(time.RFC3339),
				"version":            version.Version,
			})
		}
	},
}

// saveModel writes the model blob through the artifact store selected by the
// configuration file, defaulting to the local directory store.
func saveModel(flags *pflag.FlagSet, name string, m mf.MatrixFactorization) {
	conf := config.GetDefaultConfig()
	if configPath, _ := flags.GetString("config"); configPath != "" {
		var err error
		conf, err = config.LoadConfig(configPath)
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}
	}
	store, err := blob.NewStore(conf)
	if err != nil {
		log.Logger().Fatal("failed to open artifact store", zap.Error(err))
	}
	w, done, err := store.Create(name)
	if err != nil {
		log.Logger().Fatal("failed to create artifact", zap.String("name", name), zap.Error(err))
	}
	if err := mf.MarshalModel(w, m); err != nil {
		log.Logger().Fatal("failed to marshal model", zap.Error(err))
	}
	if err := w.Close(); err != nil {
		log.Logger().Fatal("failed to close artifact", zap.Error(err))
	}
	<-done
	log.Logger().Info("save model", zap.String("name", name), zap.String("store", conf.Artifact.Store))
}
