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

	"github.com/c-bata/goptuna"
	"github.com/c-bata/goptuna/tpe"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/gorse-io/cfbench/base/log"
	"github.com/gorse-io/cfbench/cmd/version"
	"github.com/gorse-io/cfbench/dataset"
	"github.com/gorse-io/cfbench/model/mf"
)

func init() {
	rootCommand.AddCommand(tuneCommand)
	flags := tuneCommand.Flags()
	addDataFlags(flags)
	addSplitFlags(flags)
	addEvalFlags(flags)
	addParamFlags(flags)
	flags.String("model", "", "model to tune (mf or bpr, all models when empty)")
	flags.Int("n-trials", 10, "number of trials")
	flags.String("sampler", "tpe", "search sampler (tpe, random or grid)")
	flags.String("results-path", "", "path of the results JSON to save")
}

var tuneCommand = &cobra.Command{
	Use:   "tune",
	Short: "Search hyper-parameters for a model on a rating dataset.",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogger(cmd)
		flags := cmd.Flags()
		trainSet, testSet, datasetName := loadSplits(flags)
		fitConfig := loadFitConfig(flags)
		numTrials, _ := flags.GetInt("n-trials")
		sampler, _ := flags.GetString("sampler")
		modelName, _ := flags.GetString("model")

		searchStart := time.Now()
		var best mf.SearchResult
		switch sampler {
		case "tpe":
			best = tuneTPE(modelName, trainSet, testSet, fitConfig, numTrials)
		case "random", "grid":
			best = tuneGrid(flags, sampler, modelName, trainSet, testSet, fitConfig, numTrials)
		default:
			log.Logger().Fatal("unknown sampler", zap.String("sampler", sampler))
		}
		searchSeconds := time.Since(searchStart).Seconds()

		// render the best trial
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Model", fmt.Sprintf("NDCG@%d", fitConfig.TopK), "RMSE", "Params")
		if err := table.Append([]string{
			best.Type,
			fmt.Sprintf("%v", best.Score.NDCG),
			fmt.Sprintf("%v", best.Score.RMSE),
			best.Params.ToString(),
		}); err != nil {
			log.Logger().Fatal("failed to render table", zap.Error(err))
		}
		if err := table.Render(); err != nil {
			log.Logger().Fatal("failed to render table", zap.Error(err))
		}
		log.Logger().Info("complete search",
			zap.String("sampler", sampler),
			zap.Float64("search_seconds", searchSeconds))

		if resultsPath, _ := flags.GetString("results-path"); resultsPath != "" {
			writeResults(resultsPath, map[string]any{
				"model":          best.Type,
				"dataset":        datasetName,
				"sampler":        sampler,
				"n_trials":       numTrials,
				"params":         best.Params,
				"ndcg":           best.Score.NDCG,
				"precision":      best.Score.Precision,
				"recall":         best.Score.Recall,
				"map":            best.Score.MAP,
				"rmse":           best.Score.RMSE,
				"mae":            best.Score.MAE,
				"search_seconds": searchSeconds,
				"finished_at":    time.Now().UTC().Format(time.RFC3339),
				"version":        version.Version,
			})
		}
	},
}

// tuneTPE searches model types and hyper-parameters with goptuna trials.
func tuneTPE(modelName string, trainSet, testSet dataset.CFSplit, fitConfig *mf.FitConfig, numTrials int) mf.SearchResult {
	models := map[string]mf.ModelCreator{
		"mf":  func() mf.MatrixFactorization { return mf.NewMF(nil) },
		"bpr": func() mf.MatrixFactorization { return mf.NewBPR(nil) },
	}
	if modelName != "" {
		creator, exist := models[modelName]
		if !exist {
			log.Logger().Fatal("unknown model", zap.String("name", modelName))
		}
		models = map[string]mf.ModelCreator{modelName: creator}
	}
	search := mf.NewModelSearch(models, trainSet, testSet, fitConfig)
	study, err := goptuna.CreateStudy("cfbench",
		goptuna.StudyOptionDirection(goptuna.StudyDirectionMaximize),
		goptuna.StudyOptionSampler(tpe.NewSampler()))
	if err != nil {
		log.Logger().Fatal("failed to create study", zap.Error(err))
	}
	if err = study.Optimize(search.Objective, numTrials); err != nil {
		log.Logger().Fatal("failed to optimize study", zap.Error(err))
	}
	return search.Result()
}

// tuneGrid scans the parameter grid of one model exhaustively or at random.
func tuneGrid(flags *pflag.FlagSet, sampler, modelName string, trainSet, testSet dataset.CFSplit,
	fitConfig *mf.FitConfig, numTrials int) mf.SearchResult {
	if modelName == "" {
		modelName = "mf"
	}
	m, err := mf.NewModel(modelName, nil)
	if err != nil {
		log.Logger().Fatal("failed to create model", zap.String("name", modelName), zap.Error(err))
	}
	grid := parseParamFlags(flags)
	grid.Fill(m.GetParamsGrid(false))
	seed, _ := flags.GetInt64("seed")
	var result mf.ParamsSearchResult
	if sampler == "grid" {
		result = mf.GridSearchCV(context.Background(), m, trainSet, testSet, grid, seed, fitConfig)
	} else {
		result = mf.RandomSearchCV(context.Background(), m, trainSet, testSet, grid, numTrials, seed, fitConfig)
	}
	// render trials
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", fmt.Sprintf("NDCG@%d", fitConfig.TopK), fmt.Sprintf("Precision@%d", fitConfig.TopK),
		fmt.Sprintf("Recall@%d", fitConfig.TopK), "Params")
	for i := range result.Params {
		score := result.Scores[i]
		if err := table.Append([]string{
			fmt.Sprintf("%v", i),
			fmt.Sprintf("%v", score.NDCG),
			fmt.Sprintf("%v", score.Precision),
			fmt.Sprintf("%v", score.Recall),
			result.Params[i].ToString(),
		}); err != nil {
			log.Logger().Fatal("failed to render table", zap.Error(err))
		}
	}
	if err := table.Render(); err != nil {
		log.Logger().Fatal("failed to render table", zap.Error(err))
	}
	return mf.SearchResult{
		Type:   modelName,
		Params: result.BestParams,
		Score:  result.BestScore,
	}
}
