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
	"encoding/json"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/gorse-io/cfbench/base/log"
	"github.com/gorse-io/cfbench/dataset"
	"github.com/gorse-io/cfbench/model"
	"github.com/gorse-io/cfbench/model/mf"
)

func addDataFlags(flags *pflag.FlagSet) {
	flags.String("load-builtin", "", "load data from built-in")
	flags.String("load-csv", "", "load data from CSV file")
	flags.String("csv-sep", "\t", "load CSV file with separator")
	flags.Bool("csv-header", false, "load CSV file with header")
}

func addSplitFlags(flags *pflag.FlagSet) {
	flags.Float32("test-ratio", 0.2, "ratio of test set")
	flags.Int("n-test-users", 0, "number of users for sampled test set")
	flags.Int64("seed", 0, "random seed of the split")
}

func addEvalFlags(flags *pflag.FlagSet) {
	flags.Int("top-k", 10, "length of recommendation list")
	flags.Int("n-negatives", 100, "number of negative samples")
	flags.IntP("jobs", "j", runtime.NumCPU(), "number of jobs for model fitting")
	flags.Int("verbose", 10, "verbose period")
}

// loadDataset loads the full rating dataset selected by the data flags.
func loadDataset(flags *pflag.FlagSet) (*dataset.Dataset, string) {
	if flags.Changed("load-builtin") {
		name, _ := flags.GetString("load-builtin")
		log.Logger().Info("load built-in dataset", zap.String("name", name))
		data, err := dataset.LoadDataFromBuiltIn(name)
		if err != nil {
			log.Logger().Fatal("failed to load built-in dataset", zap.String("name", name), zap.Error(err))
		}
		return data, name
	} else if flags.Changed("load-csv") {
		name, _ := flags.GetString("load-csv")
		sep, _ := flags.GetString("csv-sep")
		header, _ := flags.GetBool("csv-header")
		log.Logger().Info("load csv file", zap.String("csv_file", name))
		data, err := dataset.LoadDataFromCSV(name, sep, header)
		if err != nil {
			log.Logger().Fatal("failed to load csv file", zap.String("csv_file", name), zap.Error(err))
		}
		return data, name
	}
	log.Logger().Fatal("no dataset specified, use --load-builtin or --load-csv",
		zap.Strings("built-in datasets", dataset.BuiltinDatasets()))
	return nil, ""
}

// loadSplits loads the dataset and splits it by the split flags.
func loadSplits(flags *pflag.FlagSet) (trainSet, testSet *dataset.Dataset, name string) {
	data, name := loadDataset(flags)
	testRatio, _ := flags.GetFloat32("test-ratio")
	numTestUsers, _ := flags.GetInt("n-test-users")
	seed, _ := flags.GetInt64("seed")
	log.Logger().Info("loaded dataset",
		zap.String("dataset", name),
		zap.Int("n_users", data.CountUsers()),
		zap.Int("n_items", data.CountItems()),
		zap.Int("n_feedback", data.CountFeedback()))
	trainSet, testSet = data.Split(testRatio, numTestUsers, seed)
	return trainSet, testSet, name
}

func loadFitConfig(flags *pflag.FlagSet) *mf.FitConfig {
	fitConfig := mf.NewFitConfig()
	fitConfig.Verbose, _ = flags.GetInt("verbose")
	fitConfig.Jobs, _ = flags.GetInt("jobs")
	fitConfig.TopK, _ = flags.GetInt("top-k")
	fitConfig.Candidates, _ = flags.GetInt("n-negatives")
	return fitConfig
}

/* Flags for hyper-parameters */

const (
	intFlag    = 0
	floatFlag  = 1
	stringFlag = 2
)

type paramFlag struct {
	Type int
	Key  model.ParamName
	Name string
	Help string
}

var paramFlags = []paramFlag{
	{floatFlag, model.Lr, "lr", "learning rate"},
	{floatFlag, model.Reg, "reg", "regularization strength"},
	{intFlag, model.NEpochs, "n-epochs", "number of epochs"},
	{intFlag, model.NFactors, "n-factors", "number of factors"},
	{floatFlag, model.InitMean, "init-mean", "mean of gaussian initial parameters"},
	{floatFlag, model.InitStdDev, "init-std", "standard deviation of gaussian initial parameters"},
	{floatFlag, model.Alpha, "alpha", "weight of negative samples"},
	{stringFlag, model.LrSchedule, "lr-schedule", "learning rate schedule (constant or cosine)"},
}

func addParamFlags(flags *pflag.FlagSet) {
	for _, f := range paramFlags {
		flags.String(f.Name, "", f.Help)
	}
}

// parseParamFlags collects changed hyper-parameter flags into a grid. Each
// flag takes a single value or a comma separated list.
func parseParamFlags(flags *pflag.FlagSet) model.ParamsGrid {
	grid := make(model.ParamsGrid)
	for _, f := range paramFlags {
		if flags.Changed(f.Name) {
			text, err := flags.GetString(f.Name)
			if err != nil {
				log.Logger().Fatal("failed to get arguments", zap.Error(err))
			}
			grid[f.Key] = parseParamList(text, f.Type)
		}
	}
	return grid
}

func parseParamList(text string, tp int) []interface{} {
	if text == "" {
		log.Logger().Fatal("empty string for param list")
	}
	if text[0] == '[' && text[len(text)-1] == ']' {
		text = text[1 : len(text)-1]
	}
	paramTexts := strings.Split(text, ",")
	params := make([]interface{}, len(paramTexts))
	for i, paramText := range paramTexts {
		params[i] = parseParam(strings.TrimSpace(paramText), tp)
	}
	return params
}

func parseParam(text string, tp int) interface{} {
	switch tp {
	case intFlag:
		i, err := strconv.Atoi(text)
		if err != nil {
			log.Logger().Fatal("failed to parse param", zap.Error(err))
		}
		return i
	case floatFlag:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			log.Logger().Fatal("failed to parse param", zap.Error(err))
		}
		return f
	case stringFlag:
		return text
	default:
		log.Logger().Fatal("unknown parameter type", zap.Int("type", tp))
		return nil
	}
}

// writeResults persists scalar results as JSON for later rule checks.
func writeResults(path string, results map[string]any) {
	encoded, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		log.Logger().Fatal("failed to encode results", zap.Error(err))
	}
	if err := os.WriteFile(path, encoded, 0644); err != nil {
		log.Logger().Fatal("failed to write results", zap.String("path", path), zap.Error(err))
	}
	log.Logger().Info("write results", zap.String("path", path))
}
