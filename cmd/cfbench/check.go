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
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gorse-io/cfbench/base/log"
)

func init() {
	rootCommand.AddCommand(checkCommand)
	flags := checkCommand.Flags()
	flags.String("results", "", "path of the results JSON to check")
	flags.String("rules", "", "path of a rules file (one expression per line)")
	flags.StringArray("rule", nil, "rule expression (repeatable)")
	if err := checkCommand.MarkFlagRequired("results"); err != nil {
		log.Logger().Fatal("failed to mark flag required", zap.Error(err))
	}
}

var checkCommand = &cobra.Command{
	Use:   "check",
	Short: "Check results against threshold rules.",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogger(cmd)
		flags := cmd.Flags()
		resultsPath, _ := flags.GetString("results")
		env, err := loadResults(resultsPath)
		if err != nil {
			log.Logger().Fatal("failed to load results",
				zap.String("results", resultsPath), zap.Error(err))
		}

		var rules []string
		if rulesPath, _ := flags.GetString("rules"); rulesPath != "" {
			rules, err = loadRules(rulesPath)
			if err != nil {
				log.Logger().Fatal("failed to load rules",
					zap.String("rules", rulesPath), zap.Error(err))
			}
		}
		inlineRules, _ := flags.GetStringArray("rule")
		rules = append(rules, inlineRules...)
		if len(rules) == 0 {
			log.Logger().Fatal("no rules specified, use --rules or --rule")
		}

		failed := 0
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Rule", "Result")
		for _, rule := range rules {
			result := "PASS"
			if ok, err := evaluateRule(rule, env); err != nil {
				result = fmt.Sprintf("ERROR: %v", err)
				failed++
			} else if !ok {
				result = "FAIL"
				failed++
			}
			if err := table.Append([]string{rule, result}); err != nil {
				log.Logger().Fatal("failed to render table", zap.Error(err))
			}
		}
		if err := table.Render(); err != nil {
			log.Logger().Fatal("failed to render table", zap.Error(err))
		}
		if failed > 0 {
			log.Logger().Error("check failed",
				zap.Int("failed", failed), zap.Int("total", len(rules)))
			os.Exit(1)
		}
		log.Logger().Info("check passed", zap.Int("total", len(rules)))
	},
}

// loadResults reads a results JSON and flattens nested objects so that rules
// can reference per-task stats as identifiers, e.g. tasks_score_p95_ms.
func loadResults(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var results map[string]any
	if err = json.Unmarshal(data, &results); err != nil {
		return nil, err
	}
	env := make(map[string]any)
	flattenResults("", results, env)
	return env, nil
}

func flattenResults(prefix string, value map[string]any, env map[string]any) {
	for key, v := range value {
		name := key
		if prefix != "" {
			name = prefix + "_" + key
		}
		if nested, ok := v.(map[string]any); ok {
			flattenResults(name, nested, env)
		} else {
			env[name] = v
		}
	}
}

// loadRules reads one expression per line. Blank lines and lines starting
// with # are skipped.
func loadRules(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rules []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rules = append(rules, line)
	}
	return rules, scanner.Err()
}

func evaluateRule(rule string, env map[string]any) (bool, error) {
	program, err := expr.Compile(rule, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, err
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}
