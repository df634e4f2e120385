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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParamList(t *testing.T) {
	assert.Equal(t, []interface{}{1, 2, 3}, parseParamList("1,2,3", intFlag))
	assert.Equal(t, []interface{}{10, 20}, parseParamList("[10, 20]", intFlag))
	assert.Equal(t, []interface{}{0.01, 0.1}, parseParamList("0.01,0.1", floatFlag))
	assert.Equal(t, []interface{}{"constant", "cosine"}, parseParamList("constant,cosine", stringFlag))
}

func TestFlattenResults(t *testing.T) {
	env := make(map[string]any)
	flattenResults("", map[string]any{
		"ndcg": 0.3,
		"tasks": map[string]any{
			"score": map[string]any{"p95_ms": 12.5},
		},
	}, env)
	assert.Equal(t, map[string]any{
		"ndcg":               0.3,
		"tasks_score_p95_ms": 12.5,
	}, env)
}

func TestEvaluateRule(t *testing.T) {
	env := map[string]any{"ndcg": 0.32, "rmse": 0.91}
	ok, err := evaluateRule("ndcg > 0.3 && rmse < 1.0", env)
	assert.NoError(t, err)
	assert.True(t, ok)
	ok, err = evaluateRule("rmse < 0.9", env)
	assert.NoError(t, err)
	assert.False(t, ok)
	// unknown identifiers fail at compile time
	_, err = evaluateRule("ndgc > 0.3", env)
	assert.Error(t, err)
	// non-boolean expressions are rejected
	_, err = evaluateRule("ndcg + 1", env)
	assert.Error(t, err)
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.txt")
	require.NoError(t, os.WriteFile(path, []byte(
		"# latency\ntasks_score_p95_ms < 100\n\nndcg > 0.3\n"), 0644))
	rules, err := loadRules(path)
	assert.NoError(t, err)
	assert.Equal(t, []string{"tasks_score_p95_ms < 100", "ndcg > 0.3"}, rules)
}

func TestLoadResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"ndcg": 0.32, "tasks": {"ready": {"p99_ms": 3.0}}}`), 0644))
	env, err := loadResults(path)
	assert.NoError(t, err)
	assert.Equal(t, 0.32, env["ndcg"])
	assert.Equal(t, 3.0, env["tasks_ready_p99_ms"])
}
