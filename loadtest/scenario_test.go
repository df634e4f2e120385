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

package loadtest

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jaswdr/faker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScenario = `
host = "http://127.0.0.1:8087"
token = "secret"
timeout = "5s"
think_time_min = "10ms"
think_time_max = "20ms"
user_ids = ["1", "2", "3"]
item_ids = ["10", "20"]

[[task]]
name = "score"
method = "POST"
path = "/api/score"
weight = 3
body = '{"user_id": "{{ user_id }}", "item_id": "{{ item_id }}"}'

[[task]]
name = "ready"
path = "/api/ready"
weight = 1

[[task]]
name = "disabled"
path = "/api/ready"
weight = 0
`

func writeScenario(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "scenario.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario(t *testing.T) {
	scenario, err := LoadScenario(writeScenario(t, testScenario))
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8087", scenario.Host)
	assert.Equal(t, "secret", scenario.Token)
	assert.Equal(t, 5*time.Second, scenario.Timeout)
	assert.Equal(t, 10*time.Millisecond, scenario.ThinkTimeMin)
	assert.Equal(t, 20*time.Millisecond, scenario.ThinkTimeMax)
	require.Len(t, scenario.Tasks, 3)
	assert.Equal(t, "POST", scenario.Tasks[0].Method)
	assert.Equal(t, "GET", scenario.Tasks[1].Method)
	assert.Equal(t, 4, scenario.totalWeight)
}

func TestRenderBody(t *testing.T) {
	scenario, err := LoadScenario(writeScenario(t, testScenario))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(0))
	f := faker.NewWithSeed(rand.NewSource(0))
	body, err := scenario.Tasks[0].RenderBody(scenario.templateContext(&f, rng, 7, 42))
	require.NoError(t, err)
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	assert.Contains(t, []string{"1", "2", "3"}, payload["user_id"])
	assert.Contains(t, []string{"10", "20"}, payload["item_id"])

	// tasks without a body render to an empty string
	body, err = scenario.Tasks[1].RenderBody(nil)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestPick(t *testing.T) {
	scenario, err := LoadScenario(writeScenario(t, testScenario))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(0))
	counts := make(map[string]int)
	for i := 0; i < 4000; i++ {
		counts[scenario.Pick(rng).Name]++
	}
	assert.Zero(t, counts["disabled"])
	assert.Greater(t, counts["score"], counts["ready"])
	assert.Greater(t, counts["ready"], 0)
}

func TestInvalidScenario(t *testing.T) {
	_, err := LoadScenario(writeScenario(t, `host = "http://127.0.0.1"`))
	assert.Error(t, err)
	_, err = LoadScenario(writeScenario(t, `
[[task]]
name = "a"
path = "/"
weight = -1
`))
	assert.Error(t, err)
	_, err = LoadScenario(writeScenario(t, `
[[task]]
name = "a"
path = "/"
weight = 0
`))
	assert.Error(t, err)
	_, err = LoadScenario(writeScenario(t, `
think_time_min = "10ms"
think_time_max = "1ms"
[[task]]
name = "a"
path = "/"
weight = 1
`))
	assert.Error(t, err)
	_, err = LoadScenario(writeScenario(t, `
[[task]]
name = "a"
path = "/"
weight = 1
body = "{{ unclosed"
`))
	assert.Error(t, err)
}
