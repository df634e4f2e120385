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
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/jaswdr/faker"
	"github.com/juju/errors"
	"github.com/nikolalohinski/gonja/v2"
	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/spf13/viper"
)

// TaskConfig is one [[task]] entry of a scenario file.
type TaskConfig struct {
	Name   string `mapstructure:"name"`
	Method string `mapstructure:"method"`
	Path   string `mapstructure:"path"`
	Weight int    `mapstructure:"weight"`
	Body   string `mapstructure:"body"`
}

// ScenarioConfig is the raw content of a scenario file.
type ScenarioConfig struct {
	Host         string        `mapstructure:"host"`
	Token        string        `mapstructure:"token"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ThinkTimeMin time.Duration `mapstructure:"think_time_min"`
	ThinkTimeMax time.Duration `mapstructure:"think_time_max"`
	UserIds      []string      `mapstructure:"user_ids"`
	ItemIds      []string      `mapstructure:"item_ids"`
	Tasks        []TaskConfig  `mapstructure:"task"`
}

// Task is a compiled scenario task. Tasks with zero weight are disabled.
type Task struct {
	Name     string
	Method   string
	Path     string
	Weight   int
	template *exec.Template
}

// RenderBody renders the JSON body template with the given context. Tasks
// without a body return an empty string.
func (t *Task) RenderBody(vars map[string]any) (string, error) {
	if t.template == nil {
		return "", nil
	}
	var buf strings.Builder
	if err := t.template.Execute(&buf, exec.NewContext(vars)); err != nil {
		return "", errors.Trace(err)
	}
	return buf.String(), nil
}

// Scenario is a compiled load test scenario.
type Scenario struct {
	Host         string
	Token        string
	Timeout      time.Duration
	ThinkTimeMin time.Duration
	ThinkTimeMax time.Duration
	UserIds      []string
	ItemIds      []string
	Tasks        []*Task

	totalWeight int
}

// LoadScenario loads and compiles a scenario from a TOML file.
func LoadScenario(path string) (*Scenario, error) {
	v := viper.New()
	v.SetDefault("timeout", 10*time.Second)
	v.SetDefault("think_time_min", time.Duration(0))
	v.SetDefault("think_time_max", time.Duration(0))
	v.SetConfigType("toml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Trace(err)
	}
	var cfg ScenarioConfig
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(",")))); err != nil {
		return nil, errors.Trace(err)
	}
	return NewScenario(cfg)
}

// NewScenario compiles a scenario from its raw configuration.
func NewScenario(cfg ScenarioConfig) (*Scenario, error) {
	if len(cfg.Tasks) == 0 {
		return nil, errors.BadRequestf("scenario has no tasks")
	}
	if cfg.ThinkTimeMax < cfg.ThinkTimeMin {
		return nil, errors.BadRequestf("think_time_max is less than think_time_min")
	}
	scenario := &Scenario{
		Host:         strings.TrimSuffix(cfg.Host, "/"),
		Token:        cfg.Token,
		Timeout:      cfg.Timeout,
		ThinkTimeMin: cfg.ThinkTimeMin,
		ThinkTimeMax: cfg.ThinkTimeMax,
		UserIds:      cfg.UserIds,
		ItemIds:      cfg.ItemIds,
	}
	for _, taskConfig := range cfg.Tasks {
		if taskConfig.Name == "" {
			return nil, errors.BadRequestf("task has no name")
		}
		if taskConfig.Weight < 0 {
			return nil, errors.BadRequestf("task %s has negative weight", taskConfig.Name)
		}
		method := strings.ToUpper(taskConfig.Method)
		if method == "" {
			method = http.MethodGet
		}
		task := &Task{
			Name:   taskConfig.Name,
			Method: method,
			Path:   taskConfig.Path,
			Weight: taskConfig.Weight,
		}
		if taskConfig.Body != "" {
			template, err := gonja.FromString(taskConfig.Body)
			if err != nil {
				return nil, errors.Annotatef(err, "task %s", taskConfig.Name)
			}
			task.template = template
		}
		scenario.Tasks = append(scenario.Tasks, task)
		scenario.totalWeight += task.Weight
	}
	if scenario.totalWeight == 0 {
		return nil, errors.BadRequestf("all tasks are disabled")
	}
	return scenario, nil
}

// Pick returns a weighted random task.
func (s *Scenario) Pick(rng *rand.Rand) *Task {
	draw := rng.Intn(s.totalWeight)
	for _, task := range s.Tasks {
		draw -= task.Weight
		if draw < 0 {
			return task
		}
	}
	return s.Tasks[len(s.Tasks)-1]
}

// templateContext builds the variables available to body templates: synthetic
// identifiers plus the state of the current wave.
func (s *Scenario) templateContext(f *faker.Faker, rng *rand.Rand, userIndex, iteration int) map[string]any {
	userId := f.UUID().V4()
	if len(s.UserIds) > 0 {
		userId = s.UserIds[rng.Intn(len(s.UserIds))]
	}
	itemId := f.UUID().V4()
	if len(s.ItemIds) > 0 {
		itemId = s.ItemIds[rng.Intn(len(s.ItemIds))]
	}
	return map[string]any{
		"user_index": userIndex,
		"iteration":  iteration,
		"user_id":    userId,
		"item_id":    itemId,
		"rand_int":   f.IntBetween(0, 1000000),
	}
}
