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
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/stat"
)

// TaskStats are the latency and throughput statistics of one task. Latency
// quantiles cover successful requests only.
type TaskStats struct {
	Name     string  `json:"name"`
	Requests int64   `json:"requests"`
	Failures int64   `json:"failures"`
	Samples  int64   `json:"samples"`
	RPS      float64 `json:"rps"`
	MinMs    float64 `json:"min_ms"`
	MeanMs   float64 `json:"mean_ms"`
	MedianMs float64 `json:"median_ms"`
	P90Ms    float64 `json:"p90_ms"`
	P95Ms    float64 `json:"p95_ms"`
	P99Ms    float64 `json:"p99_ms"`
	MaxMs    float64 `json:"max_ms"`
}

func newTaskStats(name string, requests, failures int64, elapsed time.Duration, samples []float64) TaskStats {
	stats := TaskStats{
		Name:     name,
		Requests: requests,
		Failures: failures,
		Samples:  int64(len(samples)),
	}
	if seconds := elapsed.Seconds(); seconds > 0 {
		stats.RPS = float64(requests) / seconds
	}
	if len(samples) == 0 {
		return stats
	}
	sort.Float64s(samples)
	stats.MinMs = samples[0]
	stats.MaxMs = samples[len(samples)-1]
	stats.MeanMs = stat.Mean(samples, nil)
	stats.MedianMs = stat.Quantile(0.5, stat.Empirical, samples, nil)
	stats.P90Ms = stat.Quantile(0.9, stat.Empirical, samples, nil)
	stats.P95Ms = stat.Quantile(0.95, stat.Empirical, samples, nil)
	stats.P99Ms = stat.Quantile(0.99, stat.Empirical, samples, nil)
	return stats
}

func (stats TaskStats) row() []string {
	formatMs := func(v float64) string {
		if stats.Samples == 0 {
			return "-"
		}
		return fmt.Sprintf("%.1f", v)
	}
	return []string{
		stats.Name,
		fmt.Sprint(stats.Requests),
		fmt.Sprint(stats.Failures),
		fmt.Sprintf("%.1f", stats.RPS),
		formatMs(stats.MinMs),
		formatMs(stats.MeanMs),
		formatMs(stats.MedianMs),
		formatMs(stats.P90Ms),
		formatMs(stats.P95Ms),
		formatMs(stats.P99Ms),
		formatMs(stats.MaxMs),
	}
}

func (stats TaskStats) results() map[string]any {
	return map[string]any{
		"requests":  stats.Requests,
		"failures":  stats.Failures,
		"samples":   stats.Samples,
		"rps":       stats.RPS,
		"min_ms":    stats.MinMs,
		"mean_ms":   stats.MeanMs,
		"median_ms": stats.MedianMs,
		"p90_ms":    stats.P90Ms,
		"p95_ms":    stats.P95Ms,
		"p99_ms":    stats.P99Ms,
		"max_ms":    stats.MaxMs,
	}
}

// Report is the summary of a load test run.
type Report struct {
	Duration  time.Duration `json:"-"`
	Tasks     []TaskStats   `json:"tasks"`
	Aggregate TaskStats     `json:"aggregate"`
}

// Write renders the report as a table.
func (r *Report) Write(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Task", "Requests", "Failures", "RPS",
		"Min(ms)", "Mean(ms)", "Median(ms)", "P90(ms)", "P95(ms)", "P99(ms)", "Max(ms)")
	for _, task := range r.Tasks {
		if err := table.Append(task.row()); err != nil {
			return err
		}
	}
	if err := table.Append(r.Aggregate.row()); err != nil {
		return err
	}
	return table.Render()
}

// Results flattens the report into the scalar map consumed by rule checks.
func (r *Report) Results() map[string]any {
	results := r.Aggregate.results()
	results["duration_seconds"] = r.Duration.Seconds()
	tasks := make(map[string]any)
	for _, task := range r.Tasks {
		tasks[task.Name] = task.results()
	}
	results["tasks"] = tasks
	return results
}
