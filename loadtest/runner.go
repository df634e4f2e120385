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
	"context"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jaswdr/faker"
	"github.com/juju/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/gorse-io/cfbench/base/log"
	"github.com/gorse-io/cfbench/base/progress"
	"github.com/gorse-io/cfbench/common/parallel"
)

// maxSamples bounds the number of latencies kept per task. Later samples
// replace random earlier ones so quantiles stay representative.
const maxSamples = 100000

// recorder collects per-task latencies and failure counts.
type recorder struct {
	requests        *atomic.Int64
	transportErrors *atomic.Int64
	statusErrors    *atomic.Int64

	mu       sync.Mutex
	rng      *rand.Rand
	observed int64
	samples  []float64
}

func newRecorder(seed int64) *recorder {
	return &recorder{
		requests:        atomic.NewInt64(0),
		transportErrors: atomic.NewInt64(0),
		statusErrors:    atomic.NewInt64(0),
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// observe records the latency of a successful request by reservoir sampling.
func (r *recorder) observe(latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed++
	milliseconds := float64(latency) / float64(time.Millisecond)
	if len(r.samples) < maxSamples {
		r.samples = append(r.samples, milliseconds)
	} else if i := r.rng.Int63n(r.observed); i < maxSamples {
		r.samples[i] = milliseconds
	}
}

func (r *recorder) snapshot() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	samples := make([]float64, len(r.samples))
	copy(samples, r.samples)
	return samples
}

// Runner drives concurrent virtual users against a scoring endpoint.
type Runner struct {
	Scenario  *Scenario
	Users     int
	SpawnRate float64
	Duration  time.Duration

	client    *http.Client
	recorders map[string]*recorder
}

// NewRunner creates a load test runner. Virtual users are hatched at
// spawnRate per second until users are running, then the attack lasts until
// the duration elapses.
func NewRunner(scenario *Scenario, users int, spawnRate float64, duration time.Duration) *Runner {
	runner := &Runner{
		Scenario:  scenario,
		Users:     users,
		SpawnRate: spawnRate,
		Duration:  duration,
		client:    &http.Client{Timeout: scenario.Timeout},
		recorders: make(map[string]*recorder),
	}
	for i, task := range scenario.Tasks {
		runner.recorders[task.Name] = newRecorder(int64(i))
	}
	return runner
}

// Run hatches virtual users and blocks until the attack finishes. Cancelling
// the context stops hatching and drains in-flight requests.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if r.Users <= 0 {
		return nil, errors.BadRequestf("users must be positive")
	}
	if r.Duration <= 0 {
		return nil, errors.BadRequestf("duration must be positive")
	}
	log.Logger().Info("start load test",
		zap.String("host", r.Scenario.Host),
		zap.Int("users", r.Users),
		zap.Float64("spawn_rate", r.SpawnRate),
		zap.Duration("duration", r.Duration))
	attackCtx, cancel := context.WithTimeout(ctx, r.Duration)
	defer cancel()

	startTime := time.Now()
	_, span := progress.Start(ctx, "LoadTest.Run", r.Users)
	limiter := parallel.NewRequestsLimiter(r.SpawnRate)
	pool := parallel.NewConcurrentPool(r.Users)
hatching:
	for i := 0; i < r.Users; i++ {
		if wait := limiter.Take(1); wait > 0 {
			select {
			case <-time.After(wait):
			case <-attackCtx.Done():
				break hatching
			}
		}
		userIndex := i
		pool.Run(func() {
			r.attack(attackCtx, userIndex)
		})
		span.Add(1)
	}
	pool.Wait()
	span.End()

	elapsed := time.Since(startTime)
	if elapsed > r.Duration {
		elapsed = r.Duration
	}
	return r.report(elapsed), ctx.Err()
}

// attack runs one virtual user until the attack context expires.
func (r *Runner) attack(ctx context.Context, userIndex int) {
	rng := rand.New(rand.NewSource(int64(userIndex)))
	f := faker.NewWithSeed(rand.NewSource(int64(userIndex)))
	for iteration := 0; ctx.Err() == nil; iteration++ {
		task := r.Scenario.Pick(rng)
		r.hit(task, r.Scenario.templateContext(&f, rng, userIndex, iteration))
		r.think(ctx, rng)
	}
}

// hit issues one request. The request is deliberately not bound to the attack
// context: a request in flight when the deadline fires drains under the
// client timeout instead of being aborted and miscounted as a failure.
func (r *Runner) hit(task *Task, vars map[string]any) {
	rec := r.recorders[task.Name]
	body, err := task.RenderBody(vars)
	if err != nil {
		log.Logger().Error("failed to render body", zap.String("task", task.Name), zap.Error(err))
		rec.requests.Inc()
		rec.transportErrors.Inc()
		return
	}
	req, err := http.NewRequest(task.Method, r.Scenario.Host+task.Path, strings.NewReader(body))
	if err != nil {
		rec.requests.Inc()
		rec.transportErrors.Inc()
		return
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.Scenario.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Scenario.Token)
	}
	rec.requests.Inc()
	startTime := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		rec.transportErrors.Inc()
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		rec.statusErrors.Inc()
		return
	}
	rec.observe(time.Since(startTime))
}

func (r *Runner) think(ctx context.Context, rng *rand.Rand) {
	thinkTime := r.Scenario.ThinkTimeMin
	if spread := r.Scenario.ThinkTimeMax - r.Scenario.ThinkTimeMin; spread > 0 {
		thinkTime += time.Duration(rng.Int63n(int64(spread)))
	}
	if thinkTime <= 0 {
		return
	}
	select {
	case <-time.After(thinkTime):
	case <-ctx.Done():
	}
}

func (r *Runner) report(elapsed time.Duration) *Report {
	report := &Report{Duration: elapsed}
	var aggregateSamples []float64
	for _, task := range r.Scenario.Tasks {
		rec := r.recorders[task.Name]
		samples := rec.snapshot()
		report.Tasks = append(report.Tasks,
			newTaskStats(task.Name, rec.requests.Load(),
				rec.transportErrors.Load()+rec.statusErrors.Load(), elapsed, samples))
		aggregateSamples = append(aggregateSamples, samples...)
		report.Aggregate.Requests += rec.requests.Load()
		report.Aggregate.Failures += rec.transportErrors.Load() + rec.statusErrors.Load()
	}
	report.Aggregate = newTaskStats("Aggregated",
		report.Aggregate.Requests, report.Aggregate.Failures, elapsed, aggregateSamples)
	return report
}
