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

package parallel

import (
	"math"
	"time"

	"github.com/juju/ratelimit"
)

type RateLimiter interface {
	Take(count int64) time.Duration
}

type Unlimited struct{}

func (n *Unlimited) Take(count int64) time.Duration {
	return 0
}

// NewRequestsLimiter creates a rate limiter that allows rate requests per second.
// Non-positive rates return an unlimited limiter.
func NewRequestsLimiter(rate float64) RateLimiter {
	if rate <= 0 {
		return &Unlimited{}
	}
	capacity := int64(math.Ceil(rate))
	if capacity < 1 {
		capacity = 1
	}
	return ratelimit.NewBucketWithRate(rate, capacity)
}
