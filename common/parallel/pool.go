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

import "sync"

type Pool interface {
	Run(runner func())
	Wait()
}

type SequentialPool struct{}

func NewSequentialPool() *SequentialPool {
	return &SequentialPool{}
}

func (p *SequentialPool) Run(runner func()) {
	runner()
}

func (p *SequentialPool) Wait() {}

// ConcurrentPool runs runners on goroutines. At most size runners execute at once.
type ConcurrentPool struct {
	wg  sync.WaitGroup
	sem chan struct{}
}

func NewConcurrentPool(size int) *ConcurrentPool {
	return &ConcurrentPool{sem: make(chan struct{}, size)}
}

func (p *ConcurrentPool) Run(runner func()) {
	p.sem <- struct{}{}
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()
		runner()
	}()
}

func (p *ConcurrentPool) Wait() {
	p.wg.Wait()
}
