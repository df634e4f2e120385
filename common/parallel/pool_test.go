package parallel

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSequentialPool(t *testing.T) {
	pool := NewSequentialPool()
	count := 0
	for i := 0; i < 100; i++ {
		pool.Run(func() {
			count++
		})
	}
	pool.Wait()
	assert.Equal(t, 100, count)
}

func TestConcurrentPool(t *testing.T) {
	pool := NewConcurrentPool(4)
	var current, peak, count atomic.Int64
	for i := 0; i < 100; i++ {
		pool.Run(func() {
			c := current.Add(1)
			for {
				p := peak.Load()
				if c <= p || peak.CompareAndSwap(p, c) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			current.Add(-1)
			count.Add(1)
		})
	}
	pool.Wait()
	assert.Equal(t, int64(100), count.Load())
	assert.LessOrEqual(t, peak.Load(), int64(4))
}
