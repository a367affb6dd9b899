package client

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerialExecutor_RunsInOrder(t *testing.T) {
	e := NewSerialExecutor()

	var (
		mu      sync.Mutex
		order   []int
		running atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 100; i++ {
		e.Execute(func() {
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			running.Add(-1)
		})
	}
	e.Close()

	assert.False(t, overlap.Load(), "functions must not run concurrently")
	assert.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestSerialExecutor_DropsAfterClose(t *testing.T) {
	e := NewSerialExecutor()
	e.Close()

	var ran atomic.Bool
	e.Execute(func() { ran.Store(true) })
	assert.False(t, ran.Load())
	assert.False(t, e.TryExecute(func() { ran.Store(true) }))
	assert.False(t, ran.Load())
}

func TestExecutorFunc(t *testing.T) {
	var submitted int
	e := ExecutorFunc(func(fn func()) {
		submitted++
		fn()
	})

	var ran bool
	e.Execute(func() { ran = true })
	assert.True(t, ran)
	assert.Equal(t, 1, submitted)
}

func TestGoroutineExecutor(t *testing.T) {
	done := make(chan struct{})
	GoroutineExecutor{}.Execute(func() { close(done) })
	<-done
}
