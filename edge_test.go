// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rtgpio

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeSource_signalsBeforeWaits(t *testing.T) {
	for _, n := range []int{1, 3, 17} {
		src := NewEdgeSource(EdgeRising)
		for i := 0; i < n; i++ {
			src.Signal()
		}
		assert.Equal(t, n, src.Pending())
		for i := 0; i < n; i++ {
			ok, err := src.WaitTimeout(time.Second)
			require.NoError(t, err)
			require.True(t, ok, "wait %d of %d", i, n)
		}
		ok, err := src.WaitTimeout(10 * time.Millisecond)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, src.Pending())
		assert.Equal(t, uint64(n), src.Signals())
	}
}

func TestEdgeSource_timeoutDoesNotConsume(t *testing.T) {
	src := NewEdgeSource(EdgeRising)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, src.Wait(ctx), ErrTimeout)
	assert.Zero(t, src.Pending())

	src.Signal()
	assert.True(t, src.TryWait())
	assert.False(t, src.TryWait())
	assert.Zero(t, src.Pending())
}

func TestEdgeSource_cancelledContext(t *testing.T) {
	src := NewEdgeSource(EdgeRising)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- src.Wait(ctx)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("wait not released by cancel")
	}
}

func TestEdgeSource_notifyPolarity(t *testing.T) {
	rising := NewEdgeSource(EdgeRising)
	assert.True(t, rising.Notify(EdgeRising))
	assert.False(t, rising.Notify(EdgeFalling))
	assert.Equal(t, 1, rising.Pending())
	assert.Equal(t, EdgeRising, rising.Edge())

	both := NewEdgeSource(EdgeBoth)
	assert.True(t, both.Notify(EdgeRising))
	assert.True(t, both.Notify(EdgeFalling))
	assert.Equal(t, 2, both.Pending())

	none := NewEdgeSource(EdgeNone)
	assert.False(t, none.Notify(EdgeRising))
	assert.Zero(t, none.Pending())
}

func TestEdgeSource_oneWaiterPerSignal(t *testing.T) {
	src := NewEdgeSource(EdgeRising)
	var released atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if src.Wait(context.Background()) == nil {
				released.Add(1)
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)

	src.Signal()
	require.Eventually(t, func() bool { return released.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), released.Load())

	src.Signal()
	src.Signal()
	wg.Wait()
	assert.Equal(t, int32(3), released.Load())
	assert.Zero(t, src.Pending())
}

func TestEdgeSource_concurrentCounts(t *testing.T) {
	const producers, per = 4, 1000
	src := NewEdgeSource(EdgeRising)
	var consumed atomic.Int64
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cw sync.WaitGroup
	for i := 0; i < 2; i++ {
		cw.Add(1)
		go func() {
			defer cw.Done()
			for src.Wait(ctx) == nil {
				consumed.Add(1)
			}
		}()
	}
	var pw sync.WaitGroup
	for i := 0; i < producers; i++ {
		pw.Add(1)
		go func() {
			defer pw.Done()
			for j := 0; j < per; j++ {
				src.Signal()
			}
		}()
	}
	pw.Wait()
	require.Eventually(t, func() bool { return consumed.Load() == producers*per }, 5*time.Second, time.Millisecond)
	cancel()
	cw.Wait()
	assert.Equal(t, int64(producers*per), consumed.Load())
	assert.Zero(t, src.Pending())
}

func TestEdgeSource_handler(t *testing.T) {
	src := NewEdgeSource(EdgeRising)
	src.Signal()
	var calls atomic.Int32
	src.SetHandler(func() { calls.Add(1) })

	_, err := src.WaitTimeout(time.Millisecond)
	assert.ErrorIs(t, err, ErrHandlerRegistered)
	assert.ErrorIs(t, src.Wait(context.Background()), ErrHandlerRegistered)

	for i := 0; i < 4; i++ {
		src.Signal()
	}
	require.Eventually(t, func() bool { return calls.Load() == 5 }, time.Second, time.Millisecond)

	// Replacing the handler stops the first one.
	var second atomic.Int32
	src.SetHandler(func() { second.Add(1) })
	src.Signal()
	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(5), calls.Load())

	src.ClearHandler()
	src.Signal()
	ok, err := src.WaitTimeout(time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), second.Load())
}

func TestEdgeSource_close(t *testing.T) {
	src := NewEdgeSource(EdgeFalling)
	src.SetHandler(func() {})
	src.ClearHandler()

	done := make(chan error, 1)
	go func() {
		done <- src.Wait(context.Background())
	}()
	time.Sleep(5 * time.Millisecond)
	src.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("wait not released by close")
	}
	ok, err := src.WaitTimeout(time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCancelled)
	src.Close()
}
