package throttle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateEnforcesMinimumSpacing(t *testing.T) {
	const interval = 60 * time.Millisecond
	g := New(interval)
	ctx := context.Background()

	const n = 4
	begin := time.Now()
	for i := 0; i < n; i++ {
		require.NoError(t, g.Do(ctx, func() error { return nil }))
	}
	elapsed := time.Since(begin)
	assert.GreaterOrEqual(t, elapsed, (n-1)*interval)
}

func TestGateSpacingUnderConcurrency(t *testing.T) {
	const interval = 50 * time.Millisecond
	g := New(interval)
	ctx := context.Background()

	var mu sync.Mutex
	var starts []time.Time

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(ctx, func() error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	require.Len(t, starts, 5)
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		// 留 5ms 容差给计时器精度。
		assert.GreaterOrEqual(t, gap, interval-5*time.Millisecond,
			"call %d started %v after previous", i, gap)
	}
}

func TestGatePropagatesErrorAndStillCoolsDown(t *testing.T) {
	const interval = 50 * time.Millisecond
	g := New(interval)
	ctx := context.Background()

	boom := errors.New("quota exceeded")
	err := g.Do(ctx, func() error { return boom })
	assert.ErrorIs(t, err, boom)

	// 失败调用也要占用冷却窗口。
	begin := time.Now()
	require.NoError(t, g.Do(ctx, func() error { return nil }))
	assert.GreaterOrEqual(t, time.Since(begin), interval-5*time.Millisecond)
}

func TestGateContextCancelDuringWait(t *testing.T) {
	g := New(time.Second)
	require.NoError(t, g.Do(context.Background(), func() error { return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	called := false
	err := g.Do(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)
}

func TestDoValue(t *testing.T) {
	g := New(0)
	got, err := DoValue(context.Background(), g, func() (string, error) {
		return "BUY", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "BUY", got)

	boom := errors.New("backend down")
	_, err = DoValue(context.Background(), g, func() (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
}
