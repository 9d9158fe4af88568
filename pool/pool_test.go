package pool_test

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceetaro/suitkaise/pool"
)

// checkNumGoroutines fails the test if the number of goroutines has grown by
// the time the test finishes, allowing a short settle window for workers to
// exit.
func checkNumGoroutines(t *testing.T) {
	t.Helper()
	before := runtime.NumGoroutine()
	t.Cleanup(func() {
		var after int
		for i := 0; i < 50; i++ {
			after = runtime.NumGoroutine()
			if after <= before {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Errorf("goroutine leak: before=%d after=%d", before, after)
	})
}

func TestPool_SubmitFunction(t *testing.T) {
	checkNumGoroutines(t)

	p := pool.New(&pool.Config{Size: 2})
	defer p.Close()

	h, err := p.SubmitFunction(context.Background(), "a", func(ctx context.Context) (any, error) {
		return 42, nil
	}, pool.TaskConfig{})
	require.NoError(t, err)

	r, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", r.Key)
	assert.Equal(t, 42, r.Value)
	assert.NoError(t, r.Err)
}

func TestPool_SubmitFunction_Error(t *testing.T) {
	checkNumGoroutines(t)

	p := pool.New(&pool.Config{Size: 1})
	defer p.Close()

	wantErr := errors.New("boom")
	h, err := p.SubmitFunction(context.Background(), "a", func(ctx context.Context) (any, error) {
		return nil, wantErr
	}, pool.TaskConfig{})
	require.NoError(t, err)

	r, err := h.Wait(context.Background())
	require.NoError(t, err)
	require.Error(t, r.Err)
	assert.Contains(t, r.Err.Error(), "boom")
}

func TestPool_Handle_Wait_Idempotent(t *testing.T) {
	checkNumGoroutines(t)

	p := pool.New(&pool.Config{Size: 1})
	defer p.Close()

	h, err := p.SubmitFunction(context.Background(), "a", func(ctx context.Context) (any, error) {
		return "x", nil
	}, pool.TaskConfig{})
	require.NoError(t, err)

	r1, err := h.Wait(context.Background())
	require.NoError(t, err)
	r2, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

// S1 from the testable-properties scenarios: fan-out sum.
func TestPool_UnorderedMap_FanOutSum(t *testing.T) {
	checkNumGoroutines(t)

	p := pool.New(&pool.Config{Size: 4})
	defer p.Close()

	const n = 100
	tasks := make([]pool.Task, n)
	for i := 0; i < n; i++ {
		i := i
		tasks[i] = pool.Task{
			Key: fmt.Sprintf("%d", i),
			Run: func(ctx context.Context) (any, error) {
				return i * i, nil
			},
		}
	}

	results, err := p.UnorderedMap(context.Background(), tasks, pool.Async)
	require.NoError(t, err)
	require.Len(t, results, n)

	values := make([]int, n)
	var sum int
	for i, r := range results {
		values[i] = r.Value.(int)
		sum += r.Value.(int)
	}
	sort.Ints(values)

	expected := make([]int, n)
	for i := range expected {
		expected[i] = i * i
	}
	assert.Equal(t, expected, values)
	assert.Equal(t, 328350, sum)
}

func TestPool_Map_PreservesOrder(t *testing.T) {
	checkNumGoroutines(t)

	p := pool.New(&pool.Config{Size: 3})
	defer p.Close()

	tasks := make([]pool.Task, 10)
	for i := range tasks {
		i := i
		tasks[i] = pool.Task{
			Key: fmt.Sprintf("%d", i),
			Run: func(ctx context.Context) (any, error) {
				// reverse-biased sleep so completion order differs from
				// submission order, proving Map re-sorts by index.
				time.Sleep(time.Duration(10-i) * time.Millisecond)
				return i, nil
			},
		}
	}

	results, err := p.Map(context.Background(), tasks, pool.Async)
	require.NoError(t, err)
	for i, r := range results {
		assert.Equal(t, i, r.Value)
	}
}

func TestPool_Map_ParallelMode_BatchesBySize(t *testing.T) {
	checkNumGoroutines(t)

	p := pool.New(&pool.Config{Size: 2})
	defer p.Close()

	var concurrent atomic.Int32
	var maxConcurrent atomic.Int32

	tasks := make([]pool.Task, 6)
	for i := range tasks {
		tasks[i] = pool.Task{
			Key: fmt.Sprintf("%d", i),
			Run: func(ctx context.Context) (any, error) {
				n := concurrent.Add(1)
				for {
					cur := maxConcurrent.Load()
					if n <= cur || maxConcurrent.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				concurrent.Add(-1)
				return nil, nil
			},
		}
	}

	_, err := p.Map(context.Background(), tasks, pool.Parallel)
	require.NoError(t, err)
	assert.LessOrEqual(t, int(maxConcurrent.Load()), 2)
}

func TestPool_UnorderedIMap(t *testing.T) {
	checkNumGoroutines(t)

	p := pool.New(&pool.Config{Size: 4})
	defer p.Close()

	tasks := make([]pool.Task, 5)
	for i := range tasks {
		i := i
		tasks[i] = pool.Task{
			Key: fmt.Sprintf("%d", i),
			Run: func(ctx context.Context) (any, error) { return i, nil },
		}
	}

	it, err := p.UnorderedIMap(context.Background(), tasks, pool.Async)
	require.NoError(t, err)
	defer it.Stop()

	var seen []string
	for {
		r, ok := it.Next()
		if !ok {
			break
		}
		seen = append(seen, r.Key)
	}
	assert.Len(t, seen, 5)
}

func TestPool_PoolTaskError_N4(t *testing.T) {
	// S4-adjacent: exactly N outcomes for N submitted tasks, regardless of
	// per-task success/failure.
	checkNumGoroutines(t)

	p := pool.New(&pool.Config{Size: 2})
	defer p.Close()

	tasks := []pool.Task{
		{Key: "ok1", Run: func(ctx context.Context) (any, error) { return 1, nil }},
		{Key: "fail1", Run: func(ctx context.Context) (any, error) { return nil, errors.New("x") }},
		{Key: "ok2", Run: func(ctx context.Context) (any, error) { return 2, nil }},
		{Key: "fail2", Run: func(ctx context.Context) (any, error) { return nil, errors.New("y") }},
	}

	results, err := p.Map(context.Background(), tasks, pool.Async)
	require.Len(t, results, 4)

	var poolErr *pool.PoolTaskError
	require.ErrorAs(t, err, &poolErr)
	assert.Len(t, poolErr.Failed, 2)

	keys := map[string]bool{}
	for _, f := range poolErr.Failed {
		keys[f.Key] = true
	}
	assert.True(t, keys["fail1"])
	assert.True(t, keys["fail2"])
}

func TestPool_MaxAttempts_Retries(t *testing.T) {
	checkNumGoroutines(t)

	p := pool.New(&pool.Config{Size: 1})
	defer p.Close()

	var attempts atomic.Int32
	h, err := p.SubmitFunction(context.Background(), "a", func(ctx context.Context) (any, error) {
		n := attempts.Add(1)
		if n < 3 {
			return nil, errors.New("not yet")
		}
		return "done", nil
	}, pool.TaskConfig{MaxAttempts: 3})
	require.NoError(t, err)

	r, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.NoError(t, r.Err)
	assert.Equal(t, "done", r.Value)
	assert.EqualValues(t, 3, attempts.Load())
}

func TestPool_Timeout(t *testing.T) {
	checkNumGoroutines(t)

	p := pool.New(&pool.Config{Size: 1})
	defer p.Close()

	h, err := p.SubmitFunction(context.Background(), "a", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, pool.TaskConfig{Timeout: 10 * time.Millisecond})
	require.NoError(t, err)

	r, err := h.Wait(context.Background())
	require.NoError(t, err)
	require.Error(t, r.Err)
}

func TestPool_Shutdown_WaitsForInFlight(t *testing.T) {
	checkNumGoroutines(t)

	p := pool.New(&pool.Config{Size: 1})

	started := make(chan struct{})
	finished := make(chan struct{})
	_, err := p.SubmitFunction(context.Background(), "a", func(ctx context.Context) (any, error) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		close(finished)
		return nil, nil
	}, pool.TaskConfig{})
	require.NoError(t, err)

	<-started
	require.NoError(t, p.Shutdown(context.Background()))
	select {
	case <-finished:
	default:
		t.Fatal("Shutdown returned before in-flight task finished")
	}
}

func TestPool_Close_CancelsInFlight(t *testing.T) {
	checkNumGoroutines(t)

	p := pool.New(&pool.Config{Size: 1})

	started := make(chan struct{})
	_, err := p.SubmitFunction(context.Background(), "a", func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, pool.TaskConfig{})
	require.NoError(t, err)

	<-started
	require.NoError(t, p.Close())
}

func TestPool_Stats(t *testing.T) {
	checkNumGoroutines(t)

	p := pool.New(&pool.Config{Size: 3})
	defer p.Close()

	stats := p.Stats()
	assert.Equal(t, 3, stats.Live)

	_, err := p.Map(context.Background(), []pool.Task{
		{Key: "a", Run: func(ctx context.Context) (any, error) { return nil, nil }},
	}, pool.Async)
	require.NoError(t, err)

	stats = p.Stats()
	assert.EqualValues(t, 1, stats.Completed)
}

type fakeRunner struct {
	result any
	err    error
}

func (f fakeRunner) Run(ctx context.Context) (any, error) { return f.result, f.err }

func TestPool_SubmitProcess(t *testing.T) {
	checkNumGoroutines(t)

	p := pool.New(&pool.Config{Size: 1})
	defer p.Close()

	h, err := p.SubmitProcess(context.Background(), "proc", fakeRunner{result: "lifecycle done"}, pool.TaskConfig{})
	require.NoError(t, err)

	r, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "lifecycle done", r.Value)
}
