package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/ceetaro/suitkaise/batchrecv"
	"github.com/ceetaro/suitkaise/errs"
)

type (
	// Config models optional configuration, for New.
	Config struct {
		// Size is the fixed number of persistent workers. Defaults to 4, if 0.
		Size int
	}

	// TaskConfig is the per-task configuration, analogous to QPConfig for
	// plain function tasks: a timeout bounding the single invocation, and an
	// optional crash-restart policy capping how many times a failed task is
	// retried before its outcome is reported as failed.
	TaskConfig struct {
		// Timeout bounds a single invocation of the task, if positive.
		Timeout time.Duration

		// MaxAttempts is the number of times a task is attempted before its
		// failure is final (1 means no retry). Defaults to 1, if 0.
		MaxAttempts int
	}

	// Runner is implemented by anything submittable via SubmitProcess: a
	// full lifecycle whose single Run invocation represents the entire
	// process (see process.Skprocess.Run).
	Runner interface {
		Run(ctx context.Context) (any, error)
	}

	// Task is one unit of work accepted by a Pool.
	Task struct {
		// Key uniquely identifies this task within a single submission
		// batch (Map/UnorderedMap/UnorderedIMap); used for result lookup.
		Key string

		// Run performs the task's work. Set directly for a raw function
		// task, or via Runner.Run for a submitted process lifecycle.
		Run func(ctx context.Context) (any, error)

		Config TaskConfig
	}

	// Result is the outcome of one Task.
	Result struct {
		Key   string
		Index int
		Value any
		Err   error
	}

	// Mode controls how a batch of tasks is started relative to pool size.
	Mode int
)

const (
	// Async starts tasks as workers become free (default; suited to tasks
	// of mixed duration).
	Async Mode = iota
	// Parallel starts tasks in pool-sized batches, waiting for each batch
	// to fully complete before starting the next.
	Parallel
)

// Stats reports a live snapshot of pool activity.
type Stats struct {
	Live      int
	Idle      int
	Busy      int
	Completed int64
	Failed    int64
}

// PoolTaskError aggregates the structured failures of a batch submission.
// Individual errors are still available, un-obscured, via multierr.Errors.
type PoolTaskError struct {
	Failed []FailedTask
	agg    error
}

// FailedTask pairs a task's Key with its structured failure.
type FailedTask struct {
	Key string
	Err error
}

func (e *PoolTaskError) Error() string {
	return fmt.Sprintf("pool: %d task(s) failed: %s", len(e.Failed), e.agg.Error())
}

func (e *PoolTaskError) Unwrap() error { return e.agg }

func newPoolTaskError(failed []FailedTask) *PoolTaskError {
	if len(failed) == 0 {
		return nil
	}
	errors := make([]error, len(failed))
	for i, f := range failed {
		errors[i] = f.Err
	}
	return &PoolTaskError{Failed: failed, agg: multierr.Combine(errors...)}
}

// submission is an in-flight task awaiting a worker.
type submission struct {
	task     Task
	index    int
	resultCh chan Result
}

// Pool is a fixed-size worker pool. Instances must be created via New.
type Pool struct {
	size    int
	taskCh  chan *submission
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	stopped chan struct{}
	stopOnce sync.Once
	wg      sync.WaitGroup

	busy      atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New constructs a Pool with the given Config (which may be nil).
func New(config *Config) *Pool {
	size := 4
	if config != nil && config.Size != 0 {
		size = config.Size
	}
	if size <= 0 {
		panic(`pool: Size must be positive`)
	}

	p := &Pool{
		size:    size,
		taskCh:  make(chan *submission),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}

	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.stopped:
			return
		case sub := <-p.taskCh:
			p.busy.Add(1)
			result := p.runTask(sub.task, sub.index)
			p.busy.Add(-1)
			if result.Err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}
			sub.resultCh <- result
			close(sub.resultCh)
		}
	}
}

func (p *Pool) runTask(task Task, index int) Result {
	attempts := task.Config.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	var value any
	for attempt := 0; attempt < attempts; attempt++ {
		ctx := p.ctx
		var cancel context.CancelFunc
		if task.Config.Timeout > 0 {
			ctx, cancel = context.WithTimeout(p.ctx, task.Config.Timeout)
		}
		value, lastErr = func() (v any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errs.New(errs.PoolTaskFailed, fmt.Sprintf("panic: %v", r))
				}
			}()
			return task.Run(ctx)
		}()
		if cancel != nil {
			cancel()
		}
		if lastErr == nil {
			break
		}
	}

	if lastErr != nil {
		lastErr = errs.Wrap(errs.PoolTaskFailed, lastErr)
	}

	return Result{Key: task.Key, Index: index, Value: value, Err: lastErr}
}

// SubmitFunction schedules a one-shot function task.
func (p *Pool) SubmitFunction(ctx context.Context, key string, fn func(ctx context.Context) (any, error), cfg TaskConfig) (*Handle, error) {
	return p.submit(ctx, Task{Key: key, Run: fn, Config: cfg})
}

// SubmitProcess schedules a full lifecycle to run inside a worker.
func (p *Pool) SubmitProcess(ctx context.Context, key string, runner Runner, cfg TaskConfig) (*Handle, error) {
	return p.submit(ctx, Task{Key: key, Run: runner.Run, Config: cfg})
}

func (p *Pool) submit(ctx context.Context, task Task) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.ctx.Err(); err != nil {
		return nil, err
	}

	sub := &submission{task: task, resultCh: make(chan Result, 1)}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, p.ctx.Err()
	case <-p.stopped:
		return nil, context.Canceled
	case p.taskCh <- sub:
		return &Handle{sub: sub}, nil
	}
}

// Handle is a reference to a single in-flight task. Wait may be called more
// than once; the Result is cached after the first successful receive.
type Handle struct {
	sub    *submission
	mu     sync.Mutex
	result Result
	got    bool
}

// Wait blocks until the task completes, returning its Result.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	h.mu.Lock()
	if h.got {
		r := h.result
		h.mu.Unlock()
		return r, nil
	}
	h.mu.Unlock()

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-h.sub.resultCh:
		h.mu.Lock()
		h.result, h.got = r, true
		h.mu.Unlock()
		return r, nil
	}
}

// Map runs tasks and returns their results ordered by submission index.
func (p *Pool) Map(ctx context.Context, tasks []Task, mode Mode) ([]Result, error) {
	handles, err := p.dispatch(ctx, tasks, mode)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(tasks))
	var failed []FailedTask
	for i, h := range handles {
		r, err := h.Wait(ctx)
		if err != nil {
			return nil, err
		}
		results[i] = r
		if r.Err != nil {
			failed = append(failed, FailedTask{Key: r.Key, Err: r.Err})
		}
	}

	if poolErr := newPoolTaskError(failed); poolErr != nil {
		return results, poolErr
	}
	return results, nil
}

// UnorderedMap runs tasks and returns their results in completion order.
func (p *Pool) UnorderedMap(ctx context.Context, tasks []Task, mode Mode) ([]Result, error) {
	handles, err := p.dispatch(ctx, tasks, mode)
	if err != nil {
		return nil, err
	}

	merged := make(chan Result)
	var wg sync.WaitGroup
	wg.Add(len(handles))
	for _, h := range handles {
		go func(h *Handle) {
			defer wg.Done()
			r, err := h.Wait(ctx)
			if err != nil {
				r = Result{Err: err}
			}
			merged <- r
		}(h)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	var results []Result
	var failed []FailedTask
	for r := range merged {
		results = append(results, r)
		if r.Err != nil {
			failed = append(failed, FailedTask{Key: r.Key, Err: r.Err})
		}
	}

	if poolErr := newPoolTaskError(failed); poolErr != nil {
		return results, poolErr
	}
	return results, nil
}

// resultIterBatchConfig governs ResultIter's internal batchrecv.Receive
// calls: MinSize < 0 means the first result is awaited for up to
// PartialTimeout, but Receive returns as soon as one arrives rather than
// waiting for a fixed minimum count; MaxSize < 0 then opportunistically
// drains anything else already buffered on the channel without
// further waiting. This keeps Next's per-call latency equal to the
// latency of the next single result, while still batching for free
// whenever several tasks finish in a tight cluster.
var resultIterBatchConfig = &batchrecv.Config{
	MinSize:        -1,
	MaxSize:        -1,
	PartialTimeout: 25 * time.Millisecond,
}

// ResultIter is returned by UnorderedIMap: a pull-based iterator over
// completion-ordered results, internally drained in opportunistic batches
// via batchrecv.
type ResultIter struct {
	ch     chan Result
	cancel context.CancelFunc
	ctx    context.Context

	mu  sync.Mutex
	buf []Result
	eof bool
}

// Next returns the next completed Result, or ok=false once every task has
// reported its outcome (or the iterator's context ended). Internally,
// each refill pulls an opportunistic batch off the channel via
// batchrecv.Receive and serves it one Result at a time.
func (it *ResultIter) Next() (Result, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	for len(it.buf) == 0 {
		if it.eof {
			return Result{}, false
		}
		if err := batchrecv.Receive(it.ctx, resultIterBatchConfig, it.ch, func(r Result) error {
			it.buf = append(it.buf, r)
			return nil
		}); err != nil {
			// io.EOF (channel closed, fully drained) or ctx cancellation
			// (Stop, or the caller's own ctx ending) both mean no more
			// results beyond whatever's already buffered.
			it.eof = true
		}
	}

	r := it.buf[0]
	it.buf = it.buf[1:]
	return r, true
}

// Stop releases resources associated with the iterator; safe to call after
// Next has already returned ok=false, and safe to call multiple times.
func (it *ResultIter) Stop() {
	it.cancel()
}

// UnorderedIMap is the iterator form of UnorderedMap: results are delivered
// one at a time, in completion order, without requiring the whole batch to
// finish first.
func (p *Pool) UnorderedIMap(ctx context.Context, tasks []Task, mode Mode) (*ResultIter, error) {
	handles, err := p.dispatch(ctx, tasks, mode)
	if err != nil {
		return nil, err
	}

	iterCtx, cancel := context.WithCancel(ctx)
	out := make(chan Result)

	var wg sync.WaitGroup
	wg.Add(len(handles))
	for _, h := range handles {
		go func(h *Handle) {
			defer wg.Done()
			r, err := h.Wait(iterCtx)
			if err != nil {
				r = Result{Err: err}
			}
			select {
			case out <- r:
			case <-iterCtx.Done():
			}
		}(h)
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	return &ResultIter{ch: out, cancel: cancel, ctx: iterCtx}, nil
}

func (p *Pool) dispatch(ctx context.Context, tasks []Task, mode Mode) ([]*Handle, error) {
	handles := make([]*Handle, len(tasks))

	switch mode {
	case Parallel:
		for start := 0; start < len(tasks); start += p.size {
			end := start + p.size
			if end > len(tasks) {
				end = len(tasks)
			}
			for i := start; i < end; i++ {
				sub := &submission{task: tasks[i], index: i, resultCh: make(chan Result, 1)}
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-p.ctx.Done():
					return nil, p.ctx.Err()
				case <-p.stopped:
					return nil, context.Canceled
				case p.taskCh <- sub:
					handles[i] = &Handle{sub: sub}
				}
			}
			for i := start; i < end; i++ {
				// Barrier: wait for this chunk before starting the next.
				// Handle.Wait caches the Result, so the caller's later
				// Wait (in Map/UnorderedMap/UnorderedIMap) observes it
				// without a second channel receive.
				if _, err := handles[i].Wait(ctx); err != nil {
					return nil, err
				}
			}
		}

	default: // Async
		for i, t := range tasks {
			sub := &submission{task: t, index: i, resultCh: make(chan Result, 1)}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-p.ctx.Done():
				return nil, p.ctx.Err()
			case <-p.stopped:
				return nil, context.Canceled
			case p.taskCh <- sub:
				handles[i] = &Handle{sub: sub}
			}
		}
	}

	return handles, nil
}

// Stats returns a live snapshot of pool activity.
func (p *Pool) Stats() Stats {
	busy := int(p.busy.Load())
	return Stats{
		Live:      p.size,
		Busy:      busy,
		Idle:      p.size - busy,
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Shutdown prevents further submissions, then waits for in-flight tasks to
// complete. If ctx is canceled first, Close is invoked and ctx.Err() is
// returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stop()

	select {
	case <-ctx.Done():
		err := ctx.Err()
		p.cancel()
		<-p.done
		return err
	case <-p.done:
		return nil
	}
}

// Close stops accepting submissions, immediately cancels in-flight tasks,
// and blocks until every worker has exited.
func (p *Pool) Close() error {
	p.stop()
	p.cancel()
	<-p.done
	return nil
}

func (p *Pool) stop() {
	// taskCh is never closed: submit/dispatch race the stopped signal
	// against a send on taskCh via select, and a send on a closed channel
	// panics unconditionally even when another case is also ready.
	p.stopOnce.Do(func() {
		close(p.stopped)
	})
}
