package parallel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mameuix/mameuix/internal/job"
	"github.com/mameuix/mameuix/internal/queue"
)

var (
	ErrPoolSize = errors.New("invalid pool size")
	ErrNoQueue  = errors.New("pool needs a queue and an executor")
)

// Executor runs a single job and classifies its outcome. Failures are
// reported as outcomes, never as panics; a panic is still recovered by the
// pool and turned into job.StatusError.
type Executor func(context.Context, job.Job) job.Outcome

// Pool is a fixed set of workers pulling from a queue.Queue and pushing one
// job.Result per popped job into a results channel. Workers share nothing but
// the queue and the channel.
//
//	pool, err := parallel.Start(ctx, q, parallel.Size(8), 256, exec)
//	for r := range pool.Results() {}
type Pool struct {
	q         *queue.Queue
	exec      Executor
	size      int
	results   chan job.Result
	g         *errgroup.Group
	cancel    context.CancelFunc
	busy      atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

// Size returns min(available parallelism, limit), at least 1. A limit <= 0
// means no limit.
func Size(limit int) int {
	n := runtime.GOMAXPROCS(0)
	if limit > 0 && n > limit {
		n = limit
	}
	return max(n, 1)
}

// Start spawns size workers. buffer is the capacity of the results channel;
// a full channel blocks workers until the consumer drains it.
func Start(parentCtx context.Context, q *queue.Queue, size, buffer int, exec Executor) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: %d", ErrPoolSize, size)
	}
	if q == nil || exec == nil {
		return nil, ErrNoQueue
	}
	ctx, cancel := context.WithCancel(parentCtx)
	g, gctx := errgroup.WithContext(ctx)

	p := &Pool{
		q:       q,
		exec:    exec,
		size:    size,
		results: make(chan job.Result, max(buffer, 0)),
		g:       g,
		cancel:  cancel,
	}
	// a cancelled parent must wake workers parked in Pop
	context.AfterFunc(gctx, q.Close)

	for worker := range size {
		g.Go(func() error {
			return p.work(gctx, worker)
		})
	}
	slog.DebugContext(ctx, "worker pool started", "size", size, "buffer", buffer)
	return p, nil
}

// Results is the multi-producer, single-consumer result channel. It is closed
// by Close after all workers have exited.
func (p *Pool) Results() <-chan job.Result {
	return p.results
}

func (p *Pool) Size() int {
	return p.size
}

// Busy returns the number of workers currently executing a job.
func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

// Close stops the workers. A job already started runs to completion; its
// result may be discarded if nobody drains the channel. Close is idempotent.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.q.Close()
		err := p.g.Wait()
		close(p.results)
		if err != nil && !errors.Is(err, context.Canceled) {
			p.closeErr = err
		}
	})
	return p.closeErr
}

func (p *Pool) work(ctx context.Context, worker int) error {
	for {
		j, ok := p.q.Pop()
		if !ok {
			return nil
		}
		r := p.run(ctx, worker, j)
		select {
		case p.results <- r:
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Pool) run(ctx context.Context, worker int, j job.Job) job.Result {
	r := job.Result{
		JobID: j.ID,
		Key:   j.Key,
		Kind:  j.Kind,
	}
	if j.Batch != nil {
		r.BatchID = j.Batch.ID
	}
	if j.Batch.Cancelled() {
		r.Outcome = job.Plain(job.StatusSkipped)
		r.Finished = time.Now()
		return r
	}

	p.busy.Add(1)
	defer p.busy.Add(-1)
	start := time.Now()
	// once started, a job is not interrupted by pool shutdown
	r.Outcome = p.execute(context.WithoutCancel(ctx), worker, j)
	r.Finished = time.Now()
	r.Duration = r.Finished.Sub(start)
	return r
}

func (p *Pool) execute(ctx context.Context, worker int, j job.Job) (out job.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "job panicked",
				"worker", worker,
				"job_id", j.ID,
				"key", j.Key,
				"kind", j.Kind.String(),
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
			out = job.Fail(job.StatusError, "panic: %v", rec)
		}
	}()
	return p.exec(ctx, j)
}
