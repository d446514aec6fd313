// Package engine runs icon loading and ROM verification in the background of
// a single-threaded UI loop. The loop calls Tick once per frame: the frame time
// feeds the admission controller, the admitted jobs go to the dedup queue and
// a bounded number of results is drained into the progress aggregator.
//
// An Engine is not safe for concurrent use. All methods are meant to be
// called from the UI goroutine; only the queue and the result channel are
// shared with the workers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/mameuix/mameuix/internal/admission"
	"github.com/mameuix/mameuix/internal/icon"
	"github.com/mameuix/mameuix/internal/job"
	"github.com/mameuix/mameuix/internal/model"
	"github.com/mameuix/mameuix/internal/parallel"
	"github.com/mameuix/mameuix/internal/progress"
	"github.com/mameuix/mameuix/internal/queue"
	"github.com/mameuix/mameuix/internal/romcheck"
)

var ErrClosed = errors.New("engine is closed")

// Execute dispatches a job to the executor of its kind.
func Execute(ctx context.Context, j job.Job) job.Outcome {
	switch j.Kind {
	case job.KindIconLoad:
		return icon.Load(ctx, j)
	case job.KindVerifyRom:
		return romcheck.Verify(ctx, j)
	default:
		return job.Fail(job.StatusError, "unknown job kind %s", j.Kind)
	}
}

type Engine struct {
	q     *queue.Queue
	pool  *parallel.Pool
	ctrl  *admission.Controller
	agg   *progress.Aggregator
	now   func() time.Time
	size  int // icon size passed to IconLoad jobs
	id    uint64
	last  int // budget of the last tick
	icons []job.Job
	// keys of icons, which are requested but not yet admitted
	iconKeys map[string]struct{}
	closed   bool
}

// New starts the worker pool. exec defaults to Execute and icons may be nil.
// A pool which cannot be started is the only error.
func New(ctx context.Context, cfg model.Config, exec parallel.Executor, icons progress.IconSink) (*Engine, error) {
	if exec == nil {
		exec = Execute
	}
	q := queue.New()
	pool, err := parallel.Start(ctx, q, parallel.Size(cfg.Engine.PoolCap), cfg.Engine.ResultBuffer, exec)
	if err != nil {
		return nil, fmt.Errorf("starting worker pool: %w", err)
	}
	slog.DebugContext(ctx, "engine started", "workers", pool.Size(), "result_buffer", cfg.Engine.ResultBuffer)
	return &Engine{
		q:        q,
		pool:     pool,
		ctrl:     admission.NewController(cfg.Admission),
		agg:      progress.NewAggregator(q, icons, cfg.Engine.DrainPerTick, cfg.Engine.SampleWindow),
		now:      time.Now,
		size:     cfg.Icons.Size,
		iconKeys: make(map[string]struct{}),
	}, nil
}

func (e *Engine) nextID() uint64 {
	e.id++
	return e.id
}

func (e *Engine) submit(j job.Job) bool {
	j.ID = e.nextID()
	return e.q.TryEnqueue(j)
}

// RequestIcon asks for the icon of key to be loaded from path. Priority
// requests, typically rows which are visible right now, go to the front of
// the pending list, others to the back. It returns false when the icon is
// already requested or in flight; a priority request still moves a pending
// icon to the front.
func (e *Engine) RequestIcon(key, path string, priority bool) bool {
	if e.q.Contains(job.Ident{Kind: job.KindIconLoad, Key: key}) {
		return false
	}
	if _, ok := e.iconKeys[key]; ok {
		if priority {
			i := slices.IndexFunc(e.icons, func(j job.Job) bool { return j.Key == key })
			if i > 0 {
				j := e.icons[i]
				e.icons = slices.Delete(e.icons, i, i+1)
				e.icons = slices.Insert(e.icons, 0, j)
			}
		}
		return false
	}

	j := job.Job{
		Key:     key,
		Kind:    job.KindIconLoad,
		Payload: job.IconPayload{Path: path, Size: e.size},
	}
	e.iconKeys[key] = struct{}{}
	if priority {
		e.icons = slices.Insert(e.icons, 0, j)
	} else {
		e.icons = append(e.icons, j)
	}
	return true
}

// admitIcons submits up to n pending icons. An icon refused by the queue is
// already in flight, its result is on the way.
func (e *Engine) admitIcons(n int) int {
	admitted := 0
	for admitted < n && len(e.icons) > 0 {
		j := e.icons[0]
		e.icons = e.icons[1:]
		delete(e.iconKeys, j.Key)
		if e.submit(j) {
			admitted++
		}
	}
	if len(e.icons) == 0 {
		e.icons = nil
	}
	return admitted
}

// StartVerification starts a new session over jobs, only from Idle. Jobs with
// a duplicate key are verified once.
func (e *Engine) StartVerification(ctx context.Context, jobs []job.Job) (*progress.Session, error) {
	if e.closed {
		return nil, ErrClosed
	}
	batch := job.NewBatch(uuid.NewString())
	return e.agg.Start(ctx, batch, jobs, e.now())
}

func (e *Engine) Pause(ctx context.Context) error {
	return e.agg.Pause(ctx)
}

func (e *Engine) Resume(ctx context.Context) error {
	return e.agg.Resume(ctx)
}

func (e *Engine) Cancel(ctx context.Context) error {
	return e.agg.Cancel(ctx)
}

// Acknowledge returns a completed or cancelled session and goes back to Idle.
func (e *Engine) Acknowledge() (*progress.Session, error) {
	return e.agg.Acknowledge()
}

// Session returns the active session, nil while idle.
func (e *Engine) Session() *progress.Session {
	return e.agg.Session()
}

func (e *Engine) State() progress.State {
	return e.agg.State()
}

// Tick runs one UI frame: observe the frame time, admit new work within the
// budget (icons first, then the session) and drain results. It never blocks.
func (e *Engine) Tick(ctx context.Context, frame time.Duration) (admitted, drained int) {
	if e.closed {
		return 0, 0
	}
	e.ctrl.Observe(frame)
	e.last = e.ctrl.Budget(e.q.InFlight())

	admitted = e.admitIcons(e.last)
	if s := e.agg.Session(); s != nil {
		admitted += s.Admit(e.last-admitted, e.submit)
	}
	drained = e.agg.Drain(ctx, e.pool.Results(), e.now())
	return admitted, drained
}

// Idle reports whether nothing is pending, queued or running. A running
// session with unsubmitted jobs is not idle.
func (e *Engine) Idle() bool {
	if e.q.InFlight() > 0 || len(e.icons) > 0 {
		return false
	}
	if s := e.agg.Session(); s != nil && s.State() == progress.StateRunning {
		return false
	}
	return true
}

// Snapshot is what the UI renders each frame.
type Snapshot struct {
	State        progress.State   `yaml:"state"`
	Session      string           `yaml:"session,omitempty"`
	Stats        progress.Stats   `yaml:"stats"`
	Unsubmitted  int              `yaml:"unsubmitted"`
	ETA          time.Duration    `yaml:"eta"`
	FPS          float64          `yaml:"fps"`
	Budget       int              `yaml:"budget"`
	Queued       int              `yaml:"queued"`
	InFlight     int              `yaml:"in_flight"`
	Busy         int              `yaml:"busy"`
	Workers      int              `yaml:"workers"`
	PendingIcons int              `yaml:"pending_icons"`
	Discarded    int              `yaml:"discarded"`
	Icons        progress.Summary `yaml:"icons"`
	Verify       progress.Summary `yaml:"verify"`
}

// Utilization is the share of busy workers in [0, 1].
func (s Snapshot) Utilization() float64 {
	if s.Workers == 0 {
		return 0
	}
	return float64(s.Busy) / float64(s.Workers)
}

func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{
		State:        e.agg.State(),
		ETA:          e.agg.ETA(),
		FPS:          e.ctrl.FPS(),
		Budget:       e.last,
		Queued:       e.q.Len(),
		InFlight:     e.q.InFlight(),
		Busy:         e.pool.Busy(),
		Workers:      e.pool.Size(),
		PendingIcons: len(e.icons),
		Discarded:    e.agg.Discarded(),
		Icons:        e.agg.Window(job.KindIconLoad).Summary(),
		Verify:       e.agg.Window(job.KindVerifyRom).Summary(),
	}
	if s := e.agg.Session(); s != nil {
		snap.Session = s.ID
		snap.Stats = s.Stats()
		snap.Unsubmitted = s.Unsubmitted()
	}
	return snap
}

// Close stops the workers. Jobs still queued are abandoned, running jobs
// finish first. Close is idempotent.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.pool.Close()
}
