package progress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mameuix/mameuix/internal/job"
)

// Releaser frees an identity from the in-flight set once its result has been
// consumed.
type Releaser interface {
	Done(job.Ident)
}

// IconSink receives every icon outcome, keyed by icon name.
type IconSink interface {
	Store(key string, outcome job.Outcome)
}

// Aggregator is the single writer of all progress state. It drains the
// result channel once per UI tick, records performance samples, applies
// verification results to the active session and forwards icons.
type Aggregator struct {
	release   Releaser
	icons     IconSink
	maxDrain  int
	window    int
	windows   map[job.Kind]*Window
	session   *Session
	discarded int
}

func NewAggregator(release Releaser, icons IconSink, maxDrain, window int) *Aggregator {
	return &Aggregator{
		release:  release,
		icons:    icons,
		maxDrain: max(maxDrain, 1),
		window:   window,
		windows: map[job.Kind]*Window{
			job.KindIconLoad:  NewWindow(window),
			job.KindVerifyRom: NewWindow(window),
		},
	}
}

// Drain consumes up to maxDrain results without blocking and returns how many
// were consumed.
func (a *Aggregator) Drain(ctx context.Context, results <-chan job.Result, now time.Time) int {
	n := 0
	for n < a.maxDrain {
		select {
		case r, ok := <-results:
			if !ok {
				a.finish(ctx)
				return n
			}
			a.Apply(ctx, r, now)
			n++
		default:
			a.finish(ctx)
			return n
		}
	}
	a.finish(ctx)
	return n
}

// Apply consumes a single result.
func (a *Aggregator) Apply(ctx context.Context, r job.Result, now time.Time) {
	if r.Outcome.Status != job.StatusSkipped && a.sampled(r) {
		at := r.Finished
		if at.IsZero() {
			at = now
		}
		a.Window(r.Kind).Record(Sample{Duration: r.Duration, Succeeded: r.Outcome.Status.Succeeded(), At: at})
	}
	if a.release != nil {
		a.release.Done(r.Ident())
	}

	switch r.Kind {
	case job.KindVerifyRom:
		if a.session == nil || !a.session.Apply(r, now) {
			a.discarded++
			slog.DebugContext(ctx, "verification result discarded",
				"job_id", r.JobID, "key", r.Key, "batch", r.BatchID, "outcome", r.Outcome.String())
			return
		}
		slog.DebugContext(ctx, "verification result applied",
			"job_id", r.JobID, "key", r.Key, "outcome", r.Outcome.String(), "duration", r.Duration)
	case job.KindIconLoad:
		if r.Outcome.Status == job.StatusSkipped || a.icons == nil {
			return
		}
		a.icons.Store(r.Key, r.Outcome)
	}
}

// sampled reports whether r belongs in its kind's window. The verification
// window only holds results of the active session.
func (a *Aggregator) sampled(r job.Result) bool {
	if r.Kind != job.KindVerifyRom {
		return true
	}
	return a.session != nil && r.BatchID == a.session.ID
}

func (a *Aggregator) finish(ctx context.Context) {
	if a.session != nil && a.session.complete() {
		st := a.session.Stats()
		slog.InfoContext(ctx, "verification completed",
			"session", a.session.ID,
			"total", st.Total,
			"verified", st.Verified,
			"missing", st.Missing,
			"bad_checksum", st.BadChecksum,
			"warning", st.Warning,
			"error", st.Error,
		)
	}
}

// Window returns the performance window of a job kind.
func (a *Aggregator) Window(kind job.Kind) *Window {
	w, ok := a.windows[kind]
	if !ok {
		w = NewWindow(a.window)
		a.windows[kind] = w
	}
	return w
}

// Discarded counts verification results which were not applied.
func (a *Aggregator) Discarded() int {
	return a.discarded
}

// Session returns the current session, nil while idle.
func (a *Aggregator) Session() *Session {
	return a.session
}

func (a *Aggregator) State() State {
	if a.session == nil {
		return StateIdle
	}
	return a.session.State()
}

// Start creates a new session, only from Idle.
func (a *Aggregator) Start(ctx context.Context, batch *job.Batch, jobs []job.Job, now time.Time) (*Session, error) {
	if a.session != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotIdle, a.session.State())
	}
	a.session = NewSession(batch, jobs, now)
	a.Window(job.KindVerifyRom).Reset()
	slog.InfoContext(ctx, "verification started", "session", batch.ID, "total", a.session.Stats().Total)
	return a.session, nil
}

func (a *Aggregator) Pause(ctx context.Context) error {
	if a.session == nil {
		return fmt.Errorf("%w: pause from idle", ErrInvalidTransition)
	}
	before := a.session.State()
	if err := a.session.Pause(a.ETA()); err != nil {
		return err
	}
	if before != a.session.State() {
		slog.InfoContext(ctx, "verification paused", "session", a.session.ID, "processed", a.session.Stats().Processed())
	}
	return nil
}

func (a *Aggregator) Resume(ctx context.Context) error {
	if a.session == nil {
		return fmt.Errorf("%w: resume from idle", ErrInvalidTransition)
	}
	before := a.session.State()
	if err := a.session.Resume(); err != nil {
		return err
	}
	if before != a.session.State() {
		slog.InfoContext(ctx, "verification resumed", "session", a.session.ID)
	}
	return nil
}

func (a *Aggregator) Cancel(ctx context.Context) error {
	if a.session == nil {
		return fmt.Errorf("%w: cancel from idle", ErrInvalidTransition)
	}
	before := a.session.State()
	if err := a.session.Cancel(); err != nil {
		return err
	}
	if before != a.session.State() {
		slog.InfoContext(ctx, "verification cancelled", "session", a.session.ID, "processed", a.session.Stats().Processed())
	}
	return nil
}

// Acknowledge discards a completed or cancelled session and returns to Idle.
// The returned session is the final, read-only state for report sinks.
func (a *Aggregator) Acknowledge() (*Session, error) {
	if a.session == nil {
		return nil, fmt.Errorf("%w: acknowledge from idle", ErrInvalidTransition)
	}
	switch st := a.session.State(); st {
	case StateCompleted, StateCancelled:
		s := a.session
		a.session = nil
		return s, nil
	default:
		return nil, fmt.Errorf("%w: acknowledge from %s", ErrInvalidTransition, st)
	}
}

// ETA of the active session, based on the verification throughput.
func (a *Aggregator) ETA() time.Duration {
	if a.session == nil {
		return 0
	}
	return a.session.ETA(a.Window(job.KindVerifyRom).Throughput())
}
