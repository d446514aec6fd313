package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/mameuix/mameuix/internal/job"
)

var (
	ErrNotIdle           = errors.New("verification session is active")
	ErrInvalidTransition = errors.New("invalid session transition")
)

// State of a verification session.
//
//	Idle -> Running <-> Paused
//	Running|Paused -> Cancelled
//	Running -> Completed
//	Completed|Cancelled -> Idle (acknowledged)
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Stats are the counters of a verification session. Verified + Missing +
// BadChecksum + Warning + Error is the number of applied results and never
// exceeds Total.
type Stats struct {
	Total       int       `yaml:"total"`
	Verified    int       `yaml:"verified"`
	Missing     int       `yaml:"missing"`
	BadChecksum int       `yaml:"bad_checksum"`
	Warning     int       `yaml:"warning"`
	Error       int       `yaml:"error"`
	StartedAt   time.Time `yaml:"started_at"`
	LastUpdate  time.Time `yaml:"last_update"`
}

func (s Stats) Processed() int {
	return s.Verified + s.Missing + s.BadChecksum + s.Warning + s.Error
}

func (s Stats) Remaining() int {
	return s.Total - s.Processed()
}

// Fraction of processed items in [0, 1].
func (s Stats) Fraction() float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.Processed()) / float64(s.Total)
}

// Item is the per-ROM status of a session, Status is zero until a result
// has been applied.
type Item struct {
	Key         string        `yaml:"key"`
	Description string        `yaml:"description,omitempty"`
	Status      job.Status    `yaml:"-"`
	StatusName  string        `yaml:"status"`
	Reason      string        `yaml:"reason,omitempty"`
	Duration    time.Duration `yaml:"duration,omitempty"`
}

func (i Item) Pending() bool {
	return i.Status == 0
}

// Session is a single verification run. It is owned by the consumer side;
// workers only see the job.Batch tag of its jobs.
type Session struct {
	ID    string
	Batch *job.Batch

	state     State
	stats     Stats
	items     map[string]*Item
	order     []string
	pending   []job.Job
	frozenETA time.Duration
}

// NewSession creates a running session. Jobs with a duplicate key are
// dropped, Total counts unique keys.
func NewSession(batch *job.Batch, jobs []job.Job, now time.Time) *Session {
	s := &Session{
		ID:      batch.ID,
		Batch:   batch,
		state:   StateRunning,
		items:   make(map[string]*Item, len(jobs)),
		order:   make([]string, 0, len(jobs)),
		pending: make([]job.Job, 0, len(jobs)),
	}
	for _, j := range jobs {
		if _, ok := s.items[j.Key]; ok {
			continue
		}
		j.Batch = batch
		item := &Item{Key: j.Key, StatusName: "pending"}
		if p, ok := j.Payload.(job.VerifyPayload); ok {
			item.Description = p.Description
		}
		s.items[j.Key] = item
		s.order = append(s.order, j.Key)
		s.pending = append(s.pending, j)
	}
	s.stats = Stats{
		Total:      len(s.order),
		StartedAt:  now,
		LastUpdate: now,
	}
	return s
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) Stats() Stats {
	return s.stats
}

// Unsubmitted is the number of jobs not yet handed to the queue.
func (s *Session) Unsubmitted() int {
	return len(s.pending)
}

// Has reports whether key belongs to this session's batch.
func (s *Session) Has(key string) bool {
	_, ok := s.items[key]
	return ok
}

// Admit offers up to n unsubmitted jobs to submit, only while running. A job
// refused by submit (its key is still in flight from an earlier batch) is
// moved to the end and retried later. It returns the number of accepted jobs.
func (s *Session) Admit(n int, submit func(job.Job) bool) int {
	if s.state != StateRunning {
		return 0
	}
	attempts := min(n, len(s.pending))
	accepted := 0
	for range attempts {
		j := s.pending[0]
		s.pending = s.pending[1:]
		if submit(j) {
			accepted++
			continue
		}
		s.pending = append(s.pending, j)
	}
	return accepted
}

// Apply counts r once, only while running or paused and only for a key of this
// batch which has not been applied yet.
func (s *Session) Apply(r job.Result, now time.Time) bool {
	if s.state != StateRunning && s.state != StatePaused {
		return false
	}
	if r.Kind != job.KindVerifyRom || r.BatchID != s.ID {
		return false
	}
	item, ok := s.items[r.Key]
	if !ok || !item.Pending() {
		return false
	}
	switch r.Outcome.Status {
	case job.StatusVerified:
		s.stats.Verified++
	case job.StatusMissing:
		s.stats.Missing++
	case job.StatusBadChecksum:
		s.stats.BadChecksum++
	case job.StatusWarning:
		s.stats.Warning++
	case job.StatusError:
		s.stats.Error++
	default:
		return false
	}
	item.Status = r.Outcome.Status
	item.StatusName = r.Outcome.Status.String()
	item.Reason = r.Outcome.Reason
	item.Duration = r.Duration
	s.stats.LastUpdate = now
	return true
}

// complete moves a running session whose results are all applied to
// Completed.
func (s *Session) complete() bool {
	if s.state == StateRunning && s.stats.Processed() == s.stats.Total {
		s.state = StateCompleted
		return true
	}
	return false
}

// Pause stops admission. eta is frozen until Resume. Pausing a paused
// session is a no-op.
func (s *Session) Pause(eta time.Duration) error {
	switch s.state {
	case StatePaused:
		return nil
	case StateRunning:
		s.state = StatePaused
		s.frozenETA = eta
		return nil
	}
	return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, s.state)
}

// Resume re-enables admission. Resuming a running session is a no-op.
func (s *Session) Resume() error {
	switch s.state {
	case StateRunning:
		return nil
	case StatePaused:
		s.state = StateRunning
		s.frozenETA = 0
		return nil
	}
	return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, s.state)
}

// Cancel stops admission, tells workers to skip not yet started jobs of the
// batch and makes Apply reject every further result. Applied counters stay.
func (s *Session) Cancel() error {
	switch s.state {
	case StateCancelled:
		return nil
	case StateRunning, StatePaused:
		s.state = StateCancelled
		s.pending = nil
		s.Batch.Cancel()
		return nil
	}
	return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, s.state)
}

// ETA estimates the remaining time from throughput in items per second. It
// is frozen while paused and zero when unknown or finished.
func (s *Session) ETA(throughput float64) time.Duration {
	switch s.state {
	case StatePaused:
		return s.frozenETA
	case StateRunning:
		if throughput <= 0 {
			return 0
		}
		return time.Duration(float64(s.stats.Remaining()) / throughput * float64(time.Second))
	}
	return 0
}

// Items returns per-ROM status in submission order.
func (s *Session) Items() []Item {
	out := make([]Item, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, *s.items[k])
	}
	return out
}

// Issues returns the items whose applied status is not Verified.
func (s *Session) Issues() []Item {
	var out []Item
	for _, k := range s.order {
		if it := s.items[k]; !it.Pending() && it.Status != job.StatusVerified {
			out = append(out, *it)
		}
	}
	return out
}
