package job

import (
	"fmt"
	"image"
	"sync/atomic"
	"time"
)

// Kind selects the executor a worker runs for a Job.
type Kind int

const (
	KindIconLoad Kind = iota + 1
	KindVerifyRom
)

func (k Kind) String() string {
	switch k {
	case KindIconLoad:
		return "icon_load"
	case KindVerifyRom:
		return "verify_rom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Job is a unit of background work. Identity is (Kind, Key); ID only
// disambiguates log lines.
type Job struct {
	ID      uint64
	Key     string
	Kind    Kind
	Batch   *Batch // nil for jobs which do not belong to a verification batch
	Payload any    // IconPayload or VerifyPayload
}

// Ident is the in-flight identity of a job.
type Ident struct {
	Kind Kind
	Key  string
}

func (j Job) Ident() Ident {
	return Ident{Kind: j.Kind, Key: j.Key}
}

func (j Job) String() string {
	return fmt.Sprintf("%s#%d(%s)", j.Kind, j.ID, j.Key)
}

type IconPayload struct {
	Path string
	Size int // target edge in pixels, 0 keeps the source size
}

type VerifyPayload struct {
	Path        string
	Checksum    string // algo:hex or bare hex, empty when unknown
	Description string
}

// Batch tags jobs of a single verification run. Cancel is observed by workers
// before a job starts, never while it runs.
type Batch struct {
	ID        string
	cancelled atomic.Bool
}

func NewBatch(id string) *Batch {
	return &Batch{ID: id}
}

func (b *Batch) Cancel() {
	b.cancelled.Store(true)
}

func (b *Batch) Cancelled() bool {
	return b != nil && b.cancelled.Load()
}

// Status is the terminal classification of a job.
type Status int

const (
	// icon outcomes
	StatusDecoded Status = iota + 1
	StatusNotFound
	StatusDecodeError
	// verification outcomes
	StatusVerified
	StatusMissing
	StatusBadChecksum
	StatusWarning
	// shared
	StatusError
	StatusSkipped // batch was cancelled before the job started
)

var statusNames = map[Status]string{
	StatusDecoded:     "decoded",
	StatusNotFound:    "not_found",
	StatusDecodeError: "decode_error",
	StatusVerified:    "verified",
	StatusMissing:     "missing",
	StatusBadChecksum: "bad_checksum",
	StatusWarning:     "warning",
	StatusError:       "error",
	StatusSkipped:     "skipped",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Succeeded reports whether the outcome counts as a successful execution for
// performance statistics.
func (s Status) Succeeded() bool {
	return s == StatusDecoded || s == StatusVerified
}

// Decoded is the payload of a StatusDecoded outcome.
type Decoded struct {
	Image  *image.RGBA
	Width  int
	Height int
}

// Outcome is a tagged union: Status is the tag, Reason carries the text of
// DecodeError, Warning and Error, Decoded is set only for StatusDecoded.
type Outcome struct {
	Status  Status
	Reason  string
	Decoded *Decoded
}

func Decode(img *image.RGBA) Outcome {
	b := img.Bounds()
	return Outcome{Status: StatusDecoded, Decoded: &Decoded{Image: img, Width: b.Dx(), Height: b.Dy()}}
}

func Fail(status Status, format string, args ...any) Outcome {
	return Outcome{Status: status, Reason: fmt.Sprintf(format, args...)}
}

func Plain(status Status) Outcome {
	return Outcome{Status: status}
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return o.Status.String()
	}
	return o.Status.String() + ": " + o.Reason
}

// Result is produced exactly once per accepted job.
type Result struct {
	JobID    uint64
	Key      string
	Kind     Kind
	BatchID  string
	Outcome  Outcome
	Duration time.Duration
	Finished time.Time
}

func (r Result) Ident() Ident {
	return Ident{Kind: r.Kind, Key: r.Key}
}
