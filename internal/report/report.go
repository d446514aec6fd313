// Package report turns a finished verification session into a report and
// hands it to a sink. Only the YAML sink lives here, text, CSV and HTML
// writers are external.
package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mameuix/mameuix/internal/progress"
)

// Report is the final state of a verification session.
type Report struct {
	Session     string           `yaml:"session"`
	State       progress.State   `yaml:"state"`
	Generated   time.Time        `yaml:"generated"`
	Elapsed     time.Duration    `yaml:"elapsed"`
	Stats       progress.Stats   `yaml:"stats"`
	Performance progress.Summary `yaml:"performance"`
	Items       []progress.Item  `yaml:"items"`
}

// Options select what goes into a Report.
type Options struct {
	IssuesOnly bool // list only items whose status is not verified
}

// New builds a report from a completed or cancelled session. Pending items of
// a cancelled session are listed with status pending.
func New(s *progress.Session, perf progress.Summary, now time.Time, opts Options) Report {
	st := s.Stats()
	items := s.Items()
	if opts.IssuesOnly {
		items = s.Issues()
	}
	return Report{
		Session:     s.ID,
		State:       s.State(),
		Generated:   now,
		Elapsed:     st.LastUpdate.Sub(st.StartedAt),
		Stats:       st,
		Performance: perf,
		Items:       items,
	}
}

// Sink consumes a finished report.
type Sink interface {
	Write(ctx context.Context, r Report) error
}

// YAML writes reports as YAML documents.
type YAML struct {
	w io.Writer
}

func NewYAML(w io.Writer) *YAML {
	return &YAML{w: w}
}

func (y *YAML) Write(ctx context.Context, r Report) error {
	enc := yaml.NewEncoder(y.w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	slog.DebugContext(ctx, "report written", "session", r.Session, "items", len(r.Items))
	return nil
}
