package progress

import (
	"fmt"
	"slices"
	"time"
)

// Sample is one executed job as seen by the consumer.
type Sample struct {
	Duration  time.Duration
	Succeeded bool
	At        time.Time
}

// Window is a fixed-size ring of the most recent samples plus lifetime
// counters. It has a single writer, the aggregator.
type Window struct {
	buf    []Sample
	next   int
	full   bool
	total  int
	failed int
}

func NewWindow(size int) *Window {
	return &Window{buf: make([]Sample, max(size, 1))}
}

func (w *Window) Record(s Sample) {
	w.buf[w.next] = s
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
	w.total++
	if !s.Succeeded {
		w.failed++
	}
}

// Len is the number of samples currently held.
func (w *Window) Len() int {
	if w.full {
		return len(w.buf)
	}
	return w.next
}

// Samples returns the held samples, oldest first.
func (w *Window) Samples() []Sample {
	if !w.full {
		return slices.Clone(w.buf[:w.next])
	}
	out := make([]Sample, 0, len(w.buf))
	out = append(out, w.buf[w.next:]...)
	return append(out, w.buf[:w.next]...)
}

func (w *Window) oldest() Sample {
	if w.full {
		return w.buf[w.next]
	}
	return w.buf[0]
}

func (w *Window) newest() Sample {
	if w.next == 0 {
		return w.buf[len(w.buf)-1]
	}
	return w.buf[w.next-1]
}

func (w *Window) Average() time.Duration {
	n := w.Len()
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range w.buf[:n] {
		sum += s.Duration
	}
	return sum / time.Duration(n)
}

// Percentiles returns P50, P90 and P99 of the held durations.
func (w *Window) Percentiles() (p50, p90, p99 time.Duration) {
	n := w.Len()
	if n == 0 {
		return 0, 0, 0
	}
	d := make([]time.Duration, n)
	for i, s := range w.buf[:n] {
		d[i] = s.Duration
	}
	slices.Sort(d)
	return d[n/2], d[n*9/10], d[n*99/100]
}

// Throughput is items per second across the time span of the held samples.
// n samples span n-1 intervals.
func (w *Window) Throughput() float64 {
	if w.Len() < 2 {
		return 0
	}
	span := w.newest().At.Sub(w.oldest().At)
	if span <= 0 {
		return 0
	}
	return float64(w.Len()-1) / span.Seconds()
}

// SuccessRate is the lifetime share of succeeded samples in percent.
func (w *Window) SuccessRate() float64 {
	if w.total == 0 {
		return 0
	}
	return float64(w.total-w.failed) / float64(w.total) * 100
}

func (w *Window) Total() int  { return w.total }
func (w *Window) Failed() int { return w.failed }

func (w *Window) Reset() {
	clear(w.buf)
	w.next = 0
	w.full = false
	w.total = 0
	w.failed = 0
}

// Summary is a point-in-time view of a Window.
type Summary struct {
	Samples     int           `yaml:"samples"`
	Total       int           `yaml:"total"`
	Failed      int           `yaml:"failed"`
	Average     time.Duration `yaml:"average"`
	P50         time.Duration `yaml:"p50"`
	P90         time.Duration `yaml:"p90"`
	P99         time.Duration `yaml:"p99"`
	SuccessRate float64       `yaml:"success_rate"`
	PerSecond   float64       `yaml:"per_second"`
}

func (w *Window) Summary() Summary {
	p50, p90, p99 := w.Percentiles()
	return Summary{
		Samples:     w.Len(),
		Total:       w.total,
		Failed:      w.failed,
		Average:     w.Average(),
		P50:         p50,
		P90:         p90,
		P99:         p99,
		SuccessRate: w.SuccessRate(),
		PerSecond:   w.Throughput(),
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("avg %s, p50 %s, p90 %s, p99 %s, success %.1f%%, %.1f/s",
		ms(s.Average), ms(s.P50), ms(s.P90), ms(s.P99), s.SuccessRate, s.PerSecond)
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
}
