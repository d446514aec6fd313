// Package admission decides how many new jobs may be submitted in one UI
// tick. It is a closed-loop controller: the observed frame rate, which reflects
// the cost of work admitted earlier, selects the next budget.
package admission

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Step admits Budget jobs per tick while the smoothed frame rate is below
// BelowFPS.
type Step struct {
	BelowFPS float64 `yaml:"below_fps"`
	Budget   int     `yaml:"budget"`
}

type Config struct {
	Steps      []Step  `yaml:"steps"`
	Ceiling    int     `yaml:"ceiling"`     // budget above the last step, never exceeded
	MinTrickle int     `yaml:"min_trickle"` // guaranteed budget while backlog allows
	MaxBacklog int     `yaml:"max_backlog"` // 0 disables the backlog limit
	Smoothing  float64 `yaml:"smoothing"`   // EMA weight of the newest frame, (0, 1]
}

func DefaultConfig() Config {
	return Config{
		Steps: []Step{
			{BelowFPS: 25, Budget: 1},
			{BelowFPS: 40, Budget: 3},
			{BelowFPS: 50, Budget: 5},
		},
		Ceiling:    8,
		MinTrickle: 1,
		MaxBacklog: 64,
		Smoothing:  0.1,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Ceiling < 1 {
		errs = append(errs, fmt.Errorf("ceiling must be positive, got %d", c.Ceiling))
	}
	if c.MinTrickle < 0 || c.MinTrickle > c.Ceiling {
		errs = append(errs, fmt.Errorf("min_trickle must be within [0, ceiling], got %d", c.MinTrickle))
	}
	if c.MaxBacklog < 0 {
		errs = append(errs, fmt.Errorf("max_backlog must not be negative, got %d", c.MaxBacklog))
	}
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		errs = append(errs, fmt.Errorf("smoothing must be within (0, 1], got %g", c.Smoothing))
	}
	if !slices.IsSortedFunc(c.Steps, func(a, b Step) int { return cmp.Compare(a.BelowFPS, b.BelowFPS) }) {
		errs = append(errs, errors.New("steps must be sorted by below_fps"))
	}
	for i, s := range c.Steps {
		if s.Budget < 0 {
			errs = append(errs, fmt.Errorf("steps[%d].budget must not be negative, got %d", i, s.Budget))
		}
	}
	return errors.Join(errs...)
}

// Budget is the admission policy as a pure function of the smoothed frame
// rate and the backlog (queued + in flight). The result is always within
// [0, cfg.Ceiling].
func Budget(cfg Config, fps float64, backlog int) int {
	budget := cfg.Ceiling
	for _, s := range cfg.Steps {
		if fps < s.BelowFPS {
			budget = s.Budget
			break
		}
	}
	budget = max(budget, cfg.MinTrickle)

	if cfg.MaxBacklog > 0 {
		room := cfg.MaxBacklog - backlog
		if room <= 0 {
			return 0
		}
		budget = min(budget, room)
	}
	return max(min(budget, cfg.Ceiling), 0)
}

// Controller smooths frame times into a frame rate and applies Budget.
// It is owned by the UI tick and is not safe for concurrent use.
type Controller struct {
	cfg    Config
	fps    float64
	primed bool
}

func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// Observe feeds the duration of the last frame.
func (c *Controller) Observe(frame time.Duration) {
	if frame <= 0 {
		return
	}
	fps := float64(time.Second) / float64(frame)
	if !c.primed {
		c.fps = fps
		c.primed = true
		return
	}
	c.fps += c.cfg.Smoothing * (fps - c.fps)
}

// FPS returns the smoothed frame rate, 0 before the first observation.
func (c *Controller) FPS() float64 {
	return c.fps
}

// Budget returns the number of jobs which may be admitted this tick. Before
// the first frame has been observed only the trickle is admitted.
func (c *Controller) Budget(backlog int) int {
	if !c.primed {
		return Budget(c.cfg, 0, backlog)
	}
	return Budget(c.cfg, c.fps, backlog)
}
