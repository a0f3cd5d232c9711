// Package switcher runs the day or night command whenever the sun rises
// or sets at the configured location.
package switcher

import (
	"context"
	"sync"
	"time"

	"thsw/internal/astronomy"
	"thsw/internal/command"

	"github.com/charmbracelet/log"
)

// Clock provides current time; useful for deterministic tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// CommandRunner executes a day or night command.
type CommandRunner interface {
	Run(ctx context.Context, c command.Command) error
}

// Notifier is told about every evaluation.
type Notifier interface {
	Notify(Status) error
	Close()
}

// Status is a snapshot of the switcher.
type Status struct {
	Location     astronomy.Location `json:"location"`
	Sun          astronomy.Result   `json:"sun"`
	Phase        astronomy.Phase    `json:"phase"`
	LastExecuted astronomy.Phase    `json:"last_executed,omitempty"`
	LastSwitch   *time.Time         `json:"last_switch,omitempty"`
	EvaluatedAt  time.Time          `json:"evaluated_at"`
	Override     bool               `json:"override"`
	LastError    string             `json:"last_error,omitempty"`
	Running      bool               `json:"running"`
}

type Config struct {
	// Location must carry Latitude and Longitude. Its UTCOffset is used
	// only when FixedOffset is set; otherwise the offset is read from Zone
	// on every evaluation.
	Location    astronomy.Location
	FixedOffset bool
	Zone        *time.Location

	Day      command.Command
	Night    command.Command
	Interval time.Duration

	Runner   CommandRunner
	Notifier Notifier
	Clock    Clock
	Logger   *log.Logger
}

type Switcher struct {
	cfg    Config
	logger *log.Logger

	// runMu serializes evaluations and forced runs.
	runMu sync.Mutex

	mu     sync.RWMutex
	status Status
	// overrideBase is the computed phase when a forced run took effect.
	overrideBase astronomy.Phase
}

func New(cfg Config) *Switcher {
	if cfg.Zone == nil {
		cfg.Zone = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Switcher{cfg: cfg, logger: cfg.Logger}
}

// Start evaluates immediately and then once per interval until ctx is done.
func (s *Switcher) Start(ctx context.Context) error {
	s.mu.Lock()
	s.status.Running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.status.Running = false
		s.mu.Unlock()
	}()

	s.logger.Info("starting switcher", "interval", s.cfg.Interval)
	s.Evaluate(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("switcher stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Evaluate(ctx)
		}
	}
}

// Location returns the observer location at now.
func (s *Switcher) Location(now time.Time) astronomy.Location {
	loc := s.cfg.Location
	if !s.cfg.FixedOffset {
		_, offset := now.In(s.cfg.Zone).Zone()
		loc.UTCOffset = float64(offset) / 3600
	}
	return loc
}

// Sun computes today's sun times without touching the switcher state.
func (s *Switcher) Sun() (astronomy.Location, astronomy.Result) {
	now := s.cfg.Clock.Now()
	loc := s.Location(now)
	return loc, astronomy.Compute(now, loc)
}

// Evaluate computes the current phase and runs its command when it
// differs from the last one executed. A failed command leaves the state
// unchanged so it is retried on the next evaluation. A forced phase is
// kept until the computed phase next changes.
func (s *Switcher) Evaluate(ctx context.Context) Status {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := s.cfg.Clock.Now()
	loc := s.Location(now)
	res := astronomy.Compute(now, loc)
	phase := phaseAt(now, loc, res)

	if err := res.Err(); err != nil {
		s.logger.Debug("no sunrise or sunset today", "condition", res.Condition, "phase", phase)
	}

	s.mu.Lock()
	s.status.Location = loc
	s.status.Sun = res
	s.status.Phase = phase
	s.status.EvaluatedAt = now
	last := s.status.LastExecuted
	override := s.status.Override
	if override && phase != s.overrideBase {
		s.logger.Info("override expired", "forced", last, "phase", phase)
		s.status.Override = false
		override = false
	}
	s.mu.Unlock()

	s.logger.Debug("evaluated", "sunrise", res.Sunrise, "sunset", res.Sunset, "phase", phase, "last", last, "override", override)

	if phase != last && !override {
		if last == "" {
			s.logger.Info("initial command execution", "phase", phase)
		} else {
			s.logger.Info("switching", "from", last, "to", phase)
		}
		if err := s.run(ctx, phase, now); err != nil {
			s.logger.Error("switch failed", "phase", phase, "err", err)
		}
	}

	st := s.Status()
	if s.cfg.Notifier != nil {
		if err := s.cfg.Notifier.Notify(st); err != nil {
			s.logger.Warn("notify failed", "err", err)
		}
	}
	return st
}

// Force runs the command for phase now, regardless of the sun. When
// phase differs from the computed one, evaluations leave it in place
// until the next sunrise or sunset.
func (s *Switcher) Force(ctx context.Context, phase astronomy.Phase) error {
	if _, err := astronomy.ParsePhase(string(phase)); err != nil {
		return err
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := s.cfg.Clock.Now()
	loc := s.Location(now)
	computed := phaseAt(now, loc, astronomy.Compute(now, loc))
	if err := s.run(ctx, phase, now); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Override = phase != computed
	s.overrideBase = computed
	return nil
}

func phaseAt(now time.Time, loc astronomy.Location, res astronomy.Result) astronomy.Phase {
	return astronomy.PhaseAt(astronomy.TimeOfDayFromTime(now.In(loc.Zone())), res)
}

func (s *Switcher) run(ctx context.Context, phase astronomy.Phase, now time.Time) error {
	cmd := s.cfg.Day
	if phase == astronomy.Night {
		cmd = s.cfg.Night
	}
	err := s.cfg.Runner.Run(ctx, cmd)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.status.LastError = err.Error()
		return err
	}
	s.status.LastError = ""
	s.status.LastExecuted = phase
	t := now
	s.status.LastSwitch = &t
	return nil
}

func (s *Switcher) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Switcher) Stop() {
	if s.cfg.Notifier != nil {
		s.cfg.Notifier.Close()
	}
}
