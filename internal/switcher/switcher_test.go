package switcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"thsw/internal/astronomy"
	"thsw/internal/command"

	"github.com/charmbracelet/log"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeRunner struct {
	mu   sync.Mutex
	ran  []string
	fail error
}

func (r *fakeRunner) Run(_ context.Context, c command.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.ran = append(r.ran, c.String())
	return nil
}

func (r *fakeRunner) Ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	statuses []Status
	closed   bool
}

func (n *fakeNotifier) Notify(s Status) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, s)
	return nil
}

func (n *fakeNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
}

var (
	dayCmd   = command.Command{Name: "theme", Args: []string{"light"}}
	nightCmd = command.Command{Name: "theme", Args: []string{"dark"}}
)

func newTestSwitcher(clock Clock, runner CommandRunner, notifier Notifier) *Switcher {
	return New(Config{
		// Swindon, sunrise 06:10 and sunset 18:22 UTC on 2024-03-20.
		Location:    astronomy.Location{Latitude: 51.1740, Longitude: -1.8224},
		FixedOffset: true,
		Day:         dayCmd,
		Night:       nightCmd,
		Interval:    time.Millisecond,
		Runner:      runner,
		Notifier:    notifier,
		Clock:       clock,
		Logger:      log.New(&bytes.Buffer{}),
	})
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 20, hour, minute, 0, 0, time.UTC)
}

func TestEvaluateSwitchesOnPhaseChange(t *testing.T) {
	clock := &fakeClock{now: at(3, 0)}
	runner := &fakeRunner{}
	notifier := &fakeNotifier{}
	s := newTestSwitcher(clock, runner, notifier)
	ctx := context.Background()

	steps := []struct {
		now   time.Time
		phase astronomy.Phase
		ran   int
	}{
		{at(3, 0), astronomy.Night, 1},
		{at(5, 0), astronomy.Night, 1},
		{at(6, 10), astronomy.Day, 2},
		{at(12, 0), astronomy.Day, 2},
		{at(18, 22), astronomy.Night, 3},
		{at(23, 0), astronomy.Night, 3},
	}
	for _, step := range steps {
		clock.Set(step.now)
		st := s.Evaluate(ctx)
		if got, want := st.Phase, step.phase; got != want {
			t.Errorf("%v: got phase %v, want %v", step.now, got, want)
		}
		if got, want := len(runner.Ran()), step.ran; got != want {
			t.Errorf("%v: got %d runs, want %d", step.now, got, want)
		}
		if got, want := st.LastExecuted, step.phase; got != want {
			t.Errorf("%v: got last executed %v, want %v", step.now, got, want)
		}
	}

	want := []string{"theme dark", "theme light", "theme dark"}
	got := runner.Ran()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("run %d: got %v, want %v", i, got[i], want[i])
		}
	}
	if got, want := len(notifier.statuses), len(steps); got != want {
		t.Errorf("got %d notifications, want %d", got, want)
	}
	if got, want := s.Status().LastSwitch, at(18, 22); got == nil || !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEvaluateRetriesFailedCommand(t *testing.T) {
	clock := &fakeClock{now: at(12, 0)}
	runner := &fakeRunner{fail: errors.New("boom")}
	s := newTestSwitcher(clock, runner, nil)

	st := s.Evaluate(context.Background())
	if st.LastExecuted != "" {
		t.Errorf("got last executed %q after a failure", st.LastExecuted)
	}
	if got, want := st.LastError, "boom"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	runner.mu.Lock()
	runner.fail = nil
	runner.mu.Unlock()

	st = s.Evaluate(context.Background())
	if got, want := st.LastExecuted, astronomy.Day; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if st.LastError != "" {
		t.Errorf("error not cleared: %v", st.LastError)
	}
}

func TestEvaluatePolar(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want astronomy.Phase
	}{
		{"midnight sun", time.Date(2024, 6, 21, 0, 30, 0, 0, time.UTC), astronomy.Day},
		{"polar night", time.Date(2024, 12, 21, 12, 0, 0, 0, time.UTC), astronomy.Night},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			s := New(Config{
				Location:    astronomy.Location{Latitude: 78, Longitude: 15, UTCOffset: 1},
				FixedOffset: true,
				Day:         dayCmd,
				Night:       nightCmd,
				Runner:      runner,
				Clock:       &fakeClock{now: tt.now},
				Logger:      log.New(&bytes.Buffer{}),
			})
			if got := s.Evaluate(context.Background()).Phase; got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLocationFollowsZone(t *testing.T) {
	zone := time.FixedZone("BST", 3600)
	s := New(Config{
		Location: astronomy.Location{Latitude: 51.1740, Longitude: -1.8224, UTCOffset: 7},
		Zone:     zone,
		Runner:   &fakeRunner{},
	})
	if got, want := s.Location(at(12, 0)).UTCOffset, 1.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	s = New(Config{
		Location:    astronomy.Location{UTCOffset: 5.5},
		FixedOffset: true,
		Zone:        zone,
		Runner:      &fakeRunner{},
	})
	if got, want := s.Location(at(12, 0)).UTCOffset, 5.5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestForce(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestSwitcher(&fakeClock{now: at(12, 0)}, runner, nil)
	if err := s.Force(context.Background(), astronomy.Night); err != nil {
		t.Fatal(err)
	}
	if got, want := s.Status().LastExecuted, astronomy.Night; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := s.Force(context.Background(), astronomy.Phase("dusk")); err == nil {
		t.Error("expected an error for an unknown phase")
	}
	if got, want := len(runner.Ran()), 1; got != want {
		t.Errorf("got %d runs, want %d", got, want)
	}
}

func TestStartStop(t *testing.T) {
	runner := &fakeRunner{}
	notifier := &fakeNotifier{}
	s := newTestSwitcher(&fakeClock{now: at(12, 0)}, runner, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(runner.Ran()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want %v", err, context.Canceled)
	}
	if s.Status().Running {
		t.Error("switcher still reports running")
	}
	// The phase never changes, so the command runs exactly once.
	if got, want := len(runner.Ran()), 1; got != want {
		t.Errorf("got %d runs, want %d", got, want)
	}

	s.Stop()
	if !notifier.closed {
		t.Error("notifier not closed")
	}
}

func TestForceHoldsUntilNextTransition(t *testing.T) {
	clock := &fakeClock{now: at(12, 0)}
	runner := &fakeRunner{}
	s := newTestSwitcher(clock, runner, nil)
	ctx := context.Background()

	s.Evaluate(ctx)
	if err := s.Force(ctx, astronomy.Night); err != nil {
		t.Fatal(err)
	}
	if !s.Status().Override {
		t.Fatal("forcing the other phase should set the override")
	}

	clock.Set(at(12, 30))
	st := s.Evaluate(ctx)
	if got, want := st.LastExecuted, astronomy.Night; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !st.Override {
		t.Error("override cleared before sunset")
	}
	if got, want := len(runner.Ran()), 2; got != want {
		t.Errorf("got %d runs, want %d", got, want)
	}

	// Sunset agrees with the forced phase, so nothing runs.
	clock.Set(at(18, 30))
	st = s.Evaluate(ctx)
	if st.Override {
		t.Error("override still set after sunset")
	}
	if got, want := len(runner.Ran()), 2; got != want {
		t.Errorf("got %d runs, want %d", got, want)
	}

	clock.Set(time.Date(2024, 3, 21, 9, 0, 0, 0, time.UTC))
	st = s.Evaluate(ctx)
	if got, want := st.LastExecuted, astronomy.Day; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(runner.Ran()), 3; got != want {
		t.Errorf("got %d runs, want %d", got, want)
	}
}

func TestForceSamePhaseNoOverride(t *testing.T) {
	s := newTestSwitcher(&fakeClock{now: at(12, 0)}, &fakeRunner{}, nil)
	if err := s.Force(context.Background(), astronomy.Day); err != nil {
		t.Fatal(err)
	}
	if s.Status().Override {
		t.Error("forcing the computed phase should not set the override")
	}
}

type slowRunner struct {
	mu           sync.Mutex
	active, peak int
	runs         int
}

func (r *slowRunner) Run(context.Context, command.Command) error {
	r.mu.Lock()
	r.active++
	r.runs++
	if r.active > r.peak {
		r.peak = r.active
	}
	r.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	r.mu.Lock()
	r.active--
	r.mu.Unlock()
	return nil
}

func TestRunsAreSerialized(t *testing.T) {
	clock := &fakeClock{now: at(12, 0)}
	runner := &slowRunner{}
	s := newTestSwitcher(clock, runner, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		phase := astronomy.Day
		if i%2 == 0 {
			phase = astronomy.Night
		}
		go func() {
			defer wg.Done()
			if err := s.Force(ctx, phase); err != nil {
				t.Error(err)
			}
		}()
		go func() {
			defer wg.Done()
			s.Evaluate(ctx)
		}()
	}
	wg.Wait()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if got, want := runner.peak, 1; got != want {
		t.Errorf("got %d concurrent runs, want %d", got, want)
	}
	if runner.runs < 8 {
		t.Errorf("got %d runs, want at least 8", runner.runs)
	}
}

func TestStatusJSON(t *testing.T) {
	s := New(Config{
		Location:    astronomy.Location{Latitude: 78, Longitude: 15, UTCOffset: 1},
		FixedOffset: true,
		Day:         dayCmd,
		Night:       nightCmd,
		Runner:      &fakeRunner{fail: errors.New("boom")},
		Clock:       &fakeClock{now: time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC)},
		Logger:      log.New(&bytes.Buffer{}),
	})
	buf, err := json.Marshal(s.Evaluate(context.Background()))
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(buf, &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["last_switch"]; ok {
		t.Errorf("last_switch present before any switch: %s", buf)
	}
	sun, ok := body["sun"].(map[string]interface{})
	if !ok {
		t.Fatalf("sun missing: %s", buf)
	}
	if _, ok := sun["sunrise"]; ok {
		t.Errorf("sunrise present for a polar day: %s", buf)
	}
	if got, want := sun["condition"], "continuous_day"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSwitchLogFields(t *testing.T) {
	var buf bytes.Buffer
	clock := &fakeClock{now: at(3, 0)}
	s := newTestSwitcher(clock, &fakeRunner{}, nil)
	s.logger = log.New(&buf)

	s.Evaluate(context.Background())
	clock.Set(at(12, 0))
	s.Evaluate(context.Background())

	for _, want := range []string{"switching", "from=night", "to=day"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("%q missing from %q", want, buf.String())
		}
	}
}
