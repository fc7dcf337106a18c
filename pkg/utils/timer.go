package utils

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// TimerOutput receives the lines of PrintSummary.
type TimerOutput interface {
	Output(format string, args ...interface{})
}

// LoggerOutput writes timer lines at debug level.
type LoggerOutput struct {
	Logger Logger
}

func (o *LoggerOutput) Output(format string, args ...interface{}) {
	if o.Logger != nil {
		o.Logger.Debug(format, args...)
	}
}

// Phase is one timed step. Child phases carry the parent's name and a deeper level.
type Phase struct {
	Name      string
	StartTime time.Time
	Duration  time.Duration
	Parent    string
	Level     int
	completed bool
}

// PhaseTimer stops a single phase.
type PhaseTimer struct {
	timer *Timer
	name  string
}

// Stop records the phase duration. Only the first call has effect.
func (pt *PhaseTimer) Stop() time.Duration {
	return pt.timer.StopPhase(pt.name)
}

// Timer records named phases in start order. A disabled timer does nothing.
type Timer struct {
	mu        sync.Mutex
	name      string
	startTime time.Time
	phases    map[string]*Phase
	order     []string
	output    TimerOutput
	enabled   bool
	clock     Clock
}

// TimerOption configures a Timer.
type TimerOption func(*Timer)

func WithOutput(output TimerOutput) TimerOption {
	return func(t *Timer) { t.output = output }
}

// WithLogger sends PrintSummary output to logger.
func WithLogger(logger Logger) TimerOption {
	return func(t *Timer) {
		if logger != nil {
			t.output = &LoggerOutput{Logger: logger}
		}
	}
}

func WithEnabled(enabled bool) TimerOption {
	return func(t *Timer) { t.enabled = enabled }
}

func WithClock(clock Clock) TimerOption {
	return func(t *Timer) { t.clock = clock }
}

// NewTimer creates an enabled timer named name.
func NewTimer(name string, opts ...TimerOption) *Timer {
	t := &Timer{
		name:    name,
		phases:  make(map[string]*Phase),
		enabled: true,
		clock:   NewRealClock(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.startTime = t.clock.Now()
	return t
}

// Start begins a top-level phase.
func (t *Timer) Start(name string) *PhaseTimer {
	return t.start("", name)
}

// StartChild begins a phase nested under parent.
func (t *Timer) StartChild(parent, name string) *PhaseTimer {
	return t.start(parent, name)
}

func (t *Timer) start(parent, name string) *PhaseTimer {
	pt := &PhaseTimer{timer: t, name: name}
	if !t.enabled {
		return pt
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	level := 0
	if p, ok := t.phases[parent]; ok {
		level = p.Level + 1
	}
	if _, seen := t.phases[name]; !seen {
		t.order = append(t.order, name)
	}
	t.phases[name] = &Phase{Name: name, StartTime: t.clock.Now(), Parent: parent, Level: level}
	return pt
}

// StopPhase ends the named phase and returns its duration.
func (t *Timer) StopPhase(name string) time.Duration {
	if !t.enabled {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.phases[name]
	if !ok {
		return 0
	}
	if !p.completed {
		p.Duration = t.clock.Since(p.StartTime)
		p.completed = true
	}
	return p.Duration
}

// Duration returns the recorded duration of a stopped phase.
func (t *Timer) Duration(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.phases[name]; ok {
		return p.Duration
	}
	return 0
}

// Total returns the time since the timer was created.
func (t *Timer) Total() time.Duration {
	return t.clock.Since(t.startTime)
}

// Phases returns copies of the recorded phases in start order.
func (t *Timer) Phases() []Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Phase, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, *t.phases[name])
	}
	return out
}

// TimeFunc runs fn as the phase name and returns its error.
func (t *Timer) TimeFunc(name string, fn func() error) error {
	pt := t.Start(name)
	defer pt.Stop()
	return fn()
}

func (t *Timer) lines() []string {
	lines := []string{fmt.Sprintf("=== %s timing ===", t.name)}
	for _, p := range t.Phases() {
		lines = append(lines, fmt.Sprintf("%s%s: %v", strings.Repeat("  ", p.Level), p.Name, p.Duration))
	}
	return append(lines, fmt.Sprintf("total: %v", t.Total()))
}

// Summary renders every phase on its own line. A disabled timer returns "".
func (t *Timer) Summary() string {
	if !t.enabled {
		return ""
	}
	return strings.Join(t.lines(), "\n") + "\n"
}

// PrintSummary writes Summary line by line to the configured output.
func (t *Timer) PrintSummary() {
	if !t.enabled || t.output == nil {
		return
	}
	for _, line := range t.lines() {
		t.output.Output("%s", line)
	}
}

// ToMap returns phase durations in milliseconds keyed by phase name.
func (t *Timer) ToMap() map[string]int64 {
	out := map[string]int64{"total": t.Total().Milliseconds()}
	for _, p := range t.Phases() {
		out[p.Name] = p.Duration.Milliseconds()
	}
	return out
}
