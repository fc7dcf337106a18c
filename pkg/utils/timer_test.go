package utils

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureOutput struct {
	lines []string
}

func (c *captureOutput) Output(format string, args ...interface{}) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func newTestTimer() (*Timer, *MockClock, *captureOutput) {
	clock := NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	out := &captureOutput{}
	return NewTimer("compile", WithClock(clock), WithOutput(out)), clock, out
}

func TestTimerPhases(t *testing.T) {
	timer, clock, _ := newTestTimer()

	analyse := timer.Start("analyse")
	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, analyse.Stop())

	emit := timer.Start("emit")
	clock.Advance(200 * time.Millisecond)
	emit.Stop()
	clock.Advance(time.Second)
	assert.Equal(t, 200*time.Millisecond, emit.Stop(), "second stop keeps the first duration")

	assert.Equal(t, 100*time.Millisecond, timer.Duration("analyse"))
	assert.Equal(t, 1300*time.Millisecond, timer.Total())
	assert.Zero(t, timer.StopPhase("missing"))
}

func TestTimerChildren(t *testing.T) {
	timer, clock, _ := newTestTimer()

	parent := timer.Start("class")
	child := timer.StartChild("class", "measure")
	clock.Advance(time.Millisecond)
	child.Stop()
	parent.Stop()

	phases := timer.Phases()
	require.Len(t, phases, 2)
	assert.Equal(t, 0, phases[0].Level)
	assert.Equal(t, "class", phases[1].Parent)
	assert.Equal(t, 1, phases[1].Level)
	assert.Contains(t, timer.Summary(), "  measure: 1ms")
}

func TestTimerDisabled(t *testing.T) {
	timer := NewTimer("off", WithEnabled(false))
	assert.Zero(t, timer.Start("x").Stop())
	assert.Empty(t, timer.Summary())
	assert.Empty(t, timer.Phases())
}

func TestTimerPrintSummary(t *testing.T) {
	timer, clock, out := newTestTimer()
	timer.Start("store")
	clock.Advance(5 * time.Millisecond)
	timer.StopPhase("store")

	timer.PrintSummary()
	assert.Equal(t, []string{"=== compile timing ===", "store: 5ms", "total: 5ms"}, out.lines)
}

func TestTimerTimeFunc(t *testing.T) {
	timer, clock, _ := newTestTimer()
	boom := errors.New("boom")

	err := timer.TimeFunc("upload", func() error {
		clock.Advance(3 * time.Millisecond)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, map[string]int64{"total": 3, "upload": 3}, timer.ToMap())
}

func TestLoggerOutput(t *testing.T) {
	out := &LoggerOutput{}
	out.Output("ignored %d", 1)

	timer := NewTimer("t", WithLogger(&NullLogger{}))
	_, ok := timer.output.(*LoggerOutput)
	assert.True(t, ok)
}
