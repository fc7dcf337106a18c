package pprof

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"
)

// Collector owns one profiling session: the mode that drives it, the writer
// its files go through and the bookkeeping reported by Status.
type Collector struct {
	config *Config
	mode   Mode
	writer *Writer

	onSnapshot func(SnapshotEvent)

	mu     sync.Mutex
	status Status

	// cpuMu serializes CPU profiles; the runtime allows only one at a time.
	cpuMu sync.Mutex
}

// SnapshotEvent reports one attempted profile write.
type SnapshotEvent struct {
	Profile ProfileType
	Path    string
	Err     error
}

// Status represents the collector's current status.
type Status struct {
	Running       bool                  `json:"running"`
	Mode          ModeType              `json:"mode"`
	StartTime     time.Time             `json:"start_time"`
	SnapshotCount map[ProfileType]int64 `json:"snapshot_count"`
	Errors        []string              `json:"errors"`
}

// Mode drives a collector between Start and Stop.
type Mode interface {
	Name() string
	Start(ctx context.Context, c *Collector) error
	Stop() error
}

const maxStatusErrors = 100

// NewCollector creates a new Collector.
func NewCollector(cfg *Config) (*Collector, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Collector{
		config: cfg,
		writer: NewWriter(cfg.OutputDir, cfg.Label, cfg.MaxFiles),
		status: Status{SnapshotCount: make(map[ProfileType]int64)},
	}

	switch cfg.Mode {
	case ModeFile:
		c.mode = NewFileMode()
	case ModeHTTP:
		c.mode = NewHTTPMode()
	default:
		return nil, fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
	return c, nil
}

// SetSnapshotCallback registers fn to be called after every profile write.
// It must be set before Start.
func (c *Collector) SetSnapshotCallback(fn func(SnapshotEvent)) {
	c.onSnapshot = fn
}

// Start starts the collector. Cancelling ctx has the same effect on the
// background loops as Stop, but Stop must still be called to flush.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status.Running {
		c.mu.Unlock()
		return fmt.Errorf("collector is already running")
	}
	c.status.Running = true
	c.status.Mode = c.config.Mode
	c.status.StartTime = time.Now()
	c.mu.Unlock()

	if c.config.Mode == ModeFile {
		if err := c.writer.EnsureDir(c.config.Profiles); err != nil {
			c.setRunning(false)
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	if c.config.HasProfile(ProfileBlock) {
		runtime.SetBlockProfileRate(1)
	}
	if c.config.HasProfile(ProfileMutex) {
		runtime.SetMutexProfileFraction(1)
	}

	if err := c.mode.Start(ctx, c); err != nil {
		c.resetRates()
		c.setRunning(false)
		return fmt.Errorf("failed to start %s mode: %w", c.mode.Name(), err)
	}
	return nil
}

// Stop stops the collector and flushes whatever the mode still holds.
// Stopping a collector that is not running is a no-op.
func (c *Collector) Stop() error {
	c.mu.Lock()
	running := c.status.Running
	c.mu.Unlock()
	if !running {
		return nil
	}

	err := c.mode.Stop()
	if err != nil {
		c.addError(fmt.Sprintf("%s mode stop: %v", c.mode.Name(), err))
	}
	c.resetRates()
	c.setRunning(false)
	return err
}

// Status returns a copy of the collector status.
func (c *Collector) Status() *Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.status
	status.SnapshotCount = make(map[ProfileType]int64, len(c.status.SnapshotCount))
	for k, v := range c.status.SnapshotCount {
		status.SnapshotCount[k] = v
	}
	status.Errors = append([]string(nil), c.status.Errors...)
	return &status
}

// Snapshot captures one non-CPU profile.
func (c *Collector) Snapshot(pt ProfileType) ([]byte, error) {
	if pt == ProfileCPU {
		return nil, fmt.Errorf("use RecordCPU for CPU profiles")
	}
	p := pprof.Lookup(string(pt))
	if p == nil {
		return nil, fmt.Errorf("unknown profile type: %s", pt)
	}
	if pt == ProfileHeap {
		// Heap profiles reflect the last completed GC.
		runtime.GC()
	}
	var buf bytes.Buffer
	if err := p.WriteTo(&buf, 0); err != nil {
		return nil, fmt.Errorf("failed to write %s profile: %w", pt, err)
	}
	return buf.Bytes(), nil
}

// RecordCPU records a CPU profile until window elapses or ctx is done.
// A cancelled ctx ends the window early and still returns the samples
// taken so far.
func (c *Collector) RecordCPU(ctx context.Context, window time.Duration) ([]byte, error) {
	c.cpuMu.Lock()
	defer c.cpuMu.Unlock()

	if c.config.CPURate != defaultCPURate {
		// StartCPUProfile warns that the rate is already set and keeps it.
		runtime.SetCPUProfileRate(c.config.CPURate)
	}

	var buf bytes.Buffer
	if err := pprof.StartCPUProfile(&buf); err != nil {
		return nil, fmt.Errorf("failed to start CPU profile: %w", err)
	}

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	pprof.StopCPUProfile()
	return buf.Bytes(), nil
}

// Save writes a captured profile and reports it to the snapshot callback.
// A capture error is passed through so callers can hand over both results.
func (c *Collector) Save(pt ProfileType, data []byte, captureErr error) (string, error) {
	if captureErr != nil {
		c.addError(fmt.Sprintf("capture %s: %v", pt, captureErr))
		c.notify(SnapshotEvent{Profile: pt, Err: captureErr})
		return "", captureErr
	}

	path, err := c.writer.Write(pt, data)
	if err != nil {
		c.addError(fmt.Sprintf("write %s: %v", pt, err))
	}
	if path != "" {
		c.mu.Lock()
		c.status.SnapshotCount[pt]++
		c.mu.Unlock()
	}
	c.notify(SnapshotEvent{Profile: pt, Path: path, Err: err})
	return path, err
}

// SnapshotAll captures and saves every configured non-CPU profile.
func (c *Collector) SnapshotAll() (map[ProfileType]string, error) {
	paths := make(map[ProfileType]string)
	var errs []error
	for _, pt := range c.config.Profiles {
		if pt == ProfileCPU {
			continue
		}
		data, err := c.Snapshot(pt)
		path, err := c.Save(pt, data, err)
		if err != nil {
			errs = append(errs, err)
		}
		if path != "" {
			paths[pt] = path
		}
	}
	return paths, errors.Join(errs...)
}

// Config returns the collector configuration.
func (c *Collector) Config() *Config {
	return c.config
}

// Writer returns the file writer.
func (c *Collector) Writer() *Writer {
	return c.writer
}

// Mode returns the mode driving the collector.
func (c *Collector) Mode() Mode {
	return c.mode
}

func (c *Collector) notify(ev SnapshotEvent) {
	if c.onSnapshot != nil {
		c.onSnapshot(ev)
	}
}

func (c *Collector) setRunning(running bool) {
	c.mu.Lock()
	c.status.Running = running
	c.mu.Unlock()
}

func (c *Collector) resetRates() {
	if c.config.HasProfile(ProfileBlock) {
		runtime.SetBlockProfileRate(0)
	}
	if c.config.HasProfile(ProfileMutex) {
		runtime.SetMutexProfileFraction(0)
	}
}

func (c *Collector) addError(err string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.status.Errors) >= maxStatusErrors {
		c.status.Errors = c.status.Errors[1:]
	}
	c.status.Errors = append(c.status.Errors, fmt.Sprintf("[%s] %s", time.Now().Format(time.RFC3339), err))
}
