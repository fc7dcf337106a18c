package pprof

import (
	"context"
	"sync"
	"time"
)

// FileMode records profiles into the collector's output directory.
//
// CPU time is recorded in consecutive windows of Config.CPUWindow, so a
// command shorter than one window still yields a CPU profile covering its
// whole run. The other profiles are captured every Config.Interval and once
// more at Stop, which is the snapshot that matters for a finished batch.
type FileMode struct {
	collector *Collector

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFileMode creates a new FileMode.
func NewFileMode() *FileMode {
	return &FileMode{}
}

// Name returns the mode name.
func (m *FileMode) Name() string {
	return string(ModeFile)
}

// Start starts the file mode collection.
func (m *FileMode) Start(ctx context.Context, c *Collector) error {
	m.collector = c
	ctx, m.cancel = context.WithCancel(ctx)

	cfg := c.Config()
	if cfg.HasProfile(ProfileCPU) {
		m.wg.Add(1)
		go m.cpuLoop(ctx, cfg.CPUWindow)
	}
	if hasSnapshotProfiles(cfg) {
		m.wg.Add(1)
		go m.snapshotLoop(ctx, cfg.Interval)
	}
	return nil
}

// Stop ends the open CPU window, waits for both loops and takes the final
// snapshots.
func (m *FileMode) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	if m.collector == nil {
		return nil
	}
	_, err := m.collector.SnapshotAll()
	return err
}

func (m *FileMode) cpuLoop(ctx context.Context, window time.Duration) {
	defer m.wg.Done()

	for {
		data, err := m.collector.RecordCPU(ctx, window)
		if _, err := m.collector.Save(ProfileCPU, data, err); err != nil && data == nil {
			// Another CPU profile owns the runtime; retrying would spin.
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (m *FileMode) snapshotLoop(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collector.SnapshotAll()
		}
	}
}

func hasSnapshotProfiles(cfg *Config) bool {
	for _, pt := range cfg.Profiles {
		if pt != ProfileCPU {
			return true
		}
	}
	return false
}
