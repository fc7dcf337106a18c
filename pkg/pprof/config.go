package pprof

import (
	"fmt"
	"strings"
	"time"
)

// ModeType defines the pprof collection mode.
type ModeType string

const (
	// ModeFile records profiles into OutputDir while the command runs.
	ModeFile ModeType = "file"
	// ModeHTTP serves the runtime profiles on Addr for the life of the command.
	ModeHTTP ModeType = "http"
)

// ProfileType defines the type of profile to collect.
type ProfileType string

const (
	ProfileCPU       ProfileType = "cpu"
	ProfileHeap      ProfileType = "heap"
	ProfileGoroutine ProfileType = "goroutine"
	ProfileBlock     ProfileType = "block"
	ProfileMutex     ProfileType = "mutex"
	ProfileAllocs    ProfileType = "allocs"
)

// AllProfileTypes returns all supported profile types.
func AllProfileTypes() []ProfileType {
	return []ProfileType{
		ProfileCPU,
		ProfileHeap,
		ProfileGoroutine,
		ProfileBlock,
		ProfileMutex,
		ProfileAllocs,
	}
}

// DefaultProfileTypes returns the profiles recorded when none are named.
func DefaultProfileTypes() []ProfileType {
	return []ProfileType{ProfileCPU, ProfileHeap, ProfileAllocs}
}

// ParseProfileTypes parses a comma-separated list such as "cpu,heap".
// Duplicates are dropped; an empty string selects DefaultProfileTypes.
func ParseProfileTypes(s string) ([]ProfileType, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultProfileTypes(), nil
	}

	valid := make(map[ProfileType]bool)
	for _, pt := range AllProfileTypes() {
		valid[pt] = true
	}

	parts := strings.Split(s, ",")
	types := make([]ProfileType, 0, len(parts))
	seen := make(map[ProfileType]bool, len(parts))
	for _, p := range parts {
		pt := ProfileType(strings.TrimSpace(strings.ToLower(p)))
		if !valid[pt] {
			return nil, fmt.Errorf("unknown profile type: %q", p)
		}
		if seen[pt] {
			continue
		}
		seen[pt] = true
		types = append(types, pt)
	}
	return types, nil
}

// Config holds the pprof configuration.
type Config struct {
	Mode     ModeType      `mapstructure:"mode"`
	Profiles []ProfileType `mapstructure:"profiles"`

	// OutputDir receives one subdirectory per profile type.
	OutputDir string `mapstructure:"output_dir"`

	// Label prefixes every file name, normally the subcommand being profiled.
	Label string `mapstructure:"label"`

	// Interval is the time between heap/goroutine/... snapshots in file mode.
	Interval time.Duration `mapstructure:"interval"`

	// CPUWindow is the length of one CPU profile file in file mode. Windows
	// are recorded back to back; the one open at Stop is flushed early.
	CPUWindow time.Duration `mapstructure:"cpu_window"`

	// CPURate is the CPU sampling rate in Hz.
	CPURate int `mapstructure:"cpu_rate"`

	// MaxFiles caps the files kept per profile type. Zero keeps all of them.
	MaxFiles int `mapstructure:"max_files"`

	// Addr is the listen address in HTTP mode.
	Addr string `mapstructure:"addr"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Mode:      ModeFile,
		Profiles:  DefaultProfileTypes(),
		OutputDir: "./romc-pprof",
		Label:     "romc",
		Interval:  30 * time.Second,
		CPUWindow: 30 * time.Second,
		CPURate:   defaultCPURate,
		MaxFiles:  20,
		Addr:      "localhost:6060",
	}
}

const defaultCPURate = 100

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Mode != ModeFile && c.Mode != ModeHTTP {
		return fmt.Errorf("invalid pprof mode: %q (valid: file, http)", c.Mode)
	}
	if len(c.Profiles) == 0 {
		return fmt.Errorf("at least one profile type must be specified")
	}
	if c.CPURate <= 0 {
		return fmt.Errorf("CPU rate must be positive, got %d", c.CPURate)
	}
	if c.MaxFiles < 0 {
		return fmt.Errorf("max files must not be negative")
	}

	switch c.Mode {
	case ModeFile:
		if c.OutputDir == "" {
			return fmt.Errorf("output directory is required")
		}
		if c.Interval < time.Second {
			return fmt.Errorf("interval must be at least 1 second")
		}
		if c.CPUWindow < time.Second {
			return fmt.Errorf("CPU window must be at least 1 second")
		}
	case ModeHTTP:
		if c.Addr == "" {
			return fmt.Errorf("HTTP address is required")
		}
	}
	return nil
}

// HasProfile checks if a profile type is enabled.
func (c *Config) HasProfile(pt ProfileType) bool {
	for _, p := range c.Profiles {
		if p == pt {
			return true
		}
	}
	return false
}
