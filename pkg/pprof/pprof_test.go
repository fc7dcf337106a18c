package pprof

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gzipMagic opens every profile written by runtime/pprof.
var gzipMagic = []byte{0x1f, 0x8b}

func TestParseProfileTypes(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []ProfileType
		wantErr bool
	}{
		{"empty selects defaults", "", DefaultProfileTypes(), false},
		{"single", "heap", []ProfileType{ProfileHeap}, false},
		{"case and spaces", " CPU , Allocs", []ProfileType{ProfileCPU, ProfileAllocs}, false},
		{"duplicates dropped", "heap,heap,mutex", []ProfileType{ProfileHeap, ProfileMutex}, false},
		{"unknown", "heap,threads", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProfileTypes(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad mode", func(c *Config) { c.Mode = "socket" }, true},
		{"no profiles", func(c *Config) { c.Profiles = nil }, true},
		{"zero cpu rate", func(c *Config) { c.CPURate = 0 }, true},
		{"negative max files", func(c *Config) { c.MaxFiles = -1 }, true},
		{"file mode without dir", func(c *Config) { c.OutputDir = "" }, true},
		{"short interval", func(c *Config) { c.Interval = time.Millisecond }, true},
		{"short cpu window", func(c *Config) { c.CPUWindow = 10 * time.Millisecond }, true},
		{"http mode without dir", func(c *Config) { c.Mode = ModeHTTP; c.OutputDir = "" }, false},
		{"http mode without addr", func(c *Config) { c.Mode = ModeHTTP; c.Addr = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWriter_WriteAndRotate(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "compile", 2)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	var paths []string
	for i := 0; i < 3; i++ {
		path, err := w.Write(ProfileHeap, []byte(fmt.Sprintf("profile-%d", i)))
		require.NoError(t, err)
		paths = append(paths, path)
	}

	// Same second, distinct names.
	assert.Equal(t, filepath.Join(dir, "heap", "compile_heap_000001_20240301_120000.pprof"), paths[0])
	assert.NotEqual(t, paths[1], paths[2])

	files, err := w.ListFiles(ProfileHeap)
	require.NoError(t, err)
	assert.Equal(t, paths[1:], files)

	data, err := os.ReadFile(paths[2])
	require.NoError(t, err)
	assert.Equal(t, "profile-2", string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "heap"))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no partial files left behind")

	missing, err := w.ListFiles(ProfileMutex)
	assert.NoError(t, err)
	assert.Empty(t, missing)
}

func fileConfig(t *testing.T, profiles ...ProfileType) *Config {
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Label = "test"
	cfg.Profiles = profiles
	cfg.Interval = time.Hour
	cfg.CPUWindow = time.Hour
	return cfg
}

func TestCollector_FileModeWritesFinalSnapshots(t *testing.T) {
	cfg := fileConfig(t, ProfileHeap, ProfileGoroutine)
	c, err := NewCollector(cfg)
	require.NoError(t, err)

	var mu sync.Mutex
	var events []SnapshotEvent
	c.SetSnapshotCallback(func(ev SnapshotEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Start(context.Background()), "already running")
	assert.True(t, c.Status().Running)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	assert.False(t, c.Status().Running)

	for _, pt := range cfg.Profiles {
		files, err := c.Writer().ListFiles(pt)
		require.NoError(t, err)
		require.Len(t, files, 1, pt)
		data, err := os.ReadFile(files[0])
		require.NoError(t, err)
		assert.Equal(t, gzipMagic, data[:2], pt)
	}

	require.Len(t, events, 2)
	for _, ev := range events {
		assert.NoError(t, ev.Err)
		assert.FileExists(t, ev.Path)
	}
	assert.EqualValues(t, 1, c.Status().SnapshotCount[ProfileHeap])
}

func TestCollector_FileModeFlushesOpenCPUWindow(t *testing.T) {
	cfg := fileConfig(t, ProfileCPU)
	c, err := NewCollector(cfg)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Stop())

	files, err := c.Writer().ListFiles(ProfileCPU)
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, gzipMagic, data[:2])
}

func TestCollector_SnapshotRejectsCPU(t *testing.T) {
	c, err := NewCollector(fileConfig(t, ProfileHeap))
	require.NoError(t, err)

	_, err = c.Snapshot(ProfileCPU)
	assert.Error(t, err)

	_, err = c.Save(ProfileHeap, nil, assert.AnError)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Len(t, c.Status().Errors, 1)
}

func TestCollector_HTTPMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeHTTP
	cfg.Addr = "127.0.0.1:0"
	cfg.OutputDir = t.TempDir()
	cfg.Profiles = []ProfileType{ProfileHeap}

	c, err := NewCollector(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	base := "http://" + c.Mode().(*HTTPMode).Addr() + httpPrefix

	t.Run("status", func(t *testing.T) {
		resp, err := http.Get(base + "/status")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var st Status
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
		assert.True(t, st.Running)
		assert.Equal(t, ModeHTTP, st.Mode)
	})

	t.Run("snapshot requires POST", func(t *testing.T) {
		resp, err := http.Get(base + "/snapshot")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("snapshot writes files", func(t *testing.T) {
		resp, err := http.Post(base+"/snapshot", "", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Files map[ProfileType]string `json:"files"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.FileExists(t, body.Files[ProfileHeap])
	})

	require.NoError(t, c.Stop())
	_, err = http.Get(base + "/status")
	assert.Error(t, err, "server shut down")
}
