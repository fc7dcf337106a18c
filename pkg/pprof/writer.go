package pprof

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Writer stores profile files under <dir>/<profile>/ and rotates them.
// File names carry a per-writer sequence number so snapshots taken within
// the same second never overwrite each other and sort in capture order.
type Writer struct {
	mu       sync.Mutex
	dir      string
	label    string
	maxFiles int
	seq      int
	now      func() time.Time
}

// NewWriter creates a new Writer.
func NewWriter(dir, label string, maxFiles int) *Writer {
	if label == "" {
		label = "romc"
	}
	return &Writer{dir: dir, label: label, maxFiles: maxFiles, now: time.Now}
}

// EnsureDir creates the output directory and profile type subdirectories.
func (w *Writer) EnsureDir(profiles []ProfileType) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, pt := range profiles {
		if err := os.MkdirAll(filepath.Join(w.dir, string(pt)), 0755); err != nil {
			return fmt.Errorf("failed to create profile directory %s: %w", pt, err)
		}
	}
	return nil
}

// Write stores one profile and returns its path. The file appears
// atomically: readers never see a partially written profile.
func (w *Writer) Write(pt ProfileType, data []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Join(w.dir, string(pt))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create profile directory %s: %w", pt, err)
	}

	w.seq++
	name := fmt.Sprintf("%s_%s_%06d_%s.pprof", w.label, pt, w.seq, w.now().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("failed to write profile file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write profile file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write profile file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write profile file: %w", err)
	}

	if err := w.rotate(dir); err != nil {
		return path, fmt.Errorf("profile written but rotation failed: %w", err)
	}
	return path, nil
}

// rotate removes the oldest files once a directory holds more than maxFiles.
func (w *Writer) rotate(dir string) error {
	if w.maxFiles <= 0 {
		return nil
	}
	files, err := listProfiles(dir)
	if err != nil {
		return err
	}
	for len(files) > w.maxFiles {
		if err := os.Remove(files[0]); err != nil {
			return fmt.Errorf("failed to remove old file %s: %w", filepath.Base(files[0]), err)
		}
		files = files[1:]
	}
	return nil
}

// OutputDir returns the output directory.
func (w *Writer) OutputDir() string {
	return w.dir
}

// ListFiles returns the profile files for pt, oldest first.
func (w *Writer) ListFiles(pt ProfileType) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := listProfiles(filepath.Join(w.dir, string(pt)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return files, err
}

func listProfiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pprof") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	// Names share label and profile, so the zero-padded sequence orders them.
	sort.Strings(files)
	return files, nil
}
