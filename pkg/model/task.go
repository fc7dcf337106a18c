// Package model defines the request and outcome records shared by the CLI, the
// compile service and the catalog.
package model

import (
	"fmt"
	"time"
)

// CompileStatus is the state of one class in a batch.
type CompileStatus int

const (
	StatusPending  CompileStatus = 0
	StatusCompiled CompileStatus = 1
	StatusCached   CompileStatus = 2 // served from the catalog
	StatusFailed   CompileStatus = 3
	StatusSkipped  CompileStatus = 4 // rejected by the class filter
)

// String returns the string representation of CompileStatus.
func (s CompileStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompiled:
		return "compiled"
	case StatusCached:
		return "cached"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s CompileStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *CompileStatus) UnmarshalText(text []byte) error {
	for st := StatusPending; st <= StatusSkipped; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown compile status %q", text)
}

// CompileRequest names one class file to compile.
type CompileRequest struct {
	Path string `json:"path"`
	// ClassName is the name expected from the file's location under a class-path root.
	// Empty when the file was named directly.
	ClassName  string    `json:"class_name,omitempty"`
	SourceHash string    `json:"source_hash,omitempty"`
	Size       int64     `json:"size"`
	QueuedAt   time.Time `json:"queued_at"`
}

// NewCompileRequest creates a request queued now.
func NewCompileRequest(path, className string) *CompileRequest {
	return &CompileRequest{
		Path:      path,
		ClassName: className,
		QueuedAt:  time.Now(),
	}
}

// DisplayName returns the expected class name, or the path when none is known.
func (r *CompileRequest) DisplayName() string {
	if r.ClassName != "" {
		return r.ClassName
	}
	return r.Path
}
