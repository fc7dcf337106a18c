// Package catalog records every compilation in a SQL database so a batch can skip
// classes whose bytes and options were already compiled.
package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("catalog record not found")

// ResultOK is the result code reported for successful compilations.
const ResultOK = "OK"

// CompiledClass is one compilation attempt.
type CompiledClass struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	ClassName   string `gorm:"column:class_name;size:512;index"`
	SourceHash  string `gorm:"column:source_hash;size:64;index:idx_source_options"`
	OptionsHash string `gorm:"column:options_hash;size:64;index:idx_source_options"`
	ROMSize     int    `gorm:"column:rom_size"`
	// ResultCode is empty for a successful compilation.
	ResultCode   string `gorm:"column:result_code;size:64;index"`
	Message      string `gorm:"column:message;type:text"`
	ArtifactKey  string `gorm:"column:artifact_key;size:1024"`
	ArtifactSize int64  `gorm:"column:artifact_size"`
	// SideArtifacts are the out-of-line buffers stored next to the ROM artifact.
	SideArtifacts []SideArtifact `gorm:"column:side_artifacts;type:text;serializer:json"`
	Compression   string         `gorm:"column:compression;size:16"`
	DurationMS    int64          `gorm:"column:duration_ms"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime"`
}

// SideArtifact is one stored out-of-line buffer of a compilation.
type SideArtifact struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// TableName returns the table name.
func (CompiledClass) TableName() string {
	return "compiled_classes"
}

// Succeeded reports whether the record holds a usable artifact.
func (c *CompiledClass) Succeeded() bool {
	return c.ResultCode == "" && c.ArtifactKey != ""
}

// ListOptions filters List.
type ListOptions struct {
	// ClassPrefix matches class names in internal form.
	ClassPrefix string
	// ResultCode selects one result; ResultOK selects successes.
	ResultCode string
	Limit      int
	Offset     int
}

// Repository stores compilation records.
type Repository interface {
	// Save inserts the record and sets its ID.
	Save(ctx context.Context, c *CompiledClass) error

	// FindBySourceHash returns the newest successful record for the given class bytes
	// and compile options, or ErrNotFound.
	FindBySourceHash(ctx context.Context, sourceHash, optionsHash string) (*CompiledClass, error)

	// FindByClassName returns records for a class, newest first.
	FindByClassName(ctx context.Context, className string, limit int) ([]*CompiledClass, error)

	// List returns records, newest first.
	List(ctx context.Context, opts ListOptions) ([]*CompiledClass, error)

	// CountByResult counts records per result code, successes under ResultOK.
	CountByResult(ctx context.Context) (map[string]int64, error)
}
