package model

import (
	"sort"
	"time"
)

// Artifact kinds, one per stored buffer.
const (
	ArtifactROM          = "rom"
	ArtifactLineNumbers  = "ln"
	ArtifactVariableInfo = "vi"
	ArtifactUTF8         = "utf8"
)

// Artifact is one stored buffer of a compiled class.
type Artifact struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
	// Size is the stored size, after compression.
	Size int64 `json:"size"`
}

// CompileOutcome is the result of one CompileRequest.
type CompileOutcome struct {
	Request    CompileRequest `json:"request"`
	ClassName  string         `json:"class_name,omitempty"`
	Category   string         `json:"category,omitempty"`
	Status     CompileStatus  `json:"status"`
	ResultCode string         `json:"result_code,omitempty"`
	Message    string         `json:"message,omitempty"`
	ROMSize    int            `json:"rom_size,omitempty"`
	Artifacts  []Artifact     `json:"artifacts,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// Succeeded reports whether a ROM class is available for the request.
func (o *CompileOutcome) Succeeded() bool {
	return o.Status == StatusCompiled || o.Status == StatusCached
}

// Artifact returns the artifact of the given kind.
func (o *CompileOutcome) Artifact(kind string) (Artifact, bool) {
	for _, a := range o.Artifacts {
		if a.Kind == kind {
			return a, true
		}
	}
	return Artifact{}, false
}

// SetDuration records d in milliseconds.
func (o *CompileOutcome) SetDuration(d time.Duration) {
	o.DurationMS = d.Milliseconds()
}

// BatchSummary aggregates the outcomes of a batch.
type BatchSummary struct {
	Total      int              `json:"total"`
	Compiled   int              `json:"compiled"`
	Cached     int              `json:"cached"`
	Failed     int              `json:"failed"`
	Skipped    int              `json:"skipped"`
	ROMBytes   int64            `json:"rom_bytes"`
	ByCode     map[string]int   `json:"by_code,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Outcomes   []CompileOutcome `json:"outcomes"`
}

// NewBatchSummary aggregates outcomes.
func NewBatchSummary(outcomes []CompileOutcome, startedAt, finishedAt time.Time) *BatchSummary {
	s := &BatchSummary{
		Total:      len(outcomes),
		ByCode:     make(map[string]int),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Outcomes:   outcomes,
	}
	for i := range outcomes {
		o := &outcomes[i]
		switch o.Status {
		case StatusCompiled:
			s.Compiled++
		case StatusCached:
			s.Cached++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
		if o.Succeeded() {
			s.ROMBytes += int64(o.ROMSize)
		}
		if o.ResultCode != "" {
			s.ByCode[o.ResultCode]++
		}
	}
	return s
}

// Duration returns the wall time of the batch.
func (s *BatchSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// HasFailures reports whether any class failed.
func (s *BatchSummary) HasFailures() bool {
	return s.Failed > 0
}

// FailureRate returns failed classes as a fraction of attempted ones.
func (s *BatchSummary) FailureRate() float64 {
	attempted := s.Total - s.Skipped
	if attempted == 0 {
		return 0
	}
	return float64(s.Failed) / float64(attempted)
}

// Codes returns the result codes seen, sorted by descending count then by name.
func (s *BatchSummary) Codes() []string {
	codes := make([]string, 0, len(s.ByCode))
	for c := range s.ByCode {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool {
		if s.ByCode[codes[i]] != s.ByCode[codes[j]] {
			return s.ByCode[codes[i]] > s.ByCode[codes[j]]
		}
		return codes[i] < codes[j]
	})
	return codes
}
