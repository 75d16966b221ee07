package pipeline

import (
	"fmt"
)

// Stage names a step of the pipeline.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageParse       Stage = "parse"
	StageClassify    Stage = "classify"
	StageTranslate   Stage = "translate"
	StageTypeset     Stage = "typeset"
	StageRebuild     Stage = "rebuild"
	StageSerialize   Stage = "serialize"
	StagePostprocess Stage = "postprocess"
	StageComplete    Stage = "complete"
	StageFailed      Stage = "error"
)

// IsValidStage reports whether s is one of the defined stages.
func IsValidStage(s Stage) bool {
	switch s {
	case StageIdle, StageParse, StageClassify, StageTranslate, StageTypeset,
		StageRebuild, StageSerialize, StagePostprocess, StageComplete, StageFailed:
		return true
	default:
		return false
	}
}

// StageError is returned when a stage fails for the whole document.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// Status is a snapshot of a running translation.
type Status struct {
	Stage    Stage  `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	// TotalUnits and CompletedUnits count distinct texts sent for translation.
	TotalUnits     int    `json:"total_units"`
	CompletedUnits int    `json:"completed_units"`
	Error          string `json:"error,omitempty"`
}

// ProgressFunc receives every status change.
type ProgressFunc func(Status)

// Output kinds.
const (
	KindMono = "mono"
	KindDual = "dual"
)

// Artifact is one produced document.
type Artifact struct {
	Kind        string
	Watermarked bool
	Data        []byte
}

// Result holds the documents produced by a run and its report.
type Result struct {
	Artifacts []Artifact
	Report    *Report
}

// Get returns the artifact of the given kind and watermark state.
func (r *Result) Get(kind string, watermarked bool) ([]byte, bool) {
	for _, a := range r.Artifacts {
		if a.Kind == kind && a.Watermarked == watermarked {
			return a.Data, true
		}
	}
	return nil, false
}

// Mono returns the translated document, preferring the unwatermarked one.
func (r *Result) Mono() []byte {
	if b, ok := r.Get(KindMono, false); ok {
		return b
	}
	b, _ := r.Get(KindMono, true)
	return b
}
