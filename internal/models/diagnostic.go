package models

import "fmt"

// DiagnosticKind classifies a non-fatal problem found during a run
type DiagnosticKind int

const (
	IntegrityWarning DiagnosticKind = iota
	UnmatchedSeries
	OrphanStructureSet
	MalformedDocument
	RegionNotFound
	EmptyRegion
	ShapeMismatch
	LoopRejected
	LoadFailed
	MissingInput
)

var diagnosticKindNames = map[DiagnosticKind]string{
	IntegrityWarning:   "integrity",
	UnmatchedSeries:    "unmatched-series",
	OrphanStructureSet: "orphan-structure-set",
	MalformedDocument:  "malformed-document",
	RegionNotFound:     "region-not-found",
	EmptyRegion:        "empty-region",
	ShapeMismatch:      "shape-mismatch",
	LoopRejected:       "loop-rejected",
	LoadFailed:         "load-failed",
	MissingInput:       "missing-input",
}

func (k DiagnosticKind) String() string {
	if name, ok := diagnosticKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Severity tells whether a diagnostic dropped data from the result table
type Severity int

const (
	// Warning is informational; results were still produced
	Warning Severity = iota
	// Skip means a unit or region is absent from the results
	Skip
)

func (s Severity) String() string {
	if s == Skip {
		return "skip"
	}
	return "warning"
}

// Diagnostic is a human-readable problem report kept apart from the result table
type Diagnostic struct {
	Kind      DiagnosticKind
	Severity  Severity
	PatientID string
	SeriesUID string
	Region    string
	Message   string
}

func (d Diagnostic) String() string {
	scope := d.PatientID
	if d.SeriesUID != "" {
		scope += "/" + d.SeriesUID
	}
	if d.Region != "" {
		scope += "/" + d.Region
	}
	if scope == "" {
		return fmt.Sprintf("[%s %s] %s", d.Severity, d.Kind, d.Message)
	}
	return fmt.Sprintf("[%s %s] %s: %s", d.Severity, d.Kind, scope, d.Message)
}

// Warn builds an IntegrityWarning diagnostic
func Warn(format string, args ...interface{}) Diagnostic {
	return Diagnostic{
		Kind:     IntegrityWarning,
		Severity: Warning,
		Message:  fmt.Sprintf(format, args...),
	}
}

// SkipError is returned by pipeline stages when a region or unit has to be
// left out of the results. It is never fatal for a run.
type SkipError struct {
	Reason DiagnosticKind
	Err    error
}

// Skipf builds a SkipError with a formatted cause
func Skipf(reason DiagnosticKind, format string, args ...interface{}) *SkipError {
	return &SkipError{Reason: reason, Err: fmt.Errorf(format, args...)}
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *SkipError) Unwrap() error {
	return e.Err
}
