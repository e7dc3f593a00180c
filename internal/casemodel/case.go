// Package casemodel builds read-only snapshots of each case from the input
// directory, the output directory, and the case manifest. A snapshot is a
// pure function of those three inputs; the engine holds no hidden case state.
package casemodel

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned by Get for an unknown case ID.
var ErrNotFound = errors.New("case not found")

// CaseStatus is the overall lifecycle state of a case.
type CaseStatus string

const (
	StatusNew           CaseStatus = "NEW"
	StatusProcessing    CaseStatus = "PROCESSING"
	StatusPendingReview CaseStatus = "PENDING_REVIEW"
	StatusRendering     CaseStatus = "RENDERING"
	StatusComplete      CaseStatus = "COMPLETE"
	StatusError         CaseStatus = "ERROR"
)

// ParseCaseStatus accepts exactly the known tokens. Unknown tokens are an
// error; callers log and ignore rather than coerce.
func ParseCaseStatus(s string) (CaseStatus, error) {
	switch CaseStatus(s) {
	case StatusNew, StatusProcessing, StatusPendingReview, StatusRendering, StatusComplete, StatusError:
		return CaseStatus(s), nil
	default:
		return "", fmt.Errorf("unknown case status %q", s)
	}
}

// Transient reports whether the status represents an in-flight job.
func (s CaseStatus) Transient() bool {
	return s == StatusProcessing || s == StatusRendering
}

// FileStatus is the per-file processing state.
type FileStatus string

const (
	FilePending    FileStatus = "PENDING"
	FileInProgress FileStatus = "IN_PROGRESS"
	FileSuccess    FileStatus = "SUCCESS"
	FileFailed     FileStatus = "FAILED"

	// FileMissing marks a manifest entry whose input file no longer exists on
	// disk. Kept for history; never blocks progression.
	FileMissing FileStatus = "MISSING"
)

// ParseFileStatus accepts the statuses that may appear in FILE manifest lines.
func ParseFileStatus(s string) (FileStatus, error) {
	switch FileStatus(s) {
	case FilePending, FileInProgress, FileSuccess, FileFailed, FileMissing:
		return FileStatus(s), nil
	default:
		return "", fmt.Errorf("unknown file status %q", s)
	}
}

// FileKind classifies an input file by extension.
type FileKind string

const (
	KindPDF      FileKind = "pdf"
	KindWordDocX FileKind = "docx"
	KindWordDoc  FileKind = "doc"
	KindText     FileKind = "txt"
	KindRichText FileKind = "rtf"
)

// KindForName maps a file name to its kind. Unrecognized extensions return
// ok=false; those files are excluded from the case with a WARN at scan time.
func KindForName(name string) (FileKind, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return KindPDF, true
	case ".docx":
		return KindWordDocX, true
	case ".doc":
		return KindWordDoc, true
	case ".txt":
		return KindText, true
	case ".rtf":
		return KindRichText, true
	default:
		return "", false
	}
}

// FileResult is the processing record for one input file. Score and
// DurationMS are nil until the manifest supplies them.
type FileResult struct {
	Name       string
	Kind       FileKind
	Status     FileStatus
	Score      *int
	DurationMS *int64
	Error      string
}

// Artifact is a render output tracked by relative path and a coarse kind tag.
type Artifact struct {
	Kind string
	Path string
}

// CaseError is one ERROR manifest entry.
type CaseError struct {
	Scope   string
	Message string
}

// Case is the immutable snapshot of one legal matter.
type Case struct {
	ID          string
	Name        string
	CreatedAt   time.Time
	LastUpdated time.Time
	Status      CaseStatus
	Files       []FileResult
	// HydratedPath is absolute when a hydrated object exists.
	HydratedPath string
	Artifacts    []Artifact
	Errors       []CaseError
}

// QualityAggregate is the mean quality score over successfully extracted
// files, or nil when no file has succeeded yet.
func (c *Case) QualityAggregate() *int {
	sum, n := 0, 0
	for _, f := range c.Files {
		if f.Status == FileSuccess && f.Score != nil {
			sum += *f.Score
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / n
	return &avg
}

// ErrorSummary joins the recorded errors into one compact line for the API.
func (c *Case) ErrorSummary() string {
	if len(c.Errors) == 0 {
		return ""
	}
	parts := make([]string, 0, len(c.Errors))
	for _, e := range c.Errors {
		parts = append(parts, e.Scope+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}
