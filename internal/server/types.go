package server

import (
	"time"

	"github.com/adestefa/satori-tm-legal-system-sub004/internal/casemodel"
	"github.com/adestefa/satori-tm-legal-system-sub004/internal/engine"
)

// FilePayload is one input file's processing record.
type FilePayload struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	Score      *int   `json:"quality_score,omitempty"`
	DurationMS *int64 `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ArtifactPayload is one rendered output.
type ArtifactPayload struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

// JobPayload describes the case's in-flight job, when one exists.
type JobPayload struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	State string `json:"state"`
}

// CasePayload is the API view of a case snapshot.
type CasePayload struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Status           string            `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	LastUpdated      time.Time         `json:"last_updated"`
	Files            []FilePayload     `json:"files"`
	QualityAggregate *int              `json:"quality_aggregate,omitempty"`
	HydratedPath     string            `json:"hydrated_path,omitempty"`
	HydratedDigest   string            `json:"hydrated_digest,omitempty"`
	Artifacts        []ArtifactPayload `json:"artifacts,omitempty"`
	ErrorSummary     string            `json:"error_summary,omitempty"`
	Job              *JobPayload       `json:"job,omitempty"`
}

// AcceptedResponse is the 202 payload: the new job plus the status current
// at response time.
type AcceptedResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// ErrorResponse is a standard error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// casePayload converts a snapshot plus the live job view.
func casePayload(c *casemodel.Case, job *engine.Job) CasePayload {
	p := CasePayload{
		ID:               c.ID,
		Name:             c.Name,
		Status:           string(c.Status),
		CreatedAt:        c.CreatedAt,
		LastUpdated:      c.LastUpdated,
		Files:            make([]FilePayload, 0, len(c.Files)),
		QualityAggregate: c.QualityAggregate(),
		HydratedPath:     c.HydratedPath,
		ErrorSummary:     c.ErrorSummary(),
	}
	for _, f := range c.Files {
		p.Files = append(p.Files, FilePayload{
			Name:       f.Name,
			Kind:       string(f.Kind),
			Status:     string(f.Status),
			Score:      f.Score,
			DurationMS: f.DurationMS,
			Error:      f.Error,
		})
	}
	for _, a := range c.Artifacts {
		p.Artifacts = append(p.Artifacts, ArtifactPayload{Kind: a.Kind, Path: a.Path})
	}
	if job != nil {
		p.Job = &JobPayload{ID: job.ID, Kind: string(job.Kind), State: job.State()}
	}
	return p
}
