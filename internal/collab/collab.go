package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ExtractResult is the extractor's stdout contract for a single file.
type ExtractResult struct {
	Status       string          `json:"status"`
	QualityScore int             `json:"quality_score"`
	Entities     json.RawMessage `json:"entities,omitempty"`
	Error        string          `json:"error,omitempty"`

	// Duration is measured by the caller, not reported by the subprocess.
	Duration time.Duration `json:"-"`
}

// Succeeded reports whether the extractor call itself declared success.
func (r *ExtractResult) Succeeded() bool { return r.Status == "ok" }

// Extractor runs the configured extraction program once per input file and
// once per case for consolidation.
type Extractor struct {
	Argv           []string
	ExtractTimeout time.Duration
}

// ExtractFile invokes `<argv> extract <filePath>`. The case context rides in
// environment variables so the collaborator can locate siblings if it needs
// them.
func (e *Extractor) ExtractFile(ctx context.Context, caseID, caseDir, jobID, filePath string) (*ExtractResult, error) {
	env := []string{
		"SATORI_CASE_ID=" + caseID,
		"SATORI_CASE_DIR=" + caseDir,
		"SATORI_JOB_ID=" + jobID,
	}
	res, err := run(ctx, e.Argv, []string{"extract", filePath}, nil, env, e.ExtractTimeout)
	if err != nil {
		return nil, err
	}
	var out ExtractResult
	if err := json.Unmarshal(res.Stdout, &out); err != nil {
		return nil, fmt.Errorf("extractor output not valid JSON: %w", err)
	}
	if out.Status == "" {
		return nil, fmt.Errorf("extractor output missing status field")
	}
	if out.QualityScore < 0 || out.QualityScore > 100 {
		return nil, fmt.Errorf("extractor quality_score %d out of range", out.QualityScore)
	}
	out.Duration = res.Duration
	return &out, nil
}

// consolidateInput is the stdin payload for the consolidate subcommand.
type consolidateInput struct {
	CaseID string   `json:"case_id"`
	Files  []string `json:"files"`
}

// Consolidate invokes `<argv> consolidate` with the per-file extract partial
// paths on stdin and returns the hydrated document bytes from stdout. The
// caller validates and persists them.
func (e *Extractor) Consolidate(ctx context.Context, caseID string, partialPaths []string) ([]byte, error) {
	if partialPaths == nil {
		partialPaths = []string{}
	}
	stdin, err := json.Marshal(consolidateInput{CaseID: caseID, Files: partialPaths})
	if err != nil {
		return nil, err
	}
	res, err := run(ctx, e.Argv, []string{"consolidate"}, stdin, []string{"SATORI_CASE_ID=" + caseID}, e.ExtractTimeout)
	if err != nil {
		return nil, err
	}
	if len(res.Stdout) == 0 {
		return nil, fmt.Errorf("consolidator produced no output")
	}
	return res.Stdout, nil
}

// RenderedArtifact is one entry of the renderer's stdout manifest.
type RenderedArtifact struct {
	Kind         string `json:"kind"`
	RelativePath string `json:"relative_path"`
}

// Renderer turns a hydrated document into court-ready HTML artifacts.
type Renderer struct {
	Argv    []string
	Timeout time.Duration
}

// Render invokes `<argv> <hydratedPath> <outDir>` and parses the JSON array
// of produced artifacts from stdout.
func (r *Renderer) Render(ctx context.Context, caseID, hydratedPath, outDir string) ([]RenderedArtifact, error) {
	res, err := run(ctx, r.Argv, []string{hydratedPath, outDir}, nil, []string{"SATORI_CASE_ID=" + caseID}, r.Timeout)
	if err != nil {
		return nil, err
	}
	var arts []RenderedArtifact
	if err := json.Unmarshal(res.Stdout, &arts); err != nil {
		return nil, fmt.Errorf("renderer output not valid JSON: %w", err)
	}
	for _, a := range arts {
		if a.Kind == "" || a.RelativePath == "" {
			return nil, fmt.Errorf("renderer artifact entry missing kind or relative_path")
		}
	}
	return arts, nil
}

// PDFConverter wraps the optional HTML-to-PDF program. A nil converter means
// PDF output is disabled.
type PDFConverter struct {
	Argv    []string
	Timeout time.Duration
}

// Convert invokes `<argv> <htmlPath> <pdfPath>`. Output on stdout is ignored;
// success is exit 0 plus the PDF existing where we asked for it.
func (p *PDFConverter) Convert(ctx context.Context, htmlPath, pdfPath string) error {
	_, err := run(ctx, p.Argv, []string{htmlPath, pdfPath}, nil, nil, p.Timeout)
	return err
}
