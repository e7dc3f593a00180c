package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/adestefa/satori-tm-legal-system-sub004/internal/casemodel"
	"github.com/adestefa/satori-tm-legal-system-sub004/internal/fsutil"
	"github.com/adestefa/satori-tm-legal-system-sub004/internal/hydrate"
	"github.com/adestefa/satori-tm-legal-system-sub004/internal/manifest"
	"github.com/adestefa/satori-tm-legal-system-sub004/internal/procutil"
)

// pidFileName marks a case with an in-flight job; startup reconciliation
// uses it to tell a crashed job from one owned by a live process.
const pidFileName = "job.pid"

// extractDirName holds the per-file extraction partials under the case
// output directory.
const extractDirName = "extract"

func (e *Engine) pidPath(caseID string) string {
	return filepath.Join(e.outputDir(caseID), pidFileName)
}

// appendStatus writes a CASE_STATUS line and emits the change hint. An
// append failure is fatal to the running job; the caller must abort.
func (e *Engine) appendStatus(caseID, jobID string, status casemodel.CaseStatus) error {
	if err := e.Manifests.Append(caseID, manifest.CaseStatusLine(string(status))); err != nil {
		log.WithFields(log.Fields{"case": caseID, "status": status}).Errorf("manifest append failed: %v", err)
		return err
	}
	e.metrics.caseTransitions.WithLabelValues(string(status)).Inc()
	e.emit(Event{Kind: EventCaseStatusChanged, CaseID: caseID, Status: string(status), JobID: jobID})
	return nil
}

// appendFile writes a FILE line and emits the change hint. score and durMS
// use -1 for absent. Append failure is fatal to the running job.
func (e *Engine) appendFile(caseID, jobID, name string, status casemodel.FileStatus, score int, durMS int64) error {
	if err := e.Manifests.Append(caseID, manifest.FileLine(name, string(status), score, durMS)); err != nil {
		log.WithFields(log.Fields{"case": caseID, "file": name}).Errorf("manifest append failed: %v", err)
		return err
	}
	e.emit(Event{Kind: EventFileStatusChanged, CaseID: caseID, File: name, FileStatus: string(status), JobID: jobID})
	return nil
}

// appendError records an ERROR line. Messages are flattened to one line to
// satisfy the manifest framing.
func (e *Engine) appendError(caseID, scope, msg string) error {
	if err := e.Manifests.Append(caseID, manifest.ErrorLine(scope, flatten(msg))); err != nil {
		log.WithFields(log.Fields{"case": caseID, "scope": scope}).Errorf("manifest append failed: %v", err)
		return err
	}
	return nil
}

// failCase is the terminal error path for a job: record the cause, move the
// case to ERROR. Best-effort; if the manifest itself is unwritable there is
// nothing further to do, startup reconciliation repairs the case.
func (e *Engine) failCase(job *Job, scope, msg string) {
	log.WithFields(log.Fields{"case": job.CaseID, "job": job.ID, "scope": scope}).Error(msg)
	_ = e.appendError(job.CaseID, scope, msg)
	_ = e.appendStatus(job.CaseID, job.ID, casemodel.StatusError)
}

func flatten(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

// cancelledErr reports whether the collaborator failure was our own cancel.
func cancelledErr(job *Job, err error) bool {
	return job.Cancelled() || errors.Is(err, context.Canceled)
}

// runProcessJob is the extraction pipeline for one case: per-file extract,
// then consolidation into the hydrated document. Runs on a pool worker.
func (e *Engine) runProcessJob(job *Job, files []string) {
	caseID := job.CaseID
	defer e.leases.Release(caseID, job.ID)
	defer func() {
		if r := recover(); r != nil {
			e.failCase(job, "internal", fmt.Sprintf("processing panicked: %v", r))
		}
	}()

	if err := os.MkdirAll(e.outputDir(caseID), 0o755); err != nil {
		e.failCase(job, "extract", fmt.Sprintf("create output dir: %v", err))
		return
	}
	if err := procutil.WritePIDFile(e.pidPath(caseID)); err != nil {
		e.failCase(job, "extract", fmt.Sprintf("write job.pid: %v", err))
		return
	}
	defer func() { _ = os.Remove(e.pidPath(caseID)) }()

	if err := e.appendStatus(caseID, job.ID, casemodel.StatusProcessing); err != nil {
		return
	}
	log.WithFields(log.Fields{"case": caseID, "job": job.ID, "files": len(files)}).Info("processing started")

	caseDir := filepath.Join(e.cfg.InputRoot, caseID)
	extractDir := filepath.Join(e.outputDir(caseID), extractDirName)

	var partials []string
	for _, name := range files {
		// Cancellation is honored at file boundaries; mid-file the job
		// context kills the subprocess.
		if job.Cancelled() {
			e.failCase(job, "cancelled", "job cancelled before "+name)
			return
		}
		if err := e.appendFile(caseID, job.ID, name, casemodel.FileInProgress, -1, -1); err != nil {
			return
		}

		res, err := e.Collab.Extractor.ExtractFile(job.ctx, caseID, caseDir, job.ID, filepath.Join(caseDir, name))
		if err != nil {
			if cancelledErr(job, err) {
				_ = e.appendFile(caseID, job.ID, name, casemodel.FileFailed, -1, -1)
				e.failCase(job, "cancelled", "job cancelled during "+name)
				return
			}
			if e.appendFile(caseID, job.ID, name, casemodel.FileFailed, -1, -1) != nil ||
				e.appendError(caseID, "file:"+name, err.Error()) != nil {
				return
			}
			e.metrics.filesProcessed.WithLabelValues(string(casemodel.FileFailed)).Inc()
			continue
		}
		durMS := res.Duration.Milliseconds()
		if !res.Succeeded() {
			msg := res.Error
			if msg == "" {
				msg = "extractor reported status " + res.Status
			}
			if e.appendFile(caseID, job.ID, name, casemodel.FileFailed, -1, durMS) != nil ||
				e.appendError(caseID, "file:"+name, msg) != nil {
				return
			}
			e.metrics.filesProcessed.WithLabelValues(string(casemodel.FileFailed)).Inc()
			continue
		}

		partialPath := filepath.Join(extractDir, name+".json")
		if err := fsutil.WriteJSONAtomic(partialPath, res); err != nil {
			if e.appendFile(caseID, job.ID, name, casemodel.FileFailed, -1, durMS) != nil ||
				e.appendError(caseID, "file:"+name, "write extract partial: "+err.Error()) != nil {
				return
			}
			e.metrics.filesProcessed.WithLabelValues(string(casemodel.FileFailed)).Inc()
			continue
		}
		partials = append(partials, partialPath)
		if err := e.appendFile(caseID, job.ID, name, casemodel.FileSuccess, res.QualityScore, durMS); err != nil {
			return
		}
		e.metrics.filesProcessed.WithLabelValues(string(casemodel.FileSuccess)).Inc()
	}

	if job.Cancelled() {
		e.failCase(job, "cancelled", "job cancelled before consolidation")
		return
	}

	hydrated, err := e.Collab.Extractor.Consolidate(job.ctx, caseID, partials)
	if err != nil {
		if cancelledErr(job, err) {
			e.failCase(job, "cancelled", "job cancelled during consolidation")
			return
		}
		e.failCase(job, "consolidation", err.Error())
		return
	}
	if err := e.validator.Validate(hydrated); err != nil {
		e.failCase(job, "consolidation", "consolidator output rejected: "+err.Error())
		return
	}
	if err := hydrate.Replace(e.outputDir(caseID), hydrated); err != nil {
		e.failCase(job, "consolidation", "write hydrated document: "+err.Error())
		return
	}
	if err := e.Manifests.Append(caseID, manifest.HydratedLine(casemodel.HydratedFileName)); err != nil {
		log.WithField("case", caseID).Errorf("manifest append failed: %v", err)
		return
	}
	if err := e.appendStatus(caseID, job.ID, casemodel.StatusPendingReview); err != nil {
		return
	}
	log.WithFields(log.Fields{"case": caseID, "job": job.ID, "extracted": len(partials)}).Info("processing finished")
}

// runRenderJob produces the court-ready artifacts from the hydrated
// document, converting each HTML artifact to PDF when a converter is
// configured.
func (e *Engine) runRenderJob(job *Job, hydratedPath string) {
	caseID := job.CaseID
	defer e.leases.Release(caseID, job.ID)
	defer func() {
		if r := recover(); r != nil {
			e.failCase(job, "internal", fmt.Sprintf("render panicked: %v", r))
		}
	}()

	if err := procutil.WritePIDFile(e.pidPath(caseID)); err != nil {
		e.failCase(job, "render", fmt.Sprintf("write job.pid: %v", err))
		return
	}
	defer func() { _ = os.Remove(e.pidPath(caseID)) }()

	if err := e.appendStatus(caseID, job.ID, casemodel.StatusRendering); err != nil {
		return
	}
	log.WithFields(log.Fields{"case": caseID, "job": job.ID}).Info("render started")

	outDir := e.outputDir(caseID)
	arts, err := e.Collab.Renderer.Render(job.ctx, caseID, hydratedPath, outDir)
	if err != nil {
		if cancelledErr(job, err) {
			e.failCase(job, "cancelled", "job cancelled during render")
			return
		}
		e.failCase(job, "render", err.Error())
		return
	}
	if len(arts) == 0 {
		e.failCase(job, "render", "renderer produced no artifacts")
		return
	}

	for _, a := range arts {
		if err := e.Manifests.Append(caseID, manifest.ArtifactLine(a.Kind, a.RelativePath)); err != nil {
			log.WithField("case", caseID).Errorf("manifest append failed: %v", err)
			return
		}
		if e.Collab.PDF == nil || !strings.HasSuffix(a.RelativePath, ".html") {
			continue
		}
		if job.Cancelled() {
			e.failCase(job, "cancelled", "job cancelled during pdf conversion")
			return
		}
		pdfRel := strings.TrimSuffix(a.RelativePath, ".html") + ".pdf"
		if err := e.Collab.PDF.Convert(job.ctx, filepath.Join(outDir, a.RelativePath), filepath.Join(outDir, pdfRel)); err != nil {
			if cancelledErr(job, err) {
				e.failCase(job, "cancelled", "job cancelled during pdf conversion")
				return
			}
			e.failCase(job, "render", "pdf conversion of "+a.RelativePath+" failed: "+err.Error())
			return
		}
		if err := e.Manifests.Append(caseID, manifest.ArtifactLine(a.Kind+"_pdf", pdfRel)); err != nil {
			log.WithField("case", caseID).Errorf("manifest append failed: %v", err)
			return
		}
	}

	if err := e.appendStatus(caseID, job.ID, casemodel.StatusComplete); err != nil {
		return
	}
	log.WithFields(log.Fields{"case": caseID, "job": job.ID, "artifacts": len(arts)}).Info("render finished")
}
