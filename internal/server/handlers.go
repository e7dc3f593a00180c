package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/adestefa/satori-tm-legal-system-sub004/internal/casemodel"
	"github.com/adestefa/satori-tm-legal-system-sub004/internal/engine"
)

// maxHydratedBody caps reviewer PUTs; hydrated documents are small JSON.
const maxHydratedBody = 8 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cases, err := s.engine.ListCases()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("scan input root: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"cases":  len(cases),
	})
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := s.engine.ListCases()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]CasePayload, 0, len(cases))
	for _, c := range cases {
		job, _ := s.engine.ActiveJob(c.ID)
		out = append(out, casePayload(c, job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": out})
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")
	c, err := s.engine.GetCase(caseID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	job, _ := s.engine.ActiveJob(caseID)
	p := casePayload(c, job)
	// The digest only matters on the detail view, where the reviewer edits.
	if _, digest, err := s.engine.Hydrated(caseID); err == nil {
		p.HydratedDigest = digest
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")
	jobID, err := s.engine.StartProcessing(caseID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.accepted(caseID, jobID))
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("id")
	jobID, err := s.engine.StartRender(caseID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.accepted(caseID, jobID))
}

// accepted reports the status current at response time: the job state while
// the lease is held, else the case status once the job already finished.
func (s *Server) accepted(caseID, jobID string) AcceptedResponse {
	if job, ok := s.engine.ActiveJob(caseID); ok && job.ID == jobID {
		return AcceptedResponse{JobID: jobID, Status: job.State()}
	}
	if c, err := s.engine.GetCase(caseID); err == nil {
		return AcceptedResponse{JobID: jobID, Status: string(c.Status)}
	}
	return AcceptedResponse{JobID: jobID, Status: "QUEUED"}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.CancelJob(r.PathValue("id")); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleGetHydrated(w http.ResponseWriter, r *http.Request) {
	data, digest, err := s.engine.Hydrated(r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", `"`+digest+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handlePutHydrated(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxHydratedBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}
	if len(data) > maxHydratedBody {
		writeError(w, http.StatusRequestEntityTooLarge, "hydrated document too large")
		return
	}
	digest, err := s.engine.ReplaceHydrated(r.PathValue("id"), data)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "replaced", "digest": digest})
}

func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	lines, err := s.engine.ManifestLines(r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	raw := make([]string, 0, len(lines))
	for _, l := range lines {
		raw = append(raw, l.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": raw})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	WriteSSE(w, r, s.broadcaster)
}

// --- Helpers ---

// writeEngineError maps engine sentinels onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	var verr *engine.ValidationError
	switch {
	case errors.Is(err, casemodel.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrAlreadyRunning), errors.Is(err, engine.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
