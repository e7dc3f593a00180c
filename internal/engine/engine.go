// Package engine orchestrates the case pipeline: it owns the worker pool,
// the per-case job leases, the input watcher, and the collaborator
// subprocesses. All durable state lives on disk in the case manifests; the
// engine can be killed and restarted at any point.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/adestefa/satori-tm-legal-system-sub004/internal/casemodel"
	"github.com/adestefa/satori-tm-legal-system-sub004/internal/collab"
	"github.com/adestefa/satori-tm-legal-system-sub004/internal/hydrate"
	"github.com/adestefa/satori-tm-legal-system-sub004/internal/manifest"
	"github.com/adestefa/satori-tm-legal-system-sub004/internal/watcher"
)

// Collaborators groups the external programs the engine drives. Exported so
// tests can substitute in-process fakes.
type Collaborators struct {
	Extractor *collab.Extractor
	Renderer  *collab.Renderer
	PDF       *collab.PDFConverter // nil disables PDF conversion
}

// Engine is the orchestration core. One instance per process.
type Engine struct {
	cfg Config

	Builder   *casemodel.Builder
	Manifests *manifest.Store
	Collab    Collaborators

	validator *hydrate.Validator
	leases    *leaseTable
	pool      *workerPool
	watch     *watcher.Watcher
	metrics   *metrics

	sink   Sink
	sinkMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an engine from a validated config. The roots are created if
// absent; a root that cannot be created is a startup IO error.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, root := range []string{cfg.InputRoot, cfg.OutputRoot} {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create root %s: %w", root, err)
		}
	}

	extractorArgv, err := collab.ParseCommand(cfg.ExtractorCmd)
	if err != nil {
		return nil, fmt.Errorf("extractor_cmd: %w", err)
	}
	rendererArgv, err := collab.ParseCommand(cfg.RendererCmd)
	if err != nil {
		return nil, fmt.Errorf("renderer_cmd: %w", err)
	}
	var pdf *collab.PDFConverter
	if cfg.PDFCmd != "" {
		pdfArgv, err := collab.ParseCommand(cfg.PDFCmd)
		if err != nil {
			return nil, fmt.Errorf("pdf_cmd: %w", err)
		}
		pdf = &collab.PDFConverter{Argv: pdfArgv, Timeout: cfg.PDFTimeout}
	}

	validator, err := hydrate.NewValidator(cfg.HydratedSchema)
	if err != nil {
		return nil, err
	}

	store := manifest.NewStore(cfg.OutputRoot)
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		Builder:   casemodel.NewBuilder(cfg.InputRoot, cfg.OutputRoot, store, cfg.IgnoreGlobs),
		Manifests: store,
		Collab: Collaborators{
			Extractor: &collab.Extractor{Argv: extractorArgv, ExtractTimeout: cfg.ExtractTimeout},
			Renderer:  &collab.Renderer{Argv: rendererArgv, Timeout: cfg.RenderTimeout},
			PDF:       pdf,
		},
		validator: validator,
		leases:    newLeaseTable(),
		pool:      newWorkerPool(cfg.MaxWorkers),
		watch:     watcher.New(cfg.InputRoot, cfg.WatchDebounce),
		metrics:   newMetrics(),
		ctx:       ctx,
		cancel:    cancel,
	}
	return e, nil
}

// SetSink installs the event consumer. Call before Start.
func (e *Engine) SetSink(s Sink) {
	e.sinkMu.Lock()
	defer e.sinkMu.Unlock()
	e.sink = s
}

// MetricsGatherer exposes the engine's prometheus registry for /metrics.
func (e *Engine) MetricsGatherer() prometheus.Gatherer { return e.metrics.registry }

// Start reconciles on-disk state left by a previous process, then begins
// watching the input root.
func (e *Engine) Start() error {
	if err := e.Reconcile(); err != nil {
		return err
	}
	e.watch.Start(e.ctx)
	e.wg.Add(1)
	go e.forwardWatchEvents()
	return nil
}

// Close cancels all jobs and blocks until workers drain.
func (e *Engine) Close() {
	e.leases.CancelAll()
	e.cancel()
	e.pool.Wait()
	e.wg.Wait()
}

func (e *Engine) forwardWatchEvents() {
	defer e.wg.Done()
	for ev := range e.watch.Events() {
		switch ev.Kind {
		case watcher.CaseAdded:
			e.emit(Event{Kind: EventCaseAdded, CaseID: ev.CaseID})
		case watcher.CaseRemoved:
			e.emit(Event{Kind: EventCaseRemoved, CaseID: ev.CaseID})
		case watcher.CaseChanged:
			e.emit(Event{Kind: EventCaseStatusChanged, CaseID: ev.CaseID})
		}
	}
}

// ListCases returns snapshots for every case under the input root.
func (e *Engine) ListCases() ([]*casemodel.Case, error) { return e.Builder.List() }

// GetCase returns one snapshot, or casemodel.ErrNotFound.
func (e *Engine) GetCase(caseID string) (*casemodel.Case, error) { return e.Builder.Get(caseID) }

// ActiveJob reports the in-flight job for a case, if any.
func (e *Engine) ActiveJob(caseID string) (*Job, bool) { return e.leases.Get(caseID) }

// ManifestLines returns the parsed manifest for debugging endpoints.
func (e *Engine) ManifestLines(caseID string) ([]manifest.Line, error) {
	if _, err := e.Builder.Get(caseID); err != nil {
		return nil, err
	}
	return e.Manifests.Read(caseID)
}

// StartProcessing queues an extraction job for the case. The lease is taken
// synchronously so concurrent callers get a clean accepted/conflict split.
func (e *Engine) StartProcessing(caseID string) (string, error) {
	c, err := e.Builder.Get(caseID)
	if err != nil {
		return "", err
	}
	files, err := e.Builder.InputFiles(caseID)
	if err != nil {
		return "", err
	}
	if c.Status.Transient() {
		return "", ErrAlreadyRunning
	}

	jobID := ulid.Make().String()
	job, err := e.leases.Acquire(e.ctx, caseID, jobID, JobProcess)
	if err != nil {
		return "", err
	}
	if err := e.submit(job, func() { e.runProcessJob(job, files) }); err != nil {
		return "", err
	}
	log.WithFields(log.Fields{"case": caseID, "job": jobID, "files": len(files)}).Info("processing queued")
	return jobID, nil
}

// StartRender queues a render job. The case must be reviewable: hydrated
// content exists and no job is active.
func (e *Engine) StartRender(caseID string) (string, error) {
	c, err := e.Builder.Get(caseID)
	if err != nil {
		return "", err
	}
	if c.Status.Transient() {
		return "", ErrAlreadyRunning
	}
	if c.Status != casemodel.StatusPendingReview && c.Status != casemodel.StatusComplete {
		return "", fmt.Errorf("%w: render requires a reviewed case, status is %s", ErrConflict, c.Status)
	}
	if c.HydratedPath == "" {
		return "", fmt.Errorf("%w: no hydrated document", ErrConflict)
	}

	jobID := ulid.Make().String()
	job, err := e.leases.Acquire(e.ctx, caseID, jobID, JobRender)
	if err != nil {
		return "", err
	}
	if err := e.submit(job, func() { e.runRenderJob(job, c.HydratedPath) }); err != nil {
		return "", err
	}
	log.WithFields(log.Fields{"case": caseID, "job": jobID}).Info("render queued")
	return jobID, nil
}

// submit hands the job to the pool; a full queue releases the lease so the
// case stays actionable.
func (e *Engine) submit(job *Job, fn func()) error {
	started := func() {
		job.queued.Store(false)
		e.metrics.jobsActive.Inc()
		e.metrics.queueDepth.Set(float64(e.pool.QueueDepth()))
	}
	wrapped := func() {
		start := time.Now()
		defer func() {
			e.metrics.jobsActive.Dec()
			e.metrics.jobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())
		}()
		fn()
	}
	aborted := func() {
		e.leases.Release(job.CaseID, job.ID)
		e.metrics.queueDepth.Set(float64(e.pool.QueueDepth()))
	}
	if err := e.pool.Submit(job.ctx, started, aborted, wrapped); err != nil {
		e.leases.Release(job.CaseID, job.ID)
		return err
	}
	e.metrics.queueDepth.Set(float64(e.pool.QueueDepth()))
	return nil
}

// CancelJob flags the case's active job. Returns casemodel.ErrNotFound when
// the case exists but has no job.
func (e *Engine) CancelJob(caseID string) error {
	if _, err := e.Builder.Get(caseID); err != nil {
		return err
	}
	if !e.leases.Cancel(caseID) {
		return fmt.Errorf("%w: no active job", ErrConflict)
	}
	log.WithField("case", caseID).Info("cancel requested")
	return nil
}

// Hydrated returns the current hydrated document and its digest.
func (e *Engine) Hydrated(caseID string) ([]byte, string, error) {
	c, err := e.Builder.Get(caseID)
	if err != nil {
		return nil, "", err
	}
	if c.HydratedPath == "" {
		return nil, "", fmt.Errorf("%w: case has not reached review", ErrConflict)
	}
	data, err := os.ReadFile(c.HydratedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", casemodel.ErrNotFound
		}
		return nil, "", err
	}
	return data, hydrate.Digest(data), nil
}

// ReplaceHydrated validates and atomically installs reviewer edits to the
// hydrated document. Rejected while a job is running.
func (e *Engine) ReplaceHydrated(caseID string, data []byte) (string, error) {
	c, err := e.Builder.Get(caseID)
	if err != nil {
		return "", err
	}
	if c.Status.Transient() {
		return "", fmt.Errorf("%w: case has an active job", ErrConflict)
	}
	if c.HydratedPath == "" {
		return "", fmt.Errorf("%w: case has no hydrated document to replace", ErrConflict)
	}
	if err := e.validator.Validate(data); err != nil {
		return "", &ValidationError{Msg: err.Error()}
	}
	if err := hydrate.Replace(filepath.Dir(c.HydratedPath), data); err != nil {
		return "", err
	}
	e.emit(Event{Kind: EventHydratedReplaced, CaseID: caseID})
	log.WithField("case", caseID).Info("hydrated document replaced")
	return hydrate.Digest(data), nil
}

func (e *Engine) outputDir(caseID string) string {
	return filepath.Join(e.cfg.OutputRoot, caseID)
}
