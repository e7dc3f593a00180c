package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// JobKind distinguishes the two long-running operations.
type JobKind string

const (
	JobProcess JobKind = "process"
	JobRender  JobKind = "render"
)

// Job is one in-flight operation on a case. The cancelled flag is checked at
// file boundaries; the context kills the current subprocess.
type Job struct {
	ID     string
	CaseID string
	Kind   JobKind

	// Queued is true until a worker picks the job up.
	queued    atomic.Bool
	cancelled atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (j *Job) Cancelled() bool { return j.cancelled.Load() }
func (j *Job) Queued() bool    { return j.queued.Load() }

// State is the API-facing job phase.
func (j *Job) State() string {
	if j.queued.Load() {
		return "QUEUED"
	}
	return "RUNNING"
}

// leaseTable enforces one job per case. Acquire is the only path to a Job.
type leaseTable struct {
	mu     sync.Mutex
	byCase map[string]*Job
}

func newLeaseTable() *leaseTable {
	return &leaseTable{byCase: make(map[string]*Job)}
}

// Acquire registers a new job for the case, or fails with ErrAlreadyRunning.
func (t *leaseTable) Acquire(parent context.Context, caseID, jobID string, kind JobKind) (*Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byCase[caseID]; ok {
		return nil, ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(parent)
	j := &Job{ID: jobID, CaseID: caseID, Kind: kind, ctx: ctx, cancel: cancel}
	j.queued.Store(true)
	t.byCase[caseID] = j
	return j, nil
}

// Release frees the case if jobID still holds it. Safe to call from a defer
// after Cancel already removed the entry.
func (t *leaseTable) Release(caseID, jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.byCase[caseID]; ok && j.ID == jobID {
		j.cancel()
		delete(t.byCase, caseID)
	}
}

// Get returns the active job for a case, if any.
func (t *leaseTable) Get(caseID string) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.byCase[caseID]
	return j, ok
}

// Cancel flags the case's job and kills its current subprocess. Returns false
// when no job is active.
func (t *leaseTable) Cancel(caseID string) bool {
	t.mu.Lock()
	j, ok := t.byCase[caseID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	j.cancelled.Store(true)
	j.cancel()
	return true
}

// CancelAll is the shutdown path: flag every job so drains are quick.
func (t *leaseTable) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.byCase {
		j.cancelled.Store(true)
		j.cancel()
	}
}
