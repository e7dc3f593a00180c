// Package watcher turns raw file-system activity under the input root into
// debounced per-case events. Bulk drops (ten PDFs copied into a new case
// directory) collapse into one event per case.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

type EventKind string

const (
	CaseAdded   EventKind = "case_added"
	CaseRemoved EventKind = "case_removed"
	CaseChanged EventKind = "case_changed"
)

// Event is one debounced notification about a case directory.
type Event struct {
	Kind   EventKind
	CaseID string
}

const (
	// DefaultDebounce is how long a case must stay quiet before we emit.
	DefaultDebounce = 250 * time.Millisecond

	// pollInterval drives the fallback scanner when inotify is unavailable.
	pollInterval = 2 * time.Second
)

// Watcher monitors the input root one level deep. Consumers read Events;
// each event is a hint to rebuild the case snapshot, not a payload.
type Watcher struct {
	root     string
	debounce time.Duration
	events   chan Event
}

func New(root string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		events:   make(chan Event, 64),
	}
}

// Events is the debounced notification stream. It closes when the watcher
// stops.
func (w *Watcher) Events() <-chan Event { return w.events }

// Start launches the watch loop and returns immediately. When inotify cannot
// be set up the watcher degrades to periodic polling with a WARN; behavior is
// identical, just slower to notice changes.
func (w *Watcher) Start(ctx context.Context) {
	fw, err := fsnotify.NewWatcher()
	if err == nil {
		err = fw.Add(w.root)
	}
	if err != nil {
		if fw != nil {
			_ = fw.Close()
		}
		log.WithField("root", w.root).Warnf("fsnotify unavailable, falling back to polling: %v", err)
		go w.pollLoop(ctx)
		return
	}
	// Watch existing case directories so file drops inside them surface too.
	if entries, err := os.ReadDir(w.root); err == nil {
		for _, ent := range entries {
			if ent.IsDir() {
				_ = fw.Add(filepath.Join(w.root, ent.Name()))
			}
		}
	}
	go w.notifyLoop(ctx, fw)
}

// pending tracks the latest raw signal per case until it settles.
type pending struct {
	kind EventKind
	last time.Time
}

func (w *Watcher) notifyLoop(ctx context.Context, fw *fsnotify.Watcher) {
	defer close(w.events)
	defer func() { _ = fw.Close() }()

	byCase := map[string]*pending{}
	tick := time.NewTicker(w.debounce / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			caseID, kind := w.classify(ev)
			if caseID == "" {
				continue
			}
			if kind == CaseAdded {
				// New case directory: watch its contents from now on.
				_ = fw.Add(filepath.Join(w.root, caseID))
			}
			w.merge(byCase, caseID, kind)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			log.Warnf("watcher error: %v", err)
		case now := <-tick.C:
			w.flush(byCase, now)
		}
	}
}

// classify maps a raw fsnotify event to (caseID, kind). Events on the root
// itself and paths deeper than one case level are reduced to their case.
func (w *Watcher) classify(ev fsnotify.Event) (string, EventKind) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	caseID := parts[0]

	if len(parts) == 1 {
		// Root-level entry: the case directory itself appeared or vanished.
		switch {
		case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
			return caseID, CaseRemoved
		case ev.Op.Has(fsnotify.Create):
			if info, err := os.Stat(ev.Name); err != nil || !info.IsDir() {
				return "", ""
			}
			return caseID, CaseAdded
		default:
			return caseID, CaseChanged
		}
	}
	return caseID, CaseChanged
}

// merge folds a raw signal into the pending set. Removal beats everything;
// added beats changed.
func (w *Watcher) merge(byCase map[string]*pending, caseID string, kind EventKind) {
	p, ok := byCase[caseID]
	if !ok {
		byCase[caseID] = &pending{kind: kind, last: time.Now()}
		return
	}
	p.last = time.Now()
	switch {
	case kind == CaseRemoved:
		p.kind = CaseRemoved
	case kind == CaseAdded && p.kind != CaseRemoved:
		p.kind = CaseAdded
	}
}

// flush emits every pending case that has been quiet for the debounce window.
func (w *Watcher) flush(byCase map[string]*pending, now time.Time) {
	for caseID, p := range byCase {
		if now.Sub(p.last) < w.debounce {
			continue
		}
		delete(byCase, caseID)
		select {
		case w.events <- Event{Kind: p.kind, CaseID: caseID}:
		default:
			log.WithField("case", caseID).Warn("watcher event dropped, consumer too slow")
		}
	}
}

// pollLoop is the degraded mode: scan the root every pollInterval and diff.
func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.events)

	known := w.snapshot()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			next := w.snapshot()
			for caseID, stamp := range next {
				prev, ok := known[caseID]
				switch {
				case !ok:
					w.emit(Event{Kind: CaseAdded, CaseID: caseID})
				case stamp.After(prev):
					w.emit(Event{Kind: CaseChanged, CaseID: caseID})
				}
			}
			for caseID := range known {
				if _, ok := next[caseID]; !ok {
					w.emit(Event{Kind: CaseRemoved, CaseID: caseID})
				}
			}
			known = next
		}
	}
}

// snapshot records, per case directory, the newest mtime among the directory
// and its immediate children.
func (w *Watcher) snapshot() map[string]time.Time {
	out := map[string]time.Time{}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return out
	}
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		newest := time.Time{}
		if info, err := ent.Info(); err == nil {
			newest = info.ModTime()
		}
		dir := filepath.Join(w.root, ent.Name())
		if files, err := os.ReadDir(dir); err == nil {
			for _, f := range files {
				if info, err := f.Info(); err == nil && info.ModTime().After(newest) {
					newest = info.ModTime()
				}
			}
		}
		out[ent.Name()] = newest
	}
	return out
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		log.WithField("case", ev.CaseID).Warn("watcher event dropped, consumer too slow")
	}
}
