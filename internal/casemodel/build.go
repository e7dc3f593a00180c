package casemodel

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	log "github.com/sirupsen/logrus"

	"github.com/adestefa/satori-tm-legal-system-sub004/internal/manifest"
)

// validCaseID matches path-safe case directory names: alphanumeric with
// dashes and underscores, 1-128 chars.
var validCaseID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,127}$`)

// HydratedFileName is the consolidated case object inside the output dir.
const HydratedFileName = "hydrated.json"

// Builder derives Case snapshots. It owns no mutable state beyond its
// configuration; every List/Get re-reads the file system and manifest.
type Builder struct {
	InputRoot  string
	OutputRoot string
	Manifests  *manifest.Store

	// IgnoreGlobs are doublestar patterns matched against input file names;
	// matches are silently excluded from scans (editor droppings, lockfiles).
	IgnoreGlobs []string
}

func NewBuilder(inputRoot, outputRoot string, store *manifest.Store, ignoreGlobs []string) *Builder {
	return &Builder{
		InputRoot:   inputRoot,
		OutputRoot:  outputRoot,
		Manifests:   store,
		IgnoreGlobs: ignoreGlobs,
	}
}

// List scans the input root one level deep and builds a snapshot per case
// directory, ordered by case ID.
func (b *Builder) List() ([]*Case, error) {
	entries, err := os.ReadDir(b.InputRoot)
	if err != nil {
		return nil, fmt.Errorf("scan input root: %w", err)
	}
	var cases []*Case
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		id := ent.Name()
		if !validCaseID.MatchString(id) {
			log.WithField("dir", id).Warn("ignoring case directory with unsafe name")
			continue
		}
		c, err := b.build(id)
		if err != nil {
			log.WithFields(log.Fields{"case": id}).Warnf("skipping unreadable case: %v", err)
			continue
		}
		cases = append(cases, c)
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i].ID < cases[j].ID })
	return cases, nil
}

// Get builds the snapshot for one case, or ErrNotFound.
func (b *Builder) Get(caseID string) (*Case, error) {
	if !validCaseID.MatchString(caseID) {
		return nil, ErrNotFound
	}
	info, err := os.Stat(filepath.Join(b.InputRoot, caseID))
	if err != nil || !info.IsDir() {
		return nil, ErrNotFound
	}
	return b.build(caseID)
}

// InputFiles enumerates the case's recognized input files in processing
// order: lexicographic by name, size as tiebreak.
func (b *Builder) InputFiles(caseID string) ([]string, error) {
	dir := filepath.Join(b.InputRoot, caseID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan case %s: %w", caseID, err)
	}
	type fileEnt struct {
		name string
		size int64
	}
	var files []fileEnt
	for _, ent := range entries {
		if !ent.Type().IsRegular() {
			continue
		}
		name := ent.Name()
		if b.ignored(name) {
			continue
		}
		if _, ok := KindForName(name); !ok {
			log.WithFields(log.Fields{"case": caseID, "file": name}).Warn("ignoring file with unrecognized extension")
			continue
		}
		size := int64(0)
		if info, err := ent.Info(); err == nil {
			size = info.Size()
		}
		files = append(files, fileEnt{name: name, size: size})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].name != files[j].name {
			return files[i].name < files[j].name
		}
		return files[i].size < files[j].size
	})
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}

func (b *Builder) ignored(name string) bool {
	for _, g := range b.IgnoreGlobs {
		if ok, err := doublestar.Match(g, name); err == nil && ok {
			return true
		}
	}
	return false
}

// build runs the per-case construction algorithm: enumerate input files,
// then fold the manifest over them left to right with last-write-wins.
func (b *Builder) build(caseID string) (*Case, error) {
	inputDir := filepath.Join(b.InputRoot, caseID)
	outputDir := filepath.Join(b.OutputRoot, caseID)

	c := &Case{
		ID:     caseID,
		Name:   caseID,
		Status: StatusNew,
	}
	if info, err := os.Stat(inputDir); err == nil {
		c.CreatedAt = info.ModTime()
		c.LastUpdated = info.ModTime()
	}

	names, err := b.InputFiles(caseID)
	if err != nil {
		return nil, err
	}
	index := map[string]int{}
	for _, name := range names {
		kind, _ := KindForName(name)
		index[name] = len(c.Files)
		c.Files = append(c.Files, FileResult{Name: name, Kind: kind, Status: FilePending})
	}

	// No output directory yet: nothing has ever been processed.
	if _, err := os.Stat(outputDir); os.IsNotExist(err) {
		return c, nil
	}

	lines, err := b.Manifests.Read(caseID)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(b.Manifests.Path(caseID)); err == nil && info.ModTime().After(c.LastUpdated) {
		c.LastUpdated = info.ModTime()
	}

	sawCaseStatus := false
	for _, l := range lines {
		switch l.Kind {
		case manifest.KindFile:
			status, err := ParseFileStatus(l.FileStatus)
			if err != nil {
				log.WithFields(log.Fields{"case": caseID, "file": l.FileName}).Warnf("ignoring manifest line: %v", err)
				continue
			}
			i, ok := index[l.FileName]
			if !ok {
				// Manifest history for a file no longer on disk.
				index[l.FileName] = len(c.Files)
				kind, _ := KindForName(l.FileName)
				c.Files = append(c.Files, FileResult{Name: l.FileName, Kind: kind, Status: FileMissing})
				i = index[l.FileName]
			}
			f := &c.Files[i]
			if f.Status != FileMissing {
				f.Status = status
			}
			if l.Score >= 0 {
				score := l.Score
				f.Score = &score
			}
			if l.DurationMS >= 0 {
				dur := l.DurationMS
				f.DurationMS = &dur
			}
		case manifest.KindCaseStatus:
			status, err := ParseCaseStatus(l.Status)
			if err != nil {
				log.WithField("case", caseID).Warnf("ignoring manifest line: %v", err)
				continue
			}
			c.Status = status
			sawCaseStatus = true
		case manifest.KindHydrated:
			c.HydratedPath = filepath.Join(outputDir, l.Path)
		case manifest.KindArtifact:
			c.Artifacts = append(c.Artifacts, Artifact{Kind: l.ArtifactKind, Path: l.Path})
		case manifest.KindError:
			c.Errors = append(c.Errors, CaseError{Scope: l.Scope, Message: l.Message})
			if f, ok := fileErrorTarget(l.Scope, index, c.Files); ok {
				f.Error = l.Message
			}
		}
	}

	// Legacy inference: a hydrated object on disk implies the case reached
	// review even if the manifest predates CASE_STATUS lines (or is absent).
	hydrated := filepath.Join(outputDir, HydratedFileName)
	if _, err := os.Stat(hydrated); err == nil {
		if c.HydratedPath == "" {
			c.HydratedPath = hydrated
		}
		if !sawCaseStatus {
			c.Status = StatusPendingReview
			if len(lines) == 0 {
				for i := range c.Files {
					if c.Files[i].Status == FilePending {
						c.Files[i].Status = FileSuccess
					}
				}
			}
		}
	}

	return c, nil
}

// fileErrorTarget resolves an ERROR scope of the form "file:<name>" to the
// matching file result, so per-file error text rides along in the snapshot.
func fileErrorTarget(scope string, index map[string]int, files []FileResult) (*FileResult, bool) {
	const prefix = "file:"
	if len(scope) <= len(prefix) || scope[:len(prefix)] != prefix {
		return nil, false
	}
	i, ok := index[scope[len(prefix):]]
	if !ok {
		return nil, false
	}
	return &files[i], true
}
