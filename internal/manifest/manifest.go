// Package manifest implements the per-case append-only processing log.
// The manifest file is the single durable record of a case's progress: every
// status transition the engine reports is backed by a line that was written
// and fsynced here first.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// FileName is the manifest file name inside each case's output directory.
const FileName = "processing_manifest.txt"

// Kind is the first token of a manifest line.
type Kind string

const (
	KindFile       Kind = "FILE"
	KindCaseStatus Kind = "CASE_STATUS"
	KindHydrated   Kind = "HYDRATED_JSON"
	KindArtifact   Kind = "ARTIFACT"
	KindError      Kind = "ERROR"
)

// Line is one parsed manifest entry. Only the fields for the given Kind are
// populated. Score and DurationMS use -1 for "absent" (empty field on disk).
type Line struct {
	Kind Kind

	// FILE|<name>|<status>|<score_or_empty>|<duration_or_empty>
	FileName   string
	FileStatus string
	Score      int
	DurationMS int64

	// CASE_STATUS|<status>
	Status string

	// HYDRATED_JSON|<relative_path> and ARTIFACT|<kind>|<relative_path>
	Path         string
	ArtifactKind string

	// ERROR|<scope>|<message>
	Scope   string
	Message string
}

// FileLine builds a FILE entry. Pass score/durationMS as -1 to leave the
// field empty on disk.
func FileLine(name, status string, score int, durationMS int64) Line {
	return Line{Kind: KindFile, FileName: name, FileStatus: status, Score: score, DurationMS: durationMS}
}

// CaseStatusLine builds a CASE_STATUS entry.
func CaseStatusLine(status string) Line {
	return Line{Kind: KindCaseStatus, Status: status}
}

// HydratedLine builds a HYDRATED_JSON entry.
func HydratedLine(relPath string) Line {
	return Line{Kind: KindHydrated, Path: relPath}
}

// ArtifactLine builds an ARTIFACT entry.
func ArtifactLine(kind, relPath string) Line {
	return Line{Kind: KindArtifact, ArtifactKind: kind, Path: relPath}
}

// ErrorLine builds an ERROR entry.
func ErrorLine(scope, message string) Line {
	return Line{Kind: KindError, Scope: scope, Message: message}
}

// String renders the line in wire form, without the trailing newline.
func (l Line) String() string {
	switch l.Kind {
	case KindFile:
		score := ""
		if l.Score >= 0 {
			score = strconv.Itoa(l.Score)
		}
		dur := ""
		if l.DurationMS >= 0 {
			dur = strconv.FormatInt(l.DurationMS, 10)
		}
		return fmt.Sprintf("FILE|%s|%s|%s|%s", l.FileName, l.FileStatus, score, dur)
	case KindCaseStatus:
		return "CASE_STATUS|" + l.Status
	case KindHydrated:
		return "HYDRATED_JSON|" + l.Path
	case KindArtifact:
		return fmt.Sprintf("ARTIFACT|%s|%s", l.ArtifactKind, l.Path)
	case KindError:
		return fmt.Sprintf("ERROR|%s|%s", l.Scope, l.Message)
	default:
		return ""
	}
}

// validate rejects lines that would corrupt the grammar: unknown kinds, empty
// required fields, or embedded delimiters/newlines.
func (l Line) validate() error {
	fields := []string{}
	switch l.Kind {
	case KindFile:
		if l.FileName == "" || l.FileStatus == "" {
			return fmt.Errorf("FILE line requires name and status")
		}
		fields = []string{l.FileName, l.FileStatus}
	case KindCaseStatus:
		if l.Status == "" {
			return fmt.Errorf("CASE_STATUS line requires a status")
		}
		fields = []string{l.Status}
	case KindHydrated:
		if l.Path == "" {
			return fmt.Errorf("HYDRATED_JSON line requires a path")
		}
		fields = []string{l.Path}
	case KindArtifact:
		if l.ArtifactKind == "" || l.Path == "" {
			return fmt.Errorf("ARTIFACT line requires kind and path")
		}
		fields = []string{l.ArtifactKind, l.Path}
	case KindError:
		if l.Scope == "" {
			return fmt.Errorf("ERROR line requires a scope")
		}
		// The message is free text; it may not contain the field delimiter
		// because ERROR is parsed with a bounded split, but newlines would
		// still break the line framing.
		if strings.ContainsAny(l.Message, "\n\r") {
			return fmt.Errorf("ERROR message must not contain newlines")
		}
		fields = []string{l.Scope}
	default:
		return fmt.Errorf("unknown line kind %q", l.Kind)
	}
	for _, f := range fields {
		if strings.ContainsAny(f, "|\n\r") {
			return fmt.Errorf("field %q must not contain '|' or newlines", f)
		}
	}
	return nil
}

// ParseLine parses one wire-form line. Unknown kinds and malformed entries
// return an error; callers decide whether to skip or fail.
func ParseLine(raw string) (Line, error) {
	raw = strings.TrimRight(raw, "\r")
	if strings.TrimSpace(raw) == "" {
		return Line{}, fmt.Errorf("empty line")
	}
	kind, rest, _ := strings.Cut(raw, "|")
	switch Kind(kind) {
	case KindFile:
		parts := strings.SplitN(rest, "|", 4)
		if len(parts) != 4 {
			return Line{}, fmt.Errorf("FILE line has %d fields, want 4", len(parts))
		}
		l := Line{Kind: KindFile, FileName: parts[0], FileStatus: parts[1], Score: -1, DurationMS: -1}
		if l.FileName == "" || l.FileStatus == "" {
			return Line{}, fmt.Errorf("FILE line missing name or status")
		}
		if parts[2] != "" {
			score, err := strconv.Atoi(parts[2])
			if err != nil || score < 0 || score > 100 {
				return Line{}, fmt.Errorf("FILE line has invalid score %q", parts[2])
			}
			l.Score = score
		}
		if parts[3] != "" {
			dur, err := strconv.ParseInt(parts[3], 10, 64)
			if err != nil || dur < 0 {
				return Line{}, fmt.Errorf("FILE line has invalid duration %q", parts[3])
			}
			l.DurationMS = dur
		}
		return l, nil
	case KindCaseStatus:
		if rest == "" || strings.Contains(rest, "|") {
			return Line{}, fmt.Errorf("CASE_STATUS line has malformed status %q", rest)
		}
		return Line{Kind: KindCaseStatus, Status: rest}, nil
	case KindHydrated:
		if rest == "" {
			return Line{}, fmt.Errorf("HYDRATED_JSON line missing path")
		}
		return Line{Kind: KindHydrated, Path: rest}, nil
	case KindArtifact:
		akind, path, ok := strings.Cut(rest, "|")
		if !ok || akind == "" || path == "" {
			return Line{}, fmt.Errorf("ARTIFACT line missing kind or path")
		}
		return Line{Kind: KindArtifact, ArtifactKind: akind, Path: path}, nil
	case KindError:
		scope, msg, ok := strings.Cut(rest, "|")
		if !ok || scope == "" {
			return Line{}, fmt.Errorf("ERROR line missing scope or message")
		}
		return Line{Kind: KindError, Scope: scope, Message: msg}, nil
	default:
		return Line{}, fmt.Errorf("unknown line kind %q", kind)
	}
}

// Store reads and appends per-case manifests under outputRoot.
// Append durability contract: each line is written with a single write of
// "<line>\n" followed by fsync, so a crash can only lose whole lines, and a
// torn final line (no trailing newline) is discarded by readers.
type Store struct {
	outputRoot string
}

func NewStore(outputRoot string) *Store {
	return &Store{outputRoot: outputRoot}
}

// Path returns the manifest path for a case.
func (s *Store) Path(caseID string) string {
	return filepath.Join(s.outputRoot, caseID, FileName)
}

// Append writes one grammar-valid line and fsyncs the file.
func (s *Store) Append(caseID string, l Line) error {
	if err := l.validate(); err != nil {
		return fmt.Errorf("manifest append %s: %w", caseID, err)
	}
	path := s.Path(caseID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("manifest append %s: %w", caseID, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("manifest append %s: %w", caseID, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write([]byte(l.String() + "\n")); err != nil {
		return fmt.Errorf("manifest append %s: %w", caseID, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("manifest sync %s: %w", caseID, err)
	}
	return nil
}

// Read returns the parsed lines of a case manifest in order. A missing file
// yields (nil, nil). Malformed lines and unknown tokens are logged at WARN
// and skipped; a torn trailing line without a newline is ignored.
func (s *Store) Read(caseID string) ([]Line, error) {
	raw, err := s.RawLines(caseID)
	if err != nil {
		return nil, err
	}
	var lines []Line
	for i, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		l, err := ParseLine(r)
		if err != nil {
			log.WithFields(log.Fields{
				"case": caseID,
				"line": i + 1,
			}).Warnf("skipping malformed manifest line: %v", err)
			continue
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// RawLines returns the manifest's complete lines verbatim, for the debugging
// endpoint. A torn trailing line is dropped here as well.
func (s *Store) RawLines(caseID string) ([]string, error) {
	b, err := os.ReadFile(s.Path(caseID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("manifest read %s: %w", caseID, err)
	}
	if len(b) == 0 {
		return nil, nil
	}
	content := string(b)
	complete := strings.HasSuffix(content, "\n")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if !complete {
		// Crash mid-write: the final line never got its newline. Treat the
		// manifest as truncated at the prior newline.
		log.WithField("case", caseID).Warn("manifest ends without newline; dropping torn final line")
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}

// Rewrite atomically replaces the whole manifest. Normal operation is strictly
// append-only; this exists solely for the one-shot legacy format migration at
// startup.
func (s *Store) Rewrite(caseID string, lines []Line) error {
	var sb strings.Builder
	for _, l := range lines {
		if err := l.validate(); err != nil {
			return fmt.Errorf("manifest rewrite %s: %w", caseID, err)
		}
		sb.WriteString(l.String())
		sb.WriteByte('\n')
	}
	path := s.Path(caseID)
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("manifest rewrite %s: %w", caseID, err)
	}
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("manifest rewrite %s: %w", caseID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("manifest rewrite %s: %w", caseID, err)
	}
	return nil
}

// MigrateLegacy detects the pre-engine manifest format (bare
// "<name>|<status>[|<score>]" rows with no grammar prefix) and rewrites it
// into the current grammar. Returns true when a migration was performed.
func (s *Store) MigrateLegacy(caseID string) (bool, error) {
	raw, err := s.RawLines(caseID)
	if err != nil || len(raw) == 0 {
		return false, err
	}
	for _, r := range raw {
		kind, _, _ := strings.Cut(r, "|")
		switch Kind(kind) {
		case KindFile, KindCaseStatus, KindHydrated, KindArtifact, KindError:
			// Any current-grammar line means this manifest is not legacy.
			return false, nil
		}
	}

	var migrated []Line
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		parts := strings.SplitN(r, "|", 3)
		if len(parts) < 2 {
			log.WithField("case", caseID).Warnf("legacy manifest row %q is unparseable; dropping", r)
			continue
		}
		status := ""
		switch strings.ToLower(strings.TrimSpace(parts[1])) {
		case "success", "done", "ok":
			status = "SUCCESS"
		case "failed", "error":
			status = "FAILED"
		default:
			log.WithField("case", caseID).Warnf("legacy manifest row %q has unknown status; dropping", r)
			continue
		}
		score := -1
		if len(parts) == 3 {
			if v, err := strconv.Atoi(strings.TrimSpace(parts[2])); err == nil && v >= 0 && v <= 100 {
				score = v
			}
		}
		migrated = append(migrated, FileLine(strings.TrimSpace(parts[0]), status, score, -1))
	}
	if len(migrated) == 0 {
		return false, nil
	}
	if err := s.Rewrite(caseID, migrated); err != nil {
		return false, err
	}
	log.WithFields(log.Fields{
		"case":  caseID,
		"lines": len(migrated),
	}).Info("migrated legacy manifest")
	return true, nil
}
