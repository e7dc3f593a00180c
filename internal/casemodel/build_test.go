package casemodel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adestefa/satori-tm-legal-system-sub004/internal/manifest"
)

type fixture struct {
	inputRoot  string
	outputRoot string
	store      *manifest.Store
	builder    *Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	inputRoot := t.TempDir()
	outputRoot := t.TempDir()
	store := manifest.NewStore(outputRoot)
	return &fixture{
		inputRoot:  inputRoot,
		outputRoot: outputRoot,
		store:      store,
		builder:    NewBuilder(inputRoot, outputRoot, store, []string{".*", "~$*"}),
	}
}

func (fx *fixture) addCase(t *testing.T, id string, files ...string) {
	t.Helper()
	dir := filepath.Join(fx.inputRoot, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("content of "+f), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func (fx *fixture) addOutputDir(t *testing.T, id string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(fx.outputRoot, id), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestBuild_NewCaseWithoutOutputDir(t *testing.T) {
	fx := newFixture(t)
	fx.addCase(t, "alpha", "complaint.pdf", "notes.docx")

	c, err := fx.builder.Get("alpha")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Status != StatusNew {
		t.Fatalf("expected NEW, got %s", c.Status)
	}
	if len(c.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(c.Files))
	}
	for _, f := range c.Files {
		if f.Status != FilePending {
			t.Fatalf("expected PENDING, got %s for %s", f.Status, f.Name)
		}
	}
}

func TestBuild_EmptyCase(t *testing.T) {
	fx := newFixture(t)
	fx.addCase(t, "empty")

	c, err := fx.builder.Get("empty")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusNew || len(c.Files) != 0 {
		t.Fatalf("expected NEW with no files, got %s / %d files", c.Status, len(c.Files))
	}
}

func TestBuild_FoldsManifest(t *testing.T) {
	fx := newFixture(t)
	fx.addCase(t, "alpha", "complaint.pdf", "notes.docx")

	for _, l := range []manifest.Line{
		manifest.CaseStatusLine("PROCESSING"),
		manifest.FileLine("complaint.pdf", "IN_PROGRESS", -1, -1),
		manifest.FileLine("complaint.pdf", "SUCCESS", 92, 1500),
		manifest.FileLine("notes.docx", "IN_PROGRESS", -1, -1),
		manifest.FileLine("notes.docx", "FAILED", -1, 900),
		manifest.ErrorLine("file:notes.docx", "extractor crashed"),
		manifest.HydratedLine("hydrated.json"),
		manifest.CaseStatusLine("PENDING_REVIEW"),
	} {
		if err := fx.store.Append("alpha", l); err != nil {
			t.Fatal(err)
		}
	}

	c, err := fx.builder.Get("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusPendingReview {
		t.Fatalf("expected PENDING_REVIEW, got %s", c.Status)
	}
	byName := map[string]FileResult{}
	for _, f := range c.Files {
		byName[f.Name] = f
	}
	cp := byName["complaint.pdf"]
	if cp.Status != FileSuccess || cp.Score == nil || *cp.Score != 92 || cp.DurationMS == nil || *cp.DurationMS != 1500 {
		t.Fatalf("unexpected complaint.pdf result: %+v", cp)
	}
	nd := byName["notes.docx"]
	if nd.Status != FileFailed || nd.Error != "extractor crashed" {
		t.Fatalf("unexpected notes.docx result: %+v", nd)
	}
	if c.HydratedPath != filepath.Join(fx.outputRoot, "alpha", "hydrated.json") {
		t.Fatalf("unexpected hydrated path: %s", c.HydratedPath)
	}
	agg := c.QualityAggregate()
	if agg == nil || *agg != 92 {
		t.Fatalf("unexpected quality aggregate: %v", agg)
	}
}

func TestBuild_LastWriteWinsOnConflict(t *testing.T) {
	fx := newFixture(t)
	fx.addCase(t, "alpha", "doc.pdf")

	for _, l := range []manifest.Line{
		manifest.CaseStatusLine("PROCESSING"),
		manifest.FileLine("doc.pdf", "FAILED", -1, 300),
		manifest.FileLine("doc.pdf", "SUCCESS", 75, 450), // retry succeeded
		manifest.CaseStatusLine("PENDING_REVIEW"),
	} {
		if err := fx.store.Append("alpha", l); err != nil {
			t.Fatal(err)
		}
	}

	c, err := fx.builder.Get("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if c.Files[0].Status != FileSuccess || *c.Files[0].Score != 75 {
		t.Fatalf("expected last write to win, got %+v", c.Files[0])
	}
}

func TestBuild_UnknownCaseStatusIgnored(t *testing.T) {
	fx := newFixture(t)
	fx.addCase(t, "alpha", "doc.pdf")

	for _, l := range []manifest.Line{
		manifest.CaseStatusLine("PROCESSING"),
		manifest.CaseStatusLine("HALF_DONE"), // not a known token
	} {
		if err := fx.store.Append("alpha", l); err != nil {
			t.Fatal(err)
		}
	}

	c, err := fx.builder.Get("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusProcessing {
		t.Fatalf("unknown token must not change status; got %s", c.Status)
	}
}

func TestBuild_ManifestEntryForDeletedFile(t *testing.T) {
	fx := newFixture(t)
	fx.addCase(t, "alpha", "kept.pdf")

	for _, l := range []manifest.Line{
		manifest.CaseStatusLine("PROCESSING"),
		manifest.FileLine("gone.pdf", "SUCCESS", 88, 120),
		manifest.FileLine("kept.pdf", "SUCCESS", 90, 100),
		manifest.CaseStatusLine("PENDING_REVIEW"),
	} {
		if err := fx.store.Append("alpha", l); err != nil {
			t.Fatal(err)
		}
	}

	c, err := fx.builder.Get("alpha")
	if err != nil {
		t.Fatal(err)
	}
	var gone *FileResult
	for i := range c.Files {
		if c.Files[i].Name == "gone.pdf" {
			gone = &c.Files[i]
		}
	}
	if gone == nil {
		t.Fatal("deleted file should remain in the result list")
	}
	if gone.Status != FileMissing {
		t.Fatalf("expected MISSING, got %s", gone.Status)
	}
	if gone.Score == nil || *gone.Score != 88 {
		t.Fatalf("history score should survive: %+v", gone)
	}
}

func TestBuild_HydratedWithoutCaseStatus(t *testing.T) {
	fx := newFixture(t)
	fx.addCase(t, "alpha", "doc.pdf")
	fx.addOutputDir(t, "alpha")

	// Manifest has FILE lines but no CASE_STATUS; hydrated.json exists.
	if err := fx.store.Append("alpha", manifest.FileLine("doc.pdf", "SUCCESS", 80, 100)); err != nil {
		t.Fatal(err)
	}
	hyd := filepath.Join(fx.outputRoot, "alpha", "hydrated.json")
	if err := os.WriteFile(hyd, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := fx.builder.Get("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusPendingReview {
		t.Fatalf("expected inferred PENDING_REVIEW, got %s", c.Status)
	}
	if c.HydratedPath != hyd {
		t.Fatalf("unexpected hydrated path: %s", c.HydratedPath)
	}
}

func TestBuild_LegacyCaseWithoutManifest(t *testing.T) {
	fx := newFixture(t)
	fx.addCase(t, "alpha", "a.pdf", "b.pdf")
	fx.addOutputDir(t, "alpha")
	if err := os.WriteFile(filepath.Join(fx.outputRoot, "alpha", "hydrated.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := fx.builder.Get("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != StatusPendingReview {
		t.Fatalf("expected PENDING_REVIEW for legacy case, got %s", c.Status)
	}
	for _, f := range c.Files {
		if f.Status != FileSuccess {
			t.Fatalf("legacy case files should read SUCCESS, got %s for %s", f.Status, f.Name)
		}
	}
}

func TestInputFiles_OrderingAndFiltering(t *testing.T) {
	fx := newFixture(t)
	fx.addCase(t, "alpha", "b.pdf", "a.docx", "z.txt", "image.png", ".DS_Store", "~$draft.docx")

	names, err := fx.builder.InputFiles("alpha")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.docx", "b.pdf", "z.txt"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}

func TestList_OrderedAndSkipsUnsafeNames(t *testing.T) {
	fx := newFixture(t)
	fx.addCase(t, "beta", "x.pdf")
	fx.addCase(t, "alpha", "y.pdf")
	// Unsafe directory name: contains a space.
	if err := os.MkdirAll(filepath.Join(fx.inputRoot, "bad name"), 0o755); err != nil {
		t.Fatal(err)
	}

	cases, err := fx.builder.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(cases) != 2 || cases[0].ID != "alpha" || cases[1].ID != "beta" {
		ids := []string{}
		for _, c := range cases {
			ids = append(ids, c.ID)
		}
		t.Fatalf("unexpected case list: %v", ids)
	}
}

func TestGet_NotFound(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.builder.Get("ghost"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestErrorSummary(t *testing.T) {
	c := &Case{Errors: []CaseError{
		{Scope: "file:notes.docx", Message: "boom"},
		{Scope: "consolidation", Message: "merge failed"},
	}}
	got := c.ErrorSummary()
	want := "file:notes.docx: boom; consolidation: merge failed"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
